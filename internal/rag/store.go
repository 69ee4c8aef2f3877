package rag

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/vivacli/viva/internal/utils"
)

const (
	defaultEmbedTimeout = 10 * time.Second
	defaultMaxAttempts  = 3
)

var errEmptyEmbedding = errors.New("embedder returned no vector")

// Embedder produces one fixed-length vector per input text.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// BuildConfig bundles everything Build needs besides the documents.
type BuildConfig struct {
	Chunking ChunkParams
	// EmbedTimeout bounds a single embedding call.
	EmbedTimeout time.Duration
	// MaxAttempts bounds embedding retries per chunk.
	MaxAttempts int
	Backoff     utils.Backoff
	// Index receives the embedded chunks. Nil selects the in-memory index.
	Index Index
}

func (c BuildConfig) withDefaults() BuildConfig {
	if c.EmbedTimeout <= 0 {
		c.EmbedTimeout = defaultEmbedTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.Index == nil {
		c.Index = NewMemoryIndex()
	}
	return c
}

// Store is a read-only retrieval store over the chunks of a document set.
// A store is safe for concurrent queries once Build returns.
type Store struct {
	fingerprint string
	ordered     []Chunk
	byID        map[string]Chunk
	index       Index
	embedder    Embedder
	cfg         BuildConfig
	logger      *zap.Logger
	degraded    int
}

// Build chunks the documents, embeds every chunk and indexes the result.
// Embedding failures are retried with backoff; a chunk whose retries are
// exhausted is indexed with a zero-similarity sentinel so the build never
// aborts on a flaky backend. Invalid chunking parameters are the only
// build-time error.
func Build(ctx context.Context, docs []Document, embedder Embedder, cfg BuildConfig, log *zap.Logger) (*Store, error) {
	cfg = cfg.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}

	if err := cfg.Chunking.Validate(); err != nil {
		return nil, err
	}

	store := &Store{
		fingerprint: Fingerprint(docs, cfg.Chunking),
		byID:        make(map[string]Chunk),
		index:       cfg.Index,
		embedder:    embedder,
		cfg:         cfg,
		logger:      log,
	}

	for ordinal, doc := range docs {
		chunks, err := Split(doc, ordinal, cfg.Chunking)
		if err != nil {
			return nil, err
		}

		for _, chunk := range chunks {
			embedding, err := store.embed(ctx, chunk.Text)
			if err != nil {
				store.degraded++
				log.Warn("embedding failed, indexing chunk with sentinel",
					zap.String("chunk_id", chunk.ID),
					zap.String("document", chunk.DocumentSource),
					zap.Error(err),
				)
			} else {
				chunk.Embedding = embedding
			}

			store.ordered = append(store.ordered, chunk)
			store.byID[chunk.ID] = chunk
		}
	}

	if err := store.index.Add(ctx, store.ordered); err != nil {
		return nil, err
	}

	log.Info("context store built",
		zap.String("fingerprint", utils.TruncateForLog(store.fingerprint, 12)),
		zap.Int("documents", len(docs)),
		zap.Int("chunks", len(store.ordered)),
		zap.Int("degraded", store.degraded),
	)

	return store, nil
}

// TopK returns the k chunks most similar to the query text, best match
// first. An empty store yields an empty result. When the query cannot be
// embedded the ranking degrades to document order instead of failing.
func (s *Store) TopK(ctx context.Context, text string, k int) ([]Chunk, error) {
	if s == nil || len(s.ordered) == 0 || k <= 0 {
		return nil, nil
	}

	query, err := s.embed(ctx, text)
	if err != nil {
		s.logger.Warn("query embedding failed, falling back to document order", zap.Error(err))
		query = nil
	}

	hits, err := s.index.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}

	chunks := make([]Chunk, 0, len(hits))
	for _, hit := range hits {
		if chunk, ok := s.byID[hit.ChunkID]; ok {
			chunks = append(chunks, chunk)
		}
	}
	return chunks, nil
}

// ChunkByID resolves a chunk by its stable identifier.
func (s *Store) ChunkByID(id string) (Chunk, bool) {
	if s == nil {
		return Chunk{}, false
	}
	chunk, ok := s.byID[id]
	return chunk, ok
}

// Chunks returns every chunk in document order. The caller must not mutate
// the result.
func (s *Store) Chunks() []Chunk {
	if s == nil {
		return nil
	}
	return s.ordered
}

// Len returns the number of indexed chunks.
func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	return len(s.ordered)
}

// Fingerprint identifies the document set and chunking this store was built
// from.
func (s *Store) Fingerprint() string {
	if s == nil {
		return ""
	}
	return s.fingerprint
}

// Degraded returns how many chunks carry sentinel embeddings.
func (s *Store) Degraded() int {
	if s == nil {
		return 0
	}
	return s.degraded
}

func (s *Store) embed(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := utils.WaitFor(ctx, s.cfg.Backoff.Delay(attempt-1)); err != nil {
				return nil, err
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, s.cfg.EmbedTimeout)
		vectors, err := s.embedder.EmbedTexts(callCtx, []string{text})
		cancel()
		if err != nil {
			lastErr = err
			continue
		}
		if len(vectors) != 1 || len(vectors[0]) == 0 {
			lastErr = errEmptyEmbedding
			continue
		}
		return vectors[0], nil
	}
	return nil, lastErr
}
