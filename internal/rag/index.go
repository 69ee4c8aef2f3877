package rag

import (
	"context"
	"math"
	"sort"
)

// Hit is a single nearest-neighbour result.
type Hit struct {
	ChunkID string
	Score   float64
}

// Index answers nearest-neighbour queries over chunk embeddings. Ties are
// broken by lower start offset, then by document order, so results stay
// deterministic even when every score collapses to zero.
type Index interface {
	Add(ctx context.Context, chunks []Chunk) error
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)
}

type indexEntry struct {
	id          string
	embedding   []float32
	startOffset int
	docOrdinal  int
}

// memoryIndex holds every embedding in process memory and scans linearly.
// Stores are small (two documents per interview) so exact search is fine.
type memoryIndex struct {
	entries []indexEntry
}

// NewMemoryIndex returns an exact in-memory index.
func NewMemoryIndex() Index {
	return &memoryIndex{}
}

func (m *memoryIndex) Add(_ context.Context, chunks []Chunk) error {
	for _, chunk := range chunks {
		m.entries = append(m.entries, indexEntry{
			id:          chunk.ID,
			embedding:   chunk.Embedding,
			startOffset: chunk.StartOffset,
			docOrdinal:  chunk.DocOrdinal,
		})
	}
	return nil
}

func (m *memoryIndex) Search(_ context.Context, query []float32, k int) ([]Hit, error) {
	if k <= 0 || len(m.entries) == 0 {
		return nil, nil
	}

	type scoredEntry struct {
		indexEntry
		score float64
	}

	scored := make([]scoredEntry, 0, len(m.entries))
	for _, entry := range m.entries {
		scored = append(scored, scoredEntry{indexEntry: entry, score: cosine(query, entry.embedding)})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		if scored[i].startOffset != scored[j].startOffset {
			return scored[i].startOffset < scored[j].startOffset
		}
		return scored[i].docOrdinal < scored[j].docOrdinal
	})

	if len(scored) > k {
		scored = scored[:k]
	}

	hits := make([]Hit, 0, len(scored))
	for _, entry := range scored {
		hits = append(hits, Hit{ChunkID: entry.id, Score: entry.score})
	}
	return hits, nil
}

// cosine returns the cosine similarity of two vectors. Mismatched or empty
// vectors score zero, which is what sentinel embeddings rely on.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
