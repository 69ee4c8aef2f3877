package rag

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"
)

type scriptedEmbedder struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, texts []string) ([][]float32, error)
}

func (s *scriptedEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.fn(s.calls, texts)
}

func (s *scriptedEmbedder) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func constantVectors(vec []float32) func(int, []string) ([][]float32, error) {
	return func(_ int, texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = vec
		}
		return out, nil
	}
}

func testDocs() []Document {
	return []Document{
		{Kind: KindResume, Source: "resume.txt", Text: "Go developer with ten years of backend experience"},
		{Kind: KindJobDescription, Source: "job.txt", Text: "Looking for a senior Go engineer"},
	}
}

func TestBuildRetriesEmbeddingThenSucceeds(t *testing.T) {
	t.Parallel()

	embedder := &scriptedEmbedder{fn: func(call int, texts []string) ([][]float32, error) {
		if call == 1 {
			return nil, errors.New("transient embed failure")
		}
		return constantVectors([]float32{1, 0})(call, texts)
	}}

	store, err := Build(context.Background(), testDocs(), embedder, BuildConfig{
		Chunking: ChunkParams{Size: 100, Overlap: 10},
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if store.Degraded() != 0 {
		t.Fatalf("expected no degraded chunks, got %d", store.Degraded())
	}
	for _, chunk := range store.Chunks() {
		if chunk.Sentinel() {
			t.Fatalf("chunk %s unexpectedly degraded", chunk.ID)
		}
	}
	if embedder.callCount() < 3 {
		t.Fatalf("expected a retry plus one call per chunk, got %d calls", embedder.callCount())
	}
}

func TestBuildIndexesSentinelWhenRetriesExhausted(t *testing.T) {
	t.Parallel()

	embedder := &scriptedEmbedder{fn: func(int, []string) ([][]float32, error) {
		return nil, errors.New("embedding backend down")
	}}

	store, err := Build(context.Background(), testDocs(), embedder, BuildConfig{
		Chunking:    ChunkParams{Size: 100, Overlap: 10},
		MaxAttempts: 2,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("build must not abort on embedding failures, got %v", err)
	}

	if store.Len() == 0 {
		t.Fatal("expected chunks despite embedding failures")
	}
	if store.Degraded() != store.Len() {
		t.Fatalf("expected all %d chunks degraded, got %d", store.Len(), store.Degraded())
	}
	for _, chunk := range store.Chunks() {
		if !chunk.Sentinel() {
			t.Fatalf("chunk %s should carry a sentinel embedding", chunk.ID)
		}
	}
}

func TestQueryReturnsSourceOrderWhenFullyDegraded(t *testing.T) {
	t.Parallel()

	embedder := &scriptedEmbedder{fn: func(int, []string) ([][]float32, error) {
		return nil, errors.New("embedding backend down")
	}}

	store, err := Build(context.Background(), testDocs(), embedder, BuildConfig{
		Chunking:    ChunkParams{Size: 100, Overlap: 10},
		MaxAttempts: 1,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	chunks, err := store.TopK(context.Background(), "anything", 10)
	if err != nil {
		t.Fatalf("query must not fail on a degraded store, got %v", err)
	}
	if len(chunks) != store.Len() {
		t.Fatalf("expected %d chunks, got %d", store.Len(), len(chunks))
	}

	// Each document fits a single window, so ties resolve to document order.
	if chunks[0].DocumentKind != KindResume || chunks[1].DocumentKind != KindJobDescription {
		t.Fatalf("expected source order, got %s then %s", chunks[0].DocumentKind, chunks[1].DocumentKind)
	}
}

func TestTopKRanksBySimilarity(t *testing.T) {
	t.Parallel()

	// The resume chunk gets a vector aligned with the query, the job chunk an
	// orthogonal one.
	embedder := &scriptedEmbedder{fn: func(call int, texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i, text := range texts {
			if text == "query" || len(text) > 40 {
				out[i] = []float32{1, 0}
				continue
			}
			out[i] = []float32{0, 1}
		}
		return out, nil
	}}

	store, err := Build(context.Background(), testDocs(), embedder, BuildConfig{
		Chunking: ChunkParams{Size: 100, Overlap: 10},
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	chunks, err := store.TopK(context.Background(), "query", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].DocumentKind != KindResume {
		t.Fatalf("expected the resume chunk to rank first, got %s", chunks[0].DocumentKind)
	}
}

func TestTopKEmptyStoreReturnsEmpty(t *testing.T) {
	t.Parallel()

	embedder := &scriptedEmbedder{fn: constantVectors([]float32{1})}
	store, err := Build(context.Background(), nil, embedder, BuildConfig{
		Chunking: ChunkParams{Size: 10, Overlap: 0},
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	chunks, err := store.TopK(context.Background(), "anything", 5)
	if err != nil {
		t.Fatalf("empty store query must not error, got %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("expected empty result, got %d chunks", len(chunks))
	}
}

func TestTopKFallsBackWhenQueryEmbeddingFails(t *testing.T) {
	t.Parallel()

	failAfterBuild := false
	var mu sync.Mutex
	embedder := &scriptedEmbedder{}
	embedder.fn = func(call int, texts []string) ([][]float32, error) {
		mu.Lock()
		failing := failAfterBuild
		mu.Unlock()
		if failing {
			return nil, errors.New("embedding backend down")
		}
		return constantVectors([]float32{1, 0})(call, texts)
	}

	store, err := Build(context.Background(), testDocs(), embedder, BuildConfig{
		Chunking:    ChunkParams{Size: 100, Overlap: 10},
		MaxAttempts: 1,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mu.Lock()
	failAfterBuild = true
	mu.Unlock()

	chunks, err := store.TopK(context.Background(), "anything", 2)
	if err != nil {
		t.Fatalf("query embedding failure must degrade, not error, got %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].DocumentKind != KindResume {
		t.Fatalf("expected document-order fallback, got %s first", chunks[0].DocumentKind)
	}
}

func TestBuildRejectsInvalidChunking(t *testing.T) {
	t.Parallel()

	embedder := &scriptedEmbedder{fn: constantVectors([]float32{1})}
	_, err := Build(context.Background(), testDocs(), embedder, BuildConfig{
		Chunking: ChunkParams{Size: 10, Overlap: 10},
	}, zap.NewNop())
	if !errors.Is(err, ErrInvalidChunking) {
		t.Fatalf("expected ErrInvalidChunking, got %v", err)
	}
}

func TestRebuildResolvesSameChunkIDs(t *testing.T) {
	t.Parallel()

	embedder := &scriptedEmbedder{fn: constantVectors([]float32{1, 0})}
	cfg := BuildConfig{Chunking: ChunkParams{Size: 20, Overlap: 5}}

	first, err := Build(context.Background(), testDocs(), embedder, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Build(context.Background(), testDocs(), embedder, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first.Fingerprint() != second.Fingerprint() {
		t.Fatal("expected identical fingerprints for identical inputs")
	}
	for _, chunk := range first.Chunks() {
		if _, ok := second.ChunkByID(chunk.ID); !ok {
			t.Fatalf("chunk %s not resolvable in rebuilt store", chunk.ID)
		}
	}
}

func TestFingerprintChangesWithParams(t *testing.T) {
	t.Parallel()

	docs := testDocs()
	a := Fingerprint(docs, ChunkParams{Size: 100, Overlap: 10})
	b := Fingerprint(docs, ChunkParams{Size: 100, Overlap: 20})
	if a == b {
		t.Fatal("expected fingerprint to depend on chunking parameters")
	}

	changed := testDocs()
	changed[0].Text += " extended"
	c := Fingerprint(changed, ChunkParams{Size: 100, Overlap: 10})
	if a == c {
		t.Fatal("expected fingerprint to depend on document content")
	}
}

func TestCacheSharesStoresByFingerprint(t *testing.T) {
	t.Parallel()

	embedder := &scriptedEmbedder{fn: constantVectors([]float32{1, 0})}
	store, err := Build(context.Background(), testDocs(), embedder, BuildConfig{
		Chunking: ChunkParams{Size: 100, Overlap: 10},
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cache := NewCache()
	if got := cache.Add(store); got != store {
		t.Fatal("expected Add to return the stored instance")
	}

	other, err := Build(context.Background(), testDocs(), embedder, BuildConfig{
		Chunking: ChunkParams{Size: 100, Overlap: 10},
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := cache.Add(other); got != store {
		t.Fatal("expected the first cached store to win")
	}

	cached, ok := cache.Get(store.Fingerprint())
	if !ok || cached != store {
		t.Fatal("expected cache hit for the fingerprint")
	}
}
