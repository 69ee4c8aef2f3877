package rag

import (
	"errors"
	"strings"
	"testing"
)

func TestSplitProducesOverlappingWindows(t *testing.T) {
	t.Parallel()

	doc := Document{Kind: KindResume, Source: "resume.txt", Text: "abcdefghij"}
	chunks, err := Split(doc, 0, ChunkParams{Size: 5, Overlap: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []struct {
		text   string
		start  int
		length int
	}{
		{"abcde", 0, 5},
		{"defgh", 3, 5},
		{"ghij", 6, 4},
	}

	if len(chunks) != len(want) {
		t.Fatalf("expected %d chunks, got %d", len(want), len(chunks))
	}
	for i, w := range want {
		if chunks[i].Text != w.text {
			t.Fatalf("chunk %d: expected text %q, got %q", i, w.text, chunks[i].Text)
		}
		if chunks[i].StartOffset != w.start || chunks[i].Length != w.length {
			t.Fatalf("chunk %d: expected span (%d,%d), got (%d,%d)",
				i, w.start, w.length, chunks[i].StartOffset, chunks[i].Length)
		}
	}
}

func TestSplitReassemblesLosslessly(t *testing.T) {
	t.Parallel()

	texts := []string{
		"short",
		"the quick brown fox jumps over the lazy dog multiple times in a row",
		"héllo wörld with ünïcode runes and ещё немного текста",
	}
	params := ChunkParams{Size: 11, Overlap: 4}

	for _, text := range texts {
		chunks, err := Split(Document{Kind: KindResume, Source: "doc", Text: text}, 0, params)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		var rebuilt strings.Builder
		for i, chunk := range chunks {
			runes := []rune(chunk.Text)
			if i == 0 {
				rebuilt.WriteString(chunk.Text)
				continue
			}
			rebuilt.WriteString(string(runes[params.Overlap:]))
		}

		if rebuilt.String() != text {
			t.Fatalf("reassembly mismatch: expected %q, got %q", text, rebuilt.String())
		}
	}
}

func TestSplitCountsRunesNotBytes(t *testing.T) {
	t.Parallel()

	text := "héllo wörld"
	chunks, err := Split(Document{Kind: KindResume, Source: "doc", Text: text}, 0, ChunkParams{Size: 4, Overlap: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	runes := []rune(text)
	for _, chunk := range chunks {
		end := chunk.StartOffset + chunk.Length
		if got := string(runes[chunk.StartOffset:end]); got != chunk.Text {
			t.Fatalf("chunk at %d: expected %q, got %q", chunk.StartOffset, got, chunk.Text)
		}
	}
}

func TestSplitSingleShortDocument(t *testing.T) {
	t.Parallel()

	chunks, err := Split(Document{Kind: KindResume, Source: "doc", Text: "tiny"}, 0, ChunkParams{Size: 100, Overlap: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 1 || chunks[0].Text != "tiny" || chunks[0].Length != 4 {
		t.Fatalf("expected a single short chunk, got %+v", chunks)
	}
}

func TestSplitEmptyDocument(t *testing.T) {
	t.Parallel()

	chunks, err := Split(Document{Kind: KindResume, Source: "doc"}, 0, ChunkParams{Size: 10, Overlap: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("expected no chunks, got %d", len(chunks))
	}
}

func TestSplitRejectsInvalidParams(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		params ChunkParams
	}{
		{"zero size", ChunkParams{Size: 0, Overlap: 0}},
		{"negative overlap", ChunkParams{Size: 10, Overlap: -1}},
		{"overlap equals size", ChunkParams{Size: 10, Overlap: 10}},
		{"overlap exceeds size", ChunkParams{Size: 10, Overlap: 11}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Split(Document{Text: "content"}, 0, tt.params)
			if !errors.Is(err, ErrInvalidChunking) {
				t.Fatalf("expected ErrInvalidChunking, got %v", err)
			}
		})
	}
}

func TestSplitChunkIDsAreStable(t *testing.T) {
	t.Parallel()

	doc := Document{Kind: KindResume, Source: "resume.txt", Text: "some stable content for identifiers"}
	params := ChunkParams{Size: 10, Overlap: 3}

	first, err := Split(doc, 0, params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Split(doc, 0, params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("expected equal chunk counts, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("chunk %d: ids differ between runs: %q vs %q", i, first[i].ID, second[i].ID)
		}
		if first[i].ID == "" {
			t.Fatalf("chunk %d: empty id", i)
		}
	}
}
