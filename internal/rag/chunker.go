package rag

import (
	"errors"
	"fmt"
)

// ErrInvalidChunking marks chunking parameters that cannot produce a valid
// window sequence.
var ErrInvalidChunking = errors.New("invalid chunking parameters")

// ChunkParams control how documents are cut into overlapping windows.
type ChunkParams struct {
	// Size is the window length in runes.
	Size int `json:"size"`
	// Overlap is how many runes consecutive windows share.
	Overlap int `json:"overlap"`
}

// Validate rejects parameter combinations that would stall or reverse the
// window walk.
func (p ChunkParams) Validate() error {
	if p.Size <= 0 {
		return fmt.Errorf("%w: size %d must be positive", ErrInvalidChunking, p.Size)
	}
	if p.Overlap < 0 {
		return fmt.Errorf("%w: overlap %d must not be negative", ErrInvalidChunking, p.Overlap)
	}
	if p.Overlap >= p.Size {
		return fmt.Errorf("%w: overlap %d must be smaller than size %d", ErrInvalidChunking, p.Overlap, p.Size)
	}
	return nil
}

// Split cuts a document into overlapping rune windows. Every rune of the
// input appears in at least one chunk and the final chunk may be shorter than
// the configured size. An empty document yields no chunks.
func Split(doc Document, ordinal int, p ChunkParams) ([]Chunk, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	runes := []rune(doc.Text)
	if len(runes) == 0 {
		return nil, nil
	}

	step := p.Size - p.Overlap
	chunks := make([]Chunk, 0, len(runes)/step+1)
	for start := 0; start < len(runes); start += step {
		end := start + p.Size
		if end > len(runes) {
			end = len(runes)
		}

		chunks = append(chunks, Chunk{
			ID:             chunkID(doc.Source, ordinal, start, end-start),
			DocumentKind:   doc.Kind,
			DocumentSource: doc.Source,
			DocOrdinal:     ordinal,
			StartOffset:    start,
			Length:         end - start,
			Text:           string(runes[start:end]),
		})

		if end == len(runes) {
			break
		}
	}

	return chunks, nil
}
