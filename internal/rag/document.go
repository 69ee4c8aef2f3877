// Package rag builds and queries the retrieval store that grounds question
// drafting and answer scoring in the candidate's own documents.
package rag

import (
	"crypto/sha256"
	"fmt"
	"io"
)

// Kind names the role a source document plays in an interview.
type Kind string

const (
	KindResume         Kind = "resume"
	KindJobDescription Kind = "job_description"
)

// Document is an immutable source text. Source carries a human-readable
// origin, usually the file name.
type Document struct {
	Kind   Kind   `json:"kind"`
	Source string `json:"source"`
	Text   string `json:"text"`
}

// Chunk is a contiguous rune window of a document plus its embedding.
// Offsets and lengths are measured in runes, not bytes.
type Chunk struct {
	ID             string    `json:"id"`
	DocumentKind   Kind      `json:"document_kind"`
	DocumentSource string    `json:"document_source"`
	DocOrdinal     int       `json:"doc_ordinal"`
	StartOffset    int       `json:"start_offset"`
	Length         int       `json:"length"`
	Text           string    `json:"text"`
	Embedding      []float32 `json:"embedding,omitempty"`
}

// Sentinel reports whether the chunk carries a zero-similarity placeholder
// instead of a real embedding.
func (c Chunk) Sentinel() bool {
	return len(c.Embedding) == 0
}

// chunkID derives a stable identifier from the chunk's position so a store
// rebuilt from the same documents resolves the same ids.
func chunkID(source string, ordinal, start, length int) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%d|%d|%d", source, ordinal, start, length))
	return fmt.Sprintf("chunk-%x", sum[:8])
}

// Fingerprint identifies a store by its documents and chunking parameters.
// Stores built from identical inputs share a fingerprint and can be reused
// across sessions.
func Fingerprint(docs []Document, p ChunkParams) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%d|", p.Size, p.Overlap)
	for _, doc := range docs {
		fmt.Fprintf(h, "%s|%s|%d|", doc.Kind, doc.Source, len(doc.Text))
		io.WriteString(h, doc.Text)
		io.WriteString(h, "\x00")
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
