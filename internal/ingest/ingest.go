// Package ingest loads interview source documents from disk, extracting text
// from PDFs and reading everything else as plain text.
package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	fitz "github.com/gen2brain/go-fitz"

	"github.com/vivacli/viva/internal/rag"
)

// Read loads the file at path as a document of the given kind. PDF and EPUB
// files go through the MuPDF extractor, anything else is treated as UTF-8
// text. Empty documents are rejected because they cannot ground an interview.
func Read(path string, kind rag.Kind) (rag.Document, error) {
	var text string
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf", ".epub":
		text, err = extractText(path)
	default:
		text, err = readPlain(path)
	}
	if err != nil {
		return rag.Document{}, err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return rag.Document{}, fmt.Errorf("document %s contains no text", path)
	}

	return rag.Document{
		Kind:   kind,
		Source: filepath.Base(path),
		Text:   text,
	}, nil
}

func readPlain(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}
	return string(data), nil
}

func extractText(path string) (string, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer doc.Close()

	var pages []string
	for i := 0; i < doc.NumPage(); i++ {
		text, err := doc.Text(i)
		if err != nil {
			return "", fmt.Errorf("extract page %d of %s: %w", i+1, filepath.Base(path), err)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, text)
	}

	return strings.Join(pages, "\n\n"), nil
}
