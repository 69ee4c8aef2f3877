// Package llm defines the provider-neutral surface for talking to language
// models, plus helpers for parsing the loosely structured responses they
// return.
package llm

import "context"

// Options control a single completion request. Zero values fall back to the
// client's configured defaults.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Client is implemented by model providers. Complete returns the raw text of a
// single completion. EmbedTexts returns one vector per input text, in input
// order.
type Client interface {
	Complete(ctx context.Context, prompt string, opts Options) (string, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}
