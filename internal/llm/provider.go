package llm

import "context"

// Provider is the interface every model backend must implement. docqa uses
// the same provider for both sides of the pipeline: Embed at ingestion and
// query time, Complete for grounded answer synthesis.
type Provider interface {
	// Complete sends a prompt and returns a completion.
	Complete(ctx context.Context, prompt *Prompt, opts *RequestOptions) (*Response, error)
	// Embed returns one embedding vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Name returns the provider identifier (e.g. "groq", "openai").
	Name() string
}

// RequestOptions tune a single completion call. Nil fields fall back to the
// backend defaults.
type RequestOptions struct {
	MaxTokens   *int
	Temperature *float64
	TopP        *float64
	StopSeqs    []string
}
