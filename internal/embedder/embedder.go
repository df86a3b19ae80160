// Package embedder maps text to fixed-dimension dense vectors via an LLM
// provider. One shared instance serves both ingestion and query time so all
// vectors in the index live in the same space.
package embedder

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/udayk/docqa/internal/llm"
)

var (
	// ErrEmptyText is returned for blank input; indexing a vector for
	// nothing would only pollute the neighbor space.
	ErrEmptyText = errors.New("embedder: cannot embed empty text")
	// ErrDimensionMismatch is returned when the backend produces a vector
	// of the wrong length. Mixed dimensions in one index are undefined
	// behavior, so reject at the source.
	ErrDimensionMismatch = errors.New("embedder: vector dimension mismatch")
)

// Embedder is a read-only wrapper around a provider's embedding endpoint.
// Safe for concurrent use.
type Embedder struct {
	provider llm.Provider
	model    string
	dim      int
}

// New creates an Embedder with a pinned model and dimension. All vectors it
// returns are L2-normalized and exactly dim long.
func New(provider llm.Provider, model string, dim int) (*Embedder, error) {
	if provider == nil {
		return nil, errors.New("embedder: provider is required")
	}
	if dim <= 0 {
		return nil, fmt.Errorf("embedder: invalid dimension %d", dim)
	}
	return &Embedder{provider: provider, model: model, dim: dim}, nil
}

// Dimension returns the embedding vector length.
func (e *Embedder) Dimension() int { return e.dim }

// ModelInfo identifies the provider and model version. The index manifest
// records this so a reload with a different embedder fails fast.
func (e *Embedder) ModelInfo() string {
	return e.provider.Name() + "/" + e.model
}

// Embed returns the normalized vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedMany returns one normalized vector per input text, in input order.
// Any backend failure aborts the whole batch: callers must never index a
// garbage vector in place of a failed one.
func (e *Embedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, t := range texts {
		if t == "" {
			return nil, fmt.Errorf("%w (input %d)", ErrEmptyText, i)
		}
	}

	vecs, err := e.provider.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding backend: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedding backend: got %d vectors for %d texts", len(vecs), len(texts))
	}
	for i, v := range vecs {
		if len(v) != e.dim {
			return nil, fmt.Errorf("%w: input %d has dimension %d, want %d", ErrDimensionMismatch, i, len(v), e.dim)
		}
		Normalize(v)
	}
	return vecs, nil
}

// Normalize scales v to unit length in place. Cosine similarity then reduces
// to a plain dot product. Zero vectors are left untouched.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
