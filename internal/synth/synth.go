// Package synth turns retrieved chunks into a grounded answer by formatting
// them into a bounded prompt and calling the configured model backend.
package synth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/udayk/docqa/internal/llm"
	"github.com/udayk/docqa/internal/observability"
	"github.com/udayk/docqa/internal/retriever"
)

// ErrGeneration marks a failed backend call. It is recoverable: the
// retrieval results that would have grounded the answer are still valid and
// displayable.
var ErrGeneration = errors.New("synth: answer generation failed")

// DefaultContextBudget caps the total characters of chunk text placed in the
// prompt, roughly 3k tokens. Chunks past the budget are dropped from the end
// of the (already ranked) result list.
const DefaultContextBudget = 12000

const systemPrompt = "You are an assistant that MUST answer using only the provided CONTEXT. " +
	"If the answer is not contained in the context, reply exactly: " +
	`"I don't know based on the provided documents." ` +
	"Cite sources (filename and page) for any factual claim."

const noResultsAnswer = "I don't know. No information found in the selected documents."

// Synthesizer formats prompts and calls the model backend. A nil provider
// puts it in local mode: answers degrade to a listing of the retrieved
// snippets instead of failing.
type Synthesizer struct {
	provider llm.Provider
	budget   int
}

// New creates a Synthesizer. budget <= 0 selects DefaultContextBudget.
func New(provider llm.Provider, budget int) *Synthesizer {
	if budget <= 0 {
		budget = DefaultContextBudget
	}
	return &Synthesizer{provider: provider, budget: budget}
}

// Synthesize produces an answer for the query grounded in results. Backend
// failures return an error wrapping ErrGeneration; callers keep the
// retrieval results either way.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, results []retriever.Result) (string, error) {
	if len(results) == 0 {
		return noResultsAnswer, nil
	}

	contextText := s.formatContext(results)

	if s.provider == nil {
		return "No LLM backend configured. Here are the retrieved snippets:\n\n" + contextText, nil
	}

	prompt := &llm.Prompt{
		SystemPrompt: systemPrompt,
		Messages: []llm.Message{{
			Role: llm.RoleUser,
			Content: fmt.Sprintf("CONTEXT:\n%s\n\nQUESTION:\n%s\n\n"+
				"Provide a concise answer and list the sources you used (filename and page).",
				contextText, query),
		}},
	}

	maxTokens := 500
	temperature := 0.0
	ctx, span := observability.StartLLMSpan(ctx, s.provider.Name(), "complete")
	defer span.End()
	start := time.Now()
	resp, err := s.provider.Complete(ctx, prompt, &llm.RequestOptions{
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
	})
	if err != nil {
		observability.RecordError(span, err)
		return "", fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	observability.RecordLLMMetrics(span, resp.InputTokens, resp.OutputTokens, time.Since(start))
	return strings.TrimSpace(resp.Content), nil
}

// formatContext renders results as source-labeled blocks, dropping chunks
// from the end once the character budget is spent. The first chunk is kept
// even if oversized, truncated to fit. The budget counts runes, matching
// the chunker's character-based windows.
func (s *Synthesizer) formatContext(results []retriever.Result) string {
	var blocks []string
	used := 0
	for i, r := range results {
		text := r.Chunk.Text
		if used+utf8.RuneCountInString(text) > s.budget {
			if i == 0 {
				text = string([]rune(text)[:s.budget])
			} else {
				break
			}
		}
		used += utf8.RuneCountInString(text)
		blocks = append(blocks, fmt.Sprintf("Source: %s (page %d, chunk %d)\n%s",
			r.Chunk.Document, r.Chunk.Page, r.Chunk.Seq, text))
	}
	return strings.Join(blocks, "\n\n---\n\n")
}
