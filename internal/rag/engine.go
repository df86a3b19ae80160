// Package rag owns the retrieval pipeline: chunking and indexing on the
// write path, balanced retrieval and answer synthesis on the read path.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/udayk/docqa/internal/chunker"
	"github.com/udayk/docqa/internal/embedder"
	"github.com/udayk/docqa/internal/index"
	"github.com/udayk/docqa/internal/observability"
	"github.com/udayk/docqa/internal/retriever"
	"github.com/udayk/docqa/internal/synth"
)

// ErrEmptyDocument means a document produced no indexable text. Reported
// per document; a batch ingestion of other documents continues.
var ErrEmptyDocument = errors.New("rag: document has no extractable text")

// DefaultTopK is the number of chunks retrieved when the caller does not
// ask for a specific count.
const DefaultTopK = 4

// Stored chunk text is capped so one pathological page cannot bloat the
// metadata table.
const metaTextCap = 2000

// Source identifies where an answer's supporting chunk came from.
type Source struct {
	Document string `json:"document"`
	Page     int    `json:"page"`
}

// Answer is the result of one query: the synthesized answer plus the
// retrieval evidence, which stays valid even when synthesis fails.
type Answer struct {
	Answer   string   `json:"answer"`
	Sources  []Source `json:"sources"`
	Snippets []string `json:"snippets"`
	Degraded bool     `json:"degraded,omitempty"`
}

// Engine is the single owned handle over the index and its collaborators.
// Searches run concurrently; writes (Ingest, Remove) are serialized here so
// store implementations only need reader consistency.
type Engine struct {
	chunker   *chunker.Chunker
	embedder  *embedder.Embedder
	store     index.Store
	retriever *retriever.Retriever
	synth     *synth.Synthesizer
	logger    *slog.Logger

	writeMu sync.Mutex
}

// NewEngine wires the pipeline around an opened store.
func NewEngine(ch *chunker.Chunker, emb *embedder.Embedder, store index.Store, syn *synth.Synthesizer, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		chunker:   ch,
		embedder:  emb,
		store:     store,
		retriever: retriever.New(emb, store),
		synth:     syn,
		logger:    logger,
	}
}

// Ingest chunks, embeds, and indexes one document's pages, returning the
// number of chunks added. Embedding happens before the write lock is taken:
// a slow backend must not stall concurrent queries, and a failed batch
// leaves the index untouched.
func (e *Engine) Ingest(ctx context.Context, document string, pages []chunker.Page) (int, error) {
	ctx, span := observability.StartIngestSpan(ctx, document)
	defer span.End()

	chunks := e.chunker.Split(document, pages)
	if len(chunks) == 0 {
		err := fmt.Errorf("%w: %s", ErrEmptyDocument, document)
		observability.RecordError(span, err)
		return 0, err
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := e.embedder.EmbedMany(ctx, texts)
	if err != nil {
		observability.RecordError(span, err)
		return 0, fmt.Errorf("rag: ingest %s: %w", document, err)
	}

	entries := make([]index.Entry, len(chunks))
	for i, c := range chunks {
		if utf8.RuneCountInString(c.Text) > metaTextCap {
			c.Text = string([]rune(c.Text)[:metaTextCap])
		}
		entries[i] = index.Entry{Vector: vectors[i], Chunk: c}
	}

	e.writeMu.Lock()
	err = e.store.Insert(ctx, entries)
	e.writeMu.Unlock()
	if err != nil {
		observability.RecordError(span, err)
		return 0, fmt.Errorf("rag: ingest %s: %w", document, err)
	}

	observability.RecordIngestResult(span, len(pages), len(chunks))
	e.logger.Info("document ingested", "document", document, "pages", len(pages), "chunks", len(chunks))
	return len(chunks), nil
}

// Ask retrieves balanced context for the query and synthesizes an answer.
// A failed synthesis degrades the answer but never discards the retrieval:
// sources and snippets are returned either way.
func (e *Engine) Ask(ctx context.Context, query string, allowed []string, k int) (*Answer, error) {
	if k < 1 {
		k = DefaultTopK
	}

	var allowSet map[string]struct{}
	if allowed != nil {
		allowSet = make(map[string]struct{}, len(allowed))
		for _, d := range allowed {
			allowSet[d] = struct{}{}
		}
	}

	rctx, span := observability.StartRetrieveSpan(ctx, k, len(allowed))
	results, err := e.retriever.Retrieve(rctx, query, k, allowSet)
	if err != nil {
		observability.RecordError(span, err)
		span.End()
		return nil, err
	}

	answer := &Answer{Snippets: make([]string, 0, len(results))}
	seen := make(map[Source]struct{})
	for _, r := range results {
		answer.Snippets = append(answer.Snippets, r.Chunk.Text)
		src := Source{Document: r.Chunk.Document, Page: r.Chunk.Page}
		if _, dup := seen[src]; !dup {
			seen[src] = struct{}{}
			answer.Sources = append(answer.Sources, src)
		}
	}
	observability.RecordRetrieveResult(span, len(results), len(seen))
	span.End()

	text, err := e.synth.Synthesize(ctx, query, results)
	if err != nil {
		if !errors.Is(err, synth.ErrGeneration) {
			return nil, err
		}
		e.logger.Warn("answer generation failed, returning retrieval only", "error", err)
		answer.Answer = "Answer generation is temporarily unavailable. The retrieved snippets are listed below."
		answer.Degraded = true
		return answer, nil
	}
	answer.Answer = text
	return answer, nil
}

// Remove logically deletes a document from the index.
func (e *Engine) Remove(ctx context.Context, document string) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if err := e.store.Remove(ctx, document); err != nil {
		return fmt.Errorf("rag: remove %s: %w", document, err)
	}
	e.logger.Info("document removed", "document", document)
	return nil
}

// Len reports the number of index entries, tombstones included.
func (e *Engine) Len() int {
	return e.store.Len()
}

// Documents lists the documents currently visible in the index.
func (e *Engine) Documents(ctx context.Context) ([]string, error) {
	return e.store.Documents(ctx)
}

// Flush persists the index.
func (e *Engine) Flush() error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.store.Flush()
}

// Close flushes and closes the index.
func (e *Engine) Close() error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.store.Close()
}
