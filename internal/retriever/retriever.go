// Package retriever selects which chunks a query gets to see: nearest
// neighbors by cosine similarity, filtered to an allow-set of documents and
// balanced across them so one strong document cannot crowd out the rest.
package retriever

import (
	"context"
	"fmt"
	"sort"

	"github.com/udayk/docqa/internal/chunker"
	"github.com/udayk/docqa/internal/embedder"
	"github.com/udayk/docqa/internal/index"
)

// Oversampling factor: the index is asked for k*Oversample candidates so
// that enough survive the allow-set filter on the first pass. Four is
// generous for typical corpora of a handful of documents; the doubling loop
// below covers the rest.
const Oversample = 4

// Result is one retrieved chunk with its similarity score.
type Result struct {
	Chunk chunker.Chunk
	Score float32
}

// Retriever embeds queries and performs balanced top-k selection over a
// vector index.
type Retriever struct {
	embedder *embedder.Embedder
	store    index.Store
}

// New creates a Retriever.
func New(emb *embedder.Embedder, store index.Store) *Retriever {
	return &Retriever{embedder: emb, store: store}
}

// Retrieve returns up to k chunks for the query, ordered by descending
// score. allowed restricts results to those documents; nil means no
// restriction, while an empty non-nil set yields an empty result (the user
// deselected everything). Fewer than k survivors is not an error.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int, allowed map[string]struct{}) ([]Result, error) {
	if k < 1 {
		return nil, fmt.Errorf("retriever: k must be >= 1, got %d", k)
	}
	if allowed != nil && len(allowed) == 0 {
		return nil, nil
	}
	total := r.store.Len()
	if total == 0 {
		return nil, nil
	}

	qv, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("retriever: embed query: %w", err)
	}

	// Oversample, filter, and widen (doubling, capped at the index size)
	// until k allowed candidates survive or the widening is exhausted.
	n := k * Oversample
	if n > total {
		n = total
	}
	var candidates []index.Hit
	for {
		hits, err := r.store.Search(ctx, qv, n)
		if err != nil {
			return nil, fmt.Errorf("retriever: search: %w", err)
		}
		candidates = filter(hits, allowed)
		if len(candidates) >= k || n >= total {
			break
		}
		n *= 2
		if n > total {
			n = total
		}
	}

	selected := balance(candidates, k)

	// Round-robin decided membership; the caller sees plain best-first
	// order.
	sort.SliceStable(selected, func(i, j int) bool {
		if selected[i].Score != selected[j].Score {
			return selected[i].Score > selected[j].Score
		}
		return selected[i].ID < selected[j].ID
	})

	results := make([]Result, len(selected))
	for i, h := range selected {
		results[i] = Result{Chunk: h.Chunk, Score: h.Score}
	}
	return results, nil
}

func filter(hits []index.Hit, allowed map[string]struct{}) []index.Hit {
	if allowed == nil {
		return hits
	}
	out := hits[:0:0]
	for _, h := range hits {
		if _, ok := allowed[h.Chunk.Document]; ok {
			out = append(out, h)
		}
	}
	return out
}

// balance picks k hits round-robin across documents. Candidates arrive
// sorted by descending score, so each document's group is already sorted
// and groups cycle in order of their best hit. Taking one hit per document
// per cycle guarantees that any allowed document with at least one
// candidate is represented before a stronger document takes a second slot.
func balance(candidates []index.Hit, k int) []index.Hit {
	if len(candidates) <= k {
		return candidates
	}

	var order []string
	groups := make(map[string][]index.Hit)
	for _, h := range candidates {
		doc := h.Chunk.Document
		if _, seen := groups[doc]; !seen {
			order = append(order, doc)
		}
		groups[doc] = append(groups[doc], h)
	}

	selected := make([]index.Hit, 0, k)
	for len(selected) < k {
		took := false
		for _, doc := range order {
			group := groups[doc]
			if len(group) == 0 {
				continue
			}
			selected = append(selected, group[0])
			groups[doc] = group[1:]
			took = true
			if len(selected) == k {
				break
			}
		}
		if !took {
			break
		}
	}
	return selected
}
