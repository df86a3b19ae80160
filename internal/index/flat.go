package index

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Flat is a brute-force in-memory Store with gob persistence. Entries are
// held in one append-only slice scanned linearly per query; with normalized
// vectors the cosine similarity is a plain dot product.
// Deletion is a per-entry tombstone set filtered during the scan, so a
// removed document never surfaces again while its vectors still occupy
// storage.
type Flat struct {
	mu       sync.RWMutex
	manifest Manifest
	entries  []Entry
	dead     map[int]struct{}
	path     string // empty for a purely in-memory index
	dirty    bool
}

// NewFlat creates an empty in-memory index for the given manifest.
func NewFlat(manifest Manifest) *Flat {
	manifest.SchemaVersion = SchemaVersion
	return &Flat{
		manifest: manifest,
		dead:     make(map[int]struct{}),
	}
}

// Insert appends the batch under the write lock. Readers block for the
// duration of the append, which keeps the batch atomic: a concurrent Search
// sees all of it or none of it.
func (f *Flat) Insert(ctx context.Context, entries []Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for i, e := range entries {
		if len(e.Vector) != f.manifest.Dimension {
			return fmt.Errorf("%w: entry %d has dimension %d, want %d",
				ErrDimensionMismatch, i, len(e.Vector), f.manifest.Dimension)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entries...)
	f.dirty = true
	return nil
}

// Search scans all live entries and returns the n best by descending score.
// Equal scores rank by insertion order, which makes results deterministic
// across runs and reloads.
func (f *Flat) Search(ctx context.Context, vector []float32, n int) ([]Hit, error) {
	if len(vector) != f.manifest.Dimension {
		return nil, fmt.Errorf("%w: query has dimension %d, want %d",
			ErrDimensionMismatch, len(vector), f.manifest.Dimension)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	hits := make([]Hit, 0, len(f.entries))
	for id, e := range f.entries {
		if _, gone := f.dead[id]; gone {
			continue
		}
		hits = append(hits, Hit{ID: id, Score: dot(vector, e.Vector), Chunk: e.Chunk})
	}

	// Stable sort over ascending IDs: equal scores keep insertion order.
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })

	if n > 0 && n < len(hits) {
		hits = hits[:n]
	}
	return hits, nil
}

// Remove tombstones every live entry of the document. A later re-ingestion
// of the same document inserts fresh entries that are unaffected by the old
// tombstones.
func (f *Flat) Remove(ctx context.Context, document string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for id, e := range f.entries {
		if e.Chunk.Document == document {
			f.dead[id] = struct{}{}
		}
	}
	f.dirty = true
	return nil
}

// Documents returns the sorted distinct documents with at least one live
// entry.
func (f *Flat) Documents(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	seen := make(map[string]struct{})
	for id, e := range f.entries {
		if _, gone := f.dead[id]; gone {
			continue
		}
		seen[e.Chunk.Document] = struct{}{}
	}
	docs := make([]string, 0, len(seen))
	for d := range seen {
		docs = append(docs, d)
	}
	sort.Strings(docs)
	return docs, nil
}

// Len returns the total number of entries, tombstoned included.
func (f *Flat) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.entries)
}

// Manifest returns a copy of the index build parameters.
func (f *Flat) Manifest() Manifest {
	return f.manifest
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
