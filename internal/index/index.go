// Package index stores embedding vectors with their chunk metadata and
// answers nearest-neighbor queries by cosine similarity.
package index

import (
	"context"
	"errors"

	"github.com/udayk/docqa/internal/chunker"
)

var (
	// ErrSchemaMismatch means a persisted index was produced with different
	// embedder or chunking parameters than the running configuration. The
	// index refuses to load rather than silently return wrong neighbors.
	ErrSchemaMismatch = errors.New("index: schema mismatch")
	// ErrDimensionMismatch means an inserted or queried vector does not
	// match the index dimension.
	ErrDimensionMismatch = errors.New("index: vector dimension mismatch")
)

// Entry pairs an embedding vector with the chunk it was computed from.
// Entries are immutable once inserted; their position is their identifier.
type Entry struct {
	Vector []float32
	Chunk  chunker.Chunk
}

// Hit is a single search match.
type Hit struct {
	ID    int
	Score float32
	Chunk chunker.Chunk
}

// Manifest describes how an index was built. Persisted alongside the
// entries; a reload under different parameters fails with ErrSchemaMismatch.
type Manifest struct {
	SchemaVersion int
	EmbedModel    string
	Dimension     int
	ChunkWidth    int
	ChunkOverlap  int
}

// SchemaVersion is the current on-disk format version.
const SchemaVersion = 1

// Store is the vector index abstraction. Implementations must allow
// concurrent Search calls; Insert and Remove are single-writer and must be
// atomic with respect to readers (a query sees either the pre- or
// post-write state, never a torn one).
type Store interface {
	// Insert appends a batch of entries. All or nothing: no reader ever
	// observes a partially applied batch.
	Insert(ctx context.Context, entries []Entry) error
	// Search returns up to n hits ordered by descending score, ties broken
	// by insertion order (earlier entry first).
	Search(ctx context.Context, vector []float32, n int) ([]Hit, error)
	// Remove logically deletes every entry of a document. Removed entries
	// never appear in subsequent searches, even if the backing storage
	// cannot reclaim them.
	Remove(ctx context.Context, document string) error
	// Documents returns the sorted distinct documents with live entries.
	Documents(ctx context.Context) ([]string, error)
	// Len returns the number of entries held, including tombstoned ones.
	// This bounds how far a caller can usefully widen a search.
	Len() int
	// Flush persists pending state to durable storage where applicable.
	Flush() error
	// Close flushes and releases resources.
	Close() error
}
