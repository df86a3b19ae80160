package index

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// flatSnapshot is the on-disk layout: the manifest travels with the entries
// so a reload can verify it was built with the running parameters before
// accepting a single vector.
type flatSnapshot struct {
	Manifest   Manifest
	Entries    []Entry
	Tombstones []int
}

// OpenFlat loads a persisted index from path, or creates a fresh one when no
// file exists yet. A manifest that disagrees with the expected one fails
// with ErrSchemaMismatch: a silently wrong neighbor order is worse than a
// refused load.
func OpenFlat(path string, expected Manifest) (*Flat, error) {
	expected.SchemaVersion = SchemaVersion

	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		f := NewFlat(expected)
		f.path = path
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("index: open %s: %w", path, err)
	}
	defer file.Close()

	var snap flatSnapshot
	if err := gob.NewDecoder(file).Decode(&snap); err != nil {
		return nil, fmt.Errorf("index: decode %s: %w", path, err)
	}
	if snap.Manifest != expected {
		return nil, fmt.Errorf("%w: on disk %+v, configured %+v",
			ErrSchemaMismatch, snap.Manifest, expected)
	}

	f := NewFlat(snap.Manifest)
	f.path = path
	f.entries = snap.Entries
	for _, id := range snap.Tombstones {
		f.dead[id] = struct{}{}
	}
	return f, nil
}

// Flush writes the current state to disk. The write goes to a temp file
// first and is renamed into place, so a crash mid-write leaves the previous
// snapshot intact.
func (f *Flat) Flush() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.path == "" || !f.dirty {
		return nil
	}

	snap := flatSnapshot{
		Manifest: f.manifest,
		Entries:  f.entries,
	}
	for id := range f.dead {
		snap.Tombstones = append(snap.Tombstones, id)
	}
	sort.Ints(snap.Tombstones)

	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("index: mkdir %s: %w", dir, err)
		}
	}

	tmp := f.path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("index: create %s: %w", tmp, err)
	}
	if err := gob.NewEncoder(file).Encode(&snap); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("index: encode: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("index: close %s: %w", tmp, err)
	}
	return os.Rename(tmp, f.path)
}

// Close flushes and marks the index clean.
func (f *Flat) Close() error {
	if err := f.Flush(); err != nil {
		return err
	}
	f.mu.Lock()
	f.dirty = false
	f.mu.Unlock()
	return nil
}
