// Package dedup holds the in-memory set of content hashes already ingested.
//
// The set is a cache derived from the batches table: it is rebuilt with Load
// on every start and never persisted on its own. Registration is two-phase so
// a hash only becomes permanent once its batch row is written:
//
//	ok := idx.Reserve(h)   // claim; concurrent intake of the same bytes loses
//	err := create(batch)
//	if err != nil { idx.Release(h) } else { idx.Commit(h) }
package dedup

import (
	"context"
	"fmt"
	"sync"
)

// HashSource lists every content hash already stored.
type HashSource interface {
	ListHashes(ctx context.Context) ([]string, error)
}

type Index struct {
	mu       sync.Mutex
	known    map[string]struct{}
	reserved map[string]struct{}
}

func New() *Index {
	return &Index{
		known:    make(map[string]struct{}),
		reserved: make(map[string]struct{}),
	}
}

// Load replaces the committed set with the hashes from src.
func (i *Index) Load(ctx context.Context, src HashSource) error {
	hashes, err := src.ListHashes(ctx)
	if err != nil {
		return fmt.Errorf("load hashes: %w", err)
	}
	known := make(map[string]struct{}, len(hashes))
	for _, h := range hashes {
		known[h] = struct{}{}
	}
	i.mu.Lock()
	i.known = known
	i.mu.Unlock()
	return nil
}

// Contains reports whether h is committed or currently reserved.
func (i *Index) Contains(h string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.known[h]
	if !ok {
		_, ok = i.reserved[h]
	}
	return ok
}

// Reserve claims h for a pending batch write. It returns false when h is
// already committed or claimed by another caller.
func (i *Index) Reserve(h string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.known[h]; ok {
		return false
	}
	if _, ok := i.reserved[h]; ok {
		return false
	}
	i.reserved[h] = struct{}{}
	return true
}

// Commit makes a reservation permanent after the batch write succeeded.
func (i *Index) Commit(h string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.reserved, h)
	i.known[h] = struct{}{}
}

// Release drops a reservation whose batch write failed.
func (i *Index) Release(h string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.reserved, h)
}

// Add commits h directly.
func (i *Index) Add(h string) {
	i.Commit(h)
}

// Len returns the number of committed hashes.
func (i *Index) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.known)
}

// Forget drops a committed hash whose batch was deleted.
func (i *Index) Forget(h string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.known, h)
}
