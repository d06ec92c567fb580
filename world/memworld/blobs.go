package memworld

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/wkfcore/wkf"
)

// BlobStore is an in-memory world.BlobStore keyed by ULID.
type BlobStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewBlobStore returns an empty BlobStore.
func NewBlobStore() *BlobStore {
	return &BlobStore{data: make(map[string][]byte)}
}

func (b *BlobStore) Put(_ context.Context, data []byte) (wkf.BlobRef, error) {
	id := ulid.Make().String()

	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	b.data[id] = cp

	return wkf.BlobRef{ID: id, Size: int64(len(data))}, nil
}

func (b *BlobStore) Get(_ context.Context, ref wkf.BlobRef) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, ok := b.data[ref.ID]
	if !ok {
		return nil, wkf.ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}
