package memory

import (
	"context"
	"fmt"
	"sync"

	"meme-composer/core"
)

type blob struct {
	data        []byte
	contentType string
}

type memBlobs struct {
	mu    sync.RWMutex
	blobs map[string]blob
}

// NewBlobStore creates an in-memory blob store.
func NewBlobStore() *memBlobs {
	return &memBlobs{blobs: make(map[string]blob)}
}

func (b *memBlobs) Put(ctx context.Context, key string, data []byte, contentType string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[key] = blob{data: append([]byte{}, data...), contentType: contentType}
	return nil
}

func (b *memBlobs) Get(ctx context.Context, key string) ([]byte, string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.blobs[key]
	if !ok {
		return nil, "", fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
	}
	return v.data, v.contentType, nil
}

func (b *memBlobs) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.blobs, key)
	return nil
}
