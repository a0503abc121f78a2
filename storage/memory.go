package storage

import (
	"context"
	"sync"

	"github.com/ruteri/tee-secret-recovery-backend/interfaces"
)

// MemoryBackend keeps blobs in process memory. Intended for tests and
// single-process development setups; contents do not survive restarts.
type MemoryBackend struct {
	mu    sync.RWMutex
	blobs map[interfaces.ContentType]map[interfaces.ContentID][]byte
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		blobs: make(map[interfaces.ContentType]map[interfaces.ContentID][]byte),
	}
}

// Fetch retrieves a blob by content ID and type.
func (b *MemoryBackend) Fetch(ctx context.Context, id interfaces.ContentID, contentType interfaces.ContentType) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, ok := b.blobs[contentType][id]
	if !ok {
		return nil, interfaces.ErrContentNotFound
	}
	return append([]byte(nil), data...), nil
}

// Store saves a blob and returns its content ID.
func (b *MemoryBackend) Store(ctx context.Context, data []byte, contentType interfaces.ContentType) (interfaces.ContentID, error) {
	id := interfaces.ComputeID(data)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.blobs[contentType] == nil {
		b.blobs[contentType] = make(map[interfaces.ContentID][]byte)
	}
	b.blobs[contentType][id] = append([]byte(nil), data...)
	return id, nil
}

// Available always reports true.
func (b *MemoryBackend) Available(ctx context.Context) bool {
	return true
}

// Name returns an identifier for logging.
func (b *MemoryBackend) Name() string {
	return "memory"
}

// LocationURI returns the URI identifying this backend.
func (b *MemoryBackend) LocationURI() string {
	return "memory://"
}
