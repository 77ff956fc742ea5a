package blobstore

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
)

// MemoryPresignBase keeps memory URLs in the same positional layout as
// path-style S3 URLs: /mem/presign/get/{bucket}/{user}/{conversation}.json.
const MemoryPresignBase = "http://memory.local/mem/presign/get"

type memoryObject struct {
	body        []byte
	contentType string
}

// MemoryStore is an in-process Store used by tests and the memory backend.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	now     func() time.Time
}

// NewMemoryStore creates an empty store. now may be nil.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{objects: make(map[string]memoryObject), now: now}
}

func objectPath(bucket, key string) string {
	return bucket + "/" + key
}

func (m *MemoryStore) Get(_ context.Context, bucket, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[objectPath(bucket, key)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", common.ErrBlobNotFound, bucket, key)
	}
	out := make([]byte, len(obj.body))
	copy(out, obj.body)
	return out, nil
}

func (m *MemoryStore) Put(_ context.Context, bucket, key string, body []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := make([]byte, len(body))
	copy(b, body)
	m.objects[objectPath(bucket, key)] = memoryObject{body: b, contentType: contentType}
	return nil
}

// Delete is idempotent, matching S3 semantics.
func (m *MemoryStore) Delete(_ context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.objects, objectPath(bucket, key))
	return nil
}

func (m *MemoryStore) Presign(_ context.Context, bucket, key string, ttl time.Duration) (string, error) {
	exp := m.now().Add(ttl).Unix()
	return fmt.Sprintf("%s/%s/%s?expires=%d", MemoryPresignBase, url.PathEscape(bucket), key, exp), nil
}

// ContentType reports the stored content type, or "" when absent.
func (m *MemoryStore) ContentType(bucket, key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.objects[objectPath(bucket, key)].contentType
}

// Len reports how many objects are stored.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
