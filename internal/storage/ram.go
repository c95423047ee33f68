package storage

import (
	"context"
	"slices"
	"sync"
)

// RAMStore is an in-memory object store shared by every ram:// URI of a resolver.
type RAMStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewRAMStore creates an empty store.
func NewRAMStore() *RAMStore {
	return &RAMStore{objects: map[string][]byte{}}
}

func (r *RAMStore) get(key string) ([]byte, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	data, ok := r.objects[key]
	return data, ok
}

func (r *RAMStore) put(key string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.objects[key] = slices.Clone(data)
}

func (r *RAMStore) del(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.objects, key)
}

type ramStorage struct {
	uri    string
	prefix string
	store  *RAMStore
}

func (s *ramStorage) URI() string { return s.uri }

func (s *ramStorage) ReadRange(ctx context.Context, name string, start, end uint64) ([]byte, error) {
	data, err := s.ReadAll(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := checkRange(name, len(data), start, end); err != nil {
		return nil, err
	}
	return data[start:end], nil
}

func (s *ramStorage) ReadAll(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, ok := s.store.get(s.prefix + name)
	if !ok {
		return nil, notFound(name)
	}
	return data, nil
}

func (s *ramStorage) Put(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.store.put(s.prefix+name, data)
	return nil
}

func (s *ramStorage) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.store.del(s.prefix + name)
	return nil
}
