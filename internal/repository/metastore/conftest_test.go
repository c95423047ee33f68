package metastore

import (
	"context"
	"path"
	"sort"
	"sync"

	"github.com/kailas-cloud/splitsearch/internal/db"
	"github.com/kailas-cloud/splitsearch/internal/domain/split"
)

// mockStore is an in-memory hash store. Fn fields override single calls.
type mockStore struct {
	mu        sync.Mutex
	hashes    map[string]map[string]string
	pingErr   error
	hsetFn    func(ctx context.Context, key string, fields map[string]string) error
	hgetAllFn func(ctx context.Context, key string) (map[string]string, error)
	scanFn    func(ctx context.Context, pattern string) ([]string, error)
}

func newMockStore() *mockStore {
	return &mockStore{hashes: map[string]map[string]string{}}
}

func (m *mockStore) Ping(context.Context) error { return m.pingErr }

func (m *mockStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	if m.hsetFn != nil {
		return m.hsetFn(ctx, key, fields)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		h = map[string]string{}
		m.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
	return nil
}

func (m *mockStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	if m.hgetAllFn != nil {
		return m.hgetAllFn(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]string{}
	for k, v := range m.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (m *mockStore) HGet(_ context.Context, key, field string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.hashes[key][field]
	if !ok {
		return "", db.ErrKeyNotFound
	}
	return v, nil
}

func (m *mockStore) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.hashes, key)
	return nil
}

func (m *mockStore) HSetNX(_ context.Context, key, field, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		h = map[string]string{}
		m.hashes[key] = h
	}
	if _, taken := h[field]; taken {
		return false, nil
	}
	h[field] = value
	return true, nil
}

func (m *mockStore) HDel(_ context.Context, key string, fields ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range fields {
		delete(m.hashes[key], f)
	}
	return nil
}

func (m *mockStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	if m.scanFn != nil {
		return m.scanFn(ctx, pattern)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.hashes {
		if ok, _ := path.Match(pattern, k); ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func ptr[T any](v T) *T { return &v }

func testSplit(id string, start, end int64, tags ...string) *split.Metadata {
	return &split.Metadata{
		SplitID:        id,
		NumDocs:        10,
		FooterStart:    100,
		FooterEnd:      200,
		TimeRangeStart: ptr(start),
		TimeRangeEnd:   ptr(end),
		Tags:           tags,
	}
}
