package footercache

import (
	"context"
	"time"

	"github.com/kailas-cloud/splitsearch/internal/db"
)

// mockKVStore implements the consumer interface for tests.
type mockKVStore struct {
	getFn func(ctx context.Context, key string, ttl time.Duration) ([]byte, error)
	setFn func(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

func (m *mockKVStore) GetEx(ctx context.Context, key string, ttl time.Duration) ([]byte, error) {
	if m.getFn != nil {
		return m.getFn(ctx, key, ttl)
	}
	return nil, db.ErrKeyNotFound
}

func (m *mockKVStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if m.setFn != nil {
		return m.setFn(ctx, key, value, ttl)
	}
	return nil
}
