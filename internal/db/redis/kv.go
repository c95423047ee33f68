package redis

import (
	"context"
	"time"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/splitsearch/internal/db"
)

// GetEx retrieves a value by key and resets its expiration to ttl, so entries that are
// read keep living while entries nobody reads expire.
func (s *Store) GetEx(ctx context.Context, key string, ttl time.Duration) ([]byte, error) {
	cmd := s.b().Getex().Key(key).ExSeconds(max(int64(ttl.Seconds()), 1)).Build()
	data, err := s.do(ctx, cmd).AsBytes()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, db.ErrKeyNotFound
		}
		return nil, &db.Error{Op: db.OpGet, Err: err}
	}
	return data, nil
}

// SetWithTTL stores a value with an expiration.
func (s *Store) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	cmd := s.b().Set().Key(key).Value(rueidis.BinaryString(value)).Ex(ttl).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		return &db.Error{Op: db.OpSet, Err: err}
	}
	return nil
}
