// Package footercache keeps split footers in Redis so that leaves skip the footer read
// on splits they have opened before.
package footercache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/splitsearch/internal/db"
	"github.com/kailas-cloud/splitsearch/internal/domain"
	"github.com/kailas-cloud/splitsearch/internal/splitfile"
)

var cacheKeyPrefix = domain.KeyPrefix + "footer:"

// DefaultTTL is how long a footer stays cached after it was last read.
const DefaultTTL = 10 * time.Minute

// store is the consumer interface for the footer cache (ISP).
type store interface {
	GetEx(ctx context.Context, key string, ttl time.Duration) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Compile-time check.
var _ splitfile.FooterCache = (*Cache)(nil)

// Cache implements splitfile.FooterCache on a key-value store.
// Store failures degrade to a miss.
type Cache struct {
	store      store
	ttl        time.Duration
	cacheTotal *prometheus.CounterVec
	logger     *zap.Logger
}

// New creates a footer cache. cacheTotal is a counter vec with label "result"
// ("hit"/"miss") and may be nil.
func New(s store, ttl time.Duration, cacheTotal *prometheus.CounterVec, logger *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{store: s, ttl: ttl, cacheTotal: cacheTotal, logger: logger}
}

// Get returns a cached footer. A hit extends its TTL: footers never change, so a split
// that keeps being searched keeps its footer cached.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := c.store.GetEx(ctx, c.cacheKey(key), c.ttl)
	if err != nil {
		if !errors.Is(err, db.ErrKeyNotFound) {
			c.logger.Warn("Failed to get cached footer", zap.String("key", key), zap.Error(err))
		}
		c.inc("miss")
		return nil, false
	}
	if len(data) == 0 {
		c.inc("miss")
		return nil, false
	}
	c.inc("hit")
	return data, true
}

// Set stores a footer.
func (c *Cache) Set(ctx context.Context, key string, data []byte) {
	if err := c.store.SetWithTTL(ctx, c.cacheKey(key), data, c.ttl); err != nil {
		c.logger.Warn("Failed to cache footer", zap.String("key", key), zap.Error(err))
	}
}

func (c *Cache) inc(result string) {
	if c.cacheTotal != nil {
		c.cacheTotal.WithLabelValues(result).Inc()
	}
}

// cacheKey hashes the split location so arbitrary URIs make valid, bounded keys.
func (c *Cache) cacheKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return cacheKeyPrefix + hex.EncodeToString(h[:])
}
