package metastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/kailas-cloud/splitsearch/internal/db"
	"github.com/kailas-cloud/splitsearch/internal/domain"
	"github.com/kailas-cloud/splitsearch/internal/domain/split"
)

const (
	indexKeyPrefix = domain.KeyPrefix + "index:"
	splitsSuffix   = ":splits"
)

// store is the consumer interface for the Redis metastore (ISP).
type store interface {
	Ping(ctx context.Context) error
	HSet(ctx context.Context, key string, fields map[string]string) error
	HSetNX(ctx context.Context, key, field, value string) (bool, error)
	HGet(ctx context.Context, key, field string) (string, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HDel(ctx context.Context, key string, fields ...string) error
	Del(ctx context.Context, key string) error
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// Compile-time check.
var _ Metastore = (*Redis)(nil)

// Redis keeps one hash per index and one hash of split_id -> JSON metadata per index.
type Redis struct {
	store store
}

// NewRedis creates a Redis-backed metastore.
func NewRedis(s store) *Redis {
	return &Redis{store: s}
}

// Ping checks the Redis connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}

func indexKey(id string) string  { return indexKeyPrefix + id }
func splitsKey(id string) string { return indexKeyPrefix + id + splitsSuffix }

// CreateIndex stores index metadata.
func (r *Redis) CreateIndex(ctx context.Context, idx split.IndexMetadata) error {
	if err := split.ValidateIndexID(idx.IndexID); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	key := indexKey(idx.IndexID)
	// index_id is claimed first so that two concurrent creates cannot both succeed.
	created, err := r.store.HSetNX(ctx, key, "index_id", idx.IndexID)
	if err != nil {
		return fmt.Errorf("claim index %s: %w", idx.IndexID, err)
	}
	if !created {
		return fmt.Errorf("index %s: %w", idx.IndexID, domain.ErrAlreadyExists)
	}
	if err := r.store.HSet(ctx, key, indexToHash(idx)); err != nil {
		return fmt.Errorf("hset index %s: %w", idx.IndexID, err)
	}
	return nil
}

// IndexMetadata returns index metadata.
func (r *Redis) IndexMetadata(ctx context.Context, indexID string) (*split.IndexMetadata, error) {
	m, err := r.store.HGetAll(ctx, indexKey(indexID))
	if err != nil {
		return nil, fmt.Errorf("hgetall index %s: %w", indexID, err)
	}
	if len(m) == 0 {
		return nil, domain.NewIndexNotFound(indexID)
	}
	return indexFromHash(m)
}

// requireIndex checks that the index exists without loading its doc mapping.
func (r *Redis) requireIndex(ctx context.Context, indexID string) error {
	_, err := r.store.HGet(ctx, indexKey(indexID), "index_id")
	if errors.Is(err, db.ErrKeyNotFound) {
		return domain.NewIndexNotFound(indexID)
	}
	if err != nil {
		return fmt.Errorf("hget index %s: %w", indexID, err)
	}
	return nil
}

// ListIndexes returns all indexes sorted by id.
func (r *Redis) ListIndexes(ctx context.Context) ([]*split.IndexMetadata, error) {
	keys, err := r.store.Scan(ctx, indexKeyPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("scan indexes: %w", err)
	}
	out := make([]*split.IndexMetadata, 0, len(keys))
	for _, key := range keys {
		if strings.HasSuffix(key, splitsSuffix) {
			continue
		}
		idx, err := r.IndexMetadata(ctx, strings.TrimPrefix(key, indexKeyPrefix))
		if errors.Is(err, domain.ErrIndexNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, idx)
	}
	sortIndexes(out)
	return out, nil
}

// DeleteIndex removes an index and its split metadata.
func (r *Redis) DeleteIndex(ctx context.Context, indexID string) error {
	if err := r.requireIndex(ctx, indexID); err != nil {
		return err
	}
	if err := r.store.Del(ctx, splitsKey(indexID)); err != nil {
		return fmt.Errorf("del splits of %s: %w", indexID, err)
	}
	if err := r.store.Del(ctx, indexKey(indexID)); err != nil {
		return fmt.Errorf("del index %s: %w", indexID, err)
	}
	return nil
}

// StageSplits records new splits in the staged state.
func (r *Redis) StageSplits(ctx context.Context, indexID string, splits []*split.Metadata) error {
	if err := r.requireIndex(ctx, indexID); err != nil {
		return err
	}
	if err := validateStaged(indexID, splits); err != nil {
		return err
	}
	fields := make(map[string]string, len(splits))
	for _, m := range splits {
		staged := *m
		staged.IndexID = indexID
		staged.State = split.StateStaged
		data, err := json.Marshal(&staged)
		if err != nil {
			return fmt.Errorf("marshal split %s: %w", m.SplitID, err)
		}
		fields[m.SplitID] = string(data)
	}
	if len(fields) == 0 {
		return nil
	}
	if err := r.store.HSet(ctx, splitsKey(indexID), fields); err != nil {
		return fmt.Errorf("hset splits of %s: %w", indexID, err)
	}
	return nil
}

// PublishSplits makes staged splits searchable.
func (r *Redis) PublishSplits(ctx context.Context, indexID string, splitIDs []string) error {
	return r.transition(ctx, indexID, splitIDs, split.StatePublished)
}

// MarkSplitsForDeletion hides splits from searches.
func (r *Redis) MarkSplitsForDeletion(ctx context.Context, indexID string, splitIDs []string) error {
	return r.transition(ctx, indexID, splitIDs, split.StateMarkedForDeletion)
}

// DeleteSplits removes the metadata of splits marked for deletion.
func (r *Redis) DeleteSplits(ctx context.Context, indexID string, splitIDs []string) error {
	all, err := r.loadSplits(ctx, indexID)
	if err != nil {
		return err
	}
	byID := make(map[string]*split.Metadata, len(all))
	for _, m := range all {
		byID[m.SplitID] = m
	}
	if err := checkDeletable(byID, splitIDs); err != nil {
		return err
	}
	if len(splitIDs) == 0 {
		return nil
	}
	if err := r.store.HDel(ctx, splitsKey(indexID), splitIDs...); err != nil {
		return fmt.Errorf("hdel splits of %s: %w", indexID, err)
	}
	return nil
}

func (r *Redis) transition(ctx context.Context, indexID string, splitIDs []string, to split.State) error {
	all, err := r.loadSplits(ctx, indexID)
	if err != nil {
		return err
	}
	byID := make(map[string]*split.Metadata, len(all))
	for _, m := range all {
		byID[m.SplitID] = m
	}
	if err := transition(byID, splitIDs, to); err != nil {
		return err
	}
	fields := make(map[string]string, len(splitIDs))
	for _, id := range splitIDs {
		data, err := json.Marshal(byID[id])
		if err != nil {
			return fmt.Errorf("marshal split %s: %w", id, err)
		}
		fields[id] = string(data)
	}
	if len(fields) == 0 {
		return nil
	}
	if err := r.store.HSet(ctx, splitsKey(indexID), fields); err != nil {
		return fmt.Errorf("hset splits of %s: %w", indexID, err)
	}
	return nil
}

// ListSplits returns the splits matching filter, sorted by split id.
func (r *Redis) ListSplits(ctx context.Context, indexID string, filter split.Filter) ([]*split.Metadata, error) {
	all, err := r.loadSplits(ctx, indexID)
	if err != nil {
		return nil, err
	}
	return filterSplits(all, filter), nil
}

// ListAllSplits returns every split of an index, sorted by split id.
func (r *Redis) ListAllSplits(ctx context.Context, indexID string) ([]*split.Metadata, error) {
	return r.loadSplits(ctx, indexID)
}

func (r *Redis) loadSplits(ctx context.Context, indexID string) ([]*split.Metadata, error) {
	if err := r.requireIndex(ctx, indexID); err != nil {
		return nil, err
	}
	m, err := r.store.HGetAll(ctx, splitsKey(indexID))
	if err != nil {
		return nil, fmt.Errorf("hgetall splits of %s: %w", indexID, err)
	}
	out := make([]*split.Metadata, 0, len(m))
	for id, raw := range m {
		var meta split.Metadata
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			return nil, fmt.Errorf("parse split %s: %w", id, err)
		}
		out = append(out, &meta)
	}
	sortSplits(out)
	return out, nil
}

func indexToHash(idx split.IndexMetadata) map[string]string {
	return map[string]string{
		"index_id":    idx.IndexID,
		"index_uri":   idx.IndexURI,
		"doc_mapping": idx.DocMapping,
		"created_at":  strconv.FormatInt(idx.CreatedAt, 10),
	}
}

func indexFromHash(m map[string]string) (*split.IndexMetadata, error) {
	createdAt, err := strconv.ParseInt(m["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse created_at of index %s: %w", m["index_id"], err)
	}
	return &split.IndexMetadata{
		IndexID:    m["index_id"],
		IndexURI:   m["index_uri"],
		DocMapping: m["doc_mapping"],
		CreatedAt:  createdAt,
	}, nil
}
