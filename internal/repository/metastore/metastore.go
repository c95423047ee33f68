// Package metastore stores index and split metadata.
package metastore

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/kailas-cloud/splitsearch/internal/domain"
	"github.com/kailas-cloud/splitsearch/internal/domain/split"
)

// Metastore is implemented by the Redis and file backends.
type Metastore interface {
	CreateIndex(ctx context.Context, idx split.IndexMetadata) error
	IndexMetadata(ctx context.Context, indexID string) (*split.IndexMetadata, error)
	ListIndexes(ctx context.Context) ([]*split.IndexMetadata, error)
	DeleteIndex(ctx context.Context, indexID string) error
	StageSplits(ctx context.Context, indexID string, splits []*split.Metadata) error
	PublishSplits(ctx context.Context, indexID string, splitIDs []string) error
	MarkSplitsForDeletion(ctx context.Context, indexID string, splitIDs []string) error
	// DeleteSplits forgets splits that are marked for deletion.
	DeleteSplits(ctx context.Context, indexID string, splitIDs []string) error
	ListSplits(ctx context.Context, indexID string, filter split.Filter) ([]*split.Metadata, error)
	// ListAllSplits returns every split regardless of state.
	ListAllSplits(ctx context.Context, indexID string) ([]*split.Metadata, error)
	Ping(ctx context.Context) error
}

// transition moves the named splits to state. Unknown split ids are an error; splits
// marked for deletion cannot be published again.
func transition(all map[string]*split.Metadata, splitIDs []string, to split.State) error {
	var missing []string
	for _, id := range splitIDs {
		m, ok := all[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		if to == split.StatePublished && m.State == split.StateMarkedForDeletion {
			return fmt.Errorf("split %s is marked for deletion: %w", id, domain.ErrInvalidRequest)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("splits %s: %w", strings.Join(missing, ", "), domain.ErrNotFound)
	}
	for _, id := range splitIDs {
		all[id].State = to
	}
	return nil
}

// checkDeletable rejects unknown splits and splits that are still staged or published.
func checkDeletable(all map[string]*split.Metadata, splitIDs []string) error {
	var missing []string
	for _, id := range splitIDs {
		m, ok := all[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		if m.State != split.StateMarkedForDeletion {
			return fmt.Errorf("split %s is %s, not marked for deletion: %w", id, m.State, domain.ErrInvalidRequest)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("splits %s: %w", strings.Join(missing, ", "), domain.ErrNotFound)
	}
	return nil
}

func filterSplits(all []*split.Metadata, filter split.Filter) []*split.Metadata {
	out := make([]*split.Metadata, 0, len(all))
	for _, m := range all {
		if filter.Matches(m) {
			out = append(out, m)
		}
	}
	return out
}

func sortSplits(s []*split.Metadata) {
	slices.SortFunc(s, func(a, b *split.Metadata) int { return strings.Compare(a.SplitID, b.SplitID) })
}

func sortIndexes(idx []*split.IndexMetadata) {
	slices.SortFunc(idx, func(a, b *split.IndexMetadata) int { return strings.Compare(a.IndexID, b.IndexID) })
}

func validateStaged(indexID string, splits []*split.Metadata) error {
	for _, m := range splits {
		if m.SplitID == "" {
			return domain.InvalidRequestf("split without id")
		}
		if m.IndexID != "" && m.IndexID != indexID {
			return domain.InvalidRequestf("split %s belongs to index %q", m.SplitID, m.IndexID)
		}
		if m.FooterEnd <= m.FooterStart {
			return domain.InvalidRequestf("split %s has an empty footer range", m.SplitID)
		}
	}
	return nil
}
