// Package listterms enumerates the terms of a field across the splits of an index.
package listterms

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/kailas-cloud/splitsearch/internal/cluster"
	"github.com/kailas-cloud/splitsearch/internal/docmapper"
	"github.com/kailas-cloud/splitsearch/internal/domain"
	"github.com/kailas-cloud/splitsearch/internal/domain/search"
	"github.com/kailas-cloud/splitsearch/internal/domain/split"
	"github.com/kailas-cloud/splitsearch/internal/splitfile"
	"github.com/kailas-cloud/splitsearch/internal/usecase/leaf"
	"github.com/kailas-cloud/splitsearch/internal/usecase/root"
)

// DefaultConcurrency bounds the splits this node reads at once for list-terms.
const DefaultConcurrency = 10

// SplitOpener opens split readers.
type SplitOpener interface {
	Open(ctx context.Context, indexURI string, offsets search.SplitIDAndFooterOffsets) (*splitfile.Reader, error)
}

// checkField verifies that field exists and has a term dictionary.
func checkField(req *search.ListTermsRequest, mapper docmapper.DocMapper) error {
	if err := req.Validate(); err != nil {
		return err
	}
	fm, ok := mapper.Field(req.Field)
	if !ok {
		return domain.InvalidRequestf("unknown field %q", req.Field)
	}
	if !fm.Indexed {
		return domain.InvalidRequestf("field %q is not indexed", req.Field)
	}
	return nil
}

// merge unions sorted term lists and keeps the first limit terms (all when limit < 0).
func merge(lists [][]string, limit int) []string {
	out := slices.Concat(lists...)
	slices.Sort(out)
	out = slices.Compact(out)
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []string{}
	}
	return out
}

// LeafService lists terms over the splits of one node.
type LeafService struct {
	opener  SplitOpener
	permits *semaphore.Weighted
	logger  *zap.Logger
}

// NewLeafService creates a leaf list-terms service. concurrency bounds the open splits
// of all list-terms calls served by this node together.
func NewLeafService(opener SplitOpener, concurrency int, logger *zap.Logger) *LeafService {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &LeafService{opener: opener, permits: semaphore.NewWeighted(int64(concurrency)), logger: logger}
}

// LeafListTerms reads the term dictionary of every split and returns up to max_hits
// terms in key order. Split failures are reported in FailedSplits.
func (s *LeafService) LeafListTerms(ctx context.Context, req *search.LeafListTermsRequest) (*search.LeafListTermsResponse, error) {
	mapper, err := docmapper.FromJSON(req.DocMapper)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	if err := checkField(&req.ListTermsRequest, mapper); err != nil {
		return nil, err
	}

	lr := &req.ListTermsRequest
	lists := make([][]string, len(req.SplitOffsets))
	failures := make([]*search.SplitSearchError, len(req.SplitOffsets))
	g := new(errgroup.Group)
	for i, offsets := range req.SplitOffsets {
		g.Go(func() error {
			terms, err := s.splitTerms(ctx, req.IndexURI, offsets, lr)
			if err != nil {
				failures[i] = &search.SplitSearchError{
					Error:          err.Error(),
					SplitID:        offsets.SplitID,
					RetryableError: leaf.Retryable(err),
				}
				s.logger.Warn("List terms failed on split",
					zap.String("split_id", offsets.SplitID), zap.Error(err))
				return nil
			}
			lists[i] = terms
			return nil
		})
	}
	_ = g.Wait()

	terms := merge(lists, lr.Limit())
	resp := &search.LeafListTermsResponse{
		NumHits:            uint64(len(terms)),
		Terms:              terms,
		NumAttemptedSplits: uint64(len(req.SplitOffsets)),
	}
	for _, f := range failures {
		if f != nil {
			resp.FailedSplits = append(resp.FailedSplits, *f)
		}
	}
	resp.NumSuccessfulSplits = resp.NumAttemptedSplits - uint64(len(resp.FailedSplits))
	return resp, nil
}

func (s *LeafService) splitTerms(
	ctx context.Context, indexURI string, offsets search.SplitIDAndFooterOffsets, req *search.ListTermsRequest,
) ([]string, error) {
	if err := s.permits.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for list-terms permit: %w", err)
	}
	defer s.permits.Release(1)

	reader, err := s.opener.Open(ctx, indexURI, offsets)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return reader.Terms(ctx, req.Field, req.StartKey, req.EndKey, req.Limit())
}

// RootService lists terms across the whole index.
type RootService struct {
	meta        root.Metastore
	pool        root.NodePool
	leafTimeout time.Duration
	logger      *zap.Logger
}

// NewRootService creates a root list-terms service.
func NewRootService(meta root.Metastore, pool root.NodePool, leafTimeout time.Duration, logger *zap.Logger) *RootService {
	return &RootService{meta: meta, pool: pool, leafTimeout: leafTimeout, logger: logger}
}

// RootListTerms merges the terms of every leaf, deduplicated, sorted and capped at
// max_hits. Splits are pruned by time range only.
func (s *RootService) RootListTerms(ctx context.Context, req *search.ListTermsRequest) (*search.ListTermsResponse, error) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	idx, err := root.ResolveIndex(ctx, s.meta, req.IndexID)
	if err != nil {
		return nil, err
	}
	if err := checkField(req, idx.Mapper); err != nil {
		return nil, err
	}
	splits, err := s.meta.ListSplits(ctx, req.IndexID, split.NewFilter(req.StartTimestamp, req.EndTimestamp, nil, nil))
	if err != nil {
		return nil, fmt.Errorf("list splits: %w", err)
	}
	offsets := lo.Map(splits, func(m *split.Metadata, _ int) search.SplitIDAndFooterOffsets { return m.Offsets() })

	resps, _, err := root.Dispatch(ctx, s.pool, offsets, s.leafTimeout,
		func(ctx context.Context, c cluster.Client, assigned []search.SplitIDAndFooterOffsets) (*search.LeafListTermsResponse, error) {
			return c.LeafListTerms(ctx, &search.LeafListTermsRequest{
				ListTermsRequest: *req,
				SplitOffsets:     assigned,
				IndexURI:         idx.Meta.IndexURI,
				DocMapper:        idx.Meta.DocMapping,
			})
		},
		func(nodeID string, assigned []search.SplitIDAndFooterOffsets, err error) *search.LeafListTermsResponse {
			s.logger.Warn("Leaf list terms failed", zap.String("node_id", nodeID), zap.Error(err))
			return &search.LeafListTermsResponse{
				NumAttemptedSplits: uint64(len(assigned)),
				FailedSplits:       root.NodeFailure(nodeID, assigned, err),
			}
		},
	)
	if err != nil {
		return nil, err
	}

	lists := lo.Map(resps, func(r *search.LeafListTermsResponse, _ int) []string { return r.Terms })
	failed := lo.FlatMap(resps, func(r *search.LeafListTermsResponse, _ int) []search.SplitSearchError { return r.FailedSplits })
	slices.SortFunc(failed, func(a, b search.SplitSearchError) int { return strings.Compare(a.SplitID, b.SplitID) })

	terms := merge(lists, req.Limit())
	return &search.ListTermsResponse{
		NumHits:           uint64(len(terms)),
		Terms:             terms,
		ElapsedTimeMicros: uint64(time.Since(start).Microseconds()),
		Errors:            lo.Map(failed, func(e search.SplitSearchError, _ int) string { return e.String() }),
	}, nil
}
