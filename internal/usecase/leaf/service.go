// Package leaf executes searches over the splits assigned to this node.
package leaf

import (
	"context"
	"fmt"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/kailas-cloud/splitsearch/internal/aggregation"
	"github.com/kailas-cloud/splitsearch/internal/domain/search"
	"github.com/kailas-cloud/splitsearch/internal/logger"
	"github.com/kailas-cloud/splitsearch/internal/metrics"
	"github.com/kailas-cloud/splitsearch/internal/tracing"
)

// DefaultMaxConcurrentSplitSearches bounds open splits per node when unset.
const DefaultMaxConcurrentSplitSearches = 100

// SplitSearcher searches one split.
type SplitSearcher interface {
	SearchSplit(ctx context.Context, plan *Plan, offsets search.SplitIDAndFooterOffsets) (*search.LeafSearchResponse, *search.SplitSearchError)
}

// Service coordinates the split searches of one leaf request.
type Service struct {
	splits  SplitSearcher
	permits *semaphore.Weighted
	logger  *zap.Logger
}

// New creates a leaf service. The permit pool is shared by every request served by
// this node and hands out permits in FIFO order.
func New(splits SplitSearcher, maxConcurrent int, logger *zap.Logger) *Service {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentSplitSearches
	}
	return &Service{
		splits:  splits,
		permits: semaphore.NewWeighted(int64(maxConcurrent)),
		logger:  logger,
	}
}

type splitOutcome struct {
	resp *search.LeafSearchResponse
	err  *search.SplitSearchError
}

// LeafSearch searches every split of req and merges the results. A failing split is
// reported in FailedSplits and never aborts its siblings; only request-level errors are
// returned as an error.
func (s *Service) LeafSearch(ctx context.Context, req *search.LeafSearchRequest) (*search.LeafSearchResponse, error) {
	plan, err := NewPlan(&req.SearchRequest, req.DocMapper, req.IndexURI)
	if err != nil {
		return nil, err
	}

	ctx = logger.With(logger.Ensure(ctx, s.logger), zap.String("index_uri", req.IndexURI))
	ctx, span := tracing.Start(ctx, "leaf.search",
		attribute.String("index_id", req.SearchRequest.IndexID),
		attribute.Int("splits", len(req.SplitOffsets)),
	)
	defer span.End()

	outcomes := make([]splitOutcome, len(req.SplitOffsets))
	var g errgroup.Group
	for i, offsets := range req.SplitOffsets {
		g.Go(func() error {
			outcomes[i] = s.searchOne(ctx, plan, offsets)
			return nil
		})
	}
	_ = g.Wait()

	resp, err := mergeOutcomes(outcomes, plan.Order, req.SearchRequest.LeafBudget())
	if err != nil {
		return nil, err
	}

	log := logger.FromContext(ctx)
	for _, f := range resp.FailedSplits {
		log.Warn("Split search failed",
			zap.String("split_id", f.SplitID),
			zap.Bool("retryable", f.RetryableError),
			zap.String("error", f.Error),
		)
	}
	span.SetAttributes(
		attribute.Int64("num_hits", int64(resp.NumHits)),
		attribute.Int("failed_splits", len(resp.FailedSplits)),
	)
	return resp, nil
}

func (s *Service) searchOne(ctx context.Context, plan *Plan, offsets search.SplitIDAndFooterOffsets) splitOutcome {
	if err := s.permits.Acquire(ctx, 1); err != nil {
		return splitOutcome{err: newSplitError(offsets.SplitID, fmt.Errorf("waiting for search permit: %w", err))}
	}
	defer s.permits.Release(1)
	metrics.SplitSearchesInFlight.Inc()
	defer metrics.SplitSearchesInFlight.Dec()

	resp, splitErr := s.splits.SearchSplit(ctx, plan, offsets)
	return splitOutcome{resp: resp, err: splitErr}
}

// mergeOutcomes folds per-split results into one response of at most k hits. A failed
// split counts as attempted and contributes nothing else.
func mergeOutcomes(outcomes []splitOutcome, order search.SortOrder, k int) (*search.LeafSearchResponse, error) {
	resps := lo.Map(outcomes, func(o splitOutcome, _ int) *search.LeafSearchResponse {
		if o.err != nil {
			return &search.LeafSearchResponse{
				NumAttemptedSplits: 1,
				FailedSplits:       []search.SplitSearchError{*o.err},
			}
		}
		return o.resp
	})
	return MergeResponses(resps, order, k)
}

// MergeResponses merges leaf responses the same way a leaf merges its splits. The
// counters of all responses are summed.
func MergeResponses(resps []*search.LeafSearchResponse, order search.SortOrder, k int) (*search.LeafSearchResponse, error) {
	merged := &search.LeafSearchResponse{PartialHits: []search.PartialHit{}}
	lists := make([][]search.PartialHit, 0, len(resps))
	var aggs [][]byte
	for _, r := range resps {
		merged.NumHits += r.NumHits
		merged.NumAttemptedSplits += r.NumAttemptedSplits
		merged.NumSuccessfulSplits += r.NumSuccessfulSplits
		merged.FailedSplits = append(merged.FailedSplits, r.FailedSplits...)
		lists = append(lists, r.PartialHits)
		if r.IntermediateAggregationResult != nil {
			aggs = append(aggs, r.IntermediateAggregationResult)
		}
	}
	merged.PartialHits = search.MergePartialHits(lists, order, k)
	if len(aggs) > 0 {
		agg, err := aggregation.MergeAll(aggs)
		if err != nil {
			return nil, fmt.Errorf("merge aggregations: %w", err)
		}
		merged.IntermediateAggregationResult = agg
	}
	return merged, nil
}
