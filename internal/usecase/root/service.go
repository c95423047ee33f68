// Package root orchestrates a search across the leaves holding the splits of an index.
package root

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/splitsearch/internal/aggregation"
	"github.com/kailas-cloud/splitsearch/internal/cluster"
	"github.com/kailas-cloud/splitsearch/internal/docmapper"
	"github.com/kailas-cloud/splitsearch/internal/domain/search"
	"github.com/kailas-cloud/splitsearch/internal/domain/split"
	"github.com/kailas-cloud/splitsearch/internal/logger"
	"github.com/kailas-cloud/splitsearch/internal/metrics"
	"github.com/kailas-cloud/splitsearch/internal/tracing"
	"github.com/kailas-cloud/splitsearch/internal/usecase/leaf"
)

// Service runs root searches.
type Service struct {
	meta        Metastore
	pool        NodePool
	leafTimeout time.Duration
	logger      *zap.Logger
}

// New creates a root service. leafTimeout bounds every leaf call, 0 means no bound
// beyond the request context.
func New(meta Metastore, pool NodePool, leafTimeout time.Duration, logger *zap.Logger) *Service {
	return &Service{meta: meta, pool: pool, leafTimeout: leafTimeout, logger: logger}
}

// Index is an index resolved for one request.
type Index struct {
	Meta   *split.IndexMetadata
	Mapper docmapper.DocMapper
}

// ResolveIndex loads index metadata and its doc mapper.
func ResolveIndex(ctx context.Context, meta Metastore, indexID string) (*Index, error) {
	idx, err := meta.IndexMetadata(ctx, indexID)
	if err != nil {
		return nil, fmt.Errorf("resolve index: %w", err)
	}
	mapper, err := docmapper.FromJSON(idx.DocMapping)
	if err != nil {
		return nil, fmt.Errorf("doc mapping of index %s: %w", indexID, err)
	}
	return &Index{Meta: idx, Mapper: mapper}, nil
}

// Dispatch runs call once per node with the splits assigned to it, concurrently, and
// waits for all of them. Offsets are assigned by rendezvous hashing on the split id.
func Dispatch[R any](
	ctx context.Context, pool NodePool, offsets []search.SplitIDAndFooterOffsets, timeout time.Duration,
	call func(ctx context.Context, c cluster.Client, assigned []search.SplitIDAndFooterOffsets) (R, error),
	onError func(nodeID string, assigned []search.SplitIDAndFooterOffsets, err error) R,
) ([]R, map[string]string, error) {
	assignment, err := cluster.Assign(offsets, func(o search.SplitIDAndFooterOffsets) string { return o.SplitID }, pool.Nodes())
	if err != nil {
		return nil, nil, err
	}
	owner := map[string]string{}
	nodes := make([]string, 0, len(assignment))
	for node, assigned := range assignment {
		nodes = append(nodes, node)
		for _, o := range assigned {
			owner[o.SplitID] = node
		}
	}
	slices.Sort(nodes)

	results := make([]R, len(nodes))
	var g errgroup.Group
	for i, node := range nodes {
		assigned := assignment[node]
		g.Go(func() error {
			callCtx := ctx
			if timeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			client, err := pool.Client(node)
			if err == nil {
				results[i], err = call(callCtx, client, assigned)
			}
			if err != nil {
				results[i] = onError(node, assigned, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, owner, nil
}

// NodeFailure turns a failed leaf call into one SplitSearchError per assigned split.
func NodeFailure(nodeID string, assigned []search.SplitIDAndFooterOffsets, err error) []search.SplitSearchError {
	return lo.Map(assigned, func(o search.SplitIDAndFooterOffsets, _ int) search.SplitSearchError {
		return search.SplitSearchError{
			Error:          fmt.Sprintf("node %s: %v", nodeID, err),
			SplitID:        o.SplitID,
			RetryableError: leaf.Retryable(err),
		}
	})
}

// RootSearch runs req over every relevant split of its index and returns the requested
// page. Split and node failures are reported in Errors; only request-level problems
// (bad request, unknown index, no nodes) are returned as errors.
func (s *Service) RootSearch(ctx context.Context, req *search.SearchRequest) (*search.SearchResponse, error) {
	start := time.Now()
	queryID := uuid.NewString()
	log := s.logger.With(zap.String("query_id", queryID), zap.String("index_id", req.IndexID))
	ctx = logger.ContextWithLogger(ctx, log)

	ctx, span := tracing.Start(ctx, "root.search",
		attribute.String("query_id", queryID),
		attribute.String("index_id", req.IndexID),
	)
	resp, err := s.rootSearch(ctx, req, start)
	tracing.End(span, err)
	metrics.RootSearchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RootSearchesTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	outcome := "ok"
	switch {
	case len(resp.Errors) > 0 && resp.NumSuccessfulSplits == 0:
		outcome = "failed"
	case len(resp.Errors) > 0:
		outcome = "partial"
	}
	metrics.RootSearchesTotal.WithLabelValues(outcome).Inc()
	log.Info("Root search completed",
		zap.String("outcome", outcome),
		zap.Uint64("num_hits", resp.NumHits),
		zap.Uint64("attempted_splits", resp.NumAttemptedSplits),
		zap.Int("errors", len(resp.Errors)),
		zap.Uint64("elapsed_us", resp.ElapsedTimeMicros),
	)
	return resp, nil
}

func (s *Service) rootSearch(ctx context.Context, req *search.SearchRequest, start time.Time) (*search.SearchResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	idx, err := ResolveIndex(ctx, s.meta, req.IndexID)
	if err != nil {
		return nil, err
	}
	plan, err := leaf.NewPlanWithMapper(req, idx.Mapper, idx.Meta.IndexURI)
	if err != nil {
		return nil, err
	}

	filter := split.NewFilter(req.StartTimestamp, req.EndTimestamp, plan.Query, idx.Mapper)
	splits, err := s.meta.ListSplits(ctx, req.IndexID, filter)
	if err != nil {
		return nil, fmt.Errorf("list splits: %w", err)
	}
	offsets := lo.Map(splits, func(m *split.Metadata, _ int) search.SplitIDAndFooterOffsets { return m.Offsets() })

	leafResps, owner, err := Dispatch(ctx, s.pool, offsets, s.leafTimeout,
		func(ctx context.Context, c cluster.Client, assigned []search.SplitIDAndFooterOffsets) (*search.LeafSearchResponse, error) {
			return c.LeafSearch(ctx, &search.LeafSearchRequest{
				SearchRequest: *req,
				SplitOffsets:  assigned,
				DocMapper:     idx.Meta.DocMapping,
				IndexURI:      idx.Meta.IndexURI,
			})
		},
		func(nodeID string, assigned []search.SplitIDAndFooterOffsets, err error) *search.LeafSearchResponse {
			logger.FromContext(ctx).Warn("Leaf search failed",
				zap.String("node_id", nodeID), zap.Int("splits", len(assigned)), zap.Error(err))
			return &search.LeafSearchResponse{
				NumAttemptedSplits: uint64(len(assigned)),
				FailedSplits:       NodeFailure(nodeID, assigned, err),
			}
		},
	)
	if err != nil {
		return nil, err
	}

	merged, err := leaf.MergeResponses(leafResps, plan.Order, req.LeafBudget())
	if err != nil {
		return nil, err
	}
	page := search.Page(merged.PartialHits, req.StartOffset, req.MaxHits)

	resp := &search.SearchResponse{
		NumHits:             merged.NumHits,
		Hits:                []search.Hit{},
		Errors:              renderErrors(merged.FailedSplits),
		NumAttemptedSplits:  merged.NumAttemptedSplits,
		NumSuccessfulSplits: merged.NumSuccessfulSplits,
	}
	if plan.Aggregation != nil {
		if resp.Aggregation, err = aggregation.Finalize(plan.Aggregation, merged.IntermediateAggregationResult); err != nil {
			return nil, fmt.Errorf("finalize aggregation: %w", err)
		}
	}

	if len(page) > 0 {
		leafHits := s.fetchPage(ctx, req, idx, page, offsets, owner)
		resp.Hits = lo.Map(leafHits, func(h search.LeafHit, _ int) search.Hit { return toHit(h, idx.Mapper) })
	}
	resp.ElapsedTimeMicros = uint64(time.Since(start).Microseconds())
	return resp, nil
}

// fetchPage asks every node owning a page split for its documents and reassembles the
// hits in page order.
func (s *Service) fetchPage(
	ctx context.Context, req *search.SearchRequest, idx *Index, page []search.PartialHit,
	offsets []search.SplitIDAndFooterOffsets, owner map[string]string,
) []search.LeafHit {
	ctx, span := tracing.Start(ctx, "root.fetch_docs", attribute.Int("hits", len(page)))
	defer span.End()

	bySplit := lo.KeyBy(offsets, func(o search.SplitIDAndFooterOffsets) string { return o.SplitID })
	slotsByNode := lo.GroupBy(lo.Range(len(page)), func(i int) string { return owner[page[i].SplitID] })
	var snippet *search.SnippetRequest
	if len(req.SnippetFields) > 0 {
		snippet = &search.SnippetRequest{
			Query:         req.Query,
			SnippetFields: req.SnippetFields,
			SearchFields:  req.SearchFields,
		}
	}

	out := make([]search.LeafHit, len(page))
	nodes := lo.Keys(slotsByNode)
	slices.Sort(nodes)
	var g errgroup.Group
	for _, node := range nodes {
		slots := slotsByNode[node]
		fetchReq := &search.FetchDocsRequest{
			IndexURI:       idx.Meta.IndexURI,
			DocMapper:      idx.Meta.DocMapping,
			SnippetRequest: snippet,
		}
		seen := map[string]bool{}
		for _, i := range slots {
			ph := page[i]
			fetchReq.PartialHits = append(fetchReq.PartialHits, ph)
			if !seen[ph.SplitID] {
				seen[ph.SplitID] = true
				fetchReq.SplitOffsets = append(fetchReq.SplitOffsets, bySplit[ph.SplitID])
			}
		}
		g.Go(func() error {
			callCtx := ctx
			if s.leafTimeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, s.leafTimeout)
				defer cancel()
			}
			resp, err := s.fetchFrom(callCtx, node, fetchReq)
			for j, i := range slots {
				if err != nil {
					msg := fmt.Sprintf("node %s: %v", node, err)
					out[i] = search.LeafHit{PartialHit: page[i], Error: &msg}
					continue
				}
				out[i] = resp.Hits[j]
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (s *Service) fetchFrom(ctx context.Context, node string, req *search.FetchDocsRequest) (*search.FetchDocsResponse, error) {
	client, err := s.pool.Client(node)
	if err != nil {
		return nil, err
	}
	resp, err := client.FetchDocs(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Hits) != len(req.PartialHits) {
		return nil, fmt.Errorf("fetch returned %d hits for %d requested", len(resp.Hits), len(req.PartialHits))
	}
	return resp, nil
}

func toHit(h search.LeafHit, mapper docmapper.DocMapper) search.Hit {
	hit := search.Hit{PartialHit: h.PartialHit, Snippet: h.Snippet, Error: h.Error}
	if h.Error != nil {
		return hit
	}
	doc, err := mapper.ToCallerJSON(h.LeafJSON)
	if err != nil {
		msg := err.Error()
		hit.Error = &msg
		return hit
	}
	hit.JSON = doc
	return hit
}

func renderErrors(failed []search.SplitSearchError) []string {
	sorted := slices.Clone(failed)
	slices.SortFunc(sorted, func(a, b search.SplitSearchError) int { return cmp.Compare(a.SplitID, b.SplitID) })
	return lo.Map(sorted, func(e search.SplitSearchError, _ int) string { return e.String() })
}
