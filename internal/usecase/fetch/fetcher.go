// Package fetch reads the documents of a result page from their splits.
package fetch

import (
	"context"
	"fmt"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/kailas-cloud/splitsearch/internal/docmapper"
	"github.com/kailas-cloud/splitsearch/internal/domain"
	"github.com/kailas-cloud/splitsearch/internal/domain/query"
	"github.com/kailas-cloud/splitsearch/internal/domain/search"
	"github.com/kailas-cloud/splitsearch/internal/logger"
	"github.com/kailas-cloud/splitsearch/internal/metrics"
	"github.com/kailas-cloud/splitsearch/internal/splitfile"
	"github.com/kailas-cloud/splitsearch/internal/tracing"
)

// DefaultConcurrency bounds the splits this node reads at once for fetches.
const DefaultConcurrency = 10

// SplitOpener opens split files.
type SplitOpener interface {
	Open(ctx context.Context, indexURI string, offsets search.SplitIDAndFooterOffsets) (*splitfile.Reader, error)
}

// Fetcher resolves partial hits into documents.
type Fetcher struct {
	opener  SplitOpener
	permits *semaphore.Weighted
	logger  *zap.Logger
}

// New creates a fetcher. concurrency bounds the open splits of all fetches served by
// this node together.
func New(opener SplitOpener, concurrency int, logger *zap.Logger) *Fetcher {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Fetcher{opener: opener, permits: semaphore.NewWeighted(int64(concurrency)), logger: logger}
}

// FetchDocs returns one LeafHit per requested partial hit, in request order. Each split
// is opened once for all of its hits. A split or document that cannot be read sets
// Error on the affected hits and leaves the others intact.
func (f *Fetcher) FetchDocs(ctx context.Context, req *search.FetchDocsRequest) (*search.FetchDocsResponse, error) {
	var snip *snippeter
	if sr := req.SnippetRequest; sr != nil && len(sr.SnippetFields) > 0 {
		mapper, err := docmapper.FromJSON(req.DocMapper)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
		}
		q, err := query.Parse(sr.Query)
		if err != nil {
			return nil, err
		}
		searchFields := sr.SearchFields
		if len(searchFields) == 0 {
			searchFields = mapper.DefaultSearchFields()
		}
		snip = newSnippeter(q, mapper, sr.SnippetFields, searchFields)
	}

	ctx, span := tracing.Start(ctx, "leaf.fetch_docs", attribute.Int("hits", len(req.PartialHits)))
	defer span.End()

	hits := make([]search.LeafHit, len(req.PartialHits))
	for i, ph := range req.PartialHits {
		hits[i].PartialHit = ph
	}

	offsets := lo.KeyBy(req.SplitOffsets, func(o search.SplitIDAndFooterOffsets) string { return o.SplitID })
	groups := lo.GroupBy(lo.Range(len(req.PartialHits)), func(i int) string { return req.PartialHits[i].SplitID })

	var g errgroup.Group
	for splitID, slots := range groups {
		off, ok := offsets[splitID]
		if !ok {
			setError(hits, slots, fmt.Sprintf("split %s: no footer offsets in request", splitID))
			continue
		}
		g.Go(func() error {
			f.fetchSplit(ctx, req.IndexURI, off, hits, slots, snip)
			return nil
		})
	}
	_ = g.Wait()

	failed := lo.CountBy(hits, func(h search.LeafHit) bool { return h.Error != nil })
	metrics.FetchedDocsTotal.WithLabelValues("ok").Add(float64(len(hits) - failed))
	metrics.FetchedDocsTotal.WithLabelValues("error").Add(float64(failed))
	if failed > 0 {
		logger.FromContext(logger.Ensure(ctx, f.logger)).Warn("Some documents could not be fetched",
			zap.Int("failed", failed), zap.Int("requested", len(hits)))
	}
	return &search.FetchDocsResponse{Hits: hits}, nil
}

// fetchSplit fills the given slots from one split. Slots are disjoint across calls.
func (f *Fetcher) fetchSplit(
	ctx context.Context, indexURI string, off search.SplitIDAndFooterOffsets,
	hits []search.LeafHit, slots []int, snip *snippeter,
) {
	if err := f.permits.Acquire(ctx, 1); err != nil {
		setError(hits, slots, fmt.Sprintf("split %s: waiting for fetch permit: %v", off.SplitID, err))
		return
	}
	defer f.permits.Release(1)

	reader, err := f.opener.Open(ctx, indexURI, off)
	if err != nil {
		setError(hits, slots, fmt.Sprintf("split %s: %v", off.SplitID, err))
		return
	}
	defer reader.Close()

	for _, i := range slots {
		ph := hits[i].PartialHit
		doc, err := reader.Doc(ctx, ph.SegmentOrd, ph.DocID)
		if err != nil {
			msg := fmt.Sprintf("split %s: %v", off.SplitID, err)
			hits[i].Error = &msg
			continue
		}
		hits[i].LeafJSON = doc
		if snip != nil {
			hits[i].Snippet = snip.snippet(doc)
		}
	}
}

func setError(hits []search.LeafHit, slots []int, msg string) {
	for _, i := range slots {
		m := msg
		hits[i].Error = &m
	}
}
