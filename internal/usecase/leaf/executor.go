package leaf

import (
	"context"
	"errors"
	"time"

	"github.com/kailas-cloud/splitsearch/internal/aggregation"
	"github.com/kailas-cloud/splitsearch/internal/docmapper"
	"github.com/kailas-cloud/splitsearch/internal/domain"
	"github.com/kailas-cloud/splitsearch/internal/domain/search"
	"github.com/kailas-cloud/splitsearch/internal/domain/split"
	"github.com/kailas-cloud/splitsearch/internal/metrics"
	"github.com/kailas-cloud/splitsearch/internal/splitfile"
)

// SplitOpener opens split files.
type SplitOpener interface {
	Open(ctx context.Context, indexURI string, offsets search.SplitIDAndFooterOffsets) (*splitfile.Reader, error)
}

// Executor runs a plan against a single split.
type Executor struct {
	opener      SplitOpener
	bucketLimit int
}

// NewExecutor creates an executor. bucketLimit caps aggregation buckets per split,
// <= 0 disables the cap.
func NewExecutor(opener SplitOpener, bucketLimit int) *Executor {
	return &Executor{opener: opener, bucketLimit: bucketLimit}
}

// SearchSplit returns up to start_offset+max_hits candidates of one split, ranked by the
// partial hit order, together with its hit count and aggregation partial result.
// Any failure yields a SplitSearchError and no hits.
func (e *Executor) SearchSplit(
	ctx context.Context, plan *Plan, offsets search.SplitIDAndFooterOffsets,
) (*search.LeafSearchResponse, *search.SplitSearchError) {
	start := time.Now()
	resp, err := e.searchSplit(ctx, plan, offsets)
	metrics.SplitSearchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		splitErr := newSplitError(offsets.SplitID, err)
		if splitErr.RetryableError {
			metrics.SplitSearchesTotal.WithLabelValues("retryable").Inc()
		} else {
			metrics.SplitSearchesTotal.WithLabelValues("fatal").Inc()
		}
		return nil, splitErr
	}
	metrics.SplitSearchesTotal.WithLabelValues("ok").Inc()
	return resp, nil
}

func (e *Executor) searchSplit(
	ctx context.Context, plan *Plan, offsets search.SplitIDAndFooterOffsets,
) (*search.LeafSearchResponse, error) {
	reader, err := e.opener.Open(ctx, plan.IndexURI, offsets)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	req := plan.Request
	checkTime := !split.Covers(req.StartTimestamp, req.EndTimestamp, offsets)
	tsField := plan.Mapper.TimestampField()

	var collector *aggregation.Collector
	if plan.Aggregation != nil {
		collector = aggregation.NewCollector(plan.Aggregation, plan.Mapper, e.bucketLimit)
	}
	top := newTopK(offsets.SplitID, plan.Order, req.LeafBudget())
	var numHits uint64

	for _, seg := range reader.Segments() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		matches, err := seg.Search(ctx, plan.Query, plan.Mapper, plan.SearchFields, plan.mode == sortByScore)
		if err != nil {
			return nil, err
		}
		if len(matches.Docs) == 0 {
			continue
		}
		var cols *splitfile.Columns
		if plan.needsColumns(checkTime) {
			if cols, err = seg.FastColumns(ctx); err != nil {
				return nil, err
			}
		}
		for i, doc := range matches.Docs {
			if checkTime && !InRange(cols, tsField, doc, req.StartTimestamp, req.EndTimestamp) {
				continue
			}
			numHits++
			if collector != nil {
				if err := collector.Collect(cols.Row(doc)); err != nil {
					return nil, err
				}
			}
			var (
				value   uint64
				missing bool
			)
			switch plan.mode {
			case sortByScore:
				value = docmapper.EncodeScore(matches.Scores[i])
			case sortByField:
				v, ok := cols.U64(plan.sortField, doc)
				value, missing = v, !ok
			default:
				value = uint64(doc)
			}
			top.add(seg.Ord(), doc, value, missing)
		}
	}

	resp := &search.LeafSearchResponse{
		NumHits:             numHits,
		PartialHits:         top.result(),
		NumAttemptedSplits:  1,
		NumSuccessfulSplits: 1,
	}
	if collector != nil {
		if resp.IntermediateAggregationResult, err = collector.Result(); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// InRange checks the timestamp of doc against [start, end). Docs without a timestamp
// never match a bounded range.
func InRange(cols *splitfile.Columns, field string, doc uint32, start, end *int64) bool {
	raw, ok := cols.U64(field, doc)
	if !ok {
		return false
	}
	ts := docmapper.DecodeI64(raw)
	if start != nil && ts < *start {
		return false
	}
	if end != nil && ts >= *end {
		return false
	}
	return true
}

func newSplitError(splitID string, err error) *search.SplitSearchError {
	return &search.SplitSearchError{
		Error:          err.Error(),
		SplitID:        splitID,
		RetryableError: Retryable(err),
	}
}

// Retryable classifies a split failure. Missing or corrupt splits and bad requests fail
// the same way on every attempt; everything else (I/O, timeouts, unreachable nodes) may
// succeed later.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrSplitCorrupt),
		errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, aggregation.ErrTooManyBuckets):
		return false
	default:
		return true
	}
}
