package stream

import (
	"cmp"
	"context"
	"slices"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/kailas-cloud/splitsearch/internal/docmapper"
	"github.com/kailas-cloud/splitsearch/internal/domain/search"
	"github.com/kailas-cloud/splitsearch/internal/domain/split"
	"github.com/kailas-cloud/splitsearch/internal/logger"
	"github.com/kailas-cloud/splitsearch/internal/metrics"
	"github.com/kailas-cloud/splitsearch/internal/splitfile"
	"github.com/kailas-cloud/splitsearch/internal/usecase/leaf"
)

const (
	// DefaultMaxConcurrentSplitStreams bounds the splits streamed at once on a node.
	DefaultMaxConcurrentSplitStreams = 10
	// DefaultChunkSize is the size at which an unpartitioned chunk is flushed.
	DefaultChunkSize = 64 << 10
)

// SplitOpener opens split readers.
type SplitOpener interface {
	Open(ctx context.Context, indexURI string, offsets search.SplitIDAndFooterOffsets) (*splitfile.Reader, error)
}

// LeafExecutor streams the splits assigned to this node.
type LeafExecutor struct {
	opener    SplitOpener
	sem       *semaphore.Weighted
	chunkSize int
	logger    *zap.Logger
}

// NewLeafExecutor creates a stream executor. maxConcurrent bounds the split streams of
// all requests on this node.
func NewLeafExecutor(opener SplitOpener, maxConcurrent int, logger *zap.Logger) *LeafExecutor {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentSplitStreams
	}
	return &LeafExecutor{
		opener:    opener,
		sem:       semaphore.NewWeighted(int64(maxConcurrent)),
		chunkSize: DefaultChunkSize,
		logger:    logger,
	}
}

// LeafSearchStream streams every split of req concurrently. Each split ends with either
// a Last message or a FailedSplit message; the channel is closed once all splits are
// done. On cancellation the executor stops reading, closes its readers and closes the
// channel without further messages.
func (e *LeafExecutor) LeafSearchStream(ctx context.Context, req *search.LeafSearchStreamRequest) <-chan *search.LeafSearchStreamResponse {
	out := make(chan *search.LeafSearchStreamResponse, 1)
	go func() {
		defer close(out)
		log := logger.FromContext(logger.Ensure(ctx, e.logger))

		plan, err := NewLeafPlan(req)
		if err != nil {
			for _, o := range req.SplitOffsets {
				if !send(ctx, out, failed(o.SplitID, err)) {
					return
				}
			}
			return
		}

		var g errgroup.Group
		for _, offsets := range req.SplitOffsets {
			g.Go(func() error {
				if err := e.sem.Acquire(ctx, 1); err != nil {
					return nil
				}
				defer e.sem.Release(1)
				err := e.streamSplit(ctx, plan, offsets, out)
				if err == nil || ctx.Err() != nil {
					return nil
				}
				log.Warn("Split stream failed", zap.String("split_id", offsets.SplitID), zap.Error(err))
				send(ctx, out, failed(offsets.SplitID, err))
				return nil
			})
		}
		_ = g.Wait()
	}()
	return out
}

func (e *LeafExecutor) streamSplit(
	ctx context.Context, plan *Plan, offsets search.SplitIDAndFooterOffsets, out chan<- *search.LeafSearchStreamResponse,
) error {
	reader, err := e.opener.Open(ctx, plan.IndexURI, offsets)
	if err != nil {
		return err
	}
	defer reader.Close()

	req := plan.Request
	checkTime := !split.Covers(req.StartTimestamp, req.EndTimestamp, offsets)
	tsField := plan.Mapper.TimestampField()
	var buf []byte
	partitions := map[uint64][]byte{}

	for _, seg := range reader.Segments() {
		if err := ctx.Err(); err != nil {
			return err
		}
		matches, err := seg.Search(ctx, plan.Query, plan.Mapper, plan.SearchFields, false)
		if err != nil {
			return err
		}
		if len(matches.Docs) == 0 {
			continue
		}
		cols, err := seg.FastColumns(ctx)
		if err != nil {
			return err
		}
		for _, doc := range matches.Docs {
			if checkTime && !leaf.InRange(cols, tsField, doc, req.StartTimestamp, req.EndTimestamp) {
				continue
			}
			value, ok := cols.U64(plan.Field.Name, doc)
			if !ok {
				continue
			}
			if plan.Partition == nil {
				buf = plan.appendRow(buf, nil, value)
				if len(buf) >= e.chunkSize {
					if !send(ctx, out, chunk(offsets.SplitID, buf)) {
						return ctx.Err()
					}
					buf = nil
				}
				continue
			}
			part, ok := cols.U64(plan.Partition.Name, doc)
			if !ok {
				continue
			}
			partitions[part] = plan.appendRow(partitions[part], &part, value)
		}
	}

	keys := make([]uint64, 0, len(partitions))
	for k := range partitions {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, cmp.Compare[uint64])
	for _, k := range keys {
		msg := chunk(offsets.SplitID, partitions[k])
		raw := docmapper.RawValue(plan.Partition.Type, k)
		msg.PartitionValue = &raw
		if !send(ctx, out, msg) {
			return ctx.Err()
		}
	}

	last := chunk(offsets.SplitID, buf)
	last.Last = true
	if !send(ctx, out, last) {
		return ctx.Err()
	}
	return nil
}

func chunk(splitID string, data []byte) *search.LeafSearchStreamResponse {
	if len(data) > 0 {
		metrics.StreamChunksTotal.Inc()
		metrics.StreamBytesTotal.Add(float64(len(data)))
	}
	return &search.LeafSearchStreamResponse{SplitID: splitID, Data: data}
}

func failed(splitID string, err error) *search.LeafSearchStreamResponse {
	return &search.LeafSearchStreamResponse{
		SplitID: splitID,
		FailedSplit: &search.SplitSearchError{
			Error:          err.Error(),
			SplitID:        splitID,
			RetryableError: leaf.Retryable(err),
		},
	}
}

// send delivers msg unless ctx is done first.
func send[T any](ctx context.Context, out chan<- T, msg T) bool {
	select {
	case out <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}
