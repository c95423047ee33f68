package stream

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/splitsearch/internal/cluster"
	"github.com/kailas-cloud/splitsearch/internal/domain/search"
	"github.com/kailas-cloud/splitsearch/internal/domain/split"
	"github.com/kailas-cloud/splitsearch/internal/logger"
	"github.com/kailas-cloud/splitsearch/internal/usecase/leaf"
	"github.com/kailas-cloud/splitsearch/internal/usecase/root"
)

var errIncompleteSplit = errors.New("leaf stream ended before the split completed")

// StreamItem is one element of a root stream: either a chunk of rows or the failure of
// one split. Other splits keep streaming after a failure.
type StreamItem struct {
	SplitID        string
	PartitionValue *uint64
	Data           []byte
	Err            *search.SplitSearchError
}

// RootService fans a stream request out to the leaves and relays their chunks as they
// arrive. Chunks of different splits interleave in no particular order.
type RootService struct {
	meta   root.Metastore
	pool   root.NodePool
	logger *zap.Logger
}

// NewRootService creates a root stream service.
func NewRootService(meta root.Metastore, pool root.NodePool, logger *zap.Logger) *RootService {
	return &RootService{meta: meta, pool: pool, logger: logger}
}

// SearchStream validates req, resolves its splits and starts streaming them. Request
// problems are returned before any leaf is contacted; the channel is closed when every
// assigned split has ended or ctx is done.
func (s *RootService) SearchStream(ctx context.Context, req *search.SearchStreamRequest) (<-chan StreamItem, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	idx, err := root.ResolveIndex(ctx, s.meta, req.IndexID)
	if err != nil {
		return nil, err
	}
	plan, err := NewPlan(req, idx.Mapper, idx.Meta.IndexURI)
	if err != nil {
		return nil, err
	}
	filter := split.NewFilter(req.StartTimestamp, req.EndTimestamp, plan.Query, idx.Mapper)
	splits, err := s.meta.ListSplits(ctx, req.IndexID, filter)
	if err != nil {
		return nil, fmt.Errorf("list splits: %w", err)
	}
	offsets := lo.Map(splits, func(m *split.Metadata, _ int) search.SplitIDAndFooterOffsets { return m.Offsets() })
	assignment, err := cluster.Assign(offsets, func(o search.SplitIDAndFooterOffsets) string { return o.SplitID }, s.pool.Nodes())
	if err != nil {
		return nil, err
	}

	log := s.logger.With(zap.String("query_id", uuid.NewString()), zap.String("index_id", req.IndexID))
	ctx = logger.ContextWithLogger(ctx, log)
	log.Info("Search stream started", zap.Int("splits", len(offsets)), zap.Int("nodes", len(assignment)))

	out := make(chan StreamItem, 1)
	go func() {
		defer close(out)
		var g errgroup.Group
		for node, assigned := range assignment {
			leafReq := &search.LeafSearchStreamRequest{
				Request:      *req,
				SplitOffsets: assigned,
				DocMapper:    idx.Meta.DocMapping,
				IndexURI:     idx.Meta.IndexURI,
			}
			g.Go(func() error {
				s.relay(ctx, node, leafReq, out)
				return nil
			})
		}
		_ = g.Wait()
		log.Info("Search stream finished", zap.Bool("cancelled", ctx.Err() != nil))
	}()
	return out, nil
}

// relay forwards the stream of one leaf. Splits the leaf never finished are reported as
// retryable failures, unless the caller went away.
func (s *RootService) relay(ctx context.Context, node string, req *search.LeafSearchStreamRequest, out chan<- StreamItem) {
	pending := lo.SliceToMap(req.SplitOffsets, func(o search.SplitIDAndFooterOffsets) (string, bool) { return o.SplitID, true })
	failPending := func(err error) {
		logger.FromContext(ctx).Warn("Leaf stream failed", zap.String("node_id", node), zap.Error(err))
		ids := lo.Keys(pending)
		slices.Sort(ids)
		for _, id := range ids {
			e := search.SplitSearchError{
				Error:          fmt.Sprintf("node %s: %v", node, err),
				SplitID:        id,
				RetryableError: leaf.Retryable(err),
			}
			if !send(ctx, out, StreamItem{SplitID: id, Err: &e}) {
				return
			}
		}
	}

	client, err := s.pool.Client(node)
	if err != nil {
		failPending(err)
		return
	}
	ch, err := client.LeafSearchStream(ctx, req)
	if err != nil {
		failPending(err)
		return
	}
	for msg := range ch {
		if !pending[msg.SplitID] {
			continue
		}
		switch {
		case msg.FailedSplit != nil:
			delete(pending, msg.SplitID)
			send(ctx, out, StreamItem{SplitID: msg.SplitID, Err: msg.FailedSplit})
			continue
		case len(msg.Data) > 0:
			send(ctx, out, StreamItem{SplitID: msg.SplitID, PartitionValue: msg.PartitionValue, Data: msg.Data})
		}
		if msg.Last {
			delete(pending, msg.SplitID)
		}
	}
	if ctx.Err() != nil || len(pending) == 0 {
		return
	}
	failPending(errIncompleteSplit)
}
