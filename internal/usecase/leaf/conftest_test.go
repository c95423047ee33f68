package leaf

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/splitsearch/internal/domain/search"
	"github.com/kailas-cloud/splitsearch/internal/splitfile"
	"github.com/kailas-cloud/splitsearch/internal/splitfile/splittest"
	"github.com/kailas-cloud/splitsearch/internal/storage"
)

var errStorageDown = errors.New("storage temporarily unavailable")

// flakyOpener fails the listed splits with a transient error.
type flakyOpener struct {
	inner *splitfile.Opener
	fail  map[string]bool
}

func (o *flakyOpener) Open(ctx context.Context, indexURI string, offsets search.SplitIDAndFooterOffsets) (*splitfile.Reader, error) {
	if o.fail[offsets.SplitID] {
		return nil, errStorageDown
	}
	return o.inner.Open(ctx, indexURI, offsets)
}

type fixture struct {
	resolver *storage.DefaultResolver
	opener   *splitfile.Opener
	offsets  map[string]search.SplitIDAndFooterOffsets
}

func newFixture(t *testing.T, splits map[string][]string) *fixture {
	t.Helper()
	f := &fixture{
		resolver: storage.NewResolver(""),
		offsets:  map[string]search.SplitIDAndFooterOffsets{},
	}
	for id, docs := range splits {
		f.offsets[id] = splittest.Build(t, f.resolver, id, 2, docs...).Offsets()
	}
	f.opener = splitfile.NewOpener(f.resolver, nil)
	return f
}

func (f *fixture) service(failing ...string) *Service {
	fail := map[string]bool{}
	for _, id := range failing {
		fail[id] = true
	}
	exec := NewExecutor(&flakyOpener{inner: f.opener, fail: fail}, 0)
	return New(exec, 4, zap.NewNop())
}

func (f *fixture) request(t *testing.T, sr search.SearchRequest, ids ...string) *search.LeafSearchRequest {
	t.Helper()
	req := &search.LeafSearchRequest{
		SearchRequest: sr,
		DocMapper:     splittest.MapperJSON(t),
		IndexURI:      splittest.IndexURI,
	}
	for _, id := range ids {
		off, ok := f.offsets[id]
		if !ok {
			off = search.SplitIDAndFooterOffsets{SplitID: id, SplitFooterStart: 0, SplitFooterEnd: 10}
		}
		req.SplitOffsets = append(req.SplitOffsets, off)
	}
	return req
}

// countingSearcher records how many split searches run at once.
type countingSearcher struct {
	mu      sync.Mutex
	current int
	max     int
	calls   atomic.Int32
	release chan struct{}
}

func (c *countingSearcher) SearchSplit(ctx context.Context, _ *Plan, offsets search.SplitIDAndFooterOffsets) (*search.LeafSearchResponse, *search.SplitSearchError) {
	c.calls.Add(1)
	c.mu.Lock()
	c.current++
	c.max = max(c.max, c.current)
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.current--
		c.mu.Unlock()
	}()

	select {
	case <-c.release:
	case <-ctx.Done():
		return nil, newSplitError(offsets.SplitID, ctx.Err())
	}
	return &search.LeafSearchResponse{
		NumHits:             1,
		PartialHits:         []search.PartialHit{{SortingFieldValue: 1, SplitID: offsets.SplitID}},
		NumAttemptedSplits:  1,
		NumSuccessfulSplits: 1,
	}, nil
}

func ptr[T any](v T) *T { return &v }
