package stream

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/splitsearch/internal/cluster"
	"github.com/kailas-cloud/splitsearch/internal/domain/search"
	"github.com/kailas-cloud/splitsearch/internal/domain/split"
	"github.com/kailas-cloud/splitsearch/internal/repository/metastore"
	"github.com/kailas-cloud/splitsearch/internal/splitfile"
	"github.com/kailas-cloud/splitsearch/internal/splitfile/splittest"
	"github.com/kailas-cloud/splitsearch/internal/storage"
)

var errStorageDown = errors.New("storage temporarily unavailable")

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
	opener  *splitfile.Opener
	metas   map[string]*split.Metadata
	offsets map[string]search.SplitIDAndFooterOffsets
}

func newFixture(t *testing.T, splits map[string][]string) *fixture {
	t.Helper()
	r := storage.NewResolver("")
	f := &fixture{
		opener:  splitfile.NewOpener(r, nil),
		metas:   map[string]*split.Metadata{},
		offsets: map[string]search.SplitIDAndFooterOffsets{},
	}
	for id, docs := range splits {
		m := splittest.Build(t, r, id, 2, docs...)
		f.metas[id] = m
		f.offsets[id] = m.Offsets()
	}
	return f
}

func (f *fixture) executor(failing ...string) *LeafExecutor {
	fail := map[string]bool{}
	for _, id := range failing {
		fail[id] = true
	}
	return NewLeafExecutor(&flakyOpener{inner: f.opener, fail: fail}, 2, zap.NewNop())
}

func (f *fixture) request(t *testing.T, sr search.SearchStreamRequest, ids ...string) *search.LeafSearchStreamRequest {
	t.Helper()
	req := &search.LeafSearchStreamRequest{
		Request:   sr,
		DocMapper: splittest.MapperJSON(t),
		IndexURI:  splittest.IndexURI,
	}
	for _, id := range ids {
		req.SplitOffsets = append(req.SplitOffsets, f.offsets[id])
	}
	return req
}

// metastore publishes every split of the fixture under the test index.
func (f *fixture) metastore(t *testing.T) *metastore.File {
	t.Helper()
	ctx := context.Background()
	meta := metastore.NewFile(filepath.Join(t.TempDir(), "metastore.yaml"))
	err := meta.CreateIndex(ctx, split.IndexMetadata{
		IndexID:    splittest.IndexID,
		IndexURI:   splittest.IndexURI,
		DocMapping: splittest.MapperJSON(t),
	})
	if err != nil {
		t.Fatal(err)
	}
	var metas []*split.Metadata
	var ids []string
	for id, m := range f.metas {
		metas = append(metas, m)
		ids = append(ids, id)
	}
	if err := meta.StageSplits(ctx, splittest.IndexID, metas); err != nil {
		t.Fatal(err)
	}
	if err := meta.PublishSplits(ctx, splittest.IndexID, ids); err != nil {
		t.Fatal(err)
	}
	return meta
}

// splitResult is everything a leaf stream said about one split.
type splitResult struct {
	chunks [][]byte
	data   string
	lasts  int
	failed *search.SplitSearchError
}

// drain reads the whole leaf stream, failing the test if it does not end in time.
func drain(t *testing.T, ch <-chan *search.LeafSearchStreamResponse) map[string]*splitResult {
	t.Helper()
	out := map[string]*splitResult{}
	timeout := time.After(5 * time.Second)
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return out
			}
			r := out[msg.SplitID]
			if r == nil {
				r = &splitResult{}
				out[msg.SplitID] = r
			}
			if len(msg.Data) > 0 {
				r.chunks = append(r.chunks, msg.Data)
				r.data += string(msg.Data)
			}
			if msg.Last {
				r.lasts++
			}
			if msg.FailedSplit != nil {
				r.failed = msg.FailedSplit
			}
		case <-timeout:
			t.Fatal("stream did not end")
		}
	}
}

// streamClient serves LeafSearchStream from a fixed function.
type streamClient struct {
	cluster.Client
	fn func(ctx context.Context, req *search.LeafSearchStreamRequest) (<-chan *search.LeafSearchStreamResponse, error)
}

func (c streamClient) LeafSearchStream(ctx context.Context, req *search.LeafSearchStreamRequest) (<-chan *search.LeafSearchStreamResponse, error) {
	return c.fn(ctx, req)
}

func ptr[T any](v T) *T { return &v }
