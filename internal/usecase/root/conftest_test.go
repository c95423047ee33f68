package root

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
	"github.com/kailas-cloud/splitsearch/internal/usecase/fetch"
	"github.com/kailas-cloud/splitsearch/internal/usecase/leaf"
)

var errUnreachable = errors.New("connection refused")

// flakyOpener fails the listed splits with a transient error.
type flakyOpener struct {
	inner *splitfile.Opener
	fail  map[string]bool
}

func (o *flakyOpener) Open(ctx context.Context, indexURI string, offsets search.SplitIDAndFooterOffsets) (*splitfile.Reader, error) {
	if o.fail[offsets.SplitID] {
		return nil, errors.New("storage temporarily unavailable")
	}
	return o.inner.Open(ctx, indexURI, offsets)
}

// downClient fails every call like an unreachable node.
type downClient struct {
	cluster.Client
}

func (downClient) LeafSearch(context.Context, *search.LeafSearchRequest) (*search.LeafSearchResponse, error) {
	return nil, errUnreachable
}

func (downClient) FetchDocs(context.Context, *search.FetchDocsRequest) (*search.FetchDocsResponse, error) {
	return nil, errUnreachable
}

// noFetchClient searches but cannot fetch documents.
type noFetchClient struct {
	*cluster.Local
}

func (noFetchClient) FetchDocs(context.Context, *search.FetchDocsRequest) (*search.FetchDocsResponse, error) {
	return nil, errUnreachable
}

type fixture struct {
	meta     *metastore.File
	resolver storage.Resolver
	opener   *splitfile.Opener
	pool     *cluster.Pool
}

// newFixture registers the test index in a file metastore and publishes one split per
// entry of splits.
func newFixture(t *testing.T, splits map[string][]string) *fixture {
	t.Helper()
	ctx := context.Background()
	r := storage.NewResolver("")
	f := &fixture{
		meta:     metastore.NewFile(filepath.Join(t.TempDir(), "metastore.yaml")),
		resolver: r,
		opener:   splitfile.NewOpener(r, nil),
		pool:     cluster.NewPool(),
	}
	err := f.meta.CreateIndex(ctx, split.IndexMetadata{
		IndexID:    splittest.IndexID,
		IndexURI:   splittest.IndexURI,
		DocMapping: splittest.MapperJSON(t),
	})
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	var metas []*split.Metadata
	for id, docs := range splits {
		metas = append(metas, splittest.Build(t, r, id, 2, docs...))
		ids = append(ids, id)
	}
	if len(metas) == 0 {
		return f
	}
	if err := f.meta.StageSplits(ctx, splittest.IndexID, metas); err != nil {
		t.Fatal(err)
	}
	if err := f.meta.PublishSplits(ctx, splittest.IndexID, ids); err != nil {
		t.Fatal(err)
	}
	return f
}

// local builds the in-process leaf stack of one node.
func (f *fixture) local(failing ...string) *cluster.Local {
	fail := map[string]bool{}
	for _, id := range failing {
		fail[id] = true
	}
	opener := &flakyOpener{inner: f.opener, fail: fail}
	leafSvc := leaf.New(leaf.NewExecutor(opener, 0), 4, zap.NewNop())
	return cluster.NewLocal(leafSvc, fetch.New(opener, 4, zap.NewNop()), nil, nil)
}

func (f *fixture) service() *Service {
	return New(f.meta, f.pool, time.Second, zap.NewNop())
}

func ptr[T any](v T) *T { return &v }
