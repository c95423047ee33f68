package splitsearch

import (
	"context"
	"encoding/binary"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kailas-cloud/splitsearch/internal/domain"
	"github.com/kailas-cloud/splitsearch/internal/domain/search"
	chiTransport "github.com/kailas-cloud/splitsearch/internal/transport/chi"
	healthuc "github.com/kailas-cloud/splitsearch/internal/usecase/health"
	streamuc "github.com/kailas-cloud/splitsearch/internal/usecase/stream"
)

const testKey = "secret"

type fakeNode struct {
	searchFn  func(*search.SearchRequest) (*search.SearchResponse, error)
	items     []streamuc.StreamItem
	lastTerms *search.ListTermsRequest
	health    healthuc.Report
}

func (f *fakeNode) RootSearch(_ context.Context, req *search.SearchRequest) (*search.SearchResponse, error) {
	return f.searchFn(req)
}

func (f *fakeNode) SearchStream(_ context.Context, _ *search.SearchStreamRequest) (<-chan streamuc.StreamItem, error) {
	ch := make(chan streamuc.StreamItem, len(f.items))
	for _, it := range f.items {
		ch <- it
	}
	close(ch)
	return ch, nil
}

func (f *fakeNode) RootListTerms(_ context.Context, req *search.ListTermsRequest) (*search.ListTermsResponse, error) {
	f.lastTerms = req
	return &search.ListTermsResponse{NumHits: 2, Terms: []string{"db1", "web1"}, Errors: []string{}}, nil
}

func (f *fakeNode) Check(context.Context) healthuc.Report { return f.health }

func newTestClient(t *testing.T, node *fakeNode, opts ...Option) *Client {
	t.Helper()
	r := chi.NewRouter()
	r.Use(chiTransport.BearerAuthMiddleware([]string{testKey}))
	chiTransport.NewServer(node, node, node, node, zap.NewNop()).Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, append([]Option{WithAPIKey(testKey)}, opts...)...)
	require.NoError(t, err)
	return c
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := New("localhost:8080")
	assert.Error(t, err)
	_, err = New("ftp://host")
	assert.Error(t, err)
}

func TestSearch(t *testing.T) {
	var got *search.SearchRequest
	node := &fakeNode{searchFn: func(req *search.SearchRequest) (*search.SearchResponse, error) {
		got = req
		return &search.SearchResponse{
			NumHits: 7,
			Hits:    []search.Hit{{JSON: []byte(`{"body":"disk full"}`), PartialHit: search.PartialHit{SplitID: "s1", DocID: 3}}},
			Errors:  []string{"split s9: corrupt"},
		}, nil
	}}
	c := newTestClient(t, node)

	resp, err := c.Search(context.Background(), "logs", &SearchRequest{
		Query:       "body:disk",
		MaxHits:     5,
		SortOrder:   Ptr(SortAsc),
		SortByField: Ptr("ts"),
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(7), resp.NumHits)
	require.Len(t, resp.Hits, 1)
	assert.JSONEq(t, `{"body":"disk full"}`, string(resp.Hits[0].JSON))
	assert.Equal(t, []string{"split s9: corrupt"}, resp.Errors)

	assert.Equal(t, "logs", got.IndexID)
	assert.Equal(t, uint64(5), got.MaxHits)
	assert.Equal(t, SortAsc, *got.SortOrder)
}

func TestSearch_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		status int
	}{
		{"invalid", domain.InvalidRequestf("unknown field %q", "nope"), ErrInvalidRequest, http.StatusBadRequest},
		{"index not found", domain.NewIndexNotFound("logs"), ErrIndexNotFound, http.StatusNotFound},
		{"no nodes", domain.ErrNoNodes, ErrNoNodes, http.StatusServiceUnavailable},
		{"internal", errors.New("boom"), nil, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := &fakeNode{searchFn: func(*search.SearchRequest) (*search.SearchResponse, error) { return nil, tt.err }}
			c := newTestClient(t, node)

			_, err := c.Search(context.Background(), "logs", &SearchRequest{Query: "*"})
			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
		})
	}

	t.Run("index not found is not found", func(t *testing.T) {
		node := &fakeNode{searchFn: func(*search.SearchRequest) (*search.SearchResponse, error) {
			return nil, domain.NewIndexNotFound("logs")
		}}
		_, err := newTestClient(t, node).Search(context.Background(), "logs", &SearchRequest{})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestUnauthorized(t *testing.T) {
	c := newTestClient(t, &fakeNode{}, WithAPIKey("wrong"))
	_, err := c.ListTerms(context.Background(), "logs", &ListTermsRequest{Field: "host"})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestListTerms(t *testing.T) {
	node := &fakeNode{}
	c := newTestClient(t, node)

	resp, err := c.ListTerms(context.Background(), "logs", &ListTermsRequest{Field: "host", MaxHits: Ptr[uint64](10)})
	require.NoError(t, err)
	assert.Equal(t, []string{"db1", "web1"}, resp.Terms)
	assert.Equal(t, "host", node.lastTerms.Field)
	assert.Equal(t, "logs", node.lastTerms.IndexID)
}

func TestSearchStream_CSV(t *testing.T) {
	node := &fakeNode{items: []streamuc.StreamItem{
		{SplitID: "s1", Data: []byte("1,10\n1,11\n")},
		{SplitID: "s2", Err: &search.SplitSearchError{SplitID: "s2", Error: "boom", RetryableError: true}},
		{SplitID: "s3", Data: []byte("2,12\n")},
	}}
	c := newTestClient(t, node)

	st, err := c.SearchStream(context.Background(), "logs", &SearchStreamRequest{
		Query:            "*",
		FastField:        "latency",
		PartitionByField: Ptr("host_id"),
	})
	require.NoError(t, err)
	defer st.Close()

	var rows []Row
	for st.Next() {
		rows = append(rows, st.Row())
	}
	require.NoError(t, st.Err())
	require.Len(t, rows, 3)
	assert.Equal(t, Row{HasPartition: true, Partition: "1", Value: "10"}, rows[0])
	assert.Equal(t, "12", rows[2].Value)
	assert.Equal(t, []string{"split s2: boom (retryable)"}, st.SplitErrors())
}

func TestSearchStream_RowBinary(t *testing.T) {
	data := binary.LittleEndian.AppendUint64(nil, 42)
	data = binary.LittleEndian.AppendUint64(data, 43)
	node := &fakeNode{items: []streamuc.StreamItem{{SplitID: "s1", Data: data}}}
	c := newTestClient(t, node)

	st, err := c.SearchStream(context.Background(), "logs", &SearchStreamRequest{
		Query:        "*",
		FastField:    "rank",
		OutputFormat: OutputRowBinary,
	})
	require.NoError(t, err)
	defer st.Close()

	var got []uint64
	for st.Next() {
		got = append(got, st.Row().RawValue)
	}
	require.NoError(t, st.Err())
	assert.Equal(t, []uint64{42, 43}, got)
	assert.Empty(t, st.SplitErrors())
}

func TestSearchStream_TruncatedRow(t *testing.T) {
	node := &fakeNode{items: []streamuc.StreamItem{{SplitID: "s1", Data: []byte{1, 2, 3}}}}
	c := newTestClient(t, node)

	st, err := c.SearchStream(context.Background(), "logs", &SearchStreamRequest{
		Query:        "*",
		FastField:    "rank",
		OutputFormat: OutputRowBinary,
	})
	require.NoError(t, err)
	defer st.Close()
	assert.False(t, st.Next())
	assert.Error(t, st.Err())
}

func TestHealth(t *testing.T) {
	node := &fakeNode{health: healthuc.Report{
		Status: healthuc.Degraded,
		Checks: map[string]healthuc.CheckResult{"metastore": healthuc.CheckOK, "node:n2": healthuc.CheckError},
	}}
	c := newTestClient(t, node)

	hs, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.False(t, hs.Healthy())
	assert.Equal(t, "degraded", hs.Status)
	assert.Equal(t, "error", hs.Checks["node:n2"])

	node.health = healthuc.Report{Status: healthuc.Healthy, Checks: map[string]healthuc.CheckResult{"metastore": healthuc.CheckOK}}
	hs, err = c.Health(context.Background())
	require.NoError(t, err)
	assert.True(t, hs.Healthy())
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	node := &fakeNode{searchFn: func(*search.SearchRequest) (*search.SearchResponse, error) {
		return &search.SearchResponse{}, nil
	}}
	c := newTestClient(t, node, WithPrometheus(reg))

	_, err := c.Search(context.Background(), "logs", &SearchRequest{})
	require.NoError(t, err)
	assert.InDelta(t, 1, testutil.ToFloat64(c.obs.metrics.operations.WithLabelValues("search", "ok")), 0)

	// A second client on the same registry reuses the collectors.
	c2, err := New("http://localhost:1", WithPrometheus(reg))
	require.NoError(t, err)
	assert.Same(t, c.obs.metrics.operations, c2.obs.metrics.operations)
}

func TestMetrics_PartialResults(t *testing.T) {
	reg := prometheus.NewRegistry()
	node := &fakeNode{
		searchFn: func(*search.SearchRequest) (*search.SearchResponse, error) {
			return &search.SearchResponse{Errors: []string{"split s2: boom"}}, nil
		},
		items: []streamuc.StreamItem{
			{SplitID: "s1", Data: []byte("10\n")},
			{SplitID: "s2", Err: &search.SplitSearchError{SplitID: "s2", Error: "boom", RetryableError: true}},
		},
	}
	c := newTestClient(t, node, WithPrometheus(reg))
	ops := c.obs.metrics.operations

	_, err := c.Search(context.Background(), "logs", &SearchRequest{})
	require.NoError(t, err)
	assert.InDelta(t, 1, testutil.ToFloat64(ops.WithLabelValues("search", "partial")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.obs.metrics.failedSplits.WithLabelValues("search")), 0)

	st, err := c.SearchStream(context.Background(), "logs", &SearchStreamRequest{Query: "*", FastField: "latency"})
	require.NoError(t, err)
	rows := 0
	for st.Next() {
		rows++
	}
	assert.Equal(t, 1, rows)
	require.NoError(t, st.Close())
	assert.InDelta(t, 1, testutil.ToFloat64(ops.WithLabelValues("search_stream", "partial")), 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Search(ctx, "logs", &SearchRequest{})
	require.Error(t, err)
	assert.InDelta(t, 1, testutil.ToFloat64(ops.WithLabelValues("search", "canceled")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(ops.WithLabelValues("search", "error")), 0)
}
