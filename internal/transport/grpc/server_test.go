package grpc

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/kailas-cloud/splitsearch/internal/aggregation"
	"github.com/kailas-cloud/splitsearch/internal/domain"
	"github.com/kailas-cloud/splitsearch/internal/domain/search"
	"github.com/kailas-cloud/splitsearch/internal/usecase/leaf"
)

type MockLeaf struct {
	mock.Mock
}

func (m *MockLeaf) LeafSearch(ctx context.Context, req *search.LeafSearchRequest) (*search.LeafSearchResponse, error) {
	args := m.Called(req.IndexURI)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*search.LeafSearchResponse), args.Error(1)
}

type fakeStreamer struct {
	msgs    []*search.LeafSearchStreamResponse
	stopped chan struct{}
}

func (f *fakeStreamer) LeafSearchStream(ctx context.Context, _ *search.LeafSearchStreamRequest) <-chan *search.LeafSearchStreamResponse {
	out := make(chan *search.LeafSearchStreamResponse)
	go func() {
		defer close(out)
		if f.stopped != nil {
			defer close(f.stopped)
		}
		for _, m := range f.msgs {
			select {
			case out <- m:
			case <-ctx.Done():
				return
			}
		}
		if f.stopped != nil {
			<-ctx.Done()
		}
	}()
	return out
}

func startServer(t *testing.T, svc Services) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := NewGRPCServer(NewServer("node-1", svc, zap.NewNop()), zap.NewNop())
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	c := NewClient(conn)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestServer_LeafSearch(t *testing.T) {
	ctx := context.Background()

	t.Run("response round trip", func(t *testing.T) {
		m := new(MockLeaf)
		want := &search.LeafSearchResponse{
			NumHits:             2,
			PartialHits:         []search.PartialHit{{SortingFieldValue: 7, SplitID: "s1", SegmentOrd: 1, DocID: 3}},
			NumAttemptedSplits:  2,
			NumSuccessfulSplits: 1,
			FailedSplits:        []search.SplitSearchError{{SplitID: "s2", Error: "boom", RetryableError: true}},
		}
		m.On("LeafSearch", "ram:///logs").Return(want, nil).Once()
		c := startServer(t, Services{Leaf: m})

		got, err := c.LeafSearch(ctx, &search.LeafSearchRequest{IndexURI: "ram:///logs"})

		require.NoError(t, err)
		assert.Equal(t, want, got)
		m.AssertExpectations(t)
	})

	t.Run("invalid request stays non retryable", func(t *testing.T) {
		m := new(MockLeaf)
		m.On("LeafSearch", "bad").Return(nil, domain.InvalidRequestf("unknown field %q", "nope")).Once()
		c := startServer(t, Services{Leaf: m})

		_, err := c.LeafSearch(ctx, &search.LeafSearchRequest{IndexURI: "bad"})

		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrInvalidRequest)
		assert.Contains(t, err.Error(), `unknown field "nope"`)
		assert.False(t, leaf.Retryable(err))
	})

	t.Run("internal error is retryable", func(t *testing.T) {
		m := new(MockLeaf)
		m.On("LeafSearch", "io").Return(nil, errors.New("disk on fire")).Once()
		c := startServer(t, Services{Leaf: m})

		_, err := c.LeafSearch(ctx, &search.LeafSearchRequest{IndexURI: "io"})

		require.Error(t, err)
		assert.Equal(t, codes.Internal, status.Code(err))
		assert.True(t, leaf.Retryable(err))
	})
}

func TestServer_Unimplemented(t *testing.T) {
	c := startServer(t, Services{})

	_, err := c.FetchDocs(context.Background(), &search.FetchDocsRequest{})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotImplemented)
}

func TestServer_Ping(t *testing.T) {
	c := startServer(t, Services{})

	assert.NoError(t, c.Ping(context.Background()))
}

func TestServer_LeafSearchStream(t *testing.T) {
	msgs := []*search.LeafSearchStreamResponse{
		{SplitID: "s1", Data: []byte("1\n2\n")},
		{SplitID: "s1", Data: []byte("3\n"), Last: true},
		{SplitID: "s2", FailedSplit: &search.SplitSearchError{SplitID: "s2", Error: "corrupt"}},
	}
	c := startServer(t, Services{Stream: &fakeStreamer{msgs: msgs}})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := c.LeafSearchStream(ctx, &search.LeafSearchStreamRequest{})
	require.NoError(t, err)

	var got []*search.LeafSearchStreamResponse
	for m := range ch {
		got = append(got, m)
	}
	assert.Equal(t, msgs, got)
}

func TestServer_LeafSearchStreamCancel(t *testing.T) {
	streamer := &fakeStreamer{
		msgs:    []*search.LeafSearchStreamResponse{{SplitID: "s1", Data: []byte("1\n")}},
		stopped: make(chan struct{}),
	}
	c := startServer(t, Services{Stream: streamer})
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := c.LeafSearchStream(ctx, &search.LeafSearchStreamRequest{})
	require.NoError(t, err)
	first := <-ch
	assert.Equal(t, "s1", first.SplitID)
	cancel()

	select {
	case <-streamer.stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("leaf stream kept running after the caller went away")
	}
	for range ch {
	}
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code codes.Code
		is   error
	}{
		{"invalid", domain.InvalidRequestf("x"), codes.InvalidArgument, domain.ErrInvalidRequest},
		{"index not found", domain.NewIndexNotFound("logs"), codes.NotFound, domain.ErrNotFound},
		{"corrupt", domain.ErrSplitCorrupt, codes.DataLoss, domain.ErrSplitCorrupt},
		{"buckets", aggregation.ErrTooManyBuckets, codes.ResourceExhausted, aggregation.ErrTooManyBuckets},
		{"no nodes", domain.ErrNoNodes, codes.Unavailable, domain.ErrNoNodes},
		{"deadline", context.DeadlineExceeded, codes.DeadlineExceeded, context.DeadlineExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := toStatus(tt.err)
			assert.Equal(t, tt.code, status.Code(st))
			back := fromStatus(st)
			assert.ErrorIs(t, back, tt.is)
			assert.Equal(t, tt.err.Error(), back.Error())
		})
	}
	assert.NoError(t, toStatus(nil))
	assert.NoError(t, fromStatus(nil))
}

func TestSplitFullMethod(t *testing.T) {
	svc, method := splitFullMethod(MethodLeafSearch)
	assert.Equal(t, ServiceName, svc)
	assert.Equal(t, "LeafSearch", method)

	svc, method = splitFullMethod("")
	assert.Equal(t, "unknown", svc)
	assert.Equal(t, "unknown", method)
}
