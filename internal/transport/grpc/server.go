package grpc

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/kailas-cloud/splitsearch/internal/domain"
	"github.com/kailas-cloud/splitsearch/internal/domain/search"
)

// RootSearcher serves RootSearch.
type RootSearcher interface {
	RootSearch(ctx context.Context, req *search.SearchRequest) (*search.SearchResponse, error)
}

// LeafSearcher serves LeafSearch.
type LeafSearcher interface {
	LeafSearch(ctx context.Context, req *search.LeafSearchRequest) (*search.LeafSearchResponse, error)
}

// DocFetcher serves FetchDocs.
type DocFetcher interface {
	FetchDocs(ctx context.Context, req *search.FetchDocsRequest) (*search.FetchDocsResponse, error)
}

// LeafStreamer serves LeafSearchStream.
type LeafStreamer interface {
	LeafSearchStream(ctx context.Context, req *search.LeafSearchStreamRequest) <-chan *search.LeafSearchStreamResponse
}

// RootTermLister serves RootListTerms.
type RootTermLister interface {
	RootListTerms(ctx context.Context, req *search.ListTermsRequest) (*search.ListTermsResponse, error)
}

// LeafTermLister serves LeafListTerms.
type LeafTermLister interface {
	LeafListTerms(ctx context.Context, req *search.LeafListTermsRequest) (*search.LeafListTermsResponse, error)
}

// Services groups the usecases a node serves. Nil services answer Unimplemented.
type Services struct {
	Root      RootSearcher
	Leaf      LeafSearcher
	Fetch     DocFetcher
	Stream    LeafStreamer
	RootTerms RootTermLister
	LeafTerms LeafTermLister
}

// Compile-time check.
var _ SearchServer = (*Server)(nil)

// Server adapts the usecases to the gRPC service.
type Server struct {
	nodeID string
	svc    Services
	logger *zap.Logger
}

// NewServer creates a Server.
func NewServer(nodeID string, svc Services, logger *zap.Logger) *Server {
	return &Server{nodeID: nodeID, svc: svc, logger: logger}
}

// NewGRPCServer creates a grpc.Server with the logging and metrics interceptors and
// registers srv on it.
func NewGRPCServer(srv *Server, logger *zap.Logger, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts,
		grpc.ChainUnaryInterceptor(UnaryInterceptor(logger)),
		grpc.ChainStreamInterceptor(StreamInterceptor(logger)),
	)
	s := grpc.NewServer(opts...)
	RegisterSearchServer(s, srv)
	return s
}

var errUnimplemented = fmt.Errorf("method not served by this node: %w", domain.ErrNotImplemented)

func call[Req, Resp any](ctx context.Context, req *Req, fn func(context.Context, *Req) (*Resp, error)) (*Resp, error) {
	resp, err := fn(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	return resp, nil
}

// RootSearch implements SearchServer.
func (s *Server) RootSearch(ctx context.Context, req *search.SearchRequest) (*search.SearchResponse, error) {
	if s.svc.Root == nil {
		return nil, toStatus(errUnimplemented)
	}
	return call(ctx, req, s.svc.Root.RootSearch)
}

// LeafSearch implements SearchServer.
func (s *Server) LeafSearch(ctx context.Context, req *search.LeafSearchRequest) (*search.LeafSearchResponse, error) {
	if s.svc.Leaf == nil {
		return nil, toStatus(errUnimplemented)
	}
	return call(ctx, req, s.svc.Leaf.LeafSearch)
}

// FetchDocs implements SearchServer.
func (s *Server) FetchDocs(ctx context.Context, req *search.FetchDocsRequest) (*search.FetchDocsResponse, error) {
	if s.svc.Fetch == nil {
		return nil, toStatus(errUnimplemented)
	}
	return call(ctx, req, s.svc.Fetch.FetchDocs)
}

// RootListTerms implements SearchServer.
func (s *Server) RootListTerms(ctx context.Context, req *search.ListTermsRequest) (*search.ListTermsResponse, error) {
	if s.svc.RootTerms == nil {
		return nil, toStatus(errUnimplemented)
	}
	return call(ctx, req, s.svc.RootTerms.RootListTerms)
}

// LeafListTerms implements SearchServer.
func (s *Server) LeafListTerms(ctx context.Context, req *search.LeafListTermsRequest) (*search.LeafListTermsResponse, error) {
	if s.svc.LeafTerms == nil {
		return nil, toStatus(errUnimplemented)
	}
	return call(ctx, req, s.svc.LeafTerms.LeafListTerms)
}

// Ping implements SearchServer.
func (s *Server) Ping(context.Context, *PingRequest) (*PingResponse, error) {
	return &PingResponse{NodeID: s.nodeID}, nil
}

// LeafSearchStream implements SearchServer. When sending fails the leaf is cancelled
// and its channel drained, so no split reader outlives the call.
func (s *Server) LeafSearchStream(req *search.LeafSearchStreamRequest, stream grpc.ServerStream) error {
	if s.svc.Stream == nil {
		return toStatus(errUnimplemented)
	}
	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()

	ch := s.svc.Stream.LeafSearchStream(ctx, req)
	for msg := range ch {
		if err := stream.SendMsg(msg); err != nil {
			cancel()
			for range ch {
			}
			s.logger.Debug("Leaf stream aborted",
				zap.Int("splits", len(req.SplitOffsets)),
				zap.Error(err),
			)
			return err
		}
	}
	return toStatus(stream.Context().Err())
}
