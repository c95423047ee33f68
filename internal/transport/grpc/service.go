// Package grpc exposes the search service between nodes over gRPC.
package grpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/kailas-cloud/splitsearch/internal/domain/search"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "splitsearch.v1.SearchService"

// Full method names.
const (
	MethodRootSearch       = "/" + ServiceName + "/RootSearch"
	MethodLeafSearch       = "/" + ServiceName + "/LeafSearch"
	MethodFetchDocs        = "/" + ServiceName + "/FetchDocs"
	MethodLeafSearchStream = "/" + ServiceName + "/LeafSearchStream"
	MethodRootListTerms    = "/" + ServiceName + "/RootListTerms"
	MethodLeafListTerms    = "/" + ServiceName + "/LeafListTerms"
	MethodPing             = "/" + ServiceName + "/Ping"
)

// PingRequest is the empty ping payload.
type PingRequest struct{}

// PingResponse identifies the answering node.
type PingResponse struct {
	NodeID string `json:"node_id"`
}

// SearchServer is the server side of the search service.
type SearchServer interface {
	RootSearch(ctx context.Context, req *search.SearchRequest) (*search.SearchResponse, error)
	LeafSearch(ctx context.Context, req *search.LeafSearchRequest) (*search.LeafSearchResponse, error)
	FetchDocs(ctx context.Context, req *search.FetchDocsRequest) (*search.FetchDocsResponse, error)
	LeafSearchStream(req *search.LeafSearchStreamRequest, stream grpc.ServerStream) error
	RootListTerms(ctx context.Context, req *search.ListTermsRequest) (*search.ListTermsResponse, error)
	LeafListTerms(ctx context.Context, req *search.LeafListTermsRequest) (*search.LeafListTermsResponse, error)
	Ping(ctx context.Context, req *PingRequest) (*PingResponse, error)
}

// RegisterSearchServer registers srv on s.
func RegisterSearchServer(s grpc.ServiceRegistrar, srv SearchServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SearchServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodRootSearch, SearchServer.RootSearch),
		unary(MethodLeafSearch, SearchServer.LeafSearch),
		unary(MethodFetchDocs, SearchServer.FetchDocs),
		unary(MethodRootListTerms, SearchServer.RootListTerms),
		unary(MethodLeafListTerms, SearchServer.LeafListTerms),
		unary(MethodPing, SearchServer.Ping),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "LeafSearchStream",
			Handler:       leafSearchStreamHandler,
			ServerStreams: true,
		},
	},
}

// unary builds the descriptor of a request/response method.
func unary[Req, Resp any](
	fullMethod string, call func(SearchServer, context.Context, *Req) (*Resp, error),
) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: fullMethod[len(ServiceName)+2:],
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(SearchServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(SearchServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func leafSearchStreamHandler(srv any, stream grpc.ServerStream) error {
	in := new(search.LeafSearchStreamRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(SearchServer).LeafSearchStream(in, stream)
}
