package grpc

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/kailas-cloud/splitsearch/internal/cluster"
	"github.com/kailas-cloud/splitsearch/internal/domain/search"
)

// Compile-time check.
var _ cluster.Client = (*Client)(nil)

// Client calls a remote node.
type Client struct {
	conn *grpc.ClientConn
}

// Dial creates a client for addr. The connection is established lazily.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc client for %s: %w", addr, err)
	}
	return NewClient(conn), nil
}

// NewClient wraps an existing connection. The connection must use the JSON codec,
// see Dial.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func invoke[Resp any](ctx context.Context, c *Client, method string, req any) (*Resp, error) {
	resp := new(Resp)
	if err := c.conn.Invoke(ctx, method, req, resp, grpc.CallContentSubtype(CodecName)); err != nil {
		return nil, fromStatus(err)
	}
	return resp, nil
}

// RootSearch runs a distributed search with the remote node as root.
func (c *Client) RootSearch(ctx context.Context, req *search.SearchRequest) (*search.SearchResponse, error) {
	return invoke[search.SearchResponse](ctx, c, MethodRootSearch, req)
}

// LeafSearch implements cluster.Client.
func (c *Client) LeafSearch(ctx context.Context, req *search.LeafSearchRequest) (*search.LeafSearchResponse, error) {
	return invoke[search.LeafSearchResponse](ctx, c, MethodLeafSearch, req)
}

// FetchDocs implements cluster.Client.
func (c *Client) FetchDocs(ctx context.Context, req *search.FetchDocsRequest) (*search.FetchDocsResponse, error) {
	return invoke[search.FetchDocsResponse](ctx, c, MethodFetchDocs, req)
}

// RootListTerms lists terms with the remote node as root.
func (c *Client) RootListTerms(ctx context.Context, req *search.ListTermsRequest) (*search.ListTermsResponse, error) {
	return invoke[search.ListTermsResponse](ctx, c, MethodRootListTerms, req)
}

// LeafListTerms implements cluster.Client.
func (c *Client) LeafListTerms(ctx context.Context, req *search.LeafListTermsRequest) (*search.LeafListTermsResponse, error) {
	return invoke[search.LeafListTermsResponse](ctx, c, MethodLeafListTerms, req)
}

// Ping implements cluster.Client.
func (c *Client) Ping(ctx context.Context) error {
	_, err := invoke[PingResponse](ctx, c, MethodPing, &PingRequest{})
	return err
}

// LeafSearchStream implements cluster.Client. The returned channel closes when the
// stream ends for any reason; a broken stream shows up as splits without a final chunk.
func (c *Client) LeafSearchStream(
	ctx context.Context, req *search.LeafSearchStreamRequest,
) (<-chan *search.LeafSearchStreamResponse, error) {
	desc := &serviceDesc.Streams[0]
	stream, err := c.conn.NewStream(ctx, desc, MethodLeafSearchStream, grpc.CallContentSubtype(CodecName))
	if err != nil {
		return nil, fromStatus(err)
	}
	// io.EOF means the server already ended the call; RecvMsg reports why.
	if err := stream.SendMsg(req); err != nil && !errors.Is(err, io.EOF) {
		return nil, fromStatus(err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fromStatus(err)
	}

	out := make(chan *search.LeafSearchStreamResponse, 1)
	go func() {
		defer close(out)
		for {
			msg := new(search.LeafSearchStreamResponse)
			if err := stream.RecvMsg(msg); err != nil {
				return
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
