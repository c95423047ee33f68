package cluster

import (
	"context"

	"github.com/kailas-cloud/splitsearch/internal/domain/search"
)

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

// LeafTermLister serves LeafListTerms.
type LeafTermLister interface {
	LeafListTerms(ctx context.Context, req *search.LeafListTermsRequest) (*search.LeafListTermsResponse, error)
}

// Compile-time check.
var _ Client = (*Local)(nil)

// Local calls the leaf services of this process directly.
type Local struct {
	search LeafSearcher
	fetch  DocFetcher
	stream LeafStreamer
	terms  LeafTermLister
}

// NewLocal creates an in-process client.
func NewLocal(s LeafSearcher, f DocFetcher, st LeafStreamer, t LeafTermLister) *Local {
	return &Local{search: s, fetch: f, stream: st, terms: t}
}

// LeafSearch implements Client.
func (l *Local) LeafSearch(ctx context.Context, req *search.LeafSearchRequest) (*search.LeafSearchResponse, error) {
	return l.search.LeafSearch(ctx, req)
}

// FetchDocs implements Client.
func (l *Local) FetchDocs(ctx context.Context, req *search.FetchDocsRequest) (*search.FetchDocsResponse, error) {
	return l.fetch.FetchDocs(ctx, req)
}

// LeafSearchStream implements Client.
func (l *Local) LeafSearchStream(ctx context.Context, req *search.LeafSearchStreamRequest) (<-chan *search.LeafSearchStreamResponse, error) {
	return l.stream.LeafSearchStream(ctx, req), nil
}

// LeafListTerms implements Client.
func (l *Local) LeafListTerms(ctx context.Context, req *search.LeafListTermsRequest) (*search.LeafListTermsResponse, error) {
	return l.terms.LeafListTerms(ctx, req)
}

// Ping implements Client.
func (l *Local) Ping(context.Context) error { return nil }
