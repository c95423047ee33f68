package splitsearch

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/kailas-cloud/splitsearch/internal/domain/search"
)

// Request and response types shared with the server.
type (
	SearchRequest       = search.SearchRequest
	SearchResponse      = search.SearchResponse
	Hit                 = search.Hit
	PartialHit          = search.PartialHit
	SortOrder           = search.SortOrder
	SearchStreamRequest = search.SearchStreamRequest
	OutputFormat        = search.OutputFormat
	ListTermsRequest    = search.ListTermsRequest
	ListTermsResponse   = search.ListTermsResponse
)

// Sort orders and stream output formats.
const (
	SortAsc         = search.SortAsc
	SortDesc        = search.SortDesc
	OutputCSV       = search.OutputCSV
	OutputRowBinary = search.OutputRowBinary
)

// Ptr returns a pointer to v, for the optional fields of requests.
func Ptr[T any](v T) *T { return &v }

// Search runs req over the published splits of index and returns one page of hits.
func (c *Client) Search(ctx context.Context, index string, req *SearchRequest) (resp *SearchResponse, err error) {
	start := time.Now()
	defer func() {
		var failed int
		if resp != nil {
			failed = len(resp.Errors)
		}
		c.obs.observe("search", start, failed, err)
	}()

	resp = &SearchResponse{}
	if err = c.doJSON(ctx, http.MethodPost, c.endpoint(index, "search"), req, resp); err != nil {
		return nil, fmt.Errorf("search %s: %w", index, err)
	}
	return resp, nil
}

// ListTerms returns the sorted distinct terms of one field of index.
func (c *Client) ListTerms(ctx context.Context, index string, req *ListTermsRequest) (resp *ListTermsResponse, err error) {
	start := time.Now()
	defer func() {
		var failed int
		if resp != nil {
			failed = len(resp.Errors)
		}
		c.obs.observe("list_terms", start, failed, err)
	}()

	resp = &ListTermsResponse{}
	if err = c.doJSON(ctx, http.MethodPost, c.endpoint(index, "terms"), req, resp); err != nil {
		return nil, fmt.Errorf("list terms %s: %w", index, err)
	}
	return resp, nil
}
