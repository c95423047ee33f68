package chi

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	"github.com/samber/lo"

	"github.com/kailas-cloud/splitsearch/internal/domain"
	"github.com/kailas-cloud/splitsearch/internal/domain/search"
)

// queryBinder binds form-style query parameters and keeps the first failure. Optional
// parameters bind into pointers, left nil when absent.
type queryBinder struct {
	values url.Values
	err    error
}

func (b *queryBinder) bind(name string, required bool, dest any) {
	if b.err != nil {
		return
	}
	if err := runtime.BindQueryParameter("form", true, required, name, b.values, dest); err != nil {
		b.err = domain.InvalidRequestf("query parameter %s: %v", name, err)
	}
}

func indexParam(r *http.Request) (string, error) {
	var index string
	err := runtime.BindStyledParameterWithOptions("simple", "index", chi.URLParam(r, "index"), &index,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Required: true})
	if err != nil {
		return "", domain.InvalidRequestf("path parameter index: %v", err)
	}
	return index, nil
}

func searchRequestFromQuery(values url.Values) (*search.SearchRequest, error) {
	var (
		req           search.SearchRequest
		query         *string
		searchFields  *[]string
		snippetFields *[]string
		maxHits       *uint64
		offset        *uint64
		sortOrder     *string
	)
	b := &queryBinder{values: values}
	b.bind("query", false, &query)
	b.bind("search_fields", false, &searchFields)
	b.bind("start_timestamp", false, &req.StartTimestamp)
	b.bind("end_timestamp", false, &req.EndTimestamp)
	b.bind("max_hits", false, &maxHits)
	b.bind("start_offset", false, &offset)
	b.bind("sort_by_field", false, &req.SortByField)
	b.bind("sort_order", false, &sortOrder)
	b.bind("aggs", false, &req.AggregationRequest)
	b.bind("snippet_fields", false, &snippetFields)
	if b.err != nil {
		return nil, b.err
	}
	req.Query = lo.FromPtr(query)
	req.SearchFields = lo.FromPtr(searchFields)
	req.SnippetFields = lo.FromPtr(snippetFields)
	req.MaxHits = defaultMaxHits
	if maxHits != nil {
		req.MaxHits = *maxHits
	}
	if offset != nil {
		req.StartOffset = *offset
	}
	if sortOrder != nil {
		o := search.SortOrder(strings.ToLower(*sortOrder))
		req.SortOrder = &o
	}
	return &req, nil
}

func streamRequestFromQuery(values url.Values) (*search.SearchStreamRequest, error) {
	var (
		req          search.SearchStreamRequest
		query        *string
		searchFields *[]string
		format       *string
	)
	b := &queryBinder{values: values}
	b.bind("query", false, &query)
	b.bind("search_fields", false, &searchFields)
	b.bind("start_timestamp", false, &req.StartTimestamp)
	b.bind("end_timestamp", false, &req.EndTimestamp)
	b.bind("fast_field", true, &req.FastField)
	b.bind("output_format", false, &format)
	b.bind("partition_by_field", false, &req.PartitionByField)
	if b.err != nil {
		return nil, b.err
	}
	req.Query = lo.FromPtr(query)
	req.SearchFields = lo.FromPtr(searchFields)
	req.OutputFormat = search.OutputCSV
	if format != nil {
		req.OutputFormat = search.OutputFormat(strings.ToLower(*format))
	}
	return &req, nil
}

func termsRequestFromQuery(values url.Values) (*search.ListTermsRequest, error) {
	var req search.ListTermsRequest
	b := &queryBinder{values: values}
	b.bind("field", true, &req.Field)
	b.bind("start_key", false, &req.StartKey)
	b.bind("end_key", false, &req.EndKey)
	b.bind("max_hits", false, &req.MaxHits)
	b.bind("start_timestamp", false, &req.StartTimestamp)
	b.bind("end_timestamp", false, &req.EndTimestamp)
	if b.err != nil {
		return nil, b.err
	}
	return &req, nil
}
