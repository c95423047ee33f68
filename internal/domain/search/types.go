// Package search holds the request/response model shared by root and leaf nodes,
// and the total order used to rank partial hits at every merge point.
package search

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SortOrder is the direction of the primary sort key.
type SortOrder string

// Sort orders.
const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// IsValid reports whether o is a known order.
func (o SortOrder) IsValid() bool {
	return o == SortAsc || o == SortDesc
}

// UnmarshalJSON accepts "asc"/"desc" in any case.
func (o *SortOrder) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("sort order: %w", err)
	}
	v := SortOrder(strings.ToLower(s))
	if !v.IsValid() {
		return fmt.Errorf("unknown sort order %q", s)
	}
	*o = v
	return nil
}

// SearchRequest is the logical query issued by a caller. Optional fields are pointers:
// an absent field has a meaning of its own (e.g. no SortByField means "by doc id").
type SearchRequest struct {
	IndexID            string     `json:"index_id"`
	Query              string     `json:"query"`
	SearchFields       []string   `json:"search_fields,omitempty"`
	StartTimestamp     *int64     `json:"start_timestamp,omitempty"`
	EndTimestamp       *int64     `json:"end_timestamp,omitempty"`
	MaxHits            uint64     `json:"max_hits"`
	StartOffset        uint64     `json:"start_offset"`
	SortOrder          *SortOrder `json:"sort_order,omitempty"`
	SortByField        *string    `json:"sort_by_field,omitempty"`
	AggregationRequest *string    `json:"aggregation_request,omitempty"`
	SnippetFields      []string   `json:"snippet_fields,omitempty"`
}

// EffectiveSortOrder returns the requested order, DESC when absent.
func (r *SearchRequest) EffectiveSortOrder() SortOrder {
	if r.SortOrder == nil {
		return SortDesc
	}
	return *r.SortOrder
}

// LeafBudget is the number of candidates every leaf must keep: the whole prefix of
// the global order up to the end of the requested page.
func (r *SearchRequest) LeafBudget() int {
	return int(r.StartOffset + r.MaxHits)
}

// SplitIDAndFooterOffsets locates a split and the byte range of its footer, so a leaf can
// open it with a single ranged read.
type SplitIDAndFooterOffsets struct {
	SplitID          string `json:"split_id"`
	SplitFooterStart uint64 `json:"split_footer_start"`
	SplitFooterEnd   uint64 `json:"split_footer_end"`
	TimeRangeStart   *int64 `json:"time_range_start,omitempty"`
	TimeRangeEnd     *int64 `json:"time_range_end,omitempty"`
}

// PartialHit identifies a ranked document without its content.
type PartialHit struct {
	SortingFieldValue uint64 `json:"sorting_field_value"`
	// MissingSortValue marks a doc without the sort field. It ranks after every doc
	// that has one, in both orders, and its SortingFieldValue is 0.
	MissingSortValue  bool   `json:"missing_sort_value,omitempty"`
	SplitID           string `json:"split_id"`
	SegmentOrd        uint32 `json:"segment_ord"`
	DocID             uint32 `json:"doc_id"`
}

func (h PartialHit) String() string {
	return fmt.Sprintf("%s/%d/%d@%d", h.SplitID, h.SegmentOrd, h.DocID, h.SortingFieldValue)
}

// SplitSearchError reports the failure of one split. RetryableError is advisory only.
type SplitSearchError struct {
	Error          string `json:"error"`
	SplitID        string `json:"split_id"`
	RetryableError bool   `json:"retryable_error"`
}

func (e SplitSearchError) String() string {
	retry := ""
	if e.RetryableError {
		retry = " (retryable)"
	}
	return fmt.Sprintf("split %s: %s%s", e.SplitID, e.Error, retry)
}

// LeafSearchRequest is what a root sends to one leaf: the unmodified request plus the
// splits assigned to that leaf.
type LeafSearchRequest struct {
	SearchRequest SearchRequest             `json:"search_request"`
	SplitOffsets  []SplitIDAndFooterOffsets `json:"split_offsets"`
	DocMapper     string                    `json:"doc_mapper"`
	IndexURI      string                    `json:"index_uri"`
}

// LeafSearchResponse is the merged result of a set of splits.
type LeafSearchResponse struct {
	NumHits                       uint64             `json:"num_hits"`
	PartialHits                   []PartialHit       `json:"partial_hits"`
	FailedSplits                  []SplitSearchError `json:"failed_splits,omitempty"`
	NumAttemptedSplits            uint64             `json:"num_attempted_splits"`
	NumSuccessfulSplits           uint64             `json:"num_successful_splits"`
	IntermediateAggregationResult []byte             `json:"intermediate_aggregation_result,omitempty"`
}

// LeafHit is a fetched document in engine-native form.
type LeafHit struct {
	LeafJSON   json.RawMessage `json:"leaf_json,omitempty"`
	PartialHit PartialHit      `json:"partial_hit"`
	Snippet    *string         `json:"snippet,omitempty"`
	Error      *string         `json:"error,omitempty"`
}

// Hit is a fetched document in caller-facing form.
type Hit struct {
	JSON       json.RawMessage `json:"json,omitempty"`
	PartialHit PartialHit      `json:"partial_hit"`
	Snippet    *string         `json:"snippet,omitempty"`
	Error      *string         `json:"error,omitempty"`
}

// SnippetRequest asks the fetcher to highlight query terms in the given fields.
// Unqualified terms target SearchFields, or the index defaults when it is empty.
type SnippetRequest struct {
	Query         string   `json:"query"`
	SnippetFields []string `json:"snippet_fields"`
	SearchFields  []string `json:"search_fields,omitempty"`
}

// FetchDocsRequest asks a leaf for the bodies of a page of partial hits.
type FetchDocsRequest struct {
	PartialHits    []PartialHit              `json:"partial_hits"`
	SplitOffsets   []SplitIDAndFooterOffsets `json:"split_offsets"`
	IndexURI       string                    `json:"index_uri"`
	DocMapper      string                    `json:"doc_mapper"`
	SnippetRequest *SnippetRequest           `json:"snippet_request,omitempty"`
}

// FetchDocsResponse returns one LeafHit per requested partial hit, in request order.
type FetchDocsResponse struct {
	Hits []LeafHit `json:"hits"`
}

// SearchResponse is the final answer of a root search.
type SearchResponse struct {
	NumHits             uint64          `json:"num_hits"`
	Hits                []Hit           `json:"hits"`
	ElapsedTimeMicros   uint64          `json:"elapsed_time_micros"`
	Errors              []string        `json:"errors"`
	Aggregation         json.RawMessage `json:"aggregation,omitempty"`
	NumAttemptedSplits  uint64          `json:"num_attempted_splits"`
	NumSuccessfulSplits uint64          `json:"num_successful_splits"`
}
