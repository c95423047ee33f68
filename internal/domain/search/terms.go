package search

import "math"

// NoLimit is the Limit of a list-terms request without max_hits.
const NoLimit = -1

// ListTermsRequest enumerates the terms of one field in [StartKey, EndKey).
type ListTermsRequest struct {
	IndexID        string  `json:"index_id"`
	Field          string  `json:"field"`
	StartKey       *string `json:"start_key,omitempty"`
	EndKey         *string `json:"end_key,omitempty"`
	MaxHits        *uint64 `json:"max_hits,omitempty"`
	StartTimestamp *int64  `json:"start_timestamp,omitempty"`
	EndTimestamp   *int64  `json:"end_timestamp,omitempty"`
}

// Limit returns MaxHits, or NoLimit when absent. An explicit 0 asks for no terms;
// values past math.MaxInt are clamped.
func (r *ListTermsRequest) Limit() int {
	if r.MaxHits == nil {
		return NoLimit
	}
	if *r.MaxHits > math.MaxInt {
		return math.MaxInt
	}
	return int(*r.MaxHits)
}

// LeafListTermsRequest is the per-leaf part of a list-terms call.
type LeafListTermsRequest struct {
	ListTermsRequest ListTermsRequest          `json:"list_terms_request"`
	SplitOffsets     []SplitIDAndFooterOffsets `json:"split_offsets"`
	IndexURI         string                    `json:"index_uri"`
	DocMapper        string                    `json:"doc_mapper"`
}

// LeafListTermsResponse holds the sorted, deduplicated terms of a leaf.
type LeafListTermsResponse struct {
	NumHits             uint64             `json:"num_hits"`
	Terms               []string           `json:"terms"`
	FailedSplits        []SplitSearchError `json:"failed_splits,omitempty"`
	NumAttemptedSplits  uint64             `json:"num_attempted_splits"`
	NumSuccessfulSplits uint64             `json:"num_successful_splits"`
}

// ListTermsResponse is the final answer of a root list-terms call.
type ListTermsResponse struct {
	NumHits           uint64   `json:"num_hits"`
	Terms             []string `json:"terms"`
	ElapsedTimeMicros uint64   `json:"elapsed_time_micros"`
	Errors            []string `json:"errors"`
}
