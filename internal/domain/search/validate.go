package search

import (
	"github.com/kailas-cloud/splitsearch/internal/domain"
)

// Request limits.
const (
	MaxQueryLength = 4096
	// MaxPageEnd bounds start_offset+max_hits so leaves never keep unbounded top-K heaps.
	MaxPageEnd = 10_000
)

// Validate checks a search request before any dispatch.
func (r *SearchRequest) Validate() error {
	if r.IndexID == "" {
		return domain.InvalidRequestf("index_id is required")
	}
	if len(r.Query) > MaxQueryLength {
		return domain.InvalidRequestf("query too long (max %d chars)", MaxQueryLength)
	}
	if r.SortOrder != nil && !r.SortOrder.IsValid() {
		return domain.InvalidRequestf("invalid sort order %q", *r.SortOrder)
	}
	if r.MaxHits > MaxPageEnd || r.StartOffset > MaxPageEnd-r.MaxHits {
		return domain.InvalidRequestf("start_offset + max_hits must not exceed %d", MaxPageEnd)
	}
	if err := validateRange(r.StartTimestamp, r.EndTimestamp); err != nil {
		return err
	}
	if r.SortByField != nil && *r.SortByField == "" {
		return domain.InvalidRequestf("sort_by_field must not be empty")
	}
	return nil
}

// Validate checks a stream request before any dispatch.
func (r *SearchStreamRequest) Validate() error {
	if r.IndexID == "" {
		return domain.InvalidRequestf("index_id is required")
	}
	if len(r.Query) > MaxQueryLength {
		return domain.InvalidRequestf("query too long (max %d chars)", MaxQueryLength)
	}
	if r.FastField == "" {
		return domain.InvalidRequestf("fast_field is required")
	}
	if !r.OutputFormat.IsValid() {
		return domain.InvalidRequestf("invalid output format %q", r.OutputFormat)
	}
	if r.PartitionByField != nil && *r.PartitionByField == "" {
		return domain.InvalidRequestf("partition_by_field must not be empty")
	}
	return validateRange(r.StartTimestamp, r.EndTimestamp)
}

// Validate checks a list-terms request before any dispatch.
func (r *ListTermsRequest) Validate() error {
	if r.IndexID == "" {
		return domain.InvalidRequestf("index_id is required")
	}
	if r.Field == "" {
		return domain.InvalidRequestf("field is required")
	}
	if r.StartKey != nil && r.EndKey != nil && *r.StartKey > *r.EndKey {
		return domain.InvalidRequestf("start_key must not be greater than end_key")
	}
	return validateRange(r.StartTimestamp, r.EndTimestamp)
}

func validateRange(start, end *int64) error {
	if start != nil && end != nil && *start > *end {
		return domain.InvalidRequestf("start_timestamp must not be greater than end_timestamp")
	}
	return nil
}
