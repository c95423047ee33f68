package search

import (
	"encoding/json"
	"fmt"
	"strings"
)

// OutputFormat is the row encoding of a search stream.
type OutputFormat string

// Output formats.
const (
	// OutputCSV writes one value per line (partition,value when partitioned).
	OutputCSV OutputFormat = "csv"
	// OutputRowBinary writes little-endian fixed 8-byte values (partition then value
	// when partitioned), the ClickHouse RowBinary layout for UInt64/Int64/Float64.
	OutputRowBinary OutputFormat = "click_house_row_binary"
)

// IsValid reports whether f is a known format.
func (f OutputFormat) IsValid() bool {
	return f == OutputCSV || f == OutputRowBinary
}

// UnmarshalJSON accepts known formats in any case.
func (f *OutputFormat) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("output format: %w", err)
	}
	v := OutputFormat(strings.ToLower(s))
	if !v.IsValid() {
		return fmt.Errorf("unknown output format %q", s)
	}
	*f = v
	return nil
}

// SearchStreamRequest exports one fast field of every matching document.
type SearchStreamRequest struct {
	IndexID          string       `json:"index_id"`
	Query            string       `json:"query"`
	SearchFields     []string     `json:"search_fields,omitempty"`
	StartTimestamp   *int64       `json:"start_timestamp,omitempty"`
	EndTimestamp     *int64       `json:"end_timestamp,omitempty"`
	FastField        string       `json:"fast_field"`
	OutputFormat     OutputFormat `json:"output_format"`
	PartitionByField *string      `json:"partition_by_field,omitempty"`
}

// LeafSearchStreamRequest is the per-leaf part of a stream.
type LeafSearchStreamRequest struct {
	Request      SearchStreamRequest       `json:"request"`
	SplitOffsets []SplitIDAndFooterOffsets `json:"split_offsets"`
	DocMapper    string                    `json:"doc_mapper"`
	IndexURI     string                    `json:"index_uri"`
}

// LeafSearchStreamResponse is one chunk of serialized rows from one split. Last marks the
// final chunk of that split. A failed split produces a chunk with FailedSplit set and no data.
type LeafSearchStreamResponse struct {
	Data           []byte            `json:"data,omitempty"`
	SplitID        string            `json:"split_id"`
	PartitionValue *uint64           `json:"partition_value,omitempty"`
	Last           bool              `json:"last,omitempty"`
	FailedSplit    *SplitSearchError `json:"failed_split,omitempty"`
}
