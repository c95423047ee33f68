// Package split describes split metadata as stored in the metastore and the pruning rules
// that decide which splits a query must visit.
package split

import (
	"fmt"
	"strings"

	"github.com/kailas-cloud/splitsearch/internal/domain/query"
	"github.com/kailas-cloud/splitsearch/internal/domain/search"
)

// State is the lifecycle state of a split.
type State string

// Split states. Only published splits are searchable.
const (
	StateStaged            State = "staged"
	StatePublished         State = "published"
	StateMarkedForDeletion State = "marked_for_deletion"
)

// Metadata is what the metastore knows about one split.
type Metadata struct {
	SplitID         string   `json:"split_id" yaml:"split_id"`
	IndexID         string   `json:"index_id" yaml:"index_id"`
	State           State    `json:"state" yaml:"state"`
	NumDocs         uint64   `json:"num_docs" yaml:"num_docs"`
	SizeBytes       uint64   `json:"size_bytes" yaml:"size_bytes"`
	FooterStart     uint64   `json:"footer_start" yaml:"footer_start"`
	FooterEnd       uint64   `json:"footer_end" yaml:"footer_end"`
	TimeRangeStart  *int64   `json:"time_range_start,omitempty" yaml:"time_range_start,omitempty"`
	TimeRangeEnd    *int64   `json:"time_range_end,omitempty" yaml:"time_range_end,omitempty"`
	Tags            []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	CreateTimestamp int64    `json:"create_timestamp" yaml:"create_timestamp"`
}

// Offsets returns what a leaf needs to open the split.
func (m *Metadata) Offsets() search.SplitIDAndFooterOffsets {
	return search.SplitIDAndFooterOffsets{
		SplitID:          m.SplitID,
		SplitFooterStart: m.FooterStart,
		SplitFooterEnd:   m.FooterEnd,
		TimeRangeStart:   m.TimeRangeStart,
		TimeRangeEnd:     m.TimeRangeEnd,
	}
}

// FileName is the object name of a split under its index URI.
func FileName(splitID string) string {
	return splitID + ".split"
}

// TagValue renders a field:value tag.
func TagValue(field, value string) string {
	return fmt.Sprintf("%s:%s", field, value)
}

// TagMarker marks a split whose tag set for field is exhaustive: a value missing from
// the tags is known to be absent from the split.
func TagMarker(field string) string {
	return field + "!"
}

// Filter selects the splits a query must visit.
type Filter struct {
	// StartTimestamp and EndTimestamp bound a half-open range [start, end).
	StartTimestamp *int64
	EndTimestamp   *int64
	// RequiredTags are field:value tags every matching document carries.
	RequiredTags []string
}

// Tagger names the tag fields of an index and tokenizes their values the way the
// index does, so that tags and query terms compare equal exactly when a document matches.
type Tagger interface {
	TagFields() []string
	Tokenize(field, text string) []string
}

// NewFilter derives a filter from a request time range and the positive clauses of q
// bound to one of the tag fields of tagger. A nil tagger disables tag pruning.
func NewFilter(start, end *int64, q *query.Query, tagger Tagger) Filter {
	f := Filter{StartTimestamp: start, EndTimestamp: end}
	if q == nil || tagger == nil {
		return f
	}
	for _, field := range tagger.TagFields() {
		for _, v := range q.RequiredTerms(field) {
			for _, tok := range tagger.Tokenize(field, v) {
				f.RequiredTags = append(f.RequiredTags, TagValue(field, tok))
			}
		}
	}
	return f
}

// Matches reports whether a split may hold matching documents.
func (f Filter) Matches(m *Metadata) bool {
	if m.State != StatePublished {
		return false
	}
	if !f.overlaps(m) {
		return false
	}
	for _, tag := range f.RequiredTags {
		field, _, _ := strings.Cut(tag, ":")
		if hasTag(m.Tags, TagMarker(field)) && !hasTag(m.Tags, tag) {
			return false
		}
	}
	return true
}

// Covers reports whether every document of a split lies inside the filter range, so
// per-document time checks can be skipped.
func Covers(start, end *int64, offsets search.SplitIDAndFooterOffsets) bool {
	if start == nil && end == nil {
		return true
	}
	if offsets.TimeRangeStart == nil || offsets.TimeRangeEnd == nil {
		return false
	}
	if start != nil && *offsets.TimeRangeStart < *start {
		return false
	}
	if end != nil && *offsets.TimeRangeEnd >= *end {
		return false
	}
	return true
}

// overlaps checks the split's inclusive time range against [start, end). Splits without
// a time range always overlap.
func (f Filter) overlaps(m *Metadata) bool {
	if m.TimeRangeStart == nil || m.TimeRangeEnd == nil {
		return true
	}
	if f.StartTimestamp != nil && *m.TimeRangeEnd < *f.StartTimestamp {
		return false
	}
	if f.EndTimestamp != nil && *m.TimeRangeStart >= *f.EndTimestamp {
		return false
	}
	return true
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}
