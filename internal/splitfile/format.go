// Package splitfile reads and writes split files.
//
// A split is a sequence of component blobs followed by a JSON footer and an 8-byte
// little-endian footer length. The footer is a file bundle: it maps every component name to
// its byte range, so a reader needs one ranged read for the footer and then one per
// component it actually touches.
//
// Components of segment N:
//
//	segN.terms      field -> sorted terms with posting lists
//	segN.fast       single-valued fast columns (first value of multi-valued fields)
//	segN.store      concatenated engine-native documents
//	segN.store.idx  document offsets into segN.store
package splitfile

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/kailas-cloud/splitsearch/internal/docmapper"
	"github.com/kailas-cloud/splitsearch/internal/domain"
)

// FormatVersion is the footer version written by this package.
const FormatVersion = 1

// trailerLen is the size of the footer length trailer.
const trailerLen = 8

// ByteRange is a half-open range of a split file.
type ByteRange struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

// SegmentInfo describes one segment.
type SegmentInfo struct {
	NumDocs uint32 `json:"num_docs"`
}

// Footer is the file bundle of a split.
type Footer struct {
	Version        int                  `json:"version"`
	SplitID        string               `json:"split_id"`
	NumDocs        uint64               `json:"num_docs"`
	Segments       []SegmentInfo        `json:"segments"`
	Components     map[string]ByteRange `json:"components"`
	TimeRangeStart *int64               `json:"time_range_start,omitempty"`
	TimeRangeEnd   *int64               `json:"time_range_end,omitempty"`
	Tags           []string             `json:"tags,omitempty"`
}

func decodeFooter(data []byte) (*Footer, error) {
	var f Footer
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode footer: %v: %w", err, domain.ErrSplitCorrupt)
	}
	if f.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported split version %d: %w", f.Version, domain.ErrSplitCorrupt)
	}
	return &f, nil
}

// FooterRange extracts the footer byte range from the trailer of a complete split file.
func FooterRange(data []byte) (ByteRange, error) {
	if len(data) < trailerLen {
		return ByteRange{}, fmt.Errorf("split too short: %w", domain.ErrSplitCorrupt)
	}
	end := uint64(len(data) - trailerLen)
	n := binary.LittleEndian.Uint64(data[end:])
	if n > end {
		return ByteRange{}, fmt.Errorf("footer length %d exceeds split: %w", n, domain.ErrSplitCorrupt)
	}
	return ByteRange{Start: end - n, End: end}, nil
}

// ReadFooter decodes the footer of a complete split file.
func ReadFooter(data []byte) (*Footer, ByteRange, error) {
	r, err := FooterRange(data)
	if err != nil {
		return nil, ByteRange{}, err
	}
	f, err := decodeFooter(data[r.Start:r.End])
	if err != nil {
		return nil, ByteRange{}, err
	}
	return f, r, nil
}

func termsComponent(seg int) string    { return fmt.Sprintf("seg%d.terms", seg) }
func fastComponent(seg int) string     { return fmt.Sprintf("seg%d.fast", seg) }
func storeComponent(seg int) string    { return fmt.Sprintf("seg%d.store", seg) }
func storeIdxComponent(seg int) string { return fmt.Sprintf("seg%d.store.idx", seg) }

// postingList is the posting list of one term.
type postingList struct {
	Term string   `json:"t"`
	Docs []uint32 `json:"d"`
}

// termsData maps fields to postings sorted by term.
type termsData map[string][]postingList

// column is one fast column.
type column struct {
	Type    docmapper.FieldType `json:"type"`
	Nums    []uint64            `json:"nums,omitempty"`
	Strs    []string            `json:"strs,omitempty"`
	Present []bool              `json:"present"`
}

// fastData maps fields to columns.
type fastData map[string]*column
