package splitfile

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strconv"

	"github.com/kailas-cloud/splitsearch/internal/docmapper"
	"github.com/kailas-cloud/splitsearch/internal/domain/split"
)

// Writer defaults.
const (
	DefaultMaxDocsPerSegment = 10_000
	// MaxTagValues is the cardinality above which a tag field stops being enumerated.
	MaxTagValues = 1_000
)

// Built is a finished split.
type Built struct {
	Data           []byte
	FooterStart    uint64
	FooterEnd      uint64
	NumDocs        uint64
	TimeRangeStart *int64
	TimeRangeEnd   *int64
	Tags           []string
}

// Metadata returns the split metadata of a built split in the staged state.
func (b *Built) Metadata(indexID, splitID string, createdAt int64) *split.Metadata {
	return &split.Metadata{
		SplitID:         splitID,
		IndexID:         indexID,
		State:           split.StateStaged,
		NumDocs:         b.NumDocs,
		SizeBytes:       uint64(len(b.Data)),
		FooterStart:     b.FooterStart,
		FooterEnd:       b.FooterEnd,
		TimeRangeStart:  b.TimeRangeStart,
		TimeRangeEnd:    b.TimeRangeEnd,
		Tags:            b.Tags,
		CreateTimestamp: createdAt,
	}
}

type segmentBuilder struct {
	postings map[string]map[string][]uint32
	fast     fastData
	store    bytes.Buffer
	offsets  []uint64
	numDocs  uint32
}

// Writer builds a split from caller documents.
type Writer struct {
	mapper       docmapper.DocMapper
	maxDocs      int
	segments     []*segmentBuilder
	numDocs      uint64
	tsMin, tsMax *int64
	tagValues    map[string]map[string]struct{}
}

// NewWriter creates a writer. maxDocsPerSegment <= 0 selects the default.
func NewWriter(mapper docmapper.DocMapper, maxDocsPerSegment int) *Writer {
	if maxDocsPerSegment <= 0 {
		maxDocsPerSegment = DefaultMaxDocsPerSegment
	}
	w := &Writer{mapper: mapper, maxDocs: maxDocsPerSegment, tagValues: map[string]map[string]struct{}{}}
	for _, f := range mapper.TagFields() {
		w.tagValues[f] = map[string]struct{}{}
	}
	return w
}

// NumDocs returns the number of documents added so far.
func (w *Writer) NumDocs() uint64 { return w.numDocs }

// Add indexes one caller document.
func (w *Writer) Add(callerJSON []byte) error {
	doc, err := w.mapper.ToEngineDoc(callerJSON)
	if err != nil {
		return err
	}
	seg := w.current()
	docID := seg.numDocs

	for _, f := range w.mapper.Fields() {
		values := doc[f.Name]
		if len(values) == 0 {
			continue
		}
		if f.Indexed {
			for _, v := range values {
				tags, tagged := w.tagValues[f.Name]
				for _, tok := range w.mapper.Tokenize(f.Name, valueText(v)) {
					addPosting(seg.postings, f.Name, tok, docID)
					if tagged {
						tags[tok] = struct{}{}
					}
				}
			}
		}
		if f.Fast {
			if err := seg.addFast(f, values[0], docID); err != nil {
				return err
			}
		}
	}
	if ts := w.mapper.TimestampField(); ts != "" {
		v, err := strconv.ParseInt(valueText(doc[ts][0]), 10, 64)
		if err != nil {
			return fmt.Errorf("timestamp: %w", err)
		}
		if w.tsMin == nil || v < *w.tsMin {
			w.tsMin = &v
		}
		if w.tsMax == nil || v > *w.tsMax {
			vv := v
			w.tsMax = &vv
		}
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	seg.store.Write(data)
	seg.offsets = append(seg.offsets, uint64(seg.store.Len()))
	seg.numDocs++
	w.numDocs++
	return nil
}

func (w *Writer) current() *segmentBuilder {
	if n := len(w.segments); n > 0 && int(w.segments[n-1].numDocs) < w.maxDocs {
		return w.segments[n-1]
	}
	seg := &segmentBuilder{
		postings: map[string]map[string][]uint32{},
		fast:     fastData{},
		offsets:  []uint64{0},
	}
	w.segments = append(w.segments, seg)
	return seg
}

func addPosting(p map[string]map[string][]uint32, field, term string, doc uint32) {
	terms, ok := p[field]
	if !ok {
		terms = map[string][]uint32{}
		p[field] = terms
	}
	docs := terms[term]
	if n := len(docs); n > 0 && docs[n-1] == doc {
		return
	}
	terms[term] = append(docs, doc)
}

func (s *segmentBuilder) addFast(f docmapper.FieldMapping, v any, doc uint32) error {
	col, ok := s.fast[f.Name]
	if !ok {
		col = &column{Type: f.Type}
		s.fast[f.Name] = col
	}
	// Pad documents that had no value.
	for uint32(len(col.Present)) < doc {
		col.Present = append(col.Present, false)
		if f.Type == docmapper.TypeText {
			col.Strs = append(col.Strs, "")
		} else {
			col.Nums = append(col.Nums, 0)
		}
	}
	if f.Type == docmapper.TypeText {
		col.Strs = append(col.Strs, valueText(v))
	} else {
		n, ok := v.(json.Number)
		if !ok {
			return fmt.Errorf("field %q: expected number, got %T", f.Name, v)
		}
		u, err := docmapper.EncodeNumber(f.Type, n)
		if err != nil {
			return fmt.Errorf("field %q: %w", f.Name, err)
		}
		col.Nums = append(col.Nums, u)
	}
	col.Present = append(col.Present, true)
	return nil
}

func valueText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// Finish serializes the split.
func (w *Writer) Finish(splitID string) (*Built, error) {
	var buf bytes.Buffer
	footer := Footer{
		Version:        FormatVersion,
		SplitID:        splitID,
		NumDocs:        w.numDocs,
		Components:     map[string]ByteRange{},
		TimeRangeStart: w.tsMin,
		TimeRangeEnd:   w.tsMax,
		Tags:           w.tags(),
	}

	put := func(name string, v any) error {
		data, ok := v.([]byte)
		if !ok {
			var err error
			if data, err = json.Marshal(v); err != nil {
				return fmt.Errorf("encode %s: %w", name, err)
			}
		}
		start := uint64(buf.Len())
		buf.Write(data)
		footer.Components[name] = ByteRange{Start: start, End: uint64(buf.Len())}
		return nil
	}

	for i, seg := range w.segments {
		seg.padFast()
		footer.Segments = append(footer.Segments, SegmentInfo{NumDocs: seg.numDocs})
		if err := put(termsComponent(i), seg.sortedTerms()); err != nil {
			return nil, err
		}
		if err := put(fastComponent(i), seg.fast); err != nil {
			return nil, err
		}
		if err := put(storeComponent(i), seg.store.Bytes()); err != nil {
			return nil, err
		}
		if err := put(storeIdxComponent(i), seg.offsets); err != nil {
			return nil, err
		}
	}

	footerData, err := json.Marshal(footer)
	if err != nil {
		return nil, fmt.Errorf("encode footer: %w", err)
	}
	footerStart := uint64(buf.Len())
	buf.Write(footerData)
	footerEnd := uint64(buf.Len())
	var trailer [trailerLen]byte
	binary.LittleEndian.PutUint64(trailer[:], uint64(len(footerData)))
	buf.Write(trailer[:])

	return &Built{
		Data:           buf.Bytes(),
		FooterStart:    footerStart,
		FooterEnd:      footerEnd,
		NumDocs:        w.numDocs,
		TimeRangeStart: w.tsMin,
		TimeRangeEnd:   w.tsMax,
		Tags:           footer.Tags,
	}, nil
}

func (s *segmentBuilder) padFast() {
	for _, col := range s.fast {
		for uint32(len(col.Present)) < s.numDocs {
			col.Present = append(col.Present, false)
			if col.Type == docmapper.TypeText {
				col.Strs = append(col.Strs, "")
			} else {
				col.Nums = append(col.Nums, 0)
			}
		}
	}
}

func (s *segmentBuilder) sortedTerms() termsData {
	out := make(termsData, len(s.postings))
	for field, terms := range s.postings {
		list := make([]postingList, 0, len(terms))
		for term, docs := range terms {
			list = append(list, postingList{Term: term, Docs: docs})
		}
		sort.Slice(list, func(i, j int) bool { return list[i].Term < list[j].Term })
		out[field] = list
	}
	return out
}

func (w *Writer) tags() []string {
	var tags []string
	for field, values := range w.tagValues {
		if len(values) > MaxTagValues {
			continue
		}
		tags = append(tags, split.TagMarker(field))
		for v := range values {
			tags = append(tags, split.TagValue(field, v))
		}
	}
	slices.Sort(tags)
	return tags
}
