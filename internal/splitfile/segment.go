package splitfile

import (
	"context"
	"math"
	"slices"
	"sort"

	"github.com/kailas-cloud/splitsearch/internal/docmapper"
	"github.com/kailas-cloud/splitsearch/internal/domain"
	"github.com/kailas-cloud/splitsearch/internal/domain/query"
)

// Segment is one segment of an open split.
type Segment struct {
	r       *Reader
	ord     uint32
	numDocs uint32
}

// Ord returns the segment ordinal.
func (s *Segment) Ord() uint32 { return s.ord }

// NumDocs returns the number of documents in the segment.
func (s *Segment) NumDocs() uint32 { return s.numDocs }

// Matches holds the ascending doc ids matching a query and, when requested, their scores.
type Matches struct {
	Docs   []uint32
	Scores []float32
}

// Search evaluates q. Clauses without a field apply to searchFields. Unknown or
// unindexed fields are request errors.
func (s *Segment) Search(ctx context.Context, q *query.Query, mapper docmapper.DocMapper, searchFields []string, withScores bool) (*Matches, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := CheckQueryFields(q, mapper, searchFields); err != nil {
		return nil, err
	}
	terms, err := s.r.terms(ctx, s.ord)
	if err != nil {
		return nil, err
	}

	var scores map[uint32]float32
	if withScores {
		scores = map[uint32]float32{}
	}

	var matched []uint32
	positive := false
	for _, c := range q.Clauses {
		if c.Negated {
			continue
		}
		docs := s.clauseDocs(terms, c, mapper, searchFields, scores)
		if !positive {
			matched, positive = docs, true
		} else {
			matched = intersect(matched, docs)
		}
		if len(matched) == 0 {
			return &Matches{}, nil
		}
	}
	if !positive {
		matched = make([]uint32, s.numDocs)
		for i := range matched {
			matched[i] = uint32(i)
		}
	}
	for _, c := range q.Clauses {
		if c.Negated {
			matched = subtract(matched, s.clauseDocs(terms, c, mapper, searchFields, nil))
		}
	}

	m := &Matches{Docs: matched}
	if withScores {
		m.Scores = make([]float32, len(matched))
		for i, d := range matched {
			m.Scores[i] = scores[d]
		}
	}
	return m, nil
}

// CheckQueryFields validates the fields a query touches against the schema.
func CheckQueryFields(q *query.Query, mapper docmapper.DocMapper, searchFields []string) error {
	for _, f := range q.Fields() {
		fm, ok := mapper.Field(f)
		if !ok {
			return domain.InvalidRequestf("unknown field %q", f)
		}
		if !fm.Indexed {
			return domain.InvalidRequestf("field %q is not indexed", f)
		}
	}
	for _, c := range q.Clauses {
		if c.Field == "" && len(searchFields) == 0 {
			return domain.InvalidRequestf("query %q needs a field: no default search fields", c.Text)
		}
	}
	for _, f := range searchFields {
		fm, ok := mapper.Field(f)
		if !ok || !fm.Indexed {
			return domain.InvalidRequestf("search field %q is not an indexed field", f)
		}
	}
	return nil
}

// clauseDocs returns docs where some field holds every token of the clause.
func (s *Segment) clauseDocs(terms termsData, c query.Clause, mapper docmapper.DocMapper, searchFields []string, scores map[uint32]float32) []uint32 {
	fields := searchFields
	if c.Field != "" {
		fields = []string{c.Field}
	}
	var union []uint32
	for _, field := range fields {
		tokens := mapper.Tokenize(field, c.Text)
		if len(tokens) == 0 {
			continue
		}
		var docs []uint32
		for i, tok := range tokens {
			postings := lookup(terms[field], tok)
			if scores != nil {
				idf := float32(math.Log(1 + float64(s.numDocs)/float64(max(1, len(postings)))))
				for _, d := range postings {
					scores[d] += idf
				}
			}
			if i == 0 {
				docs = postings
			} else {
				docs = intersect(docs, postings)
			}
		}
		union = unite(union, docs)
	}
	return union
}

func lookup(list []postingList, term string) []uint32 {
	i := sort.Search(len(list), func(j int) bool { return list[j].Term >= term })
	if i < len(list) && list[i].Term == term {
		return list[i].Docs
	}
	return nil
}

func intersect(a, b []uint32) []uint32 {
	out := make([]uint32, 0, min(len(a), len(b)))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			i++
		case a[i] > b[j]:
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}

func unite(a, b []uint32) []uint32 {
	out := make([]uint32, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	slices.Sort(out)
	return slices.Compact(out)
}

func subtract(a, b []uint32) []uint32 {
	if len(b) == 0 {
		return a
	}
	out := make([]uint32, 0, len(a))
	j := 0
	for _, d := range a {
		for j < len(b) && b[j] < d {
			j++
		}
		if j < len(b) && b[j] == d {
			continue
		}
		out = append(out, d)
	}
	return out
}

// Columns exposes the fast columns of a segment.
type Columns struct {
	data fastData
}

// FastColumns loads the fast columns of the segment.
func (s *Segment) FastColumns(ctx context.Context) (*Columns, error) {
	data, err := s.r.fast(ctx, s.ord)
	if err != nil {
		return nil, err
	}
	return &Columns{data: data}, nil
}

// Has reports whether the segment has a column for field.
func (c *Columns) Has(field string) bool {
	_, ok := c.data[field]
	return ok
}

// U64 returns the encoded numeric value of field for doc.
func (c *Columns) U64(field string, doc uint32) (uint64, bool) {
	col, ok := c.data[field]
	if !ok || col.Nums == nil || !col.Present[doc] {
		return 0, false
	}
	return col.Nums[doc], true
}

// Str returns the text value of field for doc.
func (c *Columns) Str(field string, doc uint32) (string, bool) {
	col, ok := c.data[field]
	if !ok || col.Strs == nil || !col.Present[doc] {
		return "", false
	}
	return col.Strs[doc], true
}

// Row is the view of the columns for one document.
type Row struct {
	cols *Columns
	doc  uint32
}

// Row binds the columns to doc.
func (c *Columns) Row(doc uint32) Row { return Row{cols: c, doc: doc} }

// Num returns the encoded numeric value of field.
func (r Row) Num(field string) (uint64, bool) { return r.cols.U64(field, r.doc) }

// Str returns the text value of field.
func (r Row) Str(field string) (string, bool) { return r.cols.Str(field, r.doc) }
