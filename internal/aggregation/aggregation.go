// Package aggregation computes terms, stats and histogram aggregations over the fast
// fields of matching documents. Leaves produce serialized intermediate results that merge
// associatively; the root finalizes the merged value once.
package aggregation

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/kailas-cloud/splitsearch/internal/docmapper"
	"github.com/kailas-cloud/splitsearch/internal/domain"
)

// DefaultTermsSize is the bucket count of a terms aggregation without size.
const DefaultTermsSize = 10

// ErrTooManyBuckets signals an aggregation exceeding the bucket limit.
var ErrTooManyBuckets = errors.New("too many aggregation buckets")

// TermsSpec groups documents by field value.
type TermsSpec struct {
	Field string `json:"field"`
	Size  int    `json:"size,omitempty"`
}

// StatsSpec computes count/sum/min/max/avg of a numeric field.
type StatsSpec struct {
	Field string `json:"field"`
}

// HistogramSpec buckets a numeric field by fixed interval.
type HistogramSpec struct {
	Field    string  `json:"field"`
	Interval float64 `json:"interval"`
}

// Spec is one named aggregation. Exactly one kind is set.
type Spec struct {
	Terms     *TermsSpec     `json:"terms,omitempty"`
	Stats     *StatsSpec     `json:"stats,omitempty"`
	Histogram *HistogramSpec `json:"histogram,omitempty"`
}

func (s Spec) field() string {
	switch {
	case s.Terms != nil:
		return s.Terms.Field
	case s.Stats != nil:
		return s.Stats.Field
	default:
		return s.Histogram.Field
	}
}

// Request maps aggregation names to specs.
type Request map[string]Spec

// Parse decodes and validates an aggregation request against the index schema.
// Errors wrap domain.ErrInvalidRequest.
func Parse(s string, mapper docmapper.DocMapper) (Request, error) {
	var req Request
	if err := json.Unmarshal([]byte(s), &req); err != nil {
		return nil, domain.InvalidRequestf("aggregation: %v", err)
	}
	if len(req) == 0 {
		return nil, domain.InvalidRequestf("aggregation: empty request")
	}
	for name, spec := range req {
		kinds := 0
		for _, set := range []bool{spec.Terms != nil, spec.Stats != nil, spec.Histogram != nil} {
			if set {
				kinds++
			}
		}
		if kinds != 1 {
			return nil, domain.InvalidRequestf("aggregation %q: exactly one of terms, stats, histogram required", name)
		}
		f, ok := mapper.Field(spec.field())
		if !ok || !f.Fast {
			return nil, domain.InvalidRequestf("aggregation %q: field %q is not a fast field", name, spec.field())
		}
		if (spec.Stats != nil || spec.Histogram != nil) && f.Type == docmapper.TypeText {
			return nil, domain.InvalidRequestf("aggregation %q: field %q is not numeric", name, spec.field())
		}
		if spec.Histogram != nil && !(spec.Histogram.Interval > 0) {
			return nil, domain.InvalidRequestf("aggregation %q: interval must be positive", name)
		}
		if spec.Terms != nil && spec.Terms.Size < 0 {
			return nil, domain.InvalidRequestf("aggregation %q: size must not be negative", name)
		}
	}
	return req, nil
}

// Fields returns the fast fields the request reads.
func (r Request) Fields() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, spec := range r {
		f := spec.field()
		if _, ok := seen[f]; !ok {
			seen[f] = struct{}{}
			out = append(out, f)
		}
	}
	return out
}

// stats is the intermediate state of a stats aggregation.
type stats struct {
	Count uint64  `json:"count"`
	Sum   float64 `json:"sum"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

func (s *stats) add(v float64) {
	if s.Count == 0 {
		s.Min, s.Max = v, v
	} else {
		s.Min, s.Max = math.Min(s.Min, v), math.Max(s.Max, v)
	}
	s.Count++
	s.Sum += v
}

func (s *stats) merge(o *stats) {
	if o == nil || o.Count == 0 {
		return
	}
	if s.Count == 0 {
		*s = *o
		return
	}
	s.Count += o.Count
	s.Sum += o.Sum
	s.Min, s.Max = math.Min(s.Min, o.Min), math.Max(s.Max, o.Max)
}

// partial is the intermediate state of one named aggregation.
type partial struct {
	Terms     map[string]uint64 `json:"terms,omitempty"`
	Stats     *stats            `json:"stats,omitempty"`
	Histogram map[string]uint64 `json:"histogram,omitempty"`
}

// intermediate is the serialized form exchanged between nodes.
type intermediate map[string]*partial

func decode(data []byte) (intermediate, error) {
	out := intermediate{}
	if len(data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode intermediate aggregation: %w", err)
	}
	return out, nil
}

// Merge combines two intermediate results. Either side may be empty.
func Merge(a, b []byte) ([]byte, error) {
	if len(a) == 0 {
		return b, nil
	}
	if len(b) == 0 {
		return a, nil
	}
	left, err := decode(a)
	if err != nil {
		return nil, err
	}
	right, err := decode(b)
	if err != nil {
		return nil, err
	}
	for name, rp := range right {
		lp, ok := left[name]
		if !ok {
			left[name] = rp
			continue
		}
		lp.Terms = mergeCounts(lp.Terms, rp.Terms)
		lp.Histogram = mergeCounts(lp.Histogram, rp.Histogram)
		if rp.Stats != nil {
			if lp.Stats == nil {
				lp.Stats = &stats{}
			}
			lp.Stats.merge(rp.Stats)
		}
	}
	return json.Marshal(left)
}

// MergeAll folds Merge over parts.
func MergeAll(parts [][]byte) ([]byte, error) {
	var acc []byte
	for _, p := range parts {
		merged, err := Merge(acc, p)
		if err != nil {
			return nil, err
		}
		acc = merged
	}
	return acc, nil
}

func mergeCounts(dst, src map[string]uint64) map[string]uint64 {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]uint64, len(src))
	}
	for k, v := range src {
		dst[k] += v
	}
	return dst
}

// histogramKey renders the lower bound of the bucket holding v.
func histogramKey(v, interval float64) string {
	return strconv.FormatFloat(math.Floor(v/interval)*interval, 'g', -1, 64)
}
