package aggregation

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
)

// Bucket is a finalized terms or histogram bucket.
type Bucket struct {
	Key      string `json:"key"`
	DocCount uint64 `json:"doc_count"`
}

// StatsResult is a finalized stats aggregation. Min, max and avg are absent when no
// document had a value.
type StatsResult struct {
	Count uint64   `json:"count"`
	Sum   float64  `json:"sum"`
	Min   *float64 `json:"min"`
	Max   *float64 `json:"max"`
	Avg   *float64 `json:"avg"`
}

// Result is one finalized named aggregation.
type Result struct {
	Buckets []Bucket     `json:"buckets,omitempty"`
	Stats   *StatsResult `json:"stats,omitempty"`
}

// Finalize turns a merged intermediate result into the caller-facing JSON value.
func Finalize(req Request, data []byte) (json.RawMessage, error) {
	state, err := decode(data)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Result, len(req))
	for name, spec := range req {
		p := state[name]
		if p == nil {
			p = &partial{}
		}
		switch {
		case spec.Terms != nil:
			size := spec.Terms.Size
			if size == 0 {
				size = DefaultTermsSize
			}
			buckets := toBuckets(p.Terms)
			slices.SortFunc(buckets, func(a, b Bucket) int {
				if c := cmp.Compare(b.DocCount, a.DocCount); c != 0 {
					return c
				}
				return cmp.Compare(a.Key, b.Key)
			})
			if len(buckets) > size {
				buckets = buckets[:size]
			}
			out[name] = Result{Buckets: buckets}
		case spec.Stats != nil:
			s := &StatsResult{}
			if p.Stats != nil && p.Stats.Count > 0 {
				minV, maxV := p.Stats.Min, p.Stats.Max
				avg := p.Stats.Sum / float64(p.Stats.Count)
				s = &StatsResult{Count: p.Stats.Count, Sum: p.Stats.Sum, Min: &minV, Max: &maxV, Avg: &avg}
			}
			out[name] = Result{Stats: s}
		default:
			buckets := toBuckets(p.Histogram)
			keys := make(map[string]float64, len(buckets))
			for _, b := range buckets {
				k, err := strconv.ParseFloat(b.Key, 64)
				if err != nil {
					return nil, fmt.Errorf("histogram %q: bad bucket key %q", name, b.Key)
				}
				keys[b.Key] = k
			}
			slices.SortFunc(buckets, func(a, b Bucket) int {
				return cmp.Compare(keys[a.Key], keys[b.Key])
			})
			out[name] = Result{Buckets: buckets}
		}
	}
	return json.Marshal(out)
}

func toBuckets(counts map[string]uint64) []Bucket {
	out := make([]Bucket, 0, len(counts))
	for k, v := range counts {
		out = append(out, Bucket{Key: k, DocCount: v})
	}
	return out
}
