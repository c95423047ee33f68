package aggregation

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/kailas-cloud/splitsearch/internal/docmapper"
)

// Row exposes the fast values of one document.
type Row interface {
	Num(field string) (uint64, bool)
	Str(field string) (string, bool)
}

// Collector accumulates the aggregations of one split.
type Collector struct {
	req         Request
	types       map[string]docmapper.FieldType
	state       intermediate
	buckets     int
	bucketLimit int
}

// NewCollector creates a collector. bucketLimit <= 0 disables the limit.
func NewCollector(req Request, mapper docmapper.DocMapper, bucketLimit int) *Collector {
	c := &Collector{
		req:         req,
		types:       make(map[string]docmapper.FieldType),
		state:       make(intermediate, len(req)),
		bucketLimit: bucketLimit,
	}
	for name, spec := range req {
		if f, ok := mapper.Field(spec.field()); ok {
			c.types[f.Name] = f.Type
		}
		p := &partial{}
		switch {
		case spec.Terms != nil:
			p.Terms = map[string]uint64{}
		case spec.Stats != nil:
			p.Stats = &stats{}
		default:
			p.Histogram = map[string]uint64{}
		}
		c.state[name] = p
	}
	return c
}

// Collect feeds one matching document.
func (c *Collector) Collect(row Row) error {
	for name, spec := range c.req {
		p := c.state[name]
		field := spec.field()
		switch {
		case spec.Terms != nil:
			key, ok := c.termKey(row, field)
			if !ok {
				continue
			}
			if err := c.bump(p.Terms, key); err != nil {
				return fmt.Errorf("aggregation %q: %w", name, err)
			}
		case spec.Stats != nil:
			if v, ok := c.number(row, field); ok {
				p.Stats.add(v)
			}
		default:
			v, ok := c.number(row, field)
			if !ok {
				continue
			}
			if err := c.bump(p.Histogram, histogramKey(v, spec.Histogram.Interval)); err != nil {
				return fmt.Errorf("aggregation %q: %w", name, err)
			}
		}
	}
	return nil
}

// Result serializes the intermediate state.
func (c *Collector) Result() ([]byte, error) {
	return json.Marshal(c.state)
}

func (c *Collector) bump(counts map[string]uint64, key string) error {
	if _, ok := counts[key]; !ok {
		c.buckets++
		if c.bucketLimit > 0 && c.buckets > c.bucketLimit {
			return fmt.Errorf("%w (limit %d)", ErrTooManyBuckets, c.bucketLimit)
		}
	}
	counts[key]++
	return nil
}

func (c *Collector) termKey(row Row, field string) (string, bool) {
	t := c.types[field]
	if t == docmapper.TypeText {
		return row.Str(field)
	}
	u, ok := row.Num(field)
	if !ok {
		return "", false
	}
	return docmapper.FormatValue(t, u), true
}

func (c *Collector) number(row Row, field string) (float64, bool) {
	u, ok := row.Num(field)
	if !ok {
		return 0, false
	}
	switch c.types[field] {
	case docmapper.TypeI64:
		return float64(docmapper.DecodeI64(u)), true
	case docmapper.TypeF64:
		v := docmapper.DecodeF64(u)
		return v, !math.IsNaN(v)
	default:
		return float64(u), true
	}
}
