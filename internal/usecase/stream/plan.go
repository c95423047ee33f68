// Package stream exports one fast field of every matching document as a sequence of
// byte chunks, split by split, without ranking.
package stream

import (
	"encoding/binary"
	"fmt"

	"github.com/kailas-cloud/splitsearch/internal/docmapper"
	"github.com/kailas-cloud/splitsearch/internal/domain"
	"github.com/kailas-cloud/splitsearch/internal/domain/query"
	"github.com/kailas-cloud/splitsearch/internal/domain/search"
	"github.com/kailas-cloud/splitsearch/internal/splitfile"
)

// Plan is a stream request resolved against an index schema.
type Plan struct {
	Request      *search.SearchStreamRequest
	Mapper       docmapper.DocMapper
	Query        *query.Query
	SearchFields []string
	Field        docmapper.FieldMapping
	// Partition is nil when rows are not partitioned.
	Partition *docmapper.FieldMapping
	IndexURI  string
}

// NewPlan validates req against mapper.
func NewPlan(req *search.SearchStreamRequest, mapper docmapper.DocMapper, indexURI string) (*Plan, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	q, err := query.Parse(req.Query)
	if err != nil {
		return nil, err
	}
	fields := req.SearchFields
	if len(fields) == 0 {
		fields = mapper.DefaultSearchFields()
	}
	if err := splitfile.CheckQueryFields(q, mapper, fields); err != nil {
		return nil, err
	}
	if (req.StartTimestamp != nil || req.EndTimestamp != nil) && mapper.TimestampField() == "" {
		return nil, domain.InvalidRequestf("index has no timestamp field: time range not supported")
	}

	field, err := numericFastField(mapper, req.FastField)
	if err != nil {
		return nil, err
	}
	p := &Plan{
		Request:      req,
		Mapper:       mapper,
		Query:        q,
		SearchFields: fields,
		Field:        field,
		IndexURI:     indexURI,
	}
	if req.PartitionByField != nil {
		part, err := numericFastField(mapper, *req.PartitionByField)
		if err != nil {
			return nil, err
		}
		p.Partition = &part
	}
	return p, nil
}

// NewLeafPlan builds the plan of a leaf request from its serialized doc mapper.
func NewLeafPlan(req *search.LeafSearchStreamRequest) (*Plan, error) {
	mapper, err := docmapper.FromJSON(req.DocMapper)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	return NewPlan(&req.Request, mapper, req.IndexURI)
}

func numericFastField(mapper docmapper.DocMapper, name string) (docmapper.FieldMapping, error) {
	fm, ok := mapper.Field(name)
	if !ok {
		return fm, domain.InvalidRequestf("unknown field %q", name)
	}
	if !fm.Fast || fm.Type == docmapper.TypeText {
		return fm, domain.InvalidRequestf("field %q must be a numeric fast field", name)
	}
	return fm, nil
}

// appendRow encodes one row. partition is nil for unpartitioned streams. CSV rows are
// "value" or "partition,value" lines; RowBinary rows are little-endian 8-byte values,
// partition first.
func (p *Plan) appendRow(buf []byte, partition *uint64, value uint64) []byte {
	if p.Request.OutputFormat == search.OutputRowBinary {
		if partition != nil {
			buf = binary.LittleEndian.AppendUint64(buf, docmapper.RawValue(p.Partition.Type, *partition))
		}
		return binary.LittleEndian.AppendUint64(buf, docmapper.RawValue(p.Field.Type, value))
	}
	if partition != nil {
		buf = append(buf, docmapper.FormatValue(p.Partition.Type, *partition)...)
		buf = append(buf, ',')
	}
	buf = append(buf, docmapper.FormatValue(p.Field.Type, value)...)
	return append(buf, '\n')
}
