package leaf

import (
	"fmt"

	"github.com/kailas-cloud/splitsearch/internal/aggregation"
	"github.com/kailas-cloud/splitsearch/internal/docmapper"
	"github.com/kailas-cloud/splitsearch/internal/domain"
	"github.com/kailas-cloud/splitsearch/internal/domain/query"
	"github.com/kailas-cloud/splitsearch/internal/domain/search"
	"github.com/kailas-cloud/splitsearch/internal/splitfile"
)

type sortMode int

const (
	sortByDocID sortMode = iota
	sortByScore
	sortByField
)

// Plan is a search request resolved against an index schema. Building it performs every
// request-level check, so a failure here fails the whole call before any split is read.
type Plan struct {
	Request      *search.SearchRequest
	Mapper       docmapper.DocMapper
	Query        *query.Query
	SearchFields []string
	Order        search.SortOrder
	Aggregation  aggregation.Request
	IndexURI     string

	mode      sortMode
	sortField string
}

// NewPlan validates req against the serialized doc mapper of its index.
func NewPlan(req *search.SearchRequest, docMapping, indexURI string) (*Plan, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	mapper, err := docmapper.FromJSON(docMapping)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	return NewPlanWithMapper(req, mapper, indexURI)
}

// NewPlanWithMapper is NewPlan for an already decoded mapper.
func NewPlanWithMapper(req *search.SearchRequest, mapper docmapper.DocMapper, indexURI string) (*Plan, error) {
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

	p := &Plan{
		Request:      req,
		Mapper:       mapper,
		Query:        q,
		SearchFields: fields,
		Order:        req.EffectiveSortOrder(),
		IndexURI:     indexURI,
	}

	if f := req.SortByField; f != nil {
		switch *f {
		case domain.ScoreField:
			p.mode = sortByScore
		default:
			fm, ok := mapper.Field(*f)
			if !ok {
				return nil, domain.InvalidRequestf("unknown sort field %q", *f)
			}
			if !fm.Fast || fm.Type == docmapper.TypeText {
				return nil, domain.InvalidRequestf("sort field %q must be a numeric fast field", *f)
			}
			p.mode = sortByField
			p.sortField = fm.Name
		}
	}

	if req.AggregationRequest != nil {
		agg, err := aggregation.Parse(*req.AggregationRequest, mapper)
		if err != nil {
			return nil, err
		}
		p.Aggregation = agg
	}
	return p, nil
}

// needsColumns reports whether matching docs need their fast values.
func (p *Plan) needsColumns(checkTime bool) bool {
	return checkTime || p.mode == sortByField || p.Aggregation != nil
}
