package splitsearch

import (
	"errors"
	"fmt"

	"github.com/kailas-cloud/splitsearch/internal/aggregation"
	"github.com/kailas-cloud/splitsearch/internal/domain"
)

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrInvalidRequest = domain.ErrInvalidRequest
	ErrIndexNotFound  = domain.ErrIndexNotFound
	ErrNotFound       = domain.ErrNotFound
	ErrAlreadyExists  = domain.ErrAlreadyExists
	ErrNoNodes        = domain.ErrNoNodes
	ErrNotImplemented = domain.ErrNotImplemented
	ErrTooManyBuckets = aggregation.ErrTooManyBuckets
	ErrUnauthorized   = errors.New("unauthorized")
)

var codeSentinels = map[string]error{
	"bad_request":       ErrInvalidRequest,
	"validation_failed": ErrInvalidRequest,
	"unauthorized":      ErrUnauthorized,
	"index_not_found":   ErrIndexNotFound,
	"not_found":         ErrNotFound,
	"already_exists":    ErrAlreadyExists,
	"too_many_buckets":  ErrTooManyBuckets,
	"no_nodes":          ErrNoNodes,
	"not_implemented":   ErrNotImplemented,
}

// APIError is a non-2xx response of the API.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("splitsearch: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Unwrap returns the sentinel matching the error code, so errors.Is works across the
// wire. An index_not_found error also matches ErrNotFound.
func (e *APIError) Unwrap() []error {
	s, ok := codeSentinels[e.Code]
	if !ok {
		return nil
	}
	if s == ErrIndexNotFound {
		return []error{s, ErrNotFound}
	}
	return []error{s}
}
