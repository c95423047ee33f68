package chi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kailas-cloud/splitsearch/internal/aggregation"
	"github.com/kailas-cloud/splitsearch/internal/domain"
)

// ErrorCode is the machine-readable code of an error response.
type ErrorCode string

// Error codes.
const (
	ErrorCodeBadRequest       ErrorCode = "bad_request"
	ErrorCodeValidationFailed ErrorCode = "validation_failed"
	ErrorCodeUnauthorized     ErrorCode = "unauthorized"
	ErrorCodeIndexNotFound    ErrorCode = "index_not_found"
	ErrorCodeNotFound         ErrorCode = "not_found"
	ErrorCodeAlreadyExists    ErrorCode = "already_exists"
	ErrorCodeTooManyBuckets   ErrorCode = "too_many_buckets"
	ErrorCodeNoNodes          ErrorCode = "no_nodes"
	ErrorCodeNotImplemented   ErrorCode = "not_implemented"
	ErrorCodeInternalError    ErrorCode = "internal_error"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

var errorHandlers = []errorHandler{
	sentinelHandler(domain.ErrInvalidRequest, http.StatusBadRequest, ErrorCodeValidationFailed),
	sentinelHandler(domain.ErrIndexNotFound, http.StatusNotFound, ErrorCodeIndexNotFound),
	sentinelHandler(domain.ErrNotFound, http.StatusNotFound, ErrorCodeNotFound),
	sentinelHandler(domain.ErrAlreadyExists, http.StatusConflict, ErrorCodeAlreadyExists),
	sentinelHandler(aggregation.ErrTooManyBuckets, http.StatusBadRequest, ErrorCodeTooManyBuckets),
	sentinelHandler(domain.ErrNoNodes, http.StatusServiceUnavailable, ErrorCodeNoNodes),
	sentinelHandler(domain.ErrNotImplemented, http.StatusNotImplemented, ErrorCodeNotImplemented),
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns the message shown to the client. Caller mistakes are
// echoed in full; anything else collapses to its sentinel so internals stay hidden.
func safeDomainMessage(err error) string {
	for _, s := range []error{domain.ErrInvalidRequest, domain.ErrNotFound, domain.ErrAlreadyExists} {
		if errors.Is(err, s) {
			return err.Error()
		}
	}
	for _, s := range []error{aggregation.ErrTooManyBuckets, domain.ErrNoNodes, domain.ErrNotImplemented} {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}
