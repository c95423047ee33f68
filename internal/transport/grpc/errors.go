package grpc

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kailas-cloud/splitsearch/internal/aggregation"
	"github.com/kailas-cloud/splitsearch/internal/domain"
)

var codeTable = []struct {
	err  error
	code codes.Code
}{
	{domain.ErrInvalidRequest, codes.InvalidArgument},
	{domain.ErrIndexNotFound, codes.NotFound},
	{domain.ErrNotFound, codes.NotFound},
	{domain.ErrAlreadyExists, codes.AlreadyExists},
	{domain.ErrSplitCorrupt, codes.DataLoss},
	{aggregation.ErrTooManyBuckets, codes.ResourceExhausted},
	{domain.ErrNoNodes, codes.Unavailable},
	{domain.ErrNotImplemented, codes.Unimplemented},
	{context.Canceled, codes.Canceled},
	{context.DeadlineExceeded, codes.DeadlineExceeded},
}

// toStatus converts a usecase error into a gRPC status error.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	for _, e := range codeTable {
		if errors.Is(err, e.err) {
			return status.Error(e.code, err.Error())
		}
	}
	return status.Error(codes.Internal, err.Error())
}

// remoteError keeps the message of a remote failure while matching the local sentinel.
type remoteError struct {
	msg      string
	sentinel error
}

func (e *remoteError) Error() string { return e.msg }
func (e *remoteError) Unwrap() error { return e.sentinel }

// fromStatus converts a gRPC status error back into a domain error, so errors.Is and
// leaf.Retryable behave the same for remote and local calls.
func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.NotFound:
		if st.Message() == "" {
			return domain.ErrNotFound
		}
		return &remoteError{msg: st.Message(), sentinel: domain.ErrNotFound}
	case codes.Canceled:
		return &remoteError{msg: st.Message(), sentinel: context.Canceled}
	case codes.DeadlineExceeded:
		return &remoteError{msg: st.Message(), sentinel: context.DeadlineExceeded}
	}
	for _, e := range codeTable {
		if e.code == st.Code() {
			return &remoteError{msg: st.Message(), sentinel: e.err}
		}
	}
	return err
}
