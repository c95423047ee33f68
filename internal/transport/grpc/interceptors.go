package grpc

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kailas-cloud/splitsearch/internal/metrics"
)

// UnaryInterceptor logs and measures every unary call.
func UnaryInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		observe(logger, info.FullMethod, start, err)
		return resp, err
	}
}

// StreamInterceptor logs and measures every streaming call.
func StreamInterceptor(logger *zap.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		observe(logger, info.FullMethod, start, err)
		return err
	}
}

func observe(logger *zap.Logger, fullMethod string, start time.Time, err error) {
	elapsed := time.Since(start)
	_, method := splitFullMethod(fullMethod)
	code := status.Code(err)

	metrics.GRPCRequestsTotal.WithLabelValues(method, code.String()).Inc()
	metrics.GRPCRequestDuration.WithLabelValues(method).Observe(elapsed.Seconds())

	fields := []zap.Field{
		zap.String("method", method),
		zap.String("code", code.String()),
		zap.Duration("duration", elapsed),
	}
	switch outcomeFromCode(code) {
	case "server_error":
		logger.Error("gRPC request failed", append(fields, zap.Error(err))...)
	case "client_error":
		logger.Info("gRPC request rejected", append(fields, zap.Error(err))...)
	default:
		logger.Debug("gRPC request", fields...)
	}
}

func splitFullMethod(fullMethod string) (service, method string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) != 2 {
		return fullMethod, "unknown"
	}
	return parts[0], parts[1]
}

func outcomeFromCode(code codes.Code) string {
	switch code {
	case codes.OK:
		return "success"
	case codes.Canceled, codes.InvalidArgument, codes.NotFound, codes.AlreadyExists,
		codes.PermissionDenied, codes.Unauthenticated, codes.FailedPrecondition,
		codes.OutOfRange, codes.ResourceExhausted:
		return "client_error"
	default:
		return "server_error"
	}
}
