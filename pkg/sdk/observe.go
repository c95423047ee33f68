package splitsearch

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Operation outcomes, the status label of splitsearch_sdk_operations_total.
const (
	statusOK       = "ok"
	statusPartial  = "partial"
	statusCanceled = "canceled"
	statusError    = "error"
)

// sdkMetrics holds prometheus metrics registered for the SDK.
type sdkMetrics struct {
	operations   *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	failedSplits *prometheus.CounterVec
}

func newSDKMetrics(reg prometheus.Registerer) (*sdkMetrics, error) {
	m := &sdkMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "splitsearch",
			Subsystem: "sdk",
			Name:      "operations_total",
			Help:      "SDK operations by type and outcome (ok, partial, canceled, error).",
		}, []string{"operation", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "splitsearch",
			Subsystem: "sdk",
			Name:      "operation_duration_seconds",
			Help:      "SDK operation duration in seconds; streams last until Close.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		failedSplits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "splitsearch",
			Subsystem: "sdk",
			Name:      "failed_splits_total",
			Help:      "Splits the server reported as failed in otherwise successful responses.",
		}, []string{"operation"}),
	}
	if err := registerOrReuse(reg, &m.operations); err != nil {
		return nil, err
	}
	if err := registerOrReuse(reg, &m.duration); err != nil {
		return nil, err
	}
	if err := registerOrReuse(reg, &m.failedSplits); err != nil {
		return nil, err
	}
	return m, nil
}

// registerOrReuse registers a collector, or takes over the one a previous client
// registered under the same name.
func registerOrReuse[T prometheus.Collector](reg prometheus.Registerer, c *T) error {
	err := reg.Register(*c)
	if err == nil {
		return nil
	}
	var are prometheus.AlreadyRegisteredError
	if !errors.As(err, &are) {
		return fmt.Errorf("splitsearch: register metric: %w", err)
	}
	existing, ok := are.ExistingCollector.(T)
	if !ok {
		return fmt.Errorf("splitsearch: metric already registered with incompatible type: %T", are.ExistingCollector)
	}
	*c = existing
	return nil
}

// observer provides logging and metrics for SDK operations.
type observer struct {
	logger  *slog.Logger
	metrics *sdkMetrics
}

func newObserver(logger *slog.Logger, reg prometheus.Registerer) (*observer, error) {
	var m *sdkMetrics
	if reg != nil {
		var err error
		m, err = newSDKMetrics(reg)
		if err != nil {
			return nil, err
		}
	}
	return &observer{logger: logger, metrics: m}, nil
}

func outcome(failedSplits int, err error) string {
	switch {
	case err != nil && isCanceled(err):
		return statusCanceled
	case err != nil:
		return statusError
	case failedSplits > 0:
		return statusPartial
	default:
		return statusOK
	}
}

// observe records one finished operation. failedSplits counts the splits the server
// reported as failed; a response with failed splits is partial, not an error.
func (o *observer) observe(op string, start time.Time, failedSplits int, err error) {
	if o == nil {
		return
	}
	dur := time.Since(start)
	status := outcome(failedSplits, err)

	if o.metrics != nil {
		o.metrics.operations.WithLabelValues(op, status).Inc()
		o.metrics.duration.WithLabelValues(op).Observe(dur.Seconds())
		if failedSplits > 0 {
			o.metrics.failedSplits.WithLabelValues(op).Add(float64(failedSplits))
		}
	}

	if o.logger == nil {
		return
	}
	switch status {
	case statusError:
		o.logger.Warn("operation failed", "op", op, "duration", dur, "error", err)
	case statusPartial:
		o.logger.Warn("operation returned partial results", "op", op, "duration", dur, "failed_splits", failedSplits)
	default:
		o.logger.Debug("operation completed", "op", op, "duration", dur, "status", status)
	}
}
