package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "splitsearch"

// Search Prometheus metrics.
var (
	RootSearchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "root_searches_total",
			Help:      "Total number of root searches",
		},
		[]string{"outcome"}, // "ok" / "partial" / "failed" / "error"
	)

	RootSearchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "root_search_duration_seconds",
			Help:      "Root search duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	SplitSearchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leaf_split_searches_total",
			Help:      "Total number of split searches on this node",
		},
		[]string{"status"}, // "ok" / "retryable" / "fatal"
	)

	SplitSearchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "leaf_split_search_duration_seconds",
			Help:      "Duration of one split search, queueing excluded",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	SplitSearchesInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "leaf_split_searches_in_flight",
			Help:      "Split searches holding a concurrency permit",
		},
	)

	FetchedDocsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetched_docs_total",
			Help:      "Documents fetched for result pages",
		},
		[]string{"status"}, // "ok" / "error"
	)

	StreamChunksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leaf_stream_chunks_total",
			Help:      "Chunks produced by split streams",
		},
	)

	StreamBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leaf_stream_bytes_total",
			Help:      "Bytes produced by split streams",
		},
	)

	FooterCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "footer_cache_total",
			Help:      "Split footer cache hits and misses",
		},
		[]string{"result"}, // "hit" / "miss"
	)

	GRPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_requests_total",
			Help:      "Total number of gRPC requests served",
		},
		[]string{"method", "code"},
	)

	GRPCRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grpc_request_duration_seconds",
			Help:      "gRPC request duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method"},
	)
)

var searchMetricsRegistered bool

// RegisterSearchMetrics registers Prometheus search metrics. Must be called once from main.
func RegisterSearchMetrics() {
	if searchMetricsRegistered {
		return
	}
	prometheus.MustRegister(RootSearchesTotal)
	prometheus.MustRegister(RootSearchDuration)
	prometheus.MustRegister(SplitSearchesTotal)
	prometheus.MustRegister(SplitSearchDuration)
	prometheus.MustRegister(SplitSearchesInFlight)
	prometheus.MustRegister(FetchedDocsTotal)
	prometheus.MustRegister(StreamChunksTotal)
	prometheus.MustRegister(StreamBytesTotal)
	prometheus.MustRegister(FooterCacheTotal)
	prometheus.MustRegister(GRPCRequestsTotal)
	prometheus.MustRegister(GRPCRequestDuration)
	searchMetricsRegistered = true
}
