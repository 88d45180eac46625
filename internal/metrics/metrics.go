// Package metrics holds the worker's Prometheus registry and the counters,
// gauges, and histograms exported by each domain component.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector this worker exposes.
var Registry = prometheus.NewRegistry()

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "jinn_worker",
		Subsystem: "http",
		Name:      "inflight_requests",
		Help:      "Current in-flight requests against the signing proxy.",
	})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jinn_worker",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total signing proxy HTTP requests handled.",
	}, []string{"method", "path", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "jinn_worker",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Duration of signing proxy HTTP requests.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"method", "path"})

	// RequestsClaimed counts claim attempts against the marketplace, by result.
	RequestsClaimed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jinn_worker",
		Subsystem: "lifecycle",
		Name:      "claims_total",
		Help:      "Total claim attempts, by outcome.",
	}, []string{"outcome"})

	// RequestsDelivered counts delivery transactions enqueued for on-chain
	// submission, by result.
	RequestsDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jinn_worker",
		Subsystem: "lifecycle",
		Name:      "deliveries_total",
		Help:      "Total deliverTo transactions enqueued for submission, by outcome.",
	}, []string{"outcome"})

	// TxQueueDepth tracks the number of pending transactions in the queue.
	TxQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "jinn_worker",
		Subsystem: "txqueue",
		Name:      "pending",
		Help:      "Current number of pending transactions in the durable queue.",
	})

	// TxConfirmations counts confirmed/failed transaction outcomes.
	TxConfirmations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jinn_worker",
		Subsystem: "txqueue",
		Name:      "confirmations_total",
		Help:      "Total transaction confirmations, by outcome.",
	}, []string{"outcome"})

	// CheckpointSubmissions counts checkpoint submission attempts.
	CheckpointSubmissions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jinn_worker",
		Subsystem: "checkpoint",
		Name:      "submissions_total",
		Help:      "Total checkpoint submission attempts, by outcome.",
	}, []string{"outcome"})

	// VentureTicks counts venture schedule-tick evaluations.
	VentureTicks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jinn_worker",
		Subsystem: "venture",
		Name:      "ticks_total",
		Help:      "Total venture schedule ticks evaluated, by outcome.",
	}, []string{"venture_id", "outcome"})

	// BlueprintBuilds tracks blueprint assembly outcomes.
	BlueprintBuilds = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jinn_worker",
		Subsystem: "blueprint",
		Name:      "builds_total",
		Help:      "Total blueprint builds, by outcome.",
	}, []string{"outcome"})

	// RPCRequests counts chain RPC calls by chain and status.
	RPCRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jinn_worker",
		Subsystem: "chainrpc",
		Name:      "requests_total",
		Help:      "Total JSON-RPC calls made to chain endpoints.",
	}, []string{"chain_id", "method", "status"})

	// RPCDuration records chain RPC call latency.
	RPCDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "jinn_worker",
		Subsystem: "chainrpc",
		Name:      "request_duration_seconds",
		Help:      "Duration of JSON-RPC calls made to chain endpoints.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	}, []string{"chain_id", "method"})
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		RequestsClaimed,
		RequestsDelivered,
		TxQueueDepth,
		TxConfirmations,
		CheckpointSubmissions,
		VentureTicks,
		BlueprintBuilds,
		RPCRequests,
		RPCDuration,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps next with request-count/duration/in-flight metrics.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, r.URL.Path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, r.URL.Path).Observe(duration.Seconds())
	})
}

// RecordRPCCall records the outcome and duration of a chain RPC call.
func RecordRPCCall(chainID, method, status string, dur time.Duration) {
	if status == "" {
		status = "unknown"
	}
	RPCRequests.WithLabelValues(chainID, method, status).Inc()
	RPCDuration.WithLabelValues(chainID, method).Observe(dur.Seconds())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}
