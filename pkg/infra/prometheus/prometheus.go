package prometheus

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registry = prometheus.NewRegistry()

var registerer = prometheus.WrapRegistererWith(nil, registry)

var (
	// Scan latency buckets in milliseconds; local-pattern scans sit in the
	// low buckets, intel-refresh scans in the high ones.
	scanLatencyBuckets = []float64{
		1, 2, 5,
		10, 25, 50,
		100, 250, 500,
		1000, 2500, 10000,
	}

	RequestsScanned = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_requests_scanned_total",
			Help: "Requests inspected by the security filter, by decision",
		},
		[]string{"decision"},
	)

	ThreatsDetected = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_threats_detected_total",
			Help: "Threat matches produced by the scanner",
		},
		[]string{"category", "severity"},
	)

	ScanLatency = promauto.With(registerer).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vigil_scan_latency_ms",
			Help:    "Scan latency in milliseconds",
			Buckets: scanLatencyBuckets,
		},
		[]string{"cache"},
	)

	ReputationFailures = promauto.With(registerer).NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_reputation_store_failures_total",
			Help: "Reputation store calls that failed and were treated as fail-open",
		},
	)
)

// Decision label values for RequestsScanned.
const (
	DecisionAllowed  = "allowed"
	DecisionBlocked  = "blocked"
	DecisionBypassed = "bypassed"
	DecisionFailOpen = "fail_open"
)

// Handler serves the private registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
