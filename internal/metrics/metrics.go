// Package metrics defines the gateway's Prometheus collectors, grounded on
// the teacher's internal/metrics package and adapted to a stateless
// gateway: the teacher's object/bucket gauges assumed a local metadata DB
// this gateway does not have, so they are replaced with BS call counters.
package metrics

import (
	"errors"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bleepstore/mantagw/internal/bsclient"
)

var registerOnce sync.Once

var sizeBuckets = []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216, 67108864}

// HTTP metrics (RED: Rate, Errors, Duration).
var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mantagw_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mantagw_http_request_duration_seconds",
			Help:    "Request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mantagw_http_request_size_bytes",
			Help:    "Request body size in bytes",
			Buckets: sizeBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPResponseSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mantagw_http_response_size_bytes",
			Help:    "Response body size in bytes",
			Buckets: sizeBuckets,
		},
		[]string{"method", "path"},
	)
)

// Gateway-specific metrics.
var (
	// S3OperationsTotal counts translated S3 operations by name and outcome.
	S3OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mantagw_s3_operations_total",
			Help: "S3 operations handled by the gateway, by operation and status",
		},
		[]string{"operation", "status"},
	)

	// BSCallsTotal counts calls made into the backing-store client, by BS
	// operation and outcome. This is the gateway's replacement for the
	// teacher's metadata-DB-derived object/bucket gauges: the BS is the
	// only source of durable state, so call volume against it is what
	// this gateway can actually observe about its own behavior.
	BSCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mantagw_bs_calls_total",
			Help: "Calls made to the backing store client, by operation and status",
		},
		[]string{"op", "status"},
	)

	BytesReceivedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mantagw_bytes_received_total",
			Help: "Total bytes received in request bodies",
		},
	)

	BytesSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mantagw_bytes_sent_total",
			Help: "Total bytes sent in response bodies",
		},
	)
)

// RecordS3Operation increments S3OperationsTotal for one completed gateway
// operation, classifying err as "success" or "error".
func RecordS3Operation(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	S3OperationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordBSCall increments BSCallsTotal for one completed backing-store
// call, classifying err as "success" or "error". The sentinel errors a
// well-behaved caller routinely triggers on valid input -- a HeadBucket
// probe on a bucket that doesn't exist yet, Unlink racing a concurrent
// delete, Rmdir on a directory with children -- are counted as "success"
// so the metric reflects backend health rather than ordinary 404/409
// traffic.
func RecordBSCall(op string, err error) {
	status := "success"
	if err != nil && !errors.Is(err, bsclient.ErrNotFound) &&
		!errors.Is(err, bsclient.ErrNotEmpty) && !errors.Is(err, bsclient.ErrIsDirectory) {
		status = "error"
	}
	BSCallsTotal.WithLabelValues(op, status).Inc()
}

// Register registers all collectors with the default registry. Safe to
// call more than once; only the first call has effect.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			HTTPRequestSize,
			HTTPResponseSize,
			S3OperationsTotal,
			BSCallsTotal,
			BytesReceivedTotal,
			BytesSentTotal,
		)
		// Pre-declare the most common label combination so it scrapes as
		// zero from startup instead of being absent until first traffic.
		S3OperationsTotal.WithLabelValues("ListBuckets", "success")
	})
}

// NormalizePath maps actual request paths to normalized templates suitable
// as Prometheus labels, avoiding high-cardinality labels from individual
// bucket/object names.
func NormalizePath(path string) string {
	switch path {
	case "/healthz":
		return "/healthz"
	case "/docs", "/docs/":
		return "/docs"
	case "/metrics":
		return "/metrics"
	case "/openapi.json":
		return "/openapi.json"
	case "/", "":
		return "/"
	}

	if strings.HasPrefix(path, "/docs") {
		return "/docs"
	}

	trimmed := strings.TrimPrefix(path, "/")
	if trimmed == "" {
		return "/"
	}

	idx := strings.IndexByte(trimmed, '/')
	if idx < 0 {
		return "/{bucket}"
	}
	if trimmed[idx+1:] == "" {
		return "/{bucket}"
	}
	return "/{bucket}/{key}"
}
