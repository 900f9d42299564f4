package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tracker"

var (
	recordsSaved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "records",
		Name:      "saved_total",
		Help:      "Records persisted, by kind and operation.",
	}, []string{"kind", "op"})
	validationFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "records",
		Name:      "validation_failures_total",
		Help:      "Writes rejected by record validation, by kind.",
	}, []string{"kind"})
	aggregationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "aggregation",
		Name:      "duration_seconds",
		Help:      "Time spent computing an aggregate.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"aggregate"})
	cacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dashboard_cache",
		Name:      "lookups_total",
		Help:      "Dashboard cache lookups, by result.",
	}, []string{"result"})
	publishFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "publish_failures_total",
		Help:      "Change events that could not be published.",
	})
	httpRequests = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route, method and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method", "status"})
	rateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the write rate limiter.",
	})
	mirroredExpenses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "mirror",
		Name:      "expenses_total",
		Help:      "Expense change events handled by the mirror worker, by outcome.",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(
		recordsSaved,
		validationFailures,
		aggregationDuration,
		cacheLookups,
		publishFailures,
		mirroredExpenses,
		httpRequests,
		rateLimited,
	)
}

// RecordSaved counts a successful write.
func RecordSaved(kind, op string) {
	recordsSaved.WithLabelValues(kind, op).Inc()
}

// RecordValidationFailure counts a write rejected before persistence.
func RecordValidationFailure(kind string) {
	validationFailures.WithLabelValues(kind).Inc()
}

// ObserveAggregation records how long an aggregate took since start.
func ObserveAggregation(aggregate string, start time.Time) {
	aggregationDuration.WithLabelValues(aggregate).Observe(time.Since(start).Seconds())
}

// RecordCacheLookup counts a dashboard cache hit or miss.
func RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.WithLabelValues(result).Inc()
}

// RecordPublishFailure counts a change event that was dropped.
func RecordPublishFailure() {
	publishFailures.Inc()
}

// RecordMirrored counts an expense event handled by the mirror worker.
func RecordMirrored(outcome string) {
	mirroredExpenses.WithLabelValues(outcome).Inc()
}

// ObserveHTTPRequest records one served request since start.
func ObserveHTTPRequest(route, method string, status int, start time.Time) {
	httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
}

// RecordRateLimited counts a request rejected by the rate limiter.
func RecordRateLimited() {
	rateLimited.Inc()
}
