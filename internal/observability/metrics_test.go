package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(recordsSaved.WithLabelValues("expense", "create"))
	RecordSaved("expense", "create")
	assert.Equal(t, before+1, testutil.ToFloat64(recordsSaved.WithLabelValues("expense", "create")))

	hits := testutil.ToFloat64(cacheLookups.WithLabelValues("hit"))
	misses := testutil.ToFloat64(cacheLookups.WithLabelValues("miss"))
	RecordCacheLookup(true)
	RecordCacheLookup(false)
	RecordCacheLookup(false)
	assert.Equal(t, hits+1, testutil.ToFloat64(cacheLookups.WithLabelValues("hit")))
	assert.Equal(t, misses+2, testutil.ToFloat64(cacheLookups.WithLabelValues("miss")))

	limited := testutil.ToFloat64(rateLimited)
	RecordRateLimited()
	assert.Equal(t, limited+1, testutil.ToFloat64(rateLimited))
}

func TestHTTPRequestsAreObserved(t *testing.T) {
	ObserveHTTPRequest("/api/expenses/{id}", "GET", 404, time.Now())
	assert.GreaterOrEqual(t, testutil.CollectAndCount(httpRequests, "tracker_http_request_duration_seconds"), 1)
}
