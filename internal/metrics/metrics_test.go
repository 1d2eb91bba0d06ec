package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowledge-engine/catalogsearch/internal/metrics"
)

func gather(t *testing.T, name string) int {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return len(f.GetMetric())
		}
	}
	return 0
}

func TestMiddlewareRecordsStatus(t *testing.T) {
	handler := metrics.Middleware("/test", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusTeapot, rr.Code)
	assert.GreaterOrEqual(t, gather(t, "catalogsearch_http_requests_total"), 1)
}

func TestObservers(t *testing.T) {
	metrics.ObserveSearch(time.Millisecond, "")
	metrics.ObserveSearch(time.Millisecond, "ranking")
	metrics.ObserveReload(true)
	metrics.ObserveReload(false)
	metrics.ObserveCandidate(true)
	metrics.SetSnapshot(3, 4)

	assert.GreaterOrEqual(t, gather(t, "catalogsearch_search_errors_total"), 1)
	assert.Equal(t, 2, gather(t, "catalogsearch_snapshot_reloads_total"))
	assert.Equal(t, 1, gather(t, "catalogsearch_snapshot_documents"))

	n, err := testutil.GatherAndCount(prometheus.DefaultGatherer, "catalogsearch_training_candidates_total")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)
}
