package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "catalogsearch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "path", "status"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "catalogsearch",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	searchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "catalogsearch",
			Name:      "search_duration_seconds",
			Help:      "Time spent ranking one query against the document matrix",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		},
	)

	searchErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "catalogsearch",
			Name:      "search_errors_total",
			Help:      "Failed searches by error kind",
		},
		[]string{"kind"},
	)

	snapshotReloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "catalogsearch",
			Name:      "snapshot_reloads_total",
			Help:      "Model snapshot reload attempts by result",
		},
		[]string{"result"},
	)

	snapshotDocuments = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "catalogsearch",
			Name:      "snapshot_documents",
			Help:      "Documents in the published snapshot",
		},
	)

	snapshotVocabulary = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "catalogsearch",
			Name:      "snapshot_vocabulary_terms",
			Help:      "Vocabulary size of the published snapshot",
		},
	)

	trainingCandidates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "catalogsearch",
			Name:      "training_candidates_total",
			Help:      "Hyperparameter combinations evaluated by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestDuration,
		httpRequestsTotal,
		searchDuration,
		searchErrors,
		snapshotReloads,
		snapshotDocuments,
		snapshotVocabulary,
		trainingCandidates,
	)
}

// ObserveSearch records a ranked query. kind is empty on success.
func ObserveSearch(d time.Duration, kind string) {
	searchDuration.Observe(d.Seconds())
	if kind != "" {
		searchErrors.WithLabelValues(kind).Inc()
	}
}

// ObserveReload records a snapshot reload attempt.
func ObserveReload(ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	snapshotReloads.WithLabelValues(result).Inc()
}

// SetSnapshot publishes the size of the active snapshot.
func SetSnapshot(documents, vocabulary int) {
	snapshotDocuments.Set(float64(documents))
	snapshotVocabulary.Set(float64(vocabulary))
}

// ObserveCandidate records one grid-search combination.
func ObserveCandidate(scored bool) {
	outcome := "scored"
	if !scored {
		outcome = "discarded"
	}
	trainingCandidates.WithLabelValues(outcome).Inc()
}

// Middleware records HTTP request duration and count. path is the route
// label, fixed per handler to keep cardinality bounded.
func Middleware(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		status := strconv.Itoa(ww.status)
		httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
	})
}

// statusWriter captures the response status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.wroteHeader = true
	}
	return w.ResponseWriter.Write(b)
}
