package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the ledger's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "launchledger",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "launchledger",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "launchledger",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)

	voteOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "launchledger",
			Subsystem: "ledger",
			Name:      "vote_operations_total",
			Help:      "Vote and unvote attempts by outcome.",
		},
		[]string{"action", "result"},
	)

	flushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "launchledger",
			Subsystem: "ledger",
			Name:      "flushes_total",
			Help:      "Launch flush attempts by outcome.",
		},
		[]string{"result"},
	)

	flushedVotes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "launchledger",
			Subsystem: "ledger",
			Name:      "flushed_votes_total",
			Help:      "Votes moved into durable totals.",
		},
	)

	repairs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "launchledger",
			Subsystem: "ledger",
			Name:      "repairs_total",
			Help:      "Eligibility repairs by outcome.",
		},
		[]string{"result"},
	)

	cycleRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "launchledger",
			Subsystem: "cycle",
			Name:      "runs_total",
			Help:      "Daily cycle runs by completion.",
		},
		[]string{"complete"},
	)

	cycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "launchledger",
			Subsystem: "cycle",
			Name:      "run_duration_seconds",
			Help:      "Duration of daily cycle runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		voteOps,
		flushes,
		flushedVotes,
		repairs,
		cycleRuns,
		cycleDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler exposes the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps next with request count, latency and in-flight metrics.
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

		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

// RecordVote counts a vote or unvote by result ("ok" or an error code).
func RecordVote(action, result string) {
	voteOps.WithLabelValues(action, result).Inc()
}

func RecordFlush(success bool, votes int64) {
	flushes.WithLabelValues(outcome(success)).Inc()
	if success && votes > 0 {
		flushedVotes.Add(float64(votes))
	}
}

func RecordRepair(success bool) {
	repairs.WithLabelValues(outcome(success)).Inc()
}

func RecordCycle(complete bool, duration time.Duration) {
	cycleRuns.WithLabelValues(strconv.FormatBool(complete)).Inc()
	cycleDuration.Observe(duration.Seconds())
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// canonicalPath folds path parameters so label cardinality stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch {
	case parts[0] == "launches" && len(parts) >= 2 && parts[1] != "active" && parts[1] != "today":
		if len(parts) == 3 {
			return "/launches/:date/" + parts[2]
		}
		return "/launches/:date"
	case parts[0] == "apps" && len(parts) >= 2:
		return "/apps/:id"
	}
	if len(parts) > 2 {
		parts = parts[:2]
	}
	return "/" + strings.Join(parts, "/")
}
