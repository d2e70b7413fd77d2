package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	JobsSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_submitted_total",
			Help: "Total number of jobs accepted at ingress",
		},
		[]string{"flavor"},
	)
	JobsInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobs_in_flight",
			Help: "Number of jobs currently executing",
		},
		[]string{"flavor"},
	)
	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total number of jobs completed",
		},
		[]string{"flavor"},
	)
	JobsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_failed_total",
			Help: "Total number of jobs failed",
		},
		[]string{"flavor"},
	)

	ExecutorDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "executor_duration_seconds",
			Help:    "Executor run duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"flavor"},
	)

	WebhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_deliveries_total",
			Help: "Total webhook delivery attempts by target status and outcome",
		},
		[]string{"status", "outcome"},
	)

	QueuePublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_published_total",
			Help: "Total messages published to the broker",
		},
		[]string{"queue"},
	)
	QueueReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "queue_reconnects_total",
			Help: "Total broker reconnect attempts",
		},
	)

	JanitorFilesRemoved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "janitor_files_removed_total",
			Help: "Staged files removed by the janitor",
		},
	)
	JanitorJobsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "janitor_stale_jobs_failed_total",
			Help: "Stale pending jobs marked failed by the janitor",
		},
	)
)

func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(JobsSubmittedTotal)
	prometheus.MustRegister(JobsInFlight)
	prometheus.MustRegister(JobsCompletedTotal)
	prometheus.MustRegister(JobsFailedTotal)
	prometheus.MustRegister(ExecutorDuration)
	prometheus.MustRegister(WebhookDeliveriesTotal)
	prometheus.MustRegister(QueuePublishedTotal)
	prometheus.MustRegister(QueueReconnectsTotal)
	prometheus.MustRegister(JanitorFilesRemoved)
	prometheus.MustRegister(JanitorJobsFailed)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

func SubmitJob(flavor string) {
	JobsSubmittedTotal.WithLabelValues(flavor).Inc()
}

// StartJob and EndJob track the worker's in-flight gauge. CompleteJob and
// FailJob count terminal transitions on the server side.
func StartJob(flavor string) {
	JobsInFlight.WithLabelValues(flavor).Inc()
}

func EndJob(flavor string) {
	JobsInFlight.WithLabelValues(flavor).Dec()
}

func CompleteJob(flavor string) {
	JobsCompletedTotal.WithLabelValues(flavor).Inc()
}

func FailJob(flavor string) {
	JobsFailedTotal.WithLabelValues(flavor).Inc()
}

// ObserveWebhook records one callback attempt. outcome is "ok" for an HTTP
// 200 and "error" for everything else including transport failures.
func ObserveWebhook(status string, ok bool) {
	outcome := "error"
	if ok {
		outcome = "ok"
	}
	WebhookDeliveriesTotal.WithLabelValues(status, outcome).Inc()
}
