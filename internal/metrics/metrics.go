package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "streamify"

// Metrics holds the process registry and the collectors the API updates.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	viewsRegistered   *prometheus.CounterVec
	viewsDuplicate    *prometheus.CounterVec
	watchSeconds      *prometheus.CounterVec
	rosterTruncations prometheus.Counter
	rateLimited       *prometheus.CounterVec
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		viewsRegistered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "views_registered_total",
			Help:      "Views counted for the first time, by viewer class.",
		}, []string{"class"}),
		viewsDuplicate: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "views_duplicate_total",
			Help:      "View registrations ignored because the viewer was already counted.",
		}, []string{"class"}),
		watchSeconds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watch_seconds_total",
			Help:      "Reported watch time in seconds, by viewer class.",
		}, []string{"class"}),
		rosterTruncations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "viewer_roster_truncations_total",
			Help:      "Times a video's viewer roster was trimmed back to its retained size.",
		}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_requests_total",
			Help:      "Requests rejected by a rate limiter.",
		}, []string{"limiter"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern, method and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}

	m.Registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
		m.viewsRegistered,
		m.viewsDuplicate,
		m.watchSeconds,
		m.rosterTruncations,
		m.rateLimited,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

func (m *Metrics) ViewRegistered(class string, counted bool) {
	if m == nil {
		return
	}
	if counted {
		m.viewsRegistered.WithLabelValues(class).Inc()
		return
	}
	m.viewsDuplicate.WithLabelValues(class).Inc()
}

func (m *Metrics) WatchTime(class string, seconds float64) {
	if m == nil {
		return
	}
	m.watchSeconds.WithLabelValues(class).Add(seconds)
}

func (m *Metrics) RosterTruncated() {
	if m == nil {
		return
	}
	m.rosterTruncations.Inc()
}

func (m *Metrics) RateLimited(limiter string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(limiter).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Middleware records request count and latency labelled with the chi route
// pattern, so path parameters do not explode label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		m.httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(sw.status)).Inc()
		m.httpDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
