package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ActionsTotal    *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ephemchat_requests_total",
			Help: "HTTP requests by method, path and status.",
		}, []string{"method", "path", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ephemchat_request_duration_seconds",
			Help:    "HTTP request latency by method and path.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ephemchat_actions_total",
			Help: "Chat protocol actions received.",
		}, []string{"action"}),
	}
	reg.MustRegister(m.RequestsTotal, m.RequestDuration, m.ActionsTotal)
	return m
}

type metricsWriter struct {
	http.ResponseWriter
	status int
}

func (w *metricsWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func MetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			mw := &metricsWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(mw, r)

			metrics.RequestsTotal.WithLabelValues(
				r.Method,
				r.URL.Path,
				strconv.Itoa(mw.status),
			).Inc()
			metrics.RequestDuration.WithLabelValues(
				r.Method,
				r.URL.Path,
			).Observe(time.Since(start).Seconds())

			if action := r.FormValue("action"); action != "" && r.URL.Path == "/api" {
				metrics.ActionsTotal.WithLabelValues(action).Inc()
			}
		})
	}
}
