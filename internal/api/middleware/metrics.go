// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// routeUnmatched labels requests that hit no registered route, so scanning
// clients cannot grow the label space.
const routeUnmatched = "unmatched"

var (
	apiRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvr_api_requests_total",
		Help: "Control API requests by route, method and status class",
	}, []string{"route", "method", "class"})

	// Control calls only queue work; anything past a second is a stuck lock.
	apiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nvr_api_request_duration_seconds",
		Help:    "Control API latency in seconds",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
	}, []string{"route", "method"})

	apiInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nvr_api_requests_in_flight",
		Help: "Control API requests being served",
	})

	apiRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvr_api_rejected_total",
		Help: "Control API requests refused because a job was running, the caller was throttled or the daemon was not ready",
	}, []string{"route", "reason"})
)

// Metrics records per-route request counts, latency and refusals of the
// control API. Routes are labelled by their chi pattern.
func Metrics() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			apiInFlight.Inc()
			defer apiInFlight.Dec()

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			route := routePattern(r)
			apiRequests.WithLabelValues(route, r.Method, statusClass(sw.status)).Inc()
			apiRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
			if reason := rejectReason(sw.status); reason != "" {
				apiRejected.WithLabelValues(route, reason).Inc()
			}
		})
	}
}

func routePattern(r *http.Request) string {
	rc := chi.RouteContext(r.Context())
	if rc == nil {
		return routeUnmatched
	}
	p := rc.RoutePattern()
	if p == "" || strings.HasSuffix(p, "/*") {
		return routeUnmatched
	}
	return p
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

func rejectReason(code int) string {
	switch code {
	case http.StatusConflict:
		return "busy"
	case http.StatusTooManyRequests:
		return "throttled"
	case http.StatusServiceUnavailable:
		return "unavailable"
	}
	return ""
}
