package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Auth event outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// MetricsService encapsulates Prometheus instrumentation.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	authEvents      *prometheus.CounterVec
	rateLimit       *prometheus.CounterVec
	reuseDetected   prometheus.Counter
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	sessionsSwept   prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	authEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authd_auth_events_total",
		Help: "Authentication use cases by event and outcome",
	}, []string{"event", "outcome"})

	rateLimit := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authd_rate_limit_decisions_total",
		Help: "Rate limiter decisions by route",
	}, []string{"route", "decision"})

	reuseDetected := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authd_refresh_reuse_detected_total",
		Help: "Refresh tokens presented with a wrong secret for a known session",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authd_cors_cache_hits_total",
		Help: "CORS allowlist lookups served from cache",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authd_cors_cache_loads_total",
		Help: "CORS allowlist loads from the store",
	})

	sessionsSwept := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authd_sessions_swept_total",
		Help: "Inactive sessions purged by the sweeper",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, authEvents, rateLimit, reuseDetected, cacheHits, cacheMisses, sessionsSwept, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		authEvents:      authEvents,
		rateLimit:       rateLimit,
		reuseDetected:   reuseDetected,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		sessionsSwept:   sessionsSwept,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry exposes the underlying registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordAuthEvent counts a signup, login, refresh or logout outcome.
func (m *MetricsService) RecordAuthEvent(event, outcome string) {
	if m == nil {
		return
	}
	m.authEvents.WithLabelValues(event, outcome).Inc()
}

// RecordRefreshReuse counts a detected refresh token reuse.
func (m *MetricsService) RecordRefreshReuse() {
	if m == nil {
		return
	}
	m.reuseDetected.Inc()
}

// RecordRateLimit counts a limiter decision.
func (m *MetricsService) RecordRateLimit(route string, allowed bool) {
	if m == nil {
		return
	}
	decision := "allowed"
	if !allowed {
		decision = "limited"
	}
	m.rateLimit.WithLabelValues(route, decision).Inc()
}

// RecordCacheOperation records whether a lookup was served from cache.
func (m *MetricsService) RecordCacheOperation(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Inc()
		return
	}
	m.cacheMisses.Inc()
}

// RecordSessionsSwept adds n purged sessions.
func (m *MetricsService) RecordSessionsSwept(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.sessionsSwept.Add(float64(n))
}
