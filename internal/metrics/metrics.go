// Package metrics exposes Prometheus instruments for ingestion, the live
// buffer, window queries and the last-reading mirror.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"loraclima-server/internal/mqtt"
)

const namespace = "loraclima"

type Metrics struct {
	registry *prometheus.Registry

	connectAttempts *prometheus.CounterVec
	brokerState     prometheus.Gauge
	ingested        *prometheus.CounterVec
	decodeFailures  *prometheus.CounterVec
	listenerDrops   prometheus.Counter
	windowQueries   *prometheus.CounterVec
	storePages      *prometheus.CounterVec
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	cbState         *prometheus.GaugeVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// New registers every instrument on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mqtt_connect_attempts_total",
			Help:      "Broker connection attempts by outcome.",
		}, []string{"outcome"}),
		brokerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mqtt_state",
			Help:      "Ingestion client state (0 disconnected, 1 connecting, 2 subscribed, 3 receiving).",
		}),
		ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_ingested_total",
			Help:      "Decoded readings by sensor.",
		}, []string{"sensor_id"}),
		decodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Dropped uplinks by reason.",
		}, []string{"reason"}),
		listenerDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_listener_drops_total",
			Help:      "Readings not delivered to a live listener because its queue was full.",
		}),
		windowQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "window_queries_total",
			Help:      "Per-sensor window queries by window and outcome.",
		}, []string{"window", "outcome"}),
		storePages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_pages_total",
			Help:      "Store page requests by operation.",
		}, []string{"op"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "last_cache_hits_total",
			Help:      "Last-reading mirror hits.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "last_cache_misses_total",
			Help:      "Last-reading mirror misses and errors.",
		}),
		cbState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cb_state",
			Help:      "Circuit breaker state gauge (0 closed, 1 half, 2 open).",
		}, []string{"target"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connectAttempts,
		m.brokerState,
		m.ingested,
		m.decodeFailures,
		m.listenerDrops,
		m.windowQueries,
		m.storePages,
		m.cacheHits,
		m.cacheMisses,
		m.cbState,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ConnectAttempt(ok bool) {
	outcome := "error"
	if ok {
		outcome = "ok"
	}
	m.connectAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) StateChanged(s mqtt.State) {
	m.brokerState.Set(float64(s))
}

func (m *Metrics) Ingested(sensorID string) {
	m.ingested.WithLabelValues(sensorID).Inc()
}

func (m *Metrics) DecodeFailed(reason string) {
	m.decodeFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) ListenerDrop() {
	m.listenerDrops.Inc()
}

func (m *Metrics) StorePage(op string) {
	m.storePages.WithLabelValues(op).Inc()
}

func (m *Metrics) WindowQuery(window, outcome string) {
	m.windowQueries.WithLabelValues(window, outcome).Inc()
}

func (m *Metrics) CacheHit() {
	m.cacheHits.Inc()
}

func (m *Metrics) CacheMiss() {
	m.cacheMisses.Inc()
}

func (m *Metrics) BreakerState(target string, state int) {
	m.cbState.WithLabelValues(target).Set(float64(state))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// Hijack lets websocket upgrades pass through the recorder.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

// WrapHandler counts requests and their duration under route. An empty
// route labels each request with the ServeMux pattern it matched.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		route := route
		if route == "" {
			route = r.Pattern
		}
		if route == "" {
			route = "unmatched"
		}
		m.httpRequests.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
