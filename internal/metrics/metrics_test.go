package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	dto "github.com/prometheus/client_model/go"

	"loraclima-server/internal/mqtt"
)

func value(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			if !matches(metric, labels) {
				continue
			}
			switch {
			case metric.GetCounter() != nil:
				return metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				return metric.GetGauge().GetValue()
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return 0
}

func matches(m *dto.Metric, labels map[string]string) bool {
	if len(m.GetLabel()) != len(labels) {
		return false
	}
	for _, lp := range m.GetLabel() {
		if labels[lp.GetName()] != lp.GetValue() {
			return false
		}
	}
	return true
}

func TestMetrics_Observers(t *testing.T) {
	m := New()

	m.ConnectAttempt(false)
	m.ConnectAttempt(false)
	m.ConnectAttempt(true)
	m.StateChanged(mqtt.StateReceiving)
	m.Ingested("dev")
	m.DecodeFailed("base64")
	m.ListenerDrop()
	m.StorePage("query")
	m.WindowQuery("1h", "ok")
	m.CacheHit()
	m.CacheMiss()
	m.BreakerState("redis", 2)

	checks := []struct {
		name   string
		labels map[string]string
		want   float64
	}{
		{"loraclima_mqtt_connect_attempts_total", map[string]string{"outcome": "error"}, 2},
		{"loraclima_mqtt_connect_attempts_total", map[string]string{"outcome": "ok"}, 1},
		{"loraclima_mqtt_state", nil, 3},
		{"loraclima_readings_ingested_total", map[string]string{"sensor_id": "dev"}, 1},
		{"loraclima_decode_failures_total", map[string]string{"reason": "base64"}, 1},
		{"loraclima_live_listener_drops_total", nil, 1},
		{"loraclima_store_pages_total", map[string]string{"op": "query"}, 1},
		{"loraclima_window_queries_total", map[string]string{"window": "1h", "outcome": "ok"}, 1},
		{"loraclima_last_cache_hits_total", nil, 1},
		{"loraclima_last_cache_misses_total", nil, 1},
		{"loraclima_cb_state", map[string]string{"target": "redis"}, 2},
	}
	for _, c := range checks {
		if got := value(t, m, c.name, c.labels); got != c.want {
			t.Errorf("%s%v = %v; want %v", c.name, c.labels, got, c.want)
		}
	}
}

func TestMetrics_HandlerAndWrap(t *testing.T) {
	m := New()
	h := m.WrapHandler("/x", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

	if got := value(t, m, "loraclima_http_requests_total", map[string]string{"route": "/x", "status": "418"}); got != 1 {
		t.Errorf("http_requests_total = %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if rec.Code != http.StatusOK || !strings.Contains(string(body), "loraclima_http_requests_total") {
		t.Errorf("metrics endpoint status %d body missing counter", rec.Code)
	}
}

func TestMetrics_WrapHandlerUsesMuxPattern(t *testing.T) {
	m := New()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/sensors/data/last", func(w http.ResponseWriter, r *http.Request) {})
	h := m.WrapHandler("", mux)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/sensors/data/last?sensor_id=a", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))

	if got := value(t, m, "loraclima_http_requests_total", map[string]string{"route": "GET /api/sensors/data/last", "status": "200"}); got != 1 {
		t.Errorf("matched route count = %v", got)
	}
	if got := value(t, m, "loraclima_http_requests_total", map[string]string{"route": "unmatched", "status": "404"}); got != 1 {
		t.Errorf("unmatched count = %v", got)
	}
}
