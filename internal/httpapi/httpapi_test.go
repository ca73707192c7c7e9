package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"loraclima-server/internal/config"
	"loraclima-server/internal/mqtt"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type fakeBroker struct{ state mqtt.State }

func (f fakeBroker) State() mqtt.State { return f.state }

func serve(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body := map[string]string{}
	_ = json.NewDecoder(rec.Body).Decode(&body)
	return rec, body
}

func TestHealthz(t *testing.T) {
	t.Run("ok when store and broker are up", func(t *testing.T) {
		mux := NewMux(fakePinger{}, fakeBroker{mqtt.StateReceiving}, nil)
		rec, body := serve(t, mux, "/healthz")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if body["status"] != "ok" || body["mqtt"] != "receiving" {
			t.Errorf("body = %v", body)
		}
	})

	t.Run("degraded when broker is down", func(t *testing.T) {
		mux := NewMux(fakePinger{}, fakeBroker{mqtt.StateConnecting}, nil)
		rec, body := serve(t, mux, "/healthz")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if body["status"] != "degraded" || body["mqtt"] != "connecting" {
			t.Errorf("body = %v", body)
		}
	})

	t.Run("500 when store is unreachable", func(t *testing.T) {
		mux := NewMux(fakePinger{err: errors.New("closed")}, nil, nil)
		rec, body := serve(t, mux, "/healthz")
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d", rec.Code)
		}
		if body["message"] != "failed to check database connectivity" {
			t.Errorf("body = %v", body)
		}
	})
}

func TestNewMux_Metrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})
	mux := NewMux(fakePinger{}, nil, metrics)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "# metrics" {
		t.Errorf("metrics = %d %q", rec.Code, rec.Body.String())
	}
}

func TestNewServer_LogsStatus(t *testing.T) {
	srv := NewServer(config.Config{HTTPAddr: ":0"}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	if srv.Addr != ":0" {
		t.Errorf("addr = %q", srv.Addr)
	}
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestStatusRecorder_Hijack(t *testing.T) {
	sr := &statusRecorder{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := sr.Hijack(); err == nil {
		t.Error("expected error for non-hijackable writer")
	}
}

func TestRequestLogger_RequestID(t *testing.T) {
	h := requestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/sensors/info", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get(requestIDHeader); got != "abc-123" {
		t.Errorf("request id = %q; want abc-123", got)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sensors/info", nil))
	if got := rec.Header().Get(requestIDHeader); len(got) != 36 {
		t.Errorf("generated request id = %q; want a uuid", got)
	}
}

func TestRequestLevel(t *testing.T) {
	cases := []struct {
		path   string
		status int
		want   slog.Level
	}{
		{"/api/sensors/data/last", http.StatusOK, slog.LevelInfo},
		{"/healthz", http.StatusOK, slog.LevelDebug},
		{"/healthz", http.StatusInternalServerError, slog.LevelError},
		{"/api/sensors/data/list", http.StatusBadRequest, slog.LevelWarn},
		{"/api/sensors/data/last", http.StatusNotFound, slog.LevelInfo},
		{"/api/sensors/live", http.StatusSwitchingProtocols, slog.LevelInfo},
	}
	for _, tc := range cases {
		if got := requestLevel(tc.path, tc.status); got != tc.want {
			t.Errorf("requestLevel(%q, %d) = %v; want %v", tc.path, tc.status, got, tc.want)
		}
	}
}
