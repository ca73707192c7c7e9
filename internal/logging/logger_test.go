package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"loraclima-server/internal/config"
)

func TestNew(t *testing.T) {
	cfg := config.Config{AppEnv: "prod", LogLevel: slog.LevelWarn}

	t.Run("dev version uses tint handler", func(t *testing.T) {
		logger := New(cfg, "dev", "loraclima")
		if logger == nil {
			t.Fatal("New returned nil")
		}
		if logger.Enabled(t.Context(), slog.LevelInfo) {
			t.Error("info should be disabled at warn level")
		}
	})

	t.Run("release version uses JSON handler", func(t *testing.T) {
		logger := New(cfg, "1.2.3", "loraclima")
		if _, ok := logger.Handler().(*slog.JSONHandler); !ok {
			t.Errorf("handler = %T; want *slog.JSONHandler", logger.Handler())
		}
		if !logger.Enabled(t.Context(), slog.LevelError) {
			t.Error("error should be enabled at warn level")
		}
	})
}

func TestNewTo(t *testing.T) {
	cfg := config.Config{AppEnv: "prod", LogLevel: slog.LevelInfo}

	t.Run("json output carries identity and UTC time", func(t *testing.T) {
		var buf bytes.Buffer
		NewTo(&buf, cfg, "1.2.3", "loraclima").Info("hello", "sensor_id", "ac1f09fffe1397c9")

		var rec map[string]any
		if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
			t.Fatalf("unmarshal %q: %v", buf.String(), err)
		}
		for k, want := range map[string]string{"msg": "hello", "app": "loraclima", "version": "1.2.3", "env": "prod", "sensor_id": "ac1f09fffe1397c9"} {
			if rec[k] != want {
				t.Errorf("%s = %v; want %q", k, rec[k], want)
			}
		}
		ts, _ := rec["time"].(string)
		if !strings.HasSuffix(ts, "Z") {
			t.Errorf("time = %q; want UTC", ts)
		}
	})

	t.Run("dev output to a buffer has no color codes", func(t *testing.T) {
		var buf bytes.Buffer
		NewTo(&buf, cfg, "dev", "loraclima").Info("hello")
		if strings.Contains(buf.String(), "\x1b[") {
			t.Errorf("unexpected ANSI escape in %q", buf.String())
		}
		if !strings.Contains(buf.String(), "hello") {
			t.Errorf("output = %q", buf.String())
		}
	})
}
