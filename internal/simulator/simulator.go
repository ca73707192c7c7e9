// Package simulator emits synthetic RAK7204-style uplinks for local
// development and end-to-end tests.
package simulator

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"loraclima-server/internal/modules/telemetry/codec"
)

type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

type Options struct {
	Topic    string
	DevEUI   string
	Interval time.Duration
	// Count stops the run after that many uplinks; zero means until ctx ends.
	Count  int
	Seed   uint64
	Now    func() time.Time
	Logger *slog.Logger
}

// Walk is a bounded random walk around typical indoor conditions.
type Walk struct {
	rng         *rand.Rand
	temperature float64
	humidity    float64
}

func NewWalk(seed uint64) *Walk {
	return &Walk{
		rng:         rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		temperature: 22,
		humidity:    55,
	}
}

// Next returns the next sample, rounded to the codec's 0.01 resolution.
func (w *Walk) Next() codec.Sample {
	w.temperature = clamp(w.temperature+(w.rng.Float64()-0.5)*0.4, 0, 45)
	w.humidity = clamp(w.humidity+(w.rng.Float64()-0.5)*1.0, 5, 100)
	return codec.Sample{
		Temperature: math.Round(w.temperature*100) / 100,
		Humidity:    math.Round(w.humidity*100) / 100,
	}
}

// Run publishes one envelope per interval. Publish failures are logged and
// the run continues.
func Run(ctx context.Context, pub Publisher, opts Options) error {
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	walk := NewWalk(opts.Seed)

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	sent := 0
	for {
		sample := walk.Next()
		payload, err := codec.EncodeEnvelope(opts.DevEUI, opts.Now(), sample)
		if err != nil {
			return err
		}
		if err := pub.Publish(ctx, opts.Topic, payload); err != nil {
			opts.Logger.Warn("publish failed", "topic", opts.Topic, "error", err)
		} else {
			sent++
			opts.Logger.Debug("uplink published",
				"dev_eui", opts.DevEUI,
				"temperature", sample.Temperature,
				"humidity", sample.Humidity,
			)
		}
		if opts.Count > 0 && sent >= opts.Count {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
