package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"loraclima-server/internal/config"
	"loraclima-server/internal/logging"
	"loraclima-server/internal/simulator"
)

var version = "dev"
var appName = "loraclima-simulator"

func main() {
	interval := flag.Duration("interval", 10*time.Second, "time between uplinks")
	count := flag.Int("count", 0, "stop after this many uplinks (0 = run until interrupted)")
	seed := flag.Uint64("seed", uint64(time.Now().UnixNano()), "random walk seed")
	flag.Parse()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logging.New(cfg, version, appName))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pub := simulator.NewMQTTPublisher(cfg, slog.Default())
	if err := pub.Connect(ctx); err != nil {
		slog.Error("connect failed", "err", err)
		os.Exit(1)
	}
	defer pub.Disconnect()

	slog.Info("simulating uplinks", "topic", cfg.MQTTTopic, "dev_eui", cfg.MQTTDeviceEUI, "interval", *interval)
	err = simulator.Run(ctx, pub, simulator.Options{
		Topic:    cfg.MQTTTopic,
		DevEUI:   cfg.MQTTDeviceEUI,
		Interval: *interval,
		Count:    *count,
		Seed:     *seed,
		Logger:   slog.Default(),
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("simulator failed", "err", err)
		os.Exit(1)
	}
}
