package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"loraclima-server/internal/config"
	db "loraclima-server/internal/db"
	httpapi "loraclima-server/internal/httpapi"
	"loraclima-server/internal/lastcache"
	"loraclima-server/internal/metrics"
	"loraclima-server/internal/migrate"
	telemetry "loraclima-server/internal/modules/telemetry"
	"loraclima-server/internal/modules/telemetry/livebuffer"
	"loraclima-server/internal/modules/telemetry/query"
	"loraclima-server/internal/modules/telemetry/repository"
	"loraclima-server/internal/modules/telemetry/service"
	"loraclima-server/internal/mqtt"
)

func Run(ctx context.Context, cfg config.Config) error {
	slog.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"httpAddr", cfg.HTTPAddr,
		"storeDriver", cfg.StoreDriver,
		"sqlitePath", cfg.SQLitePath,
		"storePageSize", cfg.StorePageSize,
		"mqttBroker", cfg.MQTTBroker,
		"mqttPort", cfg.MQTTPort,
		"mqttTopic", cfg.MQTTTopic,
		"mqttConnectAttempts", cfg.MQTTConnectAttempt,
		"mqttCooldown", cfg.MQTTCooldown,
		"bufferCapacity", cfg.BufferCapacity,
		"fallbackTZ", cfg.FallbackLocation.String(),
		"persistReadings", cfg.PersistReadings,
		"redis", cfg.RedisAddr != "",
	)

	m := metrics.New()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	var cache service.LastCache
	if cfg.RedisAddr != "" {
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		c, err := lastcache.Dial(dialCtx, cfg.RedisAddr, lastcache.Options{
			TTL:      cfg.RedisTTL,
			Logger:   slog.Default(),
			Observer: m,
		})
		cancel()
		if err != nil {
			// The mirror is optional; the store answers every read it would.
			slog.Warn("redis unavailable (continuing without last-reading mirror)", "error", err)
		} else {
			cache = c
			defer func() {
				if err := c.Close(); err != nil {
					slog.Error("redis close", "error", err)
				}
			}()
		}
	}

	buffer := livebuffer.New(livebuffer.Options{
		Capacity:       cfg.BufferCapacity,
		ListenerBuffer: cfg.ListenerBuffer,
		Logger:         slog.Default(),
		OnDrop:         m.ListenerDrop,
	})
	engine := query.New(store, query.Options{
		Location:    cfg.FallbackLocation,
		Concurrency: cfg.QueryConcurrency,
		Timeout:     cfg.StoreQueryTimeout,
		Logger:      slog.Default(),
		Observer:    m,
	})
	svc := service.NewService(buffer, store, engine, service.Options{
		Persist: cfg.PersistReadings,
		Cache:   cache,
		Timeout: cfg.StoreQueryTimeout,
		Logger:  slog.Default(),
	})

	broker, err := mqtt.NewPahoBroker(cfg)
	if err != nil {
		return err
	}
	subscriber := mqtt.NewSubscriber(cfg, broker, slog.Default(), m)
	// The handler is in place before the first connect so no early uplink is lost.
	svc.Register(subscriber)

	mux := httpapi.NewMux(store, subscriber, m.Handler())
	telemetry.RegisterFeature(mux, svc, cfg.MQTTDeviceEUI)
	srv := httpapi.NewServer(cfg, m.WrapHandler("", mux))

	var wg sync.WaitGroup
	ingestCtx, stopIngest := context.WithCancel(ctx)
	defer stopIngest()
	wg.Add(1)
	go func() {
		defer wg.Done()
		// Run keeps retrying on its own; it only returns once stopped.
		if err := subscriber.Run(ingestCtx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("mqtt ingestion stopped", "error", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	slog.Info("mqtt disconnecting")
	stopIngest()
	subscriber.Disconnect()
	wg.Wait()

	if serveErr != nil {
		if errors.Is(serveErr, http.ErrServerClosed) {
			return nil
		}
		return serveErr
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	slog.Info("http shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	err = <-errCh
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return ctx.Err()
}

func openStore(ctx context.Context, cfg config.Config) (repository.Store, func(), error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		pg, err := repository.OpenPostgres(ctx, cfg.PostgresURL, cfg.StorePageSize)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("postgres store ready")
		return pg, pg.Close, nil

	case config.StoreDriverSQLite:
		dbConn, err := db.Open(ctx, cfg, slog.Default())
		if err != nil {
			return nil, nil, err
		}
		closeDB := func() {
			if err := db.Close(dbConn); err != nil {
				slog.Error("db close", "error", err)
			}
		}
		if err := migrate.Run(ctx, dbConn); err != nil {
			closeDB()
			return nil, nil, err
		}
		slog.Info("database connection successful")
		return repository.NewSQLiteStore(dbConn, cfg.StorePageSize), closeDB, nil

	default:
		return nil, nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}
