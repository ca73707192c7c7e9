package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"loraclima-server/internal/modules/telemetry/livebuffer"
	"loraclima-server/internal/modules/telemetry/query"
	"loraclima-server/internal/modules/telemetry/repository"
	"loraclima-server/internal/modules/telemetry/types"
)

var ErrNoData = errors.New("no data")

// LastCache is the optional last-reading mirror.
type LastCache interface {
	Set(ctx context.Context, r types.Reading) error
	Get(ctx context.Context, sensorID string) (types.Reading, error)
}

type Options struct {
	// Persist writes every ingested reading to the store.
	Persist bool
	// Cache may be nil.
	Cache LastCache
	// Timeout bounds each store and cache write.
	Timeout time.Duration
	Logger  *slog.Logger
}

type Service struct {
	buffer  *livebuffer.Buffer
	store   repository.Store
	engine  *query.Engine
	cache   LastCache
	persist bool
	timeout time.Duration
	logger  *slog.Logger
}

func NewService(buffer *livebuffer.Buffer, store repository.Store, engine *query.Engine, opts Options) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		buffer:  buffer,
		store:   store,
		engine:  engine,
		cache:   opts.Cache,
		persist: opts.Persist,
		timeout: opts.Timeout,
		logger:  opts.Logger,
	}
}

// HandleReading publishes r to live listeners, then persists and mirrors it.
// Only a store failure is returned; the mirror is best effort.
func (s *Service) HandleReading(ctx context.Context, r types.Reading) error {
	s.buffer.Push(r)

	if s.cache != nil {
		cctx, cancel := context.WithTimeout(ctx, s.timeout)
		if err := s.cache.Set(cctx, r); err != nil {
			s.logger.Warn("mirror last reading", "sensor_id", r.SensorID, "error", err)
		}
		cancel()
	}

	if !s.persist {
		return nil
	}
	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.store.Put(sctx, r); err != nil {
		return fmt.Errorf("persist reading %s@%s: %w", r.SensorID, r.Timestamp, err)
	}
	return nil
}

// Last returns the newest reading overall when sensorID is empty, otherwise
// the newest for that sensor from the buffer, the mirror, then the store.
func (s *Service) Last(ctx context.Context, sensorID string) (types.Reading, error) {
	if sensorID == "" {
		r, err := s.buffer.Last()
		if errors.Is(err, livebuffer.ErrNotFound) {
			return types.Reading{}, ErrNoData
		}
		return r, err
	}

	if r, err := s.buffer.LastFor(sensorID); err == nil {
		return r, nil
	}
	if s.cache != nil {
		r, err := s.cache.Get(ctx, sensorID)
		if err == nil {
			return r, nil
		}
		s.logger.Debug("last reading not mirrored", "sensor_id", sensorID, "error", err)
	}
	r, err := s.engine.Latest(ctx, sensorID)
	if errors.Is(err, query.ErrNotFound) {
		return types.Reading{}, ErrNoData
	}
	return r, err
}

func (s *Service) Window(ctx context.Context, sensorID string, w types.Window) ([]types.Reading, error) {
	return s.engine.Window(ctx, sensorID, w)
}

func (s *Service) Multi(ctx context.Context, sensorIDs []string, w types.Window) (query.MultiResult, error) {
	return s.engine.Multi(ctx, sensorIDs, w)
}

func (s *Service) Devices(ctx context.Context) ([]types.Device, error) {
	return s.engine.Devices(ctx)
}

func (s *Service) Attach(withLast bool) *livebuffer.Listener {
	return s.buffer.Attach(withLast)
}

func (s *Service) Detach(id string) error {
	return s.buffer.Detach(id)
}
