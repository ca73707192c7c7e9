// Package lastcache mirrors the newest reading of each sensor into Redis
// under sensor:last:<id>. Calls go through a circuit breaker so an
// unavailable Redis costs one fast failure instead of a timeout per call.
package lastcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"loraclima-server/internal/modules/telemetry/types"
)

const breakerName = "redis"

var ErrMiss = errors.New("cache miss")

type Observer interface {
	CacheHit()
	CacheMiss()
	BreakerState(target string, state int)
}

type noopObserver struct{}

func (noopObserver) CacheHit()                {}
func (noopObserver) CacheMiss()               {}
func (noopObserver) BreakerState(string, int) {}

type Options struct {
	TTL time.Duration
	// Failures is the number of consecutive errors that opens the breaker.
	Failures uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
	Logger      *slog.Logger
	Observer    Observer
}

type Cache struct {
	rdb      *redis.Client
	ttl      time.Duration
	cb       *gobreaker.CircuitBreaker
	logger   *slog.Logger
	observer Observer
}

func Key(sensorID string) string {
	return "sensor:last:" + sensorID
}

func New(rdb *redis.Client, opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	if opts.Failures == 0 {
		opts.Failures = 3
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Observer == nil {
		opts.Observer = noopObserver{}
	}
	c := &Cache{rdb: rdb, ttl: opts.TTL, logger: opts.Logger, observer: opts.Observer}
	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    breakerName,
		Timeout: opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.Failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state change", "target", name, "from", from.String(), "to", to.String())
			c.observer.BreakerState(name, int(to))
		},
	})
	c.observer.BreakerState(breakerName, int(gobreaker.StateClosed))
	return c
}

// Dial connects to addr and verifies the connection.
func Dial(ctx context.Context, addr string, opts Options) (*Cache, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return New(rdb, opts), nil
}

func (c *Cache) Set(ctx context.Context, r types.Reading) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode reading: %w", err)
	}
	_, err = c.cb.Execute(func() (interface{}, error) {
		return nil, c.rdb.Set(ctx, Key(r.SensorID), b, c.ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("redis set %s: %w", Key(r.SensorID), err)
	}
	return nil
}

// Get returns ErrMiss when the key is absent. A miss does not count against
// the breaker.
func (c *Cache) Get(ctx context.Context, sensorID string) (types.Reading, error) {
	res, err := c.cb.Execute(func() (interface{}, error) {
		b, err := c.rdb.Get(ctx, Key(sensorID)).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return b, err
	})
	if err != nil {
		c.observer.CacheMiss()
		return types.Reading{}, fmt.Errorf("redis get %s: %w", Key(sensorID), err)
	}
	b, _ := res.([]byte)
	if b == nil {
		c.observer.CacheMiss()
		return types.Reading{}, ErrMiss
	}
	var r types.Reading
	if err := json.Unmarshal(b, &r); err != nil {
		c.observer.CacheMiss()
		return types.Reading{}, fmt.Errorf("decode cached reading: %w", err)
	}
	c.observer.CacheHit()
	return r, nil
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Cache) Close() error {
	return c.rdb.Close()
}
