package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"loraclima-server/internal/config"
	"loraclima-server/internal/modules/telemetry/codec"
	"loraclima-server/internal/modules/telemetry/types"
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateReceiving
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateReceiving:
		return "receiving"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Observer receives ingestion events. The metrics package implements it.
type Observer interface {
	ConnectAttempt(ok bool)
	StateChanged(State)
	Ingested(sensorID string)
	DecodeFailed(reason string)
}

type noopObserver struct{}

func (noopObserver) ConnectAttempt(bool) {}
func (noopObserver) StateChanged(State)  {}
func (noopObserver) Ingested(string)     {}
func (noopObserver) DecodeFailed(string) {}

type message struct {
	topic   string
	payload []byte
}

// Subscriber keeps one subscription alive forever. Connection attempts come
// in bursts of MQTTConnectAttempt tries MQTTRetryInterval apart; a failed
// burst is followed by MQTTCooldown before the next one.
type Subscriber struct {
	broker   Broker
	cfg      config.Config
	logger   *slog.Logger
	observer Observer
	uplink   codec.UplinkOptions

	state atomic.Int32

	msgs chan message
	lost chan error

	stopCh   chan struct{}
	stopOnce sync.Once

	handlerMu sync.RWMutex
	// MessageHandler is called for each decoded reading, in arrival order.
	handler func(ctx context.Context, reading types.Reading) error
}

func NewSubscriber(cfg config.Config, broker Broker, logger *slog.Logger, observer Observer) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = noopObserver{}
	}
	s := &Subscriber{
		broker:   broker,
		cfg:      cfg,
		logger:   logger,
		observer: observer,
		uplink: codec.UplinkOptions{
			DefaultSensorID: cfg.MQTTDeviceEUI,
			AggregateFPort:  cfg.MQTTAggregateFPort,
		},
		msgs:   make(chan message, 64),
		lost:   make(chan error, 1),
		stopCh: make(chan struct{}),
	}
	broker.SetConnectionLostHandler(func(err error) {
		select {
		case s.lost <- err:
		default:
		}
	})
	return s
}

// SetMessageHandler sets the handler for decoded readings.
func (s *Subscriber) SetMessageHandler(handler func(ctx context.Context, reading types.Reading) error) {
	s.handlerMu.Lock()
	s.handler = handler
	s.handlerMu.Unlock()
}

func (s *Subscriber) State() State {
	return State(s.state.Load())
}

// IsConnected reports whether a subscription is active.
func (s *Subscriber) IsConnected() bool {
	st := s.State()
	return st == StateSubscribed || st == StateReceiving
}

func (s *Subscriber) setState(st State) {
	if State(s.state.Swap(int32(st))) != st {
		s.observer.StateChanged(st)
		s.logger.Debug("mqtt state", "state", st.String())
	}
}

// Run connects, subscribes and processes messages until ctx is cancelled or
// Disconnect is called. Transport failures never end it.
func (s *Subscriber) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	s.setState(StateDisconnected)
	for {
		if err := s.connectBurst(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("mqtt connect burst failed, cooling down",
				"attempts", s.cfg.MQTTConnectAttempt,
				"cooldown", s.cfg.MQTTCooldown,
				"error", err,
			)
			if !sleep(ctx, s.cfg.MQTTCooldown) {
				return ctx.Err()
			}
			continue
		}

		err := s.receive(ctx)
		s.broker.Disconnect()
		s.setState(StateDisconnected)
		if ctx.Err() != nil {
			s.logger.Info("mqtt subscriber stopped")
			return ctx.Err()
		}
		s.logger.Warn("mqtt connection lost", "error", err)
	}
}

func (s *Subscriber) connectBurst(ctx context.Context) error {
	attempts := s.cfg.MQTTConnectAttempt
	if attempts <= 0 {
		attempts = 1
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.cfg.MQTTRetryInterval), uint64(attempts-1)),
		ctx,
	)
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := s.connectOnce(ctx)
		s.observer.ConnectAttempt(err == nil)
		if err != nil {
			s.logger.Warn("mqtt connect attempt failed",
				"attempt", attempt,
				"of", attempts,
				"broker", s.cfg.MQTTBroker,
				"port", s.cfg.MQTTPort,
				"error", err,
			)
		}
		return err
	}, policy)
}

// connectOnce is a single connect plus subscribe, bounded by MQTTConnectTimeout.
// A failed subscribe counts as a failed connection.
func (s *Subscriber) connectOnce(ctx context.Context) error {
	s.setState(StateConnecting)
	ctx, cancel := context.WithTimeout(ctx, s.cfg.MQTTConnectTimeout)
	defer cancel()

	// drop a loss notification left over from the previous connection
	select {
	case <-s.lost:
	default:
	}

	if err := s.broker.Connect(ctx); err != nil {
		s.setState(StateDisconnected)
		return err
	}
	if err := s.broker.Subscribe(ctx, s.cfg.MQTTTopic, 1, s.enqueue); err != nil {
		s.broker.Disconnect()
		s.setState(StateDisconnected)
		return fmt.Errorf("subscribe: %w", err)
	}
	s.setState(StateSubscribed)
	s.logger.Info("subscribed to mqtt topic", "broker", s.cfg.MQTTBroker, "topic", s.cfg.MQTTTopic, "qos", 1)
	return nil
}

// enqueue runs on the transport's goroutine and hands messages to the Run loop.
func (s *Subscriber) enqueue(topic string, payload []byte) {
	select {
	case s.msgs <- message{topic: topic, payload: payload}:
	case <-s.stopCh:
	}
}

func (s *Subscriber) receive(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-s.lost:
			if err == nil {
				err = errors.New("connection closed")
			}
			return err
		case m := <-s.msgs:
			s.setState(StateReceiving)
			s.handleMessage(ctx, m.topic, m.payload)
		}
	}
}

func (s *Subscriber) handleMessage(ctx context.Context, topic string, payload []byte) {
	s.logger.Debug("received mqtt message", "topic", topic, "size", len(payload))

	reading, err := codec.DecodeUplink(payload, s.uplink)
	if err != nil {
		s.observer.DecodeFailed(decodeReason(err))
		s.logger.Warn("failed to decode uplink",
			"topic", topic,
			"error", err,
			"payload", string(payload),
		)
		return
	}
	s.observer.Ingested(reading.SensorID)

	s.handlerMu.RLock()
	handler := s.handler
	s.handlerMu.RUnlock()
	if handler == nil {
		return
	}
	if err := handler(ctx, reading); err != nil {
		s.logger.Error("message handler failed",
			"topic", topic,
			"sensor_id", reading.SensorID,
			"error", err,
		)
		return
	}
	s.logger.Debug("processed uplink",
		"sensor_id", reading.SensorID,
		"timestamp", reading.Timestamp,
	)
}

// Disconnect stops Run. Idempotent and safe to call multiple times.
func (s *Subscriber) Disconnect() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func decodeReason(err error) string {
	switch {
	case errors.Is(err, codec.ErrPayloadTooShort):
		return "payload_too_short"
	case errors.Is(err, codec.ErrInvalidLength):
		return "invalid_length"
	case errors.Is(err, codec.ErrMissingData):
		return "missing_data"
	}
	var de *codec.DecodeError
	if errors.As(err, &de) {
		return de.Op
	}
	return "unknown"
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
