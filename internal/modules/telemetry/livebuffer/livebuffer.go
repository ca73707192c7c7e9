// Package livebuffer holds the most recent readings in memory and fans each
// new one out to attached listeners.
package livebuffer

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"loraclima-server/internal/modules/telemetry/types"
)

var ErrNotFound = errors.New("no data")

type Options struct {
	Capacity int
	// ListenerBuffer is the queue depth of each listener channel. A listener
	// whose queue is full misses the reading instead of stalling Push.
	ListenerBuffer int
	Logger         *slog.Logger
	// OnDrop is called, under the buffer lock, each time a listener misses a reading.
	OnDrop func()
}

type Listener struct {
	ID string
	C  <-chan types.Reading

	ch      chan types.Reading
	dropped atomic.Uint64
}

// Dropped returns how many readings this listener missed.
func (l *Listener) Dropped() uint64 { return l.dropped.Load() }

type Buffer struct {
	mu        sync.RWMutex
	ring      []types.Reading
	head      int
	size      int
	listeners []*Listener

	listenerBuffer int
	logger         *slog.Logger
	onDrop         func()
}

func New(opts Options) *Buffer {
	if opts.Capacity <= 0 {
		opts.Capacity = 100
	}
	if opts.ListenerBuffer <= 0 {
		opts.ListenerBuffer = 16
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Buffer{
		ring:           make([]types.Reading, opts.Capacity),
		listenerBuffer: opts.ListenerBuffer,
		logger:         opts.Logger,
		onDrop:         opts.OnDrop,
	}
}

// Push appends r, evicting the oldest reading when full, then offers r to
// every listener in attachment order. It never blocks on a listener.
func (b *Buffer) Push(r types.Reading) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tail := (b.head + b.size) % len(b.ring)
	b.ring[tail] = r
	if b.size < len(b.ring) {
		b.size++
	} else {
		b.head = (b.head + 1) % len(b.ring)
	}

	for _, l := range b.listeners {
		select {
		case l.ch <- r:
		default:
			l.dropped.Add(1)
			if b.onDrop != nil {
				b.onDrop()
			}
			b.logger.Debug("live listener full, reading dropped", "listener", l.ID, "sensor_id", r.SensorID)
		}
	}
}

// Last returns the most recently pushed reading.
func (b *Buffer) Last() (types.Reading, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.size == 0 {
		return types.Reading{}, ErrNotFound
	}
	return b.at(b.size - 1), nil
}

// LastFor returns the newest buffered reading of sensorID.
func (b *Buffer) LastFor(sensorID string) (types.Reading, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for i := b.size - 1; i >= 0; i-- {
		if r := b.at(i); r.SensorID == sensorID {
			return r, nil
		}
	}
	return types.Reading{}, ErrNotFound
}

// Snapshot copies the buffered readings, oldest first.
func (b *Buffer) Snapshot() []types.Reading {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]types.Reading, b.size)
	for i := range out {
		out[i] = b.at(i)
	}
	return out
}

func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

func (b *Buffer) Cap() int { return len(b.ring) }

// at returns the i-th reading counting from the oldest. Caller holds the lock.
func (b *Buffer) at(i int) types.Reading {
	return b.ring[(b.head+i)%len(b.ring)]
}

// Attach registers a listener. With withLast set, the current last reading
// (if any) is queued first, atomically with registration, so the listener
// neither misses nor duplicates a concurrent push.
func (b *Buffer) Attach(withLast bool) *Listener {
	ch := make(chan types.Reading, b.listenerBuffer)
	l := &Listener{ID: uuid.NewString(), C: ch, ch: ch}

	b.mu.Lock()
	defer b.mu.Unlock()
	if withLast && b.size > 0 {
		ch <- b.at(b.size - 1)
	}
	b.listeners = append(b.listeners, l)
	return l
}

// Detach unregisters the listener and closes its channel.
func (b *Buffer) Detach(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, l := range b.listeners {
		if l.ID == id {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(l.ch)
			return nil
		}
	}
	return ErrNotFound
}

func (b *Buffer) Listeners() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}
