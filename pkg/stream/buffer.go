// Package stream implements the real-time ingestion buffer: values are
// pushed at unpredictable rates from any goroutine, coalesced on a
// fixed cadence, and published as a bounded sliding window with a
// trailing arrival-rate measurement.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tinyviz/tinyviz/pkg/config"
)

var (
	// ErrInvalidWindowSize is returned for a non-positive window size.
	ErrInvalidWindowSize = errors.New("window size must be positive")

	// ErrInvalidFrequency is returned for a non-positive update
	// frequency.
	ErrInvalidFrequency = errors.New("update frequency must be positive")
)

// Config holds configuration for the buffer.
type Config struct {
	// WindowSize is the maximum number of values retained. On
	// overflow the oldest values are dropped; shedding by windowing is
	// the documented backpressure strategy, never an error.
	WindowSize int

	// UpdateFrequency is the flush cadence in flushes per second.
	// Typical values are 15, 30, 60 or 120, but any positive rate is
	// accepted.
	UpdateFrequency float64
}

// Buffer accepts pushed values and commits them to the window on each
// flush tick.
//
// Push is safe from any goroutine and never blocks on the cadence: it
// only appends to the pending queue under a short-lived lock. The
// periodic flush is the only place pending values move into the
// window. The lock is released before the OnFlush callback runs, so
// producers are never blocked by downstream publication.
type Buffer[T any] struct {
	cfg Config

	mu       sync.Mutex
	pending  []T
	arrivals []time.Time // arrival timestamps within the trailing rate window
	window   []T
	rate     float64

	onFlush func(window []T, rate float64)

	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a stopped buffer. Zero config fields fall back to the
// package defaults; negative values fail fast.
func New[T any](cfg Config) (*Buffer[T], error) {
	if cfg.WindowSize == 0 {
		cfg.WindowSize = config.DefaultWindowSize
	}
	if cfg.WindowSize < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidWindowSize, cfg.WindowSize)
	}
	if cfg.UpdateFrequency == 0 {
		cfg.UpdateFrequency = config.DefaultUpdateFrequency
	}
	if cfg.UpdateFrequency < 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrequency, cfg.UpdateFrequency)
	}
	return &Buffer[T]{cfg: cfg}, nil
}

// OnFlush registers a callback invoked after each non-empty flush with
// a snapshot of the window and the current rate. Set it before Start.
func (b *Buffer[T]) OnFlush(fn func(window []T, rate float64)) {
	b.mu.Lock()
	b.onFlush = fn
	b.mu.Unlock()
}

// Start begins the periodic flush loop. Starting an active buffer is a
// no-op.
func (b *Buffer[T]) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	b.running = true
	b.cancel = cancel
	b.done = done
	b.mu.Unlock()

	interval := time.Duration(float64(time.Second) / b.cfg.UpdateFrequency)
	go b.flushLoop(ctx, interval, done)
	return nil
}

// Stop halts the flush loop. It is idempotent and does not return
// until the loop has exited, so no new flush begins afterwards; at
// most one flush that was already in its tick may complete.
func (b *Buffer[T]) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	cancel := b.cancel
	done := b.done
	b.mu.Unlock()

	cancel()
	<-done
}

// Push appends a value to the pending queue. Legal whether or not the
// buffer is started; the value becomes visible in the window on the
// next flush.
func (b *Buffer[T]) Push(v T) {
	now := time.Now()
	b.mu.Lock()
	b.pending = append(b.pending, v)
	b.arrivals = append(b.arrivals, now)
	// Bounded prune of the trailing rate window keeps the critical
	// section O(1) amortized.
	cutoff := now.Add(-config.RateWindow)
	drop := 0
	for drop < len(b.arrivals) && b.arrivals[drop].Before(cutoff) {
		drop++
	}
	if drop > 0 {
		b.arrivals = b.arrivals[drop:]
	}
	b.mu.Unlock()
}

// Flush drains the pending queue into the window, truncates to the
// newest WindowSize values, and recomputes the arrival rate over the
// trailing interval. Flushing with nothing pending is a no-op; in
// particular it does not reset the rate, which reflects the trailing
// window rather than instantaneous buffer state.
func (b *Buffer[T]) Flush() {
	now := time.Now()

	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}

	b.window = append(b.window, b.pending...)
	b.pending = nil
	if over := len(b.window) - b.cfg.WindowSize; over > 0 {
		trimmed := make([]T, b.cfg.WindowSize)
		copy(trimmed, b.window[over:])
		b.window = trimmed
	}

	cutoff := now.Add(-config.RateWindow)
	count := 0
	for _, t := range b.arrivals {
		if !t.Before(cutoff) {
			count++
		}
	}
	b.rate = float64(count) / config.RateWindow.Seconds()

	snapshot := make([]T, len(b.window))
	copy(snapshot, b.window)
	rate := b.rate
	fn := b.onFlush
	b.mu.Unlock()

	// Publish outside the lock so producers keep flowing.
	if fn != nil {
		fn(snapshot, rate)
	}
}

// Window returns a copy of the committed window.
func (b *Buffer[T]) Window() []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]T, len(b.window))
	copy(out, b.window)
	return out
}

// Rate returns the arrival rate, in values per second, measured at the
// last flush.
func (b *Buffer[T]) Rate() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rate
}

// Pending returns the number of values awaiting the next flush.
func (b *Buffer[T]) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Clear discards pending and windowed data atomically and zeroes the
// rate.
func (b *Buffer[T]) Clear() {
	b.mu.Lock()
	b.pending = nil
	b.arrivals = nil
	b.window = nil
	b.rate = 0
	b.mu.Unlock()
}

// SetData replaces the window outright with values truncated to the
// newest WindowSize, discarding anything pending. It bypasses the
// flush cadence entirely: the replacement is immediate and
// synchronous.
func (b *Buffer[T]) SetData(values []T) {
	keep := values
	if len(keep) > b.cfg.WindowSize {
		keep = keep[len(keep)-b.cfg.WindowSize:]
	}
	owned := make([]T, len(keep))
	copy(owned, keep)

	b.mu.Lock()
	b.window = owned
	b.pending = nil
	b.mu.Unlock()
}

func (b *Buffer[T]) flushLoop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Flush()
		}
	}
}
