// Package notify delivers engine events to outbound sinks without blocking the caller.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/vadiminshakov/topdown/internal/domain"
	"github.com/vadiminshakov/topdown/internal/metrics"
	"go.uber.org/zap"
)

const (
	defaultBuffer      = 256
	defaultSendTimeout = 5 * time.Second
)

// Sink delivers a single event.
type Sink interface {
	Name() string
	Send(ctx context.Context, e domain.Event) error
}

// Dispatcher queues events and fans them out to every sink from a single goroutine.
// A full queue drops the event.
type Dispatcher struct {
	mu      sync.RWMutex
	closed  bool
	queue   chan domain.Event
	sinks   []Sink
	timeout time.Duration
	logger  *zap.Logger
}

// Option configures the Dispatcher.
type Option func(*Dispatcher)

// WithBuffer sets the queue capacity.
func WithBuffer(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan domain.Event, n)
		}
	}
}

// WithSendTimeout bounds a single sink delivery.
func WithSendTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// NewDispatcher creates a dispatcher. Run must be started to drain the queue.
func NewDispatcher(logger *zap.Logger, sinks []Sink, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Dispatcher{
		queue:   make(chan domain.Event, defaultBuffer),
		sinks:   sinks,
		timeout: defaultSendTimeout,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Notify enqueues the event. It never blocks.
func (d *Dispatcher) Notify(e domain.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return
	}

	select {
	case d.queue <- e:
	default:
		metrics.NotificationsDropped.Inc()
		d.logger.Warn("notification queue full, dropping event",
			zap.String("kind", string(e.Kind)),
			zap.String("asset", e.Asset))
	}
}

// Run delivers queued events until ctx is done or the dispatcher is closed.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-d.queue:
			if !ok {
				return
			}
			d.deliver(ctx, e)
		}
	}
}

// Close stops accepting events. Run drains what is queued and returns.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.closed = true
	close(d.queue)
}

func (d *Dispatcher) deliver(ctx context.Context, e domain.Event) {
	for _, sink := range d.sinks {
		sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err := sink.Send(sendCtx, e)
		cancel()
		if err != nil {
			d.logger.Warn("failed to deliver notification",
				zap.String("sink", sink.Name()),
				zap.String("kind", string(e.Kind)),
				zap.Error(err))
		}
	}
}
