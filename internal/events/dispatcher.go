package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/goatkit/phonedesk/internal/metrics"
)

// ErrDispatcherClosed is returned by Publish after Close.
var ErrDispatcherClosed = errors.New("events: dispatcher closed")

// Dispatcher decouples the core from slow or flaky publishers. Publish only
// enqueues; background workers deliver with retries.
type Dispatcher struct {
	next        Publisher
	logger      *zap.Logger
	metrics     *metrics.Collectors
	workers     int
	maxAttempts int
	backoff     time.Duration
	timeout     time.Duration

	queue   chan Event
	mu      sync.RWMutex
	closed  bool
	started sync.Once
	wg      sync.WaitGroup
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatchLogger sets the logger for delivery failures.
func WithDispatchLogger(l *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithDispatchMetrics records deliveries and retries.
func WithDispatchMetrics(m *metrics.Collectors) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithRetry sets the attempt budget and the linear backoff step.
func WithRetry(maxAttempts int, backoff time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if maxAttempts > 0 {
			d.maxAttempts = maxAttempts
		}
		if backoff >= 0 {
			d.backoff = backoff
		}
	}
}

// WithQueueSize sets the buffered queue length.
func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan Event, n)
		}
	}
}

// WithWorkers sets the number of delivery goroutines.
func WithWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// NewDispatcher wraps next. Call Start before publishing and Close on shutdown.
func NewDispatcher(next Publisher, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		next:        next,
		logger:      zap.NewNop(),
		workers:     1,
		maxAttempts: 5,
		backoff:     200 * time.Millisecond,
		timeout:     5 * time.Second,
		queue:       make(chan Event, 1024),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the delivery workers. It is safe to call more than once.
func (d *Dispatcher) Start() {
	d.started.Do(func() {
		for i := 0; i < d.workers; i++ {
			d.wg.Add(1)
			go d.run()
		}
	})
}

// Publish implements Publisher by enqueueing ev. It blocks while the queue is
// full until ctx is done.
func (d *Dispatcher) Publish(ctx context.Context, ev Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.queue <- ev:
		d.metrics.SetQueueDepth(len(d.queue))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.Start()
	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for ev := range d.queue {
		d.metrics.SetQueueDepth(len(d.queue))
		d.deliver(ev)
	}
}

func (d *Dispatcher) deliver(ev Event) {
	var err error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err = d.next.Publish(ctx, ev)
		cancel()
		if err == nil {
			d.metrics.EventPublished(string(ev.Type), true)
			return
		}
		if attempt < d.maxAttempts {
			d.metrics.EventRetried()
			time.Sleep(d.backoff * time.Duration(attempt))
		}
	}
	d.metrics.EventPublished(string(ev.Type), false)
	d.logger.Error("event delivery failed",
		zap.String("event_id", ev.ID),
		zap.String("type", string(ev.Type)),
		zap.Int("attempts", d.maxAttempts),
		zap.Error(err))
}
