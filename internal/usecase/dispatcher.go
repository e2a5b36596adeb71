package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"CryptoAlert/internal/domain/models"
	drepo "CryptoAlert/internal/domain/repository"
	applogger "CryptoAlert/pkg/logger"
	"CryptoAlert/pkg/metrics"

	"golang.org/x/sync/errgroup"
)

// ErrDispatcherClosed is returned by Enqueue once the dispatcher is stopped.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// Dispatcher delivers crossing events off the engine goroutine. Events go
// through a buffered channel to one worker that sends each of them to the
// notifier and, when configured, the event publisher. Failed sends are logged
// and not retried.
type Dispatcher struct {
	notifier    drepo.Notifier
	channel     string
	publisher   drepo.EventPublisher
	metrics     drepo.Metrics
	logger      *applogger.Logger
	sendTimeout time.Duration
	queueSize   int

	mu      sync.RWMutex
	running bool
	queue   chan models.CrossingEvent
	done    chan struct{}
}

// DispatcherOption configures Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithPublisher adds a second fan-out target for every event.
func WithPublisher(p drepo.EventPublisher) DispatcherOption {
	return func(d *Dispatcher) { d.publisher = p }
}

// WithSendTimeout bounds every single delivery.
func WithSendTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if t > 0 {
			d.sendTimeout = t
		}
	}
}

// WithQueueSize sets the channel buffer.
func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(l *applogger.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithDispatcherMetrics sets the metrics sink.
func WithDispatcherMetrics(m drepo.Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

// NewDispatcher creates a stopped dispatcher. channel names the notifier in
// logs and metrics (telegram, webhook, log).
func NewDispatcher(notifier drepo.Notifier, channel string, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		notifier:    notifier,
		channel:     channel,
		metrics:     metrics.Nop{},
		logger:      applogger.Nop(),
		sendTimeout: 10 * time.Second,
		queueSize:   256,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the worker. Starting a running dispatcher is a no-op.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.queue = make(chan models.CrossingEvent, d.queueSize)
	d.done = make(chan struct{})
	d.running = true
	go d.loop(d.queue, d.done)
}

// Enqueue hands ev to the worker. It blocks while the queue is full until ctx
// ends.
func (d *Dispatcher) Enqueue(ctx context.Context, ev models.CrossingEvent) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.running {
		return ErrDispatcherClosed
	}
	select {
	case d.queue <- ev:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("enqueue %s for %s: %w", ev.Symbol, ev.UserID, ctx.Err())
	}
}

// Stop closes the queue and waits until every queued event was attempted or
// ctx ends.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	close(d.queue)
	done := d.done
	d.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatcher drain: %w", ctx.Err())
	}
}

// Pending returns the number of queued events.
func (d *Dispatcher) Pending() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.queue == nil {
		return 0
	}
	return len(d.queue)
}

func (d *Dispatcher) loop(queue <-chan models.CrossingEvent, done chan<- struct{}) {
	defer close(done)
	for ev := range queue {
		d.deliver(ev)
	}
}

func (d *Dispatcher) deliver(ev models.CrossingEvent) {
	var g errgroup.Group

	g.Go(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
		defer cancel()
		start := time.Now()
		err := d.notifier.Send(ctx, ev.UserID, ev.Message())
		d.metrics.RecordLatency("notify", time.Since(start).Seconds())
		if err != nil {
			d.metrics.RecordNotification(d.channel, "failed")
			d.logger.Warn("notification failed",
				applogger.String("channel", d.channel),
				applogger.String("user", ev.UserID),
				applogger.String("symbol", ev.Symbol),
				applogger.String("event_id", ev.ID),
				applogger.Error(err),
			)
			return fmt.Errorf("%s: %w", d.channel, err)
		}
		d.metrics.RecordNotification(d.channel, "sent")
		return nil
	})

	if d.publisher != nil {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
			defer cancel()
			if err := d.publisher.Publish(ctx, ev); err != nil {
				d.metrics.RecordNotification("events", "failed")
				d.logger.Warn("event publish failed",
					applogger.String("event_id", ev.ID),
					applogger.String("symbol", ev.Symbol),
					applogger.Error(err),
				)
				return fmt.Errorf("publish: %w", err)
			}
			d.metrics.RecordNotification("events", "sent")
			return nil
		})
	}

	_ = g.Wait()
}
