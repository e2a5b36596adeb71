package kafka

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	applogger "CryptoAlert/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
)

// MessageHandler handles messages from a specific topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// messageReader is the part of *kafka.Reader the consumer needs.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer runs one reader goroutine per registered topic. Messages of a
// topic are handled in order; a failing message is retried with backoff,
// then dead-lettered and committed so it cannot block the partition.
type Consumer struct {
	cfg       *consumerConfig
	handlers  map[string]MessageHandler
	newReader func(topic string) messageReader
	dlq       messageWriter
	hook      ConsumerHook
	logger    *applogger.Logger
	metrics   *consumerMetrics

	mu      sync.Mutex
	readers []messageReader
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := &consumerConfig{
		groupID:    "cryptoalert",
		retryMax:   3,
		backoffMin: 50 * time.Millisecond,
		backoffMax: 2 * time.Second,
		minBytes:   1,
		maxBytes:   10e6,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.brokers) == 0 {
		return nil, errors.New("kafka consumer: brokers are required")
	}

	c := &Consumer{
		cfg:      cfg,
		handlers: make(map[string]MessageHandler),
		hook:     NoopHook{},
		logger:   cfg.logger,
		metrics:  newConsumerMetrics(cfg.registry),
	}
	if c.logger == nil {
		c.logger = applogger.Nop()
	}
	c.newReader = func(topic string) messageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.brokers,
			GroupID:  cfg.groupID,
			Topic:    topic,
			MinBytes: cfg.minBytes,
			MaxBytes: cfg.maxBytes,
		})
	}
	if cfg.dlqTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.brokers...), Balancer: &kafka.LeastBytes{}}
	}
	return c, nil
}

// RegisterHandler binds handler to its topic. A second handler for the same
// topic is ignored.
func (c *Consumer) RegisterHandler(handler MessageHandler) {
	topic := handler.Topic()
	if _, ok := c.handlers[topic]; ok {
		c.logger.Warn("kafka consumer: handler already registered", applogger.String("topic", topic))
		return
	}
	c.handlers[topic] = handler
}

// WithConsumerHook sets a hook implementation for lifecycle events.
func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

func (c *Consumer) Name() string { return "kafka-consumer" }

// Start launches the readers. They run until Stop, not until ctx is done.
func (c *Consumer) Start(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return errors.New("kafka consumer: already started")
	}
	if len(c.handlers) == 0 {
		return errors.New("kafka consumer: no handlers registered")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	for topic, handler := range c.handlers {
		r := c.newReader(topic)
		c.readers = append(c.readers, r)
		c.wg.Add(1)
		go c.consume(ctx, r, handler)
		c.logger.Info("kafka consumer: reading", applogger.String("topic", topic), applogger.String("group", c.cfg.groupID))
	}
	c.started = true
	return nil
}

// Stop cancels the readers and waits for in-flight messages up to ctx.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil
	}
	c.started = false
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("kafka consumer: stop: %w", ctx.Err())
	}

	for _, r := range c.readers {
		if cerr := r.Close(); cerr != nil {
			c.logger.Warn("kafka consumer: close reader", applogger.Error(cerr))
		}
	}
	c.readers = nil
	if c.dlq != nil {
		if cerr := c.dlq.Close(); cerr != nil {
			c.logger.Warn("kafka consumer: close dlq writer", applogger.Error(cerr))
		}
	}
	return err
}

func (c *Consumer) consume(ctx context.Context, r messageReader, handler MessageHandler) {
	defer c.wg.Done()
	for {
		km, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("kafka consumer: fetch", applogger.String("topic", handler.Topic()), applogger.Error(err))
			if !sleepCtx(ctx, c.cfg.backoffMax) {
				return
			}
			continue
		}
		if c.process(ctx, handler, km) {
			c.commit(r, km)
		}
	}
}

// process runs the handler with retries and reports whether the offset may
// be committed.
func (c *Consumer) process(ctx context.Context, handler MessageHandler, km kafka.Message) bool {
	topic := handler.Topic()
	start := time.Now()

	var err error
	attempts := 0
	for {
		attempts++
		err = c.handleOnce(handler, km)
		if err == nil || attempts > c.cfg.retryMax {
			break
		}
		if !sleepCtx(ctx, backoffWithJitter(c.cfg.backoffMin, c.cfg.backoffMax, attempts)) {
			// shutting down: leave the offset for the next owner
			return false
		}
	}
	c.metrics.observe(topic, err, time.Since(start))
	if err == nil {
		return true
	}

	c.hook.OnError(context.Background(), topic, km, km.Value, err)
	c.logger.Error("kafka consumer: handle failed",
		applogger.String("topic", topic),
		applogger.Int("partition", km.Partition),
		applogger.Int64("offset", km.Offset),
		applogger.Int("attempts", attempts),
		applogger.Error(err),
	)
	if c.dlq == nil {
		return false
	}
	if derr := c.deadLetter(topic, km, err); derr != nil {
		c.logger.Error("kafka consumer: dlq write", applogger.String("topic", c.cfg.dlqTopic), applogger.Error(derr))
		return false
	}
	return true
}

func (c *Consumer) handleOnce(handler MessageHandler, km kafka.Message) (err error) {
	topic := handler.Topic()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	hctx, hmsg, data, err := c.hook.BeforeHandle(context.Background(), topic, km, km.Value)
	if err != nil {
		return err
	}
	err = handler.Handle(hctx, data)
	c.hook.AfterHandle(hctx, topic, hmsg, data, err)
	return err
}

func (c *Consumer) deadLetter(topic string, km kafka.Message, cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.dlq.WriteMessages(ctx, kafka.Message{
		Topic: c.cfg.dlqTopic,
		Key:   km.Key,
		Value: km.Value,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "source_topic", Value: []byte(topic)},
			{Key: "error", Value: []byte(cause.Error())},
		},
	})
}

func (c *Consumer) commit(r messageReader, km kafka.Message) {
	for attempt := 1; attempt <= 3; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := r.CommitMessages(ctx, km)
		cancel()
		if err == nil {
			return
		}
		if attempt == 3 {
			c.logger.Warn("kafka consumer: commit failed", applogger.Int64("offset", km.Offset), applogger.Error(err))
			return
		}
		time.Sleep(backoffWithJitter(50*time.Millisecond, 500*time.Millisecond, attempt))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// backoffWithJitter doubles min per attempt up to max and subtracts up to
// half of it as jitter.
func backoffWithJitter(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	exp := max
	if attempt < 30 {
		if d := min << uint(attempt-1); d > 0 && d < max {
			exp = d
		}
	}
	if half := int64(exp) / 2; half > 0 {
		exp -= time.Duration(rand.Int63n(half))
	}
	return exp
}

type consumerMetrics struct {
	handled *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

func newConsumerMetrics(reg prometheus.Registerer) *consumerMetrics {
	if reg == nil {
		return nil
	}
	m := &consumerMetrics{
		handled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cryptoalert_kafka_consumed_total",
			Help: "Messages handled by result.",
		}, []string{"topic", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "cryptoalert_kafka_handle_seconds",
			Help: "Handling time per message including retries.",
		}, []string{"topic"}),
	}
	reg.MustRegister(m.handled, m.latency)
	return m
}

func (m *consumerMetrics) observe(topic string, err error, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "failed"
	}
	m.handled.WithLabelValues(topic, result).Inc()
	m.latency.WithLabelValues(topic).Observe(d.Seconds())
}
