package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	mu        sync.Mutex
	msgs      chan kafka.Message
	committed []int64
	closed    bool
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	r := &fakeReader{msgs: make(chan kafka.Message, len(msgs))}
	for _, m := range msgs {
		r.msgs <- m
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type funcHandler struct {
	topic string
	fn    func([]byte) error
}

func (h funcHandler) Topic() string                            { return h.topic }
func (h funcHandler) Handle(_ context.Context, b []byte) error { return h.fn(b) }

func newTestConsumer(t *testing.T, r *fakeReader, opts ...ConsumerOption) *Consumer {
	t.Helper()
	opts = append([]ConsumerOption{
		WithConsumerBrokers([]string{"localhost:9092"}),
		WithConsumerRetry(2, time.Millisecond, 2*time.Millisecond),
	}, opts...)
	c, err := NewConsumer(opts...)
	require.NoError(t, err)
	c.newReader = func(string) messageReader { return r }
	return c
}

func TestConsumerCommitsHandledMessages(t *testing.T) {
	r := newFakeReader(
		kafka.Message{Offset: 1, Value: []byte("a")},
		kafka.Message{Offset: 2, Value: []byte("b")},
	)
	reg := prometheus.NewRegistry()
	c := newTestConsumer(t, r, WithConsumerRegistry(reg))

	var mu sync.Mutex
	var seen []string
	c.RegisterHandler(funcHandler{topic: "ticks", fn: func(b []byte) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, string(b))
		return nil
	}})

	require.NoError(t, c.Start(context.Background()))
	require.Eventually(t, func() bool { return len(r.commits()) == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop(context.Background()))

	assert.Equal(t, []int64{1, 2}, r.commits())
	mu.Lock()
	assert.Equal(t, []string{"a", "b"}, seen)
	mu.Unlock()
	assert.True(t, r.closed)
	assert.Equal(t, float64(2), testutil.ToFloat64(c.metrics.handled.WithLabelValues("ticks", "ok")))
}

func TestConsumerDeadLettersAfterRetries(t *testing.T) {
	r := newFakeReader(kafka.Message{Offset: 7, Value: []byte("bad")})
	c := newTestConsumer(t, r, WithConsumerDLQ("ticks.dlq"))
	dlq := &fakeWriter{}
	c.dlq = dlq

	calls := 0
	c.RegisterHandler(funcHandler{topic: "ticks", fn: func([]byte) error {
		calls++
		return errors.New("malformed")
	}})

	require.NoError(t, c.Start(context.Background()))
	require.Eventually(t, func() bool { return len(r.commits()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop(context.Background()))

	assert.Equal(t, 3, calls)
	dlq.mu.Lock()
	defer dlq.mu.Unlock()
	require.Len(t, dlq.msgs, 1)
	assert.Equal(t, "ticks.dlq", dlq.msgs[0].Topic)
	assert.Equal(t, []byte("bad"), dlq.msgs[0].Value)
}

func TestConsumerWithoutDLQLeavesFailedOffset(t *testing.T) {
	r := newFakeReader(kafka.Message{Offset: 3, Value: []byte("x")})
	c := newTestConsumer(t, r)
	done := make(chan struct{})
	c.RegisterHandler(funcHandler{topic: "ticks", fn: func([]byte) error {
		panic("boom")
	}})
	c.WithConsumerHook(HookFuncs{Err: func(context.Context, string, kafka.Message, []byte, error) { close(done) }})

	require.NoError(t, c.Start(context.Background()))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler error never reported")
	}
	require.NoError(t, c.Stop(context.Background()))
	assert.Empty(t, r.commits())
}

func TestConsumerStartRequiresHandlers(t *testing.T) {
	c := newTestConsumer(t, newFakeReader())
	assert.Error(t, c.Start(context.Background()))

	_, err := NewConsumer()
	assert.Error(t, err)
}

func TestBackoffWithJitterStaysInRange(t *testing.T) {
	for attempt := 1; attempt < 40; attempt++ {
		d := backoffWithJitter(10*time.Millisecond, 100*time.Millisecond, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 100*time.Millisecond)
	}
}

func TestParseCompression(t *testing.T) {
	c, err := parseCompression("zstd")
	require.NoError(t, err)
	assert.Equal(t, kafka.Zstd, c)
	_, err = parseCompression("brotli")
	assert.Error(t, err)
}
