package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
)

func TestTraceHookCopiesHeader(t *testing.T) {
	km := kafka.Message{Headers: []kafka.Header{{Key: "trace_id", Value: []byte("abc")}}}
	ctx, _, _, err := TraceHook().BeforeHandle(context.Background(), "ticks", km, nil)
	assert.NoError(t, err)
	assert.Equal(t, "abc", TraceID(ctx))

	ctx, _, _, err = TraceHook().BeforeHandle(context.Background(), "ticks", kafka.Message{}, nil)
	assert.NoError(t, err)
	assert.Empty(t, TraceID(ctx))
}

func TestHookFuncsNilIsNoop(t *testing.T) {
	var h HookFuncs
	ctx := context.Background()
	gotCtx, _, data, err := h.BeforeHandle(ctx, "t", kafka.Message{}, []byte("x"))
	assert.NoError(t, err)
	assert.Equal(t, ctx, gotCtx)
	assert.Equal(t, []byte("x"), data)
	h.AfterHandle(ctx, "t", kafka.Message{}, nil, nil)
	h.OnError(ctx, "t", kafka.Message{}, nil, nil)
}

func TestBackoffWithJitterBounds(t *testing.T) {
	for attempt := 1; attempt <= 10; attempt++ {
		d := backoffWithJitter(100*time.Millisecond, time.Second, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Second)
	}
}

func TestConsumerStopWithoutStart(t *testing.T) {
	c, err := NewConsumer(WithConsumerBrokers([]string{"localhost:9092"}), WithConsumerGroupID("test"))
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, c.Stop(ctx))
	assert.Error(t, c.Start(ctx))
}
