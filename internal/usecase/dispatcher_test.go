package usecase

import (
	"context"
	"testing"
	"time"

	"CryptoAlert/internal/domain/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func event(user, symbol string) models.CrossingEvent {
	return models.CrossingEvent{
		ID:        user + "-" + symbol,
		UserID:    user,
		Symbol:    symbol,
		Direction: models.DirectionHigh,
		Price:     decimal.RequireFromString("101"),
		Threshold: decimal.RequireFromString("100"),
		Currency:  "eur",
	}
}

func TestDispatcherFansOut(t *testing.T) {
	n := &recordingNotifier{}
	pub := &recordingPublisher{}
	d := NewDispatcher(n, "test", WithPublisher(pub))
	d.Start()

	ctx := context.Background()
	require.NoError(t, d.Enqueue(ctx, event("alice", "BTC")))
	require.NoError(t, d.Enqueue(ctx, event("bob", "ETH")))
	require.NoError(t, d.Stop(ctx))

	assert.Equal(t, []sentMessage{
		{"alice", "🚀 BTC is above 100 EUR! (Current: 101)"},
		{"bob", "🚀 ETH is above 100 EUR! (Current: 101)"},
	}, n.messages())
	require.Len(t, pub.list(), 2)
	assert.Equal(t, "alice-BTC", pub.list()[0].ID)
}

func TestDispatcherRejectsAfterStop(t *testing.T) {
	d := NewDispatcher(&recordingNotifier{}, "test")
	ctx := context.Background()

	assert.ErrorIs(t, d.Enqueue(ctx, event("alice", "BTC")), ErrDispatcherClosed)

	d.Start()
	require.NoError(t, d.Stop(ctx))
	require.NoError(t, d.Stop(ctx))
	assert.ErrorIs(t, d.Enqueue(ctx, event("alice", "BTC")), ErrDispatcherClosed)
}

func TestDispatcherEnqueueHonoursContextWhenFull(t *testing.T) {
	n := &recordingNotifier{delay: 200 * time.Millisecond}
	d := NewDispatcher(n, "test", WithQueueSize(1))
	d.Start()
	t.Cleanup(func() { _ = d.Stop(context.Background()) })

	ctx := context.Background()
	require.NoError(t, d.Enqueue(ctx, event("a", "BTC")))
	// fills the queue once the worker holds the first event
	require.NoError(t, d.Enqueue(ctx, event("b", "BTC")))

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := d.Enqueue(short, event("c", "BTC"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDispatcherSendTimeout(t *testing.T) {
	n := &recordingNotifier{delay: time.Second}
	d := NewDispatcher(n, "test", WithSendTimeout(20*time.Millisecond))
	d.Start()

	ctx := context.Background()
	require.NoError(t, d.Enqueue(ctx, event("alice", "BTC")))

	start := time.Now()
	require.NoError(t, d.Stop(ctx))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Empty(t, n.messages())
}
