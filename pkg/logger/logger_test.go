package logger

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chanPublisher struct {
	got chan []AggregatedLogEntry
}

func (p *chanPublisher) PublishMessage(_ context.Context, _ string, payload interface{}) error {
	p.got <- payload.([]AggregatedLogEntry)
	return nil
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(&Config{Level: "loud", Format: "json", Output: "stdout"})
	assert.Error(t, err)
}

func TestNopAndWithDoNotPanic(t *testing.T) {
	l := Nop().With(String("component", "test"), Int("n", 1))
	l.Info("hello", Error(nil), Float64("price", 1.5), Strings("symbols", []string{"BTC", "ETH"}))
	l.Warn("warn", Duration("took", time.Second))
}

func TestCollectorAggregatesErrors(t *testing.T) {
	pub := &chanPublisher{got: make(chan []AggregatedLogEntry, 1)}
	l := Nop()
	l.AddCollector(&CollectionConfig{
		TimeInterval:   time.Hour,
		CountThreshold: 2,
		Topic:          "logs",
		Publisher:      pub,
	})
	defer l.RemoveCollector()

	for i := 0; i < 2; i++ {
		l.Error("send failed", Error(errors.New("boom")))
	}
	l.Error("fetch failed", Error(errors.New("timeout")))

	select {
	case entries := <-pub.got:
		require.Len(t, entries, 2)
		counts := map[string]int{}
		for _, e := range entries {
			counts[e.Message] = e.Count
		}
		assert.Equal(t, 2, counts["send failed"])
		assert.Equal(t, 1, counts["fetch failed"])
	case <-time.After(2 * time.Second):
		t.Fatal("collector did not flush")
	}
}

func TestFileOutputWritesTypedFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	l, err := New(&Config{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	l.With(String("env", "test")).Info("tick",
		Duration("took", 1500*time.Millisecond),
		Stringer("price", decimal.RequireFromString("70100.25")),
		Uint64("revision", 3),
		Bool("partial", true),
		Strings("symbols", []string{"BTC", "ETH"}),
		Error(errors.New("boom")),
	)
	l.Debug("hidden")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &entry))
	assert.Equal(t, "tick", entry["message"])
	assert.Equal(t, "test", entry["env"])
	assert.Equal(t, float64(1500), entry["took"])
	assert.Equal(t, "70100.25", entry["price"])
	assert.Equal(t, float64(3), entry["revision"])
	assert.Equal(t, true, entry["partial"])
	assert.Equal(t, []interface{}{"BTC", "ETH"}, entry["symbols"])
	assert.Equal(t, "boom", entry["error"])
	assert.Contains(t, entry["caller"], "logger_test.go")
}
