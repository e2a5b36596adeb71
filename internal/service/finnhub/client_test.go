package finnhub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"CryptoAlert/internal/domain/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSink struct {
	mu      sync.Mutex
	samples []models.PriceSample
}

func (m *memSink) Update(s models.PriceSample) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, s)
	return true
}

func (m *memSink) all() []models.PriceSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.PriceSample(nil), m.samples...)
}

func TestStreamFeedsSinkWithMappedSymbols(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.URL.Query().Get("token"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub map[string]string
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subscribed <- sub["symbol"]

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(
			`{"type":"trade","data":[{"s":"BINANCE:BTCUSDT","p":70100.5,"t":1714564800000,"v":0.1},{"s":"OTHER","p":1,"t":1714564800000,"v":1}]}`))

		// hold the connection until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	sink := &memSink{}
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	s := NewStream("secret", wsURL, map[string]string{"btc": "BINANCE:BTCUSDT"}, sink,
		WithReconnectDelay(10*time.Millisecond))

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, "BINANCE:BTCUSDT", <-subscribed)

	require.Eventually(t, func() bool { return len(sink.all()) == 1 }, 2*time.Second, 10*time.Millisecond)
	got := sink.all()[0]
	assert.Equal(t, "BTC", got.Symbol)
	assert.Equal(t, "70100.5", got.Price.String())
	assert.Equal(t, time.UnixMilli(1714564800000).UTC(), got.ObservedAt)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestStartRequiresSymbols(t *testing.T) {
	s := NewStream("k", "ws://localhost", nil, &memSink{})
	assert.Error(t, s.Start(context.Background()))
	assert.NoError(t, s.Stop(context.Background()))
}
