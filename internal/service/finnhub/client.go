package finnhub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"CryptoAlert/internal/domain/models"
	applogger "CryptoAlert/pkg/logger"
	"CryptoAlert/pkg/util"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// Sink receives every trade price seen on the stream.
type Sink interface {
	Update(s models.PriceSample) bool
}

// Stream subscribes to Finnhub trades over WebSocket and pushes the prices
// into a Sink. It reconnects until stopped.
type Stream struct {
	apiKey         string
	websocketURL   string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	// alert symbol -> finnhub symbol and back
	symbols map[string]string
	reverse map[string]string

	sink   Sink
	logger *applogger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures Stream.
type Option func(*Stream)

// WithReconnectDelay sets the pause between connection attempts.
func WithReconnectDelay(d time.Duration) Option {
	return func(s *Stream) {
		if d > 0 {
			s.reconnectDelay = d
		}
	}
}

// WithPingInterval sets the keepalive period.
func WithPingInterval(d time.Duration) Option {
	return func(s *Stream) {
		if d > 0 {
			s.pingInterval = d
		}
	}
}

// WithLogger sets the stream logger.
func WithLogger(l *applogger.Logger) Option {
	return func(s *Stream) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStream creates a stream. symbols maps alert symbols (BTC) to Finnhub
// instruments (BINANCE:BTCUSDT).
func NewStream(apiKey, websocketURL string, symbols map[string]string, sink Sink, opts ...Option) *Stream {
	s := &Stream{
		apiKey:         apiKey,
		websocketURL:   websocketURL,
		reconnectDelay: 5 * time.Second,
		pingInterval:   30 * time.Second,
		symbols:        make(map[string]string, len(symbols)),
		reverse:        make(map[string]string, len(symbols)),
		sink:           sink,
		logger:         applogger.Nop(),
	}
	for sym, instrument := range symbols {
		sym = util.NormalizeSymbol(sym)
		s.symbols[sym] = instrument
		s.reverse[instrument] = sym
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Stream) Name() string { return "finnhub-stream" }

// Start runs the connect/read loop in the background.
func (s *Stream) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return fmt.Errorf("finnhub stream already started")
	}
	if len(s.symbols) == 0 {
		return fmt.Errorf("finnhub stream: no symbols configured")
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx)
	return nil
}

// Stop ends the loop and closes the connection.
func (s *Stream) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("finnhub stream stop: %w", ctx.Err())
	}
	s.mu.Lock()
	s.cancel = nil
	s.mu.Unlock()
	return nil
}

func (s *Stream) run(ctx context.Context) {
	defer close(s.done)
	for {
		err := s.session(ctx)
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("finnhub: session ended, reconnecting",
			applogger.Error(err),
			applogger.Duration("delay", s.reconnectDelay),
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.reconnectDelay):
		}
	}
}

// session connects, subscribes and reads until the connection fails.
func (s *Stream) session(ctx context.Context) error {
	u := fmt.Sprintf("%s?token=%s", s.websocketURL, s.apiKey)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("finnhub connect: %w", redact(err, s.apiKey))
	}
	defer conn.Close()
	subscribed := make([]string, 0, len(s.symbols))
	for _, instrument := range s.symbols {
		if err := conn.WriteJSON(map[string]string{"type": "subscribe", "symbol": instrument}); err != nil {
			return fmt.Errorf("subscribe %s: %w", instrument, err)
		}
		subscribed = append(subscribed, instrument)
	}
	s.logger.Info("finnhub: connected", applogger.Strings("instruments", util.UniqueSorted(subscribed)))

	sessCtx, endSession := context.WithCancel(ctx)
	defer endSession()
	go func() {
		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sessCtx.Done():
				// unblocks ReadMessage on Stop
				_ = conn.Close()
				return
			case <-ticker.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
		}
	}()

	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("finnhub read: %w", err)
		}
		s.handleFrame(b)
	}
}

type fhTrade struct {
	S string          `json:"s"`
	P decimal.Decimal `json:"p"`
	V float64         `json:"v"`
	T int64           `json:"t"` // ms
}

type fhMessage struct {
	Type string    `json:"type"`
	Data []fhTrade `json:"data"`
}

func (s *Stream) handleFrame(b []byte) {
	var m fhMessage
	if err := json.Unmarshal(b, &m); err != nil || m.Type != "trade" {
		// pings and non-trade frames
		return
	}
	for _, d := range m.Data {
		sym, ok := s.reverse[d.S]
		if !ok {
			continue
		}
		s.sink.Update(models.PriceSample{
			Symbol:     sym,
			Price:      d.P,
			ObservedAt: time.UnixMilli(d.T).UTC(),
		})
	}
}

func redact(err error, secret string) error {
	if secret == "" || !strings.Contains(err.Error(), secret) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), secret, "***"))
}
