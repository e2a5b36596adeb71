package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"CryptoAlert/internal/domain/models"
	"CryptoAlert/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

// scriptedSource returns whatever prices/err currently hold. If gate is set,
// Fetch blocks on it after signalling entered.
type scriptedSource struct {
	mu      sync.Mutex
	prices  map[string]decimal.Decimal
	err     error
	calls   [][]string
	gate    chan struct{}
	entered chan struct{}
}

func (s *scriptedSource) set(prices map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = nil
	s.prices = make(map[string]decimal.Decimal, len(prices))
	for k, v := range prices {
		s.prices[k] = decimal.RequireFromString(v)
	}
}

func (s *scriptedSource) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *scriptedSource) Fetch(ctx context.Context, symbols []string, _ string) (map[string]decimal.Decimal, error) {
	s.mu.Lock()
	s.calls = append(s.calls, append([]string(nil), symbols...))
	gate, entered := s.gate, s.entered
	s.mu.Unlock()

	if gate != nil {
		if entered != nil {
			entered <- struct{}{}
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string]decimal.Decimal)
	for _, sym := range symbols {
		if p, ok := s.prices[sym]; ok {
			out[sym] = p
		}
	}
	return out, nil
}

type sentMessage struct {
	recipient string
	text      string
}

type recordingNotifier struct {
	mu    sync.Mutex
	sent  []sentMessage
	calls int
	err   error
	delay time.Duration
}

func (n *recordingNotifier) Send(ctx context.Context, recipient, text string) error {
	if n.delay > 0 {
		select {
		case <-time.After(n.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentMessage{recipient: recipient, text: text})
	return nil
}

func (n *recordingNotifier) messages() []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentMessage(nil), n.sent...)
}

func (n *recordingNotifier) callCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.CrossingEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev models.CrossingEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) list() []models.CrossingEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.CrossingEvent(nil), p.events...)
}

// racingStore edits a threshold right after every snapshot, so every state
// write of that tick loses its compare-and-swap.
type racingStore struct {
	*repository.MemoryAlertStore
	user, symbol string
	high         *decimal.Decimal
}

func (s *racingStore) Snapshot(ctx context.Context) ([]models.UserAlertSet, error) {
	sets, err := s.MemoryAlertStore.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.MemoryAlertStore.Upsert(ctx, s.user, s.symbol, s.high, nil); err != nil {
		return nil, err
	}
	return sets, nil
}

// brokenStore fails every state write.
type brokenStore struct {
	*repository.MemoryAlertStore
}

func (brokenStore) UpdateState(context.Context, string, string, models.AlertRule, models.State) (bool, error) {
	return false, errors.New("connection reset")
}

// slowStateStore holds every state write until gate is closed.
type slowStateStore struct {
	*repository.MemoryAlertStore
	gate    chan struct{}
	entered chan struct{}
}

func (s *slowStateStore) UpdateState(ctx context.Context, userID, symbol string, observed models.AlertRule, state models.State) (bool, error) {
	select {
	case s.entered <- struct{}{}:
	default:
	}
	select {
	case <-s.gate:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	return s.MemoryAlertStore.UpdateState(ctx, userID, symbol, observed, state)
}

// stalledHistory blocks every write until ctx ends.
type stalledHistory struct{}

func (stalledHistory) StoreBatch(ctx context.Context, _ []models.PriceSample) error {
	<-ctx.Done()
	return ctx.Err()
}

func (stalledHistory) Query(context.Context, string, time.Time, time.Time, int) ([]models.PriceSample, error) {
	return nil, nil
}

func (stalledHistory) Close() error { return nil }

type harness struct {
	store      *repository.MemoryAlertStore
	source     *scriptedSource
	notifier   *recordingNotifier
	dispatcher *Dispatcher
	engine     *Engine
}

func newHarness(t *testing.T, opts ...EngineOption) *harness {
	t.Helper()
	h := &harness{
		store:    repository.NewMemoryAlertStore(),
		source:   &scriptedSource{},
		notifier: &recordingNotifier{},
	}
	h.dispatcher = NewDispatcher(h.notifier, "test", WithSendTimeout(time.Second))
	h.engine = NewEngine(EngineConfig{Interval: time.Hour, Currency: "usd"}, h.store, h.source, h.dispatcher, opts...)
	h.dispatcher.Start()
	t.Cleanup(func() { _ = h.dispatcher.Stop(context.Background()) })
	return h
}

// tick runs one pass at price p for symbol and returns the report.
func (h *harness) tick(t *testing.T, prices map[string]string) TickReport {
	t.Helper()
	h.source.set(prices)
	report, err := h.engine.Tick(context.Background())
	require.NoError(t, err)
	return report
}

// flush waits until every queued notification was attempted and restarts the
// dispatcher.
func (h *harness) flush(t *testing.T) {
	t.Helper()
	require.NoError(t, h.dispatcher.Stop(context.Background()))
	h.dispatcher.Start()
}

func (h *harness) rule(t *testing.T, user, symbol string) models.AlertRule {
	t.Helper()
	rules, err := h.store.List(context.Background(), user)
	require.NoError(t, err)
	for _, r := range rules {
		if r.Symbol == symbol {
			return r
		}
	}
	t.Fatalf("no rule %s for %s", symbol, user)
	return models.AlertRule{}
}
