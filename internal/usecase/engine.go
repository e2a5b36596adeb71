package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"CryptoAlert/internal/domain/models"
	drepo "CryptoAlert/internal/domain/repository"
	"CryptoAlert/internal/domain/service"
	"CryptoAlert/pkg/cache"
	applogger "CryptoAlert/pkg/logger"
	"CryptoAlert/pkg/metrics"
	"CryptoAlert/pkg/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EngineState is the polling lifecycle state.
type EngineState int32

const (
	EngineIdle EngineState = iota
	EnginePolling
	EngineStopped
)

func (s EngineState) String() string {
	switch s {
	case EngineIdle:
		return "IDLE"
	case EnginePolling:
		return "POLLING"
	case EngineStopped:
		return "STOPPED"
	}
	return "UNKNOWN"
}

var (
	// ErrTickInProgress is returned by Tick while another tick is running.
	ErrTickInProgress = errors.New("tick already in progress")
	// ErrTickLocked is returned when another replica holds the tick lock.
	ErrTickLocked = errors.New("tick lock held elsewhere")
)

const tickLockKey = "engine:tick"

// TickReport summarizes one evaluation pass.
type TickReport struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Symbols   int           `json:"symbols"`
	Priced    int           `json:"priced"`
	Events    int           `json:"events"`
	Notified  int           `json:"notified"`
	Conflicts int           `json:"conflicts"`
	Err       string        `json:"err,omitempty"`
}

// EngineStatus is what the status endpoint shows.
type EngineStatus struct {
	State    string        `json:"state"`
	Interval time.Duration `json:"interval"`
	Currency string        `json:"currency"`
	Pending  int           `json:"pending"`
	LastTick *TickReport   `json:"last_tick,omitempty"`
}

// EngineConfig holds the engine's tunables.
type EngineConfig struct {
	Interval     time.Duration
	Currency     string
	FetchTimeout time.Duration
	StoreTimeout time.Duration
	StopTimeout  time.Duration
	PriceTTL     time.Duration
	// LockTTL enables the cross-replica tick lock when positive.
	LockTTL time.Duration
}

// Engine periodically evaluates every rule against fresh prices. Ticks never
// overlap; notifications are queued only after the state write succeeded.
type Engine struct {
	cfg        EngineConfig
	store      drepo.AlertStore
	source     drepo.PriceSource
	dispatcher *Dispatcher
	cache      cache.Service
	history    drepo.PriceHistory
	metrics    drepo.Metrics
	logger     *applogger.Logger
	now        func() time.Time

	state   atomic.Int32
	ticking atomic.Bool

	// lifeMu serializes Start and Stop; mu guards last.
	lifeMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	// drained is closed once a loop abandoned by Stop has returned and its
	// notifications were dispatched.
	drained chan struct{}

	mu   sync.Mutex
	last *TickReport
}

// EngineOption configures Engine.
type EngineOption func(*Engine)

// WithPriceCache stores every observed price under prices:<SYMBOL> and uses the
// same cache for the tick lock.
func WithPriceCache(c cache.Service) EngineOption {
	return func(e *Engine) { e.cache = c }
}

// WithHistory records the samples of every tick.
func WithHistory(h drepo.PriceHistory) EngineOption {
	return func(e *Engine) { e.history = h }
}

// WithEngineMetrics sets the metrics sink.
func WithEngineMetrics(m drepo.Metrics) EngineOption {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithEngineLogger sets the logger.
func WithEngineLogger(l *applogger.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an IDLE engine.
func NewEngine(cfg EngineConfig, store drepo.AlertStore, source drepo.PriceSource, dispatcher *Dispatcher, opts ...EngineOption) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 30 * time.Second
	}
	e := &Engine{
		cfg:        cfg,
		store:      store,
		source:     source,
		dispatcher: dispatcher,
		metrics:    metrics.Nop{},
		logger:     applogger.Nop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Name() string { return "engine" }

// State returns the lifecycle state.
func (e *Engine) State() EngineState { return EngineState(e.state.Load()) }

// Start moves IDLE or STOPPED to POLLING, evaluates immediately and then every
// interval. Starting a polling engine is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	if e.State() == EnginePolling {
		return nil
	}
	if e.drained != nil {
		select {
		case <-e.drained:
			e.drained = nil
		case <-ctx.Done():
			return fmt.Errorf("previous run still draining: %w", ctx.Err())
		}
	}
	e.dispatcher.Start()

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	e.state.Store(int32(EnginePolling))
	go e.loop(ctx, e.done)

	e.logger.Info("engine started",
		applogger.Duration("interval", e.cfg.Interval),
		applogger.String("currency", e.cfg.Currency),
	)
	return nil
}

// Stop halts polling. An in-flight tick finishes, queued notifications are
// drained, then the engine is STOPPED. If ctx ends first the engine is
// STOPPED anyway and the tick and the drain complete in the background; a
// later Start waits for them. Stopping an engine that is not polling is a
// no-op.
func (e *Engine) Stop(ctx context.Context) error {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	if e.State() != EnginePolling {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.StopTimeout)
		defer cancel()
	}

	e.cancel()
	e.cancel = nil
	defer e.state.Store(int32(EngineStopped))

	select {
	case <-e.done:
	case <-ctx.Done():
		// The tick keeps running and may still commit crossings, so the
		// dispatcher stays open until the loop has returned.
		e.drained = make(chan struct{})
		go e.drainAfter(e.done, e.drained)
		e.logger.Warn("engine stop timed out, tick continues in background")
		return fmt.Errorf("wait for tick: %w", ctx.Err())
	}
	if err := e.dispatcher.Stop(ctx); err != nil {
		return err
	}
	e.logger.Info("engine stopped")
	return nil
}

func (e *Engine) drainAfter(done <-chan struct{}, drained chan<- struct{}) {
	defer close(drained)
	<-done

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.StopTimeout)
	defer cancel()
	if err := e.dispatcher.Stop(ctx); err != nil {
		e.logger.Warn("dispatcher drain failed", applogger.Error(err))
		return
	}
	e.logger.Info("engine stopped")
}

// Status reports the state and the last tick.
func (e *Engine) Status() EngineStatus {
	e.mu.Lock()
	var last *TickReport
	if e.last != nil {
		r := *e.last
		last = &r
	}
	e.mu.Unlock()
	return EngineStatus{
		State:    e.State().String(),
		Interval: e.cfg.Interval,
		Currency: e.cfg.Currency,
		Pending:  e.dispatcher.Pending(),
		LastTick: last,
	}
}

func (e *Engine) loop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := e.Tick(ctx); err != nil && ctx.Err() == nil &&
			!errors.Is(err, ErrTickInProgress) && !errors.Is(err, ErrTickLocked) {
			e.logger.Warn("tick failed", applogger.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick runs one evaluation pass. It returns ErrTickInProgress if a pass is
// already running; a failed price fetch aborts the pass without touching any
// rule and is returned wrapped in models.ErrTransientFetch.
func (e *Engine) Tick(ctx context.Context) (TickReport, error) {
	if !e.ticking.CompareAndSwap(false, true) {
		return TickReport{}, ErrTickInProgress
	}
	defer e.ticking.Store(false)

	if e.cache != nil && e.cfg.LockTTL > 0 {
		ok, err := e.cache.TryLock(ctx, tickLockKey, e.cfg.LockTTL)
		if err != nil {
			e.logger.Warn("tick lock unavailable, evaluating anyway", applogger.Error(err))
		} else if !ok {
			return TickReport{}, ErrTickLocked
		} else {
			defer func() {
				if err := e.cache.Unlock(context.WithoutCancel(ctx), tickLockKey); err != nil {
					e.logger.Warn("tick unlock failed", applogger.Error(err))
				}
			}()
		}
	}

	report := TickReport{StartedAt: e.now()}
	err := e.tick(ctx, &report)
	report.Duration = e.now().Sub(report.StartedAt)
	if err != nil {
		report.Err = err.Error()
	}

	switch {
	case err != nil:
		e.metrics.RecordTick("failed")
	case report.Conflicts > 0:
		e.metrics.RecordTick("partial")
	default:
		e.metrics.RecordTick("ok")
	}
	e.metrics.RecordLatency("tick", report.Duration.Seconds())

	e.mu.Lock()
	e.last = &report
	e.mu.Unlock()
	return report, err
}

func (e *Engine) tick(ctx context.Context, report *TickReport) error {
	sets, err := e.store.Snapshot(ctx)
	if err != nil {
		e.metrics.RecordError("snapshot")
		return fmt.Errorf("snapshot: %w", err)
	}

	var symbols []string
	for _, set := range sets {
		for _, r := range set.Rules {
			symbols = append(symbols, r.Symbol)
		}
	}
	symbols = util.UniqueSorted(symbols)
	report.Symbols = len(symbols)
	if len(symbols) == 0 {
		return nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
	start := time.Now()
	prices, err := e.source.Fetch(fetchCtx, symbols, e.cfg.Currency)
	cancel()
	e.metrics.RecordLatency("fetch", time.Since(start).Seconds())
	if err != nil {
		e.metrics.RecordError("fetch")
		return fmt.Errorf("%w: %w", models.ErrTransientFetch, err)
	}
	report.Priced = len(prices)
	e.record(ctx, prices)

	// A tick that started finishes its writes and queueing even if Stop
	// cancelled ctx meanwhile.
	wctx := context.WithoutCancel(ctx)
	for _, set := range sets {
		for _, rule := range set.Rules {
			price, ok := prices[rule.Symbol]
			if !ok {
				continue
			}
			e.evaluate(wctx, set.UserID, rule, price, report)
		}
	}
	return nil
}

func (e *Engine) evaluate(ctx context.Context, userID string, rule models.AlertRule, price decimal.Decimal, report *TickReport) {
	next, ev := service.Detect(userID, rule, price)
	if next == rule.State && ev == nil {
		return
	}

	sctx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	ok, err := e.store.UpdateState(sctx, userID, rule.Symbol, rule, next)
	cancel()
	if err != nil {
		e.metrics.RecordError("update_state")
		e.logger.Warn("state update failed",
			applogger.String("user", userID),
			applogger.String("symbol", rule.Symbol),
			applogger.Error(err),
		)
		return
	}
	if !ok {
		// The rule was edited or removed since the snapshot; its new
		// version is evaluated next tick.
		report.Conflicts++
		e.metrics.RecordError("cas_conflict")
		e.logger.Debug("state update lost race",
			applogger.String("user", userID),
			applogger.String("symbol", rule.Symbol),
		)
		return
	}
	if ev == nil {
		return
	}

	ev.ID = uuid.NewString()
	ev.Currency = e.cfg.Currency
	ev.OccurredAt = e.now().UTC()
	report.Events++
	e.metrics.RecordEvent(string(ev.Direction))
	e.logger.Debug("threshold crossed",
		applogger.String("user", userID),
		applogger.String("symbol", ev.Symbol),
		applogger.String("direction", string(ev.Direction)),
		applogger.Stringer("price", ev.Price),
		applogger.Stringer("threshold", ev.Threshold),
	)

	qctx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()
	if err := e.dispatcher.Enqueue(qctx, *ev); err != nil {
		e.metrics.RecordNotification("queue", "dropped")
		e.logger.Error("notification dropped",
			applogger.String("user", userID),
			applogger.String("symbol", rule.Symbol),
			applogger.String("event_id", ev.ID),
			applogger.Error(err),
		)
		return
	}
	report.Notified++
}

// record writes the tick's prices to the last-price cache and the history.
// Failures are logged only.
func (e *Engine) record(ctx context.Context, prices map[string]decimal.Decimal) {
	if len(prices) == 0 {
		return
	}
	at := e.now().UTC()
	samples := make([]models.PriceSample, 0, len(prices))
	for sym, p := range prices {
		samples = append(samples, models.PriceSample{
			Symbol:     sym,
			Currency:   e.cfg.Currency,
			Price:      p,
			ObservedAt: at,
		})
		f, _ := p.Float64()
		e.metrics.RecordLastPrice(sym, f)
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()
	if e.cache != nil {
		for _, s := range samples {
			if err := e.cache.Set(ctx, PriceKey(s.Symbol), s, e.cfg.PriceTTL); err != nil {
				e.logger.Warn("price cache write failed", applogger.String("symbol", s.Symbol), applogger.Error(err))
				break
			}
		}
	}
	if e.history != nil {
		if err := e.history.StoreBatch(ctx, samples); err != nil {
			e.metrics.RecordError("history")
			e.logger.Warn("price history write failed", applogger.Error(err))
		}
	}
}

// PriceKey is the cache key of a symbol's last observed sample.
func PriceKey(symbol string) string {
	return cache.Key("prices", symbol)
}
