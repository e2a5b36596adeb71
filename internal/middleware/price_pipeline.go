package middleware

import (
	"fmt"
	"sync"
	"time"

	"CryptoAlert/internal/domain/models"
	domrepo "CryptoAlert/internal/domain/repository"
	"CryptoAlert/internal/service/finnhub"
	"CryptoAlert/pkg/util"
)

// PricePipeline sits between a streaming feed and the price book.
// It validates samples and throttles each symbol to at most maxRPS updates
// per second; the engine only reads the latest price, so dropped samples are
// superseded by the next accepted one.
type PricePipeline struct {
	next    finnhub.Sink
	metrics domrepo.Metrics
	maxRPS  int
	now     func() time.Time

	mu       sync.Mutex
	lastSeen map[string]time.Time // per-symbol last accepted time
}

type PipelineOption func(*PricePipeline)

// WithMaxRPS sets the max samples per second per symbol. Zero disables
// throttling.
func WithMaxRPS(n int) PipelineOption {
	return func(p *PricePipeline) {
		if n >= 0 {
			p.maxRPS = n
		}
	}
}

// NewPricePipeline wraps next.
func NewPricePipeline(next finnhub.Sink, metrics domrepo.Metrics, opts ...PipelineOption) *PricePipeline {
	p := &PricePipeline{
		next:     next,
		metrics:  metrics,
		maxRPS:   20, // default throttle per symbol
		now:      time.Now,
		lastSeen: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var _ finnhub.Sink = (*PricePipeline)(nil)

// Update validates, throttles and forwards s. It reports whether the sample
// reached the book.
func (p *PricePipeline) Update(s models.PriceSample) bool {
	s.Symbol = util.NormalizeSymbol(s.Symbol)
	if err := validateSample(s); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return false
	}
	if !p.allow(s.Symbol, p.now()) {
		p.metrics.RecordError("pipeline_throttle")
		return false
	}
	return p.next.Update(s)
}

func validateSample(s models.PriceSample) error {
	if s.Symbol == "" {
		return fmt.Errorf("symbol empty")
	}
	if !s.Price.IsPositive() {
		return fmt.Errorf("price %s not positive", s.Price)
	}
	return nil
}

func (p *PricePipeline) allow(symbol string, now time.Time) bool {
	if p.maxRPS <= 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	last := p.lastSeen[symbol]
	if !last.IsZero() && now.Sub(last) < time.Second/time.Duration(p.maxRPS) {
		return false
	}
	p.lastSeen[symbol] = now
	return true
}
