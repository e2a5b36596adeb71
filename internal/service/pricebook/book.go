// Package pricebook keeps the latest pushed price per symbol and serves it as
// a PriceSource for the polling engine.
package pricebook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"CryptoAlert/internal/domain/models"
	drepo "CryptoAlert/internal/domain/repository"
	"CryptoAlert/pkg/util"

	"github.com/shopspring/decimal"
)

// ErrEmpty is returned until the first sample arrives.
var ErrEmpty = errors.New("pricebook: no prices received yet")

// Book is safe for concurrent use by one or more feeds and the engine.
type Book struct {
	mu       sync.RWMutex
	currency string
	maxAge   time.Duration
	now      func() time.Time
	latest   map[string]models.PriceSample
}

// New creates a book quoting currency. Samples older than maxAge are not
// served; maxAge <= 0 disables the check.
func New(currency string, maxAge time.Duration) *Book {
	return &Book{
		currency: strings.ToLower(currency),
		maxAge:   maxAge,
		now:      time.Now,
		latest:   make(map[string]models.PriceSample),
	}
}

var _ drepo.PriceSource = (*Book)(nil)

// Currency is the quote currency of every sample in the book.
func (b *Book) Currency() string { return b.currency }

// Update records s unless a newer sample for the symbol is already held.
func (b *Book) Update(s models.PriceSample) bool {
	s.Symbol = util.NormalizeSymbol(s.Symbol)
	if s.Symbol == "" || !s.Price.IsPositive() {
		return false
	}
	if s.ObservedAt.IsZero() {
		s.ObservedAt = b.now()
	}
	s.Currency = b.currency

	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.latest[s.Symbol]; ok && cur.ObservedAt.After(s.ObservedAt) {
		return false
	}
	b.latest[s.Symbol] = s
	return true
}

// Last returns the latest sample for symbol.
func (b *Book) Last(symbol string) (models.PriceSample, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.latest[util.NormalizeSymbol(symbol)]
	return s, ok
}

// Fetch returns fresh prices for the symbols the book holds.
func (b *Book) Fetch(_ context.Context, symbols []string, currency string) (map[string]decimal.Decimal, error) {
	if c := strings.ToLower(currency); c != b.currency {
		return nil, fmt.Errorf("pricebook quotes %s, asked for %s", b.currency, c)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.latest) == 0 {
		return nil, ErrEmpty
	}

	now := b.now()
	out := make(map[string]decimal.Decimal, len(symbols))
	for _, sym := range symbols {
		s, ok := b.latest[util.NormalizeSymbol(sym)]
		if !ok {
			continue
		}
		if b.maxAge > 0 && now.Sub(s.ObservedAt) > b.maxAge {
			continue
		}
		out[s.Symbol] = s.Price
	}
	return out, nil
}
