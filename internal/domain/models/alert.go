package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// State is the side of the hysteresis band a rule's price was last observed on.
type State string

const (
	StateNeutral State = "NEUTRAL"
	StateAbove   State = "ABOVE"
	StateBelow   State = "BELOW"
)

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StateNeutral, StateAbove, StateBelow:
		return true
	}
	return false
}

// Direction of a threshold crossing.
type Direction string

const (
	DirectionHigh Direction = "HIGH"
	DirectionLow  Direction = "LOW"
)

// AlertRule is a user's per-symbol threshold configuration plus its crossing state.
// Revision changes whenever a threshold changes and is used for compare-and-swap
// state writes.
type AlertRule struct {
	Symbol    string           `json:"symbol"`
	High      *decimal.Decimal `json:"high,omitempty"`
	Low       *decimal.Decimal `json:"low,omitempty"`
	State     State            `json:"state"`
	Revision  uint64           `json:"revision"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// MarshalJSON writes thresholds with their declared number of decimal places,
// which the default decimal encoding would trim.
func (r AlertRule) MarshalJSON() ([]byte, error) {
	type plain AlertRule
	return json.Marshal(struct {
		plain
		High *string `json:"high,omitempty"`
		Low  *string `json:"low,omitempty"`
	}{plain: plain(r), High: fixedOrNil(r.High), Low: fixedOrNil(r.Low)})
}

func fixedOrNil(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := FormatThreshold(*d)
	return &s
}

// FormatThreshold renders d with exactly its declared decimal places, so
// "3500.50" stays "3500.50".
func FormatThreshold(d decimal.Decimal) string {
	places := -d.Exponent()
	if places < 0 {
		places = 0
	}
	return d.StringFixed(places)
}

// NewAlertRule creates a NEUTRAL rule at revision 1.
func NewAlertRule(symbol string, high, low *decimal.Decimal, now time.Time) (AlertRule, error) {
	r := AlertRule{
		Symbol:    symbol,
		High:      normalizeThreshold(high),
		Low:       normalizeThreshold(low),
		State:     StateNeutral,
		Revision:  1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.Validate(); err != nil {
		return AlertRule{}, err
	}
	return r, nil
}

// Validate checks the threshold invariant.
func (r AlertRule) Validate() error {
	if r.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidRule)
	}
	if r.High == nil && r.Low == nil {
		return fmt.Errorf("%w: %s needs a high or a low threshold", ErrInvalidRule, r.Symbol)
	}
	if r.High != nil && r.Low != nil && !r.Low.LessThan(*r.High) {
		return fmt.Errorf("%w: %s low %s must be below high %s", ErrInvalidRule, r.Symbol, r.Low, r.High)
	}
	return nil
}

// Merge returns a copy of r with the supplied thresholds overwritten. Absent
// arguments keep the current value. State is preserved; Revision is bumped only
// when a threshold actually changes.
func (r AlertRule) Merge(high, low *decimal.Decimal, now time.Time) (AlertRule, error) {
	next := r.Clone()
	changed := false
	if high != nil && !sameThreshold(next.High, high) {
		next.High = normalizeThreshold(high)
		changed = true
	}
	if low != nil && !sameThreshold(next.Low, low) {
		next.Low = normalizeThreshold(low)
		changed = true
	}
	if err := next.Validate(); err != nil {
		return AlertRule{}, err
	}
	if changed {
		next.Revision++
		next.UpdatedAt = now
	}
	return next, nil
}

// Clone deep-copies the threshold pointers.
func (r AlertRule) Clone() AlertRule {
	c := r
	if r.High != nil {
		h := *r.High
		c.High = &h
	}
	if r.Low != nil {
		l := *r.Low
		c.Low = &l
	}
	return c
}

// SameThresholds reports whether both rules watch the same band.
func (r AlertRule) SameThresholds(o AlertRule) bool {
	return sameThreshold(r.High, o.High) && sameThreshold(r.Low, o.Low)
}

// UserAlertSet is the whole record the store serializes mutations on.
type UserAlertSet struct {
	UserID string      `json:"user_id"`
	Rules  []AlertRule `json:"rules"`
}

// Find returns the index of symbol in Rules or -1.
func (s *UserAlertSet) Find(symbol string) int {
	for i := range s.Rules {
		if s.Rules[i].Symbol == symbol {
			return i
		}
	}
	return -1
}

// Clone returns a snapshot that shares no memory with s.
func (s UserAlertSet) Clone() UserAlertSet {
	c := UserAlertSet{UserID: s.UserID, Rules: make([]AlertRule, len(s.Rules))}
	for i, r := range s.Rules {
		c.Rules[i] = r.Clone()
	}
	return c
}

// PriceSample is one observed price.
type PriceSample struct {
	Symbol     string          `json:"symbol"`
	Currency   string          `json:"currency"`
	Price      decimal.Decimal `json:"price"`
	ObservedAt time.Time       `json:"observed_at"`
}

// CrossingEvent is emitted when a rule enters a breached side.
type CrossingEvent struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	Symbol     string          `json:"symbol"`
	Direction  Direction       `json:"direction"`
	Price      decimal.Decimal `json:"price"`
	Threshold  decimal.Decimal `json:"threshold"`
	Currency   string          `json:"currency"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Message renders the text delivered to the recipient.
func (e CrossingEvent) Message() string {
	cur := strings.ToUpper(e.Currency)
	if e.Direction == DirectionHigh {
		return fmt.Sprintf("🚀 %s is above %s %s! (Current: %s)", e.Symbol, FormatThreshold(e.Threshold), cur, e.Price)
	}
	return fmt.Sprintf("🔻 %s is below %s %s! (Current: %s)", e.Symbol, FormatThreshold(e.Threshold), cur, e.Price)
}

// sameThreshold compares value and declared precision: 3500.5 and 3500.50
// are different thresholds.
func sameThreshold(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b) && a.Exponent() == b.Exponent()
}

// normalizeThreshold keeps the caller's decimal places. Integral thresholds
// written in exponent form (1E+3) are brought to exponent 0 so they read back
// unchanged from every store.
func normalizeThreshold(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	n := *d
	if n.Exponent() > 0 {
		n = decimal.RequireFromString(n.StringFixed(0))
	}
	return &n
}
