package repository

import (
	"context"
	"time"

	"CryptoAlert/internal/domain/models"

	"github.com/shopspring/decimal"
)

// AlertStore owns every UserAlertSet. Mutations of one user are serialized;
// different users are independent.
type AlertStore interface {
	// Upsert merges the supplied thresholds into the rule for symbol, creating it
	// NEUTRAL when absent. Nil thresholds keep their current value.
	Upsert(ctx context.Context, userID, symbol string, high, low *decimal.Decimal) (models.AlertRule, error)
	// Remove deletes the rule and reports whether it existed.
	Remove(ctx context.Context, userID, symbol string) (bool, error)
	// List returns the user's rules in insertion order.
	List(ctx context.Context, userID string) ([]models.AlertRule, error)
	// UpdateState writes state only if the stored rule still has the revision and
	// state of observed. It returns false when the rule was removed or changed.
	UpdateState(ctx context.Context, userID, symbol string, observed models.AlertRule, state models.State) (bool, error)
	// Snapshot returns every user with at least one rule.
	Snapshot(ctx context.Context) ([]models.UserAlertSet, error)
	Close() error
}

// PriceSource returns the latest price per symbol. Symbols it cannot price are
// missing from the result rather than failing the call.
type PriceSource interface {
	Fetch(ctx context.Context, symbols []string, currency string) (map[string]decimal.Decimal, error)
}

// Notifier delivers a text message to a recipient.
type Notifier interface {
	Send(ctx context.Context, recipient, text string) error
}

// EventPublisher fans fired crossing events out to other systems.
type EventPublisher interface {
	Publish(ctx context.Context, ev models.CrossingEvent) error
	Close() error
}

// PriceHistory keeps observed samples for later inspection.
type PriceHistory interface {
	StoreBatch(ctx context.Context, samples []models.PriceSample) error
	Query(ctx context.Context, symbol string, from, to time.Time, limit int) ([]models.PriceSample, error)
	Close() error
}

type Metrics interface {
	RecordTick(result string)
	RecordEvent(direction string)
	RecordNotification(channel, result string)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
}
