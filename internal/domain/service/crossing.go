package service

import (
	"CryptoAlert/internal/domain/models"

	"github.com/shopspring/decimal"
)

// Detect runs the hysteresis state machine for one rule and one observed price.
// It returns the state the rule should move to and, when the price has just
// entered a breached side, the crossing event to deliver. A returned state equal
// to rule.State with a nil event means nothing changed.
//
// The price is rounded to each threshold's precision before comparing, and a
// price equal to a threshold counts as a breach.
func Detect(userID string, rule models.AlertRule, price decimal.Decimal) (models.State, *models.CrossingEvent) {
	if rule.High != nil && rule.State != models.StateAbove && atOrAbove(price, *rule.High) {
		return models.StateAbove, crossing(userID, rule, models.DirectionHigh, price, *rule.High)
	}
	if rule.Low != nil && rule.State != models.StateBelow && atOrBelow(price, *rule.Low) {
		return models.StateBelow, crossing(userID, rule, models.DirectionLow, price, *rule.Low)
	}
	if inBand(rule, price) {
		return models.StateNeutral, nil
	}
	return rule.State, nil
}

// inBand reports whether price sits on the safe side of every configured threshold.
func inBand(rule models.AlertRule, price decimal.Decimal) bool {
	if rule.High != nil && atOrAbove(price, *rule.High) {
		return false
	}
	if rule.Low != nil && atOrBelow(price, *rule.Low) {
		return false
	}
	return true
}

func atOrAbove(price, threshold decimal.Decimal) bool {
	return atPrecision(price, threshold).GreaterThanOrEqual(threshold)
}

func atOrBelow(price, threshold decimal.Decimal) bool {
	return atPrecision(price, threshold).LessThanOrEqual(threshold)
}

// atPrecision rounds price to the number of decimal places the threshold declares.
func atPrecision(price, threshold decimal.Decimal) decimal.Decimal {
	places := -threshold.Exponent()
	if places < 0 {
		places = 0
	}
	return price.Round(places)
}

func crossing(userID string, rule models.AlertRule, dir models.Direction, price, threshold decimal.Decimal) *models.CrossingEvent {
	return &models.CrossingEvent{
		UserID:    userID,
		Symbol:    rule.Symbol,
		Direction: dir,
		Price:     price,
		Threshold: threshold,
	}
}
