package usecase

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"CryptoAlert/internal/domain/models"
	drepo "CryptoAlert/internal/domain/repository"
	applogger "CryptoAlert/pkg/logger"
	"CryptoAlert/pkg/util"

	"github.com/shopspring/decimal"
)

var symbolPattern = regexp.MustCompile(`^[A-Z0-9]{1,15}$`)

// AlertService is the command side of the alert store: it folds symbol case,
// checks thresholds and user ids, then maps 1:1 onto the store.
type AlertService struct {
	store  drepo.AlertStore
	logger *applogger.Logger
}

func NewAlertService(store drepo.AlertStore, l *applogger.Logger) *AlertService {
	if l == nil {
		l = applogger.Nop()
	}
	return &AlertService{store: store, logger: l}
}

// Add sets either or both thresholds of a rule, creating it when absent.
func (s *AlertService) Add(ctx context.Context, userID, symbol string, high, low *decimal.Decimal) (models.AlertRule, error) {
	userID, symbol, err := normalize(userID, symbol)
	if err != nil {
		return models.AlertRule{}, err
	}
	if err := positive("high", high); err != nil {
		return models.AlertRule{}, err
	}
	if err := positive("low", low); err != nil {
		return models.AlertRule{}, err
	}
	rule, err := s.store.Upsert(ctx, userID, symbol, high, low)
	if err != nil {
		return models.AlertRule{}, err
	}
	s.logger.Info("alert saved",
		applogger.String("user", userID),
		applogger.String("symbol", symbol),
		applogger.Uint64("revision", rule.Revision),
	)
	return rule, nil
}

// SetUpper changes only the high threshold.
func (s *AlertService) SetUpper(ctx context.Context, userID, symbol string, price decimal.Decimal) (models.AlertRule, error) {
	return s.Add(ctx, userID, symbol, &price, nil)
}

// SetLower changes only the low threshold.
func (s *AlertService) SetLower(ctx context.Context, userID, symbol string, price decimal.Decimal) (models.AlertRule, error) {
	return s.Add(ctx, userID, symbol, nil, &price)
}

// Remove deletes a rule. Removing an absent rule reports false, not an error.
func (s *AlertService) Remove(ctx context.Context, userID, symbol string) (bool, error) {
	userID, symbol, err := normalize(userID, symbol)
	if err != nil {
		return false, err
	}
	removed, err := s.store.Remove(ctx, userID, symbol)
	if err != nil {
		return false, err
	}
	if removed {
		s.logger.Info("alert removed", applogger.String("user", userID), applogger.String("symbol", symbol))
	}
	return removed, nil
}

// List returns the user's rules in insertion order.
func (s *AlertService) List(ctx context.Context, userID string) ([]models.AlertRule, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", models.ErrInvalidRule)
	}
	rules, err := s.store.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	if rules == nil {
		rules = []models.AlertRule{}
	}
	return rules, nil
}

func normalize(userID, symbol string) (string, string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", "", fmt.Errorf("%w: user id is required", models.ErrInvalidRule)
	}
	symbol = util.NormalizeSymbol(symbol)
	if !symbolPattern.MatchString(symbol) {
		return "", "", fmt.Errorf("%w: bad symbol %q", models.ErrInvalidRule, symbol)
	}
	return userID, symbol, nil
}

func positive(name string, d *decimal.Decimal) error {
	if d != nil && !d.IsPositive() {
		return fmt.Errorf("%w: %s must be positive, got %s", models.ErrInvalidRule, name, d)
	}
	return nil
}
