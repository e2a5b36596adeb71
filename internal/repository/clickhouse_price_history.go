package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"CryptoAlert/internal/domain/models"
	"CryptoAlert/internal/domain/repository"

	"github.com/shopspring/decimal"
)

// ClickHouseSchema returns the DDL for the price history table.
func ClickHouseSchema(database string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.price_samples (
			symbol LowCardinality(String),
			currency LowCardinality(String),
			price Float64,
			observed_at DateTime64(3)
		) ENGINE = MergeTree ORDER BY (symbol, observed_at)`, database),
	}
}

// ClickHousePriceHistory implements PriceHistory for ClickHouse.
type ClickHousePriceHistory struct {
	db    *sql.DB
	table string
}

// NewClickHousePriceHistory creates ClickHouse history storage.
func NewClickHousePriceHistory(db *sql.DB, database string) *ClickHousePriceHistory {
	return &ClickHousePriceHistory{db: db, table: database + ".price_samples"}
}

var _ repository.PriceHistory = (*ClickHousePriceHistory)(nil)

func (s *ClickHousePriceHistory) StoreBatch(ctx context.Context, samples []models.PriceSample) error {
	if len(samples) == 0 {
		return nil
	}
	// One tick carries one row per distinct symbol, so a single multi-row insert is enough.
	values := make([]string, 0, len(samples))
	args := make([]interface{}, 0, len(samples)*4)
	for _, p := range samples {
		if p.Symbol == "" || p.ObservedAt.IsZero() {
			continue
		}
		values = append(values, "(?, ?, ?, ?)")
		args = append(args, p.Symbol, p.Currency, p.Price.InexactFloat64(), p.ObservedAt)
	}
	if len(values) == 0 {
		return nil
	}
	q := fmt.Sprintf("INSERT INTO %s (symbol, currency, price, observed_at) VALUES %s", s.table, strings.Join(values, ","))
	_, err := s.db.ExecContext(ctx, q, args...)
	return err
}

func (s *ClickHousePriceHistory) Query(ctx context.Context, symbol string, from, to time.Time, limit int) ([]models.PriceSample, error) {
	q := fmt.Sprintf("SELECT symbol, currency, price, observed_at FROM %s WHERE symbol = ? AND observed_at >= ? AND observed_at <= ? ORDER BY observed_at DESC LIMIT ?", s.table)
	rows, err := s.db.QueryContext(ctx, q, symbol, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.PriceSample{}
	for rows.Next() {
		var (
			p     models.PriceSample
			price float64
		)
		if err := rows.Scan(&p.Symbol, &p.Currency, &price, &p.ObservedAt); err != nil {
			return nil, err
		}
		p.Price = decimal.NewFromFloat(price)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *ClickHousePriceHistory) Close() error {
	return nil // Managed by pkg
}
