package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"CryptoAlert/internal/domain/models"
	"CryptoAlert/internal/domain/repository"
	pkgpg "CryptoAlert/pkg/postgres"
	"CryptoAlert/pkg/util"

	"github.com/shopspring/decimal"
)

// PostgresSchema creates the tables used by PostgresAlertStore.
var PostgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS alert_users (
		user_id    TEXT PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS alert_rules (
		user_id    TEXT NOT NULL REFERENCES alert_users (user_id) ON DELETE CASCADE,
		symbol     TEXT NOT NULL,
		high       NUMERIC,
		low        NUMERIC,
		state      TEXT NOT NULL DEFAULT 'NEUTRAL',
		revision   BIGINT NOT NULL DEFAULT 1,
		position   BIGSERIAL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (user_id, symbol)
	)`,
}

const ruleColumns = "symbol, high, low, state, revision, created_at, updated_at"

// PostgresAlertStore serializes a user's mutations by locking that user's row
// in alert_users for the duration of the transaction.
type PostgresAlertStore struct {
	client *pkgpg.Client
	now    func() time.Time
}

// NewPostgresAlertStore wraps an initialized client.
func NewPostgresAlertStore(client *pkgpg.Client) *PostgresAlertStore {
	return &PostgresAlertStore{client: client, now: time.Now}
}

var _ repository.AlertStore = (*PostgresAlertStore)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

// scanRule reads ruleColumns. Destinations for columns selected ahead of them
// go in prefix.
func scanRule(row rowScanner, prefix ...any) (models.AlertRule, error) {
	var (
		r         models.AlertRule
		high, low decimal.NullDecimal
		state     string
	)
	dest := append(prefix, &r.Symbol, &high, &low, &state, &r.Revision, &r.CreatedAt, &r.UpdatedAt)
	if err := row.Scan(dest...); err != nil {
		return models.AlertRule{}, err
	}
	if high.Valid {
		r.High = &high.Decimal
	}
	if low.Valid {
		r.Low = &low.Decimal
	}
	r.State = models.State(state)
	return r, nil
}

// nullDecimal passes the threshold as text so NUMERIC keeps its scale;
// decimal's own driver value trims trailing zeros.
func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: models.FormatThreshold(*d), Valid: true}
}

// lockUser takes the per-user row lock, creating the row when create is set.
// It reports false when the user does not exist.
func lockUser(ctx context.Context, tx *sql.Tx, userID string, create bool) (bool, error) {
	if create {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO alert_users (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
			return false, fmt.Errorf("insert user: %w", err)
		}
	}
	var id string
	err := tx.QueryRowContext(ctx, `SELECT user_id FROM alert_users WHERE user_id = $1 FOR UPDATE`, userID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lock user: %w", err)
	}
	return true, nil
}

func getRule(ctx context.Context, tx *sql.Tx, userID, symbol string) (models.AlertRule, bool, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM alert_rules WHERE user_id = $1 AND symbol = $2`, userID, symbol)
	r, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.AlertRule{}, false, nil
	}
	if err != nil {
		return models.AlertRule{}, false, err
	}
	return r, true, nil
}

func (s *PostgresAlertStore) Upsert(ctx context.Context, userID, symbol string, high, low *decimal.Decimal) (models.AlertRule, error) {
	symbol = util.NormalizeSymbol(symbol)
	var out models.AlertRule
	err := s.client.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := lockUser(ctx, tx, userID, true); err != nil {
			return err
		}
		now := s.now().UTC()
		cur, found, err := getRule(ctx, tx, userID, symbol)
		if err != nil {
			return err
		}
		if !found {
			r, err := models.NewAlertRule(symbol, high, low, now)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO alert_rules (user_id, symbol, high, low, state, revision, created_at, updated_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				userID, r.Symbol, nullDecimal(r.High), nullDecimal(r.Low), string(r.State), r.Revision, r.CreatedAt, r.UpdatedAt)
			if err != nil {
				return fmt.Errorf("insert rule: %w", err)
			}
			out = r
			return nil
		}

		next, err := cur.Merge(high, low, now)
		if err != nil {
			return err
		}
		out = next
		if next.Revision == cur.Revision {
			return nil
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE alert_rules SET high = $3, low = $4, revision = $5, updated_at = $6
			 WHERE user_id = $1 AND symbol = $2`,
			userID, symbol, nullDecimal(next.High), nullDecimal(next.Low), next.Revision, next.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update rule: %w", err)
		}
		return nil
	})
	return out, err
}

func (s *PostgresAlertStore) Remove(ctx context.Context, userID, symbol string) (bool, error) {
	symbol = util.NormalizeSymbol(symbol)
	var removed bool
	err := s.client.InTx(ctx, func(tx *sql.Tx) error {
		ok, err := lockUser(ctx, tx, userID, false)
		if err != nil || !ok {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM alert_rules WHERE user_id = $1 AND symbol = $2`, userID, symbol)
		if err != nil {
			return fmt.Errorf("delete rule: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		removed = n > 0
		return nil
	})
	return removed, err
}

func (s *PostgresAlertStore) List(ctx context.Context, userID string) ([]models.AlertRule, error) {
	rows, err := s.client.DB().QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM alert_rules WHERE user_id = $1 ORDER BY position`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.AlertRule{}
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresAlertStore) UpdateState(ctx context.Context, userID, symbol string, observed models.AlertRule, state models.State) (bool, error) {
	symbol = util.NormalizeSymbol(symbol)
	var swapped bool
	err := s.client.InTx(ctx, func(tx *sql.Tx) error {
		ok, err := lockUser(ctx, tx, userID, false)
		if err != nil || !ok {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE alert_rules SET state = $5
			 WHERE user_id = $1 AND symbol = $2 AND revision = $3 AND state = $4`,
			userID, symbol, observed.Revision, string(observed.State), string(state))
		if err != nil {
			return fmt.Errorf("update state: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		swapped = n == 1
		return nil
	})
	return swapped, err
}

func (s *PostgresAlertStore) Snapshot(ctx context.Context) ([]models.UserAlertSet, error) {
	rows, err := s.client.DB().QueryContext(ctx,
		`SELECT user_id, `+ruleColumns+` FROM alert_rules ORDER BY user_id, position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.UserAlertSet
	for rows.Next() {
		var userID string
		r, err := scanRule(rows, &userID)
		if err != nil {
			return nil, err
		}

		if n := len(out); n == 0 || out[n-1].UserID != userID {
			out = append(out, models.UserAlertSet{UserID: userID})
		}
		last := &out[len(out)-1]
		last.Rules = append(last.Rules, r)
	}
	return out, rows.Err()
}

// Close is a no-op: the pool is closed by its owner.
func (s *PostgresAlertStore) Close() error { return nil }
