package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"CryptoAlert/internal/domain/models"
	"CryptoAlert/internal/domain/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

// runAlertStoreContract exercises the behaviour every AlertStore must share.
func runAlertStoreContract(t *testing.T, store repository.AlertStore) {
	ctx := context.Background()
	newUser := func() string { return "user-" + uuid.NewString() }

	t.Run("partial updates merge", func(t *testing.T) {
		user := newUser()
		_, err := store.Upsert(ctx, user, "BTC", dec("70000"), nil)
		require.NoError(t, err)
		r, err := store.Upsert(ctx, user, "btc", nil, dec("60000"))
		require.NoError(t, err)

		assert.Equal(t, "BTC", r.Symbol)
		assert.True(t, r.High.Equal(*dec("70000")))
		assert.True(t, r.Low.Equal(*dec("60000")))

		rules, err := store.List(ctx, user)
		require.NoError(t, err)
		require.Len(t, rules, 1)
		assert.True(t, rules[0].High.Equal(*dec("70000")))
		assert.True(t, rules[0].Low.Equal(*dec("60000")))
		assert.Equal(t, models.StateNeutral, rules[0].State)
	})

	t.Run("invalid rules are rejected", func(t *testing.T) {
		user := newUser()
		_, err := store.Upsert(ctx, user, "ETH", nil, nil)
		assert.ErrorIs(t, err, models.ErrInvalidRule)

		_, err = store.Upsert(ctx, user, "ETH", dec("100"), dec("100"))
		assert.ErrorIs(t, err, models.ErrInvalidRule)

		_, err = store.Upsert(ctx, user, "ETH", dec("100"), nil)
		require.NoError(t, err)
		_, err = store.Upsert(ctx, user, "ETH", nil, dec("150"))
		assert.ErrorIs(t, err, models.ErrInvalidRule)

		rules, err := store.List(ctx, user)
		require.NoError(t, err)
		require.Len(t, rules, 1)
		assert.Nil(t, rules[0].Low)
	})

	t.Run("remove is idempotent", func(t *testing.T) {
		user := newUser()
		_, err := store.Upsert(ctx, user, "DOGE", dec("1"), nil)
		require.NoError(t, err)

		ok, err := store.Remove(ctx, user, "DOGE")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.Remove(ctx, user, "DOGE")
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = store.Remove(ctx, newUser(), "DOGE")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("list keeps insertion order", func(t *testing.T) {
		user := newUser()
		for _, s := range []string{"SOL", "ADA", "XRP"} {
			_, err := store.Upsert(ctx, user, s, dec("10"), nil)
			require.NoError(t, err)
		}
		_, err := store.Upsert(ctx, user, "ADA", dec("11"), nil)
		require.NoError(t, err)

		rules, err := store.List(ctx, user)
		require.NoError(t, err)
		require.Len(t, rules, 3)
		assert.Equal(t, "SOL", rules[0].Symbol)
		assert.Equal(t, "ADA", rules[1].Symbol)
		assert.Equal(t, "XRP", rules[2].Symbol)
	})

	t.Run("concurrent upserts for one user keep every symbol", func(t *testing.T) {
		user := newUser()
		const n = 20
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := store.Upsert(ctx, user, fmt.Sprintf("C%02d", i), dec("100"), nil)
				errs <- err
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		rules, err := store.List(ctx, user)
		require.NoError(t, err)
		assert.Len(t, rules, n)
	})

	t.Run("update state is compare and swap", func(t *testing.T) {
		user := newUser()
		r, err := store.Upsert(ctx, user, "ETH", dec("3500"), nil)
		require.NoError(t, err)

		ok, err := store.UpdateState(ctx, user, "ETH", r, models.StateAbove)
		require.NoError(t, err)
		assert.True(t, ok)

		// r still carries NEUTRAL, so a second write from the same snapshot loses.
		ok, err = store.UpdateState(ctx, user, "ETH", r, models.StateAbove)
		require.NoError(t, err)
		assert.False(t, ok)

		rules, err := store.List(ctx, user)
		require.NoError(t, err)
		observed := rules[0]
		assert.Equal(t, models.StateAbove, observed.State)

		_, err = store.Upsert(ctx, user, "ETH", dec("3600"), nil)
		require.NoError(t, err)
		ok, err = store.UpdateState(ctx, user, "ETH", observed, models.StateNeutral)
		require.NoError(t, err)
		assert.False(t, ok, "threshold edit must invalidate the observed snapshot")

		_, err = store.Remove(ctx, user, "ETH")
		require.NoError(t, err)
		ok, err = store.UpdateState(ctx, user, "ETH", observed, models.StateNeutral)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("threshold edit keeps the crossing state", func(t *testing.T) {
		user := newUser()
		r, err := store.Upsert(ctx, user, "BTC", dec("70000"), nil)
		require.NoError(t, err)
		ok, err := store.UpdateState(ctx, user, "BTC", r, models.StateAbove)
		require.NoError(t, err)
		require.True(t, ok)

		edited, err := store.Upsert(ctx, user, "BTC", dec("72000"), nil)
		require.NoError(t, err)
		assert.Equal(t, models.StateAbove, edited.State)
		assert.Greater(t, edited.Revision, r.Revision)
	})

	t.Run("re-sending the same thresholds keeps the revision", func(t *testing.T) {
		user := newUser()
		r, err := store.Upsert(ctx, user, "LTC", dec("80.5"), nil)
		require.NoError(t, err)
		again, err := store.Upsert(ctx, user, "LTC", dec("80.5"), nil)
		require.NoError(t, err)
		assert.Equal(t, r.Revision, again.Revision)
	})

	t.Run("thresholds keep their declared places", func(t *testing.T) {
		user := newUser()
		_, err := store.Upsert(ctx, user, "ETH", dec("3500.50"), dec("3000.00"))
		require.NoError(t, err)

		rules, err := store.List(ctx, user)
		require.NoError(t, err)
		require.Len(t, rules, 1)
		assert.Equal(t, "3500.50", models.FormatThreshold(*rules[0].High))
		assert.Equal(t, "3000.00", models.FormatThreshold(*rules[0].Low))
	})

	t.Run("snapshot lists users with rules", func(t *testing.T) {
		user := newUser()
		_, err := store.Upsert(ctx, user, "BTC", dec("1"), nil)
		require.NoError(t, err)
		empty := newUser()
		_, err = store.Upsert(ctx, empty, "BTC", dec("1"), nil)
		require.NoError(t, err)
		_, err = store.Remove(ctx, empty, "BTC")
		require.NoError(t, err)

		sets, err := store.Snapshot(ctx)
		require.NoError(t, err)
		var found, foundEmpty bool
		for _, s := range sets {
			if s.UserID == user {
				found = true
				assert.Len(t, s.Rules, 1)
			}
			if s.UserID == empty {
				foundEmpty = true
			}
		}
		assert.True(t, found)
		assert.False(t, foundEmpty)
	})
}
