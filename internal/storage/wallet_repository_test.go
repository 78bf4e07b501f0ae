package storage

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWallet = "0x8ba1f109551bD432803012645Ac136ddd64DBA72"

func TestApplySettlement(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewWalletRepository(pool)
	ctx := context.Background()

	t.Run("moves virtual to blockchain for the user", func(t *testing.T) {
		seedProfile(t, pool, "settle-user", testWallet, "4", "1")

		require.NoError(t, repo.ApplySettlement(ctx, "settle-user", decimal.RequireFromString("2.5")))

		requireBalances(t, pool, "settle-user", "1.5", "3.5")
	})

	t.Run("touches only the named user when profiles share an address", func(t *testing.T) {
		seedProfile(t, pool, "shared-u1", testWallet, "1", "0")
		seedProfile(t, pool, "shared-u2", testWallet, "2", "0")

		require.NoError(t, repo.ApplySettlement(ctx, "shared-u2", decimal.RequireFromString("2")))

		requireBalances(t, pool, "shared-u1", "1", "0")
		requireBalances(t, pool, "shared-u2", "0", "2")
	})

	t.Run("unknown user", func(t *testing.T) {
		err := repo.ApplySettlement(ctx, "nobody", decimal.NewFromInt(1))
		assert.ErrorIs(t, err, ErrProfileNotFound)
	})
}

func TestDebitBlockchain(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewWalletRepository(pool)
	ctx := context.Background()

	seedProfile(t, pool, "debit-user", testWallet, "0", "3")

	t.Run("debit within balance", func(t *testing.T) {
		require.NoError(t, repo.DebitBlockchain(ctx, "debit-user", decimal.NewFromInt(2)))
		requireBalances(t, pool, "debit-user", "0", "1")
	})

	t.Run("debit past balance is refused", func(t *testing.T) {
		err := repo.DebitBlockchain(ctx, "debit-user", decimal.NewFromInt(5))
		assert.ErrorIs(t, err, ErrInsufficientBalance)
		requireBalances(t, pool, "debit-user", "0", "1")
	})

	t.Run("unknown user", func(t *testing.T) {
		err := repo.DebitBlockchain(ctx, "nobody", decimal.NewFromInt(1))
		assert.ErrorIs(t, err, ErrProfileNotFound)
	})
}
