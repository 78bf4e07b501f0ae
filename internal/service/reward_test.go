package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/reward-settler/internal/errors"
	"github.com/reward-settler/internal/models"
)

func (fx *orchestratorFixture) rewardService() *RewardService {
	return NewRewardService(fx.cfg, fx.ledger, fx.wallets, fx.chain, fx.cache, testLogger())
}

func TestGrantReward(t *testing.T) {
	t.Run("explicit amount", func(t *testing.T) {
		fx := newOrchestratorFixture()

		tx, err := fx.rewardService().GrantReward(context.Background(), "alice", decimal.RequireFromString("2"))
		require.NoError(t, err)

		assert.Equal(t, models.TxTypeReward, tx.TxType)
		assert.Equal(t, models.TxStatusPending, tx.Status)
		assert.True(t, tx.Amount.Equal(decimal.RequireFromString("2")))

		profile, err := fx.wallets.GetByUserID(context.Background(), "alice")
		require.NoError(t, err)
		assert.True(t, profile.VirtualBalance.Equal(decimal.RequireFromString("2")))
	})

	t.Run("zero amount grants per-feedback default", func(t *testing.T) {
		fx := newOrchestratorFixture()

		tx, err := fx.rewardService().GrantReward(context.Background(), "alice", decimal.Zero)
		require.NoError(t, err)
		assert.True(t, tx.Amount.Equal(decimal.RequireFromString("0.5")))
	})

	t.Run("negative amount rejected", func(t *testing.T) {
		fx := newOrchestratorFixture()

		_, err := fx.rewardService().GrantReward(context.Background(), "alice", decimal.RequireFromString("-1"))
		assert.True(t, apperrors.IsCode(err, "INVALID_PARAMETER"))
	})

	t.Run("empty user rejected", func(t *testing.T) {
		fx := newOrchestratorFixture()

		_, err := fx.rewardService().GrantReward(context.Background(), "", decimal.Zero)
		assert.True(t, apperrors.IsCode(err, "INVALID_PARAMETER"))
	})

	t.Run("repeat grants accumulate", func(t *testing.T) {
		fx := newOrchestratorFixture()
		svc := fx.rewardService()

		for i := 0; i < 3; i++ {
			_, err := svc.GrantReward(context.Background(), "alice", decimal.Zero)
			require.NoError(t, err)
		}

		profile, err := fx.wallets.GetByUserID(context.Background(), "alice")
		require.NoError(t, err)
		assert.True(t, profile.VirtualBalance.Equal(decimal.RequireFromString("1.5")))
	})
}

func TestBindWallet(t *testing.T) {
	t.Run("checksums the stored address", func(t *testing.T) {
		fx := newOrchestratorFixture()

		got, err := fx.rewardService().BindWallet(context.Background(),
			"alice", "0x8ba1f109551bd432803012645ac136ddd64dba72")
		require.NoError(t, err)
		assert.Equal(t, walletA, got)

		profile, err := fx.wallets.GetByUserID(context.Background(), "alice")
		require.NoError(t, err)
		require.NotNil(t, profile.WalletAddress)
		assert.Equal(t, walletA, *profile.WalletAddress)
	})

	t.Run("rejects malformed address", func(t *testing.T) {
		fx := newOrchestratorFixture()

		_, err := fx.rewardService().BindWallet(context.Background(), "alice", "0x123")
		assert.True(t, apperrors.IsCode(err, "INVALID_ADDRESS"))
	})
}

func TestGetTransaction(t *testing.T) {
	t.Run("returns an owned row", func(t *testing.T) {
		fx := newOrchestratorFixture()
		svc := fx.rewardService()

		created, err := svc.GrantReward(context.Background(), "alice", decimal.RequireFromString("2"))
		require.NoError(t, err)

		got, err := svc.GetTransaction(context.Background(), "alice", created.ID)
		require.NoError(t, err)
		assert.Equal(t, created.ID, got.ID)
		assert.True(t, got.Amount.Equal(decimal.RequireFromString("2")))
	})

	t.Run("another user's row reads as not found", func(t *testing.T) {
		fx := newOrchestratorFixture()
		svc := fx.rewardService()

		created, err := svc.GrantReward(context.Background(), "alice", decimal.RequireFromString("2"))
		require.NoError(t, err)

		_, err = svc.GetTransaction(context.Background(), "bob", created.ID)
		assert.True(t, apperrors.IsCode(err, "NOT_FOUND"))
	})

	t.Run("missing row", func(t *testing.T) {
		fx := newOrchestratorFixture()

		_, err := fx.rewardService().GetTransaction(context.Background(), "alice", 99)
		assert.True(t, apperrors.IsCode(err, "NOT_FOUND"))
	})
}

func TestGetBalance(t *testing.T) {
	t.Run("unknown user", func(t *testing.T) {
		fx := newOrchestratorFixture()

		_, err := fx.rewardService().GetBalance(context.Background(), "nobody")
		assert.True(t, apperrors.IsCode(err, "NOT_FOUND"))
	})

	t.Run("no wallet bound returns ledger view only", func(t *testing.T) {
		fx := newOrchestratorFixture()
		fx.wallets.addProfile("alice", "", "2.5", "0")

		result, err := fx.rewardService().GetBalance(context.Background(), "alice")
		require.NoError(t, err)

		assert.True(t, result.VirtualBalance.Equal(decimal.RequireFromString("2.5")))
		assert.Nil(t, result.OnChainBalance)
		assert.False(t, result.Synced)
	})

	t.Run("live read populates cache and syncs mirror", func(t *testing.T) {
		fx := newOrchestratorFixture()
		fx.wallets.addProfile("alice", walletA, "0", "3")
		fx.chain.balances[walletA] = decimal.RequireFromString("4")

		result, err := fx.rewardService().GetBalance(context.Background(), "alice")
		require.NoError(t, err)

		require.NotNil(t, result.OnChainBalance)
		assert.True(t, result.OnChainBalance.Equal(decimal.RequireFromString("4")))
		assert.True(t, result.Synced)
		assert.True(t, result.BlockchainBalance.Equal(decimal.RequireFromString("4")), "mirror refreshed from chain")

		cached, hit, err := fx.cache.GetCachedBalance(context.Background(), walletA)
		require.NoError(t, err)
		assert.True(t, hit)
		assert.True(t, cached.Equal(decimal.RequireFromString("4")))
	})

	t.Run("cache hit skips the chain", func(t *testing.T) {
		fx := newOrchestratorFixture()
		fx.wallets.addProfile("alice", walletA, "0", "4")
		_ = fx.cache.SetCachedBalance(context.Background(), walletA, decimal.RequireFromString("4"), 0)
		fx.chain.balanceErr = assert.AnError // chain must not be consulted

		result, err := fx.rewardService().GetBalance(context.Background(), "alice")
		require.NoError(t, err)

		require.NotNil(t, result.OnChainBalance)
		assert.True(t, result.OnChainBalance.Equal(decimal.RequireFromString("4")))
		assert.True(t, result.Synced)
	})

	t.Run("chain failure degrades to ledger view", func(t *testing.T) {
		fx := newOrchestratorFixture()
		fx.wallets.addProfile("alice", walletA, "1", "3")
		fx.chain.balanceErr = assert.AnError

		result, err := fx.rewardService().GetBalance(context.Background(), "alice")
		require.NoError(t, err)

		assert.Nil(t, result.OnChainBalance, "failed read must not masquerade as a balance")
		assert.False(t, result.Synced)
		assert.True(t, result.BlockchainBalance.Equal(decimal.RequireFromString("3")))
	})
}

func TestMintTo(t *testing.T) {
	t.Run("requires a bound wallet", func(t *testing.T) {
		fx := newOrchestratorFixture()
		fx.wallets.addProfile("alice", "", "0", "0")

		_, err := fx.rewardService().MintTo(context.Background(), "alice", decimal.RequireFromString("5"))
		assert.True(t, apperrors.IsCode(err, "WALLET_NOT_SET"))
	})

	t.Run("submits single-recipient mint", func(t *testing.T) {
		fx := newOrchestratorFixture()
		fx.wallets.addProfile("alice", walletA, "0", "0")

		tx, err := fx.rewardService().MintTo(context.Background(), "alice", decimal.RequireFromString("5"))
		require.NoError(t, err)

		assert.Equal(t, models.TxTypeMint, tx.TxType)
		assert.Equal(t, models.TxStatusProcessing, tx.Status)
		require.NotNil(t, tx.TxHash)
		assert.Equal(t, []string{walletA}, fx.chain.submittedRecipients)

		// only the mirrored balance moves; no virtual balance was spent
		profile, err := fx.wallets.GetByUserID(context.Background(), "alice")
		require.NoError(t, err)
		assert.True(t, profile.VirtualBalance.IsZero())
		assert.True(t, profile.BlockchainBalance.Equal(decimal.RequireFromString("5")))
	})

	t.Run("non-positive amount rejected", func(t *testing.T) {
		fx := newOrchestratorFixture()
		_, err := fx.rewardService().MintTo(context.Background(), "alice", decimal.Zero)
		assert.True(t, apperrors.IsCode(err, "INVALID_PARAMETER"))
	})
}
