package service

import (
	"context"
	"testing"

	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reward-settler/internal/models"
)

func submittedRow(fx *orchestratorFixture, userID, wallet, amount, hash string) int64 {
	id := fx.ledger.addPending(userID, wallet, amount)
	_, _ = fx.ledger.ClaimForSettlement(context.Background(), []int64{id})
	_ = fx.ledger.MarkSubmitted(context.Background(), []int64{id}, hash)
	return id
}

func (fx *orchestratorFixture) reconciler() *Reconciler {
	return NewReconciler(fx.cfg, fx.ledger, fx.chain, fx.audit, testLogger())
}

func TestReconcilerConfirmsMinedBatch(t *testing.T) {
	fx := newOrchestratorFixture()
	hash := "0xaaa1000000000000000000000000000000000000000000000000000000000001"
	id := submittedRow(fx, "alice", walletA, "1.5", hash)
	fx.chain.receipts[hash] = &ethtypes.Receipt{Status: ethtypes.ReceiptStatusSuccessful}

	result, err := fx.reconciler().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Confirmed)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, models.TxStatusSuccess, fx.ledger.status(id))

	require.Len(t, fx.audit.events, 1)
	assert.Equal(t, models.EventBatchConfirmed, fx.audit.events[0].EventType)
}

func TestReconcilerRollsBackRevertedBatch(t *testing.T) {
	fx := newOrchestratorFixture()
	hash := "0xbbb1000000000000000000000000000000000000000000000000000000000002"
	id := submittedRow(fx, "alice", walletA, "1.5", hash)
	fx.chain.receipts[hash] = &ethtypes.Receipt{Status: ethtypes.ReceiptStatusFailed}

	result, err := fx.reconciler().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Failed)

	row, err := fx.ledger.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.TxStatusFailed, row.Status)
	require.NotNil(t, row.FailReason)

	require.Len(t, fx.audit.events, 1)
	assert.Equal(t, models.EventBatchFailed, fx.audit.events[0].EventType)
}

func TestReconcilerRevertedBatchRestoresPerUserBalances(t *testing.T) {
	fx := newOrchestratorFixture()
	hash := "0xbbb2000000000000000000000000000000000000000000000000000000000007"

	// Two users share one wallet address. Settlement already moved each
	// user's amount virtual -> blockchain; the revert must put each amount
	// back on the profile it came from.
	fx.wallets.addProfile("carol", walletA, "0", "1")
	fx.wallets.addProfile("dave", walletA, "0", "2")
	submittedRow(fx, "carol", walletA, "1", hash)
	submittedRow(fx, "dave", walletA, "2", hash)
	fx.chain.receipts[hash] = &ethtypes.Receipt{Status: ethtypes.ReceiptStatusFailed}

	result, err := fx.reconciler().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	carol, _ := fx.wallets.GetByUserID(context.Background(), "carol")
	assert.True(t, carol.VirtualBalance.Equal(decimal.RequireFromString("1")))
	assert.True(t, carol.BlockchainBalance.IsZero())

	dave, _ := fx.wallets.GetByUserID(context.Background(), "dave")
	assert.True(t, dave.VirtualBalance.Equal(decimal.RequireFromString("2")))
	assert.True(t, dave.BlockchainBalance.IsZero())
}

func TestReconcilerRevertedMintDebitsBlockchainOnly(t *testing.T) {
	fx := newOrchestratorFixture()
	hash := "0xbbb3000000000000000000000000000000000000000000000000000000000008"

	// A direct mint only credited the mirrored balance at submission, so
	// the revert must not touch the virtual balance.
	fx.wallets.addProfile("erin", walletA, "0", "5")
	tx, err := fx.ledger.Create(context.Background(), "erin",
		decimal.RequireFromString("5"), models.TxTypeMint, models.TxStatusProcessing)
	require.NoError(t, err)
	require.NoError(t, fx.ledger.UpdateStatus(context.Background(), tx.ID, models.TxStatusProcessing, &hash, nil))
	fx.chain.receipts[hash] = &ethtypes.Receipt{Status: ethtypes.ReceiptStatusFailed}

	result, err := fx.reconciler().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, models.TxStatusFailed, fx.ledger.status(tx.ID))

	erin, _ := fx.wallets.GetByUserID(context.Background(), "erin")
	assert.True(t, erin.VirtualBalance.IsZero())
	assert.True(t, erin.BlockchainBalance.IsZero())
}

func TestReconcilerLeavesUnminedAlone(t *testing.T) {
	fx := newOrchestratorFixture()
	hash := "0xccc1000000000000000000000000000000000000000000000000000000000003"
	id := submittedRow(fx, "alice", walletA, "1.5", hash)
	// no receipt scripted: transaction not mined yet

	result, err := fx.reconciler().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Pending)
	assert.Equal(t, models.TxStatusProcessing, fx.ledger.status(id))
	assert.Empty(t, fx.audit.events)
}

func TestReconcilerReceiptErrorRetriesLater(t *testing.T) {
	fx := newOrchestratorFixture()
	hash := "0xddd1000000000000000000000000000000000000000000000000000000000004"
	id := submittedRow(fx, "alice", walletA, "1.5", hash)
	fx.chain.receiptErr = assert.AnError

	result, err := fx.reconciler().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Pending)
	assert.Equal(t, models.TxStatusProcessing, fx.ledger.status(id))
}

func TestReconcilerHandlesMixedOutcomes(t *testing.T) {
	fx := newOrchestratorFixture()
	mined := "0xeee1000000000000000000000000000000000000000000000000000000000005"
	reverted := "0xfff1000000000000000000000000000000000000000000000000000000000006"
	minedID := submittedRow(fx, "alice", walletA, "1.5", mined)
	revertedID := submittedRow(fx, "bob", walletB, "3", reverted)
	fx.chain.receipts[mined] = &ethtypes.Receipt{Status: ethtypes.ReceiptStatusSuccessful}
	fx.chain.receipts[reverted] = &ethtypes.Receipt{Status: ethtypes.ReceiptStatusFailed}

	result, err := fx.reconciler().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Confirmed)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, models.TxStatusSuccess, fx.ledger.status(minedID))
	assert.Equal(t, models.TxStatusFailed, fx.ledger.status(revertedID))
}
