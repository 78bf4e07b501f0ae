package service

import (
	"context"
	"time"

	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/reward-settler/internal/models"
)

// LedgerStore is the slice of the reward transaction repository the
// settlement pipeline depends on.
type LedgerStore interface {
	Create(ctx context.Context, userID string, amount decimal.Decimal, txType models.TxType, status models.TxStatus) (*models.RewardTransaction, error)
	GetByID(ctx context.Context, id int64) (*models.RewardTransaction, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*models.RewardTransaction, error)
	ListPendingRewards(ctx context.Context) ([]models.PendingReward, error)
	ClaimForSettlement(ctx context.Context, ids []int64) (int64, error)
	ReleaseClaim(ctx context.Context, ids []int64) error
	MarkSubmitted(ctx context.Context, ids []int64, txHash string) error
	RecordInvalidAddress(ctx context.Context, ids []int64, maxAttempts int) error
	ListProcessingHashes(ctx context.Context) ([]string, error)
	MarkConfirmed(ctx context.Context, txHash string) (int64, error)
	MarkFailedAndRollback(ctx context.Context, txHash, reason string) (int64, error)
	SweepStaleClaims(ctx context.Context, olderThan time.Duration) (int64, error)
	UpdateStatus(ctx context.Context, id int64, status models.TxStatus, txHash, failReason *string) error
}

// WalletStore is the slice of the wallet profile repository the pipeline
// depends on.
type WalletStore interface {
	Create(ctx context.Context, userID string) (*models.WalletProfile, error)
	GetByUserID(ctx context.Context, userID string) (*models.WalletProfile, error)
	SetWalletAddress(ctx context.Context, userID, address string) error
	CreditVirtual(ctx context.Context, userID string, amount decimal.Decimal) error
	CreditBlockchain(ctx context.Context, userID string, amount decimal.Decimal) error
	DebitBlockchain(ctx context.Context, userID string, amount decimal.Decimal) error
	ApplySettlement(ctx context.Context, userID string, amount decimal.Decimal) error
	SyncBlockchainBalance(ctx context.Context, userID string, balance decimal.Decimal) error
}

// ChainBroker is what the pipeline needs from the chain client.
type ChainBroker interface {
	Ready() bool
	SubmitBatchMint(ctx context.Context, recipients []string, amounts []decimal.Decimal) (string, error)
	TransferOut(ctx context.Context, recipient string, amount decimal.Decimal) (string, error)
	BalanceOf(ctx context.Context, address string) (decimal.Decimal, error)
	Receipt(ctx context.Context, txHash string) (*ethtypes.Receipt, error)
}

// CycleLocker serializes settlement cycles across processes.
type CycleLocker interface {
	AcquireSettlementLock(ctx context.Context, token string, ttl time.Duration) error
	ReleaseSettlementLock(ctx context.Context, token string) error
}

// BalanceCache caches on-chain balance reads.
type BalanceCache interface {
	GetCachedBalance(ctx context.Context, address string) (decimal.Decimal, bool, error)
	SetCachedBalance(ctx context.Context, address string, balance decimal.Decimal, ttl time.Duration) error
	InvalidateCachedBalance(ctx context.Context, address string) error
}

// AuditSink receives settlement lifecycle events.
type AuditSink interface {
	Record(ctx context.Context, event *models.SettlementEvent) error
}
