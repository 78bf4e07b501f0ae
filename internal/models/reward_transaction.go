package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TxType distinguishes batch-settled reward accruals, direct mints that
// bypass the batch pipeline, and withdrawals. The distinction matters to
// the rollback: each type moved balances differently at submission time.
type TxType string

const (
	TxTypeReward   TxType = "REWARD"
	TxTypeMint     TxType = "MINT"
	TxTypeWithdraw TxType = "WITHDRAW"
)

// TxStatus is the ledger-side lifecycle of a transaction.
//
// PENDING -> PROCESSING -> SUCCESS | FAILED. A row never returns to PENDING
// once a broadcast succeeded; the only PROCESSING -> PENDING path is the
// stale-claim sweep for rows that were claimed but never got a hash.
type TxStatus string

const (
	TxStatusPending    TxStatus = "PENDING"
	TxStatusProcessing TxStatus = "PROCESSING"
	TxStatusSuccess    TxStatus = "SUCCESS"
	TxStatusFailed     TxStatus = "FAILED"
)

// RewardTransaction is a single ledger entry. IDs are assigned by insertion
// order, which the aggregator relies on for deterministic batch ordering.
type RewardTransaction struct {
	ID          int64           `json:"id"`
	UserID      string          `json:"userId"`
	Amount      decimal.Decimal `json:"amount"`
	TxType      TxType          `json:"txType"`
	Status      TxStatus        `json:"status"`
	TxHash      *string         `json:"txHash,omitempty"`
	Attempts    int             `json:"attempts"`
	FailReason  *string         `json:"failReason,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	ProcessedAt *time.Time      `json:"processedAt,omitempty"`
}

// PendingReward is a PENDING reward row joined with its owner's wallet
// address, as selected by the ledger store for batching. The join is eager
// so the aggregator never performs per-row profile lookups.
type PendingReward struct {
	ID            int64
	UserID        string
	Amount        decimal.Decimal
	WalletAddress string
	Attempts      int
}
