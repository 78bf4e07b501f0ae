package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SettlementEventType classifies audit log entries
type SettlementEventType string

const (
	EventBatchSubmitted SettlementEventType = "batch_submitted"
	EventBatchConfirmed SettlementEventType = "batch_confirmed"
	EventBatchFailed    SettlementEventType = "batch_failed"
	EventWithdrawal     SettlementEventType = "withdrawal"
)

// SettlementEvent is one append-only audit record written to ClickHouse per
// settlement-affecting action. CycleID ties all events of one cycle together
// and doubles as the cycle's idempotency key.
type SettlementEvent struct {
	CycleID       string              `ch:"cycle_id"`
	EventType     SettlementEventType `ch:"event_type"`
	TxHash        string              `ch:"tx_hash"`
	WalletAddress string              `ch:"wallet_address"`
	Amount        decimal.Decimal     `ch:"amount"`
	Recipients    uint32              `ch:"recipients"`
	Detail        string              `ch:"detail"`
	CreatedAt     time.Time           `ch:"created_at"`
}
