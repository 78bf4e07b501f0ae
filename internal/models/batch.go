package models

import (
	"github.com/shopspring/decimal"
)

// BatchEntry is one recipient of a batch mint: a checksummed wallet address,
// the decimal sum of all contributing reward rows, and their ids. Entries
// exist only for the duration of one settlement cycle and are never
// persisted.
type BatchEntry struct {
	WalletAddress        string          `json:"walletAddress"`
	TotalAmount          decimal.Decimal `json:"totalAmount"`
	SourceTransactionIDs []int64         `json:"sourceTransactionIds"`
}

// Batch is the ordered output of one aggregation pass. Order is first-seen
// wallet order over the eligible rows.
type Batch struct {
	Entries []BatchEntry
	// Skipped holds rows excluded because their wallet address failed
	// validation; they stay PENDING and their attempt counter is bumped.
	Skipped []PendingReward
}

// IsEmpty reports whether there is nothing to settle. An empty batch is a
// legitimate no-op outcome, not an error.
func (b *Batch) IsEmpty() bool {
	return len(b.Entries) == 0
}

// TransactionIDs returns the ids of every row contributing to the batch.
func (b *Batch) TransactionIDs() []int64 {
	var ids []int64
	for _, e := range b.Entries {
		ids = append(ids, e.SourceTransactionIDs...)
	}
	return ids
}

// Total returns the decimal sum over all entries.
func (b *Batch) Total() decimal.Decimal {
	total := decimal.Zero
	for _, e := range b.Entries {
		total = total.Add(e.TotalAmount)
	}
	return total
}
