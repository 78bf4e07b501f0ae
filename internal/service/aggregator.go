// Package service implements the settlement pipeline: aggregation of
// pending rewards, batch submission, reconciliation, and the user-facing
// reward and withdrawal operations.
package service

import (
	"github.com/reward-settler/internal/chain"
	"github.com/reward-settler/internal/models"
)

// BuildBatch groups pending reward rows by checksummed wallet address and
// sums their amounts. Entry order is the first-seen order of each wallet
// over the input, so callers feeding rows oldest-first get deterministic
// batches. Rows whose address fails checksum validation land in Skipped
// and contribute nothing to any entry.
func BuildBatch(pending []models.PendingReward) *models.Batch {
	batch := &models.Batch{}
	index := make(map[string]int)

	for _, row := range pending {
		checksummed, err := chain.ChecksumAddress(row.WalletAddress)
		if err != nil {
			batch.Skipped = append(batch.Skipped, row)
			continue
		}

		i, seen := index[checksummed]
		if !seen {
			index[checksummed] = len(batch.Entries)
			batch.Entries = append(batch.Entries, models.BatchEntry{
				WalletAddress:        checksummed,
				TotalAmount:          row.Amount,
				SourceTransactionIDs: []int64{row.ID},
			})
			continue
		}

		entry := &batch.Entries[i]
		entry.TotalAmount = entry.TotalAmount.Add(row.Amount)
		entry.SourceTransactionIDs = append(entry.SourceTransactionIDs, row.ID)
	}

	return batch
}
