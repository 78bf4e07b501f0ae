package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/reward-settler/internal/config"
	apperrors "github.com/reward-settler/internal/errors"
	"github.com/reward-settler/internal/logging"
	"github.com/reward-settler/internal/models"
	"github.com/reward-settler/internal/storage"
)

// CycleResult summarizes one settlement cycle. A cycle that found nothing
// to settle is a no-op, not an error: Submitted is false and TxHash empty.
type CycleResult struct {
	CycleID        string          `json:"cycleId"`
	Submitted      bool            `json:"submitted"`
	TxHash         string          `json:"txHash,omitempty"`
	Recipients     int             `json:"recipients"`
	Claimed        int64           `json:"claimed"`
	Total          decimal.Decimal `json:"total"`
	SkippedInvalid int             `json:"skippedInvalid"`
	Deferred       int             `json:"deferred"`
}

// Orchestrator drives settlement cycles: it locks out concurrent cycles,
// aggregates pending rewards into a batch, claims the rows, submits the
// batch mint, and applies the balance moves.
type Orchestrator struct {
	cfg     *config.SettlementConfig
	ledger  LedgerStore
	wallets WalletStore
	chain   ChainBroker
	locker  CycleLocker
	cache   BalanceCache
	audit   AuditSink
	logger  *logging.Logger
}

// NewOrchestrator creates a settlement orchestrator
func NewOrchestrator(
	cfg *config.SettlementConfig,
	ledger LedgerStore,
	wallets WalletStore,
	chainClient ChainBroker,
	locker CycleLocker,
	cache BalanceCache,
	audit AuditSink,
	logger *logging.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		ledger:  ledger,
		wallets: wallets,
		chain:   chainClient,
		locker:  locker,
		cache:   cache,
		audit:   audit,
		logger:  logger.WithField("component", "settlement_orchestrator"),
	}
}

// RunCycle executes one settlement cycle end to end.
//
// Exactly one cycle runs at a time across all processes; a second caller
// gets a CYCLE_IN_FLIGHT error and should simply retry on its next tick.
// A submission failure releases the claimed rows back to PENDING so the
// next cycle picks them up again.
func (o *Orchestrator) RunCycle(ctx context.Context) (*CycleResult, error) {
	if !o.chain.Ready() {
		return nil, apperrors.NewContractUnavailableError()
	}

	cycleID := uuid.New().String()
	result := &CycleResult{CycleID: cycleID, Total: decimal.Zero}
	log := o.logger.WithField("cycle_id", cycleID)

	if err := o.locker.AcquireSettlementLock(ctx, cycleID, o.cfg.LockTTL); err != nil {
		if errors.Is(err, storage.ErrLockHeld) {
			return nil, apperrors.NewCycleInFlightError()
		}
		return nil, apperrors.NewDatabaseError("acquire settlement lock", err)
	}
	defer func() {
		if err := o.locker.ReleaseSettlementLock(context.WithoutCancel(ctx), cycleID); err != nil {
			log.WithError(err).Warn("Failed to release settlement lock")
		}
	}()

	pending, err := o.ledger.ListPendingRewards(ctx)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list pending rewards", err)
	}
	if len(pending) == 0 {
		log.Debug("No pending rewards to settle")
		return result, nil
	}

	batch := BuildBatch(pending)
	result.SkippedInvalid = len(batch.Skipped)

	if len(batch.Skipped) > 0 {
		skippedIDs := make([]int64, 0, len(batch.Skipped))
		for _, row := range batch.Skipped {
			skippedIDs = append(skippedIDs, row.ID)
		}
		log.WithFields(map[string]interface{}{
			"skipped":   len(skippedIDs),
			"max_tries": o.cfg.MaxAddressAttempts,
		}).Warn("Skipping rewards with invalid wallet addresses")

		if err := o.ledger.RecordInvalidAddress(ctx, skippedIDs, o.cfg.MaxAddressAttempts); err != nil {
			return nil, apperrors.NewDatabaseError("record invalid addresses", err)
		}
	}

	if batch.IsEmpty() {
		return result, nil
	}

	// Cap oversized batches; deferred entries stay PENDING for the next
	// cycle, keeping gas per transaction bounded.
	if o.cfg.MaxBatchSize > 0 && len(batch.Entries) > o.cfg.MaxBatchSize {
		result.Deferred = len(batch.Entries) - o.cfg.MaxBatchSize
		batch.Entries = batch.Entries[:o.cfg.MaxBatchSize]
		log.WithFields(map[string]interface{}{
			"cap":      o.cfg.MaxBatchSize,
			"deferred": result.Deferred,
		}).Info("Batch capped to size limit")
	}

	ids := batch.TransactionIDs()
	claimed, err := o.ledger.ClaimForSettlement(ctx, ids)
	if err != nil {
		return nil, apperrors.NewDatabaseError("claim rewards", err)
	}
	result.Claimed = claimed

	if claimed != int64(len(ids)) {
		// Some rows changed state under us. Give everything back and let
		// the next cycle rebuild from a clean snapshot.
		if releaseErr := o.ledger.ReleaseClaim(ctx, ids); releaseErr != nil {
			log.WithError(releaseErr).Error("Failed to release partial claim")
		}
		log.WithFields(map[string]interface{}{
			"wanted":  len(ids),
			"claimed": claimed,
		}).Warn("Partial claim, aborting cycle")
		return nil, apperrors.NewCycleInFlightError()
	}

	recipients := make([]string, len(batch.Entries))
	amounts := make([]decimal.Decimal, len(batch.Entries))
	for i, entry := range batch.Entries {
		recipients[i] = entry.WalletAddress
		amounts[i] = entry.TotalAmount
	}

	txHash, err := o.chain.SubmitBatchMint(ctx, recipients, amounts)
	if err != nil {
		log.WithError(err).Error("Batch mint submission failed, releasing claim")
		if releaseErr := o.ledger.ReleaseClaim(context.WithoutCancel(ctx), ids); releaseErr != nil {
			log.WithError(releaseErr).Error("Failed to release claim after submission failure")
		}
		return nil, err
	}

	if err := o.ledger.MarkSubmitted(ctx, ids, txHash); err != nil {
		// The mint is on the wire; losing the hash would orphan the rows,
		// so surface loudly instead of releasing.
		log.WithError(err).WithField("tx_hash", txHash).Error("Failed to stamp tx hash on claimed rows")
		return nil, apperrors.NewDatabaseError("mark rewards submitted", err)
	}

	// Balance moves are keyed per user, not per batch entry: several
	// profiles can carry the same wallet address, and the rollback
	// reverses per contributing user. Both directions must use the same
	// key or a revert lands credit on the wrong profile.
	rowsByID := make(map[int64]models.PendingReward, len(pending))
	for _, row := range pending {
		rowsByID[row.ID] = row
	}
	userTotals := make(map[string]decimal.Decimal)
	userOrder := make([]string, 0, len(batch.Entries))
	for _, id := range ids {
		row := rowsByID[id]
		if _, seen := userTotals[row.UserID]; !seen {
			userOrder = append(userOrder, row.UserID)
		}
		userTotals[row.UserID] = userTotals[row.UserID].Add(row.Amount)
	}
	for _, userID := range userOrder {
		if err := o.wallets.ApplySettlement(ctx, userID, userTotals[userID]); err != nil {
			if errors.Is(err, storage.ErrProfileNotFound) {
				log.WithField("user_id", userID).Warn("No profile for settled user, balances not moved")
				continue
			}
			return nil, apperrors.NewDatabaseError("apply settlement", err)
		}
	}
	for _, entry := range batch.Entries {
		if err := o.cache.InvalidateCachedBalance(ctx, entry.WalletAddress); err != nil {
			log.WithError(err).WithField("wallet", entry.WalletAddress).Warn("Failed to invalidate balance cache")
		}
	}

	result.Submitted = true
	result.TxHash = txHash
	result.Recipients = len(batch.Entries)
	result.Total = batch.Total()

	if err := o.audit.Record(ctx, &models.SettlementEvent{
		CycleID:    cycleID,
		EventType:  models.EventBatchSubmitted,
		TxHash:     txHash,
		Amount:     result.Total,
		Recipients: uint32(len(batch.Entries)), // #nosec G115 - bounded by MaxBatchSize
		Detail:     fmt.Sprintf("claimed=%d skipped=%d deferred=%d", claimed, result.SkippedInvalid, result.Deferred),
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		log.WithError(err).Warn("Failed to record settlement audit event")
	}

	log.WithFields(map[string]interface{}{
		"tx_hash":    txHash,
		"recipients": result.Recipients,
		"total":      result.Total.String(),
	}).Info("Settlement batch submitted")

	return result, nil
}
