package service

import (
	"context"
	"time"

	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/reward-settler/internal/config"
	"github.com/reward-settler/internal/logging"
	"github.com/reward-settler/internal/models"
)

// ReconcileResult summarizes one reconciliation pass.
type ReconcileResult struct {
	Swept     int64 `json:"swept"`
	Confirmed int   `json:"confirmed"`
	Failed    int   `json:"failed"`
	Pending   int   `json:"pending"`
}

// Reconciler resolves submitted batches against chain receipts. Mined
// batches move their rows to SUCCESS; reverted batches move them to FAILED
// and reverse the balance moves applied at submission time. It also sweeps
// claims that were orphaned before getting a hash back to PENDING.
type Reconciler struct {
	cfg    *config.SettlementConfig
	ledger LedgerStore
	chain  ChainBroker
	audit  AuditSink
	logger *logging.Logger
}

// NewReconciler creates a reconciler
func NewReconciler(
	cfg *config.SettlementConfig,
	ledger LedgerStore,
	chainClient ChainBroker,
	audit AuditSink,
	logger *logging.Logger,
) *Reconciler {
	return &Reconciler{
		cfg:    cfg,
		ledger: ledger,
		chain:  chainClient,
		audit:  audit,
		logger: logger.WithField("component", "reconciler"),
	}
}

// Run executes one reconciliation pass. Receipt lookups that error are
// skipped and retried next pass; only a definitive receipt moves a row
// out of PROCESSING.
func (r *Reconciler) Run(ctx context.Context) (*ReconcileResult, error) {
	result := &ReconcileResult{}

	swept, err := r.ledger.SweepStaleClaims(ctx, r.cfg.StaleClaimAge)
	if err != nil {
		r.logger.WithError(err).Error("Failed to sweep stale claims")
	} else if swept > 0 {
		result.Swept = swept
		r.logger.WithField("swept", swept).Warn("Returned stale unsubmitted claims to pending")
	}

	hashes, err := r.ledger.ListProcessingHashes(ctx)
	if err != nil {
		return result, err
	}

	for _, hash := range hashes {
		log := r.logger.WithField("tx_hash", hash)

		receipt, err := r.chain.Receipt(ctx, hash)
		if err != nil {
			log.WithError(err).Warn("Receipt lookup failed, will retry")
			result.Pending++
			continue
		}
		if receipt == nil {
			result.Pending++
			continue
		}

		if receipt.Status == ethtypes.ReceiptStatusSuccessful {
			rows, err := r.ledger.MarkConfirmed(ctx, hash)
			if err != nil {
				log.WithError(err).Error("Failed to confirm mined batch")
				continue
			}
			result.Confirmed++
			log.WithField("rows", rows).Info("Batch confirmed on chain")
			r.recordEvent(ctx, models.EventBatchConfirmed, hash, "")
			continue
		}

		rows, err := r.ledger.MarkFailedAndRollback(ctx, hash, "transaction reverted on chain")
		if err != nil {
			log.WithError(err).Error("Failed to roll back reverted batch")
			continue
		}
		result.Failed++
		log.WithField("rows", rows).Error("Batch reverted on chain, balances rolled back")
		r.recordEvent(ctx, models.EventBatchFailed, hash, "transaction reverted on chain")
	}

	return result, nil
}

func (r *Reconciler) recordEvent(ctx context.Context, eventType models.SettlementEventType, txHash, detail string) {
	err := r.audit.Record(ctx, &models.SettlementEvent{
		CycleID:   txHash,
		EventType: eventType,
		TxHash:    txHash,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		r.logger.WithError(err).WithField("tx_hash", txHash).Warn("Failed to record audit event")
	}
}
