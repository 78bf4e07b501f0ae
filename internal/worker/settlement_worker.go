// Package worker runs the periodic settlement and reconciliation loops.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/reward-settler/internal/errors"
	"github.com/reward-settler/internal/logging"
	"github.com/reward-settler/internal/service"
)

// ChainHealth lets the worker restore chain connectivity between ticks.
type ChainHealth interface {
	Ready() bool
	Reconnect(ctx context.Context) error
}

// SettlementWorker drives the orchestrator and reconciler on timers.
// Settlement ticks batch-mint whatever is pending; reconcile ticks resolve
// submitted batches against chain receipts.
type SettlementWorker struct {
	orchestrator      *service.Orchestrator
	reconciler        *service.Reconciler
	chain             ChainHealth
	settleInterval    time.Duration
	reconcileInterval time.Duration
	logger            *logging.Logger

	running bool
	mu      sync.RWMutex
	stopCh  chan struct{}
	doneCh  chan struct{}

	lastCycleAt     time.Time
	lastReconcileAt time.Time
}

// SettlementWorkerConfig holds configuration for the settlement worker
type SettlementWorkerConfig struct {
	Orchestrator *service.Orchestrator
	Reconciler   *service.Reconciler

	// Chain is optional; when set, a failed settlement tick on a degraded
	// client triggers a reconnect attempt before the next tick.
	Chain ChainHealth

	SettleInterval    time.Duration
	ReconcileInterval time.Duration
	Logger            *logging.Logger
}

// NewSettlementWorker creates a settlement worker
func NewSettlementWorker(cfg *SettlementWorkerConfig) (*SettlementWorker, error) {
	if cfg.Orchestrator == nil {
		return nil, fmt.Errorf("orchestrator cannot be nil")
	}
	if cfg.Reconciler == nil {
		return nil, fmt.Errorf("reconciler cannot be nil")
	}

	settleInterval := cfg.SettleInterval
	if settleInterval <= 0 {
		settleInterval = time.Minute
	}
	reconcileInterval := cfg.ReconcileInterval
	if reconcileInterval <= 0 {
		reconcileInterval = 30 * time.Second
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &SettlementWorker{
		orchestrator:      cfg.Orchestrator,
		reconciler:        cfg.Reconciler,
		chain:             cfg.Chain,
		settleInterval:    settleInterval,
		reconcileInterval: reconcileInterval,
		logger:            logger.WithField("component", "settlement_worker"),
		stopCh:            make(chan struct{}),
		doneCh:            make(chan struct{}),
	}, nil
}

// Start begins the settlement and reconciliation loops
func (w *SettlementWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("settlement worker is already running")
	}
	w.running = true
	w.mu.Unlock()

	w.logger.WithFields(map[string]interface{}{
		"settle_interval":    w.settleInterval.String(),
		"reconcile_interval": w.reconcileInterval.String(),
	}).Info("Starting settlement worker")

	go w.run(ctx)
	return nil
}

// Stop gracefully stops the worker, waiting for an in-flight tick to finish
func (w *SettlementWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("settlement worker is not running")
	}
	w.mu.Unlock()

	close(w.stopCh)

	select {
	case <-w.doneCh:
		w.logger.Info("Settlement worker stopped")
	case <-ctx.Done():
		w.logger.Warn("Settlement worker stop timed out")
	}

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
	return nil
}

// IsRunning reports whether the worker loops are active
func (w *SettlementWorker) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// Status reports the timestamps of the last completed ticks
func (w *SettlementWorker) Status() (lastCycle, lastReconcile time.Time) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastCycleAt, w.lastReconcileAt
}

func (w *SettlementWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	settleTicker := time.NewTicker(w.settleInterval)
	defer settleTicker.Stop()
	reconcileTicker := time.NewTicker(w.reconcileInterval)
	defer reconcileTicker.Stop()

	// Reconcile once at startup to resolve anything left over from a
	// previous run before new batches go out.
	w.reconcileTick(ctx)

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			w.logger.Info("Context cancelled, stopping settlement worker")
			return
		case <-settleTicker.C:
			w.settleTick(ctx)
		case <-reconcileTicker.C:
			w.reconcileTick(ctx)
		}
	}
}

func (w *SettlementWorker) settleTick(ctx context.Context) {
	result, err := w.orchestrator.RunCycle(ctx)
	if err != nil {
		// Another process holding the lock is expected with multiple
		// replicas, everything else is worth a real error line.
		if apperrors.IsCode(err, "CYCLE_IN_FLIGHT") {
			w.logger.Debug("Settlement cycle already in flight, skipping tick")
			return
		}
		if apperrors.IsRetryable(err) {
			w.logger.WithError(err).Warn("Settlement cycle failed, retrying next tick")
		} else {
			w.logger.WithError(err).Error("Settlement cycle failed")
		}
		w.tryReconnect(ctx)
		return
	}

	w.mu.Lock()
	w.lastCycleAt = time.Now()
	w.mu.Unlock()

	if result.Submitted {
		w.logger.WithFields(map[string]interface{}{
			"cycle_id":   result.CycleID,
			"tx_hash":    result.TxHash,
			"recipients": result.Recipients,
			"total":      result.Total.String(),
		}).Info("Settlement cycle submitted batch")
	}
}

func (w *SettlementWorker) tryReconnect(ctx context.Context) {
	if w.chain == nil || w.chain.Ready() {
		return
	}
	if err := w.chain.Reconnect(ctx); err != nil {
		w.logger.WithError(err).Warn("Chain reconnect failed")
		return
	}
	w.logger.Info("Chain connectivity restored")
}

func (w *SettlementWorker) reconcileTick(ctx context.Context) {
	result, err := w.reconciler.Run(ctx)
	if err != nil {
		w.logger.WithError(err).Error("Reconciliation pass failed")
		return
	}

	w.mu.Lock()
	w.lastReconcileAt = time.Now()
	w.mu.Unlock()

	if result.Confirmed > 0 || result.Failed > 0 || result.Swept > 0 {
		w.logger.WithFields(map[string]interface{}{
			"confirmed": result.Confirmed,
			"failed":    result.Failed,
			"pending":   result.Pending,
			"swept":     result.Swept,
		}).Info("Reconciliation pass completed")
	}
}
