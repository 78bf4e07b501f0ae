// Package main runs the background settlement worker: periodic batch
// minting of pending rewards and reconciliation of submitted batches.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/reward-settler/internal/chain"
	"github.com/reward-settler/internal/config"
	"github.com/reward-settler/internal/logging"
	"github.com/reward-settler/internal/retry"
	"github.com/reward-settler/internal/service"
	"github.com/reward-settler/internal/storage"
	"github.com/reward-settler/internal/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.GetGlobalLogger().WithError(err).Fatal("Failed to load configuration")
	}

	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logger := logging.GetGlobalLogger()

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer func() {
		_ = redis.Close() // nolint:errcheck // shutdown path
	}()

	var audit *storage.AuditLog
	if cfg.Database.ClickHouse.Enabled {
		audit, err = storage.NewAuditLog(&cfg.Database.ClickHouse)
		if err != nil {
			logger.WithError(err).Warn("Audit log unavailable, settlement events will not be recorded")
			audit = nil
		} else {
			defer func() {
				_ = audit.Close() // nolint:errcheck // shutdown path
			}()
		}
	}

	var chainClient *chain.Client
	err = retry.WithExponentialBackoff(context.Background(), retry.DefaultConfig(),
		func(ctx context.Context, attempt int) error {
			var dialErr error
			chainClient, dialErr = chain.NewClient(&cfg.Chain)
			return dialErr
		})
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to chain RPC")
	}
	defer chainClient.Close()
	verifyAdminAddress(cfg, chainClient, logger)

	walletRepo := storage.NewWalletRepository(postgres.Pool())
	rewardRepo := storage.NewRewardRepository(postgres.Pool())

	orchestrator := service.NewOrchestrator(
		&cfg.Settlement, rewardRepo, walletRepo, chainClient, redis, redis, audit, logger)
	reconciler := service.NewReconciler(
		&cfg.Settlement, rewardRepo, chainClient, audit, logger)

	settlementWorker, err := worker.NewSettlementWorker(&worker.SettlementWorkerConfig{
		Orchestrator:      orchestrator,
		Reconciler:        reconciler,
		Chain:             chainClient,
		SettleInterval:    cfg.Settlement.SettleInterval,
		ReconcileInterval: cfg.Settlement.ReconcileInterval,
		Logger:            logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create settlement worker")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := settlementWorker.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start settlement worker")
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	logger.WithField("signal", sig.String()).Info("Shutting down settlement worker")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := settlementWorker.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("Settlement worker shutdown failed")
	}
}

// verifyAdminAddress warns when the configured admin address does not match
// the address derived from the signing key. Minting with an unexpected key
// is worth catching at startup rather than on chain.
func verifyAdminAddress(cfg *config.Config, client *chain.Client, logger *logging.Logger) {
	derived := client.AdminAddress()
	if cfg.Chain.AdminAddress != "" && !strings.EqualFold(cfg.Chain.AdminAddress, derived) {
		logger.WithFields(map[string]interface{}{
			"configured": cfg.Chain.AdminAddress,
			"derived":    derived,
		}).Warn("Configured admin address does not match the signing key")
		return
	}
	logger.WithField("admin", derived).Info("Signing as platform admin")
}
