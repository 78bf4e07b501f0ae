// Package main provides the API server entry point for the reward
// settlement service.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/reward-settler/internal/api"
	"github.com/reward-settler/internal/chain"
	"github.com/reward-settler/internal/config"
	"github.com/reward-settler/internal/logging"
	"github.com/reward-settler/internal/retry"
	"github.com/reward-settler/internal/service"
	"github.com/reward-settler/internal/storage"
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

	logger.Info("Connecting to databases")

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
	rewardService := service.NewRewardService(
		&cfg.Settlement, rewardRepo, walletRepo, chainClient, redis, logger)
	withdrawService := service.NewWithdrawService(
		&cfg.Settlement, rewardRepo, walletRepo, chainClient, redis, audit, logger)

	server := api.NewServer(
		&api.ServerConfig{
			Host:            cfg.Server.Host,
			Port:            cfg.Server.Port,
			ShutdownTimeout: 15 * time.Second,
		},
		rewardService,
		withdrawService,
		orchestrator,
		reconciler,
		postgres,
		audit,
		logger,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.WithError(err).Fatal("API server failed")
	case sig := <-stop:
		logger.WithField("signal", sig.String()).Info("Shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Graceful shutdown failed")
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
