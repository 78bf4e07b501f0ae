package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/reward-settler/internal/config"
	apperrors "github.com/reward-settler/internal/errors"
	"github.com/reward-settler/internal/logging"
	"github.com/reward-settler/internal/models"
	"github.com/reward-settler/internal/storage"
)

// WithdrawService moves settled tokens from the admin-held contract
// balance out to a user's own wallet.
type WithdrawService struct {
	cfg     *config.SettlementConfig
	ledger  LedgerStore
	wallets WalletStore
	chain   ChainBroker
	cache   BalanceCache
	audit   AuditSink
	logger  *logging.Logger
}

// NewWithdrawService creates a withdraw service
func NewWithdrawService(
	cfg *config.SettlementConfig,
	ledger LedgerStore,
	wallets WalletStore,
	chainClient ChainBroker,
	cache BalanceCache,
	audit AuditSink,
	logger *logging.Logger,
) *WithdrawService {
	return &WithdrawService{
		cfg:     cfg,
		ledger:  ledger,
		wallets: wallets,
		chain:   chainClient,
		cache:   cache,
		audit:   audit,
		logger:  logger.WithField("component", "withdraw_service"),
	}
}

// Withdraw transfers amount tokens to the user's bound wallet. The
// mirrored on-chain balance is debited up front so a user cannot race two
// withdrawals past their balance; a failed broadcast credits it back.
func (s *WithdrawService) Withdraw(ctx context.Context, userID string, amount decimal.Decimal) (*models.RewardTransaction, error) {
	if !amount.IsPositive() {
		return nil, apperrors.NewInvalidParameterError("amount", "must be positive")
	}
	if amount.LessThan(s.cfg.MinWithdrawal) {
		return nil, apperrors.NewInvalidParameterError("amount",
			fmt.Sprintf("below minimum withdrawal of %s", s.cfg.MinWithdrawal.String()))
	}
	if !s.chain.Ready() {
		return nil, apperrors.NewContractUnavailableError()
	}

	profile, err := s.wallets.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrProfileNotFound) {
			return nil, apperrors.NewNotFoundError("wallet profile", userID)
		}
		return nil, apperrors.NewDatabaseError("get wallet profile", err)
	}
	if !profile.HasWallet() {
		return nil, apperrors.NewWalletNotSetError(userID)
	}
	address := *profile.WalletAddress

	if err := s.wallets.DebitBlockchain(ctx, userID, amount); err != nil {
		if errors.Is(err, storage.ErrInsufficientBalance) {
			return nil, apperrors.NewInsufficientBalanceError(
				fmt.Sprintf("settled balance below %s", amount.String()))
		}
		return nil, apperrors.NewDatabaseError("debit blockchain balance", err)
	}

	txHash, err := s.chain.TransferOut(ctx, address, amount)
	if err != nil {
		if creditErr := s.wallets.CreditBlockchain(context.WithoutCancel(ctx), userID, amount); creditErr != nil {
			s.logger.WithError(creditErr).WithField("user_id", userID).
				Error("Failed to restore balance after broadcast failure")
		}
		return nil, err
	}

	tx, err := s.ledger.Create(ctx, userID, amount, models.TxTypeWithdraw, models.TxStatusProcessing)
	if err != nil {
		return nil, apperrors.NewDatabaseError("create withdrawal transaction", err)
	}
	if err := s.ledger.UpdateStatus(ctx, tx.ID, models.TxStatusProcessing, &txHash, nil); err != nil {
		return nil, apperrors.NewDatabaseError("stamp withdrawal transaction", err)
	}
	tx.TxHash = &txHash

	if err := s.cache.InvalidateCachedBalance(ctx, address); err != nil {
		s.logger.WithError(err).Warn("Failed to invalidate balance cache")
	}

	if err := s.audit.Record(ctx, &models.SettlementEvent{
		CycleID:       txHash,
		EventType:     models.EventWithdrawal,
		TxHash:        txHash,
		WalletAddress: address,
		Amount:        amount,
		Recipients:    1,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		s.logger.WithError(err).Warn("Failed to record withdrawal audit event")
	}

	s.logger.WithFields(map[string]interface{}{
		"user_id": userID,
		"wallet":  address,
		"amount":  amount.String(),
		"tx_hash": txHash,
	}).Info("Withdrawal submitted")

	return tx, nil
}
