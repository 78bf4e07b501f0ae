package service

import (
	"context"
	"errors"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/reward-settler/internal/chain"
	"github.com/reward-settler/internal/config"
	apperrors "github.com/reward-settler/internal/errors"
	"github.com/reward-settler/internal/logging"
	"github.com/reward-settler/internal/models"
	"github.com/reward-settler/internal/storage"
)

// RewardService handles reward accrual, wallet binding, and balance reads
type RewardService struct {
	cfg     *config.SettlementConfig
	ledger  LedgerStore
	wallets WalletStore
	chain   ChainBroker
	cache   BalanceCache
	logger  *logging.Logger
}

// NewRewardService creates a reward service
func NewRewardService(
	cfg *config.SettlementConfig,
	ledger LedgerStore,
	wallets WalletStore,
	chainClient ChainBroker,
	cache BalanceCache,
	logger *logging.Logger,
) *RewardService {
	return &RewardService{
		cfg:     cfg,
		ledger:  ledger,
		wallets: wallets,
		chain:   chainClient,
		cache:   cache,
		logger:  logger.WithField("component", "reward_service"),
	}
}

// GrantReward credits a user's off-chain balance and writes a PENDING
// ledger row for the next settlement cycle. A zero amount grants the
// configured per-feedback reward.
func (s *RewardService) GrantReward(ctx context.Context, userID string, amount decimal.Decimal) (*models.RewardTransaction, error) {
	if userID == "" {
		return nil, apperrors.NewInvalidParameterError("userId", "must not be empty")
	}
	if amount.IsNegative() {
		return nil, apperrors.NewInvalidParameterError("amount", "must not be negative")
	}
	if amount.IsZero() {
		amount = s.cfg.RewardPerFeedback
	}

	if _, err := s.wallets.Create(ctx, userID); err != nil {
		return nil, apperrors.NewDatabaseError("ensure wallet profile", err)
	}
	if err := s.wallets.CreditVirtual(ctx, userID, amount); err != nil {
		return nil, apperrors.NewDatabaseError("credit virtual balance", err)
	}

	tx, err := s.ledger.Create(ctx, userID, amount, models.TxTypeReward, models.TxStatusPending)
	if err != nil {
		return nil, apperrors.NewDatabaseError("create reward transaction", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"user_id": userID,
		"amount":  amount.String(),
		"tx_id":   tx.ID,
	}).Info("Reward granted")

	return tx, nil
}

// BindWallet validates and checksums a wallet address and binds it to the
// user's profile. Rewards accrued before binding become settleable once
// the address is on file.
func (s *RewardService) BindWallet(ctx context.Context, userID, address string) (string, error) {
	if userID == "" {
		return "", apperrors.NewInvalidParameterError("userId", "must not be empty")
	}
	checksummed, err := chain.ChecksumAddress(address)
	if err != nil {
		return "", apperrors.NewInvalidAddressError(address)
	}
	if err := s.wallets.SetWalletAddress(ctx, userID, checksummed); err != nil {
		return "", apperrors.NewDatabaseError("set wallet address", err)
	}
	s.logger.WithFields(map[string]interface{}{
		"user_id": userID,
		"wallet":  checksummed,
	}).Info("Wallet address bound")
	return checksummed, nil
}

// BalanceResult is a combined ledger and chain view of a user's balances.
// OnChainBalance is nil when the chain could not be queried; the mirrored
// blockchain balance is never substituted for a live read.
type BalanceResult struct {
	UserID            string           `json:"userId"`
	WalletAddress     *string          `json:"walletAddress,omitempty"`
	VirtualBalance    decimal.Decimal  `json:"virtualBalance"`
	BlockchainBalance decimal.Decimal  `json:"blockchainBalance"`
	OnChainBalance    *decimal.Decimal `json:"onChainBalance,omitempty"`
	Synced            bool             `json:"synced"`
}

// GetBalance returns the user's ledger balances plus, when a wallet is
// bound and the chain is reachable, the live on-chain balance. Live reads
// go through the cache; a fresh read also refreshes the mirrored balance.
func (s *RewardService) GetBalance(ctx context.Context, userID string) (*BalanceResult, error) {
	profile, err := s.wallets.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrProfileNotFound) {
			return nil, apperrors.NewNotFoundError("wallet profile", userID)
		}
		return nil, apperrors.NewDatabaseError("get wallet profile", err)
	}

	result := &BalanceResult{
		UserID:            profile.UserID,
		WalletAddress:     profile.WalletAddress,
		VirtualBalance:    profile.VirtualBalance,
		BlockchainBalance: profile.BlockchainBalance,
	}

	if !profile.HasWallet() || !s.chain.Ready() {
		return result, nil
	}
	address := *profile.WalletAddress

	if cached, hit, err := s.cache.GetCachedBalance(ctx, address); err == nil && hit {
		result.OnChainBalance = &cached
		result.Synced = cached.Equal(profile.BlockchainBalance)
		return result, nil
	}

	onChain, err := s.chain.BalanceOf(ctx, address)
	if err != nil {
		s.logger.WithError(err).WithField("wallet", address).Warn("On-chain balance read failed")
		return result, nil
	}

	if err := s.cache.SetCachedBalance(ctx, address, onChain, s.cfg.BalanceCacheTTL); err != nil {
		s.logger.WithError(err).Warn("Failed to cache on-chain balance")
	}
	if !onChain.Equal(profile.BlockchainBalance) {
		if err := s.wallets.SyncBlockchainBalance(ctx, userID, onChain); err != nil {
			s.logger.WithError(err).WithField("user_id", userID).Warn("Failed to sync mirrored balance")
		} else {
			result.BlockchainBalance = onChain
		}
	}

	result.OnChainBalance = &onChain
	result.Synced = true
	return result, nil
}

// MintTo mints tokens directly to a user's bound wallet outside the batch
// pipeline, for manual or promotional grants. The ledger row starts in
// PROCESSING and is finalized by the reconciler like any batch.
func (s *RewardService) MintTo(ctx context.Context, userID string, amount decimal.Decimal) (*models.RewardTransaction, error) {
	if !amount.IsPositive() {
		return nil, apperrors.NewInvalidParameterError("amount", "must be positive")
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

	txHash, err := s.chain.SubmitBatchMint(ctx, []string{address}, []decimal.Decimal{amount})
	if err != nil {
		return nil, err
	}

	tx, err := s.ledger.Create(ctx, userID, amount, models.TxTypeMint, models.TxStatusProcessing)
	if err != nil {
		return nil, apperrors.NewDatabaseError("create mint transaction", err)
	}
	if err := s.ledger.UpdateStatus(ctx, tx.ID, models.TxStatusProcessing, &txHash, nil); err != nil {
		return nil, apperrors.NewDatabaseError("stamp mint transaction", err)
	}
	tx.TxHash = &txHash

	if err := s.wallets.CreditBlockchain(ctx, userID, amount); err != nil {
		return nil, apperrors.NewDatabaseError("credit blockchain balance", err)
	}
	if err := s.cache.InvalidateCachedBalance(ctx, address); err != nil {
		s.logger.WithError(err).Warn("Failed to invalidate balance cache")
	}

	s.logger.WithFields(map[string]interface{}{
		"user_id": userID,
		"wallet":  address,
		"amount":  amount.String(),
		"tx_hash": txHash,
	}).Info("Direct mint submitted")

	return tx, nil
}

// GetTransaction returns a single ledger row. Rows owned by other users
// are reported as not found rather than forbidden.
func (s *RewardService) GetTransaction(ctx context.Context, userID string, id int64) (*models.RewardTransaction, error) {
	tx, err := s.ledger.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrTransactionNotFound) {
			return nil, apperrors.NewNotFoundError("transaction", strconv.FormatInt(id, 10))
		}
		return nil, apperrors.NewDatabaseError("get transaction", err)
	}
	if tx.UserID != userID {
		return nil, apperrors.NewNotFoundError("transaction", strconv.FormatInt(id, 10))
	}
	return tx, nil
}

// ListTransactions returns the user's most recent ledger rows
func (s *RewardService) ListTransactions(ctx context.Context, userID string, limit int) ([]*models.RewardTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	txs, err := s.ledger.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list transactions", err)
	}
	return txs, nil
}
