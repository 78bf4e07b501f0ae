package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/reward-settler/internal/models"
)

// ErrProfileNotFound is returned when no wallet profile matches the lookup.
var ErrProfileNotFound = errors.New("wallet profile not found")

// ErrInsufficientBalance is returned when a debit would push a balance negative.
var ErrInsufficientBalance = errors.New("insufficient balance")

// WalletRepository handles wallet profile persistence
type WalletRepository struct {
	pool *pgxpool.Pool
}

// NewWalletRepository creates a new wallet repository
func NewWalletRepository(pool *pgxpool.Pool) *WalletRepository {
	return &WalletRepository{pool: pool}
}

const walletColumns = `user_id, wallet_address, virtual_balance, blockchain_balance, created_at, updated_at`

func scanWalletProfile(row pgx.Row) (*models.WalletProfile, error) {
	var p models.WalletProfile
	err := row.Scan(
		&p.UserID,
		&p.WalletAddress,
		&p.VirtualBalance,
		&p.BlockchainBalance,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to scan wallet profile: %w", err)
	}
	return &p, nil
}

// Create inserts a new wallet profile with zero balances
func (r *WalletRepository) Create(ctx context.Context, userID string) (*models.WalletProfile, error) {
	query := `
		INSERT INTO wallet_profiles (user_id)
		VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
		RETURNING ` + walletColumns

	profile, err := scanWalletProfile(r.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			// Conflict path, the profile already exists
			return r.GetByUserID(ctx, userID)
		}
		return nil, fmt.Errorf("failed to create wallet profile: %w", err)
	}
	return profile, nil
}

// GetByUserID retrieves a wallet profile by user id
func (r *WalletRepository) GetByUserID(ctx context.Context, userID string) (*models.WalletProfile, error) {
	query := `SELECT ` + walletColumns + ` FROM wallet_profiles WHERE user_id = $1`
	return scanWalletProfile(r.pool.QueryRow(ctx, query, userID))
}

// SetWalletAddress binds a wallet address to the profile, creating the
// profile when it does not exist yet.
func (r *WalletRepository) SetWalletAddress(ctx context.Context, userID, address string) error {
	query := `
		INSERT INTO wallet_profiles (user_id, wallet_address)
		VALUES ($1, $2)
		ON CONFLICT (user_id)
		DO UPDATE SET wallet_address = EXCLUDED.wallet_address, updated_at = now()`

	if _, err := r.pool.Exec(ctx, query, userID, address); err != nil {
		return fmt.Errorf("failed to set wallet address: %w", err)
	}
	return nil
}

// CreditVirtual adds to the off-chain balance of a user
func (r *WalletRepository) CreditVirtual(ctx context.Context, userID string, amount decimal.Decimal) error {
	query := `
		UPDATE wallet_profiles
		SET virtual_balance = virtual_balance + $2, updated_at = now()
		WHERE user_id = $1`

	tag, err := r.pool.Exec(ctx, query, userID, amount)
	if err != nil {
		return fmt.Errorf("failed to credit virtual balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// CreditBlockchain adds to the mirrored on-chain balance of a user
func (r *WalletRepository) CreditBlockchain(ctx context.Context, userID string, amount decimal.Decimal) error {
	query := `
		UPDATE wallet_profiles
		SET blockchain_balance = blockchain_balance + $2, updated_at = now()
		WHERE user_id = $1`

	tag, err := r.pool.Exec(ctx, query, userID, amount)
	if err != nil {
		return fmt.Errorf("failed to credit blockchain balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// DebitBlockchain subtracts from the mirrored on-chain balance, refusing
// to go below zero.
func (r *WalletRepository) DebitBlockchain(ctx context.Context, userID string, amount decimal.Decimal) error {
	query := `
		UPDATE wallet_profiles
		SET blockchain_balance = blockchain_balance - $2, updated_at = now()
		WHERE user_id = $1 AND blockchain_balance >= $2`

	tag, err := r.pool.Exec(ctx, query, userID, amount)
	if err != nil {
		return fmt.Errorf("failed to debit blockchain balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing profile from a short balance
		if _, lookupErr := r.GetByUserID(ctx, userID); lookupErr != nil {
			return lookupErr
		}
		return ErrInsufficientBalance
	}
	return nil
}

// ApplySettlement moves a settled amount from the virtual balance to the
// mirrored on-chain balance of the user's profile. Keyed by user id, the
// same key the rollback reverses by, so a revert lands the amount back on
// the profile it came from even when several profiles share an address.
func (r *WalletRepository) ApplySettlement(ctx context.Context, userID string, amount decimal.Decimal) error {
	query := `
		UPDATE wallet_profiles
		SET virtual_balance    = virtual_balance - $2,
		    blockchain_balance = blockchain_balance + $2,
		    updated_at         = now()
		WHERE user_id = $1`

	tag, err := r.pool.Exec(ctx, query, userID, amount)
	if err != nil {
		return fmt.Errorf("failed to apply settlement: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// SyncBlockchainBalance overwrites the mirrored on-chain balance with the
// value read from the contract.
func (r *WalletRepository) SyncBlockchainBalance(ctx context.Context, userID string, balance decimal.Decimal) error {
	query := `
		UPDATE wallet_profiles
		SET blockchain_balance = $2, updated_at = now()
		WHERE user_id = $1`

	tag, err := r.pool.Exec(ctx, query, userID, balance)
	if err != nil {
		return fmt.Errorf("failed to sync blockchain balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProfileNotFound
	}
	return nil
}
