package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/reward-settler/internal/models"
)

// ErrTransactionNotFound is returned when no ledger row matches the lookup.
var ErrTransactionNotFound = errors.New("reward transaction not found")

// RewardRepository handles reward transaction ledger persistence
type RewardRepository struct {
	pool *pgxpool.Pool
}

// NewRewardRepository creates a new reward repository
func NewRewardRepository(pool *pgxpool.Pool) *RewardRepository {
	return &RewardRepository{pool: pool}
}

const rewardColumns = `id, user_id, amount, tx_type, status, tx_hash, attempts, fail_reason, created_at, processed_at`

func scanRewardTransaction(row pgx.Row) (*models.RewardTransaction, error) {
	var tx models.RewardTransaction
	err := row.Scan(
		&tx.ID,
		&tx.UserID,
		&tx.Amount,
		&tx.TxType,
		&tx.Status,
		&tx.TxHash,
		&tx.Attempts,
		&tx.FailReason,
		&tx.CreatedAt,
		&tx.ProcessedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to scan reward transaction: %w", err)
	}
	return &tx, nil
}

// Create inserts a new ledger row and returns it with generated fields filled
func (r *RewardRepository) Create(ctx context.Context, userID string, amount decimal.Decimal, txType models.TxType, status models.TxStatus) (*models.RewardTransaction, error) {
	query := `
		INSERT INTO reward_transactions (user_id, amount, tx_type, status)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + rewardColumns

	tx, err := scanRewardTransaction(r.pool.QueryRow(ctx, query, userID, amount, txType, status))
	if err != nil {
		return nil, fmt.Errorf("failed to create reward transaction: %w", err)
	}
	return tx, nil
}

// GetByID retrieves a ledger row by id
func (r *RewardRepository) GetByID(ctx context.Context, id int64) (*models.RewardTransaction, error) {
	query := `SELECT ` + rewardColumns + ` FROM reward_transactions WHERE id = $1`
	return scanRewardTransaction(r.pool.QueryRow(ctx, query, id))
}

// ListByUser returns the most recent ledger rows for a user
func (r *RewardRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*models.RewardTransaction, error) {
	query := `
		SELECT ` + rewardColumns + `
		FROM reward_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list reward transactions: %w", err)
	}
	defer rows.Close()

	var txs []*models.RewardTransaction
	for rows.Next() {
		tx, err := scanRewardTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// ListPendingRewards returns pending REWARD rows joined with the wallet
// address on file, oldest first. Rows whose profile has no wallet bound
// are excluded; they stay pending until the user binds one.
func (r *RewardRepository) ListPendingRewards(ctx context.Context) ([]models.PendingReward, error) {
	query := `
		SELECT rt.id, rt.user_id, rt.amount, wp.wallet_address, rt.attempts
		FROM reward_transactions rt
		JOIN wallet_profiles wp ON wp.user_id = rt.user_id
		WHERE rt.status = 'PENDING'
		  AND rt.tx_type = 'REWARD'
		  AND wp.wallet_address IS NOT NULL
		  AND wp.wallet_address <> ''
		ORDER BY rt.id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending rewards: %w", err)
	}
	defer rows.Close()

	var pending []models.PendingReward
	for rows.Next() {
		var p models.PendingReward
		if err := rows.Scan(&p.ID, &p.UserID, &p.Amount, &p.WalletAddress, &p.Attempts); err != nil {
			return nil, fmt.Errorf("failed to scan pending reward: %w", err)
		}
		pending = append(pending, p)
	}
	return pending, rows.Err()
}

// ClaimForSettlement flips the given rows from PENDING to PROCESSING and
// returns how many were actually claimed. Rows another cycle already took
// are silently skipped.
func (r *RewardRepository) ClaimForSettlement(ctx context.Context, ids []int64) (int64, error) {
	query := `
		UPDATE reward_transactions
		SET status = 'PROCESSING', processed_at = now()
		WHERE id = ANY($1) AND status = 'PENDING'`

	tag, err := r.pool.Exec(ctx, query, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to claim rewards for settlement: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ReleaseClaim returns unsubmitted PROCESSING rows to PENDING, used when
// the chain submission fails before a hash was assigned.
func (r *RewardRepository) ReleaseClaim(ctx context.Context, ids []int64) error {
	query := `
		UPDATE reward_transactions
		SET status = 'PENDING', processed_at = NULL
		WHERE id = ANY($1) AND status = 'PROCESSING' AND tx_hash IS NULL`

	if _, err := r.pool.Exec(ctx, query, ids); err != nil {
		return fmt.Errorf("failed to release claimed rewards: %w", err)
	}
	return nil
}

// MarkSubmitted stamps the transaction hash on claimed rows
func (r *RewardRepository) MarkSubmitted(ctx context.Context, ids []int64, txHash string) error {
	query := `
		UPDATE reward_transactions
		SET tx_hash = $2, processed_at = now()
		WHERE id = ANY($1) AND status = 'PROCESSING'`

	if _, err := r.pool.Exec(ctx, query, ids, txHash); err != nil {
		return fmt.Errorf("failed to mark rewards submitted: %w", err)
	}
	return nil
}

// RecordInvalidAddress bumps the attempt counter on rows skipped for a bad
// wallet address. Rows that reach maxAttempts are failed terminally so a
// broken address cannot stall the queue forever.
func (r *RewardRepository) RecordInvalidAddress(ctx context.Context, ids []int64, maxAttempts int) error {
	query := `
		UPDATE reward_transactions
		SET attempts     = attempts + 1,
		    status       = CASE WHEN attempts + 1 >= $2 THEN 'FAILED' ELSE status END,
		    fail_reason  = CASE WHEN attempts + 1 >= $2 THEN 'invalid wallet address' ELSE fail_reason END,
		    processed_at = CASE WHEN attempts + 1 >= $2 THEN now() ELSE processed_at END
		WHERE id = ANY($1) AND status = 'PENDING'`

	if _, err := r.pool.Exec(ctx, query, ids, maxAttempts); err != nil {
		return fmt.Errorf("failed to record invalid address attempts: %w", err)
	}
	return nil
}

// ListProcessingHashes returns the distinct transaction hashes of submitted
// batches still awaiting a receipt.
func (r *RewardRepository) ListProcessingHashes(ctx context.Context) ([]string, error) {
	query := `
		SELECT DISTINCT tx_hash
		FROM reward_transactions
		WHERE status = 'PROCESSING' AND tx_hash IS NOT NULL`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list processing hashes: %w", err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("failed to scan tx hash: %w", err)
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

// MarkConfirmed finalizes every PROCESSING row carrying the given hash
func (r *RewardRepository) MarkConfirmed(ctx context.Context, txHash string) (int64, error) {
	query := `
		UPDATE reward_transactions
		SET status = 'SUCCESS', processed_at = now()
		WHERE tx_hash = $1 AND status = 'PROCESSING'`

	tag, err := r.pool.Exec(ctx, query, txHash)
	if err != nil {
		return 0, fmt.Errorf("failed to mark rewards confirmed: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MarkFailedAndRollback fails every PROCESSING row carrying the given hash
// and reverses the balance moves that were applied at submission time.
// Both updates run in one database transaction so a crash cannot leave the
// ledger and the balances disagreeing.
func (r *RewardRepository) MarkFailedAndRollback(ctx context.Context, txHash, reason string) (int64, error) {
	dbTx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin rollback transaction: %w", err)
	}
	defer func() {
		_ = dbTx.Rollback(ctx) // nolint:errcheck // no-op after commit
	}()

	// Each type moved balances differently at submission time, so each
	// reverses differently: a reward batch moved virtual -> blockchain
	// and moves back; a direct mint only credited the mirrored on-chain
	// balance, so only that is debited; a withdrawal only debited it, so
	// only that is restored.
	reverseRewards := `
		UPDATE wallet_profiles wp
		SET virtual_balance    = wp.virtual_balance + s.total,
		    blockchain_balance = wp.blockchain_balance - s.total,
		    updated_at         = now()
		FROM (
			SELECT user_id, SUM(amount) AS total
			FROM reward_transactions
			WHERE tx_hash = $1 AND status = 'PROCESSING' AND tx_type = 'REWARD'
			GROUP BY user_id
		) s
		WHERE wp.user_id = s.user_id`

	if _, err := dbTx.Exec(ctx, reverseRewards, txHash); err != nil {
		return 0, fmt.Errorf("failed to reverse settled balances: %w", err)
	}

	reverseMints := `
		UPDATE wallet_profiles wp
		SET blockchain_balance = wp.blockchain_balance - s.total,
		    updated_at         = now()
		FROM (
			SELECT user_id, SUM(amount) AS total
			FROM reward_transactions
			WHERE tx_hash = $1 AND status = 'PROCESSING' AND tx_type = 'MINT'
			GROUP BY user_id
		) s
		WHERE wp.user_id = s.user_id`

	if _, err := dbTx.Exec(ctx, reverseMints, txHash); err != nil {
		return 0, fmt.Errorf("failed to reverse minted balances: %w", err)
	}

	reverseWithdrawals := `
		UPDATE wallet_profiles wp
		SET blockchain_balance = wp.blockchain_balance + s.total,
		    updated_at         = now()
		FROM (
			SELECT user_id, SUM(amount) AS total
			FROM reward_transactions
			WHERE tx_hash = $1 AND status = 'PROCESSING' AND tx_type = 'WITHDRAW'
			GROUP BY user_id
		) s
		WHERE wp.user_id = s.user_id`

	if _, err := dbTx.Exec(ctx, reverseWithdrawals, txHash); err != nil {
		return 0, fmt.Errorf("failed to reverse withdrawn balances: %w", err)
	}

	failQuery := `
		UPDATE reward_transactions
		SET status = 'FAILED', fail_reason = $2, processed_at = now()
		WHERE tx_hash = $1 AND status = 'PROCESSING'`

	tag, err := dbTx.Exec(ctx, failQuery, txHash, reason)
	if err != nil {
		return 0, fmt.Errorf("failed to mark rewards failed: %w", err)
	}

	if err := dbTx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit rollback transaction: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SweepStaleClaims returns PROCESSING rows that never received a hash to
// PENDING once they are older than the given age. Covers crashes between
// claim and submission.
func (r *RewardRepository) SweepStaleClaims(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		UPDATE reward_transactions
		SET status = 'PENDING', processed_at = NULL
		WHERE status = 'PROCESSING'
		  AND tx_hash IS NULL
		  AND processed_at < now() - $1::interval`

	tag, err := r.pool.Exec(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep stale claims: %w", err)
	}
	return tag.RowsAffected(), nil
}

// UpdateStatus sets the status and optional failure reason of a single row
func (r *RewardRepository) UpdateStatus(ctx context.Context, id int64, status models.TxStatus, txHash, failReason *string) error {
	query := `
		UPDATE reward_transactions
		SET status       = $2,
		    tx_hash      = COALESCE($3, tx_hash),
		    fail_reason  = COALESCE($4, fail_reason),
		    processed_at = now()
		WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, id, status, txHash, failReason)
	if err != nil {
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}
