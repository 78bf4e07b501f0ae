package storage

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/reward-settler/internal/config"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// setupTestDB connects to the integration Postgres, runs migrations, and
// hands back a clean pool. Skips when Postgres is not reachable.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := &config.PostgresConfig{
		Host:           envOr("POSTGRES_HOST", "localhost"),
		Port:           envOr("POSTGRES_PORT", "5432"),
		Database:       envOr("POSTGRES_DB", "reward_settler"),
		User:           envOr("POSTGRES_USER", "settler"),
		Password:       envOr("POSTGRES_PASSWORD", ""),
		MaxConnections: 5,
	}

	db, err := NewPostgresDB(cfg)
	if err != nil {
		t.Skipf("Skipping test - Postgres not available: %v", err)
		return nil
	}
	t.Cleanup(db.Close)

	databaseURL := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
	if err := RunMigrations(databaseURL, "migrations"); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	_, err = db.Pool().Exec(context.Background(),
		`TRUNCATE reward_transactions, wallet_profiles CASCADE`)
	require.NoError(t, err)

	return db.Pool()
}

func seedProfile(t *testing.T, pool *pgxpool.Pool, userID, wallet, virtual, blockchain string) {
	t.Helper()

	query := `
		INSERT INTO wallet_profiles (user_id, wallet_address, virtual_balance, blockchain_balance)
		VALUES ($1, NULLIF($2, ''), $3, $4)`
	_, err := pool.Exec(context.Background(), query, userID, wallet,
		decimal.RequireFromString(virtual), decimal.RequireFromString(blockchain))
	require.NoError(t, err)
}

func requireBalances(t *testing.T, pool *pgxpool.Pool, userID, virtual, blockchain string) {
	t.Helper()

	profile, err := NewWalletRepository(pool).GetByUserID(context.Background(), userID)
	require.NoError(t, err)
	require.True(t, profile.VirtualBalance.Equal(decimal.RequireFromString(virtual)),
		"user %s virtual balance = %s, want %s", userID, profile.VirtualBalance, virtual)
	require.True(t, profile.BlockchainBalance.Equal(decimal.RequireFromString(blockchain)),
		"user %s blockchain balance = %s, want %s", userID, profile.BlockchainBalance, blockchain)
}

func TestNewPostgresDB(t *testing.T) {
	pool := setupTestDB(t)

	if err := pool.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}
