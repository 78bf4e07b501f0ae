package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/reward-settler/internal/config"
	"github.com/reward-settler/internal/models"
)

// AuditLog records settlement lifecycle events in ClickHouse for
// reporting. It is optional; a nil *AuditLog discards every write so the
// pipeline keeps working when ClickHouse is not deployed.
type AuditLog struct {
	conn driver.Conn
}

// NewAuditLog opens a ClickHouse connection and ensures the event table
func NewAuditLog(cfg *config.ClickHouseConfig) (*AuditLog, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:      10 * time.Second,
		MaxOpenConns:     10,
		MaxIdleConns:     5,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	log := &AuditLog{conn: conn}
	if err := log.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return log, nil
}

// Close closes the ClickHouse connection
func (a *AuditLog) Close() error {
	if a == nil || a.conn == nil {
		return nil
	}
	return a.conn.Close()
}

// Ping checks if ClickHouse is reachable
func (a *AuditLog) Ping(ctx context.Context) error {
	if a == nil {
		return nil
	}
	return a.conn.Ping(ctx)
}

func (a *AuditLog) ensureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS settlement_events (
			cycle_id       String,
			event_type     LowCardinality(String),
			tx_hash        String,
			wallet_address String,
			amount         Decimal(38, 18),
			recipients     UInt32,
			detail         String,
			created_at     DateTime64(3, 'UTC')
		)
		ENGINE = MergeTree()
		PARTITION BY toYYYYMM(created_at)
		ORDER BY (created_at, cycle_id)
		TTL toDateTime(created_at) + INTERVAL 12 MONTH`

	if err := a.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create settlement_events table: %w", err)
	}
	return nil
}

// Record writes one settlement event. Safe on a nil receiver.
func (a *AuditLog) Record(ctx context.Context, event *models.SettlementEvent) error {
	if a == nil {
		return nil
	}

	query := `
		INSERT INTO settlement_events
			(cycle_id, event_type, tx_hash, wallet_address, amount, recipients, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	err := a.conn.Exec(ctx, query,
		event.CycleID,
		string(event.EventType),
		event.TxHash,
		event.WalletAddress,
		event.Amount,
		event.Recipients,
		event.Detail,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record settlement event: %w", err)
	}
	return nil
}

// RecentEvents returns the newest events for a settlement cycle
func (a *AuditLog) RecentEvents(ctx context.Context, cycleID string, limit int) ([]models.SettlementEvent, error) {
	if a == nil {
		return nil, nil
	}

	query := `
		SELECT cycle_id, event_type, tx_hash, wallet_address, amount, recipients, detail, created_at
		FROM settlement_events
		WHERE cycle_id = ?
		ORDER BY created_at DESC
		LIMIT ?`

	rows, err := a.conn.Query(ctx, query, cycleID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query settlement events: %w", err)
	}
	defer rows.Close()

	var events []models.SettlementEvent
	for rows.Next() {
		var e models.SettlementEvent
		var eventType string
		if err := rows.Scan(&e.CycleID, &eventType, &e.TxHash, &e.WalletAddress, &e.Amount, &e.Recipients, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan settlement event: %w", err)
		}
		e.EventType = models.SettlementEventType(eventType)
		events = append(events, e)
	}
	return events, rows.Err()
}
