// Package audit persists the append-only event trail and the ticker
// universe in Postgres. Every write carries a dedup key so redelivered jobs
// cannot double-log.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// Event types written by the acquisition pipeline.
const (
	EventFetchCompleted  = "fetch_completed"
	EventQualityRejected = "quality_rejected"
	EventOrderPlaced     = "order_placed"
	EventOrderBlocked    = "order_blocked"
	EventJobDeadLettered = "job_dead_lettered"
	EventKillSwitch      = "kill_switch"
)

// Event is one audit row.
type Event struct {
	ID        int64           `db:"id" json:"id"`
	EventType string          `db:"event_type" json:"event_type"`
	Payload   json.RawMessage `db:"payload" json:"payload"`
	TS        time.Time       `db:"ts" json:"ts"`
	Origin    string          `db:"origin" json:"origin"`
	DedupKey  string          `db:"dedup_key" json:"dedup_key"`
}

// Store records and queries audit events.
type Store interface {
	Insert(ctx context.Context, eventType string, payload interface{}, origin, dedupKey string) error
	QueryByType(ctx context.Context, eventType string, from, to time.Time) ([]Event, error)
	Universe(ctx context.Context, maxTickers int) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// Schema returns the DDL for the audit tables.
func Schema() string {
	return `
CREATE TABLE IF NOT EXISTS audit_log (
    id         BIGSERIAL PRIMARY KEY,
    event_type TEXT        NOT NULL,
    payload    JSONB       NOT NULL,
    ts         TIMESTAMPTZ NOT NULL DEFAULT now(),
    origin     TEXT        NOT NULL,
    dedup_key  TEXT        NOT NULL UNIQUE
);
CREATE INDEX IF NOT EXISTS idx_audit_log_type_ts ON audit_log (event_type, ts);

CREATE TABLE IF NOT EXISTS ticker_universe (
    symbol TEXT PRIMARY KEY,
    active BOOLEAN NOT NULL DEFAULT TRUE
);
`
}

// PostgresStore is the sqlx-backed store.
type PostgresStore struct {
	db *sqlx.DB
}

// Open connects to Postgres and verifies the connection.
func Open(dsn string) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: connect: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &PostgresStore{db: db}, nil
}

// NewStoreFromDB wraps an existing connection. Tests use it with a mock.
func NewStoreFromDB(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Insert appends one event. A duplicate dedup key is a silent no-op so the
// log stays exactly-once under at-least-once job delivery.
func (s *PostgresStore) Insert(ctx context.Context, eventType string, payload interface{}, origin, dedupKey string) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("audit: marshal payload: %w", err)
	}

	const q = `INSERT INTO audit_log (event_type, payload, ts, origin, dedup_key)
               VALUES ($1, $2, now(), $3, $4)
               ON CONFLICT (dedup_key) DO NOTHING`
	res, err := s.db.ExecContext(ctx, q, eventType, raw, origin, dedupKey)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		log.Debug().Str("dedup_key", dedupKey).Msg("audit event deduplicated")
	}
	return nil
}

// QueryByType returns events of one type within [from, to), newest first.
func (s *PostgresStore) QueryByType(ctx context.Context, eventType string, from, to time.Time) ([]Event, error) {
	const q = `SELECT id, event_type, payload, ts, origin, dedup_key
               FROM audit_log
               WHERE event_type = $1 AND ts >= $2 AND ts < $3
               ORDER BY ts DESC`
	var events []Event
	if err := s.db.SelectContext(ctx, &events, q, eventType, from, to); err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	return events, nil
}

// Universe returns the active tickers, alphabetically, capped at maxTickers.
func (s *PostgresStore) Universe(ctx context.Context, maxTickers int) ([]string, error) {
	const q = `SELECT symbol FROM ticker_universe WHERE active ORDER BY symbol LIMIT $1`
	var symbols []string
	if err := s.db.SelectContext(ctx, &symbols, q, maxTickers); err != nil {
		return nil, fmt.Errorf("audit: universe: %w", err)
	}
	return symbols, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

var _ Store = (*PostgresStore)(nil)
