package audit

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	store := NewStoreFromDB(sqlx.NewDb(db, "postgres"))
	t.Cleanup(func() { store.Close() })
	return store, mock
}

func TestInsert(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO audit_log`).
		WithArgs(EventFetchCompleted, []byte(`{"ticker":"AAPL"}`), "worker-3", "job-1:fetch").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.Insert(context.Background(), EventFetchCompleted,
		map[string]string{"ticker": "AAPL"}, "worker-3", "job-1:fetch")
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestInsert_DuplicateIsNoop(t *testing.T) {
	store, mock := newMockStore(t)

	// ON CONFLICT DO NOTHING reports zero rows affected; no error surfaces.
	mock.ExpectExec(`INSERT INTO audit_log`).
		WithArgs(EventOrderPlaced, []byte(`{"order_id":"o-1"}`), "worker-1", "job-2:order").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Insert(context.Background(), EventOrderPlaced,
		map[string]string{"order_id": "o-1"}, "worker-1", "job-2:order")
	if err != nil {
		t.Fatalf("Insert duplicate: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestQueryByType(t *testing.T) {
	store, mock := newMockStore(t)

	from := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)
	rows := sqlmock.NewRows([]string{"id", "event_type", "payload", "ts", "origin", "dedup_key"}).
		AddRow(int64(7), EventQualityRejected, []byte(`{"reason":"zero volume"}`), from.Add(time.Hour), "worker-2", "job-9:quality")

	mock.ExpectQuery(`SELECT id, event_type, payload, ts, origin, dedup_key`).
		WithArgs(EventQualityRejected, from, to).
		WillReturnRows(rows)

	events, err := store.QueryByType(context.Background(), EventQualityRejected, from, to)
	if err != nil {
		t.Fatalf("QueryByType: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].DedupKey != "job-9:quality" {
		t.Errorf("dedup_key = %q", events[0].DedupKey)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestUniverse(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"symbol"}).AddRow("AAPL").AddRow("MSFT")
	mock.ExpectQuery(`SELECT symbol FROM ticker_universe`).
		WithArgs(50).
		WillReturnRows(rows)

	symbols, err := store.Universe(context.Background(), 50)
	if err != nil {
		t.Fatalf("Universe: %v", err)
	}
	if len(symbols) != 2 || symbols[0] != "AAPL" {
		t.Errorf("symbols = %v", symbols)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestNopStore(t *testing.T) {
	store := NewNopStore([]string{"AAPL", "MSFT", "NVDA"})

	if err := store.Insert(context.Background(), EventOrderPlaced, nil, "w", "k"); err != nil {
		t.Errorf("Insert: %v", err)
	}
	symbols, err := store.Universe(context.Background(), 2)
	if err != nil {
		t.Fatalf("Universe: %v", err)
	}
	if len(symbols) != 2 {
		t.Errorf("capped universe = %v, want 2 symbols", symbols)
	}
}
