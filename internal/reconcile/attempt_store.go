package reconcile

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// AttemptRecord is the persisted budget state for one (mode, wallet) pair.
type AttemptRecord struct {
	TradingMode   string
	WalletID      string
	Attempts      int
	LastAttemptAt time.Time
}

// AttemptStore keeps attempt counters in a standalone sqlite file so budgets
// survive restarts.
type AttemptStore struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// OpenAttemptStore opens or creates the counter database.
func OpenAttemptStore(path string) (*AttemptStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("attempt store path cannot be empty")
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureAttemptSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &AttemptStore{db: db, path: path}, nil
}

func (s *AttemptStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Upsert writes one counter.
func (s *AttemptStore) Upsert(ctx context.Context, rec AttemptRecord) error {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return fmt.Errorf("attempt store not initialized")
	}
	if strings.TrimSpace(rec.TradingMode) == "" || strings.TrimSpace(rec.WalletID) == "" {
		return fmt.Errorf("attempt record requires trading mode and wallet id")
	}
	last := rec.LastAttemptAt
	if last.IsZero() {
		last = time.Now()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO reconcile_attempts(trading_mode, wallet_id, attempts, last_attempt_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(trading_mode, wallet_id) DO UPDATE SET
			attempts=excluded.attempts,
			last_attempt_at=excluded.last_attempt_at;
	`, rec.TradingMode, rec.WalletID, rec.Attempts, last.UnixMilli())
	return err
}

// All loads every persisted counter.
func (s *AttemptStore) All(ctx context.Context) ([]AttemptRecord, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, fmt.Errorf("attempt store not initialized")
	}
	rows, err := db.QueryContext(ctx, `
		SELECT trading_mode, wallet_id, attempts, last_attempt_at FROM reconcile_attempts;
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AttemptRecord
	for rows.Next() {
		var rec AttemptRecord
		var lastMs int64
		if err := rows.Scan(&rec.TradingMode, &rec.WalletID, &rec.Attempts, &lastMs); err != nil {
			return nil, err
		}
		if lastMs > 0 {
			rec.LastAttemptAt = time.UnixMilli(lastMs).UTC()
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func ensureAttemptSchema(db *sql.DB) error {
	stmt := `
	CREATE TABLE IF NOT EXISTS reconcile_attempts (
		trading_mode TEXT NOT NULL,
		wallet_id TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_attempt_at INTEGER,
		PRIMARY KEY (trading_mode, wallet_id)
	);`
	_, err := db.Exec(stmt)
	return err
}
