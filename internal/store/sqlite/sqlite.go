// Package sqlite implements the query layer against an embedded SQLite
// database. Entities live in three tables related by foreign keys with
// cascading delete; dates are stored as YYYY-MM-DD text so range queries
// compare lexicographically, and amounts are stored as integer cents so the
// native SUM stays exact.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/shopspring/decimal"

	"github.com/mrovelli/conto/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    kind TEXT NOT NULL DEFAULT 'OTHER',
    saldo_iniziale INTEGER NOT NULL DEFAULT 0, -- opening balance, cents
    balance INTEGER NOT NULL DEFAULT 0,        -- cached balance, cents
    currency TEXT NOT NULL DEFAULT 'EUR',
    iban TEXT,
    source_flag INTEGER NOT NULL DEFAULT 0,    -- 1 = imported from file
    last_updated TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    account_id INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
    date TEXT NOT NULL,                        -- YYYY-MM-DD
    description TEXT NOT NULL DEFAULT '',
    amount INTEGER NOT NULL,                   -- signed, cents
    category TEXT NOT NULL DEFAULT '',
    notes TEXT,
    is_recurring INTEGER NOT NULL DEFAULT 0,
    subscription_id INTEGER,
    inserted_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_account_date
    ON transactions(account_id, date);

CREATE TABLE IF NOT EXISTS subscriptions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    account_id INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    description TEXT,
    amount INTEGER NOT NULL,                   -- per period, cents
    frequency INTEGER NOT NULL,
    start_date TEXT NOT NULL,
    next_renewal_date TEXT NOT NULL,
    end_date TEXT,
    category TEXT NOT NULL DEFAULT 'Subscription',
    active INTEGER NOT NULL DEFAULT 1,
    notes TEXT
);

CREATE INDEX IF NOT EXISTS idx_subscriptions_account ON subscriptions(account_id);
CREATE INDEX IF NOT EXISTS idx_subscriptions_active ON subscriptions(active);
CREATE INDEX IF NOT EXISTS idx_subscriptions_renewal ON subscriptions(next_renewal_date);
`

// Store implements store.Store on a SQLite database.
type Store struct {
	db  *sql.DB
	hub *hub
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and initializes the
// schema. Foreign keys, WAL journaling and a busy timeout are enabled so
// concurrent writers serialize instead of failing immediately. Transactions
// start as immediate writes, so a read-then-write inside withTx never has to
// upgrade its lock mid-transaction.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("Open: creating database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("Open: opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("Open: pinging database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("Open: initializing schema: %w", err)
	}

	return &Store{db: db, hub: newHub()}, nil
}

var (
	sharedOnce  sync.Once
	sharedStore *Store
	sharedErr   error
)

// OpenShared opens the process-wide store exactly once; later calls return
// the same handle regardless of path. Safe under concurrent first use.
func OpenShared(path string) (*Store, error) {
	sharedOnce.Do(func() {
		sharedStore, sharedErr = Open(path)
	})
	return sharedStore, sharedErr
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a database transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction error: %v, rollback error: %w", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// cents converts a decimal amount to integer cents, rounding half away from
// zero beyond two decimal places.
func cents(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

// fromCents converts integer cents back to a decimal amount.
func fromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}
