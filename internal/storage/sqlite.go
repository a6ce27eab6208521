package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrNotFound is returned when a row does not exist
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique constraint rejects an insert
	ErrDuplicate = errors.New("duplicate")
)

var db *sql.DB

// Querier is satisfied by both *sql.DB and *sql.Tx
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// InitDB initializes the SQLite database connection with WAL mode
func InitDB(dbPath string) error {
	var err error

	path := dbPath
	if dbPath != ":memory:" {
		path, err = filepath.Abs(dbPath)
		if err != nil {
			return err
		}
	}

	db, err = sql.Open("sqlite", path)
	if err != nil {
		return err
	}

	// SQLite has a single writer. One connection keeps every transaction
	// serialized and lets ":memory:" databases survive across calls.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	if err := runMigrations(); err != nil {
		return err
	}

	return nil
}

// DB returns the database connection
func DB() *sql.DB {
	return db
}

// CloseDB closes the database connection
func CloseDB() error {
	if db != nil {
		return db.Close()
	}
	return nil
}

// WithTx runs fn inside a serializable transaction. The transaction is
// committed when fn returns nil and rolled back otherwise.
func WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if db == nil {
		return fmt.Errorf("database not initialized")
	}

	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// runMigrations creates the necessary tables
func runMigrations() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			telegram_id INTEGER UNIQUE NOT NULL,
			username TEXT,
			first_name TEXT NOT NULL,
			balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			amount INTEGER NOT NULL,
			source_type TEXT NOT NULL,
			reference TEXT,
			description TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (user_id) REFERENCES users(id)
		)`,
		`CREATE TABLE IF NOT EXISTS challenges (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			creator_id INTEGER NOT NULL,
			title TEXT NOT NULL,
			min_bet INTEGER NOT NULL CHECK (min_bet > 0),
			start_at INTEGER NOT NULL,
			end_at INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			visibility TEXT NOT NULL DEFAULT 'public',
			commission_rate_public TEXT NOT NULL,
			commission_rate_friends TEXT NOT NULL,
			validation_mode TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			CHECK (end_at >= start_at),
			FOREIGN KEY (creator_id) REFERENCES users(id)
		)`,
		`CREATE TABLE IF NOT EXISTS participations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			challenge_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			bet_amount INTEGER NOT NULL CHECK (bet_amount > 0),
			status TEXT NOT NULL DEFAULT 'active',
			joined_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			UNIQUE (challenge_id, user_id),
			FOREIGN KEY (challenge_id) REFERENCES challenges(id),
			FOREIGN KEY (user_id) REFERENCES users(id)
		)`,
		`CREATE TABLE IF NOT EXISTS proofs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			participation_id INTEGER NOT NULL UNIQUE,
			content TEXT NOT NULL,
			value REAL,
			confidence REAL,
			submitted_at INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			decided_by INTEGER,
			organizer_comment TEXT,
			resolved_at INTEGER,
			FOREIGN KEY (participation_id) REFERENCES participations(id)
		)`,
		`CREATE TABLE IF NOT EXISTS votes (
			proof_id INTEGER NOT NULL,
			voter_id INTEGER NOT NULL,
			vote_type TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (proof_id, voter_id),
			FOREIGN KEY (proof_id) REFERENCES proofs(id)
		)`,
		`CREATE TABLE IF NOT EXISTS distribution_receipts (
			challenge_id INTEGER PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			result TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			FOREIGN KEY (challenge_id) REFERENCES challenges(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_user_id ON transactions(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_created_at ON transactions(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_challenges_status_end ON challenges(status, end_at)`,
		`CREATE INDEX IF NOT EXISTS idx_participations_challenge ON participations(challenge_id, status)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// isConstraintViolation reports whether err came from a UNIQUE or
// PRIMARY KEY constraint
func isConstraintViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}
	return false
}

// Times are stored as unix nanoseconds so injected clocks compare exactly
func toUnix(t time.Time) int64 {
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func fromNullUnix(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromUnix(n.Int64)
	return &t
}
