package txlog

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - Initial schema
const currentSchemaVersion = 1

// timeFormat is RFC 3339 with fixed-width nanoseconds. time.RFC3339Nano
// trims trailing zeros, which breaks the lexicographic ordering the
// created_at index relies on.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Record is one persisted transaction attempt.
type Record struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	ChainID     uint64    `json:"chain_id"`
	Skill       string    `json:"skill"`
	Intent      string    `json:"intent"`
	Status      Status    `json:"status"`
	AmountUSD   float64   `json:"amount_usd"`
	TxHash      string    `json:"tx_hash,omitempty"`
	BlockNumber int64     `json:"block_number,omitempty"` // 0 when unknown
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Store is the SQLite-backed transaction log.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the transaction log database at the given path.
// Applies required pragmas and the schema automatically; idempotent.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version >= currentSchemaVersion {
		return nil
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return nil
}

func scanRecord(row interface{ Scan(...any) error }) (Record, error) {
	var (
		rec       Record
		block     sql.NullInt64
		createdAt string
		updatedAt string
	)
	err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.ChainID,
		&rec.Skill,
		&rec.Intent,
		&rec.Status,
		&rec.AmountUSD,
		&rec.TxHash,
		&block,
		&rec.Error,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return Record{}, err
	}
	if block.Valid {
		rec.BlockNumber = block.Int64
	}
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Record{}, fmt.Errorf("parse created_at: %w", err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return Record{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return rec, nil
}

const recordColumns = `id, user_id, chain_id, skill, intent, status, amount_usd, tx_hash, block_number, error, created_at, updated_at`

// inTx runs fn inside a transaction, committing on nil and rolling back on
// error.
func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
