package txlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no record exists for the given id.
var ErrNotFound = errors.New("txlog: record not found")

// CreateParams carries the execution metadata persisted with a new record.
type CreateParams struct {
	UserID    string
	ChainID   uint64
	Skill     string
	Intent    string
	AmountUSD float64
}

// StatusExtra carries optional fields written alongside a status update.
type StatusExtra struct {
	TxHash      string
	BlockNumber int64
	Error       string
}

// Create inserts a new record with status pending and returns its id.
//
// Ids are UUIDv7: the embedded timestamp makes records sortable by creation
// time, which the reporting reads rely on.
func (s *Store) Create(ctx context.Context, p CreateParams) (string, error) {
	id := uuid.Must(uuid.NewV7()).String()
	now := s.now().UTC().Format(timeFormat)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions
		(id, user_id, chain_id, skill, intent, status, amount_usd, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		id,
		p.UserID,
		p.ChainID,
		p.Skill,
		p.Intent,
		string(StatusPending),
		p.AmountUSD,
		now,
		now,
	)
	if err != nil {
		return "", fmt.Errorf("create transaction record: %w", err)
	}
	return id, nil
}

// UpdateStatus advances a record's status.
//
// Transitions are monotonic: the success path only moves forward, terminal
// states are never overwritten, and re-writing the current status is an
// idempotent no-op. A violating transition returns an error and leaves the
// record untouched.
func (s *Store) UpdateStatus(ctx context.Context, id string, status Status, extra *StatusExtra) error {
	if !status.Valid() {
		return fmt.Errorf("txlog: unknown status %q", status)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		var current Status
		err := tx.QueryRowContext(ctx, `SELECT status FROM transactions WHERE id = ?`, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("read current status: %w", err)
		}

		if current == status {
			return nil
		}
		if err := canTransition(current, status); err != nil {
			return fmt.Errorf("txlog: %w", err)
		}

		var (
			hash   string
			block  sql.NullInt64
			errMsg string
		)
		if extra != nil {
			hash = extra.TxHash
			errMsg = extra.Error
			if extra.BlockNumber > 0 {
				block = sql.NullInt64{Int64: extra.BlockNumber, Valid: true}
			}
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE transactions
			SET status = ?,
			    tx_hash = CASE WHEN ? != '' THEN ? ELSE tx_hash END,
			    block_number = COALESCE(?, block_number),
			    error = CASE WHEN ? != '' THEN ? ELSE error END,
			    updated_at = ?
			WHERE id = ?
		`,
			string(status),
			hash, hash,
			block,
			errMsg, errMsg,
			s.now().UTC().Format(timeFormat),
			id,
		)
		if err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		return nil
	})
}
