package txlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetByID returns the record with the given id, or ErrNotFound.
func (s *Store) GetByID(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM transactions
		WHERE id = ?
	`, id)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Record{}, fmt.Errorf("get transaction %s: %w", id, err)
	}
	return rec, nil
}

// ListByUser returns a user's records, newest first. A limit of 0 means no
// limit. Returns an empty slice (not nil) when the user has no records.
func (s *Store) ListByUser(ctx context.Context, userID string, limit int) ([]Record, error) {
	q := `
		SELECT ` + recordColumns + `
		FROM transactions
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC`
	args := []any{userID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions for %s: %w", userID, err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return records, nil
}

// CountByUser returns the number of records for a user. Used by the CLI
// summary output.
func (s *Store) CountByUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count transactions for %s: %w", userID, err)
	}
	return n, nil
}
