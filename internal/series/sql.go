package series

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/facturio/facturio/internal/document"
)

// IssueNumber assigns the next sequential number of a series inside the
// caller's transaction.
//
// The SELECT ... FOR UPDATE both locks the row and reads the counter; no
// value observed before the lock is ever used, so a competing transaction
// that advanced the counter while we waited is always observed. The caller
// commits or rolls back the whole issuance atomically with the document
// mutation.
func IssueNumber(ctx context.Context, q document.Querier, seriesID uuid.UUID) (string, int64, error) {
	rows, err := q.Query(ctx, `
		SELECT prefix, current_number, active
		FROM document_series
		WHERE id = $1
		FOR UPDATE`, seriesID)
	if err != nil {
		return "", 0, fmt.Errorf("series: lock: %w", err)
	}
	var prefix string
	var current int64
	var active bool
	found := false
	for rows.Next() {
		if err := rows.Scan(&prefix, &current, &active); err != nil {
			rows.Close()
			return "", 0, fmt.Errorf("series: scan: %w", err)
		}
		found = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return "", 0, fmt.Errorf("series: lock: %w", err)
	}
	if !found {
		return "", 0, ErrNotFound
	}
	if !active {
		return "", 0, ErrInactive
	}

	next := current + 1
	tag, err := q.Exec(ctx, `
		UPDATE document_series
		SET current_number = $2, updated_at = NOW()
		WHERE id = $1`, seriesID, next)
	if err != nil {
		return "", 0, fmt.Errorf("series: advance: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return "", 0, errors.New("series: advance affected no rows")
	}
	return FormatNumber(prefix, next), next, nil
}

// DecrementIfCurrent rolls the counter back by one, but only when number is
// still the latest the series assigned. It re-acquires the row lock and
// re-reads before deciding, so two concurrent deletes cannot decrement twice.
// Returns whether the counter moved.
func DecrementIfCurrent(ctx context.Context, q document.Querier, seriesID uuid.UUID, number string) (bool, error) {
	rows, err := q.Query(ctx, `
		SELECT prefix, current_number
		FROM document_series
		WHERE id = $1
		FOR UPDATE`, seriesID)
	if err != nil {
		return false, fmt.Errorf("series: lock: %w", err)
	}
	var prefix string
	var current int64
	found := false
	for rows.Next() {
		if err := rows.Scan(&prefix, &current); err != nil {
			rows.Close()
			return false, fmt.Errorf("series: scan: %w", err)
		}
		found = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("series: lock: %w", err)
	}
	if !found {
		return false, ErrNotFound
	}
	if current <= 0 || FormatNumber(prefix, current) != number {
		return false, nil
	}

	_, err = q.Exec(ctx, `
		UPDATE document_series
		SET current_number = current_number - 1, updated_at = NOW()
		WHERE id = $1`, seriesID)
	if err != nil {
		return false, fmt.Errorf("series: decrement: %w", err)
	}
	return true, nil
}

// scanSeries maps one row into a Series.
func scanSeries(row pgx.Row) (*Series, error) {
	var s Series
	err := row.Scan(&s.ID, &s.CompanyID, &s.Prefix, &s.Kind, &s.CurrentNumber, &s.IsDefault, &s.Active, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("series: scan: %w", err)
	}
	return &s, nil
}
