package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is satisfied by pgx.Tx and pgxpool.Pool, letting events be appended
// inside the same transaction that mutates the document.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// AppendEvent inserts one audit-trail entry. The table is insert-only;
// nothing in the codebase updates or deletes rows from it.
func AppendEvent(ctx context.Context, q Querier, ev Event) error {
	if ev.DocumentID == uuid.Nil {
		return errors.New("document: event requires a document id")
	}
	if ev.Action == "" {
		return errors.New("document: event requires an action")
	}
	meta, err := json.Marshal(ev.Metadata)
	if err != nil {
		return fmt.Errorf("document: marshal event metadata: %w", err)
	}
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	_, err = q.Exec(ctx, `
		INSERT INTO document_events (id, kind, document_id, previous_status, new_status, actor_id, action, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		ev.ID, ev.Kind, ev.DocumentID, nullStatus(ev.PreviousStatus), nullStatus(ev.NewStatus), nullUUID(ev.ActorID), ev.Action, meta, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("document: append event: %w", err)
	}
	return nil
}

// ListEvents returns the trail for one document, oldest first.
func ListEvents(ctx context.Context, pool *pgxpool.Pool, kind Kind, documentID uuid.UUID) ([]Event, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, kind, document_id, COALESCE(previous_status, ''), COALESCE(new_status, ''), actor_id, action, metadata, created_at
		FROM document_events
		WHERE kind = $1 AND document_id = $2
		ORDER BY created_at ASC`, kind, documentID)
	if err != nil {
		return nil, fmt.Errorf("document: list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var actor *uuid.UUID
		var meta []byte
		if err := rows.Scan(&ev.ID, &ev.Kind, &ev.DocumentID, &ev.PreviousStatus, &ev.NewStatus, &actor, &ev.Action, &meta, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("document: scan event: %w", err)
		}
		if actor != nil {
			ev.ActorID = *actor
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &ev.Metadata)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func nullStatus(s Status) *string {
	if s == "" {
		return nil
	}
	v := string(s)
	return &v
}

func nullUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
