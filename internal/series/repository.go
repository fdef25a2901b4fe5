package series

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/facturio/facturio/internal/document"
	"github.com/facturio/facturio/internal/platform/db"
)

const seriesColumns = `id, company_id, prefix, kind, current_number, is_default, active, created_at, updated_at`

// Repository provides PostgreSQL backed persistence for document series.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get loads one series scoped to a company.
func (r *Repository) Get(ctx context.Context, companyID, id uuid.UUID) (*Series, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+seriesColumns+`
		FROM document_series
		WHERE id = $1 AND company_id = $2`, id, companyID)
	return scanSeries(row)
}

// List returns all series for a company, defaults first.
func (r *Repository) List(ctx context.Context, companyID uuid.UUID) ([]Series, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+seriesColumns+`
		FROM document_series
		WHERE company_id = $1
		ORDER BY kind, is_default DESC, prefix`, companyID)
	if err != nil {
		return nil, fmt.Errorf("series: list: %w", err)
	}
	defer rows.Close()

	var out []Series
	for rows.Next() {
		var s Series
		if err := rows.Scan(&s.ID, &s.CompanyID, &s.Prefix, &s.Kind, &s.CurrentNumber, &s.IsDefault, &s.Active, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("series: scan: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// FindDefault returns the default active series for a document kind.
func (r *Repository) FindDefault(ctx context.Context, companyID uuid.UUID, kind document.Kind) (*Series, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+seriesColumns+`
		FROM document_series
		WHERE company_id = $1 AND kind = $2 AND is_default AND active
		LIMIT 1`, companyID, kind)
	s, err := scanSeries(row)
	if err == ErrNotFound {
		return nil, ErrNoDefault
	}
	return s, err
}

// Create inserts a series. When marked default it demotes the previous
// default for the same kind in the same transaction.
func (r *Repository) Create(ctx context.Context, s *Series) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	now := time.Now()
	s.CreatedAt = now
	s.UpdatedAt = now
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		if s.IsDefault {
			if _, err := tx.Exec(ctx, `
				UPDATE document_series SET is_default = FALSE, updated_at = NOW()
				WHERE company_id = $1 AND kind = $2 AND is_default`, s.CompanyID, s.Kind); err != nil {
				return fmt.Errorf("series: demote default: %w", err)
			}
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO document_series (`+seriesColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			s.ID, s.CompanyID, s.Prefix, s.Kind, s.CurrentNumber, s.IsDefault, s.Active, s.CreatedAt, s.UpdatedAt)
		if err != nil {
			return fmt.Errorf("series: insert: %w", err)
		}
		return nil
	})
}

// SetActive toggles a series.
func (r *Repository) SetActive(ctx context.Context, companyID, id uuid.UUID, active bool) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE document_series SET active = $3, updated_at = NOW()
		WHERE id = $1 AND company_id = $2`, id, companyID, active)
	if err != nil {
		return fmt.Errorf("series: set active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// EnsureDefaults creates the standard series set for a company where they do
// not exist yet.
func (r *Repository) EnsureDefaults(ctx context.Context, companyID uuid.UUID) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		for kind, prefix := range defaultPrefixes {
			_, err := tx.Exec(ctx, `
				INSERT INTO document_series (id, company_id, prefix, kind, current_number, is_default, active, created_at, updated_at)
				SELECT $1, $2, $3, $4, 0, TRUE, TRUE, NOW(), NOW()
				WHERE NOT EXISTS (
					SELECT 1 FROM document_series WHERE company_id = $2 AND kind = $4 AND is_default
				)`, uuid.New(), companyID, prefix, kind)
			if err != nil {
				return fmt.Errorf("series: ensure default %s: %w", kind, err)
			}
		}
		return nil
	})
}

// Upsert inserts a series or advances its counter, used by batch import.
// The counter only ever moves upward.
func (r *Repository) Upsert(ctx context.Context, tx pgx.Tx, s *Series) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO document_series (id, company_id, prefix, kind, current_number, is_default, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (company_id, prefix, kind) DO UPDATE
		SET current_number = GREATEST(document_series.current_number, EXCLUDED.current_number),
		    updated_at = NOW()`,
		s.ID, s.CompanyID, s.Prefix, s.Kind, s.CurrentNumber, s.IsDefault, s.Active)
	if err != nil {
		return fmt.Errorf("series: upsert: %w", err)
	}
	return nil
}

// WithTx runs fn inside one repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return db.WithTx(ctx, r.pool, fn)
}
