package company

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const companyColumns = `id, name, cif, country, default_currency, timezone, efactura_delay_hours, archive_retention_days, created_at, updated_at`

// Repository provides PostgreSQL backed persistence for companies.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get loads one company.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Company, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+companyColumns+` FROM companies WHERE id = $1`, id)
	return scanCompany(row)
}

// Create inserts a company with defaults applied.
func (r *Repository) Create(ctx context.Context, c *Company) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Country == "" {
		c.Country = "RO"
	}
	if c.DefaultCurrency == "" {
		c.DefaultCurrency = "RON"
	}
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now
	_, err := r.pool.Exec(ctx, `
		INSERT INTO companies (`+companyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.Name, c.CIF, c.Country, c.DefaultCurrency, c.Timezone, c.EfacturaDelayHours, c.ArchiveRetentionDays, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("company: insert: %w", err)
	}
	return nil
}

// Update persists mutable company settings.
func (r *Repository) Update(ctx context.Context, c *Company) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE companies
		SET name = $2, cif = $3, country = $4, default_currency = $5, timezone = $6,
		    efactura_delay_hours = $7, archive_retention_days = $8, updated_at = NOW()
		WHERE id = $1`,
		c.ID, c.Name, c.CIF, c.Country, c.DefaultCurrency, c.Timezone, c.EfacturaDelayHours, c.ArchiveRetentionDays)
	if err != nil {
		return fmt.Errorf("company: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListIDs returns every company id, used by batch jobs.
func (r *Repository) ListIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM companies ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("company: list ids: %w", err)
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("company: scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanCompany(row pgx.Row) (*Company, error) {
	var c Company
	err := row.Scan(&c.ID, &c.Name, &c.CIF, &c.Country, &c.DefaultCurrency, &c.Timezone, &c.EfacturaDelayHours, &c.ArchiveRetentionDays, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("company: scan: %w", err)
	}
	return &c, nil
}
