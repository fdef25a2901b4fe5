package recurring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/facturio/facturio/internal/platform/db"
	"github.com/facturio/facturio/internal/shared"
)

const templateColumns = `
	id, company_id, name, client_id, client_name, client_cif, client_address,
	kind, series_id, currency, frequency, frequency_day,
	next_issuance_date, stop_date, active,
	due_policy_type, due_policy_value, auto_issue, notes,
	created_by, created_at, updated_at`

// Repository provides PostgreSQL backed persistence for templates.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert stores a template with its lines.
func (r *Repository) Insert(ctx context.Context, t *Template) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO recurring_templates (`+templateColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)`,
			t.ID, t.CompanyID, t.Name, t.ClientID, t.ClientName, t.ClientCIF, t.ClientAddress,
			t.Kind, t.SeriesID, t.Currency, t.Frequency, t.FrequencyDay,
			t.NextIssuanceDate, t.StopDate, t.Active,
			t.DueDatePolicy.Type, t.DueDatePolicy.Value, t.AutoIssue, t.Notes,
			t.CreatedBy, t.CreatedAt, t.UpdatedAt)
		if err != nil {
			return fmt.Errorf("recurring: insert: %w", err)
		}
		return insertLines(ctx, tx, t.ID, t.Lines)
	})
}

// Get loads one template with lines.
func (r *Repository) Get(ctx context.Context, companyID, id uuid.UUID) (*Template, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+templateColumns+`
		FROM recurring_templates
		WHERE id = $1 AND company_id = $2`, id, companyID)
	t, err := scanTemplate(row)
	if err != nil {
		return nil, err
	}
	t.Lines, err = loadLines(ctx, r.pool, t.ID)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// List returns a filtered page.
func (r *Repository) List(ctx context.Context, companyID uuid.UUID, f Filter) ([]Template, shared.Pagination, error) {
	where := `company_id = $1`
	args := []any{companyID}
	if f.Kind != "" {
		args = append(args, f.Kind)
		where += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	if f.Active != nil {
		args = append(args, *f.Active)
		where += fmt.Sprintf(" AND active = $%d", len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM recurring_templates WHERE `+where, args...).Scan(&total); err != nil {
		return nil, shared.Pagination{}, fmt.Errorf("recurring: count: %w", err)
	}
	page := shared.NewPagination(f.Page, f.PerPage, total)

	args = append(args, page.PerPage, page.Offset())
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT `+templateColumns+`
		FROM recurring_templates
		WHERE `+where+`
		ORDER BY name
		LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, page, fmt.Errorf("recurring: list: %w", err)
	}
	defer rows.Close()

	var out []Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, page, err
		}
		out = append(out, *t)
	}
	return out, page, rows.Err()
}

// Update rewrites a template and replaces its lines.
func (r *Repository) Update(ctx context.Context, t *Template) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE recurring_templates SET
				name = $3, client_id = $4, client_name = $5, client_cif = $6, client_address = $7,
				series_id = $8, frequency = $9, frequency_day = $10,
				next_issuance_date = $11, stop_date = $12,
				due_policy_type = $13, due_policy_value = $14, auto_issue = $15, notes = $16, updated_at = $17
			WHERE id = $1 AND company_id = $2`,
			t.ID, t.CompanyID, t.Name, t.ClientID, t.ClientName, t.ClientCIF, t.ClientAddress,
			t.SeriesID, t.Frequency, t.FrequencyDay,
			t.NextIssuanceDate, t.StopDate,
			t.DueDatePolicy.Type, t.DueDatePolicy.Value, t.AutoIssue, t.Notes, t.UpdatedAt)
		if err != nil {
			return fmt.Errorf("recurring: update: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		if _, err := tx.Exec(ctx, `DELETE FROM recurring_template_lines WHERE template_id = $1`, t.ID); err != nil {
			return fmt.Errorf("recurring: clear lines: %w", err)
		}
		return insertLines(ctx, tx, t.ID, t.Lines)
	})
}

// SetActive flips the active flag.
func (r *Repository) SetActive(ctx context.Context, companyID, id uuid.UUID, active bool) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE recurring_templates SET active = $3, updated_at = NOW()
		WHERE id = $1 AND company_id = $2`, id, companyID, active)
	if err != nil {
		return fmt.Errorf("recurring: set active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDue returns active templates whose issuance date has passed.
func (r *Repository) ListDue(ctx context.Context, now time.Time, limit int) ([]Template, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+templateColumns+`
		FROM recurring_templates
		WHERE active AND next_issuance_date <= $1
		ORDER BY next_issuance_date
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("recurring: list due: %w", err)
	}
	defer rows.Close()

	var out []Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Lines, err = loadLines(ctx, r.pool, out[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Advance moves the schedule forward, or deactivates when next is nil.
func (r *Repository) Advance(ctx context.Context, id uuid.UUID, next *time.Time) error {
	var err error
	if next == nil {
		_, err = r.pool.Exec(ctx, `
			UPDATE recurring_templates SET active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	} else {
		_, err = r.pool.Exec(ctx, `
			UPDATE recurring_templates SET next_issuance_date = $2, updated_at = NOW() WHERE id = $1`, id, *next)
	}
	if err != nil {
		return fmt.Errorf("recurring: advance: %w", err)
	}
	return nil
}

// ProductPrices reads current catalog prices for updated_product lines.
type ProductPrices struct {
	pool *pgxpool.Pool
}

// NewProductPrices constructs the price reader.
func NewProductPrices(pool *pgxpool.Pool) *ProductPrices {
	return &ProductPrices{pool: pool}
}

// CurrentPrice returns the product's present unit price.
func (p *ProductPrices) CurrentPrice(ctx context.Context, companyID, productID uuid.UUID) (decimal.Decimal, error) {
	var price decimal.Decimal
	err := p.pool.QueryRow(ctx, `
		SELECT unit_price FROM products
		WHERE id = $1 AND company_id = $2`, productID, companyID).Scan(&price)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Decimal{}, fmt.Errorf("recurring: product %s: %w", productID, ErrNotFound)
	}
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("recurring: product price: %w", err)
	}
	return price, nil
}

func insertLines(ctx context.Context, tx pgx.Tx, templateID uuid.UUID, lines []TemplateLine) error {
	for _, l := range lines {
		_, err := tx.Exec(ctx, `
			INSERT INTO recurring_template_lines (
				template_id, position, description, quantity, unit_price,
				vat_rate, vat_category, unit_of_measure,
				price_rule, product_id, ref_currency, ref_markup_percent
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
			templateID, l.Position, l.Description, l.Quantity, l.UnitPrice,
			l.VATRate, l.VATCategory, l.UnitOfMeasure,
			l.PriceRule, l.ProductID, l.RefCurrency, l.RefMarkupPercent)
		if err != nil {
			return fmt.Errorf("recurring: insert line %d: %w", l.Position, err)
		}
	}
	return nil
}

func loadLines(ctx context.Context, pool *pgxpool.Pool, templateID uuid.UUID) ([]TemplateLine, error) {
	rows, err := pool.Query(ctx, `
		SELECT position, description, quantity, unit_price,
		       vat_rate, vat_category, unit_of_measure,
		       price_rule, product_id, ref_currency, ref_markup_percent
		FROM recurring_template_lines
		WHERE template_id = $1
		ORDER BY position`, templateID)
	if err != nil {
		return nil, fmt.Errorf("recurring: load lines: %w", err)
	}
	defer rows.Close()

	var lines []TemplateLine
	for rows.Next() {
		var l TemplateLine
		if err := rows.Scan(&l.Position, &l.Description, &l.Quantity, &l.UnitPrice,
			&l.VATRate, &l.VATCategory, &l.UnitOfMeasure,
			&l.PriceRule, &l.ProductID, &l.RefCurrency, &l.RefMarkupPercent); err != nil {
			return nil, fmt.Errorf("recurring: scan line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func scanTemplate(row pgx.Row) (*Template, error) {
	var t Template
	err := row.Scan(
		&t.ID, &t.CompanyID, &t.Name, &t.ClientID, &t.ClientName, &t.ClientCIF, &t.ClientAddress,
		&t.Kind, &t.SeriesID, &t.Currency, &t.Frequency, &t.FrequencyDay,
		&t.NextIssuanceDate, &t.StopDate, &t.Active,
		&t.DueDatePolicy.Type, &t.DueDatePolicy.Value, &t.AutoIssue, &t.Notes,
		&t.CreatedBy, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("recurring: scan: %w", err)
	}
	return &t, nil
}
