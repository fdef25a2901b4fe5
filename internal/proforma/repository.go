package proforma

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/facturio/facturio/internal/document"
	"github.com/facturio/facturio/internal/platform/db"
	"github.com/facturio/facturio/internal/series"
	"github.com/facturio/facturio/internal/shared"
)

const proformaColumns = `
	id, company_id, client_id, client_name, client_cif, client_address,
	series_id, number, status, currency, issue_date, valid_until, invoice_id,
	notes, cancelled_at, cancel_reason,
	subtotal, vat_total, discount_total, total,
	created_by, created_at, updated_at`

// Repository provides PostgreSQL backed persistence for proformas.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert stores a new proforma. When a series id is present the sequential
// number is drawn under the series row lock in the same transaction, so a
// failed insert never consumes a number.
func (r *Repository) Insert(ctx context.Context, p *Proforma, ev document.Event) (*Proforma, error) {
	err := db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		if p.SeriesID != nil {
			number, seq, err := series.IssueNumber(ctx, tx, *p.SeriesID)
			if err != nil {
				return err
			}
			p.Number = number
			if ev.Metadata == nil {
				ev.Metadata = map[string]any{}
			}
			ev.Metadata["number"] = number
			ev.Metadata["sequence"] = seq
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO proformas (`+proformaColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)`,
			p.ID, p.CompanyID, p.ClientID, p.ClientName, p.ClientCIF, p.ClientAddress,
			p.SeriesID, p.Number, p.Status, p.Currency, p.IssueDate, p.ValidUntil, p.InvoiceID,
			p.Notes, p.CancelledAt, p.CancelReason,
			p.Totals.Subtotal, p.Totals.VATTotal, p.Totals.Discount, p.Totals.Total,
			p.CreatedBy, p.CreatedAt, p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("proforma: insert: %w", err)
		}
		if err := insertLines(ctx, tx, p.ID, p.Lines); err != nil {
			return err
		}
		return document.AppendEvent(ctx, tx, ev)
	})
	if err != nil {
		if db.IsLockFailure(err) {
			return nil, shared.Retryable(err)
		}
		return nil, err
	}
	return p, nil
}

// Get loads one proforma with lines, excluding soft-deleted rows.
func (r *Repository) Get(ctx context.Context, companyID, id uuid.UUID) (*Proforma, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+proformaColumns+`
		FROM proformas
		WHERE id = $1 AND company_id = $2 AND deleted_at IS NULL`, id, companyID)
	p, err := scanProforma(row)
	if err != nil {
		return nil, err
	}
	p.Lines, err = loadLines(ctx, r.pool, p.ID)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// List returns a filtered page.
func (r *Repository) List(ctx context.Context, companyID uuid.UUID, f Filter) ([]Proforma, shared.Pagination, error) {
	where := `company_id = $1 AND deleted_at IS NULL`
	args := []any{companyID}
	if f.Status != "" {
		args = append(args, f.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.ClientID != uuid.Nil {
		args = append(args, f.ClientID)
		where += fmt.Sprintf(" AND client_id = $%d", len(args))
	}
	if f.Number != "" {
		args = append(args, "%"+f.Number+"%")
		where += fmt.Sprintf(" AND number ILIKE $%d", len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM proformas WHERE `+where, args...).Scan(&total); err != nil {
		return nil, shared.Pagination{}, fmt.Errorf("proforma: count: %w", err)
	}
	page := shared.NewPagination(f.Page, f.PerPage, total)

	args = append(args, page.PerPage, page.Offset())
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT `+proformaColumns+`
		FROM proformas
		WHERE `+where+`
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, page, fmt.Errorf("proforma: list: %w", err)
	}
	defer rows.Close()

	var out []Proforma
	for rows.Next() {
		p, err := scanProforma(rows)
		if err != nil {
			return nil, page, err
		}
		out = append(out, *p)
	}
	return out, page, rows.Err()
}

// UpdateDraft rewrites an editable proforma. Lines are replaced all-or-nothing.
func (r *Repository) UpdateDraft(ctx context.Context, p *Proforma, ev document.Event) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE proformas SET
				client_id = $3, client_name = $4, client_cif = $5, client_address = $6,
				currency = $7, issue_date = $8, valid_until = $9, notes = $10,
				subtotal = $11, vat_total = $12, discount_total = $13, total = $14, updated_at = $15
			WHERE id = $1 AND company_id = $2 AND deleted_at IS NULL`,
			p.ID, p.CompanyID, p.ClientID, p.ClientName, p.ClientCIF, p.ClientAddress,
			p.Currency, p.IssueDate, p.ValidUntil, p.Notes,
			p.Totals.Subtotal, p.Totals.VATTotal, p.Totals.Discount, p.Totals.Total, p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("proforma: update: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		if _, err := tx.Exec(ctx, `DELETE FROM proforma_lines WHERE proforma_id = $1`, p.ID); err != nil {
			return fmt.Errorf("proforma: clear lines: %w", err)
		}
		if err := insertLines(ctx, tx, p.ID, p.Lines); err != nil {
			return err
		}
		return document.AppendEvent(ctx, tx, ev)
	})
}

// UpdateStatus applies a conditional transition with its side fields.
func (r *Repository) UpdateStatus(ctx context.Context, cmd StatusUpdate) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		set := `status = $4, updated_at = NOW()`
		args := []any{cmd.ID, cmd.CompanyID, cmd.From, cmd.To}
		if cmd.CancelledAt != nil {
			args = append(args, cmd.CancelledAt, cmd.Reason)
			set += fmt.Sprintf(", cancelled_at = $%d, cancel_reason = $%d", len(args)-1, len(args))
		}
		if cmd.ClearCancellation {
			set += `, cancelled_at = NULL, cancel_reason = ''`
		}
		if cmd.SetInvoiceID != nil {
			args = append(args, *cmd.SetInvoiceID)
			set += fmt.Sprintf(", invoice_id = $%d", len(args))
		}
		tag, err := tx.Exec(ctx, `
			UPDATE proformas SET `+set+`
			WHERE id = $1 AND company_id = $2 AND status = $3 AND deleted_at IS NULL`, args...)
		if err != nil {
			return fmt.Errorf("proforma: update status: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrConflict
		}
		return document.AppendEvent(ctx, tx, document.Event{
			Kind:           document.KindProforma,
			DocumentID:     cmd.ID,
			PreviousStatus: cmd.From,
			NewStatus:      cmd.To,
			ActorID:        cmd.ActorID,
			Action:         cmd.Action,
			Metadata:       cmd.Metadata,
		})
	})
}

// SoftDelete hides the proforma and compensates the series counter when this
// document still holds the latest number.
func (r *Repository) SoftDelete(ctx context.Context, companyID, id, actorID uuid.UUID) (bool, error) {
	decremented := false
	err := db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		var status document.Status
		var number string
		var seriesID *uuid.UUID
		err := tx.QueryRow(ctx, `
			SELECT status, number, series_id
			FROM proformas
			WHERE id = $1 AND company_id = $2 AND deleted_at IS NULL
			FOR UPDATE`, id, companyID).Scan(&status, &number, &seriesID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("proforma: lock for delete: %w", err)
		}
		if status != document.StatusDraft && status != document.StatusCancelled {
			return shared.NewDomain("proforma %s in status %s cannot be deleted", number, status)
		}
		if seriesID != nil {
			decremented, err = series.DecrementIfCurrent(ctx, tx, *seriesID, number)
			if err != nil {
				return err
			}
		}
		if _, err := tx.Exec(ctx, `UPDATE proformas SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1`, id); err != nil {
			return fmt.Errorf("proforma: soft delete: %w", err)
		}
		return document.AppendEvent(ctx, tx, document.Event{
			Kind:           document.KindProforma,
			DocumentID:     id,
			PreviousStatus: status,
			NewStatus:      status,
			ActorID:        actorID,
			Action:         "deleted",
			Metadata:       map[string]any{"number": number, "counterDecremented": decremented},
		})
	})
	if err != nil {
		if db.IsLockFailure(err) {
			return false, shared.Retryable(err)
		}
		return false, err
	}
	return decremented, nil
}

// ListExpirable returns sent or accepted proformas past their validity date.
func (r *Repository) ListExpirable(ctx context.Context, now time.Time, limit int) ([]Proforma, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+proformaColumns+`
		FROM proformas
		WHERE valid_until IS NOT NULL AND valid_until < $1
		  AND status IN ('SENT', 'ACCEPTED') AND deleted_at IS NULL
		ORDER BY valid_until
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("proforma: list expirable: %w", err)
	}
	defer rows.Close()

	var out []Proforma
	for rows.Next() {
		p, err := scanProforma(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// ListEvents returns the audit trail of one proforma.
func (r *Repository) ListEvents(ctx context.Context, companyID, id uuid.UUID) ([]document.Event, error) {
	return document.ListEvents(ctx, r.pool, document.KindProforma, id)
}

func insertLines(ctx context.Context, tx pgx.Tx, proformaID uuid.UUID, lines []document.Line) error {
	for _, l := range lines {
		_, err := tx.Exec(ctx, `
			INSERT INTO proforma_lines (
				proforma_id, position, description, quantity, unit_price,
				discount_amount, discount_percent, vat_rate, vat_category, tax_inclusive,
				unit_of_measure, product_code, note, net, vat, gross, discount
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
			proformaID, l.Position, l.Description, l.Quantity, l.UnitPrice,
			l.DiscountAmount, l.DiscountPercent, l.VATRate, l.VATCategory, l.TaxInclusive,
			l.UnitOfMeasure, l.ProductCode, l.Note, l.Net, l.VAT, l.Gross, l.Discount)
		if err != nil {
			return fmt.Errorf("proforma: insert line %d: %w", l.Position, err)
		}
	}
	return nil
}

func loadLines(ctx context.Context, pool *pgxpool.Pool, proformaID uuid.UUID) ([]document.Line, error) {
	rows, err := pool.Query(ctx, `
		SELECT position, description, quantity, unit_price, discount_amount, discount_percent,
		       vat_rate, vat_category, tax_inclusive, unit_of_measure, product_code, note,
		       net, vat, gross, discount
		FROM proforma_lines
		WHERE proforma_id = $1
		ORDER BY position`, proformaID)
	if err != nil {
		return nil, fmt.Errorf("proforma: load lines: %w", err)
	}
	defer rows.Close()

	var lines []document.Line
	for rows.Next() {
		var l document.Line
		if err := rows.Scan(&l.Position, &l.Description, &l.Quantity, &l.UnitPrice, &l.DiscountAmount, &l.DiscountPercent,
			&l.VATRate, &l.VATCategory, &l.TaxInclusive, &l.UnitOfMeasure, &l.ProductCode, &l.Note,
			&l.Net, &l.VAT, &l.Gross, &l.Discount); err != nil {
			return nil, fmt.Errorf("proforma: scan line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func scanProforma(row pgx.Row) (*Proforma, error) {
	var p Proforma
	err := row.Scan(
		&p.ID, &p.CompanyID, &p.ClientID, &p.ClientName, &p.ClientCIF, &p.ClientAddress,
		&p.SeriesID, &p.Number, &p.Status, &p.Currency, &p.IssueDate, &p.ValidUntil, &p.InvoiceID,
		&p.Notes, &p.CancelledAt, &p.CancelReason,
		&p.Totals.Subtotal, &p.Totals.VATTotal, &p.Totals.Discount, &p.Totals.Total,
		&p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("proforma: scan: %w", err)
	}
	return &p, nil
}
