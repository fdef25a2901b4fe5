package receipt

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/facturio/facturio/internal/document"
	"github.com/facturio/facturio/internal/platform/db"
	"github.com/facturio/facturio/internal/series"
	"github.com/facturio/facturio/internal/shared"
)

const receiptColumns = `
	id, company_id, client_id, client_name,
	series_id, number, status, currency, issue_date,
	cash_register_name, fiscal_number,
	payment_cash, payment_card, payment_other,
	invoice_id, notes, cancelled_at, cancel_reason, issued_at,
	subtotal, vat_total, discount_total, total,
	created_by, created_at, updated_at`

// Repository provides PostgreSQL backed persistence for receipts.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert stores a new draft with its lines and creation event.
func (r *Repository) Insert(ctx context.Context, rc *Receipt, ev document.Event) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO receipts (`+receiptColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26)`,
			rc.ID, rc.CompanyID, rc.ClientID, rc.ClientName,
			rc.SeriesID, rc.Number, rc.Status, rc.Currency, rc.IssueDate,
			rc.CashRegisterName, rc.FiscalNumber,
			rc.Payment.Cash, rc.Payment.Card, rc.Payment.Other,
			rc.InvoiceID, rc.Notes, rc.CancelledAt, rc.CancelReason, rc.IssuedAt,
			rc.Totals.Subtotal, rc.Totals.VATTotal, rc.Totals.Discount, rc.Totals.Total,
			rc.CreatedBy, rc.CreatedAt, rc.UpdatedAt)
		if err != nil {
			return fmt.Errorf("receipt: insert: %w", err)
		}
		if err := insertLines(ctx, tx, rc.ID, rc.Lines); err != nil {
			return err
		}
		return document.AppendEvent(ctx, tx, ev)
	})
}

// Get loads one receipt with lines, excluding soft-deleted rows.
func (r *Repository) Get(ctx context.Context, companyID, id uuid.UUID) (*Receipt, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+receiptColumns+`
		FROM receipts
		WHERE id = $1 AND company_id = $2 AND deleted_at IS NULL`, id, companyID)
	rc, err := scanReceipt(row)
	if err != nil {
		return nil, err
	}
	rc.Lines, err = loadLines(ctx, r.pool, rc.ID)
	if err != nil {
		return nil, err
	}
	return rc, nil
}

// List returns a filtered page.
func (r *Repository) List(ctx context.Context, companyID uuid.UUID, f Filter) ([]Receipt, shared.Pagination, error) {
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
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM receipts WHERE `+where, args...).Scan(&total); err != nil {
		return nil, shared.Pagination{}, fmt.Errorf("receipt: count: %w", err)
	}
	page := shared.NewPagination(f.Page, f.PerPage, total)

	args = append(args, page.PerPage, page.Offset())
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT `+receiptColumns+`
		FROM receipts
		WHERE `+where+`
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, page, fmt.Errorf("receipt: list: %w", err)
	}
	defer rows.Close()

	var out []Receipt
	for rows.Next() {
		rc, err := scanReceipt(rows)
		if err != nil {
			return nil, page, err
		}
		out = append(out, *rc)
	}
	return out, page, rows.Err()
}

// UpdateDraft rewrites an editable receipt.
func (r *Repository) UpdateDraft(ctx context.Context, rc *Receipt, ev document.Event) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE receipts SET
				client_id = $3, client_name = $4, currency = $5, issue_date = $6,
				cash_register_name = $7, fiscal_number = $8,
				payment_cash = $9, payment_card = $10, payment_other = $11,
				notes = $12, subtotal = $13, vat_total = $14, discount_total = $15, total = $16, updated_at = $17
			WHERE id = $1 AND company_id = $2 AND deleted_at IS NULL`,
			rc.ID, rc.CompanyID, rc.ClientID, rc.ClientName, rc.Currency, rc.IssueDate,
			rc.CashRegisterName, rc.FiscalNumber,
			rc.Payment.Cash, rc.Payment.Card, rc.Payment.Other,
			rc.Notes, rc.Totals.Subtotal, rc.Totals.VATTotal, rc.Totals.Discount, rc.Totals.Total, rc.UpdatedAt)
		if err != nil {
			return fmt.Errorf("receipt: update: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		if _, err := tx.Exec(ctx, `DELETE FROM receipt_lines WHERE receipt_id = $1`, rc.ID); err != nil {
			return fmt.Errorf("receipt: clear lines: %w", err)
		}
		if err := insertLines(ctx, tx, rc.ID, rc.Lines); err != nil {
			return err
		}
		return document.AppendEvent(ctx, tx, ev)
	})
}

// Issue numbers the receipt and flips it to ISSUED in one transaction.
func (r *Repository) Issue(ctx context.Context, cmd IssueCommand) (*Receipt, error) {
	err := db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		number, seq, err := series.IssueNumber(ctx, tx, cmd.SeriesID)
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			UPDATE receipts
			SET series_id = $3, number = $4, status = 'ISSUED', issued_at = $5, updated_at = $5
			WHERE id = $1 AND company_id = $2 AND status = 'DRAFT' AND deleted_at IS NULL`,
			cmd.ID, cmd.CompanyID, cmd.SeriesID, number, cmd.IssuedAt)
		if err != nil {
			return fmt.Errorf("receipt: issue update: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrConflict
		}
		return document.AppendEvent(ctx, tx, document.Event{
			Kind:           document.KindReceipt,
			DocumentID:     cmd.ID,
			PreviousStatus: document.StatusDraft,
			NewStatus:      document.StatusIssued,
			ActorID:        cmd.ActorID,
			Action:         "issued",
			Metadata:       map[string]any{"number": number, "sequence": seq},
			CreatedAt:      cmd.IssuedAt,
		})
	})
	if err != nil {
		if db.IsLockFailure(err) {
			return nil, shared.Retryable(err)
		}
		return nil, err
	}
	return r.Get(ctx, cmd.CompanyID, cmd.ID)
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
			UPDATE receipts SET `+set+`
			WHERE id = $1 AND company_id = $2 AND status = $3 AND deleted_at IS NULL`, args...)
		if err != nil {
			return fmt.Errorf("receipt: update status: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrConflict
		}
		return document.AppendEvent(ctx, tx, document.Event{
			Kind:           document.KindReceipt,
			DocumentID:     cmd.ID,
			PreviousStatus: cmd.From,
			NewStatus:      cmd.To,
			ActorID:        cmd.ActorID,
			Action:         cmd.Action,
			Metadata:       cmd.Metadata,
		})
	})
}

// SoftDelete hides the receipt and compensates the series counter when it
// still holds the latest number.
func (r *Repository) SoftDelete(ctx context.Context, companyID, id, actorID uuid.UUID) (bool, error) {
	decremented := false
	err := db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		var status document.Status
		var number string
		var seriesID *uuid.UUID
		err := tx.QueryRow(ctx, `
			SELECT status, number, series_id
			FROM receipts
			WHERE id = $1 AND company_id = $2 AND deleted_at IS NULL
			FOR UPDATE`, id, companyID).Scan(&status, &number, &seriesID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("receipt: lock for delete: %w", err)
		}
		if status != document.StatusDraft && status != document.StatusCancelled {
			return shared.NewDomain("receipt %s in status %s cannot be deleted", number, status)
		}
		if seriesID != nil {
			decremented, err = series.DecrementIfCurrent(ctx, tx, *seriesID, number)
			if err != nil {
				return err
			}
		}
		if _, err := tx.Exec(ctx, `UPDATE receipts SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1`, id); err != nil {
			return fmt.Errorf("receipt: soft delete: %w", err)
		}
		return document.AppendEvent(ctx, tx, document.Event{
			Kind:           document.KindReceipt,
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

// ListEvents returns the audit trail of one receipt.
func (r *Repository) ListEvents(ctx context.Context, companyID, id uuid.UUID) ([]document.Event, error) {
	return document.ListEvents(ctx, r.pool, document.KindReceipt, id)
}

func insertLines(ctx context.Context, tx pgx.Tx, receiptID uuid.UUID, lines []document.Line) error {
	for _, l := range lines {
		_, err := tx.Exec(ctx, `
			INSERT INTO receipt_lines (
				receipt_id, position, description, quantity, unit_price,
				discount_amount, discount_percent, vat_rate, vat_category, tax_inclusive,
				unit_of_measure, product_code, note, net, vat, gross, discount
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
			receiptID, l.Position, l.Description, l.Quantity, l.UnitPrice,
			l.DiscountAmount, l.DiscountPercent, l.VATRate, l.VATCategory, l.TaxInclusive,
			l.UnitOfMeasure, l.ProductCode, l.Note, l.Net, l.VAT, l.Gross, l.Discount)
		if err != nil {
			return fmt.Errorf("receipt: insert line %d: %w", l.Position, err)
		}
	}
	return nil
}

func loadLines(ctx context.Context, pool *pgxpool.Pool, receiptID uuid.UUID) ([]document.Line, error) {
	rows, err := pool.Query(ctx, `
		SELECT position, description, quantity, unit_price, discount_amount, discount_percent,
		       vat_rate, vat_category, tax_inclusive, unit_of_measure, product_code, note,
		       net, vat, gross, discount
		FROM receipt_lines
		WHERE receipt_id = $1
		ORDER BY position`, receiptID)
	if err != nil {
		return nil, fmt.Errorf("receipt: load lines: %w", err)
	}
	defer rows.Close()

	var lines []document.Line
	for rows.Next() {
		var l document.Line
		if err := rows.Scan(&l.Position, &l.Description, &l.Quantity, &l.UnitPrice, &l.DiscountAmount, &l.DiscountPercent,
			&l.VATRate, &l.VATCategory, &l.TaxInclusive, &l.UnitOfMeasure, &l.ProductCode, &l.Note,
			&l.Net, &l.VAT, &l.Gross, &l.Discount); err != nil {
			return nil, fmt.Errorf("receipt: scan line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func scanReceipt(row pgx.Row) (*Receipt, error) {
	var rc Receipt
	err := row.Scan(
		&rc.ID, &rc.CompanyID, &rc.ClientID, &rc.ClientName,
		&rc.SeriesID, &rc.Number, &rc.Status, &rc.Currency, &rc.IssueDate,
		&rc.CashRegisterName, &rc.FiscalNumber,
		&rc.Payment.Cash, &rc.Payment.Card, &rc.Payment.Other,
		&rc.InvoiceID, &rc.Notes, &rc.CancelledAt, &rc.CancelReason, &rc.IssuedAt,
		&rc.Totals.Subtotal, &rc.Totals.VATTotal, &rc.Totals.Discount, &rc.Totals.Total,
		&rc.CreatedBy, &rc.CreatedAt, &rc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("receipt: scan: %w", err)
	}
	return &rc, nil
}
