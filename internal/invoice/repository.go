package invoice

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

const invoiceColumns = `
	id, company_id, client_id, client_name, client_cif, client_address, direction,
	series_id, number, status, currency, issue_date, due_date, parent_id,
	anaf_upload_id, provider, scheduled_send_at, scheduled_email_at,
	penalty_percent_per_day, notes, cancelled_at, cancel_reason, issued_at,
	subtotal, vat_total, discount_total, total,
	created_by, created_at, updated_at`

// Repository provides PostgreSQL backed persistence for invoices.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert stores a new draft with its lines and creation event in one
// transaction.
func (r *Repository) Insert(ctx context.Context, inv *Invoice, ev document.Event) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO invoices (`+invoiceColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30)`,
			inv.ID, inv.CompanyID, inv.ClientID, inv.ClientName, inv.ClientCIF, inv.ClientAddress, inv.Direction,
			inv.SeriesID, inv.Number, inv.Status, inv.Currency, inv.IssueDate, inv.DueDate, inv.ParentID,
			inv.AnafUploadID, inv.Provider, inv.ScheduledSendAt, inv.ScheduledEmailAt,
			inv.PenaltyPercentPerDay, inv.Notes, inv.CancelledAt, inv.CancelReason, inv.IssuedAt,
			inv.Totals.Subtotal, inv.Totals.VATTotal, inv.Totals.Discount, inv.Totals.Total,
			inv.CreatedBy, inv.CreatedAt, inv.UpdatedAt)
		if err != nil {
			return fmt.Errorf("invoice: insert: %w", err)
		}
		if err := insertLines(ctx, tx, inv.ID, inv.Lines); err != nil {
			return err
		}
		return document.AppendEvent(ctx, tx, ev)
	})
}

// Get loads one invoice with lines, excluding soft-deleted rows.
func (r *Repository) Get(ctx context.Context, companyID, id uuid.UUID) (*Invoice, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE id = $1 AND company_id = $2 AND deleted_at IS NULL`, id, companyID)
	inv, err := scanInvoice(row)
	if err != nil {
		return nil, err
	}
	inv.Lines, err = loadLines(ctx, r.pool, inv.ID)
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// List returns a filtered page.
func (r *Repository) List(ctx context.Context, companyID uuid.UUID, f Filter) ([]Invoice, shared.Pagination, error) {
	where := `company_id = $1 AND deleted_at IS NULL`
	args := []any{companyID}
	if f.Status != "" {
		args = append(args, f.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.Direction != "" {
		args = append(args, f.Direction)
		where += fmt.Sprintf(" AND direction = $%d", len(args))
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
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM invoices WHERE `+where, args...).Scan(&total); err != nil {
		return nil, shared.Pagination{}, fmt.Errorf("invoice: count: %w", err)
	}
	page := shared.NewPagination(f.Page, f.PerPage, total)

	args = append(args, page.PerPage, page.Offset())
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE `+where+`
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, page, fmt.Errorf("invoice: list: %w", err)
	}
	defer rows.Close()

	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, page, err
		}
		out = append(out, *inv)
	}
	return out, page, rows.Err()
}

// UpdateDraft rewrites an editable invoice. Lines are replaced all-or-nothing.
func (r *Repository) UpdateDraft(ctx context.Context, inv *Invoice, ev document.Event) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE invoices SET
				client_id = $3, client_name = $4, client_cif = $5, client_address = $6,
				series_id = $7, currency = $8, issue_date = $9, due_date = $10, notes = $11,
				subtotal = $12, vat_total = $13, discount_total = $14, total = $15, updated_at = $16
			WHERE id = $1 AND company_id = $2 AND deleted_at IS NULL`,
			inv.ID, inv.CompanyID, inv.ClientID, inv.ClientName, inv.ClientCIF, inv.ClientAddress,
			inv.SeriesID, inv.Currency, inv.IssueDate, inv.DueDate, inv.Notes,
			inv.Totals.Subtotal, inv.Totals.VATTotal, inv.Totals.Discount, inv.Totals.Total, inv.UpdatedAt)
		if err != nil {
			return fmt.Errorf("invoice: update: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		if _, err := tx.Exec(ctx, `DELETE FROM invoice_lines WHERE invoice_id = $1`, inv.ID); err != nil {
			return fmt.Errorf("invoice: clear lines: %w", err)
		}
		if err := insertLines(ctx, tx, inv.ID, inv.Lines); err != nil {
			return err
		}
		return document.AppendEvent(ctx, tx, ev)
	})
}

// Issue numbers the invoice and flips its status in one transaction. The
// series row lock serializes concurrent issuance; lock failures surface as
// retryable errors with no number consumed.
func (r *Repository) Issue(ctx context.Context, cmd IssueCommand) (*Invoice, error) {
	var number string
	err := db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		var seq int64
		var err error
		number, seq, err = series.IssueNumber(ctx, tx, cmd.SeriesID)
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			UPDATE invoices
			SET series_id = $3, number = $4, status = $5, issued_at = $6, scheduled_send_at = $7, updated_at = $6
			WHERE id = $1 AND company_id = $2 AND status = 'DRAFT' AND deleted_at IS NULL`,
			cmd.ID, cmd.CompanyID, cmd.SeriesID, number, cmd.NewStatus, cmd.IssuedAt, cmd.ScheduledSendAt)
		if err != nil {
			return fmt.Errorf("invoice: issue update: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrConflict
		}
		if err := document.AppendEvent(ctx, tx, document.Event{
			Kind:           document.KindInvoice,
			DocumentID:     cmd.ID,
			PreviousStatus: document.StatusDraft,
			NewStatus:      cmd.NewStatus,
			ActorID:        cmd.ActorID,
			Action:         "issued",
			Metadata:       map[string]any{"number": number, "sequence": seq},
			CreatedAt:      cmd.IssuedAt,
		}); err != nil {
			return err
		}
		if cmd.ParentID != nil {
			var parentStatus document.Status
			if err := tx.QueryRow(ctx, `SELECT status FROM invoices WHERE id = $1 AND company_id = $2 FOR UPDATE`,
				*cmd.ParentID, cmd.CompanyID).Scan(&parentStatus); err != nil {
				return fmt.Errorf("invoice: lock parent: %w", err)
			}
			if _, err := tx.Exec(ctx, `UPDATE invoices SET status = 'REFUNDED', updated_at = $3 WHERE id = $1 AND company_id = $2`,
				*cmd.ParentID, cmd.CompanyID, cmd.IssuedAt); err != nil {
				return fmt.Errorf("invoice: refund parent: %w", err)
			}
			if err := document.AppendEvent(ctx, tx, document.Event{
				Kind:           document.KindInvoice,
				DocumentID:     *cmd.ParentID,
				PreviousStatus: parentStatus,
				NewStatus:      document.StatusRefunded,
				ActorID:        cmd.ActorID,
				Action:         "refunded",
				Metadata:       map[string]any{"refundNumber": number},
				CreatedAt:      cmd.IssuedAt,
			}); err != nil {
				return err
			}
		}
		return nil
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
		if cmd.ClearSchedules {
			set += `, scheduled_send_at = NULL`
		}
		if cmd.SetProvider != nil {
			args = append(args, *cmd.SetProvider)
			set += fmt.Sprintf(", provider = $%d", len(args))
		}
		if cmd.ResetUploadID {
			set += `, anaf_upload_id = NULL`
		}
		if cmd.SetUploadID != nil {
			args = append(args, *cmd.SetUploadID)
			set += fmt.Sprintf(", anaf_upload_id = $%d", len(args))
		}
		tag, err := tx.Exec(ctx, `
			UPDATE invoices SET `+set+`
			WHERE id = $1 AND company_id = $2 AND status = $3 AND deleted_at IS NULL`, args...)
		if err != nil {
			return fmt.Errorf("invoice: update status: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrConflict
		}
		return document.AppendEvent(ctx, tx, document.Event{
			Kind:           document.KindInvoice,
			DocumentID:     cmd.ID,
			PreviousStatus: cmd.From,
			NewStatus:      cmd.To,
			ActorID:        cmd.ActorID,
			Action:         cmd.Action,
			Metadata:       cmd.Metadata,
		})
	})
}

// SoftDelete hides the invoice and compensates the series counter when this
// invoice still holds the latest number and was never uploaded. The document
// row is locked first so the number comparison cannot race another delete.
func (r *Repository) SoftDelete(ctx context.Context, cmd DeleteCommand) (bool, error) {
	decremented := false
	err := db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		var status document.Status
		var number string
		var seriesID *uuid.UUID
		var uploadID *string
		err := tx.QueryRow(ctx, `
			SELECT status, number, series_id, anaf_upload_id
			FROM invoices
			WHERE id = $1 AND company_id = $2 AND deleted_at IS NULL
			FOR UPDATE`, cmd.ID, cmd.CompanyID).Scan(&status, &number, &seriesID, &uploadID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("invoice: lock for delete: %w", err)
		}
		if status != document.StatusDraft && status != document.StatusCancelled {
			return shared.NewDomain("invoice %s in status %s cannot be deleted", number, status)
		}
		if seriesID != nil && uploadID == nil {
			decremented, err = series.DecrementIfCurrent(ctx, tx, *seriesID, number)
			if err != nil {
				return err
			}
		}
		if _, err := tx.Exec(ctx, `UPDATE invoices SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1`, cmd.ID); err != nil {
			return fmt.Errorf("invoice: soft delete: %w", err)
		}
		return document.AppendEvent(ctx, tx, document.Event{
			Kind:           document.KindInvoice,
			DocumentID:     cmd.ID,
			PreviousStatus: status,
			NewStatus:      status,
			ActorID:        cmd.ActorID,
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

// HasRefundChildren reports whether any live refund child references parentID.
func (r *Repository) HasRefundChildren(ctx context.Context, companyID, parentID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM invoices
			WHERE company_id = $1 AND parent_id = $2 AND deleted_at IS NULL AND status <> 'CANCELLED'
		)`, companyID, parentID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("invoice: refund children: %w", err)
	}
	return exists, nil
}

// ListScheduledForSubmission returns invoices due for automatic submission.
func (r *Repository) ListScheduledForSubmission(ctx context.Context, now time.Time, limit int) ([]Invoice, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE scheduled_send_at IS NOT NULL AND scheduled_send_at <= $1
		  AND status IN ('ISSUED', 'REFUND') AND deleted_at IS NULL
		ORDER BY scheduled_send_at
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("invoice: list scheduled: %w", err)
	}
	defer rows.Close()

	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inv)
	}
	return out, rows.Err()
}

// ListEvents returns the audit trail of one invoice.
func (r *Repository) ListEvents(ctx context.Context, companyID, id uuid.UUID) ([]document.Event, error) {
	return document.ListEvents(ctx, r.pool, document.KindInvoice, id)
}

func insertLines(ctx context.Context, tx pgx.Tx, invoiceID uuid.UUID, lines []document.Line) error {
	for _, l := range lines {
		_, err := tx.Exec(ctx, `
			INSERT INTO invoice_lines (
				invoice_id, position, description, quantity, unit_price,
				discount_amount, discount_percent, vat_rate, vat_category, tax_inclusive,
				unit_of_measure, product_code, note, net, vat, gross, discount
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
			invoiceID, l.Position, l.Description, l.Quantity, l.UnitPrice,
			l.DiscountAmount, l.DiscountPercent, l.VATRate, l.VATCategory, l.TaxInclusive,
			l.UnitOfMeasure, l.ProductCode, l.Note, l.Net, l.VAT, l.Gross, l.Discount)
		if err != nil {
			return fmt.Errorf("invoice: insert line %d: %w", l.Position, err)
		}
	}
	return nil
}

func loadLines(ctx context.Context, pool *pgxpool.Pool, invoiceID uuid.UUID) ([]document.Line, error) {
	rows, err := pool.Query(ctx, `
		SELECT position, description, quantity, unit_price, discount_amount, discount_percent,
		       vat_rate, vat_category, tax_inclusive, unit_of_measure, product_code, note,
		       net, vat, gross, discount
		FROM invoice_lines
		WHERE invoice_id = $1
		ORDER BY position`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("invoice: load lines: %w", err)
	}
	defer rows.Close()

	var lines []document.Line
	for rows.Next() {
		var l document.Line
		if err := rows.Scan(&l.Position, &l.Description, &l.Quantity, &l.UnitPrice, &l.DiscountAmount, &l.DiscountPercent,
			&l.VATRate, &l.VATCategory, &l.TaxInclusive, &l.UnitOfMeasure, &l.ProductCode, &l.Note,
			&l.Net, &l.VAT, &l.Gross, &l.Discount); err != nil {
			return nil, fmt.Errorf("invoice: scan line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(
		&inv.ID, &inv.CompanyID, &inv.ClientID, &inv.ClientName, &inv.ClientCIF, &inv.ClientAddress, &inv.Direction,
		&inv.SeriesID, &inv.Number, &inv.Status, &inv.Currency, &inv.IssueDate, &inv.DueDate, &inv.ParentID,
		&inv.AnafUploadID, &inv.Provider, &inv.ScheduledSendAt, &inv.ScheduledEmailAt,
		&inv.PenaltyPercentPerDay, &inv.Notes, &inv.CancelledAt, &inv.CancelReason, &inv.IssuedAt,
		&inv.Totals.Subtotal, &inv.Totals.VATTotal, &inv.Totals.Discount, &inv.Totals.Total,
		&inv.CreatedBy, &inv.CreatedAt, &inv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("invoice: scan: %w", err)
	}
	return &inv, nil
}
