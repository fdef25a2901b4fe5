// Package convert builds invoices and delivery notes out of other documents.
// Conversions are two-phase: the target document is created first, then the
// source is linked. A failed link leaves an orphan target and reports the
// error rather than corrupting the source.
package convert

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/facturio/facturio/internal/deliverynote"
	"github.com/facturio/facturio/internal/document"
	"github.com/facturio/facturio/internal/invoice"
	"github.com/facturio/facturio/internal/proforma"
	"github.com/facturio/facturio/internal/receipt"
	"github.com/facturio/facturio/internal/shared"
)

// InvoicePort creates invoice drafts.
type InvoicePort interface {
	Create(ctx context.Context, companyID, actorID uuid.UUID, in invoice.CreateInput) (*invoice.Invoice, error)
}

// ProformaPort reads and links proformas.
type ProformaPort interface {
	Get(ctx context.Context, companyID, id uuid.UUID) (*proforma.Proforma, error)
	MarkConverted(ctx context.Context, companyID, actorID, id, invoiceID uuid.UUID) error
}

// DeliveryNotePort reads, creates and links delivery notes.
type DeliveryNotePort interface {
	Get(ctx context.Context, companyID, id uuid.UUID) (*deliverynote.DeliveryNote, error)
	Create(ctx context.Context, companyID, actorID uuid.UUID, in deliverynote.CreateInput) (*deliverynote.DeliveryNote, error)
	MarkConverted(ctx context.Context, companyID, actorID, id, invoiceID uuid.UUID) error
}

// ReceiptPort reads and links receipts.
type ReceiptPort interface {
	Get(ctx context.Context, companyID, id uuid.UUID) (*receipt.Receipt, error)
	MarkInvoiced(ctx context.Context, companyID, actorID, id, invoiceID uuid.UUID) error
}

// Pipeline wires cross-kind document conversions.
type Pipeline struct {
	invoices  InvoicePort
	proformas ProformaPort
	notes     DeliveryNotePort
	receipts  ReceiptPort
}

// NewPipeline constructs a Pipeline.
func NewPipeline(invoices InvoicePort, proformas ProformaPort, notes DeliveryNotePort, receipts ReceiptPort) *Pipeline {
	return &Pipeline{invoices: invoices, proformas: proformas, notes: notes, receipts: receipts}
}

// ProformaToInvoice builds an invoice draft from a sent or accepted proforma
// and marks the proforma converted.
func (p *Pipeline) ProformaToInvoice(ctx context.Context, companyID, actorID, proformaID uuid.UUID) (*invoice.Invoice, error) {
	src, err := p.proformas.Get(ctx, companyID, proformaID)
	if err != nil {
		return nil, err
	}
	if !src.Convertible() {
		return nil, shared.NewDomain("proforma %s in status %s cannot be converted", src.Number, src.Status)
	}
	inv, err := p.invoices.Create(ctx, companyID, actorID, invoice.CreateInput{
		ClientID:      src.ClientID,
		ClientName:    src.ClientName,
		ClientCIF:     src.ClientCIF,
		ClientAddress: src.ClientAddress,
		Currency:      src.Currency,
		Notes:         fmt.Sprintf("Conform proforma #%s din %s", src.Number, src.IssueDate.Format("02.01.2006")),
		Lines:         stripDerived(src.Lines),
	})
	if err != nil {
		return nil, err
	}
	if err := p.proformas.MarkConverted(ctx, companyID, actorID, proformaID, inv.ID); err != nil {
		return inv, fmt.Errorf("convert: invoice %s created but proforma %s not linked: %w", inv.ID, src.Number, err)
	}
	return inv, nil
}

// ProformaToDeliveryNote builds a delivery note draft from a sent or accepted
// proforma. The proforma stays untouched: it may still become an invoice.
func (p *Pipeline) ProformaToDeliveryNote(ctx context.Context, companyID, actorID, proformaID uuid.UUID) (*deliverynote.DeliveryNote, error) {
	src, err := p.proformas.Get(ctx, companyID, proformaID)
	if err != nil {
		return nil, err
	}
	if !src.Convertible() {
		return nil, shared.NewDomain("proforma %s in status %s cannot be converted", src.Number, src.Status)
	}
	return p.notes.Create(ctx, companyID, actorID, deliverynote.CreateInput{
		ClientID:      src.ClientID,
		ClientName:    src.ClientName,
		ClientCIF:     src.ClientCIF,
		ClientAddress: src.ClientAddress,
		Currency:      src.Currency,
		Notes:         fmt.Sprintf("Conform proforma #%s", src.Number),
		Lines:         stripDerived(src.Lines),
	})
}

// DeliveryNoteToInvoice builds an invoice draft from an issued delivery note
// and marks the note converted.
func (p *Pipeline) DeliveryNoteToInvoice(ctx context.Context, companyID, actorID, noteID uuid.UUID) (*invoice.Invoice, error) {
	src, err := p.notes.Get(ctx, companyID, noteID)
	if err != nil {
		return nil, err
	}
	if !src.Convertible() {
		return nil, shared.NewDomain("delivery note %s in status %s cannot be converted", src.Number, src.Status)
	}
	inv, err := p.invoices.Create(ctx, companyID, actorID, invoice.CreateInput{
		ClientID:      src.ClientID,
		ClientName:    src.ClientName,
		ClientCIF:     src.ClientCIF,
		ClientAddress: src.ClientAddress,
		Currency:      src.Currency,
		Notes:         fmt.Sprintf("Conform aviz #%s din %s", src.Number, src.IssueDate.Format("02.01.2006")),
		Lines:         stripDerived(src.Lines),
	})
	if err != nil {
		return nil, err
	}
	if err := p.notes.MarkConverted(ctx, companyID, actorID, noteID, inv.ID); err != nil {
		return inv, fmt.Errorf("convert: invoice %s created but delivery note %s not linked: %w", inv.ID, src.Number, err)
	}
	return inv, nil
}

// ReceiptToInvoice builds an invoice draft from an issued receipt and marks
// the receipt invoiced.
func (p *Pipeline) ReceiptToInvoice(ctx context.Context, companyID, actorID, receiptID uuid.UUID) (*invoice.Invoice, error) {
	src, err := p.receipts.Get(ctx, companyID, receiptID)
	if err != nil {
		return nil, err
	}
	if !src.Invoiceable() {
		return nil, shared.NewDomain("receipt %s in status %s cannot be invoiced", src.Number, src.Status)
	}
	inv, err := p.invoices.Create(ctx, companyID, actorID, invoice.CreateInput{
		ClientID:   src.ClientID,
		ClientName: src.ClientName,
		Currency:   src.Currency,
		Notes:      fmt.Sprintf("Conform bon fiscal #%s din %s", src.Number, src.IssueDate.Format("02.01.2006")),
		Lines:      stripDerived(src.Lines),
	})
	if err != nil {
		return nil, err
	}
	if err := p.receipts.MarkInvoiced(ctx, companyID, actorID, receiptID, inv.ID); err != nil {
		return inv, fmt.Errorf("convert: invoice %s created but receipt %s not linked: %w", inv.ID, src.Number, err)
	}
	return inv, nil
}

// BulkDeliveryNotesToInvoice merges many issued delivery notes into one
// invoice draft. All preconditions are verified before anything is created:
// a single ineligible note rejects the whole batch and leaves every source
// untouched.
func (p *Pipeline) BulkDeliveryNotesToInvoice(ctx context.Context, companyID, actorID uuid.UUID, noteIDs []uuid.UUID) (*invoice.Invoice, error) {
	noteIDs = lo.Uniq(noteIDs)
	if len(noteIDs) == 0 {
		return nil, shared.NewValidation("noteIds", "at least one delivery note is required")
	}
	if len(noteIDs) > 100 {
		return nil, shared.NewValidation("noteIds", "at most 100 delivery notes per call")
	}

	notes := make([]*deliverynote.DeliveryNote, 0, len(noteIDs))
	for _, id := range noteIDs {
		n, err := p.notes.Get(ctx, companyID, id)
		if err != nil {
			return nil, err
		}
		if !n.Convertible() {
			return nil, shared.NewDomain("delivery note %s in status %s cannot be converted", n.Number, n.Status)
		}
		notes = append(notes, n)
	}
	first := notes[0]
	for _, n := range notes[1:] {
		if n.ClientID != first.ClientID {
			return nil, shared.NewDomain("delivery notes %s and %s belong to different clients", first.Number, n.Number)
		}
		if n.Currency != first.Currency {
			return nil, shared.NewDomain("delivery notes %s and %s use different currencies", first.Number, n.Number)
		}
	}

	var lines []document.Line
	for _, n := range notes {
		for _, l := range n.Lines {
			l.Note = fmt.Sprintf("Aviz #%s", n.Number)
			lines = append(lines, l)
		}
	}
	inv, err := p.invoices.Create(ctx, companyID, actorID, invoice.CreateInput{
		ClientID:      first.ClientID,
		ClientName:    first.ClientName,
		ClientCIF:     first.ClientCIF,
		ClientAddress: first.ClientAddress,
		Currency:      first.Currency,
		Notes:         fmt.Sprintf("Factura centralizatoare pentru %d avize", len(notes)),
		Lines:         stripDerived(lines),
	})
	if err != nil {
		return nil, err
	}
	for _, n := range notes {
		if err := p.notes.MarkConverted(ctx, companyID, actorID, n.ID, inv.ID); err != nil {
			return inv, fmt.Errorf("convert: invoice %s created but delivery note %s not linked: %w", inv.ID, n.Number, err)
		}
	}
	return inv, nil
}

// stripDerived clears computed amounts and positions so the target document
// recomputes them from scratch.
func stripDerived(src []document.Line) []document.Line {
	out := make([]document.Line, len(src))
	for i, l := range src {
		l.Position = 0
		l.Net = decimal.Decimal{}
		l.VAT = decimal.Decimal{}
		l.Gross = decimal.Decimal{}
		l.Discount = decimal.Decimal{}
		out[i] = l
	}
	return out
}
