// Package receipt implements fiscal receipts (bonuri fiscale) issued from a
// cash register, optionally rolled up into an invoice later.
package receipt

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/facturio/facturio/internal/document"
	"github.com/facturio/facturio/internal/shared"
)

var ErrNotFound = errors.New("receipt: not found")

// Payment splits the received amount by instrument. The split must add up to
// the receipt total.
type Payment struct {
	Cash  decimal.Decimal `json:"cash"`
	Card  decimal.Decimal `json:"card"`
	Other decimal.Decimal `json:"other"`
}

// Sum returns the total amount received.
func (p Payment) Sum() decimal.Decimal {
	return p.Cash.Add(p.Card).Add(p.Other)
}

// Receipt records a point-of-sale transaction.
type Receipt struct {
	ID         uuid.UUID  `json:"id"`
	CompanyID  uuid.UUID  `json:"companyId"`
	ClientID   uuid.UUID  `json:"clientId"`
	ClientName string     `json:"clientName"`
	SeriesID   *uuid.UUID `json:"seriesId,omitempty"`
	Number     string     `json:"number"`

	Status   document.Status `json:"status"`
	Currency string          `json:"currency"`

	IssueDate time.Time `json:"issueDate"`

	CashRegisterName string `json:"cashRegisterName"`
	// FiscalNumber is the number printed by the fiscal cash register, distinct
	// from the internal sequential number.
	FiscalNumber string  `json:"fiscalNumber"`
	Payment      Payment `json:"payment"`

	InvoiceID *uuid.UUID `json:"invoiceId,omitempty"`

	Notes        string     `json:"notes"`
	CancelledAt  *time.Time `json:"cancelledAt,omitempty"`
	CancelReason string     `json:"cancelReason,omitempty"`
	IssuedAt     *time.Time `json:"issuedAt,omitempty"`
	DeletedAt    *time.Time `json:"-"`

	Lines  []document.Line `json:"lines"`
	Totals document.Totals `json:"totals"`

	CreatedBy uuid.UUID `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Editable reports whether the receipt content may still change.
func (r *Receipt) Editable() bool {
	return r.Status == document.StatusDraft
}

// Deletable reports whether the receipt may be soft-deleted.
func (r *Receipt) Deletable() bool {
	return r.Status == document.StatusDraft || r.Status == document.StatusCancelled
}

// Invoiceable reports whether an invoice may be built from this receipt.
func (r *Receipt) Invoiceable() bool {
	return r.Status == document.StatusIssued
}

// TempNumber mints the placeholder used before issuance.
func TempNumber() string {
	return "BON-" + strings.Split(uuid.NewString(), "-")[0]
}

var machine = buildMachine()

// INVOICED is terminal: once an invoice wraps the receipt, cancelling the
// receipt would desynchronize the two fiscal records.
func buildMachine() *document.Machine[*Receipt] {
	m := document.NewMachine[*Receipt](document.KindReceipt)

	m.Allow(document.StatusDraft, document.ActionIssue, document.StatusIssued, nil)
	m.Allow(document.StatusDraft, document.ActionCancel, document.StatusCancelled, nil)
	m.Allow(document.StatusIssued, document.ActionCancel, document.StatusCancelled, nil)
	m.Allow(document.StatusCancelled, document.ActionRestore, document.StatusDraft, nil)
	m.Allow(document.StatusIssued, document.ActionInvoice, document.StatusInvoiced, nil)

	return m
}

// validatePayment checks the split covers the total exactly.
func validatePayment(p Payment, total decimal.Decimal) error {
	for _, amt := range []decimal.Decimal{p.Cash, p.Card, p.Other} {
		if amt.IsNegative() {
			return shared.NewValidation("payment", "amounts must not be negative")
		}
	}
	if !p.Sum().Equal(total) {
		return shared.NewValidation("payment", "split must equal the receipt total")
	}
	return nil
}
