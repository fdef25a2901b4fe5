// Package proforma implements proforma invoices: numbered at creation,
// circulated for acceptance and convertible into fiscal invoices.
package proforma

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/facturio/facturio/internal/document"
)

var ErrNotFound = errors.New("proforma: not found")

// Proforma is a non-fiscal offer document. It never reaches ANAF.
type Proforma struct {
	ID            uuid.UUID  `json:"id"`
	CompanyID     uuid.UUID  `json:"companyId"`
	ClientID      uuid.UUID  `json:"clientId"`
	ClientName    string     `json:"clientName"`
	ClientCIF     string     `json:"clientCif"`
	ClientAddress string     `json:"clientAddress"`
	SeriesID      *uuid.UUID `json:"seriesId,omitempty"`
	Number        string     `json:"number"`

	Status   document.Status `json:"status"`
	Currency string          `json:"currency"`

	IssueDate  time.Time  `json:"issueDate"`
	ValidUntil *time.Time `json:"validUntil,omitempty"`

	// InvoiceID links to the invoice this proforma was converted into.
	InvoiceID *uuid.UUID `json:"invoiceId,omitempty"`

	Notes        string     `json:"notes"`
	CancelledAt  *time.Time `json:"cancelledAt,omitempty"`
	CancelReason string     `json:"cancelReason,omitempty"`
	DeletedAt    *time.Time `json:"-"`

	Lines  []document.Line `json:"lines"`
	Totals document.Totals `json:"totals"`

	CreatedBy uuid.UUID `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Editable reports whether the proforma content may still change.
func (p *Proforma) Editable() bool {
	return p.Status == document.StatusDraft
}

// Deletable reports whether the proforma may be soft-deleted.
func (p *Proforma) Deletable() bool {
	return p.Status == document.StatusDraft || p.Status == document.StatusCancelled
}

// TempNumber mints the placeholder used when no series is available.
func TempNumber() string {
	return "PRO-" + strings.Split(uuid.NewString(), "-")[0]
}

// convertible are the statuses a proforma may be converted from.
var convertible = map[document.Status]bool{
	document.StatusSent:     true,
	document.StatusAccepted: true,
}

var machine = buildMachine()

func buildMachine() *document.Machine[*Proforma] {
	m := document.NewMachine[*Proforma](document.KindProforma)

	m.Allow(document.StatusDraft, document.ActionSend, document.StatusSent, nil)
	m.Allow(document.StatusSent, document.ActionAccept, document.StatusAccepted, nil)
	m.Allow(document.StatusSent, document.ActionReject, document.StatusRejected, nil)

	for _, from := range []document.Status{document.StatusSent, document.StatusAccepted} {
		m.Allow(from, document.ActionExpire, document.StatusExpired, nil)
		m.Allow(from, document.ActionConvert, document.StatusConverted, nil)
	}

	// CONVERTED is terminal: the invoice exists, the proforma is frozen.
	for _, from := range []document.Status{
		document.StatusDraft, document.StatusSent, document.StatusAccepted,
		document.StatusRejected, document.StatusExpired,
	} {
		m.Allow(from, document.ActionCancel, document.StatusCancelled, nil)
	}
	m.Allow(document.StatusCancelled, document.ActionRestore, document.StatusDraft, nil)

	return m
}
