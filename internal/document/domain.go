// Package document holds the building blocks shared by every fiscal document
// kind: line items and their arithmetic, the status machine executor, and the
// append-only event trail.
package document

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind identifies a fiscal document kind.
type Kind string

const (
	KindInvoice      Kind = "invoice"
	KindProforma     Kind = "proforma"
	KindDeliveryNote Kind = "delivery_note"
	KindReceipt      Kind = "receipt"
)

// Status is a lifecycle state of a document. Not every status applies to
// every kind; each kind declares its own transition table.
type Status string

const (
	StatusDraft          Status = "DRAFT"
	StatusIssued         Status = "ISSUED"
	StatusRefund         Status = "REFUND"
	StatusRefunded       Status = "REFUNDED"
	StatusCancelled      Status = "CANCELLED"
	StatusSentToProvider Status = "SENT_TO_PROVIDER"
	StatusValidated      Status = "VALIDATED"
	StatusRejected       Status = "REJECTED"
	StatusSynced         Status = "SYNCED"
	StatusSent           Status = "SENT"
	StatusAccepted       Status = "ACCEPTED"
	StatusExpired        Status = "EXPIRED"
	StatusConverted      Status = "CONVERTED"
	StatusInvoiced       Status = "INVOICED"
)

// Action names a lifecycle operation requested on a document.
type Action string

const (
	ActionIssue         Action = "issue"
	ActionCancel        Action = "cancel"
	ActionRestore       Action = "restore"
	ActionConvert       Action = "convert"
	ActionSend          Action = "send"
	ActionAccept        Action = "accept"
	ActionReject        Action = "reject"
	ActionExpire        Action = "expire"
	ActionSubmit        Action = "submit"
	ActionMarkValidated Action = "mark_validated"
	ActionMarkRejected  Action = "mark_rejected"
	ActionMarkSynced    Action = "mark_synced"
	ActionInvoice       Action = "invoice"
)

// Line is a document line item. Position is 1-based and contiguous within the
// parent document. Monetary fields are decimal because totals feed fiscal
// declarations.
type Line struct {
	Position        int             `json:"position"`
	Description     string          `json:"description"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unitPrice"`
	DiscountAmount  decimal.Decimal `json:"discountAmount"`
	DiscountPercent decimal.Decimal `json:"discountPercent"`
	VATRate         decimal.Decimal `json:"vatRate"`
	VATCategory     string          `json:"vatCategory"`
	TaxInclusive    bool            `json:"taxInclusive"`
	UnitOfMeasure   string          `json:"unitOfMeasure"`
	ProductCode     string          `json:"productCode"`
	Note            string          `json:"note"`

	// Derived by ComputeLine, never hand-set.
	Net      decimal.Decimal `json:"net"`
	VAT      decimal.Decimal `json:"vat"`
	Gross    decimal.Decimal `json:"gross"`
	Discount decimal.Decimal `json:"discount"`
}

// Totals are document-level aggregates derived from lines.
type Totals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	VATTotal decimal.Decimal `json:"vatTotal"`
	Discount decimal.Decimal `json:"discount"`
	Total    decimal.Decimal `json:"total"`
}

// Event is one append-only entry in a document's audit trail.
type Event struct {
	ID             uuid.UUID      `json:"id"`
	Kind           Kind           `json:"kind"`
	DocumentID     uuid.UUID      `json:"documentId"`
	PreviousStatus Status         `json:"previousStatus"`
	NewStatus      Status         `json:"newStatus"`
	ActorID        uuid.UUID      `json:"actorId"`
	Action         string         `json:"action"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// Line defaults applied when a caller omits the field.
var (
	DefaultQuantity    = decimal.NewFromInt(1)
	DefaultVATRate     = decimal.RequireFromString("21")
	DefaultUnit        = "buc"
	DefaultVATCategory = "S"
)

// NormalizeLine fills defaults and assigns the 1-based position.
func NormalizeLine(l Line, position int) Line {
	l.Position = position
	if l.Quantity.IsZero() {
		l.Quantity = DefaultQuantity
	}
	// A zero rate with an explicit category (Z, E, AE) stays zero; the
	// standard rate is only assumed when neither was provided.
	if l.VATRate.IsZero() && l.VATCategory == "" {
		l.VATRate = DefaultVATRate
	}
	if l.UnitOfMeasure == "" {
		l.UnitOfMeasure = DefaultUnit
	}
	if l.VATCategory == "" {
		l.VATCategory = DefaultVATCategory
	}
	return l
}
