// Package deliverynote implements delivery notes (avize de insotire) and
// their e-Transport declaration lifecycle.
package deliverynote

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/facturio/facturio/internal/document"
	"github.com/facturio/facturio/internal/shared"
)

var ErrNotFound = errors.New("deliverynote: not found")

// ETransportStatus tracks the declaration of the transport with the
// authority. Empty means never declared.
type ETransportStatus string

const (
	ETransportPending          ETransportStatus = "pending"
	ETransportUploaded         ETransportStatus = "uploaded"
	ETransportOK               ETransportStatus = "ok"
	ETransportNOK              ETransportStatus = "nok"
	ETransportValidationFailed ETransportStatus = "validation_failed"
	ETransportUploadFailed     ETransportStatus = "upload_failed"
	ETransportPendingTimeout   ETransportStatus = "pending_timeout"
)

// resubmittable are the e-Transport states a new declaration may start from.
var resubmittable = map[ETransportStatus]bool{
	"":                         true,
	ETransportValidationFailed: true,
	ETransportUploadFailed:     true,
	ETransportNOK:              true,
	ETransportPendingTimeout:   true,
}

// DeliveryNote accompanies goods in transit. It is numbered at issuance like
// an invoice but carries transport details instead of payment terms.
type DeliveryNote struct {
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

	IssueDate time.Time `json:"issueDate"`

	VehiclePlate    string     `json:"vehiclePlate"`
	DriverName      string     `json:"driverName"`
	TransportDate   *time.Time `json:"transportDate,omitempty"`
	DeliveryAddress string     `json:"deliveryAddress"`

	ETransportStatus ETransportStatus `json:"etransportStatus,omitempty"`
	// UITCode is assigned by the authority once the declaration is accepted.
	UITCode *string `json:"uitCode,omitempty"`

	ParentID  *uuid.UUID `json:"parentId,omitempty"`
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

// Editable reports whether the delivery note content may still change.
func (d *DeliveryNote) Editable() bool {
	return d.Status == document.StatusDraft
}

// Deletable reports whether the delivery note may be soft-deleted.
func (d *DeliveryNote) Deletable() bool {
	return d.Status == document.StatusDraft || d.Status == document.StatusCancelled
}

// Convertible reports whether an invoice may be built from this note.
func (d *DeliveryNote) Convertible() bool {
	return d.Status == document.StatusIssued
}

// TempNumber mints the placeholder used before issuance.
func TempNumber() string {
	return "AVZ-" + strings.Split(uuid.NewString(), "-")[0]
}

var machine = buildMachine()

func buildMachine() *document.Machine[*DeliveryNote] {
	m := document.NewMachine[*DeliveryNote](document.KindDeliveryNote)

	m.Allow(document.StatusDraft, document.ActionIssue, document.StatusIssued, nil)
	m.Allow(document.StatusDraft, document.ActionCancel, document.StatusCancelled, nil)
	m.Allow(document.StatusIssued, document.ActionCancel, document.StatusCancelled, guardNotDeclared)
	m.Allow(document.StatusCancelled, document.ActionRestore, document.StatusDraft, nil)
	m.Allow(document.StatusIssued, document.ActionConvert, document.StatusConverted, nil)

	return m
}

// guardNotDeclared refuses cancellation once the transport is with the
// authority.
func guardNotDeclared(d *DeliveryNote) error {
	if d.ETransportStatus == ETransportUploaded || d.ETransportStatus == ETransportOK {
		return shared.NewDomain("delivery note %s was declared to e-Transport and can no longer be cancelled", d.Number)
	}
	return nil
}
