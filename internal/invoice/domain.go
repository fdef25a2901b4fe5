// Package invoice implements the invoice lifecycle: draft, sequential
// numbering, refund (storno) children, cancellation and e-invoice submission.
package invoice

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/facturio/facturio/internal/document"
	"github.com/facturio/facturio/internal/shared"
)

var (
	// ErrNotFound indicates the invoice does not exist or is soft-deleted.
	ErrNotFound = errors.New("invoice: not found")
)

// Direction tells whether the tenant emitted or received the invoice.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

// Invoice is the aggregate root of this package.
type Invoice struct {
	ID        uuid.UUID       `json:"id"`
	CompanyID uuid.UUID       `json:"companyId"`
	ClientID  uuid.UUID       `json:"clientId"`
	// Client fields are denormalized at creation so the fiscal document
	// stays immutable when the client record changes later.
	ClientName    string     `json:"clientName"`
	ClientCIF     string     `json:"clientCif"`
	ClientAddress string     `json:"clientAddress"`
	Direction     Direction  `json:"direction"`
	SeriesID      *uuid.UUID `json:"seriesId,omitempty"`
	Number        string     `json:"number"`

	Status   document.Status `json:"status"`
	Currency string          `json:"currency"`

	IssueDate time.Time  `json:"issueDate"`
	DueDate   *time.Time `json:"dueDate,omitempty"`

	ParentID *uuid.UUID `json:"parentId,omitempty"`

	AnafUploadID    *string    `json:"anafUploadId,omitempty"`
	Provider        *string    `json:"provider,omitempty"`
	ScheduledSendAt *time.Time `json:"scheduledSendAt,omitempty"`

	ScheduledEmailAt *time.Time `json:"scheduledEmailAt,omitempty"`

	PenaltyPercentPerDay *decimal.Decimal `json:"penaltyPercentPerDay,omitempty"`

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

// Editable reports whether lines and descriptive fields may still change.
// A rejected invoice is explicitly editable so the tenant can fix and
// resubmit it.
func (i *Invoice) Editable() bool {
	return i.Status == document.StatusDraft || i.Status == document.StatusRejected
}

// Deletable reports whether the invoice may be soft-deleted.
func (i *Invoice) Deletable() bool {
	return i.Status == document.StatusDraft || i.Status == document.StatusCancelled
}

// TempNumber mints the placeholder used before issuance.
func TempNumber() string {
	return "DRAFT-" + strings.Split(uuid.NewString(), "-")[0]
}

// stornoEligible are the parent statuses from which a refund copy may be built.
var stornoEligible = map[document.Status]bool{
	document.StatusIssued:         true,
	document.StatusSentToProvider: true,
	document.StatusValidated:      true,
	document.StatusSynced:         true,
}

const actionSubmitEInvoice document.Action = "submit_einvoice"

// machine is the invoice transition table. The issue edge lands on ISSUED;
// the service substitutes REFUND when the draft carries a parent link.
var machine = buildMachine()

func buildMachine() *document.Machine[*Invoice] {
	m := document.NewMachine[*Invoice](document.KindInvoice)

	m.Allow(document.StatusDraft, document.ActionIssue, document.StatusIssued, nil)
	m.Allow(document.StatusDraft, document.ActionCancel, document.StatusCancelled, nil)
	m.Allow(document.StatusIssued, document.ActionCancel, document.StatusCancelled, guardNotUploaded)
	m.Allow(document.StatusRefund, document.ActionCancel, document.StatusCancelled, guardNotUploaded)
	m.Allow(document.StatusRejected, document.ActionCancel, document.StatusCancelled, nil)
	m.Allow(document.StatusCancelled, document.ActionRestore, document.StatusDraft, nil)

	for _, from := range []document.Status{document.StatusIssued, document.StatusRefund} {
		m.Allow(from, document.ActionSubmit, document.StatusSentToProvider, guardNotAlreadySent)
	}
	// A rejected invoice may always be resubmitted; the stale upload id is
	// reset by the service.
	m.Allow(document.StatusRejected, document.ActionSubmit, document.StatusSentToProvider, nil)

	for _, from := range []document.Status{
		document.StatusIssued, document.StatusRefund, document.StatusRejected,
		document.StatusValidated, document.StatusSynced,
	} {
		m.Allow(from, actionSubmitEInvoice, document.StatusSentToProvider, nil)
	}

	m.Allow(document.StatusSentToProvider, document.ActionMarkValidated, document.StatusValidated, nil)
	m.Allow(document.StatusSentToProvider, document.ActionMarkRejected, document.StatusRejected, nil)
	m.Allow(document.StatusSentToProvider, document.ActionMarkSynced, document.StatusSynced, nil)
	m.Allow(document.StatusValidated, document.ActionMarkSynced, document.StatusSynced, nil)

	return m
}

func guardNotUploaded(i *Invoice) error {
	if i.AnafUploadID != nil {
		return shared.NewDomain("invoice %s was already uploaded to the authority and can no longer be cancelled", i.Number)
	}
	return nil
}

func guardNotAlreadySent(i *Invoice) error {
	if i.AnafUploadID != nil {
		return shared.NewDomain("invoice %s was already sent to the provider", i.Number)
	}
	return nil
}
