package proforma

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/currency"

	"github.com/facturio/facturio/internal/company"
	"github.com/facturio/facturio/internal/document"
	"github.com/facturio/facturio/internal/series"
	"github.com/facturio/facturio/internal/shared"
)

// Filter narrows proforma listings.
type Filter struct {
	Status  document.Status
	ClientID uuid.UUID
	Number  string
	Page    int
	PerPage int
}

// StatusUpdate flips a proforma between statuses, conditional on From.
type StatusUpdate struct {
	CompanyID uuid.UUID
	ID        uuid.UUID
	ActorID   uuid.UUID
	From      document.Status
	To        document.Status
	Action    string
	Reason    string

	CancelledAt       *time.Time
	ClearCancellation bool
	SetInvoiceID      *uuid.UUID
	Metadata          map[string]any
}

// RepositoryPort defines the persistence surface of the proforma service.
// Insert assigns the sequential number inside its transaction when a series
// id is present on the document.
type RepositoryPort interface {
	Insert(ctx context.Context, p *Proforma, ev document.Event) (*Proforma, error)
	Get(ctx context.Context, companyID, id uuid.UUID) (*Proforma, error)
	List(ctx context.Context, companyID uuid.UUID, f Filter) ([]Proforma, shared.Pagination, error)
	UpdateDraft(ctx context.Context, p *Proforma, ev document.Event) error
	UpdateStatus(ctx context.Context, cmd StatusUpdate) error
	SoftDelete(ctx context.Context, companyID, id, actorID uuid.UUID) (bool, error)
	ListExpirable(ctx context.Context, now time.Time, limit int) ([]Proforma, error)
	ListEvents(ctx context.Context, companyID, id uuid.UUID) ([]document.Event, error)
}

// CompanyPort resolves tenant configuration.
type CompanyPort interface {
	Get(ctx context.Context, id uuid.UUID) (*company.Company, error)
}

// SeriesPort resolves numbering series.
type SeriesPort interface {
	FindDefault(ctx context.Context, companyID uuid.UUID, kind document.Kind) (*series.Series, error)
	Get(ctx context.Context, companyID, id uuid.UUID) (*series.Series, error)
}

// Service orchestrates the proforma lifecycle.
type Service struct {
	repo      RepositoryPort
	companies CompanyPort
	seriesSvc SeriesPort
	now       func() time.Time
}

// NewService builds the proforma service.
func NewService(repo RepositoryPort, companies CompanyPort, seriesSvc SeriesPort) *Service {
	return &Service{repo: repo, companies: companies, seriesSvc: seriesSvc, now: time.Now}
}

// WithNow overrides the clock, used by tests.
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateInput carries everything needed to build a proforma.
type CreateInput struct {
	ClientID      uuid.UUID       `json:"clientId"`
	ClientName    string          `json:"clientName"`
	ClientCIF     string          `json:"clientCif"`
	ClientAddress string          `json:"clientAddress"`
	SeriesID      *uuid.UUID      `json:"seriesId,omitempty"`
	Currency      string          `json:"currency"`
	IssueDate     *time.Time      `json:"issueDate,omitempty"`
	ValidUntil    *time.Time      `json:"validUntil,omitempty"`
	Notes         string          `json:"notes"`
	Lines         []document.Line `json:"lines"`
}

// Create builds a proforma. Unlike invoices, the sequential number is
// assigned immediately: the given series, or the company default, numbers the
// document inside the insert transaction. Without any series the document
// keeps a placeholder number.
func (s *Service) Create(ctx context.Context, companyID, actorID uuid.UUID, in CreateInput) (*Proforma, error) {
	if companyID == uuid.Nil {
		return nil, shared.NewValidation("companyId", "required")
	}
	if in.ClientName == "" {
		return nil, shared.NewValidation("clientName", "required")
	}
	if len(in.Lines) == 0 {
		return nil, shared.NewValidation("lines", "at least one line is required")
	}
	cur, err := s.resolveCurrency(ctx, companyID, in.Currency)
	if err != nil {
		return nil, err
	}
	seriesID := in.SeriesID
	if seriesID != nil {
		if _, err := s.seriesSvc.Get(ctx, companyID, *seriesID); err != nil {
			return nil, shared.NewValidation("seriesId", "series not found")
		}
	} else if def, err := s.seriesSvc.FindDefault(ctx, companyID, document.KindProforma); err == nil {
		seriesID = &def.ID
	} else if !errors.Is(err, series.ErrNoDefault) {
		return nil, err
	}

	lines, err := document.ComputeLines(in.Lines)
	if err != nil {
		return nil, err
	}

	now := s.now()
	issueDate := now
	if in.IssueDate != nil {
		issueDate = *in.IssueDate
	}
	p := &Proforma{
		ID:            uuid.New(),
		CompanyID:     companyID,
		ClientID:      in.ClientID,
		ClientName:    in.ClientName,
		ClientCIF:     in.ClientCIF,
		ClientAddress: in.ClientAddress,
		SeriesID:      seriesID,
		Number:        TempNumber(),
		Status:        document.StatusDraft,
		Currency:      cur,
		IssueDate:     issueDate,
		ValidUntil:    in.ValidUntil,
		Notes:         in.Notes,
		Lines:         lines,
		Totals:        document.ComputeTotals(lines),
		CreatedBy:     actorID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	ev := document.Event{
		Kind:       document.KindProforma,
		DocumentID: p.ID,
		NewStatus:  document.StatusDraft,
		ActorID:    actorID,
		Action:     "created",
		CreatedAt:  now,
	}
	return s.repo.Insert(ctx, p, ev)
}

// UpdateInput replaces the mutable fields of a draft proforma.
type UpdateInput struct {
	ClientID      uuid.UUID       `json:"clientId"`
	ClientName    string          `json:"clientName"`
	ClientCIF     string          `json:"clientCif"`
	ClientAddress string          `json:"clientAddress"`
	Currency      string          `json:"currency"`
	IssueDate     *time.Time      `json:"issueDate,omitempty"`
	ValidUntil    *time.Time      `json:"validUntil,omitempty"`
	Notes         string          `json:"notes"`
	Lines         []document.Line `json:"lines"`
}

// Update rewrites a draft proforma, replacing all lines.
func (s *Service) Update(ctx context.Context, companyID, actorID, id uuid.UUID, in UpdateInput) (*Proforma, error) {
	p, err := s.repo.Get(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	if !p.Editable() {
		return nil, shared.NewDomain("proforma %s in status %s is not editable", p.Number, p.Status)
	}
	if len(in.Lines) == 0 {
		return nil, shared.NewValidation("lines", "at least one line is required")
	}
	if in.Currency != "" {
		cur, err := s.resolveCurrency(ctx, companyID, in.Currency)
		if err != nil {
			return nil, err
		}
		p.Currency = cur
	}
	lines, err := document.ComputeLines(in.Lines)
	if err != nil {
		return nil, err
	}
	if in.ClientName != "" {
		p.ClientName = in.ClientName
	}
	if in.ClientID != uuid.Nil {
		p.ClientID = in.ClientID
	}
	if in.ClientCIF != "" {
		p.ClientCIF = in.ClientCIF
	}
	if in.ClientAddress != "" {
		p.ClientAddress = in.ClientAddress
	}
	if in.IssueDate != nil {
		p.IssueDate = *in.IssueDate
	}
	p.ValidUntil = in.ValidUntil
	p.Notes = in.Notes
	p.Lines = lines
	p.Totals = document.ComputeTotals(lines)
	p.UpdatedAt = s.now()

	ev := document.Event{
		Kind:           document.KindProforma,
		DocumentID:     p.ID,
		PreviousStatus: p.Status,
		NewStatus:      p.Status,
		ActorID:        actorID,
		Action:         "updated",
		CreatedAt:      p.UpdatedAt,
	}
	if err := s.repo.UpdateDraft(ctx, p, ev); err != nil {
		return nil, err
	}
	return p, nil
}

// Send marks the proforma as delivered to the client.
func (s *Service) Send(ctx context.Context, companyID, actorID, id uuid.UUID) error {
	return s.transition(ctx, companyID, actorID, id, document.ActionSend, document.StatusSent, "sent")
}

// Accept records the client's acceptance.
func (s *Service) Accept(ctx context.Context, companyID, actorID, id uuid.UUID) error {
	return s.transition(ctx, companyID, actorID, id, document.ActionAccept, document.StatusAccepted, "accepted")
}

// Reject records the client's refusal.
func (s *Service) Reject(ctx context.Context, companyID, actorID, id uuid.UUID) error {
	return s.transition(ctx, companyID, actorID, id, document.ActionReject, document.StatusRejected, "rejected")
}

// Expire marks a sent or accepted proforma past its validity date.
func (s *Service) Expire(ctx context.Context, companyID, actorID, id uuid.UUID) error {
	return s.transition(ctx, companyID, actorID, id, document.ActionExpire, document.StatusExpired, "expired")
}

func (s *Service) transition(ctx context.Context, companyID, actorID, id uuid.UUID, action document.Action, to document.Status, name string) error {
	p, err := s.repo.Get(ctx, companyID, id)
	if err != nil {
		return err
	}
	if _, err := machine.Next(p.Status, action, p); err != nil {
		return err
	}
	return s.repo.UpdateStatus(ctx, StatusUpdate{
		CompanyID: companyID,
		ID:        id,
		ActorID:   actorID,
		From:      p.Status,
		To:        to,
		Action:    name,
	})
}

// Cancel voids the proforma. A converted proforma refuses cancellation: the
// invoice built from it already exists.
func (s *Service) Cancel(ctx context.Context, companyID, actorID, id uuid.UUID, reason string) error {
	p, err := s.repo.Get(ctx, companyID, id)
	if err != nil {
		return err
	}
	if _, err := machine.Next(p.Status, document.ActionCancel, p); err != nil {
		return err
	}
	now := s.now()
	return s.repo.UpdateStatus(ctx, StatusUpdate{
		CompanyID:   companyID,
		ID:          id,
		ActorID:     actorID,
		From:        p.Status,
		To:          document.StatusCancelled,
		Action:      "cancelled",
		Reason:      reason,
		CancelledAt: &now,
		Metadata:    map[string]any{"reason": reason},
	})
}

// Restore brings a cancelled proforma back to draft.
func (s *Service) Restore(ctx context.Context, companyID, actorID, id uuid.UUID) error {
	p, err := s.repo.Get(ctx, companyID, id)
	if err != nil {
		return err
	}
	if _, err := machine.Next(p.Status, document.ActionRestore, p); err != nil {
		return err
	}
	return s.repo.UpdateStatus(ctx, StatusUpdate{
		CompanyID:         companyID,
		ID:                id,
		ActorID:           actorID,
		From:              p.Status,
		To:                document.StatusDraft,
		Action:            "restored",
		ClearCancellation: true,
	})
}

// MarkConverted records the invoice built from this proforma. Called by the
// conversion pipeline after the invoice exists.
func (s *Service) MarkConverted(ctx context.Context, companyID, actorID, id, invoiceID uuid.UUID) error {
	p, err := s.repo.Get(ctx, companyID, id)
	if err != nil {
		return err
	}
	if _, err := machine.Next(p.Status, document.ActionConvert, p); err != nil {
		return err
	}
	return s.repo.UpdateStatus(ctx, StatusUpdate{
		CompanyID:    companyID,
		ID:           id,
		ActorID:      actorID,
		From:         p.Status,
		To:           document.StatusConverted,
		Action:       "converted",
		SetInvoiceID: &invoiceID,
		Metadata:     map[string]any{"invoiceId": invoiceID.String()},
	})
}

// Convertible reports whether the proforma may currently be converted.
func (p *Proforma) Convertible() bool {
	return convertible[p.Status]
}

// Delete soft-deletes a draft or cancelled proforma, compensating the series
// counter when the document still holds the latest number.
func (s *Service) Delete(ctx context.Context, companyID, actorID, id uuid.UUID) error {
	p, err := s.repo.Get(ctx, companyID, id)
	if err != nil {
		return err
	}
	if !p.Deletable() {
		return shared.NewDomain("proforma %s in status %s cannot be deleted", p.Number, p.Status)
	}
	_, err = s.repo.SoftDelete(ctx, companyID, id, actorID)
	return err
}

// ExpireOverdue expires every sent or accepted proforma whose validity date
// has passed. Used by the maintenance cron; best-effort per document.
func (s *Service) ExpireOverdue(ctx context.Context, now time.Time, limit int) (shared.BulkResult, error) {
	due, err := s.repo.ListExpirable(ctx, now, limit)
	if err != nil {
		return shared.BulkResult{}, err
	}
	var res shared.BulkResult
	for _, p := range due {
		if err := s.Expire(ctx, p.CompanyID, uuid.Nil, p.ID); err != nil {
			res.Fail(p.ID.String(), err)
			continue
		}
		res.Succeeded++
	}
	return res, nil
}

// Get loads one proforma.
func (s *Service) Get(ctx context.Context, companyID, id uuid.UUID) (*Proforma, error) {
	return s.repo.Get(ctx, companyID, id)
}

// List returns a filtered page of proformas.
func (s *Service) List(ctx context.Context, companyID uuid.UUID, f Filter) ([]Proforma, shared.Pagination, error) {
	return s.repo.List(ctx, companyID, f)
}

// Events returns the audit trail of one proforma.
func (s *Service) Events(ctx context.Context, companyID, id uuid.UUID) ([]document.Event, error) {
	if _, err := s.repo.Get(ctx, companyID, id); err != nil {
		return nil, err
	}
	return s.repo.ListEvents(ctx, companyID, id)
}

func (s *Service) resolveCurrency(ctx context.Context, companyID uuid.UUID, code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		comp, err := s.companies.Get(ctx, companyID)
		if err != nil {
			return "", err
		}
		return comp.DefaultCurrency, nil
	}
	if _, err := currency.ParseISO(code); err != nil {
		return "", shared.NewValidation("currency", "unknown ISO 4217 code")
	}
	return code, nil
}
