package receipt

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/currency"

	"github.com/facturio/facturio/internal/company"
	"github.com/facturio/facturio/internal/document"
	"github.com/facturio/facturio/internal/observability"
	"github.com/facturio/facturio/internal/series"
	"github.com/facturio/facturio/internal/shared"
)

// Filter narrows receipt listings.
type Filter struct {
	Status   document.Status
	ClientID uuid.UUID
	Number   string
	Page     int
	PerPage  int
}

// IssueCommand numbers the receipt and flips it to ISSUED in one transaction.
type IssueCommand struct {
	CompanyID uuid.UUID
	ID        uuid.UUID
	ActorID   uuid.UUID
	SeriesID  uuid.UUID
	IssuedAt  time.Time
}

// StatusUpdate flips a receipt between statuses, conditional on From.
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

// RepositoryPort defines the persistence surface of the receipt service.
type RepositoryPort interface {
	Insert(ctx context.Context, rc *Receipt, ev document.Event) error
	Get(ctx context.Context, companyID, id uuid.UUID) (*Receipt, error)
	List(ctx context.Context, companyID uuid.UUID, f Filter) ([]Receipt, shared.Pagination, error)
	UpdateDraft(ctx context.Context, rc *Receipt, ev document.Event) error
	Issue(ctx context.Context, cmd IssueCommand) (*Receipt, error)
	UpdateStatus(ctx context.Context, cmd StatusUpdate) error
	SoftDelete(ctx context.Context, companyID, id, actorID uuid.UUID) (bool, error)
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

// Service orchestrates the receipt lifecycle.
type Service struct {
	repo      RepositoryPort
	companies CompanyPort
	seriesSvc SeriesPort
	metrics   *observability.Metrics
	now       func() time.Time
}

// NewService builds the receipt service.
func NewService(repo RepositoryPort, companies CompanyPort, seriesSvc SeriesPort) *Service {
	return &Service{repo: repo, companies: companies, seriesSvc: seriesSvc, now: time.Now}
}

// WithNow overrides the clock, used by tests.
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithMetrics installs domain counters.
func (s *Service) WithMetrics(m *observability.Metrics) *Service {
	s.metrics = m
	return s
}

// CreateInput carries everything needed to build a draft receipt.
type CreateInput struct {
	ClientID         uuid.UUID       `json:"clientId"`
	ClientName       string          `json:"clientName"`
	SeriesID         *uuid.UUID      `json:"seriesId,omitempty"`
	Currency         string          `json:"currency"`
	IssueDate        *time.Time      `json:"issueDate,omitempty"`
	CashRegisterName string          `json:"cashRegisterName"`
	FiscalNumber     string          `json:"fiscalNumber"`
	Payment          Payment         `json:"payment"`
	Notes            string          `json:"notes"`
	Lines            []document.Line `json:"lines"`
}

// Create builds a draft receipt with a placeholder number. The payment split
// must match the computed total exactly.
func (s *Service) Create(ctx context.Context, companyID, actorID uuid.UUID, in CreateInput) (*Receipt, error) {
	if companyID == uuid.Nil {
		return nil, shared.NewValidation("companyId", "required")
	}
	if len(in.Lines) == 0 {
		return nil, shared.NewValidation("lines", "at least one line is required")
	}
	if in.CashRegisterName == "" {
		return nil, shared.NewValidation("cashRegisterName", "required")
	}
	cur, err := s.resolveCurrency(ctx, companyID, in.Currency)
	if err != nil {
		return nil, err
	}
	if in.SeriesID != nil {
		if _, err := s.seriesSvc.Get(ctx, companyID, *in.SeriesID); err != nil {
			return nil, shared.NewValidation("seriesId", "series not found")
		}
	}
	lines, err := document.ComputeLines(in.Lines)
	if err != nil {
		return nil, err
	}
	totals := document.ComputeTotals(lines)
	if err := validatePayment(in.Payment, totals.Total); err != nil {
		return nil, err
	}

	now := s.now()
	issueDate := now
	if in.IssueDate != nil {
		issueDate = *in.IssueDate
	}
	rc := &Receipt{
		ID:               uuid.New(),
		CompanyID:        companyID,
		ClientID:         in.ClientID,
		ClientName:       in.ClientName,
		SeriesID:         in.SeriesID,
		Number:           TempNumber(),
		Status:           document.StatusDraft,
		Currency:         cur,
		IssueDate:        issueDate,
		CashRegisterName: in.CashRegisterName,
		FiscalNumber:     in.FiscalNumber,
		Payment:          in.Payment,
		Notes:            in.Notes,
		Lines:            lines,
		Totals:           totals,
		CreatedBy:        actorID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	ev := document.Event{
		Kind:       document.KindReceipt,
		DocumentID: rc.ID,
		NewStatus:  document.StatusDraft,
		ActorID:    actorID,
		Action:     "created",
		Metadata:   map[string]any{"number": rc.Number, "cashRegister": rc.CashRegisterName},
		CreatedAt:  now,
	}
	if err := s.repo.Insert(ctx, rc, ev); err != nil {
		return nil, err
	}
	return rc, nil
}

// UpdateInput replaces the mutable fields of a draft receipt.
type UpdateInput struct {
	ClientID         uuid.UUID       `json:"clientId"`
	ClientName       string          `json:"clientName"`
	Currency         string          `json:"currency"`
	IssueDate        *time.Time      `json:"issueDate,omitempty"`
	CashRegisterName string          `json:"cashRegisterName"`
	FiscalNumber     string          `json:"fiscalNumber"`
	Payment          Payment         `json:"payment"`
	Notes            string          `json:"notes"`
	Lines            []document.Line `json:"lines"`
}

// Update rewrites a draft receipt, replacing all lines and revalidating the
// payment split.
func (s *Service) Update(ctx context.Context, companyID, actorID, id uuid.UUID, in UpdateInput) (*Receipt, error) {
	rc, err := s.repo.Get(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	if !rc.Editable() {
		return nil, shared.NewDomain("receipt %s in status %s is not editable", rc.Number, rc.Status)
	}
	if len(in.Lines) == 0 {
		return nil, shared.NewValidation("lines", "at least one line is required")
	}
	if in.Currency != "" {
		cur, err := s.resolveCurrency(ctx, companyID, in.Currency)
		if err != nil {
			return nil, err
		}
		rc.Currency = cur
	}
	lines, err := document.ComputeLines(in.Lines)
	if err != nil {
		return nil, err
	}
	totals := document.ComputeTotals(lines)
	if err := validatePayment(in.Payment, totals.Total); err != nil {
		return nil, err
	}

	if in.ClientName != "" {
		rc.ClientName = in.ClientName
	}
	if in.ClientID != uuid.Nil {
		rc.ClientID = in.ClientID
	}
	if in.IssueDate != nil {
		rc.IssueDate = *in.IssueDate
	}
	if in.CashRegisterName != "" {
		rc.CashRegisterName = in.CashRegisterName
	}
	rc.FiscalNumber = in.FiscalNumber
	rc.Payment = in.Payment
	rc.Notes = in.Notes
	rc.Lines = lines
	rc.Totals = totals
	rc.UpdatedAt = s.now()

	ev := document.Event{
		Kind:           document.KindReceipt,
		DocumentID:     rc.ID,
		PreviousStatus: rc.Status,
		NewStatus:      rc.Status,
		ActorID:        actorID,
		Action:         "updated",
		CreatedAt:      rc.UpdatedAt,
	}
	if err := s.repo.UpdateDraft(ctx, rc, ev); err != nil {
		return nil, err
	}
	return rc, nil
}

// Issue assigns the next sequential number from the receipt's series, or the
// company default when none was chosen at creation.
func (s *Service) Issue(ctx context.Context, companyID, actorID, id uuid.UUID) (*Receipt, error) {
	rc, err := s.repo.Get(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	if _, err := machine.Next(rc.Status, document.ActionIssue, rc); err != nil {
		return nil, err
	}
	seriesID := rc.SeriesID
	if seriesID == nil {
		def, err := s.seriesSvc.FindDefault(ctx, companyID, document.KindReceipt)
		if err != nil {
			return nil, shared.NewDomain("no receipt series configured for this company")
		}
		seriesID = &def.ID
	}
	issued, err := s.repo.Issue(ctx, IssueCommand{
		CompanyID: companyID,
		ID:        id,
		ActorID:   actorID,
		SeriesID:  *seriesID,
		IssuedAt:  s.now(),
	})
	if err != nil {
		if shared.IsRetryable(err) && s.metrics != nil {
			s.metrics.SeriesLockConflict.Inc()
		}
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.DocumentsIssued.WithLabelValues(string(document.KindReceipt)).Inc()
	}
	return issued, nil
}

// Cancel voids the receipt. An invoiced receipt refuses cancellation.
func (s *Service) Cancel(ctx context.Context, companyID, actorID, id uuid.UUID, reason string) error {
	rc, err := s.repo.Get(ctx, companyID, id)
	if err != nil {
		return err
	}
	if _, err := machine.Next(rc.Status, document.ActionCancel, rc); err != nil {
		return err
	}
	now := s.now()
	return s.repo.UpdateStatus(ctx, StatusUpdate{
		CompanyID:   companyID,
		ID:          id,
		ActorID:     actorID,
		From:        rc.Status,
		To:          document.StatusCancelled,
		Action:      "cancelled",
		Reason:      reason,
		CancelledAt: &now,
		Metadata:    map[string]any{"reason": reason},
	})
}

// Restore brings a cancelled receipt back to draft.
func (s *Service) Restore(ctx context.Context, companyID, actorID, id uuid.UUID) error {
	rc, err := s.repo.Get(ctx, companyID, id)
	if err != nil {
		return err
	}
	if _, err := machine.Next(rc.Status, document.ActionRestore, rc); err != nil {
		return err
	}
	return s.repo.UpdateStatus(ctx, StatusUpdate{
		CompanyID:         companyID,
		ID:                id,
		ActorID:           actorID,
		From:              rc.Status,
		To:                document.StatusDraft,
		Action:            "restored",
		ClearCancellation: true,
	})
}

// MarkInvoiced records the invoice built from this receipt. Called by the
// conversion pipeline.
func (s *Service) MarkInvoiced(ctx context.Context, companyID, actorID, id, invoiceID uuid.UUID) error {
	rc, err := s.repo.Get(ctx, companyID, id)
	if err != nil {
		return err
	}
	if _, err := machine.Next(rc.Status, document.ActionInvoice, rc); err != nil {
		return err
	}
	return s.repo.UpdateStatus(ctx, StatusUpdate{
		CompanyID:    companyID,
		ID:           id,
		ActorID:      actorID,
		From:         rc.Status,
		To:           document.StatusInvoiced,
		Action:       "invoiced",
		SetInvoiceID: &invoiceID,
		Metadata:     map[string]any{"invoiceId": invoiceID.String()},
	})
}

// Delete soft-deletes a draft or cancelled receipt, compensating the series
// counter when it still holds the latest number.
func (s *Service) Delete(ctx context.Context, companyID, actorID, id uuid.UUID) error {
	rc, err := s.repo.Get(ctx, companyID, id)
	if err != nil {
		return err
	}
	if !rc.Deletable() {
		return shared.NewDomain("receipt %s in status %s cannot be deleted", rc.Number, rc.Status)
	}
	_, err = s.repo.SoftDelete(ctx, companyID, id, actorID)
	return err
}

// Get loads one receipt.
func (s *Service) Get(ctx context.Context, companyID, id uuid.UUID) (*Receipt, error) {
	return s.repo.Get(ctx, companyID, id)
}

// List returns a filtered page of receipts.
func (s *Service) List(ctx context.Context, companyID uuid.UUID, f Filter) ([]Receipt, shared.Pagination, error) {
	return s.repo.List(ctx, companyID, f)
}

// Events returns the audit trail of one receipt.
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
