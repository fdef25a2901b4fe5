package deliverynote

import (
	"context"
	"fmt"
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

// Filter narrows delivery note listings.
type Filter struct {
	Status   document.Status
	ClientID uuid.UUID
	Number   string
	Page     int
	PerPage  int
}

// IssueCommand numbers the note and flips it to ISSUED in one transaction.
type IssueCommand struct {
	CompanyID uuid.UUID
	ID        uuid.UUID
	ActorID   uuid.UUID
	SeriesID  uuid.UUID
	IssuedAt  time.Time
}

// StatusUpdate flips a delivery note between statuses, conditional on From.
type StatusUpdate struct {
	CompanyID uuid.UUID
	ID        uuid.UUID
	ActorID   uuid.UUID
	From      document.Status
	To        document.Status
	Action    string
	Reason    string

	CancelledAt         *time.Time
	ClearCancellation   bool
	SetETransportStatus *ETransportStatus
	SetUITCode          *string
	SetInvoiceID        *uuid.UUID
	Metadata            map[string]any
}

// RepositoryPort defines the persistence surface of the delivery note service.
type RepositoryPort interface {
	Insert(ctx context.Context, d *DeliveryNote, ev document.Event) error
	Get(ctx context.Context, companyID, id uuid.UUID) (*DeliveryNote, error)
	List(ctx context.Context, companyID uuid.UUID, f Filter) ([]DeliveryNote, shared.Pagination, error)
	UpdateDraft(ctx context.Context, d *DeliveryNote, ev document.Event) error
	Issue(ctx context.Context, cmd IssueCommand) (*DeliveryNote, error)
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

// DeclareQueue publishes e-Transport declaration work.
type DeclareQueue interface {
	EnqueueSubmit(ctx context.Context, documentID uuid.UUID, provider string) error
}

// Service orchestrates the delivery note lifecycle.
type Service struct {
	repo      RepositoryPort
	companies CompanyPort
	seriesSvc SeriesPort
	queue     DeclareQueue
	metrics   *observability.Metrics
	now       func() time.Time
}

// NewService builds the delivery note service. queue may be nil.
func NewService(repo RepositoryPort, companies CompanyPort, seriesSvc SeriesPort, queue DeclareQueue) *Service {
	return &Service{repo: repo, companies: companies, seriesSvc: seriesSvc, queue: queue, now: time.Now}
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

// CreateInput carries everything needed to build a draft delivery note.
type CreateInput struct {
	ClientID        uuid.UUID       `json:"clientId"`
	ClientName      string          `json:"clientName"`
	ClientCIF       string          `json:"clientCif"`
	ClientAddress   string          `json:"clientAddress"`
	SeriesID        *uuid.UUID      `json:"seriesId,omitempty"`
	Currency        string          `json:"currency"`
	IssueDate       *time.Time      `json:"issueDate,omitempty"`
	VehiclePlate    string          `json:"vehiclePlate"`
	DriverName      string          `json:"driverName"`
	TransportDate   *time.Time      `json:"transportDate,omitempty"`
	DeliveryAddress string          `json:"deliveryAddress"`
	Notes           string          `json:"notes"`
	ParentID        *uuid.UUID      `json:"-"`
	Lines           []document.Line `json:"lines"`
	createdFrom     string
}

// Create builds a draft delivery note with a placeholder number.
func (s *Service) Create(ctx context.Context, companyID, actorID uuid.UUID, in CreateInput) (*DeliveryNote, error) {
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
	if in.SeriesID != nil {
		if _, err := s.seriesSvc.Get(ctx, companyID, *in.SeriesID); err != nil {
			return nil, shared.NewValidation("seriesId", "series not found")
		}
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
	d := &DeliveryNote{
		ID:              uuid.New(),
		CompanyID:       companyID,
		ClientID:        in.ClientID,
		ClientName:      in.ClientName,
		ClientCIF:       in.ClientCIF,
		ClientAddress:   in.ClientAddress,
		SeriesID:        in.SeriesID,
		Number:          TempNumber(),
		Status:          document.StatusDraft,
		Currency:        cur,
		IssueDate:       issueDate,
		VehiclePlate:    strings.ToUpper(strings.ReplaceAll(in.VehiclePlate, " ", "")),
		DriverName:      in.DriverName,
		TransportDate:   in.TransportDate,
		DeliveryAddress: in.DeliveryAddress,
		ParentID:        in.ParentID,
		Notes:           in.Notes,
		Lines:           lines,
		Totals:          document.ComputeTotals(lines),
		CreatedBy:       actorID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	meta := map[string]any{"number": d.Number}
	if in.createdFrom != "" {
		meta["createdFrom"] = in.createdFrom
	}
	ev := document.Event{
		Kind:       document.KindDeliveryNote,
		DocumentID: d.ID,
		NewStatus:  document.StatusDraft,
		ActorID:    actorID,
		Action:     "created",
		Metadata:   meta,
		CreatedAt:  now,
	}
	if err := s.repo.Insert(ctx, d, ev); err != nil {
		return nil, err
	}
	return d, nil
}

// UpdateInput replaces the mutable fields of a draft delivery note.
type UpdateInput struct {
	ClientID        uuid.UUID       `json:"clientId"`
	ClientName      string          `json:"clientName"`
	ClientCIF       string          `json:"clientCif"`
	ClientAddress   string          `json:"clientAddress"`
	Currency        string          `json:"currency"`
	IssueDate       *time.Time      `json:"issueDate,omitempty"`
	VehiclePlate    string          `json:"vehiclePlate"`
	DriverName      string          `json:"driverName"`
	TransportDate   *time.Time      `json:"transportDate,omitempty"`
	DeliveryAddress string          `json:"deliveryAddress"`
	Notes           string          `json:"notes"`
	Lines           []document.Line `json:"lines"`
}

// Update rewrites a draft delivery note, replacing all lines.
func (s *Service) Update(ctx context.Context, companyID, actorID, id uuid.UUID, in UpdateInput) (*DeliveryNote, error) {
	d, err := s.repo.Get(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	if !d.Editable() {
		return nil, shared.NewDomain("delivery note %s in status %s is not editable", d.Number, d.Status)
	}
	if len(in.Lines) == 0 {
		return nil, shared.NewValidation("lines", "at least one line is required")
	}
	if in.Currency != "" {
		cur, err := s.resolveCurrency(ctx, companyID, in.Currency)
		if err != nil {
			return nil, err
		}
		d.Currency = cur
	}
	lines, err := document.ComputeLines(in.Lines)
	if err != nil {
		return nil, err
	}
	if in.ClientName != "" {
		d.ClientName = in.ClientName
	}
	if in.ClientID != uuid.Nil {
		d.ClientID = in.ClientID
	}
	if in.ClientCIF != "" {
		d.ClientCIF = in.ClientCIF
	}
	if in.ClientAddress != "" {
		d.ClientAddress = in.ClientAddress
	}
	if in.IssueDate != nil {
		d.IssueDate = *in.IssueDate
	}
	if in.VehiclePlate != "" {
		d.VehiclePlate = strings.ToUpper(strings.ReplaceAll(in.VehiclePlate, " ", ""))
	}
	if in.DriverName != "" {
		d.DriverName = in.DriverName
	}
	d.TransportDate = in.TransportDate
	d.DeliveryAddress = in.DeliveryAddress
	d.Notes = in.Notes
	d.Lines = lines
	d.Totals = document.ComputeTotals(lines)
	d.UpdatedAt = s.now()

	ev := document.Event{
		Kind:           document.KindDeliveryNote,
		DocumentID:     d.ID,
		PreviousStatus: d.Status,
		NewStatus:      d.Status,
		ActorID:        actorID,
		Action:         "updated",
		CreatedAt:      d.UpdatedAt,
	}
	if err := s.repo.UpdateDraft(ctx, d, ev); err != nil {
		return nil, err
	}
	return d, nil
}

// Issue assigns the next sequential number from the note's series, or the
// company default when none was chosen at creation.
func (s *Service) Issue(ctx context.Context, companyID, actorID, id uuid.UUID) (*DeliveryNote, error) {
	d, err := s.repo.Get(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	if _, err := machine.Next(d.Status, document.ActionIssue, d); err != nil {
		return nil, err
	}
	seriesID := d.SeriesID
	if seriesID == nil {
		def, err := s.seriesSvc.FindDefault(ctx, companyID, document.KindDeliveryNote)
		if err != nil {
			return nil, shared.NewDomain("no delivery note series configured for this company")
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
		s.metrics.DocumentsIssued.WithLabelValues(string(document.KindDeliveryNote)).Inc()
	}
	return issued, nil
}

// SubmitToETransport queues the transport declaration. Only an issued note
// may be declared, and only from a failed or never-attempted e-Transport
// state: a declaration in flight or accepted must not be duplicated.
func (s *Service) SubmitToETransport(ctx context.Context, companyID, actorID, id uuid.UUID) error {
	d, err := s.repo.Get(ctx, companyID, id)
	if err != nil {
		return err
	}
	if d.Status != document.StatusIssued {
		return shared.NewDomain("delivery note %s in status %s cannot be declared to e-Transport", d.Number, d.Status)
	}
	if !resubmittable[d.ETransportStatus] {
		return shared.NewDomain("delivery note %s already has an e-Transport declaration in state %s", d.Number, d.ETransportStatus)
	}
	pending := ETransportPending
	if err := s.repo.UpdateStatus(ctx, StatusUpdate{
		CompanyID:           companyID,
		ID:                  id,
		ActorID:             actorID,
		From:                d.Status,
		To:                  d.Status,
		Action:              "etransport_declared",
		SetETransportStatus: &pending,
	}); err != nil {
		return err
	}
	if s.queue == nil {
		return nil
	}
	if err := s.queue.EnqueueSubmit(ctx, id, "etransport"); err != nil {
		return fmt.Errorf("deliverynote: enqueue declaration: %w", err)
	}
	if s.metrics != nil {
		s.metrics.SubmissionsQueued.WithLabelValues("etransport").Inc()
	}
	return nil
}

// MarkETransport records the authority's answer to a declaration. A UIT code
// accompanies accepted declarations.
func (s *Service) MarkETransport(ctx context.Context, companyID, id uuid.UUID, status ETransportStatus, uitCode string) error {
	d, err := s.repo.Get(ctx, companyID, id)
	if err != nil {
		return err
	}
	upd := StatusUpdate{
		CompanyID:           companyID,
		ID:                  id,
		From:                d.Status,
		To:                  d.Status,
		Action:              "etransport_" + string(status),
		SetETransportStatus: &status,
	}
	if uitCode != "" {
		upd.SetUITCode = &uitCode
		upd.Metadata = map[string]any{"uitCode": uitCode}
	}
	return s.repo.UpdateStatus(ctx, upd)
}

// Cancel voids the delivery note. A declared transport refuses cancellation.
func (s *Service) Cancel(ctx context.Context, companyID, actorID, id uuid.UUID, reason string) error {
	d, err := s.repo.Get(ctx, companyID, id)
	if err != nil {
		return err
	}
	if _, err := machine.Next(d.Status, document.ActionCancel, d); err != nil {
		return err
	}
	now := s.now()
	return s.repo.UpdateStatus(ctx, StatusUpdate{
		CompanyID:   companyID,
		ID:          id,
		ActorID:     actorID,
		From:        d.Status,
		To:          document.StatusCancelled,
		Action:      "cancelled",
		Reason:      reason,
		CancelledAt: &now,
		Metadata:    map[string]any{"reason": reason},
	})
}

// Restore brings a cancelled delivery note back to draft.
func (s *Service) Restore(ctx context.Context, companyID, actorID, id uuid.UUID) error {
	d, err := s.repo.Get(ctx, companyID, id)
	if err != nil {
		return err
	}
	if _, err := machine.Next(d.Status, document.ActionRestore, d); err != nil {
		return err
	}
	return s.repo.UpdateStatus(ctx, StatusUpdate{
		CompanyID:         companyID,
		ID:                id,
		ActorID:           actorID,
		From:              d.Status,
		To:                document.StatusDraft,
		Action:            "restored",
		ClearCancellation: true,
	})
}

// MarkConverted records the invoice built from this note. Called by the
// conversion pipeline.
func (s *Service) MarkConverted(ctx context.Context, companyID, actorID, id, invoiceID uuid.UUID) error {
	d, err := s.repo.Get(ctx, companyID, id)
	if err != nil {
		return err
	}
	if _, err := machine.Next(d.Status, document.ActionConvert, d); err != nil {
		return err
	}
	return s.repo.UpdateStatus(ctx, StatusUpdate{
		CompanyID:    companyID,
		ID:           id,
		ActorID:      actorID,
		From:         d.Status,
		To:           document.StatusConverted,
		Action:       "converted",
		SetInvoiceID: &invoiceID,
		Metadata:     map[string]any{"invoiceId": invoiceID.String()},
	})
}

// Delete soft-deletes a draft or cancelled delivery note, compensating the
// series counter when it still holds the latest number.
func (s *Service) Delete(ctx context.Context, companyID, actorID, id uuid.UUID) error {
	d, err := s.repo.Get(ctx, companyID, id)
	if err != nil {
		return err
	}
	if !d.Deletable() {
		return shared.NewDomain("delivery note %s in status %s cannot be deleted", d.Number, d.Status)
	}
	_, err = s.repo.SoftDelete(ctx, companyID, id, actorID)
	return err
}

// Storno builds a draft mirror of an issued note with negated quantities,
// used to document returned goods.
func (s *Service) Storno(ctx context.Context, companyID, actorID, id uuid.UUID) (*DeliveryNote, error) {
	src, err := s.repo.Get(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	if src.Status != document.StatusIssued && src.Status != document.StatusConverted {
		return nil, shared.NewDomain("delivery note %s in status %s cannot be reversed", src.Number, src.Status)
	}
	lines := make([]document.Line, len(src.Lines))
	for i, l := range src.Lines {
		l.Quantity = l.Quantity.Neg()
		lines[i] = l
	}
	return s.Create(ctx, companyID, actorID, CreateInput{
		ClientID:        src.ClientID,
		ClientName:      src.ClientName,
		ClientCIF:       src.ClientCIF,
		ClientAddress:   src.ClientAddress,
		SeriesID:        src.SeriesID,
		Currency:        src.Currency,
		VehiclePlate:    src.VehiclePlate,
		DriverName:      src.DriverName,
		DeliveryAddress: src.DeliveryAddress,
		Notes:           fmt.Sprintf("Storno aviz #%s din %s", src.Number, src.IssueDate.Format("02.01.2006")),
		ParentID:        &src.ID,
		Lines:           lines,
		createdFrom:     "storno",
	})
}

// Get loads one delivery note.
func (s *Service) Get(ctx context.Context, companyID, id uuid.UUID) (*DeliveryNote, error) {
	return s.repo.Get(ctx, companyID, id)
}

// List returns a filtered page of delivery notes.
func (s *Service) List(ctx context.Context, companyID uuid.UUID, f Filter) ([]DeliveryNote, shared.Pagination, error) {
	return s.repo.List(ctx, companyID, f)
}

// Events returns the audit trail of one delivery note.
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
