package invoice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/facturio/facturio/internal/anaf"
	"github.com/facturio/facturio/internal/company"
	"github.com/facturio/facturio/internal/document"
	"github.com/facturio/facturio/internal/observability"
	"github.com/facturio/facturio/internal/series"
	"github.com/facturio/facturio/internal/shared"
)

// Filter narrows invoice listings.
type Filter struct {
	Status    document.Status
	Direction Direction
	ClientID  uuid.UUID
	Number    string
	Page      int
	PerPage   int
}

// IssueCommand is executed by the repository in one transaction: series
// numbering, the status flip, the optional parent refund flip and the audit
// events commit or roll back together.
type IssueCommand struct {
	CompanyID uuid.UUID
	ID        uuid.UUID
	ActorID   uuid.UUID
	SeriesID  uuid.UUID
	// NewStatus is ISSUED, or REFUND when the draft carries a parent link.
	NewStatus       document.Status
	ParentID        *uuid.UUID
	IssuedAt        time.Time
	ScheduledSendAt *time.Time
}

// StatusUpdate flips an invoice between statuses with optional side fields.
// The repository applies it conditionally on From so concurrent transitions
// lose cleanly with shared.ErrConflict.
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
	ClearSchedules    bool
	SetProvider       *string
	SetUploadID       *string
	ResetUploadID     bool
	Metadata          map[string]any
}

// DeleteCommand soft-deletes an invoice, compensating the series counter
// when the invoice still holds the latest number and was never uploaded.
type DeleteCommand struct {
	CompanyID uuid.UUID
	ID        uuid.UUID
	ActorID   uuid.UUID
}

// RepositoryPort defines the persistence surface of the invoice service.
type RepositoryPort interface {
	Insert(ctx context.Context, inv *Invoice, ev document.Event) error
	Get(ctx context.Context, companyID, id uuid.UUID) (*Invoice, error)
	List(ctx context.Context, companyID uuid.UUID, f Filter) ([]Invoice, shared.Pagination, error)
	UpdateDraft(ctx context.Context, inv *Invoice, ev document.Event) error
	Issue(ctx context.Context, cmd IssueCommand) (*Invoice, error)
	UpdateStatus(ctx context.Context, cmd StatusUpdate) error
	SoftDelete(ctx context.Context, cmd DeleteCommand) (bool, error)
	HasRefundChildren(ctx context.Context, companyID, parentID uuid.UUID) (bool, error)
	ListScheduledForSubmission(ctx context.Context, now time.Time, limit int) ([]Invoice, error)
	ListEvents(ctx context.Context, companyID, id uuid.UUID) ([]document.Event, error)
}

// CompanyPort resolves tenant configuration.
type CompanyPort interface {
	Get(ctx context.Context, id uuid.UUID) (*company.Company, error)
}

// SeriesPort resolves default numbering series.
type SeriesPort interface {
	FindDefault(ctx context.Context, companyID uuid.UUID, kind document.Kind) (*series.Series, error)
	Get(ctx context.Context, companyID, id uuid.UUID) (*series.Series, error)
}

// SubmitQueue publishes submission work for the external e-invoice worker.
type SubmitQueue interface {
	EnqueueSubmit(ctx context.Context, documentID uuid.UUID, provider string) error
}

// IdempotencyPort deduplicates create requests.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, scope string) error
}

// Service orchestrates the invoice lifecycle.
type Service struct {
	repo      RepositoryPort
	companies CompanyPort
	seriesSvc SeriesPort
	tokens    anaf.TokenResolver
	queue     SubmitQueue
	idem      IdempotencyPort
	metrics   *observability.Metrics
	now       func() time.Time
}

// NewService builds the invoice service. queue, idem and metrics may be nil.
func NewService(repo RepositoryPort, companies CompanyPort, seriesSvc SeriesPort, tokens anaf.TokenResolver, queue SubmitQueue) *Service {
	return &Service{
		repo:      repo,
		companies: companies,
		seriesSvc: seriesSvc,
		tokens:    tokens,
		queue:     queue,
		now:       time.Now,
	}
}

// WithNow overrides the clock, used by tests.
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithIdempotency installs create deduplication.
func (s *Service) WithIdempotency(store IdempotencyPort) *Service {
	s.idem = store
	return s
}

// WithMetrics installs domain counters.
func (s *Service) WithMetrics(m *observability.Metrics) *Service {
	s.metrics = m
	return s
}

// CreateInput carries everything needed to build a draft invoice.
type CreateInput struct {
	ClientID             uuid.UUID        `json:"clientId"`
	ClientName           string           `json:"clientName"`
	ClientCIF            string           `json:"clientCif"`
	ClientAddress        string           `json:"clientAddress"`
	Direction            Direction        `json:"direction"`
	SeriesID             *uuid.UUID       `json:"seriesId,omitempty"`
	Currency             string           `json:"currency"`
	IssueDate            *time.Time       `json:"issueDate,omitempty"`
	DueDate              *time.Time       `json:"dueDate,omitempty"`
	Notes                string           `json:"notes"`
	ParentID             *uuid.UUID       `json:"parentId,omitempty"`
	PenaltyPercentPerDay *decimal.Decimal `json:"penaltyPercentPerDay,omitempty"`
	ScheduledEmailAt     *time.Time       `json:"scheduledEmailAt,omitempty"`
	Lines                []document.Line  `json:"lines"`
	IdempotencyKey       string           `json:"-"`
	// createdFrom names the origin in the creation event metadata, e.g.
	// "storno" or "recurring". Empty means a plain API create.
	createdFrom string
}

// Create builds a draft invoice with a placeholder number.
func (s *Service) Create(ctx context.Context, companyID, actorID uuid.UUID, in CreateInput) (*Invoice, error) {
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
	if in.Direction == "" {
		in.Direction = DirectionOutgoing
	}
	if in.Direction != DirectionOutgoing && in.Direction != DirectionIncoming {
		return nil, shared.NewValidation("direction", "must be outgoing or incoming")
	}
	if in.ParentID != nil {
		parent, err := s.repo.Get(ctx, companyID, *in.ParentID)
		if err != nil {
			return nil, shared.NewValidation("parentId", "parent invoice not found")
		}
		if !stornoEligible[parent.Status] {
			return nil, shared.NewDomain("parent invoice %s in status %s cannot be refunded", parent.Number, parent.Status)
		}
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

	if in.IdempotencyKey != "" && s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, in.IdempotencyKey, string(document.KindInvoice)); err != nil {
			return nil, err
		}
	}

	now := s.now()
	issueDate := now
	if in.IssueDate != nil {
		issueDate = *in.IssueDate
	}
	inv := &Invoice{
		ID:                   uuid.New(),
		CompanyID:            companyID,
		ClientID:             in.ClientID,
		ClientName:           in.ClientName,
		ClientCIF:            in.ClientCIF,
		ClientAddress:        in.ClientAddress,
		Direction:            in.Direction,
		SeriesID:             in.SeriesID,
		Number:               TempNumber(),
		Status:               document.StatusDraft,
		Currency:             cur,
		IssueDate:            issueDate,
		DueDate:              in.DueDate,
		ParentID:             in.ParentID,
		PenaltyPercentPerDay: in.PenaltyPercentPerDay,
		ScheduledEmailAt:     in.ScheduledEmailAt,
		Notes:                in.Notes,
		Lines:                lines,
		Totals:               document.ComputeTotals(lines),
		CreatedBy:            actorID,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	meta := map[string]any{"number": inv.Number}
	if in.createdFrom != "" {
		meta["createdFrom"] = in.createdFrom
	}
	ev := document.Event{
		Kind:       document.KindInvoice,
		DocumentID: inv.ID,
		NewStatus:  document.StatusDraft,
		ActorID:    actorID,
		Action:     "created",
		Metadata:   meta,
		CreatedAt:  now,
	}
	if err := s.repo.Insert(ctx, inv, ev); err != nil {
		return nil, err
	}
	return inv, nil
}

// UpdateInput replaces the mutable fields of an editable invoice.
type UpdateInput struct {
	ClientID      uuid.UUID       `json:"clientId"`
	ClientName    string          `json:"clientName"`
	ClientCIF     string          `json:"clientCif"`
	ClientAddress string          `json:"clientAddress"`
	SeriesID      *uuid.UUID      `json:"seriesId,omitempty"`
	Currency      string          `json:"currency"`
	IssueDate     *time.Time      `json:"issueDate,omitempty"`
	DueDate       *time.Time      `json:"dueDate,omitempty"`
	Notes         string          `json:"notes"`
	Lines         []document.Line `json:"lines"`
}

// Update rewrites an editable invoice, replacing all lines and recomputing
// totals.
func (s *Service) Update(ctx context.Context, companyID, actorID, id uuid.UUID, in UpdateInput) (*Invoice, error) {
	inv, err := s.repo.Get(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	if !inv.Editable() {
		return nil, shared.NewDomain("invoice %s in status %s is not editable", inv.Number, inv.Status)
	}
	if len(in.Lines) == 0 {
		return nil, shared.NewValidation("lines", "at least one line is required")
	}
	if in.Currency != "" {
		cur, err := s.resolveCurrency(ctx, companyID, in.Currency)
		if err != nil {
			return nil, err
		}
		inv.Currency = cur
	}
	lines, err := document.ComputeLines(in.Lines)
	if err != nil {
		return nil, err
	}

	if in.ClientName != "" {
		inv.ClientName = in.ClientName
	}
	if in.ClientID != uuid.Nil {
		inv.ClientID = in.ClientID
	}
	if in.ClientCIF != "" {
		inv.ClientCIF = in.ClientCIF
	}
	if in.ClientAddress != "" {
		inv.ClientAddress = in.ClientAddress
	}
	if in.SeriesID != nil {
		if _, err := s.seriesSvc.Get(ctx, companyID, *in.SeriesID); err != nil {
			return nil, shared.NewValidation("seriesId", "series not found")
		}
		inv.SeriesID = in.SeriesID
	}
	if in.IssueDate != nil {
		inv.IssueDate = *in.IssueDate
	}
	inv.DueDate = in.DueDate
	inv.Notes = in.Notes
	inv.Lines = lines
	inv.Totals = document.ComputeTotals(lines)
	inv.UpdatedAt = s.now()

	ev := document.Event{
		Kind:           document.KindInvoice,
		DocumentID:     inv.ID,
		PreviousStatus: inv.Status,
		NewStatus:      inv.Status,
		ActorID:        actorID,
		Action:         "updated",
		CreatedAt:      inv.UpdatedAt,
	}
	if err := s.repo.UpdateDraft(ctx, inv, ev); err != nil {
		return nil, err
	}
	return inv, nil
}

// Issue assigns the next sequential number and moves the invoice out of
// draft. A draft carrying a parent link becomes a REFUND and flips the parent
// to REFUNDED in the same transaction.
func (s *Service) Issue(ctx context.Context, companyID, actorID, id uuid.UUID) (*Invoice, error) {
	inv, err := s.repo.Get(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	if _, err := machine.Next(inv.Status, document.ActionIssue, inv); err != nil {
		return nil, err
	}

	seriesID := inv.SeriesID
	if seriesID == nil {
		def, err := s.seriesSvc.FindDefault(ctx, companyID, document.KindInvoice)
		if err != nil {
			return nil, shared.NewDomain("no invoice series configured for this company")
		}
		seriesID = &def.ID
	}

	newStatus := document.StatusIssued
	if inv.ParentID != nil {
		newStatus = document.StatusRefund
	}

	comp, err := s.companies.Get(ctx, companyID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var scheduledSendAt *time.Time
	if comp.EfacturaDelayHours != nil && inv.Direction == DirectionOutgoing {
		at := anaf.ComputeSubmissionTime(*comp.EfacturaDelayHours, now.In(comp.Location()))
		scheduledSendAt = &at
	}

	issued, err := s.repo.Issue(ctx, IssueCommand{
		CompanyID:       companyID,
		ID:              id,
		ActorID:         actorID,
		SeriesID:        *seriesID,
		NewStatus:       newStatus,
		ParentID:        inv.ParentID,
		IssuedAt:        now,
		ScheduledSendAt: scheduledSendAt,
	})
	if err != nil {
		if shared.IsRetryable(err) && s.metrics != nil {
			s.metrics.SeriesLockConflict.Inc()
		}
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.DocumentsIssued.WithLabelValues(string(document.KindInvoice)).Inc()
	}
	return issued, nil
}

// SubmitToANAF queues the invoice for upload to the Romanian authority.
// The credential is verified before any state changes; a rejected invoice
// resubmits with its stale upload id cleared.
func (s *Service) SubmitToANAF(ctx context.Context, companyID, actorID, id uuid.UUID) error {
	inv, err := s.repo.Get(ctx, companyID, id)
	if err != nil {
		return err
	}
	if _, err := machine.Next(inv.Status, document.ActionSubmit, inv); err != nil {
		return err
	}
	if _, err := s.tokens.Resolve(ctx, companyID); err != nil {
		if errors.Is(err, anaf.ErrNoCredential) {
			return shared.NewDomain("no valid ANAF credential is configured for this company")
		}
		return err
	}

	provider := string(anaf.ProviderANAF)
	if err := s.repo.UpdateStatus(ctx, StatusUpdate{
		CompanyID:      companyID,
		ID:             id,
		ActorID:        actorID,
		From:           inv.Status,
		To:             document.StatusSentToProvider,
		Action:         "submitted_to_anaf",
		ClearSchedules: true,
		SetProvider:    &provider,
		ResetUploadID:  inv.Status == document.StatusRejected,
	}); err != nil {
		return err
	}
	return s.enqueueSubmit(ctx, id, provider)
}

// SubmitToEInvoice queues the invoice for a foreign e-invoice network.
func (s *Service) SubmitToEInvoice(ctx context.Context, companyID, actorID, id uuid.UUID, provider string) error {
	inv, err := s.repo.Get(ctx, companyID, id)
	if err != nil {
		return err
	}
	if _, err := machine.Next(inv.Status, actionSubmitEInvoice, inv); err != nil {
		return err
	}
	if provider == "" {
		provider = string(anaf.ProviderPeppol)
	}
	if err := s.repo.UpdateStatus(ctx, StatusUpdate{
		CompanyID:      companyID,
		ID:             id,
		ActorID:        actorID,
		From:           inv.Status,
		To:             document.StatusSentToProvider,
		Action:         "submitted_to_einvoice",
		ClearSchedules: true,
		SetProvider:    &provider,
		ResetUploadID:  inv.Status == document.StatusRejected,
		Metadata:       map[string]any{"provider": provider},
	}); err != nil {
		return err
	}
	return s.enqueueSubmit(ctx, id, provider)
}

func (s *Service) enqueueSubmit(ctx context.Context, id uuid.UUID, provider string) error {
	if s.queue == nil {
		return nil
	}
	if err := s.queue.EnqueueSubmit(ctx, id, provider); err != nil {
		return fmt.Errorf("invoice: enqueue submission: %w", err)
	}
	if s.metrics != nil {
		s.metrics.SubmissionsQueued.WithLabelValues(provider).Inc()
	}
	return nil
}

// Cancel voids the invoice with a reason. Uploaded invoices are out of the
// tenant's control and refuse cancellation.
func (s *Service) Cancel(ctx context.Context, companyID, actorID, id uuid.UUID, reason string) error {
	inv, err := s.repo.Get(ctx, companyID, id)
	if err != nil {
		return err
	}
	if _, err := machine.Next(inv.Status, document.ActionCancel, inv); err != nil {
		return err
	}
	now := s.now()
	return s.repo.UpdateStatus(ctx, StatusUpdate{
		CompanyID:      companyID,
		ID:             id,
		ActorID:        actorID,
		From:           inv.Status,
		To:             document.StatusCancelled,
		Action:         "cancelled",
		Reason:         reason,
		CancelledAt:    &now,
		ClearSchedules: true,
		Metadata:       map[string]any{"reason": reason},
	})
}

// Restore brings a cancelled invoice back to draft.
func (s *Service) Restore(ctx context.Context, companyID, actorID, id uuid.UUID) error {
	inv, err := s.repo.Get(ctx, companyID, id)
	if err != nil {
		return err
	}
	if _, err := machine.Next(inv.Status, document.ActionRestore, inv); err != nil {
		return err
	}
	return s.repo.UpdateStatus(ctx, StatusUpdate{
		CompanyID:         companyID,
		ID:                id,
		ActorID:           actorID,
		From:              inv.Status,
		To:                document.StatusDraft,
		Action:            "restored",
		ClearCancellation: true,
	})
}

// Delete soft-deletes a draft or cancelled invoice. When the invoice still
// holds the series' current number and was never uploaded, the counter rolls
// back by one inside the same transaction.
func (s *Service) Delete(ctx context.Context, companyID, actorID, id uuid.UUID) error {
	inv, err := s.repo.Get(ctx, companyID, id)
	if err != nil {
		return err
	}
	if !inv.Deletable() {
		return shared.NewDomain("invoice %s in status %s cannot be deleted", inv.Number, inv.Status)
	}
	_, err = s.repo.SoftDelete(ctx, DeleteCommand{CompanyID: companyID, ID: id, ActorID: actorID})
	return err
}

// Storno builds an unissued refund draft mirroring the source with negated
// quantities.
func (s *Service) Storno(ctx context.Context, companyID, actorID, id uuid.UUID) (*Invoice, error) {
	src, err := s.repo.Get(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	if src.Direction != DirectionOutgoing {
		return nil, shared.NewDomain("only outgoing invoices can be reversed")
	}
	if src.ParentID != nil {
		return nil, shared.NewDomain("invoice %s is itself a refund document", src.Number)
	}
	if !stornoEligible[src.Status] {
		return nil, shared.NewDomain("invoice %s in status %s cannot be reversed", src.Number, src.Status)
	}
	hasChildren, err := s.repo.HasRefundChildren(ctx, companyID, src.ID)
	if err != nil {
		return nil, err
	}
	if hasChildren {
		return nil, shared.NewDomain("invoice %s already has a refund document", src.Number)
	}

	lines := make([]document.Line, len(src.Lines))
	for i, l := range src.Lines {
		l.Quantity = l.Quantity.Neg()
		lines[i] = l
	}
	notes := fmt.Sprintf("Storno factura #%s din %s", src.Number, src.IssueDate.Format("02.01.2006"))
	return s.Create(ctx, companyID, actorID, CreateInput{
		ClientID:      src.ClientID,
		ClientName:    src.ClientName,
		ClientCIF:     src.ClientCIF,
		ClientAddress: src.ClientAddress,
		Direction:     src.Direction,
		SeriesID:      src.SeriesID,
		Currency:      src.Currency,
		Notes:         notes,
		ParentID:      &src.ID,
		Lines:         lines,
		createdFrom:   "storno",
	})
}

// Reconcile edges driven by the external submission worker.

// MarkValidated records authority acceptance.
func (s *Service) MarkValidated(ctx context.Context, companyID, id uuid.UUID, uploadID string) error {
	return s.reconcile(ctx, companyID, id, document.ActionMarkValidated, document.StatusValidated, "validated", uploadID)
}

// MarkRejected records authority rejection; the invoice becomes editable and
// resubmittable.
func (s *Service) MarkRejected(ctx context.Context, companyID, id uuid.UUID, uploadID string) error {
	return s.reconcile(ctx, companyID, id, document.ActionMarkRejected, document.StatusRejected, "rejected", uploadID)
}

// MarkSynced records final download/synchronization with the authority.
func (s *Service) MarkSynced(ctx context.Context, companyID, id uuid.UUID, uploadID string) error {
	return s.reconcile(ctx, companyID, id, document.ActionMarkSynced, document.StatusSynced, "synced", uploadID)
}

func (s *Service) reconcile(ctx context.Context, companyID, id uuid.UUID, action document.Action, to document.Status, name, uploadID string) error {
	inv, err := s.repo.Get(ctx, companyID, id)
	if err != nil {
		return err
	}
	if _, err := machine.Next(inv.Status, action, inv); err != nil {
		return err
	}
	upd := StatusUpdate{
		CompanyID: companyID,
		ID:        id,
		From:      inv.Status,
		To:        to,
		Action:    name,
	}
	if uploadID != "" {
		upd.SetUploadID = &uploadID
		upd.Metadata = map[string]any{"uploadId": uploadID}
	}
	return s.repo.UpdateStatus(ctx, upd)
}

// Bulk operations are best-effort per item: one bad id never blocks the rest.

// BulkCancel cancels many invoices.
func (s *Service) BulkCancel(ctx context.Context, companyID, actorID uuid.UUID, ids []uuid.UUID, reason string) shared.BulkResult {
	var res shared.BulkResult
	for _, id := range ids {
		if err := s.Cancel(ctx, companyID, actorID, id, reason); err != nil {
			res.Fail(id.String(), err)
			continue
		}
		res.Succeeded++
	}
	return res
}

// BulkDelete soft-deletes many invoices.
func (s *Service) BulkDelete(ctx context.Context, companyID, actorID uuid.UUID, ids []uuid.UUID) shared.BulkResult {
	var res shared.BulkResult
	for _, id := range ids {
		if err := s.Delete(ctx, companyID, actorID, id); err != nil {
			res.Fail(id.String(), err)
			continue
		}
		res.Succeeded++
	}
	return res
}

// BulkStorno builds refund drafts for many invoices. Between 1 and 100 ids
// are accepted per call.
func (s *Service) BulkStorno(ctx context.Context, companyID, actorID uuid.UUID, ids []uuid.UUID) (shared.BulkResult, error) {
	if len(ids) == 0 || len(ids) > 100 {
		return shared.BulkResult{}, shared.NewValidation("ids", "between 1 and 100 ids per call")
	}
	var res shared.BulkResult
	for _, id := range ids {
		if _, err := s.Storno(ctx, companyID, actorID, id); err != nil {
			res.Fail(id.String(), err)
			continue
		}
		res.Succeeded++
	}
	return res, nil
}

// Get loads one invoice.
func (s *Service) Get(ctx context.Context, companyID, id uuid.UUID) (*Invoice, error) {
	return s.repo.Get(ctx, companyID, id)
}

// List returns a filtered page of invoices.
func (s *Service) List(ctx context.Context, companyID uuid.UUID, f Filter) ([]Invoice, shared.Pagination, error) {
	return s.repo.List(ctx, companyID, f)
}

// Events returns the audit trail of one invoice.
func (s *Service) Events(ctx context.Context, companyID, id uuid.UUID) ([]document.Event, error) {
	if _, err := s.repo.Get(ctx, companyID, id); err != nil {
		return nil, err
	}
	return s.repo.ListEvents(ctx, companyID, id)
}

// ListScheduledForSubmission returns issued outgoing invoices whose scheduled
// submission time has passed, used by the nightly cron.
func (s *Service) ListScheduledForSubmission(ctx context.Context, now time.Time, limit int) ([]Invoice, error) {
	return s.repo.ListScheduledForSubmission(ctx, now, limit)
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
