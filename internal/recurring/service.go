package recurring

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/facturio/facturio/internal/document"
	"github.com/facturio/facturio/internal/shared"
)

// Filter narrows template listings.
type Filter struct {
	Kind    document.Kind
	Active  *bool
	Page    int
	PerPage int
}

// RepositoryPort defines the persistence surface of the template service.
type RepositoryPort interface {
	Insert(ctx context.Context, t *Template) error
	Get(ctx context.Context, companyID, id uuid.UUID) (*Template, error)
	List(ctx context.Context, companyID uuid.UUID, f Filter) ([]Template, shared.Pagination, error)
	Update(ctx context.Context, t *Template) error
	SetActive(ctx context.Context, companyID, id uuid.UUID, active bool) error
	ListDue(ctx context.Context, now time.Time, limit int) ([]Template, error)
	// Advance moves the schedule forward, or deactivates the template when
	// next is nil.
	Advance(ctx context.Context, id uuid.UUID, next *time.Time) error
}

// Service manages recurring templates.
type Service struct {
	repo RepositoryPort
	now  func() time.Time
}

// NewService builds the template service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo, now: time.Now}
}

// WithNow overrides the clock, used by tests.
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateInput carries everything needed to build a template.
type CreateInput struct {
	Name          string         `json:"name"`
	ClientID      uuid.UUID      `json:"clientId"`
	ClientName    string         `json:"clientName"`
	ClientCIF     string         `json:"clientCif"`
	ClientAddress string         `json:"clientAddress"`
	Kind          document.Kind  `json:"kind"`
	SeriesID      *uuid.UUID     `json:"seriesId,omitempty"`
	Currency      string         `json:"currency"`
	Frequency     Frequency      `json:"frequency"`
	FrequencyDay  int            `json:"frequencyDay"`
	FirstIssuance time.Time      `json:"firstIssuance"`
	StopDate      *time.Time     `json:"stopDate,omitempty"`
	DueDatePolicy DueDatePolicy  `json:"dueDatePolicy"`
	AutoIssue     bool           `json:"autoIssue"`
	Notes         string         `json:"notes"`
	Lines         []TemplateLine `json:"lines"`
}

// Create validates and stores a template. New templates start active.
func (s *Service) Create(ctx context.Context, companyID, actorID uuid.UUID, in CreateInput) (*Template, error) {
	if in.Name == "" {
		return nil, shared.NewValidation("name", "required")
	}
	if in.ClientName == "" {
		return nil, shared.NewValidation("clientName", "required")
	}
	if in.Kind != document.KindInvoice && in.Kind != document.KindProforma {
		return nil, shared.NewValidation("kind", "must be invoice or proforma")
	}
	if !ValidFrequency(in.Frequency) {
		return nil, shared.NewValidation("frequency", "unknown frequency")
	}
	if in.FrequencyDay < 0 || in.FrequencyDay > 28 {
		return nil, shared.NewValidation("frequencyDay", "must be between 1 and 28")
	}
	if err := validatePolicy(in.DueDatePolicy); err != nil {
		return nil, err
	}
	if len(in.Lines) == 0 {
		return nil, shared.NewValidation("lines", "at least one line is required")
	}
	if err := validateLines(in.Lines); err != nil {
		return nil, err
	}
	code := strings.ToUpper(strings.TrimSpace(in.Currency))
	if code == "" {
		code = "RON"
	}
	if _, err := currency.ParseISO(code); err != nil {
		return nil, shared.NewValidation("currency", "unknown ISO 4217 code")
	}
	if in.FirstIssuance.IsZero() {
		return nil, shared.NewValidation("firstIssuance", "required")
	}

	now := s.now()
	t := &Template{
		ID:               uuid.New(),
		CompanyID:        companyID,
		Name:             in.Name,
		ClientID:         in.ClientID,
		ClientName:       in.ClientName,
		ClientCIF:        in.ClientCIF,
		ClientAddress:    in.ClientAddress,
		Kind:             in.Kind,
		SeriesID:         in.SeriesID,
		Currency:         code,
		Frequency:        in.Frequency,
		FrequencyDay:     in.FrequencyDay,
		NextIssuanceDate: in.FirstIssuance,
		StopDate:         in.StopDate,
		Active:           true,
		DueDatePolicy:    in.DueDatePolicy,
		AutoIssue:        in.AutoIssue,
		Notes:            in.Notes,
		Lines:            numberLines(in.Lines),
		CreatedBy:        actorID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.Insert(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Update rewrites the mutable fields of a template.
func (s *Service) Update(ctx context.Context, companyID, actorID, id uuid.UUID, in CreateInput) (*Template, error) {
	t, err := s.repo.Get(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	if in.Name != "" {
		t.Name = in.Name
	}
	if in.ClientName != "" {
		t.ClientName = in.ClientName
	}
	if in.ClientID != uuid.Nil {
		t.ClientID = in.ClientID
	}
	t.ClientCIF = in.ClientCIF
	t.ClientAddress = in.ClientAddress
	if in.Frequency != "" {
		if !ValidFrequency(in.Frequency) {
			return nil, shared.NewValidation("frequency", "unknown frequency")
		}
		t.Frequency = in.Frequency
	}
	if in.FrequencyDay != 0 {
		if in.FrequencyDay < 1 || in.FrequencyDay > 28 {
			return nil, shared.NewValidation("frequencyDay", "must be between 1 and 28")
		}
		t.FrequencyDay = in.FrequencyDay
	}
	if !in.FirstIssuance.IsZero() {
		t.NextIssuanceDate = in.FirstIssuance
	}
	t.StopDate = in.StopDate
	if in.DueDatePolicy.Type != "" {
		if err := validatePolicy(in.DueDatePolicy); err != nil {
			return nil, err
		}
		t.DueDatePolicy = in.DueDatePolicy
	}
	t.AutoIssue = in.AutoIssue
	t.Notes = in.Notes
	if len(in.Lines) > 0 {
		if err := validateLines(in.Lines); err != nil {
			return nil, err
		}
		t.Lines = numberLines(in.Lines)
	}
	t.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Activate resumes generation.
func (s *Service) Activate(ctx context.Context, companyID, id uuid.UUID) error {
	return s.repo.SetActive(ctx, companyID, id, true)
}

// Deactivate pauses generation without deleting the template.
func (s *Service) Deactivate(ctx context.Context, companyID, id uuid.UUID) error {
	return s.repo.SetActive(ctx, companyID, id, false)
}

// Get loads one template.
func (s *Service) Get(ctx context.Context, companyID, id uuid.UUID) (*Template, error) {
	return s.repo.Get(ctx, companyID, id)
}

// List returns a filtered page of templates.
func (s *Service) List(ctx context.Context, companyID uuid.UUID, f Filter) ([]Template, shared.Pagination, error) {
	return s.repo.List(ctx, companyID, f)
}

func validatePolicy(p DueDatePolicy) error {
	switch p.Type {
	case "", "days":
		if p.Value < 0 {
			return shared.NewValidation("dueDatePolicy", "days must not be negative")
		}
	case "fixed_day":
		if p.Value < 1 || p.Value > 28 {
			return shared.NewValidation("dueDatePolicy", "fixed day must be between 1 and 28")
		}
	default:
		return shared.NewValidation("dueDatePolicy", "type must be days or fixed_day")
	}
	return nil
}

func validateLines(lines []TemplateLine) error {
	for _, l := range lines {
		switch l.PriceRule {
		case "", PriceFixed:
		case PriceUpdatedProduct:
			if l.ProductID == nil {
				return shared.NewValidation("lines", "updated_product lines need a product id")
			}
		case PriceReference:
			if l.RefCurrency == "" {
				return shared.NewValidation("lines", "reference lines need a reference currency")
			}
			if _, err := currency.ParseISO(strings.ToUpper(l.RefCurrency)); err != nil {
				return shared.NewValidation("lines", "unknown reference currency")
			}
		default:
			return shared.NewValidation("lines", "unknown price rule")
		}
	}
	return nil
}

func numberLines(lines []TemplateLine) []TemplateLine {
	out := make([]TemplateLine, len(lines))
	for i, l := range lines {
		l.Position = i + 1
		if l.PriceRule == "" {
			l.PriceRule = PriceFixed
		}
		l.RefCurrency = strings.ToUpper(l.RefCurrency)
		out[i] = l
	}
	return out
}

// Preview resolves a template's lines as they would generate today, without
// creating anything.
func (e *Engine) Preview(ctx context.Context, companyID, id uuid.UUID) ([]document.Line, document.Totals, error) {
	t, err := e.templates.Get(ctx, companyID, id)
	if err != nil {
		return nil, document.Totals{}, err
	}
	lines, _, err := e.resolveLines(ctx, t, e.now())
	if err != nil {
		return nil, document.Totals{}, err
	}
	computed, err := document.ComputeLines(lines)
	if err != nil {
		return nil, document.Totals{}, err
	}
	return computed, document.ComputeTotals(computed), nil
}

// markup converts a reference price to the template currency.
func applyReference(price, rate, markupPercent decimal.Decimal) decimal.Decimal {
	converted := price.Mul(rate)
	if !markupPercent.IsZero() {
		converted = converted.Mul(decimal.NewFromInt(100).Add(markupPercent)).Div(decimal.NewFromInt(100))
	}
	return converted.Round(4)
}
