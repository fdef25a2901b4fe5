package recurring

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/facturio/facturio/internal/document"
	"github.com/facturio/facturio/internal/invoice"
	"github.com/facturio/facturio/internal/observability"
	"github.com/facturio/facturio/internal/proforma"
	"github.com/facturio/facturio/internal/shared"
)

// InvoiceGenPort creates and issues invoices for the engine.
type InvoiceGenPort interface {
	Create(ctx context.Context, companyID, actorID uuid.UUID, in invoice.CreateInput) (*invoice.Invoice, error)
	Issue(ctx context.Context, companyID, actorID, id uuid.UUID) (*invoice.Invoice, error)
}

// ProformaGenPort creates and circulates proformas for the engine.
type ProformaGenPort interface {
	Create(ctx context.Context, companyID, actorID uuid.UUID, in proforma.CreateInput) (*proforma.Proforma, error)
	Send(ctx context.Context, companyID, actorID, id uuid.UUID) error
	Accept(ctx context.Context, companyID, actorID, id uuid.UUID) error
}

// RatePort resolves exchange rates for reference-priced lines.
type RatePort interface {
	Rate(ctx context.Context, code string) (decimal.Decimal, error)
}

// ProductPort reads current product prices for updated_product lines.
type ProductPort interface {
	CurrentPrice(ctx context.Context, companyID, productID uuid.UUID) (decimal.Decimal, error)
}

// Engine walks due templates and generates their documents.
type Engine struct {
	templates RepositoryPort
	invoices  InvoiceGenPort
	proformas ProformaGenPort
	rates     RatePort
	products  ProductPort
	metrics   *observability.Metrics
	now       func() time.Time
}

// NewEngine builds the generation engine. products and metrics may be nil.
func NewEngine(templates RepositoryPort, invoices InvoiceGenPort, proformas ProformaGenPort, rates RatePort, products ProductPort) *Engine {
	return &Engine{
		templates: templates,
		invoices:  invoices,
		proformas: proformas,
		rates:     rates,
		products:  products,
		now:       time.Now,
	}
}

// WithNow overrides the clock, used by tests.
func (e *Engine) WithNow(now func() time.Time) *Engine {
	e.now = now
	return e
}

// WithMetrics installs domain counters.
func (e *Engine) WithMetrics(m *observability.Metrics) *Engine {
	e.metrics = m
	return e
}

// ProcessDue generates documents for every active template whose issuance
// date has passed. Best-effort per template: one broken template never blocks
// the rest, and its schedule is not advanced so the next run retries it.
func (e *Engine) ProcessDue(ctx context.Context, now time.Time, limit int) (shared.BulkResult, error) {
	due, err := e.templates.ListDue(ctx, now, limit)
	if err != nil {
		return shared.BulkResult{}, err
	}
	var res shared.BulkResult
	for i := range due {
		t := &due[i]
		if err := e.generate(ctx, t, now); err != nil {
			res.Fail(t.ID.String(), err)
			continue
		}
		if err := e.advance(ctx, t); err != nil {
			res.Fail(t.ID.String(), err)
			continue
		}
		res.Succeeded++
		if e.metrics != nil {
			e.metrics.RecurringGenerated.Inc()
		}
	}
	return res, nil
}

func (e *Engine) generate(ctx context.Context, t *Template, now time.Time) error {
	lines, rate, err := e.resolveLines(ctx, t, now)
	if err != nil {
		return err
	}
	notes := ExpandVars(t.Notes, now, rate)
	dueDate := t.DueDateFor(now)

	switch t.Kind {
	case document.KindInvoice:
		inv, err := e.invoices.Create(ctx, t.CompanyID, t.CreatedBy, invoice.CreateInput{
			ClientID:      t.ClientID,
			ClientName:    t.ClientName,
			ClientCIF:     t.ClientCIF,
			ClientAddress: t.ClientAddress,
			SeriesID:      t.SeriesID,
			Currency:      t.Currency,
			DueDate:       dueDate,
			Notes:         notes,
			Lines:         lines,
		})
		if err != nil {
			return fmt.Errorf("recurring: template %s: create invoice: %w", t.Name, err)
		}
		if t.AutoIssue {
			if _, err := e.invoices.Issue(ctx, t.CompanyID, t.CreatedBy, inv.ID); err != nil {
				return fmt.Errorf("recurring: template %s: issue invoice: %w", t.Name, err)
			}
		}
		return nil
	case document.KindProforma:
		p, err := e.proformas.Create(ctx, t.CompanyID, t.CreatedBy, proforma.CreateInput{
			ClientID:      t.ClientID,
			ClientName:    t.ClientName,
			ClientCIF:     t.ClientCIF,
			ClientAddress: t.ClientAddress,
			SeriesID:      t.SeriesID,
			Currency:      t.Currency,
			ValidUntil:    dueDate,
			Notes:         notes,
			Lines:         lines,
		})
		if err != nil {
			return fmt.Errorf("recurring: template %s: create proforma: %w", t.Name, err)
		}
		if t.AutoIssue {
			if err := e.proformas.Send(ctx, t.CompanyID, t.CreatedBy, p.ID); err != nil {
				return fmt.Errorf("recurring: template %s: send proforma: %w", t.Name, err)
			}
			if err := e.proformas.Accept(ctx, t.CompanyID, t.CreatedBy, p.ID); err != nil {
				return fmt.Errorf("recurring: template %s: accept proforma: %w", t.Name, err)
			}
		}
		return nil
	default:
		return shared.NewDomain("template %s generates unsupported kind %s", t.Name, t.Kind)
	}
}

// advance moves the schedule forward. A once template, or one whose next
// date would pass the stop date, deactivates instead.
func (e *Engine) advance(ctx context.Context, t *Template) error {
	next, ok := t.NextAfter(t.NextIssuanceDate)
	if !ok {
		return e.templates.Advance(ctx, t.ID, nil)
	}
	if t.StopDate != nil && next.After(*t.StopDate) {
		return e.templates.Advance(ctx, t.ID, nil)
	}
	return e.templates.Advance(ctx, t.ID, &next)
}

// resolveLines prices every template line for the generation date and
// expands description variables. The returned rate is the one used by the
// first reference line, for the [[curs]] variable.
func (e *Engine) resolveLines(ctx context.Context, t *Template, now time.Time) ([]document.Line, decimal.Decimal, error) {
	usedRate := decimal.NewFromInt(1)
	rateSet := false
	out := make([]document.Line, 0, len(t.Lines))
	for _, tl := range t.Lines {
		price := tl.UnitPrice
		switch tl.PriceRule {
		case PriceUpdatedProduct:
			if e.products == nil || tl.ProductID == nil {
				return nil, usedRate, shared.NewDomain("template %s has an updated_product line without a product source", t.Name)
			}
			p, err := e.products.CurrentPrice(ctx, t.CompanyID, *tl.ProductID)
			if err != nil {
				return nil, usedRate, fmt.Errorf("recurring: product price: %w", err)
			}
			price = p
		case PriceReference:
			rate, err := e.rates.Rate(ctx, tl.RefCurrency)
			if err != nil {
				return nil, usedRate, fmt.Errorf("recurring: rate %s: %w", tl.RefCurrency, err)
			}
			price = applyReference(tl.UnitPrice, rate, tl.RefMarkupPercent)
			if !rateSet {
				usedRate = rate
				rateSet = true
			}
		}
		out = append(out, document.Line{
			Description:   ExpandVars(tl.Description, now, usedRate),
			Quantity:      tl.Quantity,
			UnitPrice:     price,
			VATRate:       tl.VATRate,
			VATCategory:   tl.VATCategory,
			UnitOfMeasure: tl.UnitOfMeasure,
		})
	}
	return out, usedRate, nil
}
