package recurring

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/facturio/facturio/internal/document"
	"github.com/facturio/facturio/internal/invoice"
	"github.com/facturio/facturio/internal/proforma"
	"github.com/facturio/facturio/internal/shared"
)

type memoryTemplateRepo struct {
	mu        sync.Mutex
	templates map[uuid.UUID]*Template
}

func newMemoryTemplateRepo() *memoryTemplateRepo {
	return &memoryTemplateRepo{templates: map[uuid.UUID]*Template{}}
}

func (r *memoryTemplateRepo) Insert(_ context.Context, t *Template) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.templates[t.ID] = &cp
	return nil
}

func (r *memoryTemplateRepo) Get(_ context.Context, companyID, id uuid.UUID) (*Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.templates[id]
	if !ok || t.CompanyID != companyID {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *memoryTemplateRepo) List(_ context.Context, companyID uuid.UUID, f Filter) ([]Template, shared.Pagination, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Template
	for _, t := range r.templates {
		if t.CompanyID != companyID {
			continue
		}
		if f.Kind != "" && t.Kind != f.Kind {
			continue
		}
		if f.Active != nil && t.Active != *f.Active {
			continue
		}
		out = append(out, *t)
	}
	return out, shared.NewPagination(f.Page, f.PerPage, len(out)), nil
}

func (r *memoryTemplateRepo) Update(_ context.Context, t *Template) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.templates[t.ID]; !ok {
		return ErrNotFound
	}
	cp := *t
	r.templates[t.ID] = &cp
	return nil
}

func (r *memoryTemplateRepo) SetActive(_ context.Context, companyID, id uuid.UUID, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.templates[id]
	if !ok || t.CompanyID != companyID {
		return ErrNotFound
	}
	t.Active = active
	return nil
}

func (r *memoryTemplateRepo) ListDue(_ context.Context, now time.Time, limit int) ([]Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Template
	for _, t := range r.templates {
		if t.Active && !t.NextIssuanceDate.After(now) {
			out = append(out, *t)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memoryTemplateRepo) Advance(_ context.Context, id uuid.UUID, next *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.templates[id]
	if !ok {
		return ErrNotFound
	}
	if next == nil {
		t.Active = false
		return nil
	}
	t.NextIssuanceDate = *next
	return nil
}

type fakeInvoiceGen struct {
	created    []invoice.CreateInput
	issued     []uuid.UUID
	failCreate bool
}

func (f *fakeInvoiceGen) Create(_ context.Context, _, _ uuid.UUID, in invoice.CreateInput) (*invoice.Invoice, error) {
	if f.failCreate {
		return nil, errors.New("series locked")
	}
	f.created = append(f.created, in)
	return &invoice.Invoice{ID: uuid.New()}, nil
}

func (f *fakeInvoiceGen) Issue(_ context.Context, _, _, id uuid.UUID) (*invoice.Invoice, error) {
	f.issued = append(f.issued, id)
	return &invoice.Invoice{ID: id}, nil
}

type fakeProformaGen struct {
	created  []proforma.CreateInput
	sent     []uuid.UUID
	accepted []uuid.UUID
}

func (f *fakeProformaGen) Create(_ context.Context, _, _ uuid.UUID, in proforma.CreateInput) (*proforma.Proforma, error) {
	f.created = append(f.created, in)
	return &proforma.Proforma{ID: uuid.New()}, nil
}

func (f *fakeProformaGen) Send(_ context.Context, _, _, id uuid.UUID) error {
	f.sent = append(f.sent, id)
	return nil
}

func (f *fakeProformaGen) Accept(_ context.Context, _, _, id uuid.UUID) error {
	f.accepted = append(f.accepted, id)
	return nil
}

type fakeRates struct {
	rates map[string]decimal.Decimal
}

func (f *fakeRates) Rate(_ context.Context, code string) (decimal.Decimal, error) {
	r, ok := f.rates[code]
	if !ok {
		return decimal.Decimal{}, errors.New("no rate for " + code)
	}
	return r, nil
}

type fakeProducts struct {
	prices map[uuid.UUID]decimal.Decimal
}

func (f *fakeProducts) CurrentPrice(_ context.Context, _, productID uuid.UUID) (decimal.Decimal, error) {
	p, ok := f.prices[productID]
	if !ok {
		return decimal.Decimal{}, errors.New("unknown product")
	}
	return p, nil
}

var engineNow = time.Date(2026, time.May, 4, 10, 0, 0, 0, time.UTC)

type engineFixture struct {
	repo      *memoryTemplateRepo
	svc       *Service
	engine    *Engine
	invoices  *fakeInvoiceGen
	proformas *fakeProformaGen
	rates     *fakeRates
	products  *fakeProducts
	companyID uuid.UUID
	actorID   uuid.UUID
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	repo := newMemoryTemplateRepo()
	inv := &fakeInvoiceGen{}
	pro := &fakeProformaGen{}
	rates := &fakeRates{rates: map[string]decimal.Decimal{
		"EUR": decimal.RequireFromString("4.9750"),
	}}
	products := &fakeProducts{prices: map[uuid.UUID]decimal.Decimal{}}
	return &engineFixture{
		repo:      repo,
		svc:       NewService(repo).WithNow(func() time.Time { return engineNow }),
		engine:    NewEngine(repo, inv, pro, rates, products).WithNow(func() time.Time { return engineNow }),
		invoices:  inv,
		proformas: pro,
		rates:     rates,
		products:  products,
		companyID: uuid.New(),
		actorID:   uuid.New(),
	}
}

func fixedLine(desc string, qty, price int64) TemplateLine {
	return TemplateLine{
		Description: desc,
		Quantity:    decimal.NewFromInt(qty),
		UnitPrice:   decimal.NewFromInt(price),
		VATRate:     decimal.NewFromInt(21),
		VATCategory: "S",
	}
}

func baseCreate(kind document.Kind) CreateInput {
	return CreateInput{
		Name:          "Abonament lunar",
		ClientID:      uuid.New(),
		ClientName:    "Test SRL",
		ClientCIF:     "RO123456",
		Kind:          kind,
		Frequency:     FrequencyMonthly,
		FrequencyDay:  4,
		FirstIssuance: engineNow,
		DueDatePolicy: DueDatePolicy{Type: "days", Value: 15},
		Lines:         []TemplateLine{fixedLine("Servicii", 1, 100)},
	}
}

func TestNextAfter(t *testing.T) {
	from := time.Date(2026, time.May, 4, 9, 30, 0, 0, time.UTC)
	cases := []struct {
		name string
		tpl  Template
		want time.Time
		ok   bool
	}{
		{"once never recurs", Template{Frequency: FrequencyOnce}, time.Time{}, false},
		{"weekly adds seven days", Template{Frequency: FrequencyWeekly},
			time.Date(2026, time.May, 11, 9, 30, 0, 0, time.UTC), true},
		{"monthly anchors on frequency day", Template{Frequency: FrequencyMonthly, FrequencyDay: 15},
			time.Date(2026, time.June, 15, 9, 30, 0, 0, time.UTC), true},
		{"monthly without anchor keeps the day", Template{Frequency: FrequencyMonthly},
			time.Date(2026, time.June, 4, 9, 30, 0, 0, time.UTC), true},
		{"quarterly steps three months", Template{Frequency: FrequencyQuarterly, FrequencyDay: 4},
			time.Date(2026, time.August, 4, 9, 30, 0, 0, time.UTC), true},
		{"yearly steps twelve months", Template{Frequency: FrequencyYearly, FrequencyDay: 4},
			time.Date(2027, time.May, 4, 9, 30, 0, 0, time.UTC), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := tc.tpl.NextAfter(from)
			require.Equal(t, tc.ok, ok)
			if ok {
				require.True(t, tc.want.Equal(got), "want %s got %s", tc.want, got)
			}
		})
	}
}

func TestNextAfterCapsDayAtTwentyEight(t *testing.T) {
	tpl := Template{Frequency: FrequencyMonthly}
	from := time.Date(2026, time.January, 31, 0, 0, 0, 0, time.UTC)
	got, ok := tpl.NextAfter(from)
	require.True(t, ok)
	require.Equal(t, time.Date(2026, time.February, 28, 0, 0, 0, 0, time.UTC), got)
}

func TestDueDateFor(t *testing.T) {
	issued := time.Date(2026, time.May, 4, 10, 0, 0, 0, time.UTC)

	days := Template{DueDatePolicy: DueDatePolicy{Type: "days", Value: 15}}
	got := days.DueDateFor(issued)
	require.NotNil(t, got)
	require.Equal(t, time.Date(2026, time.May, 19, 10, 0, 0, 0, time.UTC), *got)

	ahead := Template{DueDatePolicy: DueDatePolicy{Type: "fixed_day", Value: 20}}
	got = ahead.DueDateFor(issued)
	require.NotNil(t, got)
	require.Equal(t, time.Date(2026, time.May, 20, 0, 0, 0, 0, time.UTC), *got)

	passed := Template{DueDatePolicy: DueDatePolicy{Type: "fixed_day", Value: 3}}
	got = passed.DueDateFor(issued)
	require.NotNil(t, got)
	require.Equal(t, time.Date(2026, time.June, 3, 0, 0, 0, 0, time.UTC), *got)

	none := Template{}
	require.Nil(t, none.DueDateFor(issued))
}

func TestExpandVars(t *testing.T) {
	at := time.Date(2026, time.May, 4, 0, 0, 0, 0, time.UTC)
	rate := decimal.RequireFromString("4.9750")
	got := ExpandVars("Abonament [[luna]] ([[luna_nr]]/[[an]]), curs [[curs]]", at, rate)
	require.Equal(t, "Abonament mai (05/2026), curs 4.9750", got)
}

func TestCreateRejectsUnknownKind(t *testing.T) {
	f := newEngineFixture(t)
	in := baseCreate(document.KindReceipt)
	_, err := f.svc.Create(context.Background(), f.companyID, f.actorID, in)
	require.Error(t, err)
}

func TestCreateRejectsFrequencyDayPastTwentyEight(t *testing.T) {
	f := newEngineFixture(t)
	in := baseCreate(document.KindInvoice)
	in.FrequencyDay = 29
	_, err := f.svc.Create(context.Background(), f.companyID, f.actorID, in)
	require.Error(t, err)
}

func TestCreateRejectsReferenceLineWithoutCurrency(t *testing.T) {
	f := newEngineFixture(t)
	in := baseCreate(document.KindInvoice)
	l := fixedLine("Chirie", 1, 500)
	l.PriceRule = PriceReference
	in.Lines = []TemplateLine{l}
	_, err := f.svc.Create(context.Background(), f.companyID, f.actorID, in)
	require.Error(t, err)
}

func TestCreateDefaultsCurrencyAndActivates(t *testing.T) {
	f := newEngineFixture(t)
	tpl, err := f.svc.Create(context.Background(), f.companyID, f.actorID, baseCreate(document.KindInvoice))
	require.NoError(t, err)
	require.Equal(t, "RON", tpl.Currency)
	require.True(t, tpl.Active)
	require.Equal(t, 1, tpl.Lines[0].Position)
	require.Equal(t, PriceFixed, tpl.Lines[0].PriceRule)
}

func TestProcessDueGeneratesAndIssuesInvoice(t *testing.T) {
	f := newEngineFixture(t)
	in := baseCreate(document.KindInvoice)
	in.AutoIssue = true
	tpl, err := f.svc.Create(context.Background(), f.companyID, f.actorID, in)
	require.NoError(t, err)

	res, err := f.engine.ProcessDue(context.Background(), engineNow, 50)
	require.NoError(t, err)
	require.Equal(t, 1, res.Succeeded)
	require.Empty(t, res.Errors)
	require.Len(t, f.invoices.created, 1)
	require.Len(t, f.invoices.issued, 1)
	require.NotNil(t, f.invoices.created[0].DueDate)
	require.Equal(t, engineNow.AddDate(0, 0, 15), *f.invoices.created[0].DueDate)

	after, err := f.repo.Get(context.Background(), f.companyID, tpl.ID)
	require.NoError(t, err)
	require.True(t, after.Active)
	require.Equal(t, time.Date(2026, time.June, 4, 10, 0, 0, 0, time.UTC), after.NextIssuanceDate)
}

func TestProcessDueCirculatesProforma(t *testing.T) {
	f := newEngineFixture(t)
	in := baseCreate(document.KindProforma)
	in.AutoIssue = true
	_, err := f.svc.Create(context.Background(), f.companyID, f.actorID, in)
	require.NoError(t, err)

	res, err := f.engine.ProcessDue(context.Background(), engineNow, 50)
	require.NoError(t, err)
	require.Equal(t, 1, res.Succeeded)
	require.Len(t, f.proformas.created, 1)
	require.Len(t, f.proformas.sent, 1)
	require.Len(t, f.proformas.accepted, 1)
}

func TestProcessDueSkipsFutureTemplates(t *testing.T) {
	f := newEngineFixture(t)
	in := baseCreate(document.KindInvoice)
	in.FirstIssuance = engineNow.AddDate(0, 0, 1)
	_, err := f.svc.Create(context.Background(), f.companyID, f.actorID, in)
	require.NoError(t, err)

	res, err := f.engine.ProcessDue(context.Background(), engineNow, 50)
	require.NoError(t, err)
	require.Zero(t, res.Succeeded)
	require.Empty(t, f.invoices.created)
}

func TestProcessDueDeactivatesOnce(t *testing.T) {
	f := newEngineFixture(t)
	in := baseCreate(document.KindInvoice)
	in.Frequency = FrequencyOnce
	in.FrequencyDay = 0
	tpl, err := f.svc.Create(context.Background(), f.companyID, f.actorID, in)
	require.NoError(t, err)

	_, err = f.engine.ProcessDue(context.Background(), engineNow, 50)
	require.NoError(t, err)

	after, err := f.repo.Get(context.Background(), f.companyID, tpl.ID)
	require.NoError(t, err)
	require.False(t, after.Active)
	require.Len(t, f.invoices.created, 1)
}

func TestProcessDueDeactivatesPastStopDate(t *testing.T) {
	f := newEngineFixture(t)
	in := baseCreate(document.KindInvoice)
	stop := engineNow.AddDate(0, 0, 10)
	in.StopDate = &stop
	tpl, err := f.svc.Create(context.Background(), f.companyID, f.actorID, in)
	require.NoError(t, err)

	_, err = f.engine.ProcessDue(context.Background(), engineNow, 50)
	require.NoError(t, err)

	after, err := f.repo.Get(context.Background(), f.companyID, tpl.ID)
	require.NoError(t, err)
	require.False(t, after.Active)
	require.Len(t, f.invoices.created, 1)
}

func TestProcessDueKeepsScheduleOnFailure(t *testing.T) {
	f := newEngineFixture(t)
	tpl, err := f.svc.Create(context.Background(), f.companyID, f.actorID, baseCreate(document.KindInvoice))
	require.NoError(t, err)
	f.invoices.failCreate = true

	res, err := f.engine.ProcessDue(context.Background(), engineNow, 50)
	require.NoError(t, err)
	require.Zero(t, res.Succeeded)
	require.Len(t, res.Errors, 1)

	after, err := f.repo.Get(context.Background(), f.companyID, tpl.ID)
	require.NoError(t, err)
	require.True(t, after.Active)
	require.True(t, engineNow.Equal(after.NextIssuanceDate), "schedule must stay put for retry")
}

func TestProcessDuePricesReferenceLines(t *testing.T) {
	f := newEngineFixture(t)
	in := baseCreate(document.KindInvoice)
	l := fixedLine("Chirie [[luna]] [[an]], curs BNR [[curs]]", 1, 0)
	l.UnitPrice = decimal.NewFromInt(500)
	l.PriceRule = PriceReference
	l.RefCurrency = "EUR"
	l.RefMarkupPercent = decimal.NewFromInt(2)
	in.Lines = []TemplateLine{l}
	in.Notes = "Factura [[luna_nr]]/[[an]]"
	_, err := f.svc.Create(context.Background(), f.companyID, f.actorID, in)
	require.NoError(t, err)

	res, err := f.engine.ProcessDue(context.Background(), engineNow, 50)
	require.NoError(t, err)
	require.Equal(t, 1, res.Succeeded)
	require.Len(t, f.invoices.created, 1)

	created := f.invoices.created[0]
	// 500 * 4.9750 * 1.02 = 2537.25
	require.True(t, decimal.RequireFromString("2537.25").Equal(created.Lines[0].UnitPrice),
		"got %s", created.Lines[0].UnitPrice)
	require.Equal(t, "Factura 05/2026", created.Notes)
	require.Contains(t, created.Lines[0].Description, "curs BNR 4.9750")
	require.Contains(t, created.Lines[0].Description, "Chirie mai 2026")
}

func TestProcessDueUsesCurrentProductPrice(t *testing.T) {
	f := newEngineFixture(t)
	productID := uuid.New()
	f.products.prices[productID] = decimal.RequireFromString("149.99")
	in := baseCreate(document.KindInvoice)
	l := fixedLine("Abonament", 2, 100)
	l.PriceRule = PriceUpdatedProduct
	l.ProductID = &productID
	in.Lines = []TemplateLine{l}
	_, err := f.svc.Create(context.Background(), f.companyID, f.actorID, in)
	require.NoError(t, err)

	res, err := f.engine.ProcessDue(context.Background(), engineNow, 50)
	require.NoError(t, err)
	require.Equal(t, 1, res.Succeeded)
	require.True(t, decimal.RequireFromString("149.99").Equal(f.invoices.created[0].Lines[0].UnitPrice))
}

func TestPreviewComputesTotalsWithoutCreating(t *testing.T) {
	f := newEngineFixture(t)
	tpl, err := f.svc.Create(context.Background(), f.companyID, f.actorID, baseCreate(document.KindInvoice))
	require.NoError(t, err)

	lines, totals, err := f.engine.Preview(context.Background(), f.companyID, tpl.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.True(t, decimal.RequireFromString("121").Equal(totals.Total), "got %s", totals.Total)
	require.Empty(t, f.invoices.created)
}
