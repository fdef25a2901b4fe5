package receipt

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/facturio/facturio/internal/company"
	"github.com/facturio/facturio/internal/document"
	"github.com/facturio/facturio/internal/series"
	"github.com/facturio/facturio/internal/shared"
)

type seriesState struct {
	prefix  string
	current int64
}

type memoryReceiptRepo struct {
	mu       sync.Mutex
	receipts map[uuid.UUID]*Receipt
	events   []document.Event
	counters map[uuid.UUID]*seriesState
}

func newMemoryReceiptRepo() *memoryReceiptRepo {
	return &memoryReceiptRepo{
		receipts: make(map[uuid.UUID]*Receipt),
		counters: make(map[uuid.UUID]*seriesState),
	}
}

func (m *memoryReceiptRepo) addSeries(prefix string, current int64) uuid.UUID {
	id := uuid.New()
	m.counters[id] = &seriesState{prefix: prefix, current: current}
	return id
}

func (m *memoryReceiptRepo) Insert(_ context.Context, rc *Receipt, ev document.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rc
	m.receipts[rc.ID] = &cp
	m.events = append(m.events, ev)
	return nil
}

func (m *memoryReceiptRepo) Get(_ context.Context, companyID, id uuid.UUID) (*Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rc, ok := m.receipts[id]
	if !ok || rc.CompanyID != companyID || rc.DeletedAt != nil {
		return nil, ErrNotFound
	}
	cp := *rc
	return &cp, nil
}

func (m *memoryReceiptRepo) List(_ context.Context, companyID uuid.UUID, _ Filter) ([]Receipt, shared.Pagination, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Receipt
	for _, rc := range m.receipts {
		if rc.CompanyID == companyID && rc.DeletedAt == nil {
			out = append(out, *rc)
		}
	}
	return out, shared.NewPagination(1, 20, len(out)), nil
}

func (m *memoryReceiptRepo) UpdateDraft(_ context.Context, rc *Receipt, ev document.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.receipts[rc.ID]; !ok {
		return ErrNotFound
	}
	cp := *rc
	m.receipts[rc.ID] = &cp
	m.events = append(m.events, ev)
	return nil
}

func (m *memoryReceiptRepo) Issue(_ context.Context, cmd IssueCommand) (*Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counter, ok := m.counters[cmd.SeriesID]
	if !ok {
		return nil, series.ErrNotFound
	}
	rc, ok := m.receipts[cmd.ID]
	if !ok || rc.DeletedAt != nil {
		return nil, ErrNotFound
	}
	if rc.Status != document.StatusDraft {
		return nil, shared.ErrConflict
	}
	counter.current++
	rc.SeriesID = &cmd.SeriesID
	rc.Number = series.FormatNumber(counter.prefix, counter.current)
	rc.Status = document.StatusIssued
	rc.IssuedAt = &cmd.IssuedAt
	cp := *rc
	return &cp, nil
}

func (m *memoryReceiptRepo) UpdateStatus(_ context.Context, cmd StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rc, ok := m.receipts[cmd.ID]
	if !ok || rc.DeletedAt != nil {
		return ErrNotFound
	}
	if rc.Status != cmd.From {
		return shared.ErrConflict
	}
	rc.Status = cmd.To
	if cmd.CancelledAt != nil {
		rc.CancelledAt = cmd.CancelledAt
		rc.CancelReason = cmd.Reason
	}
	if cmd.ClearCancellation {
		rc.CancelledAt = nil
		rc.CancelReason = ""
	}
	if cmd.SetInvoiceID != nil {
		rc.InvoiceID = cmd.SetInvoiceID
	}
	m.events = append(m.events, document.Event{DocumentID: cmd.ID, Action: cmd.Action})
	return nil
}

func (m *memoryReceiptRepo) SoftDelete(_ context.Context, companyID, id, _ uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rc, ok := m.receipts[id]
	if !ok || rc.CompanyID != companyID || rc.DeletedAt != nil {
		return false, ErrNotFound
	}
	decremented := false
	if rc.SeriesID != nil {
		if counter, ok := m.counters[*rc.SeriesID]; ok {
			if series.FormatNumber(counter.prefix, counter.current) == rc.Number {
				counter.current--
				decremented = true
			}
		}
	}
	now := time.Now()
	rc.DeletedAt = &now
	return decremented, nil
}

func (m *memoryReceiptRepo) ListEvents(_ context.Context, _, id uuid.UUID) ([]document.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []document.Event
	for _, ev := range m.events {
		if ev.DocumentID == id {
			out = append(out, ev)
		}
	}
	return out, nil
}

type fakeCompanies struct{}

func (fakeCompanies) Get(_ context.Context, id uuid.UUID) (*company.Company, error) {
	return &company.Company{ID: id, DefaultCurrency: "RON"}, nil
}

type fakeSeriesPort struct {
	repo      *memoryReceiptRepo
	defaultID uuid.UUID
}

func (f *fakeSeriesPort) FindDefault(_ context.Context, _ uuid.UUID, _ document.Kind) (*series.Series, error) {
	if f.defaultID == uuid.Nil {
		return nil, series.ErrNoDefault
	}
	return &series.Series{ID: f.defaultID}, nil
}

func (f *fakeSeriesPort) Get(_ context.Context, _, id uuid.UUID) (*series.Series, error) {
	if _, ok := f.repo.counters[id]; !ok {
		return nil, series.ErrNotFound
	}
	return &series.Series{ID: id}, nil
}

type fixture struct {
	repo      *memoryReceiptRepo
	svc       *Service
	companyID uuid.UUID
	actorID   uuid.UUID
	seriesID  uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newMemoryReceiptRepo()
	seriesID := repo.addSeries("BON", 0)
	svc := NewService(repo, fakeCompanies{}, &fakeSeriesPort{repo: repo, defaultID: seriesID})
	svc.WithNow(func() time.Time { return time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC) })
	return &fixture{repo: repo, svc: svc, companyID: uuid.New(), actorID: uuid.New(), seriesID: seriesID}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// one line of 100 net at 21% VAT gives a 121 total.
func (f *fixture) create(t *testing.T, payment Payment) *Receipt {
	t.Helper()
	rc, err := f.svc.Create(context.Background(), f.companyID, f.actorID, CreateInput{
		ClientName:       "Client",
		CashRegisterName: "Casa 1",
		FiscalNumber:     "00042",
		Payment:          payment,
		Lines: []document.Line{
			{Description: "Produs", Quantity: dec("1"), UnitPrice: dec("100"), VATRate: dec("21")},
		},
	})
	require.NoError(t, err)
	return rc
}

func TestCreateValidatesPaymentSplit(t *testing.T) {
	f := newFixture(t)
	rc := f.create(t, Payment{Cash: dec("21"), Card: dec("100")})
	require.Contains(t, rc.Number, "BON-")
	require.True(t, rc.Payment.Sum().Equal(rc.Totals.Total))
}

func TestCreateRejectsShortPayment(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), f.companyID, f.actorID, CreateInput{
		ClientName:       "Client",
		CashRegisterName: "Casa 1",
		Payment:          Payment{Cash: dec("100")},
		Lines: []document.Line{
			{Description: "Produs", Quantity: dec("1"), UnitPrice: dec("100"), VATRate: dec("21")},
		},
	})
	require.True(t, shared.IsValidation(err))
}

func TestCreateRejectsNegativePayment(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), f.companyID, f.actorID, CreateInput{
		ClientName:       "Client",
		CashRegisterName: "Casa 1",
		Payment:          Payment{Cash: dec("242"), Card: dec("-121")},
		Lines: []document.Line{
			{Description: "Produs", Quantity: dec("1"), UnitPrice: dec("100"), VATRate: dec("21")},
		},
	})
	require.True(t, shared.IsValidation(err))
}

func TestIssueAssignsNumber(t *testing.T) {
	f := newFixture(t)
	rc := f.create(t, Payment{Cash: dec("121")})
	issued, err := f.svc.Issue(context.Background(), f.companyID, f.actorID, rc.ID)
	require.NoError(t, err)
	require.Equal(t, "BON0001", issued.Number)
	require.Equal(t, document.StatusIssued, issued.Status)
}

func TestCancelForbiddenOnceInvoiced(t *testing.T) {
	f := newFixture(t)
	rc := f.create(t, Payment{Card: dec("121")})
	_, err := f.svc.Issue(context.Background(), f.companyID, f.actorID, rc.ID)
	require.NoError(t, err)
	require.NoError(t, f.svc.MarkInvoiced(context.Background(), f.companyID, f.actorID, rc.ID, uuid.New()))

	err = f.svc.Cancel(context.Background(), f.companyID, f.actorID, rc.ID, "void")
	require.True(t, shared.IsDomain(err))

	got, _ := f.svc.Get(context.Background(), f.companyID, rc.ID)
	require.Equal(t, document.StatusInvoiced, got.Status)
	require.NotNil(t, got.InvoiceID)
}

func TestCancelAndRestore(t *testing.T) {
	f := newFixture(t)
	rc := f.create(t, Payment{Cash: dec("121")})
	_, err := f.svc.Issue(context.Background(), f.companyID, f.actorID, rc.ID)
	require.NoError(t, err)

	require.NoError(t, f.svc.Cancel(context.Background(), f.companyID, f.actorID, rc.ID, "typo"))
	require.NoError(t, f.svc.Restore(context.Background(), f.companyID, f.actorID, rc.ID))

	got, _ := f.svc.Get(context.Background(), f.companyID, rc.ID)
	require.Equal(t, document.StatusDraft, got.Status)
}

func TestMarkInvoicedRequiresIssued(t *testing.T) {
	f := newFixture(t)
	rc := f.create(t, Payment{Cash: dec("121")})
	err := f.svc.MarkInvoiced(context.Background(), f.companyID, f.actorID, rc.ID, uuid.New())
	require.True(t, shared.IsDomain(err))
}

func TestUpdateRevalidatesPayment(t *testing.T) {
	f := newFixture(t)
	rc := f.create(t, Payment{Cash: dec("121")})

	_, err := f.svc.Update(context.Background(), f.companyID, f.actorID, rc.ID, UpdateInput{
		Payment: Payment{Cash: dec("121")},
		Lines: []document.Line{
			{Description: "Produs", Quantity: dec("2"), UnitPrice: dec("100"), VATRate: dec("21")},
		},
	})
	require.True(t, shared.IsValidation(err))

	updated, err := f.svc.Update(context.Background(), f.companyID, f.actorID, rc.ID, UpdateInput{
		Payment: Payment{Cash: dec("242")},
		Lines: []document.Line{
			{Description: "Produs", Quantity: dec("2"), UnitPrice: dec("100"), VATRate: dec("21")},
		},
	})
	require.NoError(t, err)
	require.True(t, updated.Totals.Total.Equal(dec("242")))
}

func TestDeleteDecrementsLatestNumber(t *testing.T) {
	f := newFixture(t)
	rc := f.create(t, Payment{Cash: dec("121")})
	_, err := f.svc.Issue(context.Background(), f.companyID, f.actorID, rc.ID)
	require.NoError(t, err)
	require.NoError(t, f.svc.Cancel(context.Background(), f.companyID, f.actorID, rc.ID, "void"))
	require.NoError(t, f.svc.Delete(context.Background(), f.companyID, f.actorID, rc.ID))
	require.Equal(t, int64(0), f.repo.counters[f.seriesID].current)
}
