package deliverynote

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

type memoryNoteRepo struct {
	mu       sync.Mutex
	notes    map[uuid.UUID]*DeliveryNote
	events   []document.Event
	counters map[uuid.UUID]*seriesState
}

func newMemoryNoteRepo() *memoryNoteRepo {
	return &memoryNoteRepo{
		notes:    make(map[uuid.UUID]*DeliveryNote),
		counters: make(map[uuid.UUID]*seriesState),
	}
}

func (m *memoryNoteRepo) addSeries(prefix string, current int64) uuid.UUID {
	id := uuid.New()
	m.counters[id] = &seriesState{prefix: prefix, current: current}
	return id
}

func (m *memoryNoteRepo) Insert(_ context.Context, d *DeliveryNote, ev document.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.notes[d.ID] = &cp
	m.events = append(m.events, ev)
	return nil
}

func (m *memoryNoteRepo) Get(_ context.Context, companyID, id uuid.UUID) (*DeliveryNote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.notes[id]
	if !ok || d.CompanyID != companyID || d.DeletedAt != nil {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *memoryNoteRepo) List(_ context.Context, companyID uuid.UUID, _ Filter) ([]DeliveryNote, shared.Pagination, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []DeliveryNote
	for _, d := range m.notes {
		if d.CompanyID == companyID && d.DeletedAt == nil {
			out = append(out, *d)
		}
	}
	return out, shared.NewPagination(1, 20, len(out)), nil
}

func (m *memoryNoteRepo) UpdateDraft(_ context.Context, d *DeliveryNote, ev document.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.notes[d.ID]; !ok {
		return ErrNotFound
	}
	cp := *d
	m.notes[d.ID] = &cp
	m.events = append(m.events, ev)
	return nil
}

func (m *memoryNoteRepo) Issue(_ context.Context, cmd IssueCommand) (*DeliveryNote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counter, ok := m.counters[cmd.SeriesID]
	if !ok {
		return nil, series.ErrNotFound
	}
	d, ok := m.notes[cmd.ID]
	if !ok || d.DeletedAt != nil {
		return nil, ErrNotFound
	}
	if d.Status != document.StatusDraft {
		return nil, shared.ErrConflict
	}
	counter.current++
	d.SeriesID = &cmd.SeriesID
	d.Number = series.FormatNumber(counter.prefix, counter.current)
	d.Status = document.StatusIssued
	d.IssuedAt = &cmd.IssuedAt
	cp := *d
	return &cp, nil
}

func (m *memoryNoteRepo) UpdateStatus(_ context.Context, cmd StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.notes[cmd.ID]
	if !ok || d.DeletedAt != nil {
		return ErrNotFound
	}
	if d.Status != cmd.From {
		return shared.ErrConflict
	}
	d.Status = cmd.To
	if cmd.CancelledAt != nil {
		d.CancelledAt = cmd.CancelledAt
		d.CancelReason = cmd.Reason
	}
	if cmd.ClearCancellation {
		d.CancelledAt = nil
		d.CancelReason = ""
	}
	if cmd.SetETransportStatus != nil {
		d.ETransportStatus = *cmd.SetETransportStatus
	}
	if cmd.SetUITCode != nil {
		d.UITCode = cmd.SetUITCode
	}
	if cmd.SetInvoiceID != nil {
		d.InvoiceID = cmd.SetInvoiceID
	}
	m.events = append(m.events, document.Event{DocumentID: cmd.ID, Action: cmd.Action})
	return nil
}

func (m *memoryNoteRepo) SoftDelete(_ context.Context, companyID, id, _ uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.notes[id]
	if !ok || d.CompanyID != companyID || d.DeletedAt != nil {
		return false, ErrNotFound
	}
	decremented := false
	if d.SeriesID != nil {
		if counter, ok := m.counters[*d.SeriesID]; ok {
			if series.FormatNumber(counter.prefix, counter.current) == d.Number {
				counter.current--
				decremented = true
			}
		}
	}
	now := time.Now()
	d.DeletedAt = &now
	return decremented, nil
}

func (m *memoryNoteRepo) ListEvents(_ context.Context, _, id uuid.UUID) ([]document.Event, error) {
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
	repo      *memoryNoteRepo
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

type fakeQueue struct {
	mu       sync.Mutex
	enqueued []string
}

func (f *fakeQueue) EnqueueSubmit(_ context.Context, _ uuid.UUID, provider string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, provider)
	return nil
}

type fixture struct {
	repo      *memoryNoteRepo
	svc       *Service
	queue     *fakeQueue
	companyID uuid.UUID
	actorID   uuid.UUID
	seriesID  uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newMemoryNoteRepo()
	seriesID := repo.addSeries("AVZ", 0)
	queue := &fakeQueue{}
	svc := NewService(repo, fakeCompanies{}, &fakeSeriesPort{repo: repo, defaultID: seriesID}, queue)
	svc.WithNow(func() time.Time { return time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC) })
	return &fixture{repo: repo, svc: svc, queue: queue, companyID: uuid.New(), actorID: uuid.New(), seriesID: seriesID}
}

func (f *fixture) create(t *testing.T) *DeliveryNote {
	t.Helper()
	d, err := f.svc.Create(context.Background(), f.companyID, f.actorID, CreateInput{
		ClientName:   "SC Client SRL",
		VehiclePlate: "b 01 xyz",
		DriverName:   "Ion Popescu",
		Lines: []document.Line{
			{Description: "Marfa", Quantity: dec("10"), UnitPrice: dec("20"), VATRate: dec("21")},
		},
	})
	require.NoError(t, err)
	return d
}

func (f *fixture) issued(t *testing.T) *DeliveryNote {
	t.Helper()
	d := f.create(t)
	issued, err := f.svc.Issue(context.Background(), f.companyID, f.actorID, d.ID)
	require.NoError(t, err)
	return issued
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCreateNormalizesPlate(t *testing.T) {
	f := newFixture(t)
	d := f.create(t)
	require.Equal(t, "B01XYZ", d.VehiclePlate)
	require.Contains(t, d.Number, "AVZ-")
	require.Equal(t, document.StatusDraft, d.Status)
}

func TestIssueUsesDefaultSeries(t *testing.T) {
	f := newFixture(t)
	d := f.issued(t)
	require.Equal(t, "AVZ0001", d.Number)
	require.Equal(t, document.StatusIssued, d.Status)
}

func TestSubmitToETransportOnlyWhenIssued(t *testing.T) {
	f := newFixture(t)
	draft := f.create(t)
	err := f.svc.SubmitToETransport(context.Background(), f.companyID, f.actorID, draft.ID)
	require.True(t, shared.IsDomain(err))
	require.Empty(t, f.queue.enqueued)

	d := f.issued(t)
	require.NoError(t, f.svc.SubmitToETransport(context.Background(), f.companyID, f.actorID, d.ID))
	got, _ := f.svc.Get(context.Background(), f.companyID, d.ID)
	require.Equal(t, ETransportPending, got.ETransportStatus)
	require.Equal(t, []string{"etransport"}, f.queue.enqueued)
}

func TestSubmitToETransportRejectsDuplicateDeclaration(t *testing.T) {
	f := newFixture(t)
	d := f.issued(t)
	require.NoError(t, f.svc.SubmitToETransport(context.Background(), f.companyID, f.actorID, d.ID))

	err := f.svc.SubmitToETransport(context.Background(), f.companyID, f.actorID, d.ID)
	require.True(t, shared.IsDomain(err))
}

func TestSubmitToETransportRetriesAfterFailure(t *testing.T) {
	f := newFixture(t)
	d := f.issued(t)
	require.NoError(t, f.svc.MarkETransport(context.Background(), f.companyID, d.ID, ETransportUploadFailed, ""))

	require.NoError(t, f.svc.SubmitToETransport(context.Background(), f.companyID, f.actorID, d.ID))
	got, _ := f.svc.Get(context.Background(), f.companyID, d.ID)
	require.Equal(t, ETransportPending, got.ETransportStatus)
}

func TestMarkETransportStoresUITCode(t *testing.T) {
	f := newFixture(t)
	d := f.issued(t)
	require.NoError(t, f.svc.MarkETransport(context.Background(), f.companyID, d.ID, ETransportOK, "UIT123"))

	got, _ := f.svc.Get(context.Background(), f.companyID, d.ID)
	require.Equal(t, ETransportOK, got.ETransportStatus)
	require.NotNil(t, got.UITCode)
	require.Equal(t, "UIT123", *got.UITCode)
}

func TestCancelForbiddenAfterDeclaration(t *testing.T) {
	f := newFixture(t)
	d := f.issued(t)
	require.NoError(t, f.svc.MarkETransport(context.Background(), f.companyID, d.ID, ETransportOK, "UIT123"))

	err := f.svc.Cancel(context.Background(), f.companyID, f.actorID, d.ID, "wrong goods")
	require.True(t, shared.IsDomain(err))

	got, _ := f.svc.Get(context.Background(), f.companyID, d.ID)
	require.Equal(t, document.StatusIssued, got.Status)
}

func TestCancelAllowedBeforeDeclaration(t *testing.T) {
	f := newFixture(t)
	d := f.issued(t)
	require.NoError(t, f.svc.Cancel(context.Background(), f.companyID, f.actorID, d.ID, "wrong goods"))

	got, _ := f.svc.Get(context.Background(), f.companyID, d.ID)
	require.Equal(t, document.StatusCancelled, got.Status)
}

func TestConvertedRefusesCancel(t *testing.T) {
	f := newFixture(t)
	d := f.issued(t)
	require.NoError(t, f.svc.MarkConverted(context.Background(), f.companyID, f.actorID, d.ID, uuid.New()))

	err := f.svc.Cancel(context.Background(), f.companyID, f.actorID, d.ID, "no")
	require.True(t, shared.IsDomain(err))
}

func TestStornoNegatesQuantities(t *testing.T) {
	f := newFixture(t)
	d := f.issued(t)

	mirror, err := f.svc.Storno(context.Background(), f.companyID, f.actorID, d.ID)
	require.NoError(t, err)
	require.Equal(t, document.StatusDraft, mirror.Status)
	require.True(t, mirror.Lines[0].Quantity.Equal(dec("-10")))
	require.True(t, mirror.Totals.Total.Equal(d.Totals.Total.Neg()))
	require.NotNil(t, mirror.ParentID)
}

func TestDeleteDecrementsLatestNumber(t *testing.T) {
	f := newFixture(t)
	d := f.issued(t)
	require.NoError(t, f.svc.Cancel(context.Background(), f.companyID, f.actorID, d.ID, "void"))
	require.NoError(t, f.svc.Delete(context.Background(), f.companyID, f.actorID, d.ID))
	require.Equal(t, int64(0), f.repo.counters[f.seriesID].current)
}
