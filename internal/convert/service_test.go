package convert

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/facturio/facturio/internal/deliverynote"
	"github.com/facturio/facturio/internal/document"
	"github.com/facturio/facturio/internal/invoice"
	"github.com/facturio/facturio/internal/proforma"
	"github.com/facturio/facturio/internal/receipt"
	"github.com/facturio/facturio/internal/shared"
)

type fakeInvoices struct {
	created []invoice.CreateInput
	fail    bool
}

func (f *fakeInvoices) Create(_ context.Context, companyID, actorID uuid.UUID, in invoice.CreateInput) (*invoice.Invoice, error) {
	if f.fail {
		return nil, errors.New("storage failure")
	}
	f.created = append(f.created, in)
	lines, err := document.ComputeLines(in.Lines)
	if err != nil {
		return nil, err
	}
	return &invoice.Invoice{
		ID:        uuid.New(),
		CompanyID: companyID,
		CreatedBy: actorID,
		Status:    document.StatusDraft,
		Currency:  in.Currency,
		Lines:     lines,
		Totals:    document.ComputeTotals(lines),
	}, nil
}

type fakeProformas struct {
	items     map[uuid.UUID]*proforma.Proforma
	converted map[uuid.UUID]uuid.UUID
	failLink  bool
}

func (f *fakeProformas) Get(_ context.Context, _, id uuid.UUID) (*proforma.Proforma, error) {
	p, ok := f.items[id]
	if !ok {
		return nil, proforma.ErrNotFound
	}
	return p, nil
}

func (f *fakeProformas) MarkConverted(_ context.Context, _, _, id, invoiceID uuid.UUID) error {
	if f.failLink {
		return errors.New("link failure")
	}
	f.converted[id] = invoiceID
	f.items[id].Status = document.StatusConverted
	return nil
}

type fakeNotes struct {
	items     map[uuid.UUID]*deliverynote.DeliveryNote
	converted map[uuid.UUID]uuid.UUID
	created   []deliverynote.CreateInput
}

func (f *fakeNotes) Get(_ context.Context, _, id uuid.UUID) (*deliverynote.DeliveryNote, error) {
	n, ok := f.items[id]
	if !ok {
		return nil, deliverynote.ErrNotFound
	}
	return n, nil
}

func (f *fakeNotes) Create(_ context.Context, companyID, actorID uuid.UUID, in deliverynote.CreateInput) (*deliverynote.DeliveryNote, error) {
	f.created = append(f.created, in)
	lines, err := document.ComputeLines(in.Lines)
	if err != nil {
		return nil, err
	}
	return &deliverynote.DeliveryNote{
		ID:        uuid.New(),
		CompanyID: companyID,
		CreatedBy: actorID,
		Status:    document.StatusDraft,
		Currency:  in.Currency,
		Lines:     lines,
	}, nil
}

func (f *fakeNotes) MarkConverted(_ context.Context, _, _, id, invoiceID uuid.UUID) error {
	f.converted[id] = invoiceID
	f.items[id].Status = document.StatusConverted
	return nil
}

type fakeReceipts struct {
	items    map[uuid.UUID]*receipt.Receipt
	invoiced map[uuid.UUID]uuid.UUID
}

func (f *fakeReceipts) Get(_ context.Context, _, id uuid.UUID) (*receipt.Receipt, error) {
	rc, ok := f.items[id]
	if !ok {
		return nil, receipt.ErrNotFound
	}
	return rc, nil
}

func (f *fakeReceipts) MarkInvoiced(_ context.Context, _, _, id, invoiceID uuid.UUID) error {
	f.invoiced[id] = invoiceID
	f.items[id].Status = document.StatusInvoiced
	return nil
}

type fixture struct {
	pipeline  *Pipeline
	invoices  *fakeInvoices
	proformas *fakeProformas
	notes     *fakeNotes
	receipts  *fakeReceipts
	companyID uuid.UUID
	actorID   uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		invoices:  &fakeInvoices{},
		proformas: &fakeProformas{items: map[uuid.UUID]*proforma.Proforma{}, converted: map[uuid.UUID]uuid.UUID{}},
		notes:     &fakeNotes{items: map[uuid.UUID]*deliverynote.DeliveryNote{}, converted: map[uuid.UUID]uuid.UUID{}},
		receipts:  &fakeReceipts{items: map[uuid.UUID]*receipt.Receipt{}, invoiced: map[uuid.UUID]uuid.UUID{}},
		companyID: uuid.New(),
		actorID:   uuid.New(),
	}
	f.pipeline = NewPipeline(f.invoices, f.proformas, f.notes, f.receipts)
	return f
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func sampleLines() []document.Line {
	lines, err := document.ComputeLines([]document.Line{
		{Description: "Servicii", Quantity: dec("2"), UnitPrice: dec("100"), VATRate: dec("21")},
	})
	if err != nil {
		panic(err)
	}
	return lines
}

func (f *fixture) addProforma(status document.Status) *proforma.Proforma {
	p := &proforma.Proforma{
		ID:         uuid.New(),
		CompanyID:  f.companyID,
		ClientID:   uuid.New(),
		ClientName: "SC Client SRL",
		Number:     "PRO0001",
		Status:     status,
		Currency:   "RON",
		IssueDate:  time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		Lines:      sampleLines(),
	}
	f.proformas.items[p.ID] = p
	return p
}

func (f *fixture) addNote(status document.Status, clientID uuid.UUID, currency, number string) *deliverynote.DeliveryNote {
	n := &deliverynote.DeliveryNote{
		ID:         uuid.New(),
		CompanyID:  f.companyID,
		ClientID:   clientID,
		ClientName: "SC Client SRL",
		Number:     number,
		Status:     status,
		Currency:   currency,
		IssueDate:  time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		Lines:      sampleLines(),
	}
	f.notes.items[n.ID] = n
	return n
}

func TestProformaToInvoice(t *testing.T) {
	f := newFixture(t)
	p := f.addProforma(document.StatusAccepted)

	inv, err := f.pipeline.ProformaToInvoice(context.Background(), f.companyID, f.actorID, p.ID)
	require.NoError(t, err)
	require.Equal(t, inv.ID, f.proformas.converted[p.ID])
	require.Equal(t, document.StatusConverted, p.Status)
	require.Contains(t, f.invoices.created[0].Notes, "PRO0001")
	require.True(t, inv.Totals.Total.Equal(dec("242")))
}

func TestProformaToInvoiceRequiresSentOrAccepted(t *testing.T) {
	f := newFixture(t)
	p := f.addProforma(document.StatusDraft)

	_, err := f.pipeline.ProformaToInvoice(context.Background(), f.companyID, f.actorID, p.ID)
	require.True(t, shared.IsDomain(err))
	require.Empty(t, f.invoices.created)
}

func TestProformaToInvoiceOrphanOnLinkFailure(t *testing.T) {
	f := newFixture(t)
	p := f.addProforma(document.StatusSent)
	f.proformas.failLink = true

	inv, err := f.pipeline.ProformaToInvoice(context.Background(), f.companyID, f.actorID, p.ID)
	require.Error(t, err)
	require.NotNil(t, inv, "orphan invoice is returned with the error")
	require.Equal(t, document.StatusSent, p.Status, "source stays untouched")
}

func TestProformaToDeliveryNoteLeavesProformaAlone(t *testing.T) {
	f := newFixture(t)
	p := f.addProforma(document.StatusSent)

	note, err := f.pipeline.ProformaToDeliveryNote(context.Background(), f.companyID, f.actorID, p.ID)
	require.NoError(t, err)
	require.NotNil(t, note)
	require.Equal(t, document.StatusSent, p.Status)
	require.Empty(t, f.proformas.converted)
}

func TestDeliveryNoteToInvoice(t *testing.T) {
	f := newFixture(t)
	n := f.addNote(document.StatusIssued, uuid.New(), "RON", "AVZ0001")

	inv, err := f.pipeline.DeliveryNoteToInvoice(context.Background(), f.companyID, f.actorID, n.ID)
	require.NoError(t, err)
	require.Equal(t, inv.ID, f.notes.converted[n.ID])
}

func TestDeliveryNoteToInvoiceRequiresIssued(t *testing.T) {
	f := newFixture(t)
	n := f.addNote(document.StatusDraft, uuid.New(), "RON", "AVZ0001")

	_, err := f.pipeline.DeliveryNoteToInvoice(context.Background(), f.companyID, f.actorID, n.ID)
	require.True(t, shared.IsDomain(err))
}

func TestReceiptToInvoiceMarksInvoiced(t *testing.T) {
	f := newFixture(t)
	rc := &receipt.Receipt{
		ID:         uuid.New(),
		CompanyID:  f.companyID,
		ClientName: "Client",
		Number:     "BON0001",
		Status:     document.StatusIssued,
		Currency:   "RON",
		IssueDate:  time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		Lines:      sampleLines(),
	}
	f.receipts.items[rc.ID] = rc

	inv, err := f.pipeline.ReceiptToInvoice(context.Background(), f.companyID, f.actorID, rc.ID)
	require.NoError(t, err)
	require.Equal(t, inv.ID, f.receipts.invoiced[rc.ID])
	require.Equal(t, document.StatusInvoiced, rc.Status)
}

func TestBulkMergesLinesAndRenumbers(t *testing.T) {
	f := newFixture(t)
	client := uuid.New()
	a := f.addNote(document.StatusIssued, client, "RON", "AVZ0001")
	b := f.addNote(document.StatusIssued, client, "RON", "AVZ0002")

	inv, err := f.pipeline.BulkDeliveryNotesToInvoice(context.Background(), f.companyID, f.actorID, []uuid.UUID{a.ID, b.ID})
	require.NoError(t, err)
	require.Len(t, inv.Lines, 2)
	require.Equal(t, 1, inv.Lines[0].Position)
	require.Equal(t, 2, inv.Lines[1].Position)
	require.Equal(t, inv.ID, f.notes.converted[a.ID])
	require.Equal(t, inv.ID, f.notes.converted[b.ID])
	require.Contains(t, inv.Lines[0].Note, "AVZ0001")
	require.Contains(t, inv.Lines[1].Note, "AVZ0002")
}

func TestBulkRejectsMixedClients(t *testing.T) {
	f := newFixture(t)
	a := f.addNote(document.StatusIssued, uuid.New(), "RON", "AVZ0001")
	b := f.addNote(document.StatusIssued, uuid.New(), "RON", "AVZ0002")

	_, err := f.pipeline.BulkDeliveryNotesToInvoice(context.Background(), f.companyID, f.actorID, []uuid.UUID{a.ID, b.ID})
	require.True(t, shared.IsDomain(err))
	require.Empty(t, f.invoices.created, "nothing created on precondition failure")
	require.Empty(t, f.notes.converted)
}

func TestBulkRejectsMixedCurrencies(t *testing.T) {
	f := newFixture(t)
	client := uuid.New()
	a := f.addNote(document.StatusIssued, client, "RON", "AVZ0001")
	b := f.addNote(document.StatusIssued, client, "EUR", "AVZ0002")

	_, err := f.pipeline.BulkDeliveryNotesToInvoice(context.Background(), f.companyID, f.actorID, []uuid.UUID{a.ID, b.ID})
	require.True(t, shared.IsDomain(err))
	require.Empty(t, f.invoices.created)
}

func TestBulkRejectsUnissuedNote(t *testing.T) {
	f := newFixture(t)
	client := uuid.New()
	a := f.addNote(document.StatusIssued, client, "RON", "AVZ0001")
	b := f.addNote(document.StatusDraft, client, "RON", "AVZ0002")

	_, err := f.pipeline.BulkDeliveryNotesToInvoice(context.Background(), f.companyID, f.actorID, []uuid.UUID{a.ID, b.ID})
	require.True(t, shared.IsDomain(err))
	require.Empty(t, f.invoices.created)
	require.Equal(t, document.StatusIssued, a.Status, "sources untouched")
}
