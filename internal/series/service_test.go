package series

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/facturio/facturio/internal/document"
	"github.com/facturio/facturio/internal/shared"
)

type memorySeriesRepo struct {
	series   map[uuid.UUID]*Series
	upserted []Series
	txErr    error
}

func newMemorySeriesRepo() *memorySeriesRepo {
	return &memorySeriesRepo{series: make(map[uuid.UUID]*Series)}
}

func (m *memorySeriesRepo) Get(_ context.Context, companyID, id uuid.UUID) (*Series, error) {
	s, ok := m.series[id]
	if !ok || s.CompanyID != companyID {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memorySeriesRepo) List(_ context.Context, companyID uuid.UUID) ([]Series, error) {
	var out []Series
	for _, s := range m.series {
		if s.CompanyID == companyID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memorySeriesRepo) FindDefault(_ context.Context, companyID uuid.UUID, kind document.Kind) (*Series, error) {
	for _, s := range m.series {
		if s.CompanyID == companyID && s.Kind == kind && s.IsDefault && s.Active {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrNoDefault
}

func (m *memorySeriesRepo) Create(_ context.Context, s *Series) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	cp := *s
	m.series[s.ID] = &cp
	return nil
}

func (m *memorySeriesRepo) SetActive(_ context.Context, companyID, id uuid.UUID, active bool) error {
	s, ok := m.series[id]
	if !ok || s.CompanyID != companyID {
		return ErrNotFound
	}
	s.Active = active
	return nil
}

func (m *memorySeriesRepo) EnsureDefaults(_ context.Context, companyID uuid.UUID) error {
	for kind, prefix := range defaultPrefixes {
		if _, err := m.FindDefault(context.Background(), companyID, kind); err == nil {
			continue
		}
		id := uuid.New()
		m.series[id] = &Series{ID: id, CompanyID: companyID, Prefix: prefix, Kind: kind, IsDefault: true, Active: true}
	}
	return nil
}

func (m *memorySeriesRepo) WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	if m.txErr != nil {
		return m.txErr
	}
	return fn(ctx, nil)
}

func (m *memorySeriesRepo) Upsert(_ context.Context, _ pgx.Tx, s *Series) error {
	m.upserted = append(m.upserted, *s)
	return nil
}

func TestFormatNumber(t *testing.T) {
	require.Equal(t, "FCT0007", FormatNumber("FCT", 7))
	require.Equal(t, "PRO0042", FormatNumber("PRO", 42))
	require.Equal(t, "BON12345", FormatNumber("BON", 12345))
}

func TestCreateValidatesInput(t *testing.T) {
	svc := NewService(newMemorySeriesRepo())
	companyID := uuid.New()

	err := svc.Create(context.Background(), &Series{CompanyID: companyID, Prefix: "", Kind: document.KindInvoice})
	require.True(t, shared.IsValidation(err))

	err = svc.Create(context.Background(), &Series{CompanyID: companyID, Prefix: "FCT", Kind: "ledger"})
	require.True(t, shared.IsValidation(err))

	err = svc.Create(context.Background(), &Series{CompanyID: companyID, Prefix: " fct ", Kind: document.KindInvoice})
	require.NoError(t, err)
}

func TestCreateUppercasesPrefix(t *testing.T) {
	repo := newMemorySeriesRepo()
	svc := NewService(repo)
	s := &Series{CompanyID: uuid.New(), Prefix: "fct", Kind: document.KindInvoice}
	require.NoError(t, svc.Create(context.Background(), s))
	require.Equal(t, "FCT", s.Prefix)
	require.True(t, s.Active)
}

func TestEnsureDefaultsSeedsAllKinds(t *testing.T) {
	repo := newMemorySeriesRepo()
	svc := NewService(repo)
	companyID := uuid.New()
	require.NoError(t, svc.EnsureDefaults(context.Background(), companyID))

	for _, kind := range []document.Kind{document.KindInvoice, document.KindProforma, document.KindDeliveryNote, document.KindReceipt} {
		def, err := repo.FindDefault(context.Background(), companyID, kind)
		require.NoError(t, err, "kind %s", kind)
		require.True(t, def.IsDefault)
	}
}

func TestImportBatchCollapsesDuplicates(t *testing.T) {
	repo := newMemorySeriesRepo()
	svc := NewService(repo)
	companyID := uuid.New()

	n, err := svc.ImportBatch(context.Background(), companyID, []ImportRow{
		{Prefix: "FCT", Kind: document.KindInvoice, CurrentNumber: 10},
		{Prefix: "fct", Kind: document.KindInvoice, CurrentNumber: 25},
		{Prefix: "FCT", Kind: document.KindInvoice, CurrentNumber: 7},
		{Prefix: "PRO", Kind: document.KindProforma, CurrentNumber: 3},
	})
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Len(t, repo.upserted, 2)

	byPrefix := map[string]int64{}
	for _, s := range repo.upserted {
		byPrefix[s.Prefix] = s.CurrentNumber
	}
	require.Equal(t, int64(25), byPrefix["FCT"], "highest counter wins within the batch")
	require.Equal(t, int64(3), byPrefix["PRO"])
}

func TestImportBatchRejectsNegativeCounter(t *testing.T) {
	svc := NewService(newMemorySeriesRepo())
	_, err := svc.ImportBatch(context.Background(), uuid.New(), []ImportRow{
		{Prefix: "FCT", Kind: document.KindInvoice, CurrentNumber: -1},
	})
	require.True(t, shared.IsValidation(err))
}
