package series

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/facturio/facturio/internal/document"
	"github.com/facturio/facturio/internal/shared"
)

// RepositoryPort defines the persistence surface the service needs.
type RepositoryPort interface {
	Get(ctx context.Context, companyID, id uuid.UUID) (*Series, error)
	List(ctx context.Context, companyID uuid.UUID) ([]Series, error)
	FindDefault(ctx context.Context, companyID uuid.UUID, kind document.Kind) (*Series, error)
	Create(ctx context.Context, s *Series) error
	SetActive(ctx context.Context, companyID, id uuid.UUID, active bool) error
	EnsureDefaults(ctx context.Context, companyID uuid.UUID) error
	WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error
	Upsert(ctx context.Context, tx pgx.Tx, s *Series) error
}

// Service handles series management.
type Service struct {
	repo RepositoryPort
}

// NewService builds a Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Get loads one series.
func (s *Service) Get(ctx context.Context, companyID, id uuid.UUID) (*Series, error) {
	return s.repo.Get(ctx, companyID, id)
}

// FindDefault returns the default active series for a document kind.
func (s *Service) FindDefault(ctx context.Context, companyID uuid.UUID, kind document.Kind) (*Series, error) {
	return s.repo.FindDefault(ctx, companyID, kind)
}

// List returns all series of a company.
func (s *Service) List(ctx context.Context, companyID uuid.UUID) ([]Series, error) {
	return s.repo.List(ctx, companyID)
}

// Create validates and inserts a new series.
func (s *Service) Create(ctx context.Context, sr *Series) error {
	sr.Prefix = strings.ToUpper(strings.TrimSpace(sr.Prefix))
	if sr.CompanyID == uuid.Nil {
		return shared.NewValidation("companyId", "required")
	}
	if sr.Prefix == "" {
		return shared.NewValidation("prefix", "required")
	}
	if len(sr.Prefix) > 8 {
		return shared.NewValidation("prefix", "at most 8 characters")
	}
	switch sr.Kind {
	case document.KindInvoice, document.KindProforma, document.KindDeliveryNote, document.KindReceipt:
	default:
		return shared.NewValidation("kind", "unknown document kind")
	}
	if sr.CurrentNumber < 0 {
		return shared.NewValidation("currentNumber", "must not be negative")
	}
	sr.Active = true
	return s.repo.Create(ctx, sr)
}

// SetActive toggles a series on or off. Inactive series refuse numbering but
// keep their counter.
func (s *Service) SetActive(ctx context.Context, companyID, id uuid.UUID, active bool) error {
	return s.repo.SetActive(ctx, companyID, id, active)
}

// EnsureDefaults seeds the standard series for a company.
func (s *Service) EnsureDefaults(ctx context.Context, companyID uuid.UUID) error {
	return s.repo.EnsureDefaults(ctx, companyID)
}

// ImportRow is one series row of a batch import.
type ImportRow struct {
	Prefix        string        `json:"prefix"`
	Kind          document.Kind `json:"kind"`
	CurrentNumber int64         `json:"currentNumber"`
}

type batchKey struct {
	prefix string
	kind   document.Kind
}

// ImportBatch upserts many series rows at once. Duplicate rows within the
// batch are collapsed through an explicit map scoped to this call, keeping
// the highest counter; the map never outlives the batch.
func (s *Service) ImportBatch(ctx context.Context, companyID uuid.UUID, rows []ImportRow) (int, error) {
	if companyID == uuid.Nil {
		return 0, shared.NewValidation("companyId", "required")
	}
	pending := make(map[batchKey]*Series, len(rows))
	for _, row := range rows {
		prefix := strings.ToUpper(strings.TrimSpace(row.Prefix))
		if prefix == "" {
			return 0, shared.NewValidation("prefix", "required")
		}
		if row.CurrentNumber < 0 {
			return 0, shared.NewValidation("currentNumber", fmt.Sprintf("negative counter for prefix %s", prefix))
		}
		key := batchKey{prefix: prefix, kind: row.Kind}
		if existing, ok := pending[key]; ok {
			if row.CurrentNumber > existing.CurrentNumber {
				existing.CurrentNumber = row.CurrentNumber
			}
			continue
		}
		pending[key] = &Series{
			CompanyID:     companyID,
			Prefix:        prefix,
			Kind:          row.Kind,
			CurrentNumber: row.CurrentNumber,
			Active:        true,
		}
	}

	keys := make([]batchKey, 0, len(pending))
	for k := range pending {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].prefix != keys[j].prefix {
			return keys[i].prefix < keys[j].prefix
		}
		return keys[i].kind < keys[j].kind
	})

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		for _, k := range keys {
			if err := s.repo.Upsert(ctx, tx, pending[k]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(pending), nil
}
