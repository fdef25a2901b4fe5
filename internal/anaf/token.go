package anaf

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNoCredential indicates the company has no usable authority credential.
var ErrNoCredential = errors.New("anaf: no valid credential for company")

// Provider identifies an e-invoicing endpoint.
type Provider string

const (
	// ProviderANAF is the Romanian authority (RO SPV).
	ProviderANAF Provider = "anaf"
	// ProviderPeppol covers foreign e-invoice networks.
	ProviderPeppol Provider = "peppol"
)

// Credential is an OAuth token registered for a company.
type Credential struct {
	CompanyID uuid.UUID
	Provider  Provider
	ExpiresAt time.Time
}

// TokenResolver reports whether a company holds a valid authority credential.
// Submission operations consult it before mutating any state.
type TokenResolver interface {
	Resolve(ctx context.Context, companyID uuid.UUID) (*Credential, error)
}

// PGTokenResolver reads credentials from the anaf_tokens table.
type PGTokenResolver struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPGTokenResolver constructs a resolver.
func NewPGTokenResolver(pool *pgxpool.Pool) *PGTokenResolver {
	return &PGTokenResolver{pool: pool, now: time.Now}
}

// Resolve returns the freshest non-expired credential, or ErrNoCredential.
func (r *PGTokenResolver) Resolve(ctx context.Context, companyID uuid.UUID) (*Credential, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT company_id, provider, expires_at
		FROM anaf_tokens
		WHERE company_id = $1 AND expires_at > $2
		ORDER BY expires_at DESC
		LIMIT 1`, companyID, r.now())
	var c Credential
	err := row.Scan(&c.CompanyID, &c.Provider, &c.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoCredential
	}
	if err != nil {
		return nil, fmt.Errorf("anaf: resolve token: %w", err)
	}
	return &c, nil
}
