// Package company holds the tenant model. Documents, series and credentials
// are always scoped to one company.
package company

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound indicates the company does not exist.
var ErrNotFound = errors.New("company: not found")

// Company is a tenant.
type Company struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name" validate:"required"`
	CIF             string    `json:"cif" validate:"required"`
	Country         string    `json:"country"`
	DefaultCurrency string    `json:"defaultCurrency"`
	Timezone        string    `json:"timezone"`
	// EfacturaDelayHours defers e-invoice submission after issuance.
	// Nil disables automatic scheduling.
	EfacturaDelayHours   *int      `json:"efacturaDelayHours,omitempty"`
	ArchiveRetentionDays int       `json:"archiveRetentionDays"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// DefaultTimezone is assumed when a company has no explicit timezone.
const DefaultTimezone = "Europe/Bucharest"

// Location resolves the company's IANA timezone.
func (c *Company) Location() *time.Location {
	name := c.Timezone
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		loc, _ = time.LoadLocation(DefaultTimezone)
	}
	return loc
}
