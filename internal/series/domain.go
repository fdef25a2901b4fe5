// Package series implements tenant-scoped numbering streams for fiscal
// documents. A series row is the only shared mutable resource in the system;
// every issuance serializes on its row lock.
package series

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/facturio/facturio/internal/document"
)

var (
	// ErrNotFound indicates the series does not exist.
	ErrNotFound = errors.New("series: not found")
	// ErrNoDefault indicates no default series exists for the kind.
	ErrNoDefault = errors.New("series: no default series for document kind")
	// ErrInactive indicates numbering was requested against a disabled series.
	ErrInactive = errors.New("series: series is not active")
)

// Series is a numbering stream. CurrentNumber is the last assigned value and
// only ever moves upward, except for the compensating decrement on delete.
type Series struct {
	ID            uuid.UUID     `json:"id"`
	CompanyID     uuid.UUID     `json:"companyId"`
	Prefix        string        `json:"prefix"`
	Kind          document.Kind `json:"kind"`
	CurrentNumber int64         `json:"currentNumber"`
	IsDefault     bool          `json:"isDefault"`
	Active        bool          `json:"active"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// FormatNumber renders the wire form of a sequential number, e.g. FCT0007.
// Values beyond four digits keep their natural width.
func FormatNumber(prefix string, n int64) string {
	return fmt.Sprintf("%s%04d", prefix, n)
}

// defaultPrefixes seeds one series per document kind for a new company.
var defaultPrefixes = map[document.Kind]string{
	document.KindInvoice:      "FCT",
	document.KindProforma:     "PRO",
	document.KindDeliveryNote: "AVZ",
	document.KindReceipt:      "BON",
}
