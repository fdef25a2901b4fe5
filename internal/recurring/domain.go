// Package recurring implements invoice and proforma templates that generate
// documents on a schedule.
package recurring

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/facturio/facturio/internal/document"
)

var ErrNotFound = errors.New("recurring: not found")

// Frequency is the generation cadence of a template.
type Frequency string

const (
	FrequencyOnce         Frequency = "once"
	FrequencyWeekly       Frequency = "weekly"
	FrequencyMonthly      Frequency = "monthly"
	FrequencyBimonthly    Frequency = "bimonthly"
	FrequencyQuarterly    Frequency = "quarterly"
	FrequencySemiAnnually Frequency = "semi_annually"
	FrequencyYearly       Frequency = "yearly"
)

// monthsPer maps month-based frequencies to their month step.
var monthsPer = map[Frequency]int{
	FrequencyMonthly:      1,
	FrequencyBimonthly:    2,
	FrequencyQuarterly:    3,
	FrequencySemiAnnually: 6,
	FrequencyYearly:       12,
}

// ValidFrequency reports whether f is a known cadence.
func ValidFrequency(f Frequency) bool {
	if f == FrequencyOnce || f == FrequencyWeekly {
		return true
	}
	_, ok := monthsPer[f]
	return ok
}

// PriceRule decides how a template line is priced at generation time.
type PriceRule string

const (
	// PriceFixed uses the price stored on the template line.
	PriceFixed PriceRule = "fixed"
	// PriceUpdatedProduct reads the product's current price at generation.
	PriceUpdatedProduct PriceRule = "updated_product"
	// PriceReference converts a foreign-currency price at the exchange rate
	// of the generation day, with an optional markup.
	PriceReference PriceRule = "reference"
)

// DueDatePolicy computes the due date of generated documents.
type DueDatePolicy struct {
	// Type is "days" (value counts from the issue date) or "fixed_day"
	// (value is a day of month, at most 28).
	Type  string `json:"type"`
	Value int    `json:"value"`
}

// TemplateLine is one line of a template, priced at generation time.
type TemplateLine struct {
	Position      int             `json:"position"`
	Description   string          `json:"description"`
	Quantity      decimal.Decimal `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unitPrice"`
	VATRate       decimal.Decimal `json:"vatRate"`
	VATCategory   string          `json:"vatCategory"`
	UnitOfMeasure string          `json:"unitOfMeasure"`

	PriceRule PriceRule  `json:"priceRule"`
	ProductID *uuid.UUID `json:"productId,omitempty"`
	// RefCurrency and RefMarkupPercent apply to the reference rule only.
	RefCurrency      string          `json:"refCurrency,omitempty"`
	RefMarkupPercent decimal.Decimal `json:"refMarkupPercent"`
}

// Template generates invoices or proformas on its schedule.
type Template struct {
	ID        uuid.UUID `json:"id"`
	CompanyID uuid.UUID `json:"companyId"`
	Name      string    `json:"name"`

	ClientID      uuid.UUID `json:"clientId"`
	ClientName    string    `json:"clientName"`
	ClientCIF     string    `json:"clientCif"`
	ClientAddress string    `json:"clientAddress"`

	// Kind is invoice or proforma.
	Kind     document.Kind `json:"kind"`
	SeriesID *uuid.UUID    `json:"seriesId,omitempty"`
	Currency string        `json:"currency"`

	Frequency Frequency `json:"frequency"`
	// FrequencyDay anchors month-based cadences to a day of month, at most 28
	// so every month qualifies.
	FrequencyDay     int        `json:"frequencyDay"`
	NextIssuanceDate time.Time  `json:"nextIssuanceDate"`
	StopDate         *time.Time `json:"stopDate,omitempty"`
	Active           bool       `json:"active"`

	DueDatePolicy DueDatePolicy `json:"dueDatePolicy"`
	// AutoIssue generates ISSUED invoices (or SENT and ACCEPTED proformas)
	// instead of drafts.
	AutoIssue bool `json:"autoIssue"`

	Notes string         `json:"notes"`
	Lines []TemplateLine `json:"lines"`

	CreatedBy uuid.UUID `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NextAfter computes the issuance date following from. Weekly cadences step
// seven days; month-based cadences step whole months anchored on
// FrequencyDay. Once never recurs.
func (t *Template) NextAfter(from time.Time) (time.Time, bool) {
	switch {
	case t.Frequency == FrequencyOnce:
		return time.Time{}, false
	case t.Frequency == FrequencyWeekly:
		return from.AddDate(0, 0, 7), true
	default:
		months := monthsPer[t.Frequency]
		day := t.FrequencyDay
		if day == 0 {
			day = from.Day()
		}
		if day > 28 {
			day = 28
		}
		next := time.Date(from.Year(), from.Month()+time.Month(months), day, from.Hour(), from.Minute(), 0, 0, from.Location())
		return next, true
	}
}

// DueDateFor applies the template's policy to an issuance date.
func (t *Template) DueDateFor(issued time.Time) *time.Time {
	switch t.DueDatePolicy.Type {
	case "days":
		d := issued.AddDate(0, 0, t.DueDatePolicy.Value)
		return &d
	case "fixed_day":
		day := t.DueDatePolicy.Value
		if day > 28 {
			day = 28
		}
		d := time.Date(issued.Year(), issued.Month(), day, 0, 0, 0, 0, issued.Location())
		if !d.After(issued) {
			d = d.AddDate(0, 1, 0)
		}
		return &d
	default:
		return nil
	}
}

// romanianMonths indexes month names from January.
var romanianMonths = [...]string{
	"ianuarie", "februarie", "martie", "aprilie", "mai", "iunie",
	"iulie", "august", "septembrie", "octombrie", "noiembrie", "decembrie",
}

// ExpandVars substitutes template variables for the generation date:
// [[luna]] is the Romanian month name, [[luna_nr]] the two-digit month,
// [[an]] the year and [[curs]] the exchange rate used for reference lines.
func ExpandVars(s string, at time.Time, rate decimal.Decimal) string {
	r := strings.NewReplacer(
		"[[luna]]", romanianMonths[at.Month()-1],
		"[[luna_nr]]", fmt.Sprintf("%02d", int(at.Month())),
		"[[an]]", fmt.Sprintf("%d", at.Year()),
		"[[curs]]", rate.StringFixed(4),
	)
	return r.Replace(s)
}
