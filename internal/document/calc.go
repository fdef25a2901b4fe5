package document

import (
	"github.com/shopspring/decimal"

	"github.com/facturio/facturio/internal/shared"
)

var hundred = decimal.NewFromInt(100)

// ComputeLine derives net, VAT, gross and discount for a single line.
//
// The percent discount applies to quantity*unitPrice; a flat discount amount
// applies after, onto the post-percent value. The two are mutually exclusive
// per line. When TaxInclusive is set the unit price is VAT-included and the
// net is back-computed from the gross. Negative quantities (storno lines)
// propagate their sign through every derived amount.
func ComputeLine(l Line) (Line, error) {
	if !l.DiscountAmount.IsZero() && !l.DiscountPercent.IsZero() {
		return l, shared.NewValidation("discount", "discount amount and discount percent are mutually exclusive")
	}
	if l.DiscountPercent.IsNegative() || l.DiscountPercent.GreaterThan(hundred) {
		return l, shared.NewValidation("discountPercent", "must be between 0 and 100")
	}
	if l.VATRate.IsNegative() {
		return l, shared.NewValidation("vatRate", "must not be negative")
	}

	base := l.Quantity.Mul(l.UnitPrice)
	value := base
	if !l.DiscountPercent.IsZero() {
		value = value.Mul(hundred.Sub(l.DiscountPercent)).Div(hundred)
	}
	if !l.DiscountAmount.IsZero() {
		value = value.Sub(l.DiscountAmount)
	}

	divisor := decimal.NewFromInt(1).Add(l.VATRate.Div(hundred))
	if l.TaxInclusive {
		l.Gross = value.Round(2)
		l.Net = l.Gross.Div(divisor).Round(2)
		l.VAT = l.Gross.Sub(l.Net)
	} else {
		l.Net = value.Round(2)
		l.VAT = l.Net.Mul(l.VATRate).Div(hundred).Round(2)
		l.Gross = l.Net.Add(l.VAT)
	}
	l.Discount = base.Sub(value).Round(2)
	return l, nil
}

// ComputeLines normalizes positions, fills defaults and computes every line.
func ComputeLines(lines []Line) ([]Line, error) {
	out := make([]Line, 0, len(lines))
	for i, l := range lines {
		normalized := NormalizeLine(l, i+1)
		computed, err := ComputeLine(normalized)
		if err != nil {
			return nil, err
		}
		out = append(out, computed)
	}
	return out, nil
}

// ComputeTotals sums computed lines into document totals. Summing already
// rounded line values keeps the result stable across repeated recalculation.
func ComputeTotals(lines []Line) Totals {
	var t Totals
	for _, l := range lines {
		t.Subtotal = t.Subtotal.Add(l.Net)
		t.VATTotal = t.VATTotal.Add(l.VAT)
		t.Discount = t.Discount.Add(l.Discount)
		t.Total = t.Total.Add(l.Gross)
	}
	return t
}
