package document

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/facturio/facturio/internal/shared"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestComputeLineBasic(t *testing.T) {
	line, err := ComputeLine(Line{
		Quantity:  dec("2"),
		UnitPrice: dec("100"),
		VATRate:   dec("21"),
	})
	require.NoError(t, err)
	require.True(t, line.Net.Equal(dec("200")), "net: %s", line.Net)
	require.True(t, line.VAT.Equal(dec("42")), "vat: %s", line.VAT)
	require.True(t, line.Gross.Equal(dec("242")), "gross: %s", line.Gross)
	require.True(t, line.Discount.IsZero())
}

func TestComputeLinePercentDiscount(t *testing.T) {
	line, err := ComputeLine(Line{
		Quantity:        dec("1"),
		UnitPrice:       dec("100"),
		DiscountPercent: dec("10"),
		VATRate:         dec("19"),
	})
	require.NoError(t, err)
	require.True(t, line.Net.Equal(dec("90")))
	require.True(t, line.VAT.Equal(dec("17.1")))
	require.True(t, line.Gross.Equal(dec("107.1")))
	require.True(t, line.Discount.Equal(dec("10")))
}

func TestComputeLineFlatDiscount(t *testing.T) {
	line, err := ComputeLine(Line{
		Quantity:       dec("1"),
		UnitPrice:      dec("100"),
		DiscountAmount: dec("15"),
		VATRate:        dec("21"),
	})
	require.NoError(t, err)
	require.True(t, line.Net.Equal(dec("85")))
	require.True(t, line.Discount.Equal(dec("15")))
}

func TestComputeLineDiscountsMutuallyExclusive(t *testing.T) {
	_, err := ComputeLine(Line{
		Quantity:        dec("1"),
		UnitPrice:       dec("100"),
		DiscountAmount:  dec("5"),
		DiscountPercent: dec("5"),
	})
	require.Error(t, err)
	require.True(t, shared.IsValidation(err))
}

func TestComputeLineTaxInclusive(t *testing.T) {
	line, err := ComputeLine(Line{
		Quantity:     dec("1"),
		UnitPrice:    dec("121"),
		VATRate:      dec("21"),
		TaxInclusive: true,
	})
	require.NoError(t, err)
	require.True(t, line.Gross.Equal(dec("121")), "gross: %s", line.Gross)
	require.True(t, line.Net.Equal(dec("100")), "net: %s", line.Net)
	require.True(t, line.VAT.Equal(dec("21")), "vat: %s", line.VAT)
}

func TestComputeLineNegativeQuantityInvertsSign(t *testing.T) {
	positive, err := ComputeLine(Line{
		Quantity:        dec("3"),
		UnitPrice:       dec("50"),
		DiscountPercent: dec("10"),
		VATRate:         dec("21"),
	})
	require.NoError(t, err)

	negative, err := ComputeLine(Line{
		Quantity:        dec("-3"),
		UnitPrice:       dec("50"),
		DiscountPercent: dec("10"),
		VATRate:         dec("21"),
	})
	require.NoError(t, err)

	require.True(t, negative.Net.Equal(positive.Net.Neg()))
	require.True(t, negative.VAT.Equal(positive.VAT.Neg()))
	require.True(t, negative.Gross.Equal(positive.Gross.Neg()))
}

func TestComputeTotalsIdempotent(t *testing.T) {
	lines := []Line{
		{Quantity: dec("2"), UnitPrice: dec("19.99"), VATRate: dec("21")},
		{Quantity: dec("1"), UnitPrice: dec("7.33"), VATRate: dec("9"), DiscountPercent: dec("5")},
		{Quantity: dec("-1"), UnitPrice: dec("12.50"), VATRate: dec("21")},
	}

	first, err := ComputeLines(lines)
	require.NoError(t, err)
	second, err := ComputeLines(first)
	require.NoError(t, err)

	t1 := ComputeTotals(first)
	t2 := ComputeTotals(second)
	require.True(t, t1.Subtotal.Equal(t2.Subtotal))
	require.True(t, t1.VATTotal.Equal(t2.VATTotal))
	require.True(t, t1.Discount.Equal(t2.Discount))
	require.True(t, t1.Total.Equal(t2.Total))
	require.True(t, t1.Total.Equal(t1.Subtotal.Add(t1.VATTotal)))
}

func TestComputeLinesAssignsPositionsAndDefaults(t *testing.T) {
	lines, err := ComputeLines([]Line{
		{UnitPrice: dec("10")},
		{UnitPrice: dec("20"), Quantity: dec("2")},
	})
	require.NoError(t, err)
	require.Equal(t, 1, lines[0].Position)
	require.Equal(t, 2, lines[1].Position)
	require.True(t, lines[0].Quantity.Equal(dec("1")))
	require.Equal(t, "buc", lines[0].UnitOfMeasure)
	require.Equal(t, "S", lines[0].VATCategory)
	require.True(t, lines[0].VATRate.Equal(dec("21")))
}
