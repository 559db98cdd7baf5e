package order

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spos/internal/catalog"
)

var (
	espresso = &catalog.Product{ID: 1, DisplayName: "Espresso", ListPrice: decimal.RequireFromString("2.50")}
	latte    = &catalog.Product{ID: 2, DisplayName: "Latte", ListPrice: decimal.RequireFromString("3.50")}
	tea      = &catalog.Product{ID: 3, DisplayName: "Green Tea", ListPrice: decimal.RequireFromString("3.00")}

	opened = time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newOrder() *Order { return New("o-1", "Order 0001", opened, DefaultTaxRate) }

func TestAddProduct_MergesUntouchedLines(t *testing.T) {
	o := newOrder()
	assert.Equal(t, StatusNew, o.Status())

	first := o.AddProduct(espresso)
	second := o.AddProduct(espresso)

	require.Same(t, first, second)
	require.Equal(t, 1, o.Len())
	assert.True(t, first.Quantity().Equal(dec("2")))
	assert.True(t, first.UnitPrice().Equal(dec("2.50")))
	assert.Equal(t, StatusActive, o.Status())
}

func TestAddProduct_WithoutMergeAlwaysAppends(t *testing.T) {
	o := newOrder()
	a := o.AddProduct(espresso, WithoutMerge())
	b := o.AddProduct(espresso, WithoutMerge())

	require.Equal(t, 2, o.Len())
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Same(t, b, o.SelectedLine())
}

func TestAddProduct_OverriddenLinesAreNotMergeTargets(t *testing.T) {
	o := newOrder()
	discounted := o.AddProduct(latte)
	discounted.SetDiscount(dec("10"))
	repriced := o.AddProduct(espresso)
	repriced.SetPrice(dec("2.00"))

	o.AddProduct(latte)
	o.AddProduct(espresso)
	assert.Equal(t, 4, o.Len())

	// an explicit off-list price never merges either
	o.AddProduct(tea)
	o.AddProduct(tea, WithUnitPrice(dec("1.00")))
	assert.Equal(t, 6, o.Len())
	assert.True(t, o.SelectedLine().UnitPrice().Equal(dec("1.00")))
}

func TestAddProduct_MergedLineBecomesSelected(t *testing.T) {
	o := newOrder()
	esp := o.AddProduct(espresso)
	o.AddProduct(latte)

	got := o.AddProduct(espresso, WithQuantity(dec("3")))
	require.Same(t, esp, got)
	assert.True(t, esp.Selected())
	assert.True(t, esp.Quantity().Equal(dec("4")))
	assert.Same(t, esp, o.SelectedLine())
}

func TestAddProduct_IgnoresNilAndFinalized(t *testing.T) {
	o := newOrder()
	assert.Nil(t, o.AddProduct(nil))
	o.Finalize()
	assert.Nil(t, o.AddProduct(espresso))
	assert.Equal(t, 0, o.Len())
	assert.False(t, o.Temporary())
}

func TestSelection(t *testing.T) {
	o := newOrder()
	assert.Nil(t, o.SelectedLine())

	a := o.AddProduct(espresso)
	b := o.AddProduct(latte)
	c := o.AddProduct(tea)

	o.SelectLine(a)
	assert.Same(t, a, o.SelectedLine())
	selected := 0
	for _, l := range o.Lines() {
		if l.Selected() {
			selected++
		}
	}
	assert.Equal(t, 1, selected)

	// cleared selection falls back to the last line
	o.SelectLine(nil)
	assert.False(t, a.Selected() || b.Selected() || c.Selected())
	assert.Same(t, c, o.SelectedLine())

	// lines from another order are ignored
	other := newOrder()
	foreign := other.AddProduct(espresso)
	o.SelectLine(b)
	o.SelectLine(foreign)
	assert.Same(t, b, o.SelectedLine())
}

func TestRemoveLine(t *testing.T) {
	o := newOrder()
	a := o.AddProduct(espresso)
	b := o.AddProduct(latte)
	c := o.AddProduct(tea)

	o.SelectLine(a)
	o.RemoveLine(b)
	require.Equal(t, 2, o.Len())
	assert.Same(t, c, o.SelectedLine())
	assert.True(t, c.Selected())
	assert.False(t, a.Selected())

	// double remove is a no-op
	o.RemoveLine(b)
	assert.Equal(t, 2, o.Len())

	o.RemoveLine(c)
	o.RemoveLine(a)
	assert.Equal(t, 0, o.Len())
	assert.Nil(t, o.SelectedLine())
}

func TestTotals_EndToEnd(t *testing.T) {
	o := newOrder()
	o.AddProduct(espresso)
	o.AddProduct(espresso)

	require.Equal(t, 1, o.Len())
	assert.Equal(t, "5", o.TotalWithoutTax().String())
	assert.True(t, o.TotalTax().Equal(dec("0.35")))
	assert.True(t, o.TotalWithTax().Equal(dec("5.35")))

	// recomputation is exact and idempotent
	assert.True(t, o.TotalWithTax().Equal(o.TotalWithTax()))
}

func TestTotals_Discounts(t *testing.T) {
	o := newOrder()
	l := o.AddProduct(latte, WithQuantity(dec("2")))
	l.SetDiscount(dec("50"))

	assert.True(t, o.TotalWithoutTax().Equal(dec("3.50")))
	assert.True(t, o.TotalTax().Equal(dec("0.245")))
	assert.True(t, o.TotalWithTax().Equal(dec("3.745")))
}

func TestSetDiscount_Clamps(t *testing.T) {
	cases := map[string]string{
		"-5":     "0",
		"0":      "0",
		"12.5":   "12.5",
		"100":    "100",
		"250":    "100",
		"-0.001": "0",
	}
	for in, want := range cases {
		l := newLine(espresso, dec("1"), espresso.ListPrice, DefaultTaxRate)
		l.SetDiscount(dec(in))
		assert.True(t, l.Discount().Equal(dec(want)), "discount %s -> %s, want %s", in, l.Discount(), want)
	}
}

func TestLine_NegativeQuantityIsAccepted(t *testing.T) {
	o := newOrder()
	l := o.AddProduct(espresso)
	l.SetQuantity(dec("-1"))
	assert.True(t, o.TotalWithoutTax().Equal(dec("-2.50")))
}

func TestExport(t *testing.T) {
	o := newOrder()
	o.AddProduct(espresso)
	o.AddProduct(espresso)
	l := o.AddProduct(latte, WithoutMerge())
	l.SetDiscount(dec("10"))

	snap := o.Export()
	assert.Equal(t, "Order 0001", snap.OrderName)
	assert.Nil(t, snap.PartnerID)
	assert.Equal(t, opened, snap.Timestamp)
	require.Len(t, snap.Lines, 2)
	assert.Equal(t, SnapshotLine{ProductID: 1, Qty: 2, UnitPrice: 2.5, DiscountPct: 0}, snap.Lines[0])
	assert.Equal(t, SnapshotLine{ProductID: 2, Qty: 1, UnitPrice: 3.5, DiscountPct: 10}, snap.Lines[1])
	// (5.00 + 3.15) * 1.07
	assert.InDelta(t, 8.7205, snap.TotalWithTax, 1e-9)

	o.SetCustomer(&catalog.Partner{ID: 2, Name: "John Doe"})
	raw, err := json.Marshal(o.Export())
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	for _, key := range []string{"orderName", "totalWithTax", "totalTax", "lines", "partnerId", "timestamp"} {
		assert.Contains(t, m, key)
	}
	assert.Equal(t, float64(2), m["partnerId"])
}

func TestExport_NullPartner(t *testing.T) {
	raw, err := json.Marshal(newOrder().Export())
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"partnerId":null`)
	assert.Contains(t, string(raw), `"lines":[]`)
}

func TestFinalize_FreezesLines(t *testing.T) {
	o := newOrder()
	l := o.AddProduct(espresso, WithQuantity(dec("2")))
	l.SetDiscount(dec("10"))
	before := o.TotalWithTax()

	o.Finalize()
	l.SetQuantity(dec("9"))
	l.SetPrice(dec("0.01"))
	l.SetDiscount(dec("100"))

	assert.True(t, l.Quantity().Equal(dec("2")))
	assert.True(t, l.UnitPrice().Equal(dec("2.50")))
	assert.True(t, l.Discount().Equal(dec("10")))
	assert.True(t, o.TotalWithTax().Equal(before))
}
