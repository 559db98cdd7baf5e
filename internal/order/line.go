package order

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"spos/internal/catalog"
)

var (
	hundred = decimal.NewFromInt(100)

	// DefaultTaxRate is the flat rate applied to every line (7% VAT).
	DefaultTaxRate = decimal.RequireFromString("0.07")
)

// Line is one priced cart entry. It belongs to exactly one Order and carries
// its own tax arithmetic. Amounts are never rounded on stored state.
type Line struct {
	id       string
	product  *catalog.Product
	quantity decimal.Decimal
	price    decimal.Decimal
	discount decimal.Decimal
	selected bool
	taxRate  decimal.Decimal
	frozen   bool
}

func newLine(p *catalog.Product, qty, price, taxRate decimal.Decimal) *Line {
	return &Line{
		id:       uuid.NewString(),
		product:  p,
		quantity: qty,
		price:    price,
		discount: decimal.Zero,
		taxRate:  taxRate,
	}
}

// ID is an opaque identifier, distinct from the product id.
func (l *Line) ID() string                 { return l.id }
func (l *Line) Product() *catalog.Product  { return l.product }
func (l *Line) Quantity() decimal.Decimal  { return l.quantity }
func (l *Line) UnitPrice() decimal.Decimal { return l.price }
func (l *Line) Discount() decimal.Decimal  { return l.discount }
func (l *Line) Selected() bool             { return l.selected }

// SetQuantity overwrites the quantity. There is no lower bound.
// Setters do nothing once the owning order is finalized.
func (l *Line) SetQuantity(q decimal.Decimal) {
	if !l.frozen {
		l.quantity = q
	}
}

// SetPrice overrides the unit price.
func (l *Line) SetPrice(p decimal.Decimal) {
	if !l.frozen {
		l.price = p
	}
}

// SetDiscount stores d clamped to [0,100]. Out-of-range input is corrected
// silently; callers cannot tell a clamped value from a valid one.
func (l *Line) SetDiscount(d decimal.Decimal) {
	if l.frozen {
		return
	}
	switch {
	case d.LessThan(decimal.Zero):
		d = decimal.Zero
	case d.GreaterThan(hundred):
		d = hundred
	}
	l.discount = d
}

// Subtotal is unit_price * (1 - discount/100) * quantity, before tax.
func (l *Line) Subtotal() decimal.Decimal {
	factor := hundred.Sub(l.discount).Shift(-2)
	return l.price.Mul(factor).Mul(l.quantity)
}

// Tax is Subtotal * rate.
func (l *Line) Tax() decimal.Decimal {
	return l.Subtotal().Mul(l.taxRate)
}

// Total is Subtotal + Tax.
func (l *Line) Total() decimal.Decimal {
	sub := l.Subtotal()
	return sub.Add(sub.Mul(l.taxRate))
}

// mergeable reports whether the line still carries the catalog pricing of p.
func (l *Line) mergeable(p *catalog.Product) bool {
	return l.product.ID == p.ID && l.price.Equal(p.ListPrice) && l.discount.IsZero()
}
