package order

import (
	"time"

	"github.com/shopspring/decimal"

	"spos/internal/catalog"
)

// Status is the order lifecycle state.
type Status string

const (
	StatusNew       Status = "new"
	StatusActive    Status = "active"
	StatusFinalized Status = "finalized"
)

// Order is an aggregate of Lines for one customer ticket. It is owned and
// mutated by a single writer; it does no locking of its own.
//
// Selection is unique: at most one line has Selected() == true.
type Order struct {
	id        string
	name      string
	lines     []*Line
	customer  *catalog.Partner
	createdAt time.Time
	status    Status
	taxRate   decimal.Decimal
}

// New returns an empty, temporary order.
func New(id, name string, createdAt time.Time, taxRate decimal.Decimal) *Order {
	return &Order{
		id:        id,
		name:      name,
		createdAt: createdAt,
		status:    StatusNew,
		taxRate:   taxRate,
	}
}

func (o *Order) ID() string           { return o.id }
func (o *Order) Name() string         { return o.name }
func (o *Order) CreatedAt() time.Time { return o.createdAt }
func (o *Order) Status() Status       { return o.status }

// Temporary is true until the order is finalized.
func (o *Order) Temporary() bool { return o.status != StatusFinalized }

// Lines returns the lines in insertion order.
func (o *Order) Lines() []*Line { return append([]*Line(nil), o.lines...) }

// Len is the number of lines.
func (o *Order) Len() int { return len(o.lines) }

func (o *Order) touch() {
	if o.status == StatusNew {
		o.status = StatusActive
	}
}

type addOptions struct {
	qty     decimal.Decimal
	price   *decimal.Decimal
	noMerge bool
}

// AddOption customizes AddProduct.
type AddOption func(*addOptions)

// WithQuantity adds q units instead of one.
func WithQuantity(q decimal.Decimal) AddOption {
	return func(a *addOptions) { a.qty = q }
}

// WithUnitPrice sets the unit price of a new line instead of the list price.
func WithUnitPrice(p decimal.Decimal) AddOption {
	return func(a *addOptions) { a.price = &p }
}

// WithoutMerge always appends a new line.
func WithoutMerge() AddOption {
	return func(a *addOptions) { a.noMerge = true }
}

// AddProduct adds p to the order and selects the resulting line.
//
// Unless WithoutMerge is given, an existing line for the same product whose
// price still equals the list price and whose discount is zero absorbs the
// quantity. Lines with an overridden price or a discount are never merge
// targets. Finalized orders and nil products are ignored (nil is returned).
func (o *Order) AddProduct(p *catalog.Product, opts ...AddOption) *Line {
	if p == nil || o.status == StatusFinalized {
		return nil
	}
	a := addOptions{qty: decimal.NewFromInt(1)}
	for _, opt := range opts {
		opt(&a)
	}
	price := p.ListPrice
	if a.price != nil {
		price = *a.price
	}
	o.touch()

	if !a.noMerge && price.Equal(p.ListPrice) {
		for _, l := range o.lines {
			if l.mergeable(p) {
				l.SetQuantity(l.quantity.Add(a.qty))
				o.SelectLine(l)
				return l
			}
		}
	}
	l := newLine(p, a.qty, price, o.taxRate)
	o.lines = append(o.lines, l)
	o.SelectLine(l)
	return l
}

// SelectedLine returns the selected line, falling back to the last line.
// It returns nil for an empty order. Keypad entry always targets this line.
func (o *Order) SelectedLine() *Line {
	for _, l := range o.lines {
		if l.selected {
			return l
		}
	}
	if len(o.lines) > 0 {
		return o.lines[len(o.lines)-1]
	}
	return nil
}

// SelectLine clears every selection and marks l. A nil line clears the
// selection; a line from another order is ignored.
func (o *Order) SelectLine(l *Line) {
	if l != nil && o.indexOf(l.id) < 0 {
		return
	}
	for _, x := range o.lines {
		x.selected = false
	}
	if l != nil {
		l.selected = true
	}
}

// RemoveLine removes l by identifier and selects the new last line, if any.
// Removing a line that is not in the order is a no-op.
func (o *Order) RemoveLine(l *Line) {
	if l == nil || o.status == StatusFinalized {
		return
	}
	i := o.indexOf(l.id)
	if i < 0 {
		return
	}
	o.touch()
	o.lines = append(o.lines[:i], o.lines[i+1:]...)
	l.selected = false
	if n := len(o.lines); n > 0 {
		o.SelectLine(o.lines[n-1])
	} else {
		o.SelectLine(nil)
	}
}

func (o *Order) indexOf(id string) int {
	for i, l := range o.lines {
		if l.id == id {
			return i
		}
	}
	return -1
}

// SetCustomer sets or clears (nil) the customer.
func (o *Order) SetCustomer(p *catalog.Partner) {
	if o.status == StatusFinalized {
		return
	}
	o.touch()
	o.customer = p
}

func (o *Order) Customer() *catalog.Partner { return o.customer }

// TotalWithoutTax sums line subtotals. Totals are recomputed on every call.
func (o *Order) TotalWithoutTax() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range o.lines {
		sum = sum.Add(l.Subtotal())
	}
	return sum
}

func (o *Order) TotalTax() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range o.lines {
		sum = sum.Add(l.Tax())
	}
	return sum
}

func (o *Order) TotalWithTax() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range o.lines {
		sum = sum.Add(l.Total())
	}
	return sum
}

// Finalize moves the order to its terminal state and freezes its lines.
func (o *Order) Finalize() {
	o.status = StatusFinalized
	for _, l := range o.lines {
		l.frozen = true
	}
}
