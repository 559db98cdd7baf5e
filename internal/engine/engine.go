package engine

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"spos/internal/catalog"
	"spos/internal/metrics"
	"spos/internal/order"
	"spos/internal/syncjob"
)

// Syncer receives checkout and session payloads. Push is fire-and-forget:
// the engine neither waits for nor retries a hand-off.
type Syncer interface {
	Push(p syncjob.Payload)
}

type discardSyncer struct{}

func (discardSyncer) Push(syncjob.Payload) {}

// Engine is the session-scoped owner of one catalog snapshot and the set of
// open orders. One Engine serves one operator session; order mutation is not
// synchronized (see Guarded). Catalog reads are safe during a reload.
type Engine struct {
	catalog atomic.Pointer[catalog.Index]

	orders   []*order.Order
	activeID string
	session  *Session
	nextSeq  int
	sessions int64

	syncer  Syncer
	log     *zap.Logger
	metrics *metrics.Registry
	taxRate decimal.Decimal
	now     func() time.Time
}

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func WithMetrics(m *metrics.Registry) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

func WithSyncer(s Syncer) Option {
	return func(e *Engine) {
		if s != nil {
			e.syncer = s
		}
	}
}

// WithTaxRate overrides the flat tax rate (a fraction, 0.07 for 7%).
func WithTaxRate(r decimal.Decimal) Option {
	return func(e *Engine) { e.taxRate = r }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithNumbering continues order and session numbering after the given values,
// so names stay unique across restarts that feed the same outbox.
func WithNumbering(lastOrder int, lastSession int64) Option {
	return func(e *Engine) {
		if lastOrder > 0 {
			e.nextSeq = lastOrder
		}
		if lastSession > 0 {
			e.sessions = lastSession
		}
	}
}

const orderNameFormat = "Order %04d"

// OrderNumber parses the number out of an order name built by CreateOrder.
func OrderNumber(name string) (int, bool) {
	var n int
	if _, err := fmt.Sscanf(name, "Order %d", &n); err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// New returns an engine with an empty catalog and no orders.
func New(opts ...Option) *Engine {
	e := &Engine{
		syncer:  discardSyncer{},
		log:     zap.NewNop(),
		taxRate: order.DefaultTaxRate,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = metrics.NewRegistry()
	}
	e.catalog.Store(catalog.Empty())
	return e
}

// LoadCatalog replaces the catalog wholesale. The new index is built off to
// the side and swapped in only when valid; on error the previous catalog
// stays active and a *catalog.LoadError is returned.
func (e *Engine) LoadCatalog(products []catalog.Product, categories []catalog.Category, partners []catalog.Partner) error {
	idx, err := catalog.Build(products, categories, partners)
	if err != nil {
		e.metrics.CatalogRejected.Inc()
		e.log.Warn("catalog load rejected, keeping previous catalog", zap.Error(err))
		return fmt.Errorf("load catalog: %w", err)
	}
	e.catalog.Store(idx)
	e.metrics.CatalogLoads.Inc()
	e.metrics.CatalogProducts.Set(float64(idx.Len()))
	e.log.Info("catalog loaded",
		zap.Int("products", idx.Len()),
		zap.Int("categories", len(categories)),
		zap.Int("partners", len(partners)))
	return nil
}

// Now reads the engine clock.
func (e *Engine) Now() time.Time { return e.now() }

// Catalog returns the current catalog snapshot.
func (e *Engine) Catalog() *catalog.Index { return e.catalog.Load() }

// CreateOrder appends a new order and makes it active.
func (e *Engine) CreateOrder() *order.Order {
	e.nextSeq++
	o := order.New(uuid.NewString(), fmt.Sprintf(orderNameFormat, e.nextSeq), e.now(), e.taxRate)
	e.orders = append(e.orders, o)
	e.activeID = o.ID()
	e.metrics.OrdersCreated.Inc()
	e.log.Debug("order created", zap.String("order_id", o.ID()), zap.String("name", o.Name()))
	return o
}

// Orders returns the open orders in creation order.
func (e *Engine) Orders() []*order.Order { return append([]*order.Order(nil), e.orders...) }

// ActiveOrder returns the active order, or nil before the first CreateOrder.
func (e *Engine) ActiveOrder() *order.Order {
	if i := e.indexOf(e.activeID); i >= 0 {
		return e.orders[i]
	}
	return nil
}

// SetActiveOrder points the active order at o. Orders not owned by this
// engine are ignored.
func (e *Engine) SetActiveOrder(o *order.Order) {
	if o == nil || e.indexOf(o.ID()) < 0 {
		return
	}
	e.activeID = o.ID()
}

// DeleteActiveOrder discards the active order. Afterwards the first remaining
// order is active, or a fresh one is created when none remain.
func (e *Engine) DeleteActiveOrder() {
	if i := e.indexOf(e.activeID); i >= 0 {
		e.log.Debug("order deleted", zap.String("order_id", e.activeID))
		e.orders = append(e.orders[:i], e.orders[i+1:]...)
		e.metrics.OrdersDeleted.Inc()
	}
	if len(e.orders) > 0 {
		e.activeID = e.orders[0].ID()
		return
	}
	e.CreateOrder()
}

// Checkout finalizes o, hands its export to the syncer followed by the
// matching stock movements, and starts a fresh active order. The finalized
// order leaves the open set and is never resumed. Orders not owned by this
// engine are ignored and ok is false.
func (e *Engine) Checkout(o *order.Order) (snap order.Snapshot, ok bool) {
	if o == nil {
		return order.Snapshot{}, false
	}
	i := e.indexOf(o.ID())
	if i < 0 {
		return order.Snapshot{}, false
	}
	o.Finalize()
	snap = o.Export()
	e.syncer.Push(syncjob.SaleOrder{Order: snap})
	if len(snap.Lines) > 0 {
		e.syncer.Push(syncjob.StockMovesFor(o))
	}
	e.orders = append(e.orders[:i], e.orders[i+1:]...)
	if e.session != nil {
		e.session.ordersCount++
	}

	e.metrics.Checkouts.Inc()
	if snap.TotalWithTax > 0 {
		e.metrics.CheckoutAmount.Add(snap.TotalWithTax)
	}
	e.log.Info("order checked out",
		zap.String("order_id", o.ID()),
		zap.String("name", snap.OrderName),
		zap.Int("lines", len(snap.Lines)),
		zap.Float64("total_with_tax", snap.TotalWithTax))

	e.CreateOrder()
	return snap, true
}

// AddProductByID adds a catalog product to the active order.
func (e *Engine) AddProductByID(id int64, opts ...order.AddOption) (*order.Line, bool) {
	p, ok := e.Catalog().ProductByID(id)
	if !ok {
		return nil, false
	}
	return e.addToActive(p, opts...)
}

// ScanBarcode adds the product carrying code to the active order.
func (e *Engine) ScanBarcode(code string) (*order.Line, bool) {
	p, ok := e.Catalog().ProductByBarcode(code)
	if !ok {
		e.metrics.ScanMisses.Inc()
		e.log.Debug("barcode not found", zap.String("barcode", code))
		return nil, false
	}
	return e.addToActive(p)
}

func (e *Engine) addToActive(p *catalog.Product, opts ...order.AddOption) (*order.Line, bool) {
	o := e.ActiveOrder()
	if o == nil {
		o = e.CreateOrder()
	}
	l := o.AddProduct(p, opts...)
	if l == nil {
		return nil, false
	}
	e.metrics.LinesAdded.Inc()
	e.log.Debug("product added",
		zap.String("order_id", o.ID()),
		zap.Int64("product_id", p.ID),
		zap.String("line_id", l.ID()),
		zap.String("qty", l.Quantity().String()))
	return l, true
}

func (e *Engine) indexOf(id string) int {
	if id == "" {
		return -1
	}
	for i, o := range e.orders {
		if o.ID() == id {
			return i
		}
	}
	return -1
}
