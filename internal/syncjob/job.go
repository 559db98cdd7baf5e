package syncjob

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"spos/internal/order"
)

// Kind tags a payload variant.
type Kind string

const (
	KindSaleOrder     Kind = "SALE_ORDER"
	KindInventorySync Kind = "INVENTORY_SYNC"
	KindSessionClose  Kind = "SESSION_CLOSE"
)

var ErrUnknownKind = errors.New("syncjob: unknown payload kind")

// Payload is implemented only by the variants in this package.
type Payload interface {
	Kind() Kind
	isPayload()
}

// SaleOrder carries a finalized order export.
type SaleOrder struct {
	Order order.Snapshot `json:"order"`
}

// StockMove is a stock delta for one product; sales are negative.
type StockMove struct {
	ProductID int64           `json:"productId"`
	QtyDelta  decimal.Decimal `json:"qtyDelta"`
}

// InventorySync carries stock movements caused by a sale.
type InventorySync struct {
	OrderName string      `json:"orderName"`
	Moves     []StockMove `json:"moves"`
}

// SessionClose reports the end of a cashier session.
type SessionClose struct {
	SessionID      int64           `json:"sessionId"`
	SessionName    string          `json:"sessionName"`
	OperatorID     string          `json:"operatorId"`
	OpeningBalance decimal.Decimal `json:"openingBalance"`
	ClosingBalance decimal.Decimal `json:"closingBalance"`
	OrdersCount    int             `json:"ordersCount"`
	ClosedAt       time.Time       `json:"closedAt"`
}

func (SaleOrder) Kind() Kind     { return KindSaleOrder }
func (InventorySync) Kind() Kind { return KindInventorySync }
func (SessionClose) Kind() Kind  { return KindSessionClose }

func (SaleOrder) isPayload()     {}
func (InventorySync) isPayload() {}
func (SessionClose) isPayload()  {}

// StockMovesFor aggregates the stock decrements of an order per product, in
// first-seen order. Quantities come from the lines themselves, not the float
// export.
func StockMovesFor(o *order.Order) InventorySync {
	inv := InventorySync{OrderName: o.Name()}
	pos := make(map[int64]int)
	for _, l := range o.Lines() {
		id := l.Product().ID
		qty := l.Quantity().Neg()
		if i, ok := pos[id]; ok {
			inv.Moves[i].QtyDelta = inv.Moves[i].QtyDelta.Add(qty)
			continue
		}
		pos[id] = len(inv.Moves)
		inv.Moves = append(inv.Moves, StockMove{ProductID: id, QtyDelta: qty})
	}
	return inv
}

// Job is a queued sync payload.
type Job struct {
	ID        string
	Seq       int64
	CreatedAt time.Time
	Payload   Payload
}

type envelope struct {
	ID        string          `json:"id"`
	Seq       int64           `json:"seq"`
	Type      Kind            `json:"type"`
	CreatedAt time.Time       `json:"createdAt"`
	Payload   json.RawMessage `json:"payload"`
}

func (j Job) MarshalJSON() ([]byte, error) {
	if j.Payload == nil {
		return nil, fmt.Errorf("job %s: nil payload", j.ID)
	}
	raw, err := json.Marshal(j.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return json.Marshal(envelope{
		ID:        j.ID,
		Seq:       j.Seq,
		Type:      j.Payload.Kind(),
		CreatedAt: j.CreatedAt,
		Payload:   raw,
	})
}

func (j *Job) UnmarshalJSON(b []byte) error {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	var p Payload
	var err error
	switch env.Type {
	case KindSaleOrder:
		var v SaleOrder
		err = json.Unmarshal(env.Payload, &v)
		p = v
	case KindInventorySync:
		var v InventorySync
		err = json.Unmarshal(env.Payload, &v)
		p = v
	case KindSessionClose:
		var v SessionClose
		err = json.Unmarshal(env.Payload, &v)
		p = v
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, env.Type)
	}
	if err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", env.Type, err)
	}
	*j = Job{ID: env.ID, Seq: env.Seq, CreatedAt: env.CreatedAt, Payload: p}
	return nil
}
