package order

import (
	"time"
)

// Snapshot is the checkout export handed to the sync collaborator. Its JSON
// shape is a fixed contract.
type Snapshot struct {
	OrderName    string         `json:"orderName"`
	TotalWithTax float64        `json:"totalWithTax"`
	TotalTax     float64        `json:"totalTax"`
	Lines        []SnapshotLine `json:"lines"`
	PartnerID    *int64         `json:"partnerId"`
	Timestamp    time.Time      `json:"timestamp"`
}

type SnapshotLine struct {
	ProductID   int64   `json:"productId"`
	Qty         float64 `json:"qty"`
	UnitPrice   float64 `json:"unitPrice"`
	DiscountPct float64 `json:"discountPct"`
}

// Export builds the serializable snapshot of the order.
func (o *Order) Export() Snapshot {
	s := Snapshot{
		OrderName:    o.name,
		TotalWithTax: o.TotalWithTax().InexactFloat64(),
		TotalTax:     o.TotalTax().InexactFloat64(),
		Lines:        make([]SnapshotLine, 0, len(o.lines)),
		Timestamp:    o.createdAt,
	}
	for _, l := range o.lines {
		s.Lines = append(s.Lines, SnapshotLine{
			ProductID:   l.product.ID,
			Qty:         l.quantity.InexactFloat64(),
			UnitPrice:   l.price.InexactFloat64(),
			DiscountPct: l.discount.InexactFloat64(),
		})
	}
	if o.customer != nil {
		id := o.customer.ID
		s.PartnerID = &id
	}
	return s
}
