package order

import (
	"time"
)

// Receipt is the printable view of an order. Amounts are rounded to two
// decimals here and nowhere else.
type Receipt struct {
	StoreName   string        `json:"storeName"`
	Cashier     string        `json:"cashier"`
	Timestamp   time.Time     `json:"timestamp"`
	OrderNumber string        `json:"orderNumber"`
	Items       []ReceiptItem `json:"items"`
	Subtotal    string        `json:"subtotal"`
	Tax         string        `json:"tax"`
	Total       string        `json:"total"`
}

type ReceiptItem struct {
	Name     string `json:"name"`
	Quantity string `json:"quantity"`
	Price    string `json:"price"`
	Discount string `json:"discount,omitempty"`
	Amount   string `json:"amount"`
}

// BuildReceipt renders o for printing.
func BuildReceipt(o *Order, storeName, cashier string, at time.Time) Receipt {
	r := Receipt{
		StoreName:   storeName,
		Cashier:     cashier,
		Timestamp:   at,
		OrderNumber: o.name,
		Items:       make([]ReceiptItem, 0, len(o.lines)),
		Subtotal:    o.TotalWithoutTax().StringFixed(2),
		Tax:         o.TotalTax().StringFixed(2),
		Total:       o.TotalWithTax().StringFixed(2),
	}
	for _, l := range o.lines {
		item := ReceiptItem{
			Name:     l.product.DisplayName,
			Quantity: l.quantity.String(),
			Price:    l.price.StringFixed(2),
			Amount:   l.Total().StringFixed(2),
		}
		if !l.discount.IsZero() {
			item.Discount = l.discount.String() + "%"
		}
		r.Items = append(r.Items, item)
	}
	return r
}
