// Package seed holds the demo store catalog used when no catalog feed is
// configured.
package seed

import (
	"github.com/shopspring/decimal"

	"spos/internal/catalog"
	"spos/internal/catalogfeed"
)

const vatTaxID int64 = 1

func price(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func product(id int64, name, list, cost string, categ int64, categName, barcode string, stock int64) catalog.Product {
	return catalog.Product{
		ID:           id,
		DisplayName:  name,
		ListPrice:    price(list),
		Cost:         price(cost),
		CategoryID:   categ,
		CategoryName: categName,
		TaxRefs:      []int64{vatTaxID},
		Barcode:      barcode,
		StockQty:     decimal.NewFromInt(stock),
	}
}

// Catalog returns a fresh copy of the demo catalog.
func Catalog() catalogfeed.Data {
	points := int64(150)
	return catalogfeed.Data{
		Categories: []catalog.Category{
			{ID: 1, Name: "Drinks"},
			{ID: 2, Name: "Food"},
			{ID: 3, Name: "Coffee", ParentID: 1},
			{ID: 4, Name: "Tea", ParentID: 1},
			{ID: 5, Name: "Pastries", ParentID: 2},
		},
		Products: []catalog.Product{
			product(1, "Espresso", "2.50", "0.5", 3, "Coffee", "8850001000011", 100),
			product(2, "Latte", "3.50", "0.8", 3, "Coffee", "8850001000028", 80),
			product(3, "Green Tea", "3.00", "0.7", 4, "Tea", "8850001000035", 50),
			product(4, "Croissant", "2.75", "0.6", 5, "Pastries", "8850001000042", 20),
			product(5, "Bagel", "2.00", "0.4", 5, "Pastries", "8850001000059", 30),
		},
		Partners: []catalog.Partner{
			{ID: 1, Name: "Walk-in Customer"},
			{ID: 2, Name: "John Doe", Email: "john@example.com", LoyaltyPoints: &points},
		},
	}
}
