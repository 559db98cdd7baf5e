package catalog

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// RootCategoryID is the synthetic category meaning "all products" / "no category".
const RootCategoryID int64 = 0

// Product is an immutable catalog fact. Records are replaced wholesale on reload.
type Product struct {
	ID           int64           `json:"id"`
	DisplayName  string          `json:"displayName"`
	ListPrice    decimal.Decimal `json:"listPrice"`
	Cost         decimal.Decimal `json:"cost"`
	CategoryID   int64           `json:"categoryId"`
	CategoryName string          `json:"categoryName,omitempty"`
	TaxRefs      []int64         `json:"taxRefs,omitempty"`
	Barcode      string          `json:"barcode,omitempty"`
	InternalCode string          `json:"internalCode,omitempty"`
	// StockQty may be zero or negative (backorder).
	StockQty decimal.Decimal `json:"stockQty"`
	ImageURL string          `json:"imageUrl,omitempty"`
}

// Category is a node of the category tree. ParentID 0 marks a root category.
type Category struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	ParentID int64  `json:"parentId,omitempty"`
}

// Partner is read-only customer reference data.
type Partner struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email,omitempty"`
	Phone         string `json:"phone,omitempty"`
	Barcode       string `json:"barcode,omitempty"`
	LoyaltyPoints *int64 `json:"loyaltyPoints,omitempty"`
}

// LoadError reports every problem found in a rejected catalog load.
// The previously loaded index stays active when Build returns it.
type LoadError struct {
	Issues []string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("catalog load rejected (%d issues): %s", len(e.Issues), strings.Join(e.Issues, "; "))
}

func (e *LoadError) add(format string, args ...any) {
	e.Issues = append(e.Issues, fmt.Sprintf(format, args...))
}
