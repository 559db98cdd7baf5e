package catalog

import (
	"strings"
)

// MaxSearchResults caps Search output.
const MaxSearchResults = 30

// Index is an immutable lookup structure over one catalog snapshot.
// It is safe for concurrent readers; reloads build a new Index.
type Index struct {
	products  []*Product
	search    []string // parallel to products
	byID      map[int64]*Product
	byBarcode map[string]*Product
	// category id -> product ids, products without a category under RootCategoryID
	byCategory map[int64][]int64

	categories    map[int64]*Category
	categoryOrder []int64
	// parent id -> child category ids, in load order
	children map[int64][]int64

	partners     map[int64]*Partner
	partnerOrder []int64
}

// Empty returns an index with no records.
func Empty() *Index {
	idx, _ := Build(nil, nil, nil)
	return idx
}

// Build validates the input and constructs a new Index. On any malformed input
// it returns a *LoadError and no index.
func Build(products []Product, categories []Category, partners []Partner) (*Index, error) {
	idx := &Index{
		products:   make([]*Product, 0, len(products)),
		search:     make([]string, 0, len(products)),
		byID:       make(map[int64]*Product, len(products)),
		byBarcode:  make(map[string]*Product),
		byCategory: make(map[int64][]int64),
		categories: make(map[int64]*Category, len(categories)),
		children:   make(map[int64][]int64),
		partners:   make(map[int64]*Partner, len(partners)),
	}
	lerr := &LoadError{}

	for i := range categories {
		c := categories[i]
		if c.ID <= 0 {
			lerr.add("category %q: id must be positive, got %d", c.Name, c.ID)
			continue
		}
		if _, dup := idx.categories[c.ID]; dup {
			lerr.add("category %d: duplicate id", c.ID)
			continue
		}
		idx.categories[c.ID] = &c
		idx.categoryOrder = append(idx.categoryOrder, c.ID)
		idx.children[c.ParentID] = append(idx.children[c.ParentID], c.ID)
	}
	for _, id := range idx.categoryOrder {
		c := idx.categories[id]
		if c.ParentID == RootCategoryID {
			continue
		}
		if _, ok := idx.categories[c.ParentID]; !ok {
			lerr.add("category %d: unknown parent %d", c.ID, c.ParentID)
			continue
		}
		if idx.inCycle(c.ID) {
			lerr.add("category %d: parent chain forms a cycle", c.ID)
		}
	}

	for i := range products {
		p := products[i]
		if p.ID <= 0 {
			lerr.add("product %q: id must be positive, got %d", p.DisplayName, p.ID)
			continue
		}
		if _, dup := idx.byID[p.ID]; dup {
			lerr.add("product %d: duplicate id", p.ID)
			continue
		}
		if p.ListPrice.IsNegative() {
			lerr.add("product %d: negative list price %s", p.ID, p.ListPrice)
		}
		if p.Cost.IsNegative() {
			lerr.add("product %d: negative cost %s", p.ID, p.Cost)
		}
		if p.Barcode != "" {
			if other, dup := idx.byBarcode[p.Barcode]; dup {
				lerr.add("product %d: barcode %q already used by product %d", p.ID, p.Barcode, other.ID)
				continue
			}
		}
		p.TaxRefs = append([]int64(nil), p.TaxRefs...)
		prod := &p
		idx.byID[p.ID] = prod
		if p.Barcode != "" {
			idx.byBarcode[p.Barcode] = prod
		}
		idx.products = append(idx.products, prod)
		idx.search = append(idx.search, searchString(prod))
		idx.byCategory[p.CategoryID] = append(idx.byCategory[p.CategoryID], p.ID)
	}

	for i := range partners {
		pt := partners[i]
		if pt.ID <= 0 {
			lerr.add("partner %q: id must be positive, got %d", pt.Name, pt.ID)
			continue
		}
		if _, dup := idx.partners[pt.ID]; dup {
			lerr.add("partner %d: duplicate id", pt.ID)
			continue
		}
		idx.partners[pt.ID] = &pt
		idx.partnerOrder = append(idx.partnerOrder, pt.ID)
	}

	if len(lerr.Issues) > 0 {
		return nil, lerr
	}
	return idx, nil
}

// searchString joins barcode, internal code and display name with '|' so a
// query cannot match across two fields without containing the separator.
func searchString(p *Product) string {
	var b strings.Builder
	if p.Barcode != "" {
		b.WriteString("|")
		b.WriteString(p.Barcode)
	}
	if p.InternalCode != "" {
		b.WriteString("|")
		b.WriteString(p.InternalCode)
	}
	if p.DisplayName != "" {
		b.WriteString("|")
		b.WriteString(strings.ReplaceAll(p.DisplayName, ":", ""))
	}
	return strings.ToLower(b.String())
}

func (idx *Index) inCycle(start int64) bool {
	seen := map[int64]bool{start: true}
	cur := idx.categories[start]
	for cur != nil && cur.ParentID != RootCategoryID {
		if seen[cur.ParentID] {
			return true
		}
		seen[cur.ParentID] = true
		cur = idx.categories[cur.ParentID]
	}
	return false
}

// ProductByID returns the product with the given id.
func (idx *Index) ProductByID(id int64) (*Product, bool) {
	p, ok := idx.byID[id]
	return p, ok
}

// ProductByBarcode returns the product carrying the given barcode.
func (idx *Index) ProductByBarcode(code string) (*Product, bool) {
	if code == "" {
		return nil, false
	}
	p, ok := idx.byBarcode[code]
	return p, ok
}

// ProductsInCategory returns the products indexed directly under categoryID.
// RootCategoryID returns every product. Subcategories are not included.
func (idx *Index) ProductsInCategory(categoryID int64) []*Product {
	if categoryID == RootCategoryID {
		return idx.Products()
	}
	ids := idx.byCategory[categoryID]
	out := make([]*Product, 0, len(ids))
	for _, id := range ids {
		out = append(out, idx.byID[id])
	}
	return out
}

// Products returns every product in load order.
func (idx *Index) Products() []*Product {
	return append([]*Product(nil), idx.products...)
}

// Len is the number of loaded products.
func (idx *Index) Len() int { return len(idx.products) }

// Subcategories returns the direct children of parentID in load order.
func (idx *Index) Subcategories(parentID int64) []*Category {
	ids := idx.children[parentID]
	out := make([]*Category, 0, len(ids))
	for _, id := range ids {
		out = append(out, idx.categories[id])
	}
	return out
}

// CategoryParent returns the parent id, or RootCategoryID for root or unknown categories.
func (idx *Index) CategoryParent(id int64) int64 {
	if c, ok := idx.categories[id]; ok {
		return c.ParentID
	}
	return RootCategoryID
}

// Category returns the category with the given id.
func (idx *Index) Category(id int64) (*Category, bool) {
	c, ok := idx.categories[id]
	return c, ok
}

// Categories returns every category in load order.
func (idx *Index) Categories() []*Category {
	out := make([]*Category, 0, len(idx.categoryOrder))
	for _, id := range idx.categoryOrder {
		out = append(out, idx.categories[id])
	}
	return out
}

// Ancestors returns the breadcrumb for id, root-most first and ending with id
// itself. Unknown ids yield nil.
func (idx *Index) Ancestors(id int64) []*Category {
	var chain []*Category
	seen := make(map[int64]bool)
	for cur, ok := idx.categories[id]; ok && !seen[cur.ID]; cur, ok = idx.categories[cur.ParentID] {
		seen[cur.ID] = true
		chain = append(chain, cur)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// Partner returns the partner with the given id.
func (idx *Index) Partner(id int64) (*Partner, bool) {
	p, ok := idx.partners[id]
	return p, ok
}

// Partners returns every partner in load order.
func (idx *Index) Partners() []*Partner {
	out := make([]*Partner, 0, len(idx.partnerOrder))
	for _, id := range idx.partnerOrder {
		out = append(out, idx.partners[id])
	}
	return out
}

// Search does a case-insensitive substring match over barcode, internal code
// and display name. It is a linear scan in load order with no ranking and
// returns at most MaxSearchResults products. An empty query matches nothing.
func (idx *Index) Search(query string) []*Product {
	if query == "" {
		return nil
	}
	q := strings.ToLower(query)
	var out []*Product
	for i, s := range idx.search {
		if strings.Contains(s, q) {
			out = append(out, idx.products[i])
			if len(out) == MaxSearchResults {
				break
			}
		}
	}
	return out
}
