package models

import "time"

// SizeStock is the available stock of one size of a product.
type SizeStock struct {
	Size  string `json:"size"`
	Stock int    `json:"stock"`
}

// Product is a catalog entry. It is the source of truth for prices and
// available inventory.
type Product struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	Price Paise `json:"price"`

	// DiscountPrice replaces Price when it is positive and lower than Price.
	DiscountPrice Paise `json:"discountPrice,omitempty"`

	IsActive bool        `json:"isActive"`
	Sizes    []SizeStock `json:"sizes"`

	// TotalStock is the cached sum of Sizes[i].Stock. It is recomputed by
	// the store on every write and never set by callers.
	TotalStock int `json:"totalStock"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// EffectivePrice is the price charged for one unit.
func (p *Product) EffectivePrice() Paise {
	if p.DiscountPrice > 0 && p.DiscountPrice < p.Price {
		return p.DiscountPrice
	}
	return p.Price
}

// SizeIndex returns the index of size in Sizes, or -1.
func (p *Product) SizeIndex(size string) int {
	for i, s := range p.Sizes {
		if s.Size == size {
			return i
		}
	}
	return -1
}

// RecomputeTotal refreshes TotalStock from Sizes.
func (p *Product) RecomputeTotal() {
	total := 0
	for _, s := range p.Sizes {
		total += s.Stock
	}
	p.TotalStock = total
}

// PriceStock is the read-only view of a product size used for pricing.
type PriceStock struct {
	Price          Paise `json:"price"`
	DiscountPrice  Paise `json:"discountPrice,omitempty"`
	AvailableStock int   `json:"availableStock"`
	IsActive       bool  `json:"isActive"`
}
