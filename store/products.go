package store

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/astroskulture/checkout/models"
)

// Product returns the product with the given ID.
func (t *Tx) Product(id string) (*models.Product, error) {
	var p models.Product
	if err := getJSON(t.tx.Bucket(bucketProducts), []byte(id), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// PutProduct writes p after recomputing TotalStock from its sizes.
func (t *Tx) PutProduct(p *models.Product) error {
	for _, s := range p.Sizes {
		if s.Stock < 0 {
			return fmt.Errorf("product %s size %s: %w", p.ID, s.Size, ErrInsufficientStock)
		}
	}
	p.RecomputeTotal()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = t.now
	}
	p.UpdatedAt = t.now
	return putJSON(t.tx.Bucket(bucketProducts), []byte(p.ID), p)
}

// AdjustStock adds delta (negative to decrement) to the stock of one size.
// A decrement that would leave the size negative fails with
// ErrInsufficientStock and writes nothing.
func (t *Tx) AdjustStock(productID, size string, delta int) error {
	p, err := t.Product(productID)
	if err != nil {
		return fmt.Errorf("product %s: %w", productID, err)
	}
	i := p.SizeIndex(size)
	if i < 0 {
		return fmt.Errorf("product %s size %s: %w", productID, size, ErrUnknownSize)
	}
	if p.Sizes[i].Stock+delta < 0 {
		return fmt.Errorf("product %s size %s: have %d, need %d: %w",
			productID, size, p.Sizes[i].Stock, -delta, ErrInsufficientStock)
	}
	p.Sizes[i].Stock += delta
	return t.PutProduct(p)
}

// GetProduct retrieves a single product by ID.
// Returns ErrNotFound if the product does not exist.
func (s *Store) GetProduct(id string) (*models.Product, error) {
	var p *models.Product
	err := s.View(func(tx *Tx) error {
		var err error
		p, err = tx.Product(id)
		return err
	})
	return p, err
}

// ListProducts returns all products sorted by name. When activeOnly is set,
// inactive products are omitted.
func (s *Store) ListProducts(activeOnly bool) ([]models.Product, error) {
	items := []models.Product{}

	err := s.View(func(tx *Tx) error {
		return tx.tx.Bucket(bucketProducts).ForEach(func(k, v []byte) error {
			var p models.Product
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			if !activeOnly || p.IsActive {
				items = append(items, p)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

// PutProduct creates or replaces a product. CreatedAt is preserved across
// replacements.
func (s *Store) PutProduct(p *models.Product) (*models.Product, error) {
	err := s.Update(func(tx *Tx) error {
		if existing, err := tx.Product(p.ID); err == nil {
			p.CreatedAt = existing.CreatedAt
		}
		return tx.PutProduct(p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}
