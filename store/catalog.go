package store

import (
	"errors"
	"fmt"

	"github.com/astroskulture/checkout/models"
)

// Settings returns the singleton settings record, or the defaults when no
// administrator has saved settings yet.
func (t *Tx) Settings() (models.Settings, error) {
	var st models.Settings
	err := getJSON(t.tx.Bucket(bucketSettings), settingsKey, &st)
	if errors.Is(err, ErrNotFound) {
		return models.DefaultSettings(), nil
	}
	return st, err
}

// PutSettings replaces the singleton settings record. The record always
// lives under the same key, so there can never be more than one.
func (t *Tx) PutSettings(st *models.Settings) error {
	st.UpdatedAt = t.now
	return putJSON(t.tx.Bucket(bucketSettings), settingsKey, st)
}

// ActiveSettings returns a snapshot of the pricing policy.
func (s *Store) ActiveSettings() (models.Settings, error) {
	var st models.Settings
	err := s.View(func(tx *Tx) error {
		var err error
		st, err = tx.Settings()
		return err
	})
	return st, err
}

// PutSettings saves the pricing policy.
func (s *Store) PutSettings(st models.Settings) (models.Settings, error) {
	err := s.Update(func(tx *Tx) error {
		return tx.PutSettings(&st)
	})
	return st, err
}

// PriceAndStock returns pricing and availability for one size of a product.
func (s *Store) PriceAndStock(productID, size string) (models.PriceStock, error) {
	var ps models.PriceStock
	err := s.View(func(tx *Tx) error {
		p, err := tx.Product(productID)
		if err != nil {
			return fmt.Errorf("product %s: %w", productID, err)
		}
		i := p.SizeIndex(size)
		if i < 0 {
			return fmt.Errorf("product %s size %s: %w", productID, size, ErrUnknownSize)
		}
		ps = models.PriceStock{
			Price:          p.Price,
			DiscountPrice:  p.DiscountPrice,
			AvailableStock: p.Sizes[i].Stock,
			IsActive:       p.IsActive,
		}
		return nil
	})
	return ps, err
}
