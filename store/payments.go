package store

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/astroskulture/checkout/models"
)

// Payment records are keyed "<order number>/<record id>" so all attempts of
// one order sit next to each other and can be read with a prefix scan.
func paymentKey(orderNumber, id string) []byte {
	return []byte(orderNumber + "/" + id)
}

// PutPayment writes a payment record.
func (t *Tx) PutPayment(p *models.Payment) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = t.now
	}
	p.UpdatedAt = t.now
	return putJSON(t.tx.Bucket(bucketPayments), paymentKey(p.OrderNumber, p.ID), p)
}

// Payments returns every payment record of an order, oldest first.
func (t *Tx) Payments(orderNumber string) ([]models.Payment, error) {
	items := []models.Payment{}
	prefix := []byte(orderNumber + "/")

	c := t.tx.Bucket(bucketPayments).Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		var p models.Payment
		if err := json.Unmarshal(v, &p); err != nil {
			return nil, err
		}
		items = append(items, p)
	}

	// Record ids are random, so key order is not creation order.
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

// OpenPayment returns the most recent pending record for gatewayOrderID, or
// ErrNotFound.
func (t *Tx) OpenPayment(orderNumber, gatewayOrderID string) (*models.Payment, error) {
	items, err := t.Payments(orderNumber)
	if err != nil {
		return nil, err
	}
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].GatewayOrderID == gatewayOrderID && items[i].Status == models.RecordPending {
			return &items[i], nil
		}
	}
	return nil, ErrNotFound
}

// ListPayments returns the payment history of an order.
func (s *Store) ListPayments(orderNumber string) ([]models.Payment, error) {
	var items []models.Payment
	err := s.View(func(tx *Tx) error {
		var err error
		items, err = tx.Payments(orderNumber)
		return err
	})
	return items, err
}
