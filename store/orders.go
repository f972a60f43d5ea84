package store

import (
	"encoding/json"
	"sort"

	"github.com/astroskulture/checkout/models"
)

// Order returns the order with the given number.
func (t *Tx) Order(number string) (*models.Order, error) {
	var o models.Order
	if err := getJSON(t.tx.Bucket(bucketOrders), []byte(number), &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// OrderExists reports whether an order number is taken.
func (t *Tx) OrderExists(number string) bool {
	return t.tx.Bucket(bucketOrders).Get([]byte(number)) != nil
}

// PutOrder writes o, stamping UpdatedAt (and CreatedAt on first write), and
// keeps the pending-payment index in step with o.PaymentStatus.
func (t *Tx) PutOrder(o *models.Order) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = t.now
	}
	o.UpdatedAt = t.now

	key := []byte(o.Number)
	if err := putJSON(t.tx.Bucket(bucketOrders), key, o); err != nil {
		return err
	}

	pending := t.tx.Bucket(bucketPending)
	if o.PaymentStatus == models.PaymentPending {
		return pending.Put(key, nil)
	}
	return pending.Delete(key)
}

// GetOrder retrieves a single order by number.
// Returns ErrNotFound if the order does not exist.
func (s *Store) GetOrder(number string) (*models.Order, error) {
	var o *models.Order
	err := s.View(func(tx *Tx) error {
		var err error
		o, err = tx.Order(number)
		return err
	})
	return o, err
}

// ListOrders returns all orders, newest first. A non-empty userID restricts
// the result to that user's orders.
func (s *Store) ListOrders(userID string) ([]models.Order, error) {
	items := []models.Order{}

	err := s.View(func(tx *Tx) error {
		return tx.tx.Bucket(bucketOrders).ForEach(func(k, v []byte) error {
			var o models.Order
			if err := json.Unmarshal(v, &o); err != nil {
				return err
			}
			if userID == "" || o.UserID == userID {
				items = append(items, o)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items, nil
}

// PendingOrderNumbers returns the numbers of all orders whose payment status
// is pending, read from the pending index.
func (s *Store) PendingOrderNumbers() ([]string, error) {
	var numbers []string
	err := s.View(func(tx *Tx) error {
		return tx.tx.Bucket(bucketPending).ForEach(func(k, _ []byte) error {
			numbers = append(numbers, string(k))
			return nil
		})
	})
	return numbers, err
}
