package store_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/astroskulture/checkout/models"
	"github.com/astroskulture/checkout/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.New(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedProduct(t *testing.T, s *store.Store) {
	t.Helper()
	_, err := s.PutProduct(&models.Product{
		ID:       "tee-astro",
		Name:     "Astro Tee",
		Price:    199900,
		IsActive: true,
		Sizes:    []models.SizeStock{{Size: "M", Stock: 5}, {Size: "L", Stock: 3}},
	})
	if err != nil {
		t.Fatalf("seed product: %v", err)
	}
}

func TestListEmpty(t *testing.T) {
	s := newTestStore(t)
	items, err := s.ListOrders("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected empty list, got %d items", len(items))
	}
}

func TestPutProductRecomputesTotalStock(t *testing.T) {
	s := newTestStore(t)
	seedProduct(t, s)

	p, err := s.GetProduct("tee-astro")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.TotalStock != 8 {
		t.Fatalf("expected totalStock=8, got %d", p.TotalStock)
	}

	// Callers cannot smuggle in a stale total.
	p.TotalStock = 100
	p.Sizes[0].Stock = 1
	p, err = s.PutProduct(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.TotalStock != 4 {
		t.Fatalf("expected totalStock=4, got %d", p.TotalStock)
	}
}

func TestAdjustStockNeverNegative(t *testing.T) {
	s := newTestStore(t)
	seedProduct(t, s)

	err := s.Update(func(tx *store.Tx) error {
		return tx.AdjustStock("tee-astro", "L", -4)
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	ps, err := s.PriceAndStock("tee-astro", "L")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ps.AvailableStock != 3 {
		t.Fatalf("stock changed by failed decrement: %d", ps.AvailableStock)
	}
}

func TestUpdateRollsBackAllWrites(t *testing.T) {
	s := newTestStore(t)
	seedProduct(t, s)

	// M succeeds, L fails: the whole transaction must be discarded.
	err := s.Update(func(tx *store.Tx) error {
		if err := tx.AdjustStock("tee-astro", "M", -2); err != nil {
			return err
		}
		return tx.AdjustStock("tee-astro", "L", -10)
	})
	if err == nil {
		t.Fatal("expected error")
	}

	p, _ := s.GetProduct("tee-astro")
	if p.Sizes[0].Stock != 5 || p.TotalStock != 8 {
		t.Fatalf("expected rollback, got sizes=%v total=%d", p.Sizes, p.TotalStock)
	}
}

func TestAdjustStockUnknownSize(t *testing.T) {
	s := newTestStore(t)
	seedProduct(t, s)

	err := s.Update(func(tx *store.Tx) error {
		return tx.AdjustStock("tee-astro", "XXL", -1)
	})
	if !errors.Is(err, store.ErrUnknownSize) {
		t.Fatalf("expected ErrUnknownSize, got %v", err)
	}
}

func TestSettingsSingleton(t *testing.T) {
	s := newTestStore(t)

	st, err := s.ActiveSettings()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !st.GSTPercentage.Equal(decimal.NewFromInt(18)) || st.ShippingFee != 6900 {
		t.Fatalf("expected defaults, got %+v", st)
	}

	st.GSTPercentage = decimal.RequireFromString("12.5")
	if _, err := s.PutSettings(st); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st.ShippingEnabled = false
	if _, err := s.PutSettings(st); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := s.ActiveSettings()
	if !got.GSTPercentage.Equal(decimal.RequireFromString("12.5")) || got.ShippingEnabled {
		t.Fatalf("expected last write to win, got %+v", got)
	}
}

func TestPendingIndexFollowsPaymentStatus(t *testing.T) {
	s := newTestStore(t)

	o := &models.Order{Number: "AK-1", Status: models.OrderPending, PaymentStatus: models.PaymentPending}
	if err := s.Update(func(tx *store.Tx) error { return tx.PutOrder(o) }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pending, _ := s.PendingOrderNumbers()
	if len(pending) != 1 || pending[0] != "AK-1" {
		t.Fatalf("expected AK-1 pending, got %v", pending)
	}

	o.PaymentStatus = models.PaymentPaid
	if err := s.Update(func(tx *store.Tx) error { return tx.PutOrder(o) }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pending, _ = s.PendingOrderNumbers()
	if len(pending) != 0 {
		t.Fatalf("expected no pending orders, got %v", pending)
	}
}

func TestIdempotencyKeyFirstWriteWins(t *testing.T) {
	s := newTestStore(t)

	err := s.Update(func(tx *store.Tx) error {
		if err := tx.PutIdempotencyKey("user-1", "key-1", "AK-1"); err != nil {
			return err
		}
		return tx.PutIdempotencyKey("user-1", "key-1", "AK-2")
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_ = s.View(func(tx *store.Tx) error {
		number, ok := tx.IdempotentOrder("user-1", "key-1")
		if !ok || number != "AK-1" {
			t.Fatalf("expected AK-1, got %q (ok=%v)", number, ok)
		}
		return nil
	})
}

func TestIdempotencyKeyScopedToUser(t *testing.T) {
	s := newTestStore(t)

	err := s.Update(func(tx *store.Tx) error {
		return tx.PutIdempotencyKey("user-1", "shared-key", "AK-1")
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_ = s.View(func(tx *store.Tx) error {
		for _, user := range []string{"", "user-2"} {
			if number, ok := tx.IdempotentOrder(user, "shared-key"); ok {
				t.Fatalf("user %q: expected no order, got %q", user, number)
			}
		}
		return nil
	})
}

func TestPaymentsPrefixScan(t *testing.T) {
	s := newTestStore(t)

	err := s.Update(func(tx *store.Tx) error {
		for _, p := range []*models.Payment{
			{ID: "a", OrderNumber: "AK-1", GatewayOrderID: "order_1", Status: models.RecordFailed},
			{ID: "b", OrderNumber: "AK-1", GatewayOrderID: "order_1", Status: models.RecordPending},
			{ID: "c", OrderNumber: "AK-10", GatewayOrderID: "order_2", Status: models.RecordPending},
		} {
			if err := tx.PutPayment(p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	items, _ := s.ListPayments("AK-1")
	if len(items) != 2 {
		t.Fatalf("expected 2 records for AK-1, got %d", len(items))
	}

	_ = s.View(func(tx *store.Tx) error {
		open, err := tx.OpenPayment("AK-1", "order_1")
		if err != nil || open.ID != "b" {
			t.Fatalf("expected open record b, got %+v (%v)", open, err)
		}
		return nil
	})
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetOrder("missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
