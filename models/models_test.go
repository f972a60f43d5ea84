package models_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/astroskulture/checkout/models"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to models.OrderStatus
		want     bool
	}{
		{models.OrderPending, models.OrderProcessing, true},
		{models.OrderProcessing, models.OrderShipped, true},
		{models.OrderShipped, models.OrderDelivered, true},
		{models.OrderPending, models.OrderShipped, false},
		{models.OrderShipped, models.OrderProcessing, false},
		{models.OrderShipped, models.OrderCancelled, true},
		{models.OrderDelivered, models.OrderCancelled, false},
		{models.OrderCancelled, models.OrderPending, false},
		{models.OrderPending, "lost", false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestPercentRoundsHalfUp(t *testing.T) {
	tests := []struct {
		amount models.Paise
		pct    string
		want   models.Paise
	}{
		{199900, "18", 35982},
		{150, "12.5", 19}, // 18.75
		{10, "5", 1},      // 0.5
		{0, "18", 0},
	}
	for _, tt := range tests {
		got := tt.amount.Percent(decimal.RequireFromString(tt.pct))
		if got != tt.want {
			t.Errorf("%d × %s%%: got %d, want %d", tt.amount, tt.pct, got, tt.want)
		}
	}
}

func TestPaiseString(t *testing.T) {
	if got := models.Paise(242782).String(); got != "2427.82" {
		t.Fatalf("expected 2427.82, got %s", got)
	}
	if got := models.Rupees(decimal.RequireFromString("69")); got != 6900 {
		t.Fatalf("expected 6900 paise, got %d", got)
	}
}

func TestShippingFor(t *testing.T) {
	st := models.DefaultSettings()

	if got := st.ShippingFor(50000); got != 6900 {
		t.Fatalf("below threshold: expected 6900, got %d", got)
	}
	if got := st.ShippingFor(99900); got != 0 {
		t.Fatalf("at threshold: expected free shipping, got %d", got)
	}

	st.FreeShippingAbove = 0
	if got := st.ShippingFor(10_000_000); got != 6900 {
		t.Fatalf("no threshold: expected 6900, got %d", got)
	}

	st.ShippingEnabled = false
	if got := st.ShippingFor(100); got != 0 {
		t.Fatalf("disabled: expected 0, got %d", got)
	}
}

func TestTaxOn(t *testing.T) {
	st := models.DefaultSettings()
	if got := st.TaxOn(199900); got != 35982 {
		t.Fatalf("expected 35982, got %d", got)
	}
	st.GSTEnabled = false
	if got := st.TaxOn(199900); got != 0 {
		t.Fatalf("expected 0 with GST disabled, got %d", got)
	}
}
