package reconcile_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astroskulture/checkout/gateway"
	"github.com/astroskulture/checkout/models"
	"github.com/astroskulture/checkout/orders"
	"github.com/astroskulture/checkout/reconcile"
	"github.com/astroskulture/checkout/store"
)

type fakeGateway struct {
	mu       sync.Mutex
	next     int
	payments map[string][]gateway.PaymentSummary
	failing  map[string]bool
	fetches  int
}

func (g *fakeGateway) CreatePaymentOrder(context.Context, models.Paise, string, string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("order_%d", g.next), nil
}

func (g *fakeGateway) FetchPayments(_ context.Context, id string) ([]gateway.PaymentSummary, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetches++
	if g.failing[id] {
		return nil, fmt.Errorf("fetch %s: %w", id, gateway.ErrUnavailable)
	}
	return g.payments[id], nil
}

func (g *fakeGateway) FetchPayment(context.Context, string) (*gateway.PaymentDetail, error) {
	return nil, gateway.ErrRejected
}

func (g *fakeGateway) VerifySignature(string, string, string) bool { return false }

type fixture struct {
	store *store.Store
	gw    *fakeGateway
	svc   *orders.Service
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	_, err = st.PutProduct(&models.Product{
		ID:       "tee-astro",
		Name:     "Astro Tee",
		Price:    199900,
		IsActive: true,
		Sizes:    []models.SizeStock{{Size: "M", Stock: 10}},
	})
	require.NoError(t, err)

	f := &fixture{
		store: st,
		gw:    &fakeGateway{payments: map[string][]gateway.PaymentSummary{}, failing: map[string]bool{}},
		now:   time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC),
	}
	st.SetClock(func() time.Time { return f.now })
	f.svc = orders.NewService(st, f.gw, orders.Options{Logger: quiet()})
	return f
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (f *fixture) job(locker reconcile.Locker) *reconcile.Job {
	return reconcile.New(f.store, f.gw, f.svc, locker, reconcile.Config{CallDelay: -1}, quiet())
}

// createAt creates a one-item order as if placed at the given time.
func (f *fixture) createAt(t *testing.T, at time.Time) *models.Order {
	t.Helper()
	saved := f.now
	f.now = at
	defer func() { f.now = saved }()

	o, _, err := f.svc.CreateOrder(context.Background(), orders.CreateOrderRequest{
		Items: []orders.CartItem{{ProductID: "tee-astro", Size: "M", Quantity: 1}},
		ShippingAddress: models.Address{
			Name: "Asha Rao", Phone: "9876543210", Line1: "12 MG Road",
			City: "Bengaluru", PostalCode: "560001",
		},
	})
	require.NoError(t, err)
	return o
}

func (f *fixture) stock(t *testing.T) int {
	t.Helper()
	ps, err := f.store.PriceAndStock("tee-astro", "M")
	require.NoError(t, err)
	return ps.AvailableStock
}

func (f *fixture) order(t *testing.T, number string) *models.Order {
	t.Helper()
	o, err := f.svc.GetOrder(context.Background(), number)
	require.NoError(t, err)
	return o
}

func TestExpiresStaleUnpaidOrder(t *testing.T) {
	f := newFixture(t)
	o := f.createAt(t, f.now.Add(-25*time.Hour))
	f.gw.payments[o.GatewayOrderID] = []gateway.PaymentSummary{{ID: "pay_1", Status: gateway.StatusFailed}}
	require.Equal(t, 9, f.stock(t))

	rep, err := f.job(nil).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, reconcile.Report{Checked: 1, Expired: 1}, rep)

	got := f.order(t, o.Number)
	assert.Equal(t, models.PaymentFailed, got.PaymentStatus)
	assert.Equal(t, models.OrderCancelled, got.Status)
	assert.Equal(t, 10, f.stock(t), "reserved stock is restored")

	rep, err = f.job(nil).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Checked, "expired order leaves the pending index")
	assert.Equal(t, 10, f.stock(t))
}

func TestLeavesYoungOrderAlone(t *testing.T) {
	f := newFixture(t)
	o := f.createAt(t, f.now.Add(-2*time.Hour))

	rep, err := f.job(nil).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, reconcile.Report{Checked: 1, Untouched: 1}, rep)

	got := f.order(t, o.Number)
	assert.Equal(t, models.PaymentPending, got.PaymentStatus)
	assert.Equal(t, 9, f.stock(t))
}

func TestPromotesCapturedPayment(t *testing.T) {
	f := newFixture(t)
	o := f.createAt(t, f.now.Add(-30*time.Hour))
	f.gw.payments[o.GatewayOrderID] = []gateway.PaymentSummary{
		{ID: "pay_failed", Status: gateway.StatusFailed},
		{ID: "pay_ok", Status: gateway.StatusCaptured, Amount: o.Total, Method: "upi"},
	}

	rep, err := f.job(nil).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, reconcile.Report{Checked: 1, Paid: 1}, rep)

	got := f.order(t, o.Number)
	assert.Equal(t, models.PaymentPaid, got.PaymentStatus)
	assert.Equal(t, models.OrderProcessing, got.Status)
	assert.Equal(t, "pay_ok", got.PaymentID)
	assert.Equal(t, 9, f.stock(t), "payment commits the reservation")

	payments, err := f.svc.Payments(context.Background(), o.Number)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, "upi", payments[0].Method)
}

func TestPromotesAuthorizedPayment(t *testing.T) {
	f := newFixture(t)
	o := f.createAt(t, f.now.Add(-time.Hour))
	f.gw.payments[o.GatewayOrderID] = []gateway.PaymentSummary{{ID: "pay_auth", Status: gateway.StatusAuthorized}}

	rep, err := f.job(nil).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Paid)
	assert.Equal(t, models.PaymentPaid, f.order(t, o.Number).PaymentStatus)
}

func TestGatewayErrorNeverExpires(t *testing.T) {
	f := newFixture(t)
	broken := f.createAt(t, f.now.Add(-48*time.Hour))
	stale := f.createAt(t, f.now.Add(-48*time.Hour))
	f.gw.failing[broken.GatewayOrderID] = true

	rep, err := f.job(nil).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, reconcile.Report{Checked: 2, Expired: 1, Errors: 1}, rep)

	assert.Equal(t, models.PaymentPending, f.order(t, broken.Number).PaymentStatus, "unknown gateway state keeps the order")
	assert.Equal(t, models.PaymentFailed, f.order(t, stale.Number).PaymentStatus)
}

func TestExpiresOrderWithoutGatewayOrder(t *testing.T) {
	f := newFixture(t)
	o := f.createAt(t, f.now.Add(-25*time.Hour))
	// Drop the gateway id as if creating it had failed.
	require.NoError(t, f.store.Update(func(tx *store.Tx) error {
		cur, err := tx.Order(o.Number)
		if err != nil {
			return err
		}
		cur.GatewayOrderID = ""
		return tx.PutOrder(cur)
	}))

	rep, err := f.job(nil).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Expired)
	assert.Equal(t, 0, f.gw.fetches)
	assert.Equal(t, 10, f.stock(t))
}

func TestSkipsWhenLockHeld(t *testing.T) {
	f := newFixture(t)
	f.createAt(t, f.now.Add(-25*time.Hour))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	other := reconcile.NewRedisLocker(client, "", time.Minute)
	held, err := other.Acquire(context.Background())
	require.NoError(t, err)

	rep, err := f.job(reconcile.NewRedisLocker(client, "", time.Minute)).RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.Skipped)
	assert.Equal(t, 0, f.gw.fetches)

	require.NoError(t, held.Release(context.Background()))

	rep, err = f.job(reconcile.NewRedisLocker(client, "", time.Minute)).RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, rep.Skipped)
	assert.Equal(t, 1, rep.Expired)
	assert.False(t, mr.Exists(reconcile.DefaultLockKey), "lock is released after the batch")
}

// leaseLocker hands out a lock that can be renewed a fixed number of times.
type leaseLocker struct {
	renewals int
	extended int
	released int
}

func (l *leaseLocker) Acquire(context.Context) (reconcile.Lock, error) { return l, nil }

func (l *leaseLocker) Extend(context.Context) error {
	if l.extended == l.renewals {
		return reconcile.ErrLockLost
	}
	l.extended++
	return nil
}

func (l *leaseLocker) Release(context.Context) error {
	l.released++
	return nil
}

func TestRenewsLockForEveryOrder(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.createAt(t, f.now.Add(-25*time.Hour))
	}

	locker := &leaseLocker{renewals: 10}
	rep, err := f.job(locker).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Expired)
	assert.Equal(t, 3, locker.extended)
	assert.Equal(t, 1, locker.released)
}

func TestStopsWhenLockLost(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.createAt(t, f.now.Add(-25*time.Hour))
	}

	locker := &leaseLocker{renewals: 2}
	rep, err := f.job(locker).RunOnce(context.Background())
	require.ErrorIs(t, err, reconcile.ErrLockLost)
	assert.Equal(t, 2, rep.Checked)
	assert.Equal(t, 2, rep.Expired)
	assert.Equal(t, 1, locker.released)

	pending, err := f.store.PendingOrderNumbers()
	require.NoError(t, err)
	assert.Len(t, pending, 1, "orders after the lost lock are left for the next batch")
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		reconcile.New(f.store, f.gw, f.svc, nil, reconcile.Config{Interval: time.Millisecond, CallDelay: -1}, quiet()).Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
