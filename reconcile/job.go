// Package reconcile periodically re-checks orders still awaiting payment
// against the payment gateway. It recovers payments whose client-side
// confirmation never arrived and expires abandoned checkouts so their
// reserved stock returns to the catalog.
//
// All transitions go through orders.Service, so a batch racing with a
// client confirmation on the same order is safe.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/astroskulture/checkout/gateway"
	"github.com/astroskulture/checkout/models"
	"github.com/astroskulture/checkout/orders"
	"github.com/astroskulture/checkout/store"
)

// Defaults applied by New for zero Config fields.
const (
	DefaultInterval  = 5 * time.Minute
	DefaultGrace     = 24 * time.Hour
	DefaultCallDelay = 500 * time.Millisecond
)

// Config tunes a Job.
type Config struct {
	// Interval between batches in Run.
	Interval time.Duration

	// Grace is how long an order may stay unpaid before it is expired.
	Grace time.Duration

	// CallDelay spaces consecutive gateway calls to stay under rate limits.
	// Negative disables the delay.
	CallDelay time.Duration
}

// Report summarises one batch.
type Report struct {
	Checked   int  `json:"checked"`
	Paid      int  `json:"paid"`
	Expired   int  `json:"expired"`
	Untouched int  `json:"untouched"`
	Errors    int  `json:"errors"`
	Skipped   bool `json:"skipped,omitempty"`
}

// Job reconciles pending orders.
type Job struct {
	store   *store.Store
	gw      gateway.Gateway
	orders  *orders.Service
	locker  Locker
	cfg     Config
	log     *slog.Logger
	outcome metric.Int64Counter
}

// New creates a Job. A nil locker means NopLocker.
func New(st *store.Store, gw gateway.Gateway, svc *orders.Service, locker Locker, cfg Config, log *slog.Logger) *Job {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	if cfg.CallDelay == 0 {
		cfg.CallDelay = DefaultCallDelay
	}
	if locker == nil {
		locker = NopLocker{}
	}
	if log == nil {
		log = slog.Default()
	}

	outcome, err := otel.Meter("github.com/astroskulture/checkout/reconcile").Int64Counter(
		"checkout.reconcile.orders",
		metric.WithDescription("Pending orders examined by reconciliation, by outcome"))
	if err != nil {
		log.Warn("reconcile metrics disabled", "err", err)
	}

	return &Job{
		store:   st,
		gw:      gw,
		orders:  svc,
		locker:  locker,
		cfg:     cfg,
		log:     log.With("component", "reconcile"),
		outcome: outcome,
	}
}

// Run executes a batch immediately and then every Interval until ctx is
// cancelled.
func (j *Job) Run(ctx context.Context) {
	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := j.RunOnce(ctx); err != nil && ctx.Err() == nil {
			j.log.Error("reconciliation batch failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce reconciles every order currently awaiting payment. Failures on
// individual orders are logged and counted; the batch continues. When
// another instance holds the lock the batch is skipped. The lock is
// renewed before each order, and a batch that loses it stops with the
// partial report and ErrLockLost.
func (j *Job) RunOnce(ctx context.Context) (Report, error) {
	var rep Report

	lock, err := j.locker.Acquire(ctx)
	if errors.Is(err, ErrLockHeld) {
		j.log.Info("reconciliation skipped, lock held elsewhere")
		rep.Skipped = true
		return rep, nil
	}
	if err != nil {
		return rep, err
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			j.log.Warn("reconcile lock release failed", "err", err)
		}
	}()

	numbers, err := j.store.PendingOrderNumbers()
	if err != nil {
		return rep, err
	}

	cutoff := j.store.Now().Add(-j.cfg.Grace)
	calls := 0
	for _, number := range numbers {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if err := lock.Extend(ctx); err != nil {
			j.log.Error("reconciliation stopped, lock not renewed", "err", err, "checked", rep.Checked)
			return rep, err
		}

		rep.Checked++
		o, err := j.orders.GetOrder(ctx, number)
		if err != nil {
			j.fail(ctx, &rep, number, err)
			continue
		}
		if o.PaymentStatus != models.PaymentPending {
			j.count(ctx, &rep, "untouched")
			continue
		}

		if o.GatewayOrderID != "" {
			if calls > 0 && !j.pause(ctx) {
				return rep, ctx.Err()
			}
			calls++

			paid, err := j.checkGateway(ctx, o)
			if err != nil {
				j.fail(ctx, &rep, number, err)
				continue
			}
			if paid {
				j.count(ctx, &rep, "paid")
				continue
			}
		}

		if !o.CreatedAt.Before(cutoff) {
			j.count(ctx, &rep, "untouched")
			continue
		}

		_, applied, err := j.orders.ExpireOrder(ctx, number, cutoff)
		switch {
		case err != nil:
			j.fail(ctx, &rep, number, err)
		case applied:
			j.log.Info("order expired", "order", number, "created_at", o.CreatedAt)
			j.count(ctx, &rep, "expired")
		default:
			j.count(ctx, &rep, "untouched")
		}
	}

	j.log.Info("reconciliation finished",
		"checked", rep.Checked,
		"paid", rep.Paid,
		"expired", rep.Expired,
		"untouched", rep.Untouched,
		"errors", rep.Errors)
	return rep, nil
}

// checkGateway promotes o when the gateway holds a successful payment for
// it. It reports whether the order is now paid.
func (j *Job) checkGateway(ctx context.Context, o *models.Order) (bool, error) {
	payments, err := j.gw.FetchPayments(ctx, o.GatewayOrderID)
	if err != nil {
		return false, err
	}
	for _, p := range payments {
		if !p.Succeeded() {
			continue
		}
		_, applied, err := j.orders.ConfirmGatewayPayment(ctx, o.Number, p)
		if err != nil {
			return false, err
		}
		if applied {
			j.log.Info("recovered payment", "order", o.Number, "payment", p.ID, "status", p.Status)
		}
		return true, nil
	}
	return false, nil
}

func (j *Job) pause(ctx context.Context) bool {
	if j.cfg.CallDelay < 0 {
		return true
	}
	t := time.NewTimer(j.cfg.CallDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (j *Job) fail(ctx context.Context, rep *Report, number string, err error) {
	j.log.Error("order reconciliation failed", "order", number, "err", err)
	j.count(ctx, rep, "error")
}

func (j *Job) count(ctx context.Context, rep *Report, outcome string) {
	switch outcome {
	case "paid":
		rep.Paid++
	case "expired":
		rep.Expired++
	case "untouched":
		rep.Untouched++
	case "error":
		rep.Errors++
	}
	if j.outcome != nil {
		j.outcome.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}
