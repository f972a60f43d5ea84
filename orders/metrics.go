package orders

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/astroskulture/checkout/orders"

type metrics struct {
	created     metric.Int64Counter
	paid        metric.Int64Counter
	rejected    metric.Int64Counter
	cancelled   metric.Int64Counter
	gatewayErrs metric.Int64Counter
}

func newMetrics() *metrics {
	meter := otel.Meter(meterName)
	return &metrics{
		created:     counter(meter, "checkout.orders.created", "Orders created"),
		paid:        counter(meter, "checkout.orders.paid", "Orders moved to paid"),
		rejected:    counter(meter, "checkout.payments.signature_rejected", "Payment confirmations with a bad signature"),
		cancelled:   counter(meter, "checkout.orders.cancelled", "Orders cancelled"),
		gatewayErrs: counter(meter, "checkout.gateway.errors", "Failed payment order creations"),
	}
}

// counter falls back to a no-op instrument so a misconfigured meter never
// breaks checkout.
func counter(meter metric.Meter, name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		c, _ = noop.NewMeterProvider().Meter(meterName).Int64Counter(name)
	}
	return c
}

func add(ctx context.Context, c metric.Int64Counter, attrs ...attribute.KeyValue) {
	c.Add(ctx, 1, metric.WithAttributes(attrs...))
}
