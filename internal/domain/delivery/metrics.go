package delivery

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/webitel/im-relay-service/internal/domain/delivery"

type instruments struct {
	attempts metric.Int64Counter
	pending  metric.Int64UpDownCounter
	outcomes map[Outcome]metric.Int64Counter
}

func newInstruments(mp metric.MeterProvider) (*instruments, error) {
	meter := mp.Meter(meterName)

	attempts, err := meter.Int64Counter("relay.delivery.attempts",
		metric.WithDescription("Frames handed to a receiver connection"))
	if err != nil {
		return nil, fmt.Errorf("attempts counter: %w", err)
	}

	pending, err := meter.Int64UpDownCounter("relay.delivery.pending",
		metric.WithDescription("Messages awaiting acknowledgment"))
	if err != nil {
		return nil, fmt.Errorf("pending counter: %w", err)
	}

	ins := &instruments{
		attempts: attempts,
		pending:  pending,
		outcomes: make(map[Outcome]metric.Int64Counter),
	}

	for _, o := range []Outcome{Acknowledged, Exhausted, Abandoned, Pruned} {
		c, err := meter.Int64Counter("relay.delivery."+o.String(),
			metric.WithDescription(fmt.Sprintf("Messages settled as %s", o)))
		if err != nil {
			return nil, fmt.Errorf("%s counter: %w", o, err)
		}
		ins.outcomes[o] = c
	}

	return ins, nil
}

func (i *instruments) attempt(ctx context.Context, pm *PendingMessage) {
	i.attempts.Add(ctx, 1, metric.WithAttributes(kindAttrs(pm)...))
}

func (i *instruments) enqueued(ctx context.Context, pm *PendingMessage) {
	i.pending.Add(ctx, 1, metric.WithAttributes(kindAttrs(pm)...))
}

func (i *instruments) settled(ctx context.Context, pm *PendingMessage, o Outcome) {
	attrs := metric.WithAttributes(kindAttrs(pm)...)
	i.pending.Add(ctx, -1, attrs)
	if c, ok := i.outcomes[o]; ok {
		c.Add(ctx, 1, attrs)
	}
}

func kindAttrs(pm *PendingMessage) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("kind", pm.Kind.String()),
		attribute.String("priority", pm.Priority.String()),
	}
}
