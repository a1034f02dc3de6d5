package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel/trace"

	"github.com/webitel/im-relay-service/internal/domain/event"
)

// Metadata keys set on every exported message.
const (
	MetaRoutingKey  = "routing_key"
	MetaContentType = "content_type"
	MetaTraceID     = "trace_id"
)

// EventDispatcher ships integration events to the configured broker.
type EventDispatcher interface {
	Publish(ctx context.Context, ev event.Exportable) error
}

type eventDispatcher struct {
	publisher message.Publisher
	logger    *slog.Logger
}

func NewEventDispatcher(pub message.Publisher, logger *slog.Logger) EventDispatcher {
	return &eventDispatcher{publisher: pub, logger: logger}
}

func (d *eventDispatcher) Publish(ctx context.Context, ev event.Exportable) error {
	if ev == nil {
		return errors.New("export: nil event")
	}

	key := ev.GetRoutingKey()
	if key == "" {
		// nothing to route on, e.g. a chat without a receiver
		return nil
	}

	msg, err := newMessage(ctx, key, ev)
	if err != nil {
		return err
	}

	if err := d.publisher.Publish(key, msg); err != nil {
		return fmt.Errorf("export %s: %w", key, err)
	}

	d.logger.Debug("EVENT_EXPORTED", "routing_key", key, "event_id", msg.UUID)
	return nil
}

func newMessage(ctx context.Context, key string, ev event.Exportable) (*message.Message, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("export %s: marshal: %w", key, err)
	}

	msg := message.NewMessage(watermill.NewULID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(MetaRoutingKey, key)
	msg.Metadata.Set(MetaContentType, "application/json")

	// [TRACE_PROPAGATION] consumers correlate exports with the originating dispatch
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		msg.Metadata.Set(MetaTraceID, sc.TraceID().String())
	}

	return msg, nil
}
