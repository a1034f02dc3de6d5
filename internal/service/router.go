package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/webitel/im-relay-service/internal/domain/event"
	"github.com/webitel/im-relay-service/internal/domain/model"
	"github.com/webitel/im-relay-service/internal/domain/registry"
)

const tracerName = "github.com/webitel/im-relay-service/internal/service"

// pongTimeout bounds the wait for outbound buffer space when answering a ping.
const pongTimeout = 500 * time.Millisecond

var (
	ErrInvalidEvent = errors.New("invalid event")
	ErrInvalidChat  = errors.New("invalid chat")
	ErrUnknownEvent = errors.New("unknown event type")
	ErrHandlerPanic = errors.New("event handler panicked")
)

// Result describes how one inbound frame was handled. A non-nil Err means
// the frame was dropped; the connection stays open either way.
type Result struct {
	Kind       event.Kind
	MessageIDs []string
	Err        error
}

// Router interprets inbound client frames.
type Router struct {
	courier  Courier
	chats    ChatStore
	files    FileStore
	exporter EventExporter
	logger   *slog.Logger
	tracer   trace.Tracer
}

func NewRouter(courier Courier, chats ChatStore, files FileStore, exporter EventExporter, logger *slog.Logger) *Router {
	return &Router{
		courier:  courier,
		chats:    chats,
		files:    files,
		exporter: exporter,
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
	}
}

// Dispatch handles a single frame received on conn.
func (r *Router) Dispatch(ctx context.Context, conn registry.Connector, frame []byte) (res Result) {
	ctx, span := r.tracer.Start(ctx, "relay.dispatch",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.Int64("relay.user_id", int64(conn.GetUserID()))),
	)

	defer func() {
		// [PANIC_RECOVERY] one bad frame must not kill the read loop
		if rec := recover(); rec != nil {
			r.logger.Error("PANIC_RECOVERED",
				"err", rec,
				"stack", string(debug.Stack()),
				"user_id", conn.GetUserID(),
			)
			res.Err = fmt.Errorf("%w: %v", ErrHandlerPanic, rec)
		}
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
		}
		span.End()
	}()

	in, err := event.Decode(frame)
	if err != nil {
		return Result{Err: err}
	}

	res.Kind = in.Type
	span.SetAttributes(attribute.String("relay.event.kind", in.Type.String()))

	switch in.Type {
	case event.KindChat:
		res.MessageIDs, res.Err = r.handleChat(ctx, in)
	case event.KindTyping, event.KindBlur:
		res.MessageIDs, res.Err = r.handleIndicator(ctx, in)
	case event.KindPing:
		res.Err = r.handlePing(conn)
	case event.KindAck:
		res.Err = r.handleAck(in)
	default:
		res.Err = fmt.Errorf("%w: %q", ErrUnknownEvent, in.Type)
	}

	return res
}

func (r *Router) handleChat(ctx context.Context, in *event.Inbound) ([]string, error) {
	switch {
	case in.SenderID == nil:
		return nil, fmt.Errorf("%w: sender_id is required", ErrInvalidChat)
	case in.ReceiverID == nil:
		return nil, fmt.Errorf("%w: receiver_id is required", ErrInvalidChat)
	case !in.Has("message"):
		return nil, fmt.Errorf("%w: message is required", ErrInvalidChat)
	case in.UUID == "":
		return nil, fmt.Errorf("%w: uuid is required", ErrInvalidChat)
	case in.CreatedAt == "":
		return nil, fmt.Errorf("%w: created_at is required", ErrInvalidChat)
	}

	var image *string
	if in.File != nil {
		ref, err := r.saveAttachment(ctx, in.File)
		if err != nil {
			return nil, fmt.Errorf("chat %s: attachment: %w", in.UUID, err)
		}
		image = &ref
	}

	chat, err := r.chats.InsertChat(ctx, model.ChatRecord{
		SenderID:   *in.SenderID,
		ReceiverID: *in.ReceiverID,
		Message:    in.Message,
		UUID:       in.UUID,
		Image:      image,
		Status:     model.ChatStatusSent,
		CreatedAt:  in.CreatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("chat %s: persist: %w", in.UUID, err)
	}

	defer export(ctx, r.exporter, r.logger, event.NewChatCreated(chat))

	// a note to self is stored but never delivered
	if chat.SenderID == chat.ReceiverID {
		return nil, nil
	}

	ids := make([]string, 0, 2)

	id, err := r.courier.Enqueue(ctx, chat.ReceiverID, event.NewChatDelivery(chat))
	if err != nil {
		return ids, fmt.Errorf("chat %s: enqueue delivery: %w", chat.UUID, err)
	}
	ids = append(ids, id)

	id, err = r.courier.Enqueue(ctx, chat.SenderID, &event.MsgUpdate{ReceiverID: chat.ReceiverID, UUID: chat.UUID})
	if err != nil {
		return ids, fmt.Errorf("chat %s: enqueue confirmation: %w", chat.UUID, err)
	}
	ids = append(ids, id)

	r.logger.Debug("CHAT_ROUTED",
		"chat_id", chat.ID,
		"uuid", chat.UUID,
		"sender_id", chat.SenderID,
		"receiver_id", chat.ReceiverID,
	)

	return ids, nil
}

func (r *Router) saveAttachment(ctx context.Context, file *model.Attachment) (string, error) {
	if file.Name == "" || file.Data == "" {
		return "", fmt.Errorf("%w: file requires name and data", ErrInvalidChat)
	}

	data, err := base64.StdEncoding.DecodeString(file.Data)
	if err != nil {
		return "", fmt.Errorf("%w: file data is not base64: %v", ErrInvalidChat, err)
	}

	return r.files.Save(ctx, file.Name, data)
}

func (r *Router) handleIndicator(ctx context.Context, in *event.Inbound) ([]string, error) {
	if in.SenderID == nil || in.ReceiverID == nil {
		return nil, fmt.Errorf("%w: %s requires sender_id and receiver_id", ErrInvalidEvent, in.Type)
	}

	id, err := r.courier.Enqueue(ctx, *in.ReceiverID, &event.Indicator{Kind: in.Type, SenderID: *in.SenderID})
	if err != nil {
		return nil, fmt.Errorf("%s: enqueue: %w", in.Type, err)
	}
	return []string{id}, nil
}

func (r *Router) handlePing(conn registry.Connector) error {
	frame, err := event.Encode(event.Pong{}, "")
	if err != nil {
		return err
	}
	if err := conn.Send(frame, pongTimeout); err != nil {
		return fmt.Errorf("pong: %w", err)
	}
	return nil
}

func (r *Router) handleAck(in *event.Inbound) error {
	if in.MessageID == "" {
		return fmt.Errorf("%w: ack requires message_id", ErrInvalidEvent)
	}
	r.courier.Acknowledge(in.MessageID)
	return nil
}
