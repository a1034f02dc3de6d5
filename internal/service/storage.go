package service

import (
	"context"

	"github.com/webitel/im-relay-service/internal/domain/delivery"
	"github.com/webitel/im-relay-service/internal/domain/event"
	"github.com/webitel/im-relay-service/internal/domain/model"
)

// ChatStore persists accepted chats.
type ChatStore interface {
	InsertChat(ctx context.Context, rec model.ChatRecord) (*model.PersistedChat, error)
}

// StatusStore persists presence transitions.
type StatusStore interface {
	UpdateStatus(ctx context.Context, userID model.UserID, status model.Status) error
}

// Storage is the relational collaborator the relay writes to.
type Storage interface {
	ChatStore
	StatusStore
}

// FileStore keeps chat attachments and returns the reference clients use
// to fetch them.
type FileStore interface {
	Save(ctx context.Context, name string, data []byte) (string, error)
}

// EventExporter publishes integration events. Failures never affect delivery.
type EventExporter interface {
	Publish(ctx context.Context, ev event.Exportable) error
}

// Courier is the delivery engine as seen by the services.
type Courier interface {
	Enqueue(ctx context.Context, receiverID model.UserID, ev event.Outbound) (string, error)
	Acknowledge(messageID string) bool
	Stats() delivery.Stats
}

var _ Courier = (*delivery.Engine)(nil)
