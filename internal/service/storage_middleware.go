package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/webitel/im-relay-service/internal/domain/model"
)

// StorageMiddleware implements [DECORATOR_PATTERN] to add observability
// to storage calls without touching business logic.
type StorageMiddleware struct {
	Next   Storage
	Logger *slog.Logger
}

// NewStorageMiddleware creates a new logging decorator for the Storage.
func NewStorageMiddleware(next Storage, logger *slog.Logger) Storage {
	return &StorageMiddleware{
		Next:   next,
		Logger: logger,
	}
}

// InsertChat wraps chat persistence with execution timing and outcome logging.
func (m *StorageMiddleware) InsertChat(ctx context.Context, rec model.ChatRecord) (*model.PersistedChat, error) {
	start := time.Now()

	chat, err := m.Next.InsertChat(ctx, rec)

	duration := time.Since(start)

	if err != nil {
		m.Logger.Error("CHAT_INSERT_FAILED",
			"err", err,
			"uuid", rec.UUID,
			"sender_id", rec.SenderID,
			"receiver_id", rec.ReceiverID,
			"duration_ms", duration.Milliseconds(),
		)
	} else {
		m.Logger.Debug("CHAT_INSERTED",
			"chat_id", chat.ID,
			"uuid", chat.UUID,
			"duration_ms", duration.Milliseconds(),
		)
	}

	return chat, err
}

// UpdateStatus wraps a presence write.
func (m *StorageMiddleware) UpdateStatus(ctx context.Context, userID model.UserID, status model.Status) error {
	start := time.Now()

	err := m.Next.UpdateStatus(ctx, userID, status)
	if err != nil {
		m.Logger.Warn("STATUS_UPDATE_FAILED",
			"user_id", userID,
			"status", status,
			"err", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}

	return err
}
