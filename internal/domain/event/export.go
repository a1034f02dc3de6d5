package event

import (
	"fmt"
	"time"

	"github.com/webitel/im-relay-service/internal/domain/model"
)

var (
	_ Exportable = (*ChatCreated)(nil)
	_ Exportable = (*PresenceChanged)(nil)
)

// ChatCreated is published once a chat has been persisted.
// [PATTERN] im_relay.v1.{receiver_id}.chat.created
type ChatCreated struct {
	Chat       *model.PersistedChat `json:"chat"`
	OccurredAt int64                `json:"occurred_at"`
}

func NewChatCreated(c *model.PersistedChat) *ChatCreated {
	return &ChatCreated{Chat: c, OccurredAt: time.Now().UnixMilli()}
}

func (e *ChatCreated) GetRoutingKey() string {
	if e.Chat == nil {
		return ""
	}
	return fmt.Sprintf("im_relay.v1.%d.chat.created", e.Chat.ReceiverID)
}

// PresenceChanged is published on every Online/Offline transition.
// [PATTERN] im_relay.v1.{user_id}.user.status
type PresenceChanged struct {
	UserID     model.UserID `json:"user_id"`
	Status     model.Status `json:"status"`
	OccurredAt int64        `json:"occurred_at"`
}

func NewPresenceChanged(userID model.UserID, status model.Status) *PresenceChanged {
	return &PresenceChanged{UserID: userID, Status: status, OccurredAt: time.Now().UnixMilli()}
}

func (e *PresenceChanged) GetRoutingKey() string {
	return fmt.Sprintf("im_relay.v1.%d.user.status", e.UserID)
}
