package event

import (
	"github.com/webitel/im-relay-service/internal/domain/model"
)

var (
	_ Outbound = (*ChatDelivery)(nil)
	_ Outbound = (*MsgUpdate)(nil)
)

// ChatDelivery carries a persisted chat to its receiver.
type ChatDelivery struct {
	ID         int64        `json:"id"`
	SenderID   model.UserID `json:"sender_id"`
	ReceiverID model.UserID `json:"receiver_id"`
	Message    *string      `json:"message"`
	Image      *string      `json:"image"`
	UUID       string       `json:"uuid"`
	Status     string       `json:"status"`
	CreatedAt  string       `json:"created_at"`
}

func NewChatDelivery(c *model.PersistedChat) *ChatDelivery {
	return &ChatDelivery{
		ID:         c.ID,
		SenderID:   c.SenderID,
		ReceiverID: c.ReceiverID,
		Message:    c.Message,
		Image:      c.Image,
		UUID:       c.UUID,
		Status:     c.Status,
		CreatedAt:  c.CreatedAt,
	}
}

func (e *ChatDelivery) GetKind() Kind         { return KindChat }
func (e *ChatDelivery) GetPriority() Priority { return PriorityHigh }

// MsgUpdate tells the sender that the chat identified by UUID was accepted.
type MsgUpdate struct {
	ReceiverID model.UserID `json:"receiver_id"`
	UUID       string       `json:"uuid"`
}

func (e *MsgUpdate) GetKind() Kind         { return KindMsgUpdate }
func (e *MsgUpdate) GetPriority() Priority { return PriorityNormal }
