package event

import (
	"github.com/tidwall/gjson"
	"github.com/webitel/im-relay-service/internal/domain/model"
)

// Inbound is a decoded client frame. Which fields are meaningful depends on Type.
type Inbound struct {
	Type       Kind              `json:"type"`
	SenderID   *model.UserID     `json:"sender_id"`
	ReceiverID *model.UserID     `json:"receiver_id"`
	Message    *string           `json:"message"`
	UUID       string            `json:"uuid"`
	CreatedAt  string            `json:"created_at"`
	File       *model.Attachment `json:"file"`
	MessageID  string            `json:"message_id"`

	raw []byte
}

// Has reports whether the frame carried the top-level key, even with a null value.
func (in *Inbound) Has(key string) bool {
	if in == nil || len(in.raw) == 0 {
		return false
	}
	return gjson.GetBytes(in.raw, gjson.Escape(key)).Exists()
}

// Raw returns the frame the event was decoded from.
func (in *Inbound) Raw() []byte { return in.raw }
