package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// UserID identifies a chat participant. Clients may send it as a JSON
// number or as a numeric string.
type UserID int64

func (id UserID) String() string { return strconv.FormatInt(int64(id), 10) }

// ParseUserID parses a decimal user identifier taken from a path or header.
func ParseUserID(s string) (UserID, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid user id %q: %w", s, err)
	}
	return UserID(v), nil
}

func (id *UserID) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		return fmt.Errorf("user id is null")
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = s
	}
	v, err := ParseUserID(raw)
	if err != nil {
		return err
	}
	*id = v
	return nil
}

// Status is the persisted presence state of a user.
type Status string

const (
	StatusOnline  Status = "Online"
	StatusOffline Status = "Offline"
)

// ChatStatusSent is the only delivery status the relay writes on insert.
const ChatStatusSent = "sent"

// ChatRecord is the insert request handed to the chat store.
type ChatRecord struct {
	SenderID   UserID
	ReceiverID UserID
	Message    *string
	UUID       string
	Image      *string
	Status     string
	CreatedAt  string
}

// PersistedChat is the stored chat row as returned by the chat store.
type PersistedChat struct {
	ID         int64   `json:"id"`
	SenderID   UserID  `json:"sender_id"`
	ReceiverID UserID  `json:"receiver_id"`
	Message    *string `json:"message"`
	UUID       string  `json:"uuid"`
	Image      *string `json:"image"`
	Status     string  `json:"status"`
	CreatedAt  string  `json:"created_at"`
}

// Attachment is an inline file shipped with a chat frame.
type Attachment struct {
	Name string `json:"name"`
	Data string `json:"data"` // base64
}
