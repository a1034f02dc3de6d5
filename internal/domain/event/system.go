package event

import (
	"github.com/webitel/im-relay-service/internal/domain/model"
)

var (
	_ Outbound = (*StatusChange)(nil)
	_ Outbound = (*Indicator)(nil)
	_ Outbound = Pong{}
)

// StatusChange is the presence broadcast sent to every other online user.
type StatusChange struct {
	UserID model.UserID `json:"user_id"`
	Status model.Status `json:"status"`
}

func (e *StatusChange) GetKind() Kind         { return KindStatus }
func (e *StatusChange) GetPriority() Priority { return PriorityNormal }

// Indicator is a short-lived typing/blur signal.
type Indicator struct {
	Kind     Kind         `json:"-"`
	SenderID model.UserID `json:"sender_id"`
}

func (e *Indicator) GetKind() Kind         { return e.Kind }
func (e *Indicator) GetPriority() Priority { return PriorityLow }

// Pong answers a client ping. It never goes through the delivery engine.
type Pong struct{}

func (Pong) GetKind() Kind         { return KindPong }
func (Pong) GetPriority() Priority { return PriorityLow }
