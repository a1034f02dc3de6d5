package event

type Kind string

const (
	KindChat      Kind = "chat"
	KindTyping    Kind = "typing"
	KindBlur      Kind = "blur"
	KindPing      Kind = "ping"
	KindPong      Kind = "pong"
	KindAck       Kind = "ack"
	KindMsgUpdate Kind = "msg_update"
	KindStatus    Kind = "status"
)

func (k Kind) String() string { return string(k) }

type Priority int32

const (
	PriorityLow    Priority = 10
	PriorityNormal Priority = 20
	PriorityHigh   Priority = 30
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	default:
		return "unspecified"
	}
}

// Outbound defines the contract for every server-originated frame.
// Implementations serialize their own fields; Encode adds the envelope keys.
type Outbound interface {
	GetKind() Kind
	GetPriority() Priority
}

// Exportable marks events that are re-published to the integration bus.
type Exportable interface {
	// GetRoutingKey returns the bus topic. An empty key skips publishing.
	GetRoutingKey() string
}
