package delivery

import (
	"fmt"
	"math"
	"time"

	"github.com/webitel/im-relay-service/internal/domain/event"
	"github.com/webitel/im-relay-service/internal/domain/model"
)

// Policy is the retry budget of one pending message.
type Policy struct {
	MaxAttempts  int
	BaseInterval time.Duration
}

// DefaultPolicy gives 5 attempts with waits of 2, 4, 8, 16 and 32 seconds.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 5, BaseInterval: 2 * time.Second}
}

// MaxAttemptsLimit bounds the retry budget; base * 2^k stays far from
// overflow for any sane base below it.
const MaxAttemptsLimit = 30

// Backoff returns the wait after the attempt with zero-based index k:
// base * 2^k, saturating at the largest Duration instead of wrapping.
func (p Policy) Backoff(k int) time.Duration {
	if k < 0 {
		k = 0
	}
	if k >= 63 || p.BaseInterval > time.Duration(math.MaxInt64>>uint(k)) {
		return time.Duration(math.MaxInt64)
	}
	return p.BaseInterval << uint(k)
}

// Window is the worst-case time before an unacknowledged message is dropped.
func (p Policy) Window() time.Duration {
	var total time.Duration
	for k := 0; k < p.MaxAttempts; k++ {
		b := p.Backoff(k)
		if total > time.Duration(math.MaxInt64)-b {
			return time.Duration(math.MaxInt64)
		}
		total += b
	}
	return total
}

func (p Policy) validate() error {
	if p.MaxAttempts < 1 || p.MaxAttempts > MaxAttemptsLimit {
		return fmt.Errorf("delivery policy: max attempts must be in [1, %d], got %d", MaxAttemptsLimit, p.MaxAttempts)
	}
	if p.BaseInterval <= 0 {
		return fmt.Errorf("delivery policy: base interval must be positive, got %s", p.BaseInterval)
	}
	return nil
}

// PendingMessage is an outbound frame awaiting client acknowledgment.
type PendingMessage struct {
	MessageID         string
	ReceiverID        model.UserID
	Kind              event.Kind
	Priority          event.Priority
	Payload           []byte
	AttemptsRemaining int
	NextRetryAt       time.Time
	CreatedAt         time.Time
	// Scheduled is false when the receiver was offline at enqueue time.
	Scheduled bool

	settled chan struct{}
}

// Outcome is how a pending message left the table.
type Outcome int

const (
	Acknowledged Outcome = iota + 1
	Exhausted
	Abandoned
	Pruned
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Acknowledged:
		return "acknowledged"
	case Exhausted:
		return "exhausted"
	case Abandoned:
		return "abandoned"
	case Pruned:
		return "pruned"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Report describes one settled message.
type Report struct {
	MessageID  string
	ReceiverID model.UserID
	Kind       event.Kind
	Outcome    Outcome
	Attempts   int
	Err        error
}

// Stats is a point-in-time view of the engine.
type Stats struct {
	Pending  int
	InFlight int64
}
