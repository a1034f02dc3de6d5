package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/im-relay-service/internal/domain/model"
)

// Interface guard
var _ Connector = (*connect)(nil)

var (
	// ErrConnectionClosed is returned by Send once the session is gone.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrBackpressure is returned when the outbound buffer stayed full for the whole send window.
	ErrBackpressure = errors.New("connection send buffer is full")
)

// [CONNECTOR] THE INTERFACE FOR EXTERNAL LAYERS (REGISTRY/ENGINE/TRANSPORT)
type Connector interface {
	GetID() uuid.UUID
	GetUserID() model.UserID
	ConnectedAt() time.Time
	Metadata() ConnectMetadata
	Send(frame []byte, timeout time.Duration) error // Thread-safe, never blocks past timeout
	Recv() <-chan []byte                            // Drained by exactly one writer
	Done() <-chan struct{}
	Close() // Idempotent
	Dropped() uint64
}

// [METADATA] EXPORTED FOR TRANSPORT AND ANALYTICS LAYERS
type ConnectMetadata struct {
	RemoteIP  string
	UserAgent string
}

// ConnectOption customizes a connector at creation.
type ConnectOption func(*connect)

// WithMetadata attaches transport details to the connector.
func WithMetadata(md ConnectMetadata) ConnectOption {
	return func(c *connect) { c.metadata = md }
}

type connect struct {
	id        uuid.UUID
	userID    model.UserID
	metadata  ConnectMetadata
	createdAt time.Time

	ctx      context.Context
	cancelFn context.CancelFunc

	// sendCh is never closed: concurrent retry tasks may still hold the
	// connector after Close, and a send on a closed channel panics.
	sendCh    chan []byte
	closeOnce sync.Once
	dropped   atomic.Uint64
}

// NewConnector creates the handle for one live transport session.
func NewConnector(ctx context.Context, userID model.UserID, bufferSize int, opts ...ConnectOption) Connector {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	childCtx, cancel := context.WithCancel(ctx)

	c := &connect{
		id:        uuid.New(),
		userID:    userID,
		createdAt: time.Now(),
		ctx:       childCtx,
		cancelFn:  cancel,
		sendCh:    make(chan []byte, bufferSize),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *connect) GetID() uuid.UUID          { return c.id }
func (c *connect) GetUserID() model.UserID   { return c.userID }
func (c *connect) ConnectedAt() time.Time    { return c.createdAt }
func (c *connect) Metadata() ConnectMetadata { return c.metadata }
func (c *connect) Recv() <-chan []byte       { return c.sendCh }
func (c *connect) Done() <-chan struct{}     { return c.ctx.Done() }
func (c *connect) Dropped() uint64           { return c.dropped.Load() }

// Send pushes a frame into the session buffer. It waits up to timeout for
// space, which smooths out transient network jitter.
func (c *connect) Send(frame []byte, timeout time.Duration) error {
	// [LIFECYCLE_GATE] Abort if the transport is already dead.
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.sendCh <- frame:
		return nil
	default:
	}

	if timeout <= 0 {
		c.dropped.Add(1)
		return ErrBackpressure
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	case c.sendCh <- frame:
		return nil
	case <-timer.C:
		// [BACKPRESSURE_THRESHOLD] Persistent slow consumer.
		c.dropped.Add(1)
		return ErrBackpressure
	}
}

// Close cancels the session context. Pending Send calls return
// ErrConnectionClosed and the writer pump exits on Done.
func (c *connect) Close() {
	c.closeOnce.Do(c.cancelFn)
}
