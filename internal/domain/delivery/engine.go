// Package delivery owns at-least-once delivery of server-originated frames.
//
// Every outbound frame is stamped with a fresh message id and parked in the
// pending table until the receiving client acknowledges it. While the
// receiver stays connected a retry task re-sends the frame with exponential
// backoff; the sequence stops on ack, on transport failure, or when the
// attempt budget is spent.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/webitel/im-relay-service/internal/domain/event"
	"github.com/webitel/im-relay-service/internal/domain/model"
	"github.com/webitel/im-relay-service/internal/domain/registry"
)

var (
	ErrClosed       = errors.New("delivery engine closed")
	ErrReceiverGone = errors.New("receiver is not connected")
)

// Resolver is the slice of the registry the engine depends on.
type Resolver interface {
	Lookup(userID model.UserID) (registry.Connector, bool)
}

// Engine tracks pending messages and drives their retry tasks.
type Engine struct {
	resolver Resolver

	policy        Policy
	clock         Clock
	logger        *slog.Logger
	meterProvider metric.MeterProvider
	onReport      func(Report)
	sendTimeout   time.Duration
	pruneInterval time.Duration
	pendingTTL    time.Duration
	maxInFlight   int
	settledSize   int

	mu      sync.Mutex
	pending map[string]*PendingMessage

	// settled remembers recent outcomes so late acks can be told apart from
	// ids the engine never issued.
	settled *lru.Cache[string, Outcome]
	ids     *idGenerator
	metrics *instruments

	// gate orders task spawning against Close.
	gate     sync.RWMutex
	closed   bool
	tasks    errgroup.Group
	inFlight atomic.Int64

	ctx     context.Context
	cancel  context.CancelFunc
	janitor sync.WaitGroup
}

// NewEngine builds an engine bound to the given resolver and starts the
// [JANITOR] when a prune interval is configured.
func NewEngine(resolver Resolver, opts ...Option) (*Engine, error) {
	if resolver == nil {
		return nil, errors.New("delivery engine: nil resolver")
	}

	e := &Engine{
		resolver:      resolver,
		policy:        DefaultPolicy(),
		clock:         realClock{},
		logger:        slog.Default(),
		meterProvider: otel.GetMeterProvider(),
		sendTimeout:   500 * time.Millisecond,
		pruneInterval: time.Minute,
		pendingTTL:    5 * time.Minute,
		settledSize:   4096,
		pending:       make(map[string]*PendingMessage),
		ids:           newIDGenerator(),
	}

	for _, opt := range opts {
		opt(e)
	}

	if err := e.policy.validate(); err != nil {
		return nil, err
	}

	settled, err := lru.New[string, Outcome](max(e.settledSize, 1))
	if err != nil {
		return nil, fmt.Errorf("delivery engine: settled cache: %w", err)
	}
	e.settled = settled

	if e.metrics, err = newInstruments(e.meterProvider); err != nil {
		return nil, fmt.Errorf("delivery engine: %w", err)
	}

	if e.maxInFlight > 0 {
		e.tasks.SetLimit(e.maxInFlight)
	}

	e.ctx, e.cancel = context.WithCancel(context.Background())

	if e.pruneInterval > 0 && e.pendingTTL > 0 {
		e.janitor.Add(1)
		go e.runJanitor()
	}

	return e, nil
}

// Enqueue assigns a message id to ev, encodes it and records it as pending.
// A retry task is started only when the receiver is connected right now; an
// offline receiver's entry waits for the [JANITOR] and is never replayed.
func (e *Engine) Enqueue(ctx context.Context, receiverID model.UserID, ev event.Outbound) (string, error) {
	e.gate.RLock()
	defer e.gate.RUnlock()
	if e.closed {
		return "", ErrClosed
	}

	now := e.clock.Now()
	id := e.ids.New(now)

	payload, err := event.Encode(ev, id)
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", ev.GetKind(), err)
	}

	pm := &PendingMessage{
		MessageID:         id,
		ReceiverID:        receiverID,
		Kind:              ev.GetKind(),
		Priority:          ev.GetPriority(),
		Payload:           payload,
		AttemptsRemaining: e.policy.MaxAttempts,
		CreatedAt:         now,
		settled:           make(chan struct{}),
	}

	_, online := e.resolver.Lookup(receiverID)
	if online {
		pm.Scheduled = true
		pm.NextRetryAt = now
	}

	e.mu.Lock()
	e.pending[id] = pm
	e.mu.Unlock()
	e.metrics.enqueued(ctx, pm)

	if !online {
		e.logger.Debug("DELIVERY_DEFERRED",
			slog.String("message_id", id),
			slog.Int64("receiver_id", int64(receiverID)),
			slog.String("kind", pm.Kind.String()),
		)
		return id, nil
	}

	e.inFlight.Add(1)
	e.tasks.Go(func() error {
		defer e.inFlight.Add(-1)
		e.retry(pm)
		return nil
	})

	return id, nil
}

// retry is the per-message task. pm's immutable fields are read freely;
// mutable ones are only touched under e.mu.
func (e *Engine) retry(pm *PendingMessage) {
	attempts := 0

	for k := 0; k < e.policy.MaxAttempts; k++ {
		conn, ok := e.resolver.Lookup(pm.ReceiverID)
		if !ok {
			e.settle(pm.MessageID, Abandoned, attempts, ErrReceiverGone)
			return
		}

		if err := conn.Send(pm.Payload, e.sendTimeout); err != nil {
			e.settle(pm.MessageID, Abandoned, attempts, fmt.Errorf("send attempt %d: %w", k+1, err))
			return
		}
		attempts++
		e.metrics.attempt(e.ctx, pm)

		wait := e.policy.Backoff(k)
		if !e.markAttempt(pm.MessageID, e.clock.Now().Add(wait)) {
			return
		}

		select {
		case <-e.clock.After(wait):
		case <-pm.settled:
			return
		case <-e.ctx.Done():
			e.settle(pm.MessageID, Cancelled, attempts, e.ctx.Err())
			return
		}

		// [ACK_CHECK] the ack may have landed exactly as the wait fired.
		if !e.isPending(pm.MessageID) {
			return
		}
	}

	e.settle(pm.MessageID, Exhausted, attempts, nil)
}

func (e *Engine) markAttempt(id string, next time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	pm, ok := e.pending[id]
	if !ok {
		return false
	}
	pm.AttemptsRemaining--
	pm.NextRetryAt = next
	return true
}

func (e *Engine) isPending(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.pending[id]
	return ok
}

// remove deletes the entry and wakes its retry task. Only the caller that
// actually removed the entry gets it back.
func (e *Engine) remove(id string) (*PendingMessage, bool) {
	e.mu.Lock()
	pm, ok := e.pending[id]
	if ok {
		delete(e.pending, id)
	}
	e.mu.Unlock()

	if ok {
		close(pm.settled)
	}
	return pm, ok
}

// settle removes the entry with the given outcome. A no-op when someone
// else settled it first.
func (e *Engine) settle(id string, outcome Outcome, attempts int, cause error) {
	pm, ok := e.remove(id)
	if !ok {
		return
	}
	e.finish(pm, outcome, attempts, cause)
}

func (e *Engine) finish(pm *PendingMessage, outcome Outcome, attempts int, cause error) {
	e.settled.Add(pm.MessageID, outcome)
	e.metrics.settled(context.Background(), pm, outcome)

	attrs := []any{
		slog.String("message_id", pm.MessageID),
		slog.Int64("receiver_id", int64(pm.ReceiverID)),
		slog.String("kind", pm.Kind.String()),
		slog.Int("attempts", attempts),
	}
	if cause != nil {
		attrs = append(attrs, slog.Any("err", cause))
	}

	switch outcome {
	case Acknowledged:
		e.logger.Debug("DELIVERY_ACKNOWLEDGED", attrs...)
	case Exhausted:
		e.logger.Info("DELIVERY_EXHAUSTED", attrs...)
	case Abandoned:
		e.logger.Warn("DELIVERY_ABANDONED", attrs...)
	case Pruned:
		e.logger.Debug("DELIVERY_PRUNED", attrs...)
	case Cancelled:
		e.logger.Debug("DELIVERY_CANCELLED", attrs...)
	}

	if e.onReport != nil {
		e.onReport(Report{
			MessageID:  pm.MessageID,
			ReceiverID: pm.ReceiverID,
			Kind:       pm.Kind,
			Outcome:    outcome,
			Attempts:   attempts,
			Err:        cause,
		})
	}
}

// Acknowledge clears a pending message. It reports whether an entry was
// removed; repeated or unknown acks are harmless.
func (e *Engine) Acknowledge(messageID string) bool {
	pm, ok := e.remove(messageID)
	if !ok {
		if outcome, seen := e.settled.Peek(messageID); seen {
			e.logger.Debug("ACK_LATE",
				slog.String("message_id", messageID),
				slog.String("outcome", outcome.String()),
			)
		} else {
			e.logger.Debug("ACK_UNKNOWN", slog.String("message_id", messageID))
		}
		return false
	}

	e.mu.Lock()
	attempts := e.policy.MaxAttempts - pm.AttemptsRemaining
	e.mu.Unlock()

	e.finish(pm, Acknowledged, attempts, nil)
	return true
}

// Pending returns a copy of the entry for messageID.
func (e *Engine) Pending(messageID string) (PendingMessage, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pm, ok := e.pending[messageID]
	if !ok {
		return PendingMessage{}, false
	}
	cp := *pm
	cp.Payload = append([]byte(nil), pm.Payload...)
	cp.settled = nil
	return cp, true
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	n := len(e.pending)
	e.mu.Unlock()

	return Stats{Pending: n, InFlight: e.inFlight.Load()}
}

// Prune drops unscheduled entries older than the pending TTL and returns
// how many were removed.
func (e *Engine) Prune(now time.Time) int {
	var stale []string

	e.mu.Lock()
	for id, pm := range e.pending {
		if !pm.Scheduled && now.Sub(pm.CreatedAt) >= e.pendingTTL {
			stale = append(stale, id)
		}
	}
	e.mu.Unlock()

	pruned := 0
	for _, id := range stale {
		if pm, ok := e.remove(id); ok {
			e.finish(pm, Pruned, 0, nil)
			pruned++
		}
	}
	return pruned
}

func (e *Engine) runJanitor() {
	defer e.janitor.Done()

	ticker := time.NewTicker(e.pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			if n := e.Prune(e.clock.Now()); n > 0 {
				e.logger.Debug("JANITOR_SWEEP", slog.Int("pruned", n))
			}
		}
	}
}

// Wait blocks until every retry task started so far has finished. It must
// not race with Enqueue.
func (e *Engine) Wait() {
	_ = e.tasks.Wait()
}

// Close stops accepting new messages, cancels every backoff wait and blocks
// until all retry tasks and the janitor have exited.
func (e *Engine) Close() {
	e.cancel()

	e.gate.Lock()
	if e.closed {
		e.gate.Unlock()
		return
	}
	e.closed = true
	e.gate.Unlock()

	_ = e.tasks.Wait()
	e.janitor.Wait()
}
