package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/webitel/im-relay-service/internal/domain/event"
	"github.com/webitel/im-relay-service/internal/domain/model"
	"github.com/webitel/im-relay-service/internal/domain/registry"
)

// Presence turns connection lifecycle into persisted status and a single
// broadcast per transition.
type Presence struct {
	hub      registry.Hubber
	courier  Courier
	statuses StatusStore
	exporter EventExporter
	logger   *slog.Logger

	// locks serializes register/unregister with the status write and
	// broadcast that follow, per user.
	locks userLocks
}

func NewPresence(hub registry.Hubber, courier Courier, statuses StatusStore, exporter EventExporter, logger *slog.Logger) *Presence {
	return &Presence{
		hub:      hub,
		courier:  courier,
		statuses: statuses,
		exporter: exporter,
		logger:   logger,
		locks:    userLocks{held: make(map[model.UserID]*userLock)},
	}
}

// OnConnect registers conn and announces the user as Online. It returns
// false, doing nothing else, when the user already holds a connection.
func (p *Presence) OnConnect(ctx context.Context, conn registry.Connector) bool {
	unlock := p.locks.lock(conn.GetUserID())
	defer unlock()

	if !p.hub.Register(conn) {
		p.logger.Warn("DUPLICATE_CONNECTION",
			"user_id", conn.GetUserID(),
			"conn_id", conn.GetID(),
		)
		return false
	}

	p.transition(ctx, conn.GetUserID(), model.StatusOnline)
	return true
}

// OnDisconnect removes the user's connection and announces them as Offline.
// A reconnect waits until the Offline transition is persisted and broadcast.
func (p *Presence) OnDisconnect(ctx context.Context, userID model.UserID) {
	unlock := p.locks.lock(userID)
	defer unlock()

	p.hub.Unregister(userID)
	p.transition(ctx, userID, model.StatusOffline)
}

func (p *Presence) transition(ctx context.Context, userID model.UserID, status model.Status) {
	// [BEST_EFFORT] a failed status write must not block the broadcast
	if err := p.statuses.UpdateStatus(ctx, userID, status); err != nil {
		p.logger.Error("PRESENCE_PERSIST_FAILED",
			"user_id", userID,
			"status", status,
			"err", err,
		)
	}

	ev := &event.StatusChange{UserID: userID, Status: status}

	recipients := 0
	for _, peer := range p.hub.UserIDs() {
		if peer == userID {
			continue
		}
		if _, err := p.courier.Enqueue(ctx, peer, ev); err != nil {
			p.logger.Warn("PRESENCE_ENQUEUE_FAILED",
				"user_id", userID,
				"peer_id", peer,
				"err", err,
			)
			continue
		}
		recipients++
	}

	p.logger.Info("PRESENCE_CHANGED",
		"user_id", userID,
		"status", status,
		"recipients", recipients,
	)

	export(ctx, p.exporter, p.logger, event.NewPresenceChanged(userID, status))
}

func export(ctx context.Context, exporter EventExporter, logger *slog.Logger, ev event.Exportable) {
	if exporter == nil {
		return
	}
	if err := exporter.Publish(ctx, ev); err != nil {
		logger.Warn("EVENT_EXPORT_FAILED",
			"routing_key", ev.GetRoutingKey(),
			"err", err,
		)
	}
}

// userLocks hands out one mutex per user, dropped once nobody holds or
// waits on it.
type userLocks struct {
	mu   sync.Mutex
	held map[model.UserID]*userLock
}

type userLock struct {
	sync.Mutex
	refs int
}

func (l *userLocks) lock(userID model.UserID) (unlock func()) {
	l.mu.Lock()
	ul, ok := l.held[userID]
	if !ok {
		ul = &userLock{}
		l.held[userID] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.Lock()

	return func() {
		ul.Unlock()

		l.mu.Lock()
		if ul.refs--; ul.refs == 0 {
			delete(l.held, userID)
		}
		l.mu.Unlock()
	}
}
