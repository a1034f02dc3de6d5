package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/webitel/im-relay-service/config"
	"github.com/webitel/im-relay-service/internal/domain/model"
	"github.com/webitel/im-relay-service/internal/domain/registry"
)

var ErrAlreadyConnected = errors.New("user already connected")

// [DELIVERY_SERVICE] PRIMARY INTERFACE FOR TRANSPORT HANDLERS
type Deliverer interface {
	Subscribe(ctx context.Context, userID model.UserID, opts ...registry.ConnectOption) (registry.Connector, error)
	Unsubscribe(ctx context.Context, userID model.UserID)
	Dispatch(ctx context.Context, conn registry.Connector, frame []byte) Result
	Stats() model.HubStats
}

var _ Deliverer = (*DeliveryService)(nil)

type DeliveryService struct {
	hub        registry.Hubber
	presence   *Presence
	router     *Router
	courier    Courier
	logger     *slog.Logger
	bufferSize int
	startedAt  time.Time
}

func NewDeliveryService(hub registry.Hubber, presence *Presence, router *Router, courier Courier, cfg *config.Config, logger *slog.Logger) *DeliveryService {
	return &DeliveryService{
		hub:        hub,
		presence:   presence,
		router:     router,
		courier:    courier,
		logger:     logger,
		bufferSize: cfg.WS.BufferSize,
		startedAt:  time.Now(),
	}
}

// [SUBSCRIBE] HANDLES CONNECTION LIFECYCLE INITIATION
// The returned connector lives as long as ctx. A duplicate session gets
// ErrAlreadyConnected and leaves the existing one untouched.
func (s *DeliveryService) Subscribe(ctx context.Context, userID model.UserID, opts ...registry.ConnectOption) (registry.Connector, error) {
	conn := registry.NewConnector(ctx, userID, s.bufferSize, opts...)

	if !s.presence.OnConnect(ctx, conn) {
		conn.Close()
		return nil, ErrAlreadyConnected
	}

	s.logger.Info("SESSION_OPENED",
		"user_id", userID,
		"conn_id", conn.GetID(),
		"remote_ip", conn.Metadata().RemoteIP,
	)
	return conn, nil
}

// [UNSUBSCRIBE] TRIGGERS CLEANUP AND THE OFFLINE BROADCAST
func (s *DeliveryService) Unsubscribe(ctx context.Context, userID model.UserID) {
	s.presence.OnDisconnect(ctx, userID)
	s.logger.Info("SESSION_CLOSED", "user_id", userID)
}

func (s *DeliveryService) Dispatch(ctx context.Context, conn registry.Connector, frame []byte) Result {
	res := s.router.Dispatch(ctx, conn, frame)
	if res.Err != nil {
		s.logger.Warn("EVENT_DROPPED",
			"user_id", conn.GetUserID(),
			"kind", res.Kind,
			"err", res.Err,
		)
	}
	return res
}

func (s *DeliveryService) Stats() model.HubStats {
	st := s.courier.Stats()
	return model.HubStats{
		OnlineUsers:     s.hub.Len(),
		PendingMessages: st.Pending,
		InFlightTasks:   st.InFlight,
		Uptime:          time.Since(s.startedAt),
	}
}
