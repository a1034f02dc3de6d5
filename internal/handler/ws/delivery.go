package ws

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/webitel/im-relay-service/config"
	"github.com/webitel/im-relay-service/internal/domain/model"
	"github.com/webitel/im-relay-service/internal/domain/registry"
	"github.com/webitel/im-relay-service/internal/service"
)

const (
	// IdleCloseReason tells clients the session ended because they went quiet.
	IdleCloseReason      = "Ping timeout"
	DuplicateCloseReason = "already connected"
	ShutdownCloseReason  = "server shutdown"

	controlWriteWait = time.Second
)

type closeReason struct {
	code int
	text string
}

type WSHandler struct {
	logger    *slog.Logger
	deliverer service.Deliverer
	upgrader  websocket.Upgrader

	idleTimeout   time.Duration
	writeTimeout  time.Duration
	maxFrameBytes int64
}

func NewWSHandler(logger *slog.Logger, deliverer service.Deliverer, cfg *config.Config) *WSHandler {
	return &WSHandler{
		logger:    logger,
		deliverer: deliverer,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // Security: adjust for production
		},
		idleTimeout:   cfg.WS.IdleTimeout,
		writeTimeout:  cfg.WS.WriteTimeout,
		maxFrameBytes: cfg.WS.MaxFrameBytes,
	}
}

// Register mounts the websocket endpoint.
func (h *WSHandler) Register(r chi.Router) {
	r.Get("/ws/{userID}", h.ServeHTTP)
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 1. EXTRACT USER ID
	userID, err := model.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	// 2. UPGRADE TO WEBSOCKET
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WS_UPGRADE_FAILED", "user_id", userID, "err", err)
		return
	}
	defer ws.Close()

	l := h.logger.With(
		slog.Int64("user_id", int64(userID)),
		slog.String("session_id", uuid.NewString()),
	)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// 3. SUBSCRIBE
	conn, err := h.deliverer.Subscribe(ctx, userID, registry.WithMetadata(registry.ConnectMetadata{
		RemoteIP:  r.RemoteAddr,
		UserAgent: r.UserAgent(),
	}))
	if errors.Is(err, service.ErrAlreadyConnected) {
		// [DUPLICATE_SESSION] the live session stays; this one never ran presence, so no cleanup
		writeClose(ws, closeReason{websocket.ClosePolicyViolation, DuplicateCloseReason})
		return
	}
	if err != nil {
		l.Error("WS_SUBSCRIBE_FAILED", "err", err)
		writeClose(ws, closeReason{websocket.CloseInternalServerErr, "subscribe failed"})
		return
	}

	defer func() {
		// [CLEANUP] presence writes must outlive the request context
		h.deliverer.Unsubscribe(context.WithoutCancel(ctx), userID)
		l.Info("WS_CLOSED", "conn_id", conn.GetID())
	}()

	l.Info("WS_OPENED", "conn_id", conn.GetID())

	// 4. PUMPS: one writer drains the connector, the reader feeds the router
	readerDone := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writePump(ws, conn, readerDone, l)
	}()

	reason := h.readLoop(ctx, ws, conn, l)

	close(readerDone)
	conn.Close()
	<-writerDone

	if reason.code != 0 {
		writeClose(ws, reason)
	}
}

func (h *WSHandler) readLoop(ctx context.Context, ws *websocket.Conn, conn registry.Connector, l *slog.Logger) closeReason {
	ws.SetReadLimit(h.maxFrameBytes)

	for {
		_ = ws.SetReadDeadline(time.Now().Add(h.idleTimeout))

		_, frame, err := ws.ReadMessage()
		if err != nil {
			switch {
			case isTimeout(err):
				l.Info("WS_IDLE_TIMEOUT", "idle", h.idleTimeout)
				return closeReason{websocket.CloseGoingAway, IdleCloseReason}
			case errors.Is(err, websocket.ErrReadLimit):
				// the library already answered with 1009
				l.Warn("WS_FRAME_TOO_LARGE", "limit", h.maxFrameBytes)
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
				l.Debug("WS_CLOSED_BY_CLIENT")
			default:
				l.Debug("WS_READ_FAILED", "err", err)
			}
			return closeReason{}
		}

		h.deliverer.Dispatch(ctx, conn, frame)
	}
}

func (h *WSHandler) writePump(ws *websocket.Conn, conn registry.Connector, readerDone <-chan struct{}, l *slog.Logger) {
	for {
		select {
		case frame := <-conn.Recv():
			_ = ws.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				l.Warn("WS_WRITE_FAILED", "err", err)
				conn.Close()
				_ = ws.Close() // unblocks the reader
				return
			}

		case <-readerDone:
			return

		case <-conn.Done():
			select {
			case <-readerDone:
				return
			default:
			}
			// closed from outside the session, e.g. hub shutdown
			writeClose(ws, closeReason{websocket.CloseGoingAway, ShutdownCloseReason})
			_ = ws.Close()
			return
		}
	}
}

func writeClose(ws *websocket.Conn, reason closeReason) {
	msg := websocket.FormatCloseMessage(reason.code, reason.text)
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(controlWriteWait))
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
