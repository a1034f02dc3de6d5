package ws

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/webitel/im-relay-service/config"
	"github.com/webitel/im-relay-service/internal/domain/delivery"
	"github.com/webitel/im-relay-service/internal/domain/model"
	"github.com/webitel/im-relay-service/internal/domain/registry"
	"github.com/webitel/im-relay-service/internal/service"
)

type memStore struct {
	mu    sync.Mutex
	chats int64
}

func (m *memStore) InsertChat(_ context.Context, rec model.ChatRecord) (*model.PersistedChat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chats++
	return &model.PersistedChat{
		ID:         m.chats,
		SenderID:   rec.SenderID,
		ReceiverID: rec.ReceiverID,
		Message:    rec.Message,
		UUID:       rec.UUID,
		Status:     rec.Status,
		CreatedAt:  rec.CreatedAt,
	}, nil
}

func (m *memStore) UpdateStatus(context.Context, model.UserID, model.Status) error { return nil }

type nopFiles struct{}

func (nopFiles) Save(context.Context, string, []byte) (string, error) { return "file.bin", nil }

type stack struct {
	hub *registry.Hub
	srv *httptest.Server
}

func newStack(t *testing.T, idle time.Duration) *stack {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := registry.NewHub()

	engine, err := delivery.NewEngine(hub,
		delivery.WithPolicy(delivery.Policy{MaxAttempts: 3, BaseInterval: time.Minute}),
		delivery.WithPruneInterval(0),
		delivery.WithLogger(logger),
	)
	require.NoError(t, err)

	cfg := &config.Config{WS: config.WSConfig{
		IdleTimeout:   idle,
		WriteTimeout:  time.Second,
		BufferSize:    16,
		MaxFrameBytes: 1 << 16,
	}}

	store := &memStore{}
	presence := service.NewPresence(hub, engine, store, nil, logger)
	router := service.NewRouter(engine, store, nopFiles{}, nil, logger)
	svc := service.NewDeliveryService(hub, presence, router, engine, cfg, logger)

	r := chi.NewRouter()
	NewWSHandler(logger, svc, cfg).Register(r)

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		engine.Close()
	})

	return &stack{hub: hub, srv: srv}
}

func (s *stack) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws/" + userID
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func read(t *testing.T, c *websocket.Conn) gjson.Result {
	t.Helper()

	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := c.ReadMessage()
	require.NoError(t, err)
	return gjson.ParseBytes(data)
}

func send(t *testing.T, c *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func TestWSHandler_ChatRoundTrip(t *testing.T) {
	s := newStack(t, 5*time.Second)

	alice := s.dial(t, "1")
	require.Eventually(t, func() bool { return s.hub.IsConnected(1) }, time.Second, 5*time.Millisecond)

	bob := s.dial(t, "2")

	// bob's arrival is announced to alice, which also proves he is registered
	status := read(t, alice)
	assert.Equal(t, "status", status.Get("type").String())
	assert.Equal(t, int64(2), status.Get("user_id").Int())
	assert.Equal(t, string(model.StatusOnline), status.Get("status").String())
	send(t, alice, `{"type":"ack","message_id":"`+status.Get("message_id").String()+`"}`)

	send(t, alice, `{"type":"chat","sender_id":1,"receiver_id":2,"message":"hi","uuid":"c-1","created_at":"t0"}`)

	chat := read(t, bob)
	assert.Equal(t, "chat", chat.Get("type").String())
	assert.Equal(t, "hi", chat.Get("message").String())
	assert.Equal(t, "c-1", chat.Get("uuid").String())
	assert.NotEmpty(t, chat.Get("message_id").String())

	update := read(t, alice)
	assert.Equal(t, "msg_update", update.Get("type").String())
	assert.Equal(t, "c-1", update.Get("uuid").String())
}

func TestWSHandler_Ping(t *testing.T) {
	s := newStack(t, 5*time.Second)
	c := s.dial(t, "7")

	send(t, c, `{"type":"ping"}`)
	pong := read(t, c)
	assert.Equal(t, "pong", pong.Get("type").String())
	assert.False(t, pong.Get("message_id").Exists())
}

func TestWSHandler_MalformedFrameKeepsSession(t *testing.T) {
	s := newStack(t, 5*time.Second)
	c := s.dial(t, "7")

	send(t, c, `{"type":`)
	send(t, c, `{"type":"dance"}`)
	send(t, c, `{"type":"ping"}`)

	assert.Equal(t, "pong", read(t, c).Get("type").String())
}

func TestWSHandler_DuplicateSession(t *testing.T) {
	s := newStack(t, 5*time.Second)

	first := s.dial(t, "3")
	require.Eventually(t, func() bool { return s.hub.IsConnected(3) }, time.Second, 5*time.Millisecond)

	second := s.dial(t, "3")
	require.NoError(t, second.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := second.ReadMessage()

	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, websocket.ClosePolicyViolation, ce.Code)
	assert.Equal(t, DuplicateCloseReason, ce.Text)

	// the original session is untouched
	assert.True(t, s.hub.IsConnected(3))
	send(t, first, `{"type":"ping"}`)
	assert.Equal(t, "pong", read(t, first).Get("type").String())
}

func TestWSHandler_IdleTimeout(t *testing.T) {
	s := newStack(t, 100*time.Millisecond)
	c := s.dial(t, "4")

	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := c.ReadMessage()

	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, websocket.CloseGoingAway, ce.Code)
	assert.Equal(t, IdleCloseReason, ce.Text)

	assert.Eventually(t, func() bool { return !s.hub.IsConnected(4) }, time.Second, 5*time.Millisecond)
}

func TestWSHandler_ClientCloseUnregisters(t *testing.T) {
	s := newStack(t, 5*time.Second)

	watcher := s.dial(t, "1")
	require.Eventually(t, func() bool { return s.hub.IsConnected(1) }, time.Second, 5*time.Millisecond)

	c := s.dial(t, "5")
	online := read(t, watcher)
	assert.Equal(t, string(model.StatusOnline), online.Get("status").String())

	require.NoError(t, c.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second)))

	offline := read(t, watcher)
	assert.Equal(t, int64(5), offline.Get("user_id").Int())
	assert.Equal(t, string(model.StatusOffline), offline.Get("status").String())
	assert.False(t, s.hub.IsConnected(5))
}

func TestWSHandler_InvalidUserID(t *testing.T) {
	s := newStack(t, time.Second)

	resp, err := http.Get(s.srv.URL + "/ws/abc")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
