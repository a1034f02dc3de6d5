package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/webitel/im-relay-service/config"
	"github.com/webitel/im-relay-service/internal/domain/delivery"
	"github.com/webitel/im-relay-service/internal/domain/event"
	"github.com/webitel/im-relay-service/internal/domain/model"
	"github.com/webitel/im-relay-service/internal/domain/registry"
)

type statusCall struct {
	UserID model.UserID
	Status model.Status
}

type memStorage struct {
	mu        sync.Mutex
	chats     []model.PersistedChat
	statuses  []statusCall
	chatErr   error
	statusErr error
}

func (m *memStorage) InsertChat(_ context.Context, rec model.ChatRecord) (*model.PersistedChat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.chatErr != nil {
		return nil, m.chatErr
	}
	chat := model.PersistedChat{
		ID:         int64(len(m.chats) + 1),
		SenderID:   rec.SenderID,
		ReceiverID: rec.ReceiverID,
		Message:    rec.Message,
		UUID:       rec.UUID,
		Image:      rec.Image,
		Status:     rec.Status,
		CreatedAt:  rec.CreatedAt,
	}
	m.chats = append(m.chats, chat)
	return &chat, nil
}

func (m *memStorage) UpdateStatus(_ context.Context, userID model.UserID, status model.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.statuses = append(m.statuses, statusCall{userID, status})
	return m.statusErr
}

func (m *memStorage) Chats() []model.PersistedChat {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.PersistedChat(nil), m.chats...)
}

func (m *memStorage) Statuses() []statusCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]statusCall(nil), m.statuses...)
}

type memFiles struct {
	mu    sync.Mutex
	saved map[string][]byte
}

func (f *memFiles) Save(_ context.Context, name string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.saved == nil {
		f.saved = make(map[string][]byte)
	}
	ref := fmt.Sprintf("20240501_120000_%08x%s", len(f.saved), filepath.Ext(name))
	f.saved[ref] = data
	return ref, nil
}

type recordingExporter struct {
	mu     sync.Mutex
	events []event.Exportable
	err    error
}

func (e *recordingExporter) Publish(_ context.Context, ev event.Exportable) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.events = append(e.events, ev)
	return e.err
}

func (e *recordingExporter) Keys() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	keys := make([]string, 0, len(e.events))
	for _, ev := range e.events {
		keys = append(keys, ev.GetRoutingKey())
	}
	return keys
}

type harness struct {
	hub      *registry.Hub
	engine   *delivery.Engine
	store    *memStorage
	files    *memFiles
	exporter *recordingExporter
	presence *Presence
	router   *Router
	svc      *DeliveryService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := registry.NewHub()

	// a long base interval keeps retries out of the way; only first attempts are observed
	engine, err := delivery.NewEngine(hub,
		delivery.WithPolicy(delivery.Policy{MaxAttempts: 5, BaseInterval: time.Minute}),
		delivery.WithPruneInterval(0),
		delivery.WithLogger(logger),
	)
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	h := &harness{
		hub:      hub,
		engine:   engine,
		store:    &memStorage{},
		files:    &memFiles{},
		exporter: &recordingExporter{},
	}
	h.presence = NewPresence(hub, engine, h.store, h.exporter, logger)
	h.router = NewRouter(engine, h.store, h.files, h.exporter, logger)
	h.svc = NewDeliveryService(hub, h.presence, h.router, engine, &config.Config{WS: config.WSConfig{BufferSize: 64}}, logger)

	return h
}

// connect registers a connection without going through presence.
func (h *harness) connect(t *testing.T, userID model.UserID) registry.Connector {
	t.Helper()
	conn := registry.NewConnector(context.Background(), userID, 64)
	t.Cleanup(conn.Close)
	require.True(t, h.hub.Register(conn))
	return conn
}

func expectFrame(t *testing.T, conn registry.Connector) []byte {
	t.Helper()
	select {
	case frame := <-conn.Recv():
		return frame
	case <-time.After(time.Second):
		t.Fatalf("user %d received nothing", conn.GetUserID())
		return nil
	}
}

func expectNoFrame(t *testing.T, conn registry.Connector) {
	t.Helper()
	select {
	case frame := <-conn.Recv():
		t.Fatalf("user %d received unexpected frame %s", conn.GetUserID(), frame)
	case <-time.After(50 * time.Millisecond):
	}
}
