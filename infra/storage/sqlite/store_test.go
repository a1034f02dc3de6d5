package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webitel/im-relay-service/internal/domain/model"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func ptr(s string) *string { return &s }

func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open(context.Background(), "  ")
	assert.Error(t, err)
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.db")

	first, err := Open(context.Background(), path)
	require.NoError(t, err)
	id, err := first.CreateUser(context.Background(), "ada")
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(context.Background(), path)
	require.NoError(t, err)
	defer second.Close()

	status, err := second.GetStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusOffline, status)
}

func TestInsertChatRoundTrip(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	chat, err := store.InsertChat(ctx, model.ChatRecord{
		SenderID:   1,
		ReceiverID: 2,
		Message:    ptr("hi"),
		UUID:       "abc",
		Status:     model.ChatStatusSent,
		CreatedAt:  "2024-05-01T12:00:00Z",
	})
	require.NoError(t, err)
	assert.Positive(t, chat.ID)

	got, err := store.GetChat(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, chat, got)
	assert.Nil(t, got.Image)
}

func TestInsertChatKeepsNullMessage(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	_, err := store.InsertChat(ctx, model.ChatRecord{
		SenderID:   1,
		ReceiverID: 2,
		UUID:       "img",
		Image:      ptr("20240501_120000_0a1b2c3d.png"),
		CreatedAt:  "t0",
	})
	require.NoError(t, err)

	got, err := store.GetChat(ctx, "img")
	require.NoError(t, err)
	assert.Nil(t, got.Message)
	require.NotNil(t, got.Image)
	assert.Equal(t, model.ChatStatusSent, got.Status)
}

func TestInsertChatRejectsDuplicateUUID(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	rec := model.ChatRecord{SenderID: 1, ReceiverID: 2, Message: ptr("x"), UUID: "dup", CreatedAt: "t0"}

	_, err := store.InsertChat(ctx, rec)
	require.NoError(t, err)

	_, err = store.InsertChat(ctx, rec)
	assert.ErrorIs(t, err, ErrDuplicateChat)
}

func TestUpdateStatus(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	id, err := store.CreateUser(ctx, "grace")
	require.NoError(t, err)

	require.NoError(t, store.UpdateStatus(ctx, id, model.StatusOnline))
	status, err := store.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusOnline, status)

	assert.ErrorIs(t, store.UpdateStatus(ctx, 999, model.StatusOnline), ErrUserNotFound)

	_, err = store.CreateUser(ctx, "grace")
	assert.ErrorIs(t, err, ErrDuplicateUser)
}

func TestConcurrentInserts(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.InsertChat(ctx, model.ChatRecord{
				SenderID:   1,
				ReceiverID: 2,
				Message:    ptr("m"),
				UUID:       "u-" + string(rune('a'+i)),
				CreatedAt:  "t0",
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
}

func TestUpSection(t *testing.T) {
	assert.Equal(t, "\nCREATE x;\n", upSection("-- +migrate Up\nCREATE x;\n-- +migrate Down\nDROP x;"))
	assert.Equal(t, "CREATE y;", upSection("CREATE y;"))
}

func TestApplyMigrationsSkipsApplied(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	fsys := fstest.MapFS{
		"0002_extra.sql": {Data: []byte("-- +migrate Up\nCREATE TABLE extra (id INTEGER);\n")},
	}
	require.NoError(t, applyMigrations(ctx, store.db, fsys))
	require.NoError(t, applyMigrations(ctx, store.db, fsys), "second run must not recreate the table")
}
