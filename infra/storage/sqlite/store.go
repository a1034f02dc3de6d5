// Package sqlite persists chats and user presence in SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/webitel/im-relay-service/infra/storage/sqlite/migrations"
	"github.com/webitel/im-relay-service/internal/domain/model"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrDuplicateChat = errors.New("chat uuid already stored")
	ErrDuplicateUser = errors.New("user name already taken")
)

const pragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"

// Store persists relay state in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens the database at dsn (a file path, optionally with query
// parameters) and applies embedded migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("storage dsn is required")
	}
	if !strings.Contains(dsn, "?") {
		dsn += "?" + pragmas
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// [SINGLE_WRITER] SQLite serializes writers anyway; one handle avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InsertChat stores one chat and returns the persisted row.
func (s *Store) InsertChat(ctx context.Context, rec model.ChatRecord) (*model.PersistedChat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(rec.UUID) == "" {
		return nil, errors.New("chat uuid is required")
	}
	status := rec.Status
	if status == "" {
		status = model.ChatStatusSent
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO chats (sender_id, receiver_id, message, uuid, image, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(rec.SenderID),
		int64(rec.ReceiverID),
		nullString(rec.Message),
		rec.UUID,
		nullString(rec.Image),
		status,
		rec.CreatedAt,
		time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateChat, rec.UUID)
		}
		return nil, fmt.Errorf("insert chat: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert chat: last id: %w", err)
	}

	return &model.PersistedChat{
		ID:         id,
		SenderID:   rec.SenderID,
		ReceiverID: rec.ReceiverID,
		Message:    rec.Message,
		UUID:       rec.UUID,
		Image:      rec.Image,
		Status:     status,
		CreatedAt:  rec.CreatedAt,
	}, nil
}

// GetChat loads a chat by its client uuid.
func (s *Store) GetChat(ctx context.Context, uuid string) (*model.PersistedChat, error) {
	var (
		chat           model.PersistedChat
		sender, recv   int64
		message, image sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, sender_id, receiver_id, message, uuid, image, status, created_at
		 FROM chats WHERE uuid = ?`, uuid,
	).Scan(&chat.ID, &sender, &recv, &message, &chat.UUID, &image, &chat.Status, &chat.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("chat %s: %w", uuid, sql.ErrNoRows)
	}
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}

	chat.SenderID = model.UserID(sender)
	chat.ReceiverID = model.UserID(recv)
	chat.Message = fromNullString(message)
	chat.Image = fromNullString(image)
	return &chat, nil
}

// UpdateStatus sets the presence status of an existing user.
func (s *Store) UpdateStatus(ctx context.Context, userID model.UserID, status model.Status) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC().UnixMilli(), int64(userID),
	)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update status: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("user %d: %w", userID, ErrUserNotFound)
	}
	return nil
}

// CreateUser inserts a user with the default Offline status.
func (s *Store) CreateUser(ctx context.Context, name string) (model.UserID, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, errors.New("user name is required")
	}
	now := time.Now().UTC().UnixMilli()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (user_name, created_at, updated_at) VALUES (?, ?, ?)`,
		name, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %s", ErrDuplicateUser, name)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create user: last id: %w", err)
	}
	return model.UserID(id), nil
}

func (s *Store) GetStatus(ctx context.Context, userID model.UserID) (model.Status, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM users WHERE id = ?`, int64(userID)).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("user %d: %w", userID, ErrUserNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get status: %w", err)
	}
	return model.Status(status), nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
