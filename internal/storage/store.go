// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides durable room and message persistence for echo.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jeranaias/echo/internal/model"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

var (
	// ErrDatabase wraps failures reported by SQLite itself.
	ErrDatabase = errors.New("database error")

	// ErrClosed is returned by every method after Close.
	ErrClosed = errors.New("store is closed")
)

// Store is the SQLite-backed persistence layer. All writes are durable
// before the call returns: WAL journal with synchronous=FULL and no
// write-back caching. A single connection serializes writers, so the
// per-room sequence assignment in AppendMessage cannot race.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// Open opens (creating if needed) the database at path. The special path
// ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, &model.ValidationError{Field: "path", Message: "database path must not be empty"}
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time; one connection also keeps
	// an in-memory database alive for the life of the store.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{
		db:     db,
		path:   path,
		logger: slog.Default(),
		now:    time.Now,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// connPragmas are applied by the driver to every connection it opens.
var connPragmas = []string{
	"journal_mode(WAL)",
	"synchronous(FULL)",
	"foreign_keys(1)",
	"busy_timeout(5000)",
}

// dsn appends connPragmas to path as _pragma query parameters.
func dsn(path string) string {
	q := make(url.Values)
	for _, p := range connPragmas {
		q.Add("_pragma", p)
	}
	return path + "?" + q.Encode()
}

// WithLogger sets the logger used for store diagnostics.
func (s *Store) WithLogger(logger *slog.Logger) *Store {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// Path returns the database location.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) initSchema() error {
	if _, err := s.db.Exec(Schema); err != nil {
		return err
	}
	if _, err := s.db.Exec(InitMetadata); err != nil {
		return err
	}

	var version int
	if err := s.db.QueryRow("SELECT CAST(value AS INTEGER) FROM metadata WHERE key = 'schema_version'").Scan(&version); err != nil {
		return err
	}
	if version > SchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, SchemaVersion)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// dbErr classifies a driver error.
func dbErr(op string, err error) error {
	if errors.Is(err, sql.ErrConnDone) || (err != nil && strings.Contains(err.Error(), "database is closed")) {
		return fmt.Errorf("%s: %w", op, ErrClosed)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrDatabase, err)
}

// =============================================================================
// ROOMS
// =============================================================================

// CreateRoom persists a new room with a fresh identifier.
func (s *Store) CreateRoom(ctx context.Context, name string) (model.Room, error) {
	name, err := model.NormalizeRoomName(name)
	if err != nil {
		return model.Room{}, err
	}

	room := model.Room{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: s.now().UTC(),
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO chat_rooms (id, name, created_at) VALUES (?, ?, ?)",
		room.ID, room.Name, room.CreatedAt.UnixNano())
	if err != nil {
		return model.Room{}, dbErr("create room", err)
	}

	s.logger.Debug("room created", slog.String("room_id", room.ID))
	return room, nil
}

// GetRoom returns the room with the given id.
func (s *Store) GetRoom(ctx context.Context, id string) (model.Room, error) {
	var (
		room    model.Room
		created int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, created_at FROM chat_rooms WHERE id = ?", id).
		Scan(&room.ID, &room.Name, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Room{}, model.RoomNotFound(id)
	}
	if err != nil {
		return model.Room{}, dbErr("get room", err)
	}
	room.CreatedAt = time.Unix(0, created).UTC()
	return room, nil
}

// RenameRoom changes a room's display name.
func (s *Store) RenameRoom(ctx context.Context, id, name string) (model.Room, error) {
	name, err := model.NormalizeRoomName(name)
	if err != nil {
		return model.Room{}, err
	}

	res, err := s.db.ExecContext(ctx, "UPDATE chat_rooms SET name = ? WHERE id = ?", name, id)
	if err != nil {
		return model.Room{}, dbErr("rename room", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Room{}, model.RoomNotFound(id)
	}
	return s.GetRoom(ctx, id)
}

// ListRooms returns every room, newest first.
func (s *Store) ListRooms(ctx context.Context) ([]model.Room, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, created_at FROM chat_rooms ORDER BY created_at DESC, rowid DESC")
	if err != nil {
		return nil, dbErr("list rooms", err)
	}
	defer rows.Close()

	rooms := []model.Room{}
	for rows.Next() {
		var (
			room    model.Room
			created int64
		)
		if err := rows.Scan(&room.ID, &room.Name, &created); err != nil {
			return nil, dbErr("list rooms", err)
		}
		room.CreatedAt = time.Unix(0, created).UTC()
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("list rooms", err)
	}
	return rooms, nil
}

// DeleteRoom removes a room and all of its messages in one transaction.
// Deleting a missing room is a no-op; the result reports whether a room
// was removed.
func (s *Store) DeleteRoom(ctx context.Context, id string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, dbErr("delete room", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE room_id = ?", id); err != nil {
		return false, dbErr("delete room", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM chat_rooms WHERE id = ?", id)
	if err != nil {
		return false, dbErr("delete room", err)
	}
	n, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return false, dbErr("delete room", err)
	}

	if n > 0 {
		s.logger.Debug("room deleted", slog.String("room_id", id))
	}
	return n > 0, nil
}

// =============================================================================
// MESSAGES
// =============================================================================

// AppendMessage stores a message at the next sequence position of the
// room. Assistant messages must have visible content.
func (s *Store) AppendMessage(ctx context.Context, roomID string, role model.Role, content, modelID string) (model.Message, error) {
	if !role.Valid() {
		return model.Message{}, &model.ValidationError{Field: "role", Message: fmt.Sprintf("unknown role '%s'", role)}
	}
	if role == model.RoleAssistant && strings.TrimSpace(content) == "" {
		return model.Message{}, &model.ValidationError{Field: "content", Message: "assistant message must not be empty"}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Message{}, dbErr("append message", err)
	}
	defer tx.Rollback()

	if err := roomExists(ctx, tx, roomID); err != nil {
		return model.Message{}, err
	}

	msg := model.Message{
		RoomID:    roomID,
		Role:      role,
		Content:   content,
		Model:     modelID,
		CreatedAt: s.now().UTC(),
	}

	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(sequence), 0) + 1 FROM messages WHERE room_id = ?", roomID).
		Scan(&msg.Sequence)
	if err != nil {
		return model.Message{}, dbErr("append message", err)
	}

	res, err := tx.ExecContext(ctx,
		"INSERT INTO messages (room_id, role, content, model, sequence, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		roomID, string(role), content, modelID, msg.Sequence, msg.CreatedAt.UnixNano())
	if err != nil {
		return model.Message{}, dbErr("append message", err)
	}
	if msg.ID, err = res.LastInsertId(); err != nil {
		return model.Message{}, dbErr("append message", err)
	}

	if err := tx.Commit(); err != nil {
		return model.Message{}, dbErr("append message", err)
	}
	return msg, nil
}

// ListMessages returns a room's messages in sequence order. A missing
// room is a NotFoundError, never an empty result.
func (s *Store) ListMessages(ctx context.Context, roomID string) ([]model.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, dbErr("list messages", err)
	}
	defer tx.Rollback()

	if err := roomExists(ctx, tx, roomID); err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx,
		"SELECT id, room_id, role, content, model, sequence, created_at FROM messages WHERE room_id = ? ORDER BY sequence ASC",
		roomID)
	if err != nil {
		return nil, dbErr("list messages", err)
	}
	defer rows.Close()

	msgs := []model.Message{}
	for rows.Next() {
		var (
			msg     model.Message
			role    string
			created int64
		)
		if err := rows.Scan(&msg.ID, &msg.RoomID, &role, &msg.Content, &msg.Model, &msg.Sequence, &created); err != nil {
			return nil, dbErr("list messages", err)
		}
		msg.Role = model.Role(role)
		msg.CreatedAt = time.Unix(0, created).UTC()
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("list messages", err)
	}
	return msgs, nil
}

// ClearMessages deletes every message of a room and keeps the room.
func (s *Store) ClearMessages(ctx context.Context, roomID string) error {
	_, err := s.deleteMessages(ctx, "clear messages", roomID, false)
	return err
}

// ClearConversation deletes the user and assistant messages of a room,
// keeping system prompts. It returns the number of messages removed.
func (s *Store) ClearConversation(ctx context.Context, roomID string) (int64, error) {
	return s.deleteMessages(ctx, "clear conversation", roomID, true)
}

func (s *Store) deleteMessages(ctx context.Context, op, roomID string, keepSystem bool) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, dbErr(op, err)
	}
	defer tx.Rollback()

	if err := roomExists(ctx, tx, roomID); err != nil {
		return 0, err
	}

	query := "DELETE FROM messages WHERE room_id = ?"
	if keepSystem {
		query += " AND role IN ('user', 'assistant')"
	}
	res, err := tx.ExecContext(ctx, query, roomID)
	if err != nil {
		return 0, dbErr(op, err)
	}
	n, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, dbErr(op, err)
	}
	return n, nil
}

// CountMessages returns the number of messages in a room.
func (s *Store) CountMessages(ctx context.Context, roomID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT CASE WHEN EXISTS (SELECT 1 FROM chat_rooms WHERE id = ?1)
		        THEN (SELECT COUNT(*) FROM messages WHERE room_id = ?1)
		        ELSE -1 END`, roomID).Scan(&count)
	if err != nil {
		return 0, dbErr("count messages", err)
	}
	if count < 0 {
		return 0, model.RoomNotFound(roomID)
	}
	return count, nil
}

func roomExists(ctx context.Context, tx *sql.Tx, roomID string) error {
	var one int
	err := tx.QueryRowContext(ctx, "SELECT 1 FROM chat_rooms WHERE id = ?", roomID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return model.RoomNotFound(roomID)
	}
	if err != nil {
		return dbErr("lookup room", err)
	}
	return nil
}
