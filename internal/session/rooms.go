// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"log/slog"

	"github.com/jeranaias/echo/internal/model"
)

// =============================================================================
// ROOM LIFECYCLE
// =============================================================================

// CreateRoom creates a room, seeds the configured system prompt and makes
// it the active room.
func (m *Manager) CreateRoom(ctx context.Context, name string) (model.Room, error) {
	room, err := m.store.CreateRoom(ctx, name)
	if err != nil {
		return model.Room{}, err
	}

	if m.cfg.SystemPrompt != "" {
		if _, err := m.store.AppendMessage(ctx, room.ID, model.RoleSystem, m.cfg.SystemPrompt, ""); err != nil {
			// Leave no half-initialized room behind.
			if _, derr := m.store.DeleteRoom(context.WithoutCancel(ctx), room.ID); derr != nil {
				m.logger.Error("failed to remove room after seeding error",
					slog.String("room", room.ID),
					slog.String("error", derr.Error()))
			}
			return model.Room{}, err
		}
	}

	m.mu.Lock()
	m.active = room.ID
	m.mu.Unlock()

	m.logger.Info("room created", slog.String("room", room.ID), slog.String("name", room.Name))
	return room, nil
}

// ListRooms returns every room, newest first.
func (m *Manager) ListRooms(ctx context.Context) ([]model.Room, error) {
	return m.store.ListRooms(ctx)
}

// RenameRoom changes a room's display name.
func (m *Manager) RenameRoom(ctx context.Context, id, name string) (model.Room, error) {
	return m.store.RenameRoom(ctx, id, name)
}

// SelectRoom makes an existing room the active room.
func (m *Manager) SelectRoom(ctx context.Context, id string) (model.Room, error) {
	room, err := m.store.GetRoom(ctx, id)
	if err != nil {
		return model.Room{}, err
	}
	m.mu.Lock()
	m.active = room.ID
	m.mu.Unlock()
	return room, nil
}

// ActiveRoom returns the id of the active room, if one is selected.
func (m *Manager) ActiveRoom() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active, m.active != ""
}

// DeleteRoom deletes a room and its messages. Any in-flight request for
// the room is canceled and its reply discarded. Deleting a missing room
// is a no-op and reports false.
func (m *Manager) DeleteRoom(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	if rs, ok := m.rooms[id]; ok {
		if rs.cancel != nil {
			rs.cancel()
		}
		delete(m.rooms, id)
	}
	if m.active == id {
		m.active = ""
	}
	m.mu.Unlock()

	deleted, err := m.store.DeleteRoom(ctx, id)
	if err != nil {
		return false, err
	}
	if deleted {
		m.logger.Info("room deleted", slog.String("room", id))
	}
	return deleted, nil
}

// ClearRoom deletes a room's messages. With all unset the system prompt
// is kept. The room must be Idle; while the clear runs it reports
// Committing and other requests for it get a ConflictError.
func (m *Manager) ClearRoom(ctx context.Context, id string, all bool) (int64, error) {
	m.mu.Lock()
	if rs, busy := m.rooms[id]; busy {
		m.mu.Unlock()
		return 0, &ConflictError{RoomID: id, State: rs.state}
	}
	rs := &roomState{state: Committing}
	m.rooms[id] = rs
	m.mu.Unlock()
	defer m.release(id, rs)

	if !all {
		return m.store.ClearConversation(ctx, id)
	}
	msgs, err := m.store.ListMessages(ctx, id)
	if err != nil {
		return 0, err
	}
	if err := m.store.ClearMessages(ctx, id); err != nil {
		return 0, err
	}
	return int64(len(msgs)), nil
}

// History returns the room's messages in sequence order.
func (m *Manager) History(ctx context.Context, id string) ([]model.Message, error) {
	return m.store.ListMessages(ctx, id)
}
