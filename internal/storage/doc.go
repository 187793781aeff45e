// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides durable room and message persistence for echo.
//
// Rooms and messages live in a single SQLite database (pure Go driver,
// no cgo). Every mutating call commits before returning.
//
// # Key Types
//
//   - Store: SQLite-backed room and message store
//
// # Usage
//
//	store, err := storage.Open(path)
//	room, err := store.CreateRoom(ctx, "demo")
//	msg, err := store.AppendMessage(ctx, room.ID, model.RoleUser, "hi", "")
//	history, err := store.ListMessages(ctx, room.ID)
//
// Reads and clears on a missing room return a model.NotFoundError;
// DeleteRoom on a missing room is a no-op.
package storage
