// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for rooms and messages.
package model

import (
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Valid reports whether r is one of the persisted roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// ParseRole converts s to a Role, returning a ValidationError for unknown roles.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", &ValidationError{Field: "role", Message: "unknown role '" + s + "'"}
	}
	return r, nil
}

// =============================================================================
// ROOM TYPE
// =============================================================================

// MaxRoomNameRunes bounds room names.
const MaxRoomNameRunes = 200

// Room is an independent, named conversation thread.
type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// NormalizeRoomName trims and NFC-normalizes name and validates it.
func NormalizeRoomName(name string) (string, error) {
	name = norm.NFC.String(strings.TrimSpace(name))
	if name == "" {
		return "", &ValidationError{Field: "name", Message: "room name must not be empty"}
	}
	if utf8.RuneCountInString(name) > MaxRoomNameRunes {
		return "", &ValidationError{Field: "name", Message: "room name is too long"}
	}
	if strings.ContainsAny(name, "\n\r\x00") {
		return "", &ValidationError{Field: "name", Message: "room name must be a single line"}
	}
	return name, nil
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message is one persisted entry in a room's history.
type Message struct {
	ID     int64  `json:"id"`
	RoomID string `json:"room_id"`
	Role   Role   `json:"role"`

	Content string `json:"content"`

	// Model is the identifier of the model that produced an assistant reply.
	Model string `json:"model,omitempty"`

	// Sequence orders messages within a room, starting at 1.
	Sequence  int64     `json:"sequence"`
	CreatedAt time.Time `json:"created_at"`
}

// IsBlank reports whether the message has no visible content.
func (m Message) IsBlank() bool {
	return strings.TrimSpace(m.Content) == ""
}
