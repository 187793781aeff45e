// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

const (
	// SchemaVersion tracks the database schema version for migrations
	SchemaVersion = 1
)

// Schema is the SQLite schema for rooms and their messages.
const Schema = `
-- Metadata table for schema version
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
) WITHOUT ROWID;

-- Rooms: one row per conversation thread
CREATE TABLE IF NOT EXISTS chat_rooms (
    id TEXT PRIMARY KEY,             -- UUID, never reused
    name TEXT NOT NULL CHECK (length(name) > 0),
    created_at INTEGER NOT NULL      -- Unix nanoseconds
);

CREATE INDEX IF NOT EXISTS idx_chat_rooms_created_at ON chat_rooms(created_at);

-- Messages: ordered by sequence within a room
CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    room_id TEXT NOT NULL,
    role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'system')),
    content TEXT NOT NULL,
    model TEXT NOT NULL DEFAULT '',  -- Model that produced an assistant reply
    sequence INTEGER NOT NULL,
    created_at INTEGER NOT NULL,     -- Unix nanoseconds
    UNIQUE(room_id, sequence),
    FOREIGN KEY(room_id) REFERENCES chat_rooms(id) ON DELETE CASCADE
);
`

// InitMetadata seeds the metadata table.
const InitMetadata = `
INSERT OR IGNORE INTO metadata (key, value) VALUES ('schema_version', '1');
INSERT OR IGNORE INTO metadata (key, value) VALUES ('created_at', strftime('%s', 'now'));
`
