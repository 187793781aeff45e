// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for rooms and messages.
//
// # Key Types
//
//   - Room: A named conversation thread with its own ordered history
//   - Message: One persisted message with role, content and sequence
//   - ModelDescriptor: A model offered by the remote API (never persisted)
//   - Role: Message role enumeration (user, assistant, system)
//
// # Errors
//
// ValidationError and NotFoundError are shared by the store and the
// session manager. Match them with errors.Is against ErrValidation and
// ErrNotFound, or errors.As for the details.
package model
