// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session coordinates rooms, their stored history and the
// completion provider.
//
// Each room runs an independent request state machine:
//
//	Idle -> Sending -> Streaming -> Committing -> Idle
//	Sending | Streaming | Committing -> Failed -> Idle
//
// Only one request per room may be in flight; a second Send on a busy
// room fails with a *ConflictError. The user message is stored before the
// request is sent and is never rolled back. The assistant reply is stored
// only once it has fully arrived.
//
// # Failures
//
// A failed request leaves the room in Failed with a *FailedReply holding
// whatever text arrived. The caller resolves it with one of:
//
//   - CommitPartial: store the retained text as the reply
//   - RetryCommit: retry a failed Store write without re-querying the model
//   - Discard: drop the text
//
// Cancel stops an in-flight request; nothing is committed and the room
// returns to Idle.
//
// # Usage
//
//	mgr := session.NewManager(store, provider, catalog, cfg)
//	room, _ := mgr.CreateRoom(ctx, "demo")
//	reply, err := mgr.Send(ctx, room.ID, "hi", session.SendOptions{
//	    OnFragment: func(s string) { fmt.Print(s) },
//	})
package session
