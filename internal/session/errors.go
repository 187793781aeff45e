// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"errors"
	"fmt"
)

var (
	// ErrConflict matches any *ConflictError.
	ErrConflict = errors.New("room is busy")

	// ErrEmptyReply is the cause of a FailedReply when the model finished
	// without producing any text.
	ErrEmptyReply = errors.New("model returned an empty reply")
)

// ConflictError is returned when an operation needs an Idle room.
type ConflictError struct {
	RoomID string
	State  State
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("room %s is %s", e.RoomID, e.State)
}

// Is allows ConflictError to be compared with ErrConflict.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// Stage names where a request failed.
type Stage string

const (
	// StageSend: the request failed before the reply started.
	StageSend Stage = "send"
	// StageReceive: the reply stream broke or produced no text.
	StageReceive Stage = "receive"
	// StageCommit: the reply arrived but could not be stored.
	StageCommit Stage = "commit"
)

// FailedReply is the recoverable result of a failed request. The user
// message stays in history; whatever reply text arrived is retained by
// the manager until CommitPartial, RetryCommit or Discard.
type FailedReply struct {
	RoomID    string
	Stage     Stage
	Model     string
	Partial   string
	Fragments int
	Err       error
}

func (f *FailedReply) Error() string {
	if f.Fragments > 0 {
		return fmt.Sprintf("reply failed at %s after %d fragments: %v", f.Stage, f.Fragments, f.Err)
	}
	return fmt.Sprintf("reply failed at %s: %v", f.Stage, f.Err)
}

func (f *FailedReply) Unwrap() error {
	return f.Err
}

// HasPartial reports whether any reply text was retained.
func (f *FailedReply) HasPartial() bool {
	return f.Partial != ""
}
