// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/echo/internal/cloud"
	"github.com/jeranaias/echo/internal/model"
	"github.com/jeranaias/echo/internal/storage"
)

// =============================================================================
// FAKES
// =============================================================================

// fakeProvider replies with a fixed list of fragments. When block is set
// the first stream it opens pauses before its second fragment until
// release is closed or the request is canceled.
type fakeProvider struct {
	mu        sync.Mutex
	fragments []string
	tailErr   error // reported after the fragments
	openErr   error // returned by Stream and Complete
	requests  []cloud.ChatRequest

	block   bool
	blocked bool
	reached chan struct{}
	release chan struct{}
}

func newFakeProvider(fragments ...string) *fakeProvider {
	return &fakeProvider{
		fragments: fragments,
		reached:   make(chan struct{}),
		release:   make(chan struct{}),
	}
}

func (p *fakeProvider) record(req cloud.ChatRequest) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
}

func (p *fakeProvider) lastRequest() cloud.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[len(p.requests)-1]
}

func (p *fakeProvider) Complete(ctx context.Context, req cloud.ChatRequest) (*cloud.Completion, error) {
	p.record(req)
	if p.openErr != nil {
		return nil, p.openErr
	}
	return &cloud.Completion{Content: strings.Join(p.fragments, ""), FinishReason: "stop"}, nil
}

func (p *fakeProvider) Stream(ctx context.Context, req cloud.ChatRequest) (cloud.FragmentStream, error) {
	p.record(req)
	if p.openErr != nil {
		return nil, p.openErr
	}

	p.mu.Lock()
	s := &fakeStream{ctx: ctx, frags: p.fragments, tailErr: p.tailErr, blockAt: -1}
	if p.block && !p.blocked {
		p.blocked = true
		s.blockAt = 1
		s.reached = p.reached
		s.release = p.release
	}
	p.mu.Unlock()
	return s, nil
}

func (p *fakeProvider) ListModels(ctx context.Context) ([]cloud.ModelInfo, error) {
	return nil, nil
}

type fakeStream struct {
	ctx     context.Context
	frags   []string
	tailErr error

	blockAt int
	reached chan struct{}
	release chan struct{}

	i       int
	cur     string
	partial strings.Builder
	err     error
	done    bool
}

func (s *fakeStream) Next() bool {
	if s.done {
		return false
	}
	if s.i == s.blockAt {
		close(s.reached)
		select {
		case <-s.release:
		case <-s.ctx.Done():
			return s.fail(s.ctx.Err())
		}
	}
	if s.i >= len(s.frags) {
		if s.tailErr != nil {
			return s.fail(s.tailErr)
		}
		s.done = true
		return false
	}
	s.cur = s.frags[s.i]
	s.i++
	s.partial.WriteString(s.cur)
	return true
}

func (s *fakeStream) fail(err error) bool {
	s.err = &cloud.StreamError{Fragments: s.i, Partial: s.partial.String(), Err: err}
	s.done = true
	return false
}

func (s *fakeStream) Fragment() string { return s.cur }
func (s *fakeStream) Err() error       { return s.err }
func (s *fakeStream) Close() error     { s.done = true; return nil }

// flakyStore fails the next failAssistant assistant-message writes.
// afterUser runs once a user message has been stored.
type flakyStore struct {
	*storage.Store

	mu            sync.Mutex
	failAssistant int
	afterUser     func(roomID string)
	beforeClear   func(roomID string)
}

func (f *flakyStore) ClearConversation(ctx context.Context, roomID string) (int64, error) {
	f.mu.Lock()
	hook := f.beforeClear
	f.mu.Unlock()
	if hook != nil {
		hook(roomID)
	}
	return f.Store.ClearConversation(ctx, roomID)
}

func (f *flakyStore) AppendMessage(ctx context.Context, roomID string, role model.Role, content, modelID string) (model.Message, error) {
	f.mu.Lock()
	if role == model.RoleAssistant && f.failAssistant > 0 {
		f.failAssistant--
		f.mu.Unlock()
		return model.Message{}, fmt.Errorf("%w: disk I/O error", storage.ErrDatabase)
	}
	hook := f.afterUser
	f.mu.Unlock()

	msg, err := f.Store.AppendMessage(ctx, roomID, role, content, modelID)
	if err == nil && role == model.RoleUser && hook != nil {
		hook(roomID)
	}
	return msg, err
}

type fakeFinder struct {
	known map[string]bool
	err   error
}

func (f *fakeFinder) Find(ctx context.Context, id string) (model.ModelDescriptor, error) {
	if f.err != nil {
		return model.ModelDescriptor{}, f.err
	}
	if !f.known[id] {
		return model.ModelDescriptor{}, &model.NotFoundError{Kind: "model", ID: id}
	}
	return model.ModelDescriptor{ID: id}, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *flakyStore {
	t.Helper()
	st, err := storage.Open(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return &flakyStore{Store: st.WithLogger(quietLogger())}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Model = "test/model"
	cfg.Logger = quietLogger()
	return cfg
}

func newTestManager(t *testing.T, p *fakeProvider, cfg Config) (*Manager, *flakyStore) {
	t.Helper()
	st := newTestStore(t)
	return NewManager(st, p, nil, cfg), st
}

type sendResult struct {
	reply *Reply
	err   error
}

// sendAsync starts a Send and waits until its stream is blocked.
func sendAsync(t *testing.T, m *Manager, p *fakeProvider, roomID, content string) <-chan sendResult {
	t.Helper()
	out := make(chan sendResult, 1)
	go func() {
		reply, err := m.Send(context.Background(), roomID, content, SendOptions{})
		out <- sendResult{reply, err}
	}()
	select {
	case <-p.reached:
	case <-time.After(5 * time.Second):
		t.Fatal("stream never reached the blocking point")
	}
	return out
}

func wait(t *testing.T, ch <-chan sendResult) sendResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("Send did not return")
		return sendResult{}
	}
}

func roles(msgs []model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = string(m.Role) + ":" + m.Content
	}
	return out
}

// =============================================================================
// SEND TESTS
// =============================================================================

func TestSend_DemoScenario(t *testing.T) {
	p := newFakeProvider("hel", "lo")
	m, _ := newTestManager(t, p, testConfig())
	ctx := context.Background()

	room, err := m.CreateRoom(ctx, "demo")
	require.NoError(t, err)

	var got []string
	reply, err := m.Send(ctx, room.ID, "hi", SendOptions{OnFragment: func(s string) { got = append(got, s) }})
	require.NoError(t, err)
	assert.Equal(t, []string{"hel", "lo"}, got)
	assert.Equal(t, 2, reply.Fragments)
	assert.Equal(t, "hello", reply.Message.Content)

	msgs, err := m.History(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.EqualValues(t, 1, msgs[0].Sequence)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "hello", msgs[1].Content)
	assert.EqualValues(t, 2, msgs[1].Sequence)
	assert.Equal(t, "test/model", msgs[1].Model)

	assert.Equal(t, Idle, m.State(room.ID))
}

func TestSend_SeedsSystemPromptAndSendsHistory(t *testing.T) {
	p := newFakeProvider("ok")
	cfg := testConfig()
	cfg.SystemPrompt = "be brief"
	m, _ := newTestManager(t, p, cfg)
	ctx := context.Background()

	room, err := m.CreateRoom(ctx, "seeded")
	require.NoError(t, err)

	_, err = m.Send(ctx, room.ID, "hi", SendOptions{})
	require.NoError(t, err)

	req := p.lastRequest()
	assert.Equal(t, "test/model", req.Model)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, cloud.ChatMessage{Role: "system", Content: "be brief"}, req.Messages[0])
	assert.Equal(t, cloud.ChatMessage{Role: "user", Content: "hi"}, req.Messages[1])
	require.NotNil(t, req.Temperature)
	assert.InDelta(t, 0.7, *req.Temperature, 1e-9)
}

func TestSend_NoStream(t *testing.T) {
	p := newFakeProvider("whole ", "reply")
	m, _ := newTestManager(t, p, testConfig())
	ctx := context.Background()

	room, err := m.CreateRoom(ctx, "plain")
	require.NoError(t, err)

	var got []string
	reply, err := m.Send(ctx, room.ID, "hi", SendOptions{
		NoStream:   true,
		OnFragment: func(s string) { got = append(got, s) },
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"whole reply"}, got)
	assert.Equal(t, "whole reply", reply.Message.Content)
	assert.False(t, p.lastRequest().Stream)
}

func TestSend_Validation(t *testing.T) {
	m, _ := newTestManager(t, newFakeProvider("x"), testConfig())
	ctx := context.Background()

	room, err := m.CreateRoom(ctx, "r")
	require.NoError(t, err)

	_, err = m.Send(ctx, room.ID, "   \n", SendOptions{})
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = m.Send(ctx, "no-such-room", "hi", SendOptions{})
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Equal(t, Idle, m.State("no-such-room"))
}

func TestSend_ConflictWhileStreaming(t *testing.T) {
	p := newFakeProvider("a", "b")
	p.block = true
	m, _ := newTestManager(t, p, testConfig())
	ctx := context.Background()

	room, err := m.CreateRoom(ctx, "busy")
	require.NoError(t, err)

	first := sendAsync(t, m, p, room.ID, "one")
	assert.Equal(t, Streaming, m.State(room.ID))

	_, err = m.Send(ctx, room.ID, "two", SendOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConflict)
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, Streaming, ce.State)

	_, err = m.ClearRoom(ctx, room.ID, true)
	assert.ErrorIs(t, err, ErrConflict)

	close(p.release)
	res := wait(t, first)
	require.NoError(t, res.err)
	assert.Equal(t, "ab", res.reply.Message.Content)

	msgs, err := m.History(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"user:one", "assistant:ab"}, roles(msgs))
}

func TestSend_RoomsRunIndependently(t *testing.T) {
	p := newFakeProvider("x", "y")
	p.block = true
	m, _ := newTestManager(t, p, testConfig())
	ctx := context.Background()

	a, err := m.CreateRoom(ctx, "a")
	require.NoError(t, err)
	b, err := m.CreateRoom(ctx, "b")
	require.NoError(t, err)

	pending := sendAsync(t, m, p, a.ID, "slow")

	reply, err := m.Send(ctx, b.ID, "fast", SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, "xy", reply.Message.Content)
	assert.Equal(t, Streaming, m.State(a.ID))

	close(p.release)
	require.NoError(t, wait(t, pending).err)
}

func TestSend_CancelLeavesHistoryUnchanged(t *testing.T) {
	p := newFakeProvider("par", "tial")
	p.block = true
	m, _ := newTestManager(t, p, testConfig())
	ctx := context.Background()

	room, err := m.CreateRoom(ctx, "cancel")
	require.NoError(t, err)

	res := sendAsync(t, m, p, room.ID, "hi")
	assert.True(t, m.Cancel(room.ID))

	r := wait(t, res)
	assert.ErrorIs(t, r.err, context.Canceled)
	assert.Nil(t, r.reply)
	assert.Equal(t, Idle, m.State(room.ID))
	_, ok := m.Pending(room.ID)
	assert.False(t, ok)

	msgs, err := m.History(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"user:hi"}, roles(msgs), "no assistant message after cancel")

	assert.False(t, m.Cancel(room.ID), "nothing left to cancel")
}

func TestSend_CancelWhileSending(t *testing.T) {
	p := newFakeProvider("never", "sent")
	m, st := newTestManager(t, p, testConfig())
	ctx := context.Background()

	room, err := m.CreateRoom(ctx, "early cancel")
	require.NoError(t, err)

	var states []State
	var canceled bool
	st.afterUser = func(roomID string) {
		states = append(states, m.State(roomID))
		canceled = m.Cancel(roomID)
	}

	reply, err := m.Send(ctx, room.ID, "hi", SendOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, reply)
	assert.Equal(t, []State{Sending}, states)
	assert.True(t, canceled)

	assert.Equal(t, Idle, m.State(room.ID))
	_, failed := m.Failure(room.ID)
	assert.False(t, failed)
	assert.Empty(t, p.requests, "no request after cancel")

	msgs, err := m.History(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"user:hi"}, roles(msgs))

	// The room takes new messages afterwards.
	st.afterUser = nil
	reply, err = m.Send(ctx, room.ID, "again", SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, "neversent", reply.Message.Content)
}

func TestSend_CallerContextCanceled(t *testing.T) {
	p := newFakeProvider("a", "b")
	p.block = true
	m, _ := newTestManager(t, p, testConfig())

	room, err := m.CreateRoom(context.Background(), "ctx")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan sendResult, 1)
	go func() {
		reply, err := m.Send(ctx, room.ID, "hi", SendOptions{})
		out <- sendResult{reply, err}
	}()
	<-p.reached
	cancel()

	assert.ErrorIs(t, wait(t, out).err, context.Canceled)
	assert.Equal(t, Idle, m.State(room.ID))
}

func TestSend_DeleteRoomMidStream(t *testing.T) {
	p := newFakeProvider("a", "b")
	p.block = true
	m, st := newTestManager(t, p, testConfig())
	ctx := context.Background()

	room, err := m.CreateRoom(ctx, "doomed")
	require.NoError(t, err)

	res := sendAsync(t, m, p, room.ID, "hi")

	deleted, err := m.DeleteRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	r := wait(t, res)
	assert.ErrorIs(t, r.err, model.ErrNotFound)
	assert.Equal(t, Idle, m.State(room.ID))
	_, ok := m.ActiveRoom()
	assert.False(t, ok)

	_, err = st.ListMessages(ctx, room.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

// =============================================================================
// FAILURE RECOVERY TESTS
// =============================================================================

func TestSend_StreamBreaksKeepsPartial(t *testing.T) {
	p := newFakeProvider("par", "tial")
	p.tailErr = fmt.Errorf("%w: connection reset", cloud.ErrNetwork)
	m, _ := newTestManager(t, p, testConfig())
	ctx := context.Background()

	room, err := m.CreateRoom(ctx, "flaky")
	require.NoError(t, err)

	_, err = m.Send(ctx, room.ID, "hi", SendOptions{})
	var failed *FailedReply
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, StageReceive, failed.Stage)
	assert.Equal(t, "partial", failed.Partial)
	assert.Equal(t, 2, failed.Fragments)
	assert.ErrorIs(t, err, cloud.ErrNetwork)

	assert.Equal(t, Failed, m.State(room.ID))
	text, ok := m.Pending(room.ID)
	require.True(t, ok)
	assert.Equal(t, "partial", text)

	_, err = m.Send(ctx, room.ID, "again", SendOptions{})
	assert.ErrorIs(t, err, ErrConflict, "Failed rooms must be resolved first")

	_, err = m.RetryCommit(ctx, room.ID)
	assert.ErrorIs(t, err, model.ErrValidation, "only commit failures are retried")

	reply, err := m.CommitPartial(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, "partial", reply.Message.Content)
	assert.Equal(t, Idle, m.State(room.ID))

	msgs, err := m.History(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"user:hi", "assistant:partial"}, roles(msgs))
}

func TestSend_DiscardFailure(t *testing.T) {
	p := newFakeProvider("x")
	p.tailErr = fmt.Errorf("%w: eof", cloud.ErrNetwork)
	m, _ := newTestManager(t, p, testConfig())
	ctx := context.Background()

	room, err := m.CreateRoom(ctx, "discard")
	require.NoError(t, err)

	_, err = m.Send(ctx, room.ID, "hi", SendOptions{})
	require.Error(t, err)

	require.NoError(t, m.Discard(room.ID))
	assert.Equal(t, Idle, m.State(room.ID))
	require.NoError(t, m.Discard(room.ID), "discarding an idle room is a no-op")

	msgs, err := m.History(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"user:hi"}, roles(msgs), "user message is never rolled back")
}

func TestSend_RequestRejected(t *testing.T) {
	p := newFakeProvider()
	p.openErr = &cloud.RateLimitError{RetryAfter: 3 * time.Second}
	m, _ := newTestManager(t, p, testConfig())
	ctx := context.Background()

	room, err := m.CreateRoom(ctx, "limited")
	require.NoError(t, err)

	_, err = m.Send(ctx, room.ID, "hi", SendOptions{})
	var failed *FailedReply
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, StageSend, failed.Stage)
	assert.Zero(t, failed.Fragments)
	assert.False(t, failed.HasPartial())
	assert.ErrorIs(t, err, cloud.ErrRateLimited)

	_, err = m.CommitPartial(ctx, room.ID)
	assert.ErrorIs(t, err, model.ErrValidation)
	assert.Equal(t, Failed, m.State(room.ID))

	require.NoError(t, m.Discard(room.ID))
}

func TestSend_EmptyReplyFails(t *testing.T) {
	p := newFakeProvider()
	m, _ := newTestManager(t, p, testConfig())
	ctx := context.Background()

	room, err := m.CreateRoom(ctx, "silent")
	require.NoError(t, err)

	_, err = m.Send(ctx, room.ID, "hi", SendOptions{})
	assert.ErrorIs(t, err, ErrEmptyReply)
	assert.Equal(t, Failed, m.State(room.ID))

	msgs, err := m.History(ctx, room.ID)
	require.NoError(t, err)
	for _, msg := range msgs {
		assert.NotEqual(t, model.RoleAssistant, msg.Role)
	}
}

func TestSend_CommitFailureKeepsText(t *testing.T) {
	p := newFakeProvider("hel", "lo")
	m, st := newTestManager(t, p, testConfig())
	ctx := context.Background()

	room, err := m.CreateRoom(ctx, "commit")
	require.NoError(t, err)

	st.failAssistant = 2
	_, err = m.Send(ctx, room.ID, "hi", SendOptions{})
	var failed *FailedReply
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, StageCommit, failed.Stage)
	assert.Equal(t, "hello", failed.Partial)
	assert.ErrorIs(t, err, storage.ErrDatabase)

	text, ok := m.Pending(room.ID)
	require.True(t, ok)
	assert.Equal(t, "hello", text)

	msgs, err := m.History(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"user:hi"}, roles(msgs))

	// Still failing: the room stays Failed with the text intact.
	_, err = m.RetryCommit(ctx, room.ID)
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, Failed, m.State(room.ID))

	reply, err := m.RetryCommit(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", reply.Message.Content)
	assert.EqualValues(t, 2, reply.Message.Sequence)
	assert.Equal(t, Idle, m.State(room.ID))

	p.mu.Lock()
	calls := len(p.requests)
	p.mu.Unlock()
	assert.Equal(t, 1, calls, "retrying the commit must not query the model again")
}

func TestResolveOnIdleRoomConflicts(t *testing.T) {
	m, _ := newTestManager(t, newFakeProvider("x"), testConfig())

	_, err := m.CommitPartial(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrConflict)
	_, err = m.RetryCommit(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrConflict)
}

// =============================================================================
// HISTORY TESTS
// =============================================================================

func TestTrimHistory(t *testing.T) {
	msg := func(role model.Role, content string) model.Message {
		return model.Message{Role: role, Content: content}
	}
	history := []model.Message{
		msg(model.RoleSystem, "sys"),
		msg(model.RoleUser, "u1"),
		msg(model.RoleAssistant, "a1"),
		msg(model.RoleUser, "u2"),
		msg(model.RoleAssistant, "  "),
		msg(model.RoleAssistant, "a2"),
		msg(model.RoleUser, "u3"),
	}

	tests := []struct {
		name  string
		pairs int
		want  []string
	}{
		{"unlimited", 0, []string{"system:sys", "user:u1", "assistant:a1", "user:u2", "assistant:a2", "user:u3"}},
		{"one pair", 1, []string{"system:sys", "user:u3"}},
		{"two pairs", 2, []string{"system:sys", "user:u2", "assistant:a2", "user:u3"}},
		{"more than available", 10, []string{"system:sys", "user:u1", "assistant:a1", "user:u2", "assistant:a2", "user:u3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, roles(TrimHistory(history, tt.pairs)))
		})
	}
}

func TestTrimHistory_UnansweredAndStrayMessages(t *testing.T) {
	msg := func(role model.Role, content string) model.Message {
		return model.Message{Role: role, Content: content}
	}
	history := []model.Message{
		msg(model.RoleAssistant, "stray"),
		msg(model.RoleUser, "u1"),
		msg(model.RoleUser, "u2"),
		msg(model.RoleAssistant, "a2"),
		msg(model.RoleAssistant, "extra"),
		msg(model.RoleSystem, "late sys"),
		msg(model.RoleUser, "u3"),
	}

	// u1 never got a reply and still counts as one exchange.
	assert.Equal(t,
		[]string{"system:late sys", "user:u2", "assistant:a2", "user:u3"},
		roles(TrimHistory(history, 2)))
	assert.Equal(t,
		[]string{"system:late sys", "user:u1", "user:u2", "assistant:a2", "user:u3"},
		roles(TrimHistory(history, 0)))
}

func TestSend_HistoryIsTrimmed(t *testing.T) {
	p := newFakeProvider("ok")
	cfg := testConfig()
	cfg.SystemPrompt = "sys"
	cfg.HistoryPairs = 2
	m, _ := newTestManager(t, p, cfg)
	ctx := context.Background()

	room, err := m.CreateRoom(ctx, "long")
	require.NoError(t, err)
	for _, q := range []string{"q1", "q2", "q3"} {
		_, err := m.Send(ctx, room.ID, q, SendOptions{})
		require.NoError(t, err)
	}

	req := p.lastRequest()
	var got []string
	for _, msg := range req.Messages {
		got = append(got, msg.Role+":"+msg.Content)
	}
	assert.Equal(t, []string{"system:sys", "user:q2", "assistant:ok", "user:q3"}, got)
}

// =============================================================================
// ROOM LIFECYCLE TESTS
// =============================================================================

func TestRoomLifecycle(t *testing.T) {
	cfg := testConfig()
	cfg.SystemPrompt = "sys"
	m, _ := newTestManager(t, newFakeProvider("ok"), cfg)
	ctx := context.Background()

	_, ok := m.ActiveRoom()
	assert.False(t, ok)

	a, err := m.CreateRoom(ctx, "first")
	require.NoError(t, err)
	b, err := m.CreateRoom(ctx, "second")
	require.NoError(t, err)

	active, ok := m.ActiveRoom()
	require.True(t, ok)
	assert.Equal(t, b.ID, active, "a new room becomes active")

	_, err = m.SelectRoom(ctx, a.ID)
	require.NoError(t, err)
	active, _ = m.ActiveRoom()
	assert.Equal(t, a.ID, active)

	_, err = m.SelectRoom(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)

	renamed, err := m.RenameRoom(ctx, a.ID, "renamed")
	require.NoError(t, err)
	assert.Equal(t, "renamed", renamed.Name)

	rooms, err := m.ListRooms(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 2)

	_, err = m.CreateRoom(ctx, "  ")
	assert.ErrorIs(t, err, model.ErrValidation)

	deleted, err := m.DeleteRoom(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	_, ok = m.ActiveRoom()
	assert.False(t, ok)

	deleted, err = m.DeleteRoom(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestClearRoom(t *testing.T) {
	cfg := testConfig()
	cfg.SystemPrompt = "sys"
	m, _ := newTestManager(t, newFakeProvider("ok"), cfg)
	ctx := context.Background()

	room, err := m.CreateRoom(ctx, "clear")
	require.NoError(t, err)
	_, err = m.Send(ctx, room.ID, "hi", SendOptions{})
	require.NoError(t, err)

	n, err := m.ClearRoom(ctx, room.ID, false)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	msgs, err := m.History(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"system:sys"}, roles(msgs))

	n, err = m.ClearRoom(ctx, room.ID, true)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	msgs, err = m.History(ctx, room.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	_, err = m.ClearRoom(ctx, "missing", true)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestClearRoom_OtherRoomsStayResponsive(t *testing.T) {
	cfg := testConfig()
	cfg.SystemPrompt = "sys"
	m, st := newTestManager(t, newFakeProvider("ok"), cfg)
	ctx := context.Background()

	busy, err := m.CreateRoom(ctx, "busy")
	require.NoError(t, err)
	other, err := m.CreateRoom(ctx, "other")
	require.NoError(t, err)
	_, err = m.Send(ctx, busy.ID, "hi", SendOptions{})
	require.NoError(t, err)

	type observed struct {
		busyState  State
		otherState State
		sendErr    error
		canceled   bool
	}
	seen := make(chan observed, 1)
	st.beforeClear = func(roomID string) {
		done := make(chan observed, 1)
		go func() {
			var o observed
			o.busyState = m.State(busy.ID)
			o.otherState = m.State(other.ID)
			_, o.sendErr = m.Send(ctx, busy.ID, "during clear", SendOptions{})
			o.canceled = m.Cancel(other.ID)
			done <- o
		}()
		select {
		case o := <-done:
			seen <- o
		case <-time.After(5 * time.Second):
			t.Error("manager blocked while a room was being cleared")
			seen <- observed{}
		}
	}

	n, err := m.ClearRoom(ctx, busy.ID, false)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	o := <-seen
	assert.Equal(t, Committing, o.busyState)
	assert.Equal(t, Idle, o.otherState)
	assert.ErrorIs(t, o.sendErr, ErrConflict)
	assert.False(t, o.canceled)

	assert.Equal(t, Idle, m.State(busy.ID))
	msgs, err := m.History(ctx, busy.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"system:sys"}, roles(msgs))
}

// =============================================================================
// MODEL TESTS
// =============================================================================

func TestSetModel(t *testing.T) {
	st := newTestStore(t)
	finder := &fakeFinder{known: map[string]bool{"openai/gpt-4.1": true, "x/free:free": true}}
	m := NewManager(st, newFakeProvider("ok"), finder, testConfig())
	ctx := context.Background()

	assert.Equal(t, "test/model", m.Model())

	require.NoError(t, m.SetModel(ctx, " x/free:free "))
	assert.Equal(t, "x/free:free", m.Model())

	err := m.SetModel(ctx, "nope/missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Equal(t, "x/free:free", m.Model())

	assert.ErrorIs(t, m.SetModel(ctx, ""), model.ErrValidation)

	finder.err = fmt.Errorf("%w: offline", cloud.ErrNetwork)
	require.NoError(t, m.SetModel(ctx, "unverified/model"))
	assert.Equal(t, "unverified/model", m.Model())

	room, err := m.CreateRoom(ctx, "model")
	require.NoError(t, err)
	reply, err := m.Send(ctx, room.ID, "hi", SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, "unverified/model", reply.Message.Model)
}

func TestStateString(t *testing.T) {
	for state, want := range map[State]string{
		Idle: "idle", Sending: "sending", Streaming: "streaming",
		Committing: "committing", Failed: "failed", State(99): "unknown",
	} {
		assert.Equal(t, want, state.String())
	}
	assert.True(t, errors.Is(&ConflictError{RoomID: "r", State: Streaming}, ErrConflict))
}
