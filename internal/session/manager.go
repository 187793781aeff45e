// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/jeranaias/echo/internal/cloud"
	"github.com/jeranaias/echo/internal/model"
)

// =============================================================================
// DEPENDENCIES
// =============================================================================

// Store is the persistence the manager needs. *storage.Store satisfies it.
type Store interface {
	CreateRoom(ctx context.Context, name string) (model.Room, error)
	GetRoom(ctx context.Context, id string) (model.Room, error)
	RenameRoom(ctx context.Context, id, name string) (model.Room, error)
	ListRooms(ctx context.Context) ([]model.Room, error)
	DeleteRoom(ctx context.Context, id string) (bool, error)
	AppendMessage(ctx context.Context, roomID string, role model.Role, content, modelID string) (model.Message, error)
	ListMessages(ctx context.Context, roomID string) ([]model.Message, error)
	ClearMessages(ctx context.Context, roomID string) error
	ClearConversation(ctx context.Context, roomID string) (int64, error)
}

// ModelFinder validates model ids. *catalog.Catalog satisfies it.
type ModelFinder interface {
	Find(ctx context.Context, id string) (model.ModelDescriptor, error)
}

// =============================================================================
// STATE
// =============================================================================

// State is the request state of one room.
type State int

const (
	Idle State = iota
	Sending
	Streaming
	Committing
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Sending:
		return "sending"
	case Streaming:
		return "streaming"
	case Committing:
		return "committing"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// roomState exists only while a room is not Idle.
type roomState struct {
	state    State
	cancel   context.CancelFunc
	canceled bool

	// failure is set in the Failed state.
	failure *FailedReply
}

// =============================================================================
// MANAGER
// =============================================================================

// Config holds configuration for the session manager.
type Config struct {
	// Model is the initial model id.
	Model string

	// SystemPrompt is seeded into new rooms. Empty disables seeding.
	SystemPrompt string

	// HistoryPairs is the number of user/assistant exchanges sent as
	// context. Zero or less sends the full history.
	HistoryPairs int

	// Streaming selects streaming requests by default.
	Streaming bool

	Temperature *float64
	MaxTokens   int

	Logger *slog.Logger
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	temp := 0.7
	return Config{
		Model:        "openai/gpt-4.1",
		HistoryPairs: 10,
		Streaming:    true,
		Temperature:  &temp,
	}
}

// Manager coordinates the Store and the completion Provider for every
// room. Each room runs its own state machine; different rooms may have
// requests in flight at the same time.
type Manager struct {
	store    Store
	provider cloud.Provider
	models   ModelFinder
	cfg      Config
	logger   *slog.Logger

	mu     sync.Mutex
	rooms  map[string]*roomState
	active string
	model  string
}

// NewManager creates a manager. models may be nil, in which case SetModel
// accepts any non-empty id.
func NewManager(store Store, provider cloud.Provider, models ModelFinder, cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:    store,
		provider: provider,
		models:   models,
		cfg:      cfg,
		logger:   logger,
		rooms:    make(map[string]*roomState),
		model:    strings.TrimSpace(cfg.Model),
	}
}

// State returns the request state of a room.
func (m *Manager) State(roomID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rs, ok := m.rooms[roomID]; ok {
		return rs.state
	}
	return Idle
}

// Pending returns the reply text retained by a Failed room.
func (m *Manager) Pending(roomID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rs, ok := m.rooms[roomID]
	if !ok || rs.state != Failed || rs.failure == nil {
		return "", false
	}
	return rs.failure.Partial, true
}

// Failure returns a copy of the FailedReply held by a Failed room.
func (m *Manager) Failure(roomID string) (*FailedReply, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rs, ok := m.rooms[roomID]
	if !ok || rs.state != Failed || rs.failure == nil {
		return nil, false
	}
	f := *rs.failure
	return &f, true
}

// =============================================================================
// SEND
// =============================================================================

// SendOptions tunes a single Send.
type SendOptions struct {
	// OnFragment receives each reply fragment as it arrives. A
	// non-streaming request delivers the whole reply as one fragment.
	OnFragment func(string)

	// NoStream forces a non-streaming request.
	NoStream bool
}

// Reply is the result of a successful Send.
type Reply struct {
	Message   model.Message
	Fragments int
}

// Send appends content as a user message to the room, asks the model for
// a reply using the room's history as context and commits the reply.
//
// Errors:
//   - *model.ValidationError for blank content
//   - *model.NotFoundError if the room does not exist or is deleted mid-request
//   - *ConflictError if the room is not Idle
//   - context.Canceled if the request was canceled; nothing is committed
//   - *FailedReply for any failure after the user message was stored
func (m *Manager) Send(ctx context.Context, roomID, content string, opts SendOptions) (*Reply, error) {
	if strings.TrimSpace(content) == "" {
		return nil, &model.ValidationError{Field: "content", Message: "message must not be empty"}
	}

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	if rs, busy := m.rooms[roomID]; busy {
		m.mu.Unlock()
		return nil, &ConflictError{RoomID: roomID, State: rs.state}
	}
	rs := &roomState{state: Sending, cancel: cancel}
	m.rooms[roomID] = rs
	modelID := m.model
	m.mu.Unlock()

	log := m.logger.With(slog.String("room", roomID), slog.String("model", modelID))

	if _, err := m.store.AppendMessage(reqCtx, roomID, model.RoleUser, content, ""); err != nil {
		m.release(roomID, rs)
		if m.wasCanceled(rs, err) {
			return nil, context.Canceled
		}
		return nil, err
	}

	history, err := m.store.ListMessages(reqCtx, roomID)
	if err != nil {
		if m.wasCanceled(rs, err) {
			m.release(roomID, rs)
			log.Info("request canceled before sending")
			return nil, context.Canceled
		}
		return nil, m.finishFailed(roomID, rs, StageSend, modelID, "", 0, err, log)
	}

	req := cloud.ChatRequest{
		Model:       modelID,
		Messages:    cloud.FromHistory(TrimHistory(history, m.cfg.HistoryPairs)),
		Temperature: m.cfg.Temperature,
		MaxTokens:   m.cfg.MaxTokens,
	}

	var (
		text      string
		fragments int
		stage     Stage
	)
	if m.cfg.Streaming && !opts.NoStream {
		text, fragments, stage, err = m.stream(reqCtx, roomID, rs, req, opts.OnFragment)
	} else {
		text, fragments, stage, err = m.complete(reqCtx, req, opts.OnFragment)
	}

	// Decide the outcome under the lock so a concurrent Cancel or
	// DeleteRoom either wins before Committing or not at all.
	m.mu.Lock()
	if m.rooms[roomID] != rs {
		m.mu.Unlock()
		log.Info("room deleted during request; reply discarded", slog.Int("fragments", fragments))
		return nil, model.RoomNotFound(roomID)
	}
	if m.canceledLocked(rs, err) {
		delete(m.rooms, roomID)
		m.mu.Unlock()
		log.Info("request canceled", slog.Int("fragments", fragments))
		return nil, context.Canceled
	}
	if err == nil && strings.TrimSpace(text) == "" {
		stage, err = StageReceive, ErrEmptyReply
	}
	if err != nil {
		m.mu.Unlock()
		return nil, m.finishFailed(roomID, rs, stage, modelID, text, fragments, err, log)
	}
	rs.state = Committing
	rs.cancel = nil
	m.mu.Unlock()

	return m.commit(ctx, roomID, rs, &FailedReply{
		RoomID:    roomID,
		Stage:     StageCommit,
		Model:     modelID,
		Partial:   text,
		Fragments: fragments,
	}, log)
}

// stream runs a streaming request, moving the room to Streaming once the
// response has started.
func (m *Manager) stream(ctx context.Context, roomID string, rs *roomState, req cloud.ChatRequest, onFragment func(string)) (string, int, Stage, error) {
	stream, err := m.provider.Stream(ctx, req)
	if err != nil {
		return "", 0, StageSend, err
	}
	defer stream.Close()

	m.mu.Lock()
	if m.rooms[roomID] == rs && rs.state == Sending {
		rs.state = Streaming
	}
	m.mu.Unlock()

	var sb strings.Builder
	fragments := 0
	for stream.Next() {
		frag := stream.Fragment()
		sb.WriteString(frag)
		fragments++
		if onFragment != nil {
			onFragment(frag)
		}
	}
	return sb.String(), fragments, StageReceive, stream.Err()
}

func (m *Manager) complete(ctx context.Context, req cloud.ChatRequest, onFragment func(string)) (string, int, Stage, error) {
	resp, err := m.provider.Complete(ctx, req)
	if err != nil {
		return "", 0, StageSend, err
	}
	if resp.Content == "" {
		return "", 0, StageReceive, nil
	}
	if onFragment != nil {
		onFragment(resp.Content)
	}
	return resp.Content, 1, StageReceive, nil
}

// commit stores the assistant reply held in pending. On failure the room
// moves to Failed with the text retained.
func (m *Manager) commit(ctx context.Context, roomID string, rs *roomState, pending *FailedReply, log *slog.Logger) (*Reply, error) {
	msg, err := m.store.AppendMessage(ctx, roomID, model.RoleAssistant, pending.Partial, pending.Model)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			m.release(roomID, rs)
			log.Info("room deleted before commit; reply discarded")
			return nil, err
		}
		return nil, m.finishFailed(roomID, rs, StageCommit, pending.Model, pending.Partial, pending.Fragments, err, log)
	}

	m.release(roomID, rs)
	log.Info("reply committed",
		slog.Int64("sequence", msg.Sequence),
		slog.Int("fragments", pending.Fragments),
		slog.Int("chars", len(pending.Partial)))
	return &Reply{Message: msg, Fragments: pending.Fragments}, nil
}

// finishFailed records a failure and moves the room to Failed.
func (m *Manager) finishFailed(roomID string, rs *roomState, stage Stage, modelID, partial string, fragments int, err error, log *slog.Logger) error {
	failure := &FailedReply{
		RoomID:    roomID,
		Stage:     stage,
		Model:     modelID,
		Partial:   partial,
		Fragments: fragments,
		Err:       err,
	}

	m.mu.Lock()
	if m.rooms[roomID] != rs {
		m.mu.Unlock()
		return model.RoomNotFound(roomID)
	}
	rs.state = Failed
	rs.cancel = nil
	rs.failure = failure
	m.mu.Unlock()

	log.Warn("reply failed",
		slog.String("stage", string(stage)),
		slog.Int("fragments", fragments),
		slog.String("kind", cloud.Kind(err)),
		slog.String("error", err.Error()))

	out := *failure
	return &out
}

// release returns a room to Idle if rs is still its current state.
func (m *Manager) release(roomID string, rs *roomState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rooms[roomID] == rs {
		delete(m.rooms, roomID)
	}
}

func (m *Manager) wasCanceled(rs *roomState, err error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canceledLocked(rs, err)
}

func (m *Manager) canceledLocked(rs *roomState, err error) bool {
	return rs.canceled || errors.Is(err, context.Canceled)
}

// =============================================================================
// RECOVERY
// =============================================================================

// Cancel stops the in-flight request of a room. Fragments stop being
// consumed, nothing is committed and the room returns to Idle; the
// pending Send returns context.Canceled. Cancel reports whether there was
// anything to cancel.
func (m *Manager) Cancel(roomID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	rs, ok := m.rooms[roomID]
	if !ok || rs.cancel == nil || (rs.state != Sending && rs.state != Streaming) {
		return false
	}
	rs.canceled = true
	rs.cancel()
	return true
}

// CancelAll cancels every in-flight request.
func (m *Manager) CancelAll() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, rs := range m.rooms {
		if rs.cancel != nil && (rs.state == Sending || rs.state == Streaming) {
			rs.canceled = true
			rs.cancel()
			n++
		}
	}
	return n
}

// RetryCommit re-attempts the Store write of a reply whose commit failed,
// without querying the model again.
func (m *Manager) RetryCommit(ctx context.Context, roomID string) (*Reply, error) {
	return m.resolve(ctx, roomID, true)
}

// CommitPartial stores whatever text a Failed room retained as the
// assistant reply.
func (m *Manager) CommitPartial(ctx context.Context, roomID string) (*Reply, error) {
	return m.resolve(ctx, roomID, false)
}

func (m *Manager) resolve(ctx context.Context, roomID string, commitStageOnly bool) (*Reply, error) {
	m.mu.Lock()
	rs, ok := m.rooms[roomID]
	if !ok || rs.state != Failed || rs.failure == nil {
		state := Idle
		if ok {
			state = rs.state
		}
		m.mu.Unlock()
		return nil, &ConflictError{RoomID: roomID, State: state}
	}
	failure := *rs.failure
	if commitStageOnly && failure.Stage != StageCommit {
		m.mu.Unlock()
		return nil, &model.ValidationError{Field: "stage", Message: "only a failed commit can be retried; the reply never arrived"}
	}
	if strings.TrimSpace(failure.Partial) == "" {
		m.mu.Unlock()
		return nil, &model.ValidationError{Field: "content", Message: "no reply text to commit"}
	}
	rs.state = Committing
	m.mu.Unlock()

	log := m.logger.With(slog.String("room", roomID), slog.String("model", failure.Model))
	return m.commit(ctx, roomID, rs, &failure, log)
}

// Discard drops the text retained by a Failed room and returns it to
// Idle. Discarding an Idle room is a no-op.
func (m *Manager) Discard(roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rs, ok := m.rooms[roomID]
	if !ok {
		return nil
	}
	if rs.state != Failed {
		return &ConflictError{RoomID: roomID, State: rs.state}
	}
	delete(m.rooms, roomID)
	return nil
}

// =============================================================================
// MODEL SELECTION
// =============================================================================

// Model returns the model id used for new requests.
func (m *Manager) Model() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.model
}

// SetModel changes the model for new requests. The id is checked against
// the catalog; if the catalog cannot be reached the id is accepted as is.
func (m *Manager) SetModel(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return &model.ValidationError{Field: "model", Message: "model id must not be empty"}
	}

	if m.models != nil {
		if _, err := m.models.Find(ctx, id); err != nil {
			if errors.Is(err, model.ErrNotFound) || errors.Is(err, context.Canceled) {
				return err
			}
			m.logger.Warn("model catalog unavailable; accepting model unchecked",
				slog.String("model", id),
				slog.String("error", err.Error()))
		}
	}

	m.mu.Lock()
	m.model = id
	m.mu.Unlock()
	return nil
}
