// Package session keeps per-conversation turn history in process.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/maplebond/maplebond/pkg/model"
	"github.com/maplebond/maplebond/pkg/utils/logging"
)

// Session is the turn history of one conversation. Turns are append-only with
// strictly increasing indices; the oldest turns are evicted once the cap is
// exceeded.
type Session struct {
	id  model.ConversationID
	cap int

	mu        sync.Mutex
	turns     []model.Turn
	lastIndex int
}

func (s *Session) ID() model.ConversationID {
	return s.id
}

// Turns returns a copy of the retained turns in chronological order
func (s *Session) Turns() []model.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := make([]model.Turn, len(s.turns))
	copy(turns, s.turns)
	return turns
}

// Recent returns a copy of the last n turns in chronological order
func (s *Session) Recent(n int) []model.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n <= 0 {
		return nil
	}
	start := max(len(s.turns)-n, 0)
	turns := make([]model.Turn, len(s.turns)-start)
	copy(turns, s.turns[start:])
	return turns
}

// LastIndex returns the index of the last appended turn, or 0 for a new session
func (s *Session) LastIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastIndex
}

// Manager is a keyed store of sessions. Appends are serialized per session;
// different conversations never wait on each other.
type Manager struct {
	cap int

	mu       sync.RWMutex
	sessions map[model.ConversationID]*Session
}

func NewManager(cfg model.Config) *Manager {
	return &Manager{
		cap:      cfg.SessionTurnCap,
		sessions: make(map[model.ConversationID]*Session),
	}
}

// Get returns the session of id if it exists
func (m *Manager) Get(id model.ConversationID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// GetOrCreate returns the session of id, creating an empty one on first use
func (m *Manager) GetOrCreate(id model.ConversationID) *Session {
	if s, ok := m.Get(id); ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s
	}
	s := &Session{id: id, cap: m.cap}
	m.sessions[id] = s
	return s
}

// Len returns the number of sessions
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Append adds turn to s and returns it as stored. A zero Index is assigned the
// next index; an explicit index must be greater than the last one. Nothing is
// appended when ctx is already done.
func (m *Manager) Append(ctx context.Context, s *Session, turn model.Turn) (model.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return model.Turn{}, goerr.Wrap(err, "turn is not recorded for an abandoned request",
			goerr.V("conversation_id", s.id))
	}

	switch {
	case turn.Index == 0:
		turn.Index = s.lastIndex + 1
	case turn.Index <= s.lastIndex:
		return model.Turn{}, goerr.Wrap(model.ErrInvalidInput, "turn index must increase",
			goerr.V("conversation_id", s.id),
			goerr.V("index", turn.Index),
			goerr.V("last", s.lastIndex))
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}

	s.turns = append(s.turns, turn)
	s.lastIndex = turn.Index

	if evict := len(s.turns) - s.cap; s.cap > 0 && evict > 0 {
		s.turns = append([]model.Turn(nil), s.turns[evict:]...)
		logging.From(ctx).Debug("evicted old turns",
			"conversation_id", s.id, "evicted", evict, "retained", len(s.turns))
	}

	return turn, nil
}
