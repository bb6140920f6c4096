package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/maplebond/maplebond/pkg/adapter"
	"github.com/maplebond/maplebond/pkg/model"
)

// ErrSessionNotFound is returned by Load when no archive exists for the conversation
var ErrSessionNotFound = goerr.New("session archive not found")

// Snapshot is the archived form of a session
type Snapshot struct {
	ID        model.ConversationID `json:"id"`
	LastIndex int                  `json:"last_index"`
	Turns     []model.Turn         `json:"turns"`
	SavedAt   time.Time            `json:"saved_at"`
}

// Snapshot returns a consistent copy of the session
func (s *Session) Snapshot() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := make([]model.Turn, len(s.turns))
	copy(turns, s.turns)
	return &Snapshot{
		ID:        s.id,
		LastIndex: s.lastIndex,
		Turns:     turns,
		SavedAt:   time.Now(),
	}
}

func archiveKey(id model.ConversationID) string {
	return "sessions/" + string(id) + ".json"
}

// Save writes the session to storage
func Save(ctx context.Context, storage adapter.Storage, s *Session) error {
	data, err := json.Marshal(s.Snapshot())
	if err != nil {
		return goerr.Wrap(err, "failed to marshal session", goerr.V("conversation_id", s.ID()))
	}

	if err := storage.Write(ctx, archiveKey(s.ID()), data); err != nil {
		return goerr.Wrap(err, "failed to save session", goerr.V("conversation_id", s.ID()))
	}
	return nil
}

// Load reads the archived session of id from storage
func Load(ctx context.Context, storage adapter.Storage, id model.ConversationID) (*Snapshot, error) {
	data, err := storage.Read(ctx, archiveKey(id))
	if err != nil {
		if errors.Is(err, adapter.ErrObjectNotFound) {
			return nil, goerr.Wrap(ErrSessionNotFound, "no archived session", goerr.V("conversation_id", id))
		}
		return nil, goerr.Wrap(err, "failed to load session", goerr.V("conversation_id", id))
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal session", goerr.V("conversation_id", id))
	}
	if snap.ID != id {
		return nil, goerr.New("archived session has another ID",
			goerr.V("expected", id), goerr.V("actual", snap.ID))
	}
	return &snap, nil
}

// Restore installs an archived session. When the conversation is already
// held in process, the archived turns are merged into that session under its
// lock, so callers holding it keep seeing one history; turns it recorded after
// the archive was taken are kept. Turns beyond the cap are evicted oldest first.
func (m *Manager) Restore(snap *Snapshot) (*Session, error) {
	if snap == nil || snap.ID == "" {
		return nil, goerr.Wrap(model.ErrInvalidInput, "snapshot has no conversation ID")
	}

	last := 0
	for _, turn := range snap.Turns {
		if turn.Index <= last {
			return nil, goerr.Wrap(model.ErrInvalidInput, "archived turns are out of order",
				goerr.V("conversation_id", snap.ID), goerr.V("index", turn.Index))
		}
		last = turn.Index
	}
	if snap.LastIndex > last {
		last = snap.LastIndex
	}

	s := m.GetOrCreate(snap.ID)
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := append([]model.Turn(nil), snap.Turns...)
	for _, turn := range s.turns {
		if turn.Index > last {
			turns = append(turns, turn)
		}
	}
	if m.cap > 0 && len(turns) > m.cap {
		turns = turns[len(turns)-m.cap:]
	}

	s.turns = turns
	s.lastIndex = max(s.lastIndex, last)
	return s, nil
}
