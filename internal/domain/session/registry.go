package session

import (
	"sync"

	"github.com/focushall/focushall-bot/internal/domain/shared"
)

// Registry is the room-keyed table of live focus sessions. It owns the
// at-most-one-live-session-per-room invariant: Put refuses a second live
// session for a room, and lookups by token or prompt only see live entries.
//
// The registry replaces what would otherwise be ambient module-level state;
// one instance is owned by the engine and passed to whoever needs to query it.
type Registry struct {
	mu      sync.RWMutex
	byRoom  map[string]*FocusSession
	byToken map[string]*FocusSession
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		byRoom:  make(map[string]*FocusSession),
		byToken: make(map[string]*FocusSession),
	}
}

// Put registers a live session. Returns ErrSessionAlreadyOpen if a session is
// already live for the room.
func (r *Registry) Put(s *FocusSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byRoom[s.RoomID]; exists {
		return shared.ErrSessionAlreadyOpen
	}
	r.byRoom[s.RoomID] = s
	r.byToken[s.Token] = s
	return nil
}

// Get returns the live session for a room, or nil.
func (r *Registry) Get(roomID string) *FocusSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byRoom[roomID]
}

// GetByToken returns the live session owning a confirmation token, or nil for
// a stale/unknown token.
func (r *Registry) GetByToken(token string) *FocusSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byToken[token]
}

// GetByPrompt returns the live session whose prompt matches the given message
// reference, or nil. Used to correlate external message deletions.
func (r *Registry) GetByPrompt(channelID, messageID string) *FocusSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.byRoom {
		if s.Prompt.ChannelID == channelID && s.Prompt.MessageID == messageID {
			return s
		}
	}
	return nil
}

// Remove deletes a session from the registry. Returns false if the room had
// no live session (already removed by another close path).
func (r *Registry) Remove(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byRoom[roomID]
	if !ok {
		return false
	}
	delete(r.byRoom, roomID)
	delete(r.byToken, s.Token)
	return true
}

// Contains reports whether a live session exists for the room.
func (r *Registry) Contains(roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byRoom[roomID]
	return ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byRoom)
}

// Rooms returns the room ids with live sessions.
func (r *Registry) Rooms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byRoom))
	for id := range r.byRoom {
		out = append(out, id)
	}
	return out
}
