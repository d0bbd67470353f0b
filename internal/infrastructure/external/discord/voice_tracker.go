package discord

import (
	"sync"
)

// VoiceTracker maintains the live occupancy of voice channels from
// VOICE_STATE_UPDATE events. Discord's REST API does not expose voice channel
// membership, so occupancy has to be accumulated from the event stream; the
// interface layer feeds every voice event through Apply.
type VoiceTracker struct {
	mu       sync.RWMutex
	byUser   map[string]string            // userID -> channelID
	byRoom   map[string]map[string]struct{} // channelID -> set of userIDs
	botUsers map[string]struct{}          // ids excluded from occupancy
}

// NewVoiceTracker creates an empty tracker.
func NewVoiceTracker() *VoiceTracker {
	return &VoiceTracker{
		byUser:   make(map[string]string),
		byRoom:   make(map[string]map[string]struct{}),
		botUsers: make(map[string]struct{}),
	}
}

// MarkBot excludes a user id from occupancy reporting (other bots, the
// service account itself).
func (t *VoiceTracker) MarkBot(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.botUsers[userID] = struct{}{}
}

// VoiceMove describes one observed transition.
type VoiceMove struct {
	UserID      string
	FromChannel string // empty when the user was not in voice
	ToChannel   string // empty when the user disconnected
}

// Apply records a voice state update and returns the transition it caused.
// Duplicate updates (same channel as before) produce a zero-move with
// FromChannel == ToChannel.
func (t *VoiceTracker) Apply(state VoiceState) VoiceMove {
	t.mu.Lock()
	defer t.mu.Unlock()

	if state.Member != nil && state.Member.User != nil && state.Member.User.Bot {
		t.botUsers[state.UserID] = struct{}{}
	}

	prev := t.byUser[state.UserID]
	next := state.ChannelID
	move := VoiceMove{UserID: state.UserID, FromChannel: prev, ToChannel: next}
	if prev == next {
		return move
	}

	if prev != "" {
		if room := t.byRoom[prev]; room != nil {
			delete(room, state.UserID)
			if len(room) == 0 {
				delete(t.byRoom, prev)
			}
		}
	}

	if next == "" {
		delete(t.byUser, state.UserID)
		return move
	}

	t.byUser[state.UserID] = next
	room := t.byRoom[next]
	if room == nil {
		room = make(map[string]struct{})
		t.byRoom[next] = room
	}
	room[state.UserID] = struct{}{}
	return move
}

// Occupants returns the current non-bot member ids of a voice channel.
func (t *VoiceTracker) Occupants(channelID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	room := t.byRoom[channelID]
	out := make([]string, 0, len(room))
	for id := range room {
		if _, bot := t.botUsers[id]; bot {
			continue
		}
		out = append(out, id)
	}
	return out
}

// ChannelOf returns the voice channel a user currently occupies ("" if none).
func (t *VoiceTracker) ChannelOf(userID string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.byUser[userID]
}

// Reset drops all tracked state. Used on gateway reconnect, when the event
// stream may have missed transitions.
func (t *VoiceTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byUser = make(map[string]string)
	t.byRoom = make(map[string]map[string]struct{})
}
