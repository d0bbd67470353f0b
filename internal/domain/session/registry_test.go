package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/focushall/focushall-bot/internal/domain/shared"
)

func TestRegistryPutAndGet(t *testing.T) {
	r := NewRegistry()
	s := New("room1", "g", []string{"a"}, time.Now(), time.Minute)

	assert.NoError(t, r.Put(s))
	assert.Same(t, s, r.Get("room1"))
	assert.Same(t, s, r.GetByToken(s.Token))
	assert.True(t, r.Contains("room1"))
	assert.Equal(t, 1, r.Len())
}

func TestRegistryRejectsSecondLiveSession(t *testing.T) {
	r := NewRegistry()
	s1 := New("room1", "g", []string{"a"}, time.Now(), time.Minute)
	s2 := New("room1", "g", []string{"a"}, time.Now(), time.Minute)

	assert.NoError(t, r.Put(s1))
	err := r.Put(s2)
	assert.ErrorIs(t, err, shared.ErrAlreadyExists)
	assert.Same(t, s1, r.Get("room1"))
}

func TestRegistryRemove(t *testing.T) {
	r := NewRegistry()
	s := New("room1", "g", []string{"a"}, time.Now(), time.Minute)
	assert.NoError(t, r.Put(s))

	assert.True(t, r.Remove("room1"))
	assert.Nil(t, r.Get("room1"))
	assert.Nil(t, r.GetByToken(s.Token))

	// Second removal reports the session was already gone.
	assert.False(t, r.Remove("room1"))
}

func TestRegistryGetByPrompt(t *testing.T) {
	r := NewRegistry()
	s := New("room1", "g", []string{"a"}, time.Now(), time.Minute)
	s.Prompt = PromptRef{ChannelID: "chan1", MessageID: "msg1"}
	assert.NoError(t, r.Put(s))

	assert.Same(t, s, r.GetByPrompt("chan1", "msg1"))
	assert.Nil(t, r.GetByPrompt("chan1", "other"))
}

func TestRegistryStaleTokenAfterReopen(t *testing.T) {
	r := NewRegistry()
	s1 := New("room1", "g", []string{"a"}, time.Now(), time.Minute)
	assert.NoError(t, r.Put(s1))
	r.Remove("room1")

	s2 := New("room1", "g", []string{"a"}, time.Now(), time.Minute)
	assert.NoError(t, r.Put(s2))

	// The old token must not route into the new session.
	assert.Nil(t, r.GetByToken(s1.Token))
	assert.Same(t, s2, r.GetByToken(s2.Token))
}
