package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewSession(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	s := New("room1", "guild1", []string{"a", "b", "c"}, now, 60*time.Second)

	assert.Equal(t, StateOpen, s.State())
	assert.True(t, s.IsOpen())
	assert.Equal(t, 3, s.ExpectedCount())
	assert.Equal(t, 0, s.ConfirmedCount())
	assert.Equal(t, now.Add(60*time.Second), s.Deadline)
	assert.NotEmpty(t, s.Token)
}

func TestTokenUniquePerSession(t *testing.T) {
	now := time.Now()
	s1 := New("room1", "g", []string{"a"}, now, time.Minute)
	s2 := New("room1", "g", []string{"a"}, now, time.Minute)
	assert.NotEqual(t, s1.Token, s2.Token)
}

func TestConfirm(t *testing.T) {
	s := New("room1", "g", []string{"a", "b"}, time.Now(), time.Minute)

	res := s.Confirm("a")
	assert.True(t, res.FirstTime)
	assert.False(t, res.LateJoiner)
	assert.True(t, s.HasConfirmed("a"))

	// Repeat confirmation is a no-op, not an error.
	res = s.Confirm("a")
	assert.False(t, res.FirstTime)
	assert.Equal(t, 1, s.ConfirmedCount())
}

func TestConfirmLateJoiner(t *testing.T) {
	s := New("room1", "g", []string{"a"}, time.Now(), time.Minute)

	res := s.Confirm("z")
	assert.True(t, res.FirstTime)
	assert.True(t, res.LateJoiner)
	assert.False(t, s.IsExpected("z"))
	assert.True(t, s.HasConfirmed("z"))
}

func TestEnforcementSet(t *testing.T) {
	// expected = {A,B,C}; B confirms; C leaves before deadline.
	s := New("room1", "g", []string{"A", "B", "C"}, time.Now(), time.Minute)
	s.Confirm("B")

	got := s.EnforcementSet([]string{"A", "B"}) // C no longer present
	assert.Equal(t, []string{"A"}, got)
}

func TestEnforcementSetIgnoresLateJoiners(t *testing.T) {
	s := New("room1", "g", []string{"A"}, time.Now(), time.Minute)
	// Z joined late and never confirmed; Z is present at deadline but was not
	// in the snapshot, so Z is never liable.
	got := s.EnforcementSet([]string{"A", "Z"})
	assert.Equal(t, []string{"A"}, got)
}

func TestEnforcementSetEmptyWhenAllConfirmed(t *testing.T) {
	s := New("room1", "g", []string{"A", "B"}, time.Now(), time.Minute)
	s.Confirm("A")
	s.Confirm("B")
	assert.Empty(t, s.EnforcementSet([]string{"A", "B"}))
}

func TestBeginEnforcement(t *testing.T) {
	s := New("room1", "g", []string{"A"}, time.Now(), time.Minute)

	assert.True(t, s.BeginEnforcement())
	assert.Equal(t, StateEnforcing, s.State())

	// A second enforcement path loses the race.
	assert.False(t, s.BeginEnforcement())
}

func TestClose(t *testing.T) {
	s := New("room1", "g", []string{"A"}, time.Now(), time.Minute)

	assert.True(t, s.Close(CloseReasonPromptDeleted))
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, CloseReasonPromptDeleted, s.CloseReason())

	// Close is idempotent.
	assert.False(t, s.Close(CloseReasonDeadline))
	assert.Equal(t, CloseReasonPromptDeleted, s.CloseReason())
}

func TestPromptRefIsZero(t *testing.T) {
	var r PromptRef
	assert.True(t, r.IsZero())
	assert.False(t, PromptRef{ChannelID: "c", MessageID: "m"}.IsZero())
}
