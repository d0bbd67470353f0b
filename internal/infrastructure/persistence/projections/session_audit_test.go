package projections

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/focushall/focushall-bot/internal/domain/shared"
	"github.com/focushall/focushall-bot/internal/infrastructure/messaging"
	"github.com/focushall/focushall-bot/internal/infrastructure/persistence/postgres"
)

type fakeSessionRecorder struct {
	mu      sync.Mutex
	entries []postgres.SessionLogEntry
	fail    bool
}

func (r *fakeSessionRecorder) Record(ctx context.Context, entry postgres.SessionLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("db down")
	}
	r.entries = append(r.entries, entry)
	return nil
}

func (r *fakeSessionRecorder) recorded() []postgres.SessionLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]postgres.SessionLogEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

type infractionRecord struct {
	userID, roomID, reason string
}

type fakeInfractionRecorder struct {
	mu      sync.Mutex
	records []infractionRecord
}

func (r *fakeInfractionRecorder) Record(ctx context.Context, userID, roomID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, infractionRecord{userID, roomID, reason})
	return nil
}

func (r *fakeInfractionRecorder) recorded() []infractionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]infractionRecord, len(r.records))
	copy(out, r.records)
	return out
}

// newAuditPipeline wires a synchronous in-memory bus through the dispatcher
// into the projection, the same chain the bot assembles at startup.
func newAuditPipeline(t *testing.T) (*messaging.InMemoryEventBus, *SessionAuditProjection, *fakeSessionRecorder, *fakeInfractionRecorder) {
	t.Helper()

	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{AsyncMode: false})
	t.Cleanup(func() { _ = bus.Close() })

	dispatcher := messaging.NewDispatcher(messaging.DefaultDispatcherConfig(bus))
	t.Cleanup(func() { _ = dispatcher.Stop() })

	sessions := &fakeSessionRecorder{}
	infractions := &fakeInfractionRecorder{}
	projection := NewSessionAuditProjection(SessionAuditConfig{
		Sessions:    sessions,
		Infractions: infractions,
	})
	require.NoError(t, projection.Register(dispatcher))
	require.NoError(t, dispatcher.Start())

	return bus, projection, sessions, infractions
}

func TestSessionLifecycleProducesOneAuditRow(t *testing.T) {
	bus, projection, sessions, _ := newAuditPipeline(t)

	require.NoError(t, bus.Publish(shared.NewSessionOpenedEvent("room1", "guild1", 3, time.Now().Add(time.Minute))))
	assert.Equal(t, 1, projection.OpenSessionCount())

	require.NoError(t, bus.Publish(shared.NewSessionEnforcedEvent("room1", "guild1", []string{"userA"}, 1, 0)))
	require.NoError(t, bus.Publish(shared.NewSessionClosedEvent("room1", "deadline", 2, time.Minute)))

	entries := sessions.recorded()
	require.Len(t, entries, 1)
	entry := entries[0]
	assert.Equal(t, "room1", entry.RoomID)
	assert.Equal(t, "guild1", entry.GuildID)
	assert.Equal(t, "deadline", entry.CloseReason)
	assert.Equal(t, 3, entry.ExpectedCount)
	assert.Equal(t, 2, entry.ConfirmedCount)
	assert.Equal(t, 1, entry.EnforcedCount)
	assert.False(t, entry.OpenedAt.IsZero())

	assert.Equal(t, 0, projection.OpenSessionCount())
}

func TestCloseWithoutOpenFallsBackToDuration(t *testing.T) {
	bus, _, sessions, _ := newAuditPipeline(t)

	// No matching opened event, as after a process restart.
	require.NoError(t, bus.Publish(shared.NewSessionClosedEvent("room1", "admin", 0, 30*time.Second)))

	entries := sessions.recorded()
	require.Len(t, entries, 1)
	entry := entries[0]
	assert.Equal(t, "admin", entry.CloseReason)
	assert.Equal(t, 0, entry.ExpectedCount)
	assert.WithinDuration(t, entry.ClosedAt.Add(-30*time.Second), entry.OpenedAt, time.Second)
}

func TestInfractionEventPersisted(t *testing.T) {
	bus, _, _, infractions := newAuditPipeline(t)

	require.NoError(t, bus.Publish(shared.NewInfractionFlaggedEvent("userA", "room1", 2)))

	records := infractions.recorded()
	require.Len(t, records, 1)
	assert.Equal(t, "userA", records[0].userID)
	assert.Equal(t, "room1", records[0].roomID)
	assert.Equal(t, "missed_confirmation", records[0].reason)
}

func TestRecentActivityViewCapped(t *testing.T) {
	sessions := &fakeSessionRecorder{}
	projection := NewSessionAuditProjection(SessionAuditConfig{
		Sessions:         sessions,
		Infractions:      &fakeInfractionRecorder{},
		MaxRecentPerRoom: 2,
	})

	for i := 0; i < 3; i++ {
		require.NoError(t, projection.onSessionClosed(shared.NewSessionClosedEvent("room1", "deadline", i, time.Minute)))
	}

	recent := projection.RecentActivity("room1")
	require.Len(t, recent, 2)
	// Newest first.
	assert.Equal(t, 2, recent[0].ConfirmedCount)
	assert.Equal(t, 1, recent[1].ConfirmedCount)

	assert.Empty(t, projection.RecentActivity("room2"))
}

func TestRecorderFailureStillUpdatesView(t *testing.T) {
	sessions := &fakeSessionRecorder{fail: true}
	projection := NewSessionAuditProjection(SessionAuditConfig{
		Sessions:    sessions,
		Infractions: &fakeInfractionRecorder{},
	})

	err := projection.onSessionClosed(shared.NewSessionClosedEvent("room1", "deadline", 1, time.Minute))
	assert.Error(t, err)
	assert.Len(t, projection.RecentActivity("room1"), 1)
}

func TestRedisShapedPayloadsAccepted(t *testing.T) {
	// The Redis bus delivers payloads decoded from JSON: numbers arrive as
	// float64 and durations as strings.
	assert.Equal(t, 3, payloadInt(map[string]interface{}{"n": float64(3)}, "n"))
	assert.Equal(t, 3, payloadInt(map[string]interface{}{"n": 3}, "n"))
	assert.Equal(t, 0, payloadInt(map[string]interface{}{}, "n"))
	assert.Equal(t, time.Minute, payloadDuration(map[string]interface{}{"d": "1m0s"}, "d"))
	assert.Equal(t, time.Minute, payloadDuration(map[string]interface{}{"d": time.Minute}, "d"))
	assert.Equal(t, "x", payloadString(map[string]interface{}{"s": "x"}, "s"))
}
