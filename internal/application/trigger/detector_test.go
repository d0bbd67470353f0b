package trigger

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/focushall/focushall-bot/internal/domain/shared"
)

type fakeOpener struct {
	mu    sync.Mutex
	opens []string // roomIDs passed to OpenSession
	err   error
}

func (o *fakeOpener) OpenSession(_ context.Context, roomID, _ string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opens = append(o.opens, roomID)
	return o.err
}

func (o *fakeOpener) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.opens)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestDetector(o *fakeOpener, c *clock, resolvers ...Resolver) *Detector {
	cfg := DefaultConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.Now = c.Now
	return New(o, resolvers, cfg)
}

func TestExplicitResolverWinsOverHeuristics(t *testing.T) {
	o := &fakeOpener{}
	c := &clock{now: time.Now()}
	d := newTestDetector(o, c,
		ExplicitResolver{},
		ChannelMapResolver{ChannelRooms: map[string]string{"chan1": "room-from-chan"}},
	)

	err := d.Handle(context.Background(), Signal{
		ChannelID:      "chan1",
		GuildID:        "g1",
		ExplicitRoomID: "room-explicit",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"room-explicit"}, o.opens)
}

func TestChannelMapResolver(t *testing.T) {
	o := &fakeOpener{}
	c := &clock{now: time.Now()}
	d := newTestDetector(o, c,
		ChannelMapResolver{ChannelRooms: map[string]string{"chan1": "room1"}},
	)

	require.NoError(t, d.Handle(context.Background(), Signal{ChannelID: "chan1", GuildID: "g1"}))
	assert.Equal(t, []string{"room1"}, o.opens)
}

func TestMentionResolver(t *testing.T) {
	r := MentionResolver{MonitoredRooms: map[string]struct{}{"12345": {}}}

	roomID, ok := r.Resolve(Signal{Content: "focus starting in <#12345> now"})
	assert.True(t, ok)
	assert.Equal(t, "12345", roomID)

	_, ok = r.Resolve(Signal{Content: "chatting about <#99999>"})
	assert.False(t, ok, "mention of an unmonitored channel must not resolve")

	_, ok = r.Resolve(Signal{Content: "no mention here"})
	assert.False(t, ok)
}

func TestKeywordResolver(t *testing.T) {
	r := KeywordResolver{RoomNames: map[string]string{"deep work": "room1"}}

	roomID, ok := r.Resolve(Signal{Content: "Deep Work session starting!"})
	assert.True(t, ok)
	assert.Equal(t, "room1", roomID)

	_, ok = r.Resolve(Signal{Content: "lunch break"})
	assert.False(t, ok)
}

func TestUnresolvedSignalNoOp(t *testing.T) {
	o := &fakeOpener{}
	c := &clock{now: time.Now()}
	d := newTestDetector(o, c, ExplicitResolver{})

	err := d.Handle(context.Background(), Signal{ChannelID: "chanX", Content: "hello"})
	assert.ErrorIs(t, err, shared.ErrConfiguration)
	assert.Zero(t, o.count())
}

func TestRoomDedupCoalescesRapidTriggers(t *testing.T) {
	// Two signals for room X within a second open exactly one session.
	o := &fakeOpener{}
	c := &clock{now: time.Now()}
	d := newTestDetector(o, c,
		ExplicitResolver{},
		ChannelMapResolver{ChannelRooms: map[string]string{"chan1": "roomX"}},
	)

	require.NoError(t, d.Handle(context.Background(), Signal{ExplicitRoomID: "roomX", GuildID: "g1"}))
	c.Advance(time.Second)
	err := d.Handle(context.Background(), Signal{ChannelID: "chan1", GuildID: "g1"})
	assert.ErrorIs(t, err, shared.ErrAlreadyProcessed)
	assert.Equal(t, 1, o.count())
}

func TestRoomDedupExpiresAfterWindow(t *testing.T) {
	o := &fakeOpener{}
	c := &clock{now: time.Now()}
	d := newTestDetector(o, c, ExplicitResolver{})

	require.NoError(t, d.Handle(context.Background(), Signal{ExplicitRoomID: "roomX"}))
	c.Advance(6 * time.Second)
	require.NoError(t, d.Handle(context.Background(), Signal{ExplicitRoomID: "roomX"}))
	assert.Equal(t, 2, o.count())
}

func TestMessageDedup(t *testing.T) {
	o := &fakeOpener{}
	c := &clock{now: time.Now()}
	d := newTestDetector(o, c, ExplicitResolver{})

	sig := Signal{MessageID: "m1", ExplicitRoomID: "roomX"}
	require.NoError(t, d.Handle(context.Background(), sig))
	err := d.Handle(context.Background(), sig)
	assert.ErrorIs(t, err, shared.ErrAlreadyProcessed)
	assert.Equal(t, 1, o.count())
}

func TestAlreadyOpenErrorIsBenign(t *testing.T) {
	o := &fakeOpener{err: shared.ErrSessionAlreadyOpen}
	c := &clock{now: time.Now()}
	d := newTestDetector(o, c, ExplicitResolver{})

	assert.NoError(t, d.Handle(context.Background(), Signal{ExplicitRoomID: "roomX"}))
}

func TestEmptyRoomErrorIsBenign(t *testing.T) {
	o := &fakeOpener{err: shared.ErrRoomEmpty}
	c := &clock{now: time.Now()}
	d := newTestDetector(o, c, ExplicitResolver{})

	assert.NoError(t, d.Handle(context.Background(), Signal{ExplicitRoomID: "roomX"}))
}

func TestPrune(t *testing.T) {
	o := &fakeOpener{}
	c := &clock{now: time.Now()}
	d := newTestDetector(o, c, ExplicitResolver{})

	require.NoError(t, d.Handle(context.Background(), Signal{MessageID: "m1", ExplicitRoomID: "roomA"}))
	require.NoError(t, d.Handle(context.Background(), Signal{MessageID: "m2", ExplicitRoomID: "roomB"}))
	assert.Equal(t, 4, d.PendingDedupEntries())

	c.Advance(11 * time.Second)
	assert.Equal(t, 4, d.Prune())
	assert.Zero(t, d.PendingDedupEntries())
}
