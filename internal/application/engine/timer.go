package engine

import (
	"sync"
	"time"
)

// DeadlineTimer is a cancellable one-shot timer handle. Cancel is safe to
// call from any close path and takes effect exactly once; a fire that races
// with Cancel is the callback's problem to guard (the engine re-checks the
// registry before acting).
type DeadlineTimer struct {
	timer *time.Timer
	once  sync.Once
}

// Cancel stops the timer. Returns true the first time, false afterwards.
// A timer whose callback already started cannot be un-fired; callers must
// re-validate state inside the callback instead of relying on Cancel.
func (t *DeadlineTimer) Cancel() bool {
	fired := false
	t.once.Do(func() {
		t.timer.Stop()
		fired = true
	})
	return fired
}

// timerTable tracks one pending deadline timer per room.
type timerTable struct {
	mu     sync.Mutex
	timers map[string]*DeadlineTimer
}

func newTimerTable() *timerTable {
	return &timerTable{timers: make(map[string]*DeadlineTimer)}
}

// schedule arms a one-shot timer for the room, replacing nothing: the caller
// guarantees no timer exists for the room (one live session per room).
func (tt *timerTable) schedule(roomID string, d time.Duration, fn func()) *DeadlineTimer {
	handle := &DeadlineTimer{}
	handle.timer = time.AfterFunc(d, fn)

	tt.mu.Lock()
	tt.timers[roomID] = handle
	tt.mu.Unlock()
	return handle
}

// cancel stops and removes the room's timer. Returns false when no timer was
// pending (already fired or already cancelled by another close path).
func (tt *timerTable) cancel(roomID string) bool {
	tt.mu.Lock()
	handle, ok := tt.timers[roomID]
	delete(tt.timers, roomID)
	tt.mu.Unlock()

	if !ok {
		return false
	}
	return handle.Cancel()
}

// remove drops the timer entry without cancelling (used from inside the fire
// path, where the timer has already gone off).
func (tt *timerTable) remove(roomID string) {
	tt.mu.Lock()
	delete(tt.timers, roomID)
	tt.mu.Unlock()
}

// pending returns the number of armed timers.
func (tt *timerTable) pending() int {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	return len(tt.timers)
}
