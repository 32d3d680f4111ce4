package game

import (
	"sync"
	"time"
)

type TimerKind int

const (
	TimerTurn TimerKind = iota // hard turn deadline, keyed per match
	TimerReveal
	TimerAdvance
	TimerGrace // disconnect grace, keyed per (room, player)
	TimerCleanup
)

// TimerKey addresses one scheduled callback. Scope is the match id for
// match-lifecycle timers and the room code for grace timers, which must
// survive match teardown. PlayerID is empty for match-level timers.
type TimerKey struct {
	Scope    string
	PlayerID string
	Kind     TimerKind
}

// Scheduler is the timer surface the engine depends on. The production
// implementation is Registry; tests substitute a hand-driven one so no
// engine test ever sleeps.
type Scheduler interface {
	// Schedule arms fn to run after d. An existing timer under the same key
	// is cancelled first, so re-arming can never double-fire.
	Schedule(key TimerKey, d time.Duration, fn func())
	// Cancel stops a pending timer. Cancelling an absent key is a no-op.
	Cancel(key TimerKey)
	// CancelScope sweeps every timer sharing a scope. No timer may outlive
	// the match or room it was armed for.
	CancelScope(scope string)
}

// Registry is the wall-clock Scheduler backed by time.AfterFunc.
type Registry struct {
	mu     sync.Mutex
	gen    uint64
	timers map[TimerKey]*registryTimer
}

// registryTimer tags each armed timer with a generation. A callback whose
// timer fired concurrently with its own replacement sees a generation
// mismatch and must not run or touch the replacement's entry.
type registryTimer struct {
	t   *time.Timer
	gen uint64
}

func NewRegistry() *Registry {
	return &Registry{timers: make(map[TimerKey]*registryTimer)}
}

func (r *Registry) Schedule(key TimerKey, d time.Duration, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.timers[key]; ok {
		old.t.Stop()
	}
	r.gen++
	gen := r.gen
	entry := &registryTimer{gen: gen}
	entry.t = time.AfterFunc(d, func() {
		r.mu.Lock()
		cur, ok := r.timers[key]
		if !ok || cur.gen != gen {
			// Replaced or cancelled while this callback was in flight.
			r.mu.Unlock()
			return
		}
		// Remove before running so fn can re-arm the same key.
		delete(r.timers, key)
		r.mu.Unlock()
		fn()
	})
	r.timers[key] = entry
}

func (r *Registry) Cancel(key TimerKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.timers[key]; ok {
		entry.t.Stop()
		delete(r.timers, key)
	}
}

func (r *Registry) CancelScope(scope string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, entry := range r.timers {
		if key.Scope == scope {
			entry.t.Stop()
			delete(r.timers, key)
		}
	}
}

// Stop cancels everything. Used at process shutdown.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, entry := range r.timers {
		entry.t.Stop()
		delete(r.timers, key)
	}
}

// Pending reports the number of armed timers.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}
