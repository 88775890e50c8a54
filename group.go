package corort

import "sync"

// Group is the process-wide directory of live Loops, keyed by LoopID.
// Grounded on spec §4.5 / the teacher's registry pattern, simplified from
// weak-pointer scavenging (eventloop/registry.go) to explicit
// register/deregister since a Loop's lifetime is bounded by its own Run
// call rather than by garbage collection.
//
// The group lock is held across the short critical sections of register,
// deregisterAndTeardown and PostFire/PostResume: looking up a destination
// loop and posting to its user-event table or resume queue must be atomic
// with respect to that loop deregistering, or a post could race the wake-
// up descriptor's close and write to an already-closed (or since reused)
// fd. PostFire/PostResume hold the read lock across their entire
// lookup-then-post sequence, and deregisterAndTeardown runs the loop's
// teardown (closing its wake-up descriptor and poller) under the write
// lock, so the two can never interleave.
type Group struct {
	mu    sync.RWMutex
	loops map[LoopID]*Loop
}

// defaultGroup is the process-wide singleton group every Loop registers
// itself into on construction and leaves on Close, mirroring spec's
// "process-wide registry" and "per-thread lazy singleton" framing without
// the per-OS-thread affinity Go's goroutine scheduler makes meaningless.
var defaultGroup = &Group{loops: make(map[LoopID]*Loop)}

func newGroup() *Group {
	return &Group{loops: make(map[LoopID]*Loop)}
}

// register adds loop under a freshly allocated id.
func (g *Group) register(l *Loop) LoopID {
	id := allocLoopID()
	g.mu.Lock()
	g.loops[id] = l
	g.mu.Unlock()
	return id
}

// deregisterAndTeardown removes loop's id and, while still holding the
// group's write lock, runs teardown. PostFire/PostResume hold the read
// lock across their entire lookup-then-fire/wake critical section, so the
// write lock here excludes any in-flight cross-loop post from running
// concurrently with teardown (e.g. closing the wake-up descriptor) —
// spec §4.5's "lookup and the write-to-wake-up must be atomic with respect
// to deregistration." Safe to call more than once; teardown itself must
// be idempotent (the caller gates it with sync.Once).
func (g *Group) deregisterAndTeardown(id LoopID, teardown func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.loops, id)
	teardown()
}

// lookup returns the loop registered under id, or nil if it has
// deregistered (exited).
func (g *Group) lookup(id LoopID) *Loop {
	g.mu.RLock()
	l := g.loops[id]
	g.mu.RUnlock()
	return l
}

// PostFire looks up loopID and, if it is still registered, atomically
// records a user-event fire against eventID on it and signals its wake-up
// descriptor. The read lock is held across the whole lookup-then-fire/wake
// sequence, not just the lookup, so it cannot interleave with a concurrent
// deregisterAndTeardown closing the target loop's wake-up descriptor.
// Reports whether the target loop was found. The callers in this package
// (Lock, Condition, CancellationController, Execute) ignore the result, so
// a fire aimed at a deregistered loop is silently dropped.
func (g *Group) PostFire(loopID LoopID, eventID EventID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	l := g.loops[loopID]
	if l == nil {
		return false
	}
	l.events.Fire(eventID)
	l.wake()
	return true
}

// PostResume looks up loopID and, if still registered, pushes fn onto its
// resume queue and signals its wake-up descriptor so fn runs on the
// destination loop's next tick. Nothing in this package calls it; the
// Dispatcher hands off through Loop.Submit instead. As with PostFire, the read lock spans the fire/wake so it
// can't race a concurrent deregisterAndTeardown.
func (g *Group) PostResume(loopID LoopID, fn func()) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	l := g.loops[loopID]
	if l == nil {
		return false
	}
	l.pushResume(fn)
	l.wake()
	return true
}
