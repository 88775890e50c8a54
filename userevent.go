package corort

import "sync"

// userEvent is a suspension waiting on something that can only be
// resolved by external, possibly cross-thread, code: a lock release, a
// condvar notify, an executor job completing, a cancellation token
// firing. predicate decides whether a given fire actually satisfies the
// waiter (nil means "always satisfied"); resume is invoked on the owning
// loop's goroutine once it is.
type userEvent struct {
	id        EventID
	predicate func() bool
	resume    func(err error)
}

// userEventTable is the per-loop table backing C3: the single point
// through which every cross-loop interaction (locks, condvars,
// dispatcher, executor, cross-loop cancel) is delivered. Grounded on the
// teacher's registry.go id-keyed map, generalized with a pending-fire FIFO
// per spec §4.3 ("auxiliary queue of fire-id notifications arriving on the
// wake-up descriptor") and a predicate so a fire that doesn't actually
// satisfy its waiter re-arms silently instead of resuming spuriously.
//
// Registration and fires can race across threads, so the table carries its
// own mutex; the loop's own tick only takes it briefly, at drain time, per
// the concurrency model in §5.
type userEventTable struct {
	mu           sync.Mutex
	events       map[EventID]*userEvent
	pendingFires []EventID
}

func newUserEventTable() *userEventTable {
	return &userEventTable{events: make(map[EventID]*userEvent)}
}

// Register records a new suspension. Called only from the owning loop's
// goroutine (a Task can only suspend on its own loop).
func (t *userEventTable) Register(id EventID, predicate func() bool, resume func(err error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events[id] = &userEvent{id: id, predicate: predicate, resume: resume}
}

// Deregister removes a suspension without resuming it, e.g. when a bound
// event (timeout, cancel) wins the race for the same primary. Reports
// whether it was still present.
func (t *userEventTable) Deregister(id EventID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.events[id]; !ok {
		return false
	}
	delete(t.events, id)
	return true
}

// Fire records a pending fire against id. Safe to call from any goroutine;
// the caller is responsible for separately signaling the loop's wake-up
// descriptor so Drain actually gets scheduled soon.
func (t *userEventTable) Fire(id EventID) {
	t.mu.Lock()
	t.pendingFires = append(t.pendingFires, id)
	t.mu.Unlock()
}

// Drain pops every pending fire recorded since the last Drain and, for
// each whose target is still registered, evaluates its predicate. A
// satisfied waiter is removed from the table and its resume func returned
// for the loop to run (in FIFO fire order); an unsatisfied one, or one
// whose target already resumed/was canceled, is silently dropped.
func (t *userEventTable) Drain() []func() {
	t.mu.Lock()
	fires := t.pendingFires
	t.pendingFires = nil
	t.mu.Unlock()

	if len(fires) == 0 {
		return nil
	}

	var resumes []func()
	t.mu.Lock()
	for _, id := range fires {
		ev, ok := t.events[id]
		if !ok {
			continue
		}
		if ev.predicate != nil && !ev.predicate() {
			continue // spurious wake-up: stays registered, re-arms silently
		}
		delete(t.events, id)
		resume := ev.resume
		resumes = append(resumes, func() { resume(nil) })
	}
	t.mu.Unlock()
	return resumes
}

// Len reports the number of currently armed user events, for the
// termination condition and the armed-events invariant.
func (t *userEventTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.events)
}

// RejectAll removes every registered event and returns them so the loop
// can settle each of their awaiters with an abort instead of a normal
// result. Used during shutdown.
func (t *userEventTable) RejectAll() []*userEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	events := make([]*userEvent, 0, len(t.events))
	for _, ev := range t.events {
		events = append(events, ev)
	}
	t.events = make(map[EventID]*userEvent)
	t.pendingFires = nil
	return events
}
