package corort

import (
	"sync"
	"time"
)

// Condition is a coroutine-aware condition variable (C7), grounded on
// libarc's locks/condition.h: a FIFO of waiter wake-handles plus a counter
// of outstanding triggers per event id, so a notify that arrives before
// its waiter's user event is actually armed on the poller-driven table is
// not lost. Wait releases lock, suspends until notified (or timed out, or
// canceled), then reacquires lock before returning — the lock is held on
// both entry to and exit from Wait, per spec §4.7.
type Condition struct {
	group *Group

	mu       sync.Mutex
	waiters  []waitHandle
	triggers map[EventID]int
}

// NewCondition creates a Condition whose cross-loop wake-ups are
// delivered through loop's Group.
func NewCondition(loop *Loop) *Condition {
	return &Condition{group: loop.Group(), triggers: make(map[EventID]int)}
}

// consumeTrigger is the predicate every Condition waiter registers: it
// reports (and atomically consumes) whether a notify has been posted for
// id, so a fire that arrives before the predicate is evaluated is not
// lost and a stray fire with no outstanding trigger re-arms silently.
func (c *Condition) consumeTrigger(id EventID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.triggers[id]
	if !ok || n <= 0 {
		return false
	}
	if n == 1 {
		delete(c.triggers, id)
	} else {
		c.triggers[id] = n - 1
	}
	return true
}

func (c *Condition) addWaiter(h waitHandle) {
	c.mu.Lock()
	c.waiters = append(c.waiters, h)
	c.mu.Unlock()
}

// removeWaiter drops h from the FIFO if still present; used by the
// timeout and cancellation paths of Wait, which leave the FIFO without
// having been notified.
func (c *Condition) removeWaiter(h waitHandle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, w := range c.waiters {
		if w == h {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// Wait releases lock, suspends the calling Frame until NotifyOne or
// NotifyAll selects it, then reacquires lock. A waiter leaves the FIFO
// exactly once, per spec §4.7's invariant — here because only the first
// of {notify} can ever fire for a plain Wait (there is no competing
// timeout/cancel event to race against).
func (c *Condition) Wait(f *Frame, lock *Lock) error {
	if err := lock.Release(); err != nil {
		return err
	}
	var id EventID
	_, waitErr := suspend[struct{}](f, func(settle func(struct{}, error)) {
		id = f.loop.RegisterUserEvent(func() bool { return c.consumeTrigger(id) }, func(err error) {
			settle(struct{}{}, err)
		})
		c.addWaiter(waitHandle{f.loop.ID(), id})
	})
	if err := lock.Acquire(f); err != nil && waitErr == nil {
		waitErr = err
	}
	return waitErr
}

// WaitFor is Wait with a timeout attached (spec §4.7's `wait_for`
// variant, §4.8): whichever of {notify, deadline} occurs first wins,
// resolved via a one-shot guard so the loser's table entry is torn down
// rather than left to fire later. Returns ErrTimedOut if the deadline
// wins. The lock is reacquired (and is held on return) regardless of
// which way the race resolved.
func (c *Condition) WaitFor(f *Frame, lock *Lock, d time.Duration) error {
	if err := lock.Release(); err != nil {
		return err
	}

	var (
		once    sync.Once
		id      EventID
		timerID EventID
	)
	_, waitErr := suspend[struct{}](f, func(settle func(struct{}, error)) {
		win := func(settleErr error) {
			once.Do(func() {
				f.loop.DeregisterUserEvent(id)
				f.loop.CancelTimer(timerID)
				c.removeWaiter(waitHandle{f.loop.ID(), id})
				settle(struct{}{}, settleErr)
			})
		}
		id = f.loop.RegisterUserEvent(func() bool { return c.consumeTrigger(id) }, win)
		c.addWaiter(waitHandle{f.loop.ID(), id})
		timerID = f.loop.ScheduleTimer(d, func() { win(ErrTimedOut) })
	})

	if err := lock.Acquire(f); err != nil && waitErr == nil {
		waitErr = err
	}
	return waitErr
}

// WaitCancelable is Wait with a CancellationToken attached (spec §4.7's
// `wait(token)` variant): whichever of {notify, cancel} occurs first
// wins. Returns ErrCanceled if the token wins. The lock is reacquired
// (and held on return) either way.
func (c *Condition) WaitCancelable(f *Frame, lock *Lock, token *CancellationToken) error {
	if err := lock.Release(); err != nil {
		return err
	}

	var id EventID
	_, waitErr := WithCancel[struct{}](f, token, func(settle func(struct{}, error)) {
		id = f.loop.RegisterUserEvent(func() bool { return c.consumeTrigger(id) }, func(err error) { settle(struct{}{}, err) })
		c.addWaiter(waitHandle{f.loop.ID(), id})
	})
	if waitErr == ErrCanceled || waitErr == ErrTimedOut {
		f.loop.DeregisterUserEvent(id)
		c.removeWaiter(waitHandle{f.loop.ID(), id})
	}

	if err := lock.Acquire(f); err != nil && waitErr == nil {
		waitErr = err
	}
	return waitErr
}

// NotifyOne pops one waiter (if any) from the FIFO, records a trigger for
// its event id, and posts a fire. Causes exactly one waiter to eventually
// progress, per spec §8's condvar-liveness property.
func (c *Condition) NotifyOne() {
	c.mu.Lock()
	if len(c.waiters) == 0 {
		c.mu.Unlock()
		return
	}
	next := c.waiters[0]
	c.waiters = c.waiters[1:]
	c.triggers[next.eventID]++
	c.mu.Unlock()

	c.group.PostFire(next.loopID, next.eventID)
}

// NotifyAll pops and fires every current waiter, observed in the FIFO's
// registration order per spec §5 ("A notify_all is observed in
// registration order by the waiters on the originating list").
func (c *Condition) NotifyAll() {
	c.mu.Lock()
	all := c.waiters
	c.waiters = nil
	for _, w := range all {
		c.triggers[w.eventID]++
	}
	c.mu.Unlock()

	for _, w := range all {
		c.group.PostFire(w.loopID, w.eventID)
	}
}
