package corort

import "sync"

// waitHandle is the (loop id, event id) pair spec §4.5/§9 calls "arena +
// index": every cross-loop-reachable suspension record names its owner by
// this pair rather than a raw pointer, so delivery always goes through
// Group.PostFire/PostResume and a deregistered loop is simply skipped.
type waitHandle struct {
	loopID  LoopID
	eventID EventID
}

// Lock is a coroutine-aware mutex (C7), grounded on libarc's
// locks/lock.h: a held flag plus a FIFO of waiter wake-handles, guarded by
// its own mutex distinct from any loop's internal state. Acquire suspends
// the calling Frame until it becomes holder; Release pops the next FIFO
// waiter (if any) and posts exactly one fire to it, otherwise clears held.
// A Lock may be acquired and released from Frames on different Loops.
type Lock struct {
	group *Group

	mu      sync.Mutex
	held    bool
	waiters []waitHandle
}

// NewLock creates an unheld Lock whose cross-loop wake-ups are delivered
// through loop's Group.
func NewLock(loop *Loop) *Lock {
	return &Lock{group: loop.Group()}
}

// Acquire suspends the calling Frame until it becomes holder. Contract:
// FIFO among concurrent waiters. Acquiring a Lock the caller already holds
// is undefined, per spec §4.7.
func (lk *Lock) Acquire(f *Frame) error {
	lk.mu.Lock()
	if !lk.held {
		lk.held = true
		lk.mu.Unlock()
		return nil
	}
	lk.mu.Unlock()

	_, err := suspend[struct{}](f, func(settle func(struct{}, error)) {
		lk.mu.Lock()
		if !lk.held {
			lk.held = true
			lk.mu.Unlock()
			settle(struct{}{}, nil)
			return
		}
		id := f.loop.RegisterUserEvent(nil, func(err error) { settle(struct{}{}, err) })
		lk.waiters = append(lk.waiters, waitHandle{f.loop.ID(), id})
		lk.mu.Unlock()
	})
	return err
}

// Release pops the next waiter (if any) and posts a user-event fire
// targeting its loop/id, transferring holder status without ever clearing
// held; with no waiters it clears held. Returns ErrInvalidState on
// double-release.
func (lk *Lock) Release() error {
	lk.mu.Lock()
	if !lk.held {
		lk.mu.Unlock()
		return ErrInvalidState
	}
	if len(lk.waiters) == 0 {
		lk.held = false
		lk.mu.Unlock()
		return nil
	}
	next := lk.waiters[0]
	lk.waiters = lk.waiters[1:]
	lk.mu.Unlock()

	lk.group.PostFire(next.loopID, next.eventID)
	return nil
}

// removeWaiter drops h from the FIFO if still present, used when a waiter
// leaves via a path other than being handed the lock (not currently
// reachable for Lock itself — Acquire has no timeout/cancel variant in
// this spec — kept for symmetry with Condition's equivalent and possible
// future CancellationToken-aware AcquireCancelable).
func (lk *Lock) removeWaiter(h waitHandle) bool {
	lk.mu.Lock()
	defer lk.mu.Unlock()
	for i, w := range lk.waiters {
		if w == h {
			lk.waiters = append(lk.waiters[:i], lk.waiters[i+1:]...)
			return true
		}
	}
	return false
}
