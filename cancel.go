package corort

import (
	"errors"
	"sync"
)

// boundEvent is a cancellation core's record of one suspension that has
// accepted this token: the (loop, event id) pair to fire on Cancel, named
// by value rather than a *Loop pointer so cross-thread teardown never
// touches a loop directly — it always goes through that loop's own
// Group, matching spec §9's "arena + index" design note.
type boundEvent struct {
	group   *Group
	loopID  LoopID
	eventID EventID
}

// cancellationCore is the shared state behind every CancellationToken
// copied from the same CancellationController, grounded on libarc's
// utils/cancellation_token.h: a mutex plus a map of bound events keyed by
// event id. Cancel walks the map once and, under each event's own Group
// lock, posts a fire to every loop still registered. The primary event's
// own win/lose guard (each WithCancel call's onceSettle) ensures at most one
// resume even though cancel and the primary completion can race.
type cancellationCore struct {
	mu        sync.Mutex
	canceled  bool
	reason    any
	subs      map[EventID]boundEvent
	localSubs []func(reason any)
}

// CancellationController owns the cancel-side of a token, grounded on the
// W3C AbortController half of eventloop/abort.go's AbortController/
// AbortSignal split, generalized so a Cancel can reach suspensions parked
// on event loops other than the one that created the controller.
type CancellationController struct {
	core *cancellationCore
}

// NewCancellationController creates a controller with a fresh, un-canceled
// token.
func NewCancellationController() *CancellationController {
	return &CancellationController{core: &cancellationCore{subs: make(map[EventID]boundEvent)}}
}

// Token returns the CancellationToken associated with this controller.
// Every call returns a handle to the same shared core.
func (c *CancellationController) Token() *CancellationToken {
	return &CancellationToken{core: c.core}
}

// Cancel marks the token canceled with reason (first call wins; later
// calls are no-ops, matching AbortController.Abort's idempotence) and
// delivers a bound-event fire to every suspension that has subscribed,
// across however many loops they live on. Safe from any goroutine.
func (c *CancellationController) Cancel(reason any) {
	c.core.mu.Lock()
	if c.core.canceled {
		c.core.mu.Unlock()
		return
	}
	c.core.canceled = true
	c.core.reason = reason
	subs := c.core.subs
	c.core.subs = nil
	local := c.core.localSubs
	c.core.localSubs = nil
	c.core.mu.Unlock()

	for _, h := range local {
		h(reason)
	}
	for _, b := range subs {
		b.group.PostFire(b.loopID, b.eventID)
	}
}

// CancellationToken is the subscriber-facing half of C8, grounded on
// eventloop/abort.go's AbortSignal. A token is immutable and freely
// copyable (it only ever holds a pointer to the shared core); its
// destructor must not implicitly cancel — there is none to write, since
// Go has no destructors, which is itself the point: nothing about letting
// a CancellationToken value go out of scope cancels anything.
type CancellationToken struct {
	core *cancellationCore
}

// Canceled reports whether Cancel has been called.
func (t *CancellationToken) Canceled() bool {
	t.core.mu.Lock()
	defer t.core.mu.Unlock()
	return t.core.canceled
}

// Reason returns the value passed to Cancel, or nil if not yet canceled.
func (t *CancellationToken) Reason() any {
	t.core.mu.Lock()
	defer t.core.mu.Unlock()
	return t.core.reason
}

// OnAbort registers a same-loop handler invoked synchronously from
// whichever goroutine calls Cancel (or immediately, if already
// canceled), mirroring eventloop/abort.go's AbortSignal.OnAbort. Intended
// for the local fast path only; cross-loop suspensions use subscribe via
// WithCancel instead.
func (t *CancellationToken) OnAbort(handler func(reason any)) {
	if handler == nil {
		return
	}
	t.core.mu.Lock()
	if t.core.canceled {
		reason := t.core.reason
		t.core.mu.Unlock()
		handler(reason)
		return
	}
	t.core.localSubs = append(t.core.localSubs, handler)
	t.core.mu.Unlock()
}

// subscribe records that eventID, armed on loop, should be fired if this
// token is ever canceled. Returns false immediately (without recording
// anything) if the token is already canceled, so the caller can settle
// its primary suspension as already-canceled instead of waiting for a
// fire that will never come.
func (t *CancellationToken) subscribe(loop *Loop, eventID EventID) bool {
	t.core.mu.Lock()
	defer t.core.mu.Unlock()
	if t.core.canceled {
		return false
	}
	t.core.subs[eventID] = boundEvent{group: loop.Group(), loopID: loop.ID(), eventID: eventID}
	return true
}

// unsubscribe removes a bound event once its suspension has settled via
// its own primary completion, so a later Cancel does not post a fire
// against an event id that has already been deregistered and possibly
// reused.
func (t *CancellationToken) unsubscribe(eventID EventID) {
	t.core.mu.Lock()
	delete(t.core.subs, eventID)
	t.core.mu.Unlock()
}

// WithCancel decorates a suspend-style registration function with
// cancellation support: it races the primary event register installs
// against a bound event subscribed to token, resolving the race with a
// one-shot guard so exactly one of {primary completion, cancel} settles
// the suspension, and tearing down the loser (deregistering the bound
// event, or letting the primary's own cleanup — if any — run via its
// continuation never firing). If token is nil, WithCancel is just
// suspend. Returns ErrCanceled if the token wins, or ErrTimedOut if the
// token was canceled with reason ErrTimedOut (as a Timeout's token is).
func WithCancel[T any](f *Frame, token *CancellationToken, register func(settle func(T, error))) (T, error) {
	if token == nil {
		return suspend[T](f, register)
	}
	cancelErr := func() error {
		if r, ok := token.Reason().(error); ok && errors.Is(r, ErrTimedOut) {
			return ErrTimedOut
		}
		return ErrCanceled
	}
	var once onceSettle
	return suspend[T](f, func(settle func(T, error)) {
		var zero T
		boundID := f.loop.RegisterUserEvent(nil, func(err error) {
			if err == nil {
				err = cancelErr()
			}
			once.do(func() { settle(zero, err) })
		})
		if !token.subscribe(f.loop, boundID) {
			f.loop.DeregisterUserEvent(boundID)
			once.do(func() { settle(zero, cancelErr()) })
			return
		}
		register(func(v T, err error) {
			once.do(func() {
				token.unsubscribe(boundID)
				f.loop.DeregisterUserEvent(boundID)
				settle(v, err)
			})
		})
	})
}

// onceSettle is sync.Once without the allocation-averse fast path's
// atomic load, since the call count here is always 1 or 2 (primary vs
// cancel) — a plain mutex is simpler and just as correct.
type onceSettle struct {
	mu   sync.Mutex
	done bool
}

func (o *onceSettle) do(fn func()) {
	o.mu.Lock()
	if o.done {
		o.mu.Unlock()
		return
	}
	o.done = true
	o.mu.Unlock()
	fn()
}
