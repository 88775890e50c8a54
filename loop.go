package corort

import (
	"sync"
	"sync/atomic"
	"time"
)

// runningStates lists the states Shutdown can transition out of.
var runningStates = []LoopState{StateRunning, StateSleeping}

// Loop is a single-threaded, per-OS-thread scheduler: the C4 Event Loop.
// It owns a Poller (C1), a timer queue (C2) and a user-event table (C3),
// and drives one Task resumption at a time, synchronously, on whichever
// goroutine calls Run. Grounded on the teacher's Loop (eventloop/loop.go),
// trimmed of its dual fast-path/io-mode optimization layer: this runtime
// always needs a real kernel-pollable wake-up descriptor (spec §4.3), so
// the teacher's channel-only fast path has no equivalent requirement here.
type Loop struct {
	id    LoopID
	group *Group
	state *runState

	poller Poller
	wakeDesc *wakeDescriptor
	wakeID EventID

	timers *timerQueue
	events *userEventTable

	resume      chunkedQueue
	crossResume crossThreadQueue
	cleanup     chunkedQueue

	ids   idAllocator
	start time.Time
	clock func() int64

	pendingIO atomic.Int64

	log Logger

	closeOnce sync.Once
	closeErr  error
}

// LoopOption configures a Loop at construction, per the functional-options
// pattern the teacher uses throughout (eventloop/options.go).
type LoopOption interface {
	applyLoop(*loopConfig)
}

type loopConfig struct {
	group  *Group
	clock  func() int64
	logger Logger
}

type loopOptionFunc func(*loopConfig)

func (f loopOptionFunc) applyLoop(c *loopConfig) { f(c) }

// WithGroup overrides the Group a Loop registers itself into. Defaults to
// the process-wide defaultGroup; tests use a private Group to avoid
// cross-test id collisions affecting dispatch.
func WithGroup(g *Group) LoopOption {
	return loopOptionFunc(func(c *loopConfig) { c.group = g })
}

// WithClock overrides the monotonic millisecond clock a Loop uses for
// timer deadlines. Intended for deterministic tests.
func WithClock(clock func() int64) LoopOption {
	return loopOptionFunc(func(c *loopConfig) { c.clock = clock })
}

// WithLogger attaches a structured logger. Defaults to a no-op logger.
func WithLogger(l Logger) LoopOption {
	return loopOptionFunc(func(c *loopConfig) { c.logger = l })
}

// NewLoop constructs and initializes a Loop: opens its Poller, creates its
// wake-up descriptor and arms it for read-interest, and registers the loop
// with its Group. The caller must eventually call Close.
func NewLoop(opts ...LoopOption) (*Loop, error) {
	cfg := loopConfig{group: defaultGroup, logger: nopLogger{}}
	for _, o := range opts {
		o.applyLoop(&cfg)
	}
	if cfg.clock == nil {
		start := time.Now()
		cfg.clock = func() int64 { return time.Since(start).Milliseconds() }
	}

	l := &Loop{
		group:  cfg.group,
		state:  newRunState(),
		poller: newPoller(),
		timers: newTimerQueue(),
		events: newUserEventTable(),
		clock:  cfg.clock,
		log:    cfg.logger,
		start:  time.Now(),
	}

	if err := l.poller.Init(); err != nil {
		return nil, err
	}
	wake, err := newWakeDescriptor()
	if err != nil {
		_ = l.poller.Close()
		return nil, err
	}
	l.wakeDesc = wake
	l.wakeID = l.ids.next1()
	if err := l.poller.Arm(l.wakeDesc.readFD(), IOEventRead, l.wakeID, l.onWakeReadable); err != nil {
		_ = l.wakeDesc.close()
		_ = l.poller.Close()
		return nil, err
	}
	if err := l.poller.Trim(); err != nil {
		_ = l.wakeDesc.close()
		_ = l.poller.Close()
		return nil, err
	}

	l.id = l.group.register(l)
	return l, nil
}

// ID returns the loop's process-wide identifier, used by the Dispatcher
// and cross-loop CancellationToken subscriptions.
func (l *Loop) ID() LoopID { return l.id }

// Group returns the loop's registry, the routing table Lock, Condition,
// CancellationToken and Dispatcher all use to reach a specific loop by id
// without holding a raw pointer across a goroutine boundary.
func (l *Loop) Group() *Group { return l.group }

// nowMs returns the current reading of the loop's monotonic clock.
func (l *Loop) nowMs() int64 { return l.clock() }

// nextEventID allocates a fresh loop-local event id. Only ever called from
// the owning goroutine.
func (l *Loop) nextEventID() EventID { return l.ids.next1() }

// onWakeReadable is armed as permanent read-interest on the wake
// descriptor. It only drains the descriptor's counter; the actual draining
// of the user-event table and cross-thread resume queue happens
// unconditionally once per tick (step 4), since a tick with timeout=0
// triggered by pending local work may run without the wake descriptor
// ever becoming readable.
func (l *Loop) onWakeReadable(ready IOEvents, err error) {
	if err != nil {
		return
	}
	l.wakeDesc.drain()
	_ = l.poller.Arm(l.wakeDesc.readFD(), IOEventRead, l.wakeID, l.onWakeReadable)
}

// wake signals the loop's wake-up descriptor. Safe from any goroutine.
func (l *Loop) wake() {
	_ = l.wakeDesc.signal()
}

// pushResume enqueues fn on the cross-thread resume queue so it runs on
// l's next tick. It does not wake the loop; callers follow it with wake.
// Safe from any goroutine.
func (l *Loop) pushResume(fn func()) {
	l.crossResume.Push(fn)
}

// Submit is the external, cross-thread entry point for "run fn on this
// loop's goroutine soon." Returns ErrInvalidState if the loop is no longer
// accepting work.
func (l *Loop) Submit(fn func()) error {
	if !l.state.CanAcceptWork() {
		return ErrInvalidState
	}
	l.pushResume(fn)
	l.wake()
	return nil
}

// ScheduleTimer arms a one-shot timer firing fn (on the loop's own
// goroutine, via the resume queue) once nowMs() >= deadline. Returns the
// EventID so the caller can cancel it with CancelTimer.
func (l *Loop) ScheduleTimer(d time.Duration, fn func()) EventID {
	id := l.nextEventID()
	deadline := l.nowMs() + d.Milliseconds()
	l.timers.Schedule(deadline, id, func() {
		l.resume.Push(fn)
	})
	return id
}

// CancelTimer invalidates a previously scheduled timer. Returns false if
// it already fired or was already canceled.
func (l *Loop) CancelTimer(id EventID) bool {
	return l.timers.Invalidate(id)
}

// ArmIO registers interest in dir for fd; cb fires on the loop's own
// goroutine via the resume queue, preserving the "resume happens only in
// step 6" ordering used for timers and user events.
func (l *Loop) ArmIO(fd int, dir IOEvents, cb func(ready IOEvents, err error)) (EventID, error) {
	id := l.nextEventID()
	err := l.poller.Arm(fd, dir, id, func(ready IOEvents, cbErr error) {
		l.decPendingIO()
		l.resume.Push(func() { cb(ready, cbErr) })
	})
	if err != nil {
		return 0, err
	}
	l.incPendingIO()
	return id, nil
}

// DisarmIO cancels a pending Arm before it fires.
func (l *Loop) DisarmIO(fd int, dir IOEvents, id EventID) bool {
	if !l.poller.Disarm(fd, dir, id) {
		return false
	}
	l.decPendingIO()
	return true
}

// RegisterUserEvent records a cross-thread-reachable suspension. resume is
// invoked on this loop's goroutine, via the resume queue, once Fire
// satisfies predicate (or immediately on first fire if predicate is nil).
func (l *Loop) RegisterUserEvent(predicate func() bool, resume func(err error)) EventID {
	id := l.nextEventID()
	l.events.Register(id, predicate, func(err error) {
		l.resume.Push(func() { resume(err) })
	})
	return id
}

// DeregisterUserEvent removes a suspension without resuming it.
func (l *Loop) DeregisterUserEvent(id EventID) bool {
	return l.events.Deregister(id)
}

// FireUserEvent is the local (same-loop) fast path for posting a fire;
// for cross-loop delivery use Group.PostFire, which also signals the
// wake-up descriptor.
func (l *Loop) FireUserEvent(id EventID) {
	l.events.Fire(id)
}

// PushCleanup registers fn to run at the end of the current tick, after
// every collected resumption has run to its next suspend point (C11).
func (l *Loop) PushCleanup(fn func()) {
	l.cleanup.Push(fn)
}

// armedCount is the first half of invariant 1 in spec §8: total armed
// events across all three tables.
func (l *Loop) armedCount() int {
	// The poller doesn't expose a direct count; IO waiters armed through
	// ArmIO are counted by pendingIO instead. The loop's own wake-up
	// descriptor is armed on the poller directly and is not counted.
	return l.timers.Len() + l.events.Len() + int(l.pendingIO.Load())
}

// pendingIO tracks outstanding ArmIO calls not yet fired/disarmed, purely
// for the armed-events invariant and termination check; ArmIO increments
// it, and the waiter's callback or a successful DisarmIO decrements it.
func (l *Loop) incPendingIO() { l.pendingIO.Add(1) }
func (l *Loop) decPendingIO() { l.pendingIO.Add(-1) }

// Run drives ticks until the termination condition holds: no armed
// events, an empty resume queue (local and cross-thread) and an empty
// cleanup list. Safe to call only once per Loop, from the goroutine that
// is to become its owning goroutine.
func (l *Loop) Run() error {
	if !l.state.TryTransition(StateAwake, StateRunning) {
		return ErrInvalidState
	}
	for {
		if l.state.Load() == StateTerminating {
			l.drainShutdown()
			break
		}
		if l.isQuiescent() {
			break
		}
		l.tick()
	}
	l.state.Store(StateTerminated)
	l.teardown()
	return nil
}

func (l *Loop) isQuiescent() bool {
	return l.armedCount() == 0 && l.resume.Len() == 0 && l.crossResume.Len() == 0 && l.cleanup.Len() == 0
}

// tick runs one iteration of the seven steps in spec §4.4.
func (l *Loop) tick() {
	// 1. compute timeout
	timeout := -1
	if d, ok := l.timers.PeekDeadline(); ok {
		remaining := d - l.nowMs()
		if remaining < 0 {
			remaining = 0
		}
		timeout = int(remaining)
	}
	if l.resume.Len() > 0 || l.crossResume.Len() > 0 {
		timeout = 0
	}

	// 2. trim poller state
	_ = l.poller.Trim()

	// 3. wait; ready IO callbacks push onto l.resume
	l.state.TryTransition(StateRunning, StateSleeping)
	_, _ = l.poller.Wait(timeout)
	l.state.TryTransition(StateSleeping, StateRunning)

	// 4. drain cross-thread resume queue and fired user events
	l.crossResume.DrainInto(&l.resume)
	for _, fn := range l.events.Drain() {
		l.resume.Push(fn)
	}

	// 5. fire due timers (pushes onto l.resume via the closures captured
	// in ScheduleTimer)
	l.timers.FireDue(l.nowMs())

	// 6. resume collected frames, FIFO, one batch per tick so newly
	// yielded work is considered again on the next tick rather than
	// starving the poller.
	batch := l.resume.Len()
	for i := 0; i < batch; i++ {
		fn, ok := l.resume.Pop()
		if !ok {
			break
		}
		l.safeRun(fn)
	}

	// 7. destroy cleanup-listed frames
	cleanupBatch := l.cleanup.Len()
	for i := 0; i < cleanupBatch; i++ {
		fn, ok := l.cleanup.Pop()
		if !ok {
			break
		}
		l.safeRun(fn)
	}
}

// safeRun recovers a panicking continuation so one failing Task cannot
// take down the whole loop; it is reported through the log sink, mirroring
// spec §4.6's "runtime's failure sink (component log, configurable)" for
// detached tasks.
func (l *Loop) safeRun(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("recovered panic in loop tick", "loop_id", l.id, "panic", r)
		}
	}()
	fn()
}

// Shutdown requests termination: the loop will reject every pending user
// event on its next opportunity and Run will return. Pending timers and
// armed I/O waiters are not rejected; they are dropped with the loop.
// Safe to call from any goroutine, any number of times.
func (l *Loop) Shutdown() {
	l.state.TransitionAny(runningStates, StateTerminating)
	if l.state.Load() == StateAwake {
		l.state.TryTransition(StateAwake, StateTerminating)
	}
	l.wake()
}

// drainShutdown rejects every pending user event with ErrInvalidState so
// no user-event awaiter hangs forever past Shutdown; timers and armed I/O
// are left untouched and never fire. Each waiter still resumes with its
// own plain ErrInvalidState (a waiter only cares about why it was woken,
// not about every other waiter rejected alongside it); the rejections are
// additionally collected into an AggregateError and logged once, so a
// shutdown that cut off pending work leaves a record of how much.
func (l *Loop) drainShutdown() {
	rejected := l.events.RejectAll()
	var errs []error
	for _, ev := range rejected {
		ev := ev
		errs = append(errs, ErrInvalidState)
		l.safeRun(func() { ev.resume(ErrInvalidState) })
	}
	if len(errs) > 0 {
		l.log.Error("shutdown rejected pending events", "loop_id", l.id, "error", &AggregateError{Errors: errs})
	}
	for {
		fn, ok := l.resume.Pop()
		if !ok {
			break
		}
		l.safeRun(fn)
	}
	l.crossResume.DrainInto(&l.resume)
	for {
		fn, ok := l.resume.Pop()
		if !ok {
			break
		}
		l.safeRun(fn)
	}
	for {
		fn, ok := l.cleanup.Pop()
		if !ok {
			break
		}
		l.safeRun(fn)
	}
}

// teardown deregisters from the group and closes the poller and wake
// descriptor, with the close happening under the group's write lock (via
// deregisterAndTeardown) so it can't race an in-flight cross-loop
// PostFire/PostResume. Idempotent.
func (l *Loop) teardown() {
	l.closeOnce.Do(func() {
		l.group.deregisterAndTeardown(l.id, func() {
			l.closeErr = l.wakeDesc.close()
			if err := l.poller.Close(); err != nil && l.closeErr == nil {
				l.closeErr = err
			}
		})
	})
}

// Close requests shutdown and blocks until torn down if Run is not
// currently being driven by the caller (tests that never call Run still
// need to release the poller fd and wake descriptor).
func (l *Loop) Close() error {
	if l.state.Load() == StateAwake {
		l.state.TryTransition(StateAwake, StateTerminated)
		l.teardown()
		return l.closeErr
	}
	l.Shutdown()
	return nil
}
