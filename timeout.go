package corort

import "time"

// Timeout pairs a private CancellationController with a timer queue entry
// (C2), per spec §4.8: "Timeout = private token + timer heap entry." The
// token it exposes cancels itself with ErrTimedOut once d elapses on the
// owning loop, unless Stop is called first.
type Timeout struct {
	loop       *Loop
	controller *CancellationController
	timerID    EventID
}

// NewTimeout arms a one-shot timer on loop; when it fires, the Timeout's
// token is canceled with reason ErrTimedOut. Must be created from a Frame
// (or other code) already running on loop's own goroutine, matching every
// other loop-local scheduling call in this package.
func NewTimeout(loop *Loop, d time.Duration) *Timeout {
	to := &Timeout{loop: loop, controller: NewCancellationController()}
	to.timerID = loop.ScheduleTimer(d, func() { to.controller.Cancel(ErrTimedOut) })
	return to
}

// Token returns the CancellationToken that fires when the timeout elapses.
func (to *Timeout) Token() *CancellationToken { return to.controller.Token() }

// Stop cancels the pending timer without canceling the token, for the
// common "operation finished before the deadline" path. Returns false if
// the timer had already fired (or was already stopped).
func (to *Timeout) Stop() bool {
	return to.loop.CancelTimer(to.timerID)
}
