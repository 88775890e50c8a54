package corort

// IOEvents is a bitmask of poller readiness conditions.
type IOEvents uint32

const (
	// IOEventRead indicates a descriptor is ready for reading (or, for a
	// listening socket, ready to accept).
	IOEventRead IOEvents = 1 << iota
	// IOEventWrite indicates a descriptor is ready for writing.
	IOEventWrite
	// IOEventError indicates an error condition reported alongside
	// readiness; delivered to whichever direction was armed.
	IOEventError
	// IOEventHangup indicates the peer closed its end of the connection.
	IOEventHangup
)

// IOCallback is invoked once, synchronously on the Loop goroutine that owns
// the Poller, when the direction it was armed for becomes ready. The epoll
// and kqueue backends always pass a nil err; error and hang-up conditions
// are reported through the IOEventError and IOEventHangup bits of ready.
type IOCallback func(ready IOEvents, err error)

// fdWaiter is a single outstanding Arm call, keyed by the EventID the
// caller used to register it so Disarm can find it by identity instead of
// by position.
type fdWaiter struct {
	id EventID
	cb IOCallback
}

// fdWaiters holds every pending arm for one fd, split by direction, plus
// the kernel interest mask as of the last trim. Arm never replaces a
// pending waiter on the same direction: it queues behind it. Per spec
// §4.1's wait() contract, a readiness report pops exactly one waiter from
// the head of the matching queue; any remaining waiters stay queued and
// get their turn on a later Wait call (the poller is run in level-triggered
// mode on both backends — no EPOLLET/EV_CLEAR — so readiness keeps being
// reported every call for as long as the condition holds, giving each
// queued waiter a subsequent chance without needing a fresh kernel edge).
type fdWaiters struct {
	read  []fdWaiter
	write []fdWaiter

	// kernelInterest is the interest mask last synced to the kernel for
	// this fd, used by trim to emit ADD/MOD/DEL transitions instead of a
	// syscall per Arm/Disarm call.
	kernelInterest IOEvents
}

func (w *fdWaiters) empty() bool {
	return w == nil || (len(w.read) == 0 && len(w.write) == 0)
}

// wantedInterest is the interest the queue state demands right now,
// independent of what the kernel currently knows (kernelInterest).
func (w *fdWaiters) wantedInterest() IOEvents {
	var ev IOEvents
	if len(w.read) > 0 {
		ev |= IOEventRead
	}
	if len(w.write) > 0 {
		ev |= IOEventWrite
	}
	return ev
}

func (w *fdWaiters) push(dir IOEvents, fw fdWaiter) {
	switch dir {
	case IOEventRead:
		w.read = append(w.read, fw)
	case IOEventWrite:
		w.write = append(w.write, fw)
	}
}

// popHead pops and returns the single waiter at the head of dir's queue,
// per spec §4.1: "for each pair, pop one event from the head of the
// matching queue." ok is false if dir's queue is empty.
func (w *fdWaiters) popHead(dir IOEvents) (fw fdWaiter, ok bool) {
	var list *[]fdWaiter
	switch dir {
	case IOEventRead:
		list = &w.read
	case IOEventWrite:
		list = &w.write
	default:
		return fdWaiter{}, false
	}
	if len(*list) == 0 {
		return fdWaiter{}, false
	}
	fw = (*list)[0]
	*list = (*list)[1:]
	return fw, true
}

func (w *fdWaiters) remove(dir IOEvents, id EventID) bool {
	var list *[]fdWaiter
	switch dir {
	case IOEventRead:
		list = &w.read
	case IOEventWrite:
		list = &w.write
	default:
		return false
	}
	for i, fw := range *list {
		if fw.id == id {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return true
		}
	}
	return false
}

// Poller is the per-Loop readiness multiplexer: epoll on Linux, kqueue on
// Darwin. It is owned exclusively by one Loop's goroutine; Arm, Disarm,
// Trim and Wait are never called concurrently, matching the
// single-threaded-per-tick invariant of the runtime as a whole.
//
// Arm and Disarm are pure bookkeeping: they never touch the kernel
// directly, only mark the descriptor dirty. Trim reconciles the kernel's
// registered interest with the queue-derived interest for every
// descriptor touched since the last Trim, emitting exactly one ADD/MOD/DEL
// syscall per changed descriptor. This means a tick that arms and disarms
// the same (fd, direction) several times, or arms a second waiter behind
// one already satisfied by the kernel's current interest, costs at most
// one syscall for that descriptor rather than one per call.
type Poller interface {
	// Init opens the underlying kernel facility.
	Init() error
	// Close releases the underlying kernel facility. Any fd still
	// registered is left to the caller to close.
	Close() error
	// Arm registers interest in dir (IOEventRead or IOEventWrite) for fd,
	// queuing behind any waiter already armed on that direction. cb fires
	// at most once, on readiness; a waiter removed by Disarm or still
	// queued when the poller is closed is never called back. Does not
	// touch the kernel; call Trim to sync.
	Arm(fd int, dir IOEvents, id EventID, cb IOCallback) error
	// Disarm removes a single previously-armed waiter by id, without
	// invoking its callback. It reports whether a waiter was found. Does
	// not touch the kernel; call Trim to sync.
	Disarm(fd int, dir IOEvents, id EventID) bool
	// Trim reconciles kernel-registered interest with queue-derived
	// interest for every descriptor touched by Arm/Disarm since the last
	// Trim, and drops bookkeeping for any descriptor left with no
	// waiters at all.
	Trim() error
	// Wait blocks until at least one armed direction becomes ready, a
	// signal interrupts the wait, or timeoutMs elapses (-1 blocks
	// indefinitely, 0 polls without blocking). It returns the number of
	// fds that had ready callbacks dispatched.
	Wait(timeoutMs int) (int, error)
}
