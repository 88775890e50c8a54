//go:build linux

package corort

import (
	"golang.org/x/sys/unix"
)

// epollPoller is the Linux Poller, grounded on the teacher's FastPoller
// (eventloop/poller_linux.go) but reworked from a single callback per fd
// to per-direction FIFOs of waiters with deferred trim, matching the
// arm/wait/trim contract: Arm and Disarm only touch bookkeeping, Trim
// batches the ADD/MOD/DEL epoll_ctl calls for whatever changed since the
// last tick.
type epollPoller struct {
	epfd     int
	eventBuf [256]unix.EpollEvent
	fds      map[int]*fdWaiters
	dirty    map[int]struct{}
	closed   bool
}

func newPoller() Poller {
	return &epollPoller{
		fds:   make(map[int]*fdWaiters),
		dirty: make(map[int]struct{}),
	}
}

func (p *epollPoller) Init() error {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return WrapError(ErrIOFailure, "epoll_create1: %v", err)
	}
	p.epfd = epfd
	return nil
}

func (p *epollPoller) Close() error {
	p.closed = true
	return unix.Close(p.epfd)
}

func (p *epollPoller) Arm(fd int, dir IOEvents, id EventID, cb IOCallback) error {
	if p.closed {
		return ErrInvalidState
	}
	w, ok := p.fds[fd]
	if !ok {
		w = &fdWaiters{}
		p.fds[fd] = w
	}
	w.push(dir, fdWaiter{id: id, cb: cb})
	p.dirty[fd] = struct{}{}
	return nil
}

func (p *epollPoller) Disarm(fd int, dir IOEvents, id EventID) bool {
	w, ok := p.fds[fd]
	if !ok {
		return false
	}
	if !w.remove(dir, id) {
		return false
	}
	p.dirty[fd] = struct{}{}
	return true
}

// Trim reconciles kernel interest with queue-derived interest for every
// dirty descriptor, emitting one epoll_ctl per changed descriptor.
func (p *epollPoller) Trim() error {
	for fd := range p.dirty {
		w, ok := p.fds[fd]
		if !ok {
			continue
		}
		wanted := w.wantedInterest()
		if err := p.syncInterest(fd, w, wanted); err != nil {
			return err
		}
		if wanted == 0 {
			delete(p.fds, fd)
		}
	}
	clear(p.dirty)
	return nil
}

func (p *epollPoller) syncInterest(fd int, w *fdWaiters, wanted IOEvents) error {
	before := w.kernelInterest
	if before == wanted {
		return nil
	}
	var op int
	var ev *unix.EpollEvent
	switch {
	case before == 0 && wanted != 0:
		op = unix.EPOLL_CTL_ADD
		ev = &unix.EpollEvent{Events: eventsToEpoll(wanted), Fd: int32(fd)}
	case before != 0 && wanted == 0:
		op = unix.EPOLL_CTL_DEL
	default:
		op = unix.EPOLL_CTL_MOD
		ev = &unix.EpollEvent{Events: eventsToEpoll(wanted), Fd: int32(fd)}
	}
	if err := unix.EpollCtl(p.epfd, op, fd, ev); err != nil {
		return WrapError(ErrIOFailure, "epoll_ctl: %v", err)
	}
	w.kernelInterest = wanted
	return nil
}

func (p *epollPoller) Wait(timeoutMs int) (int, error) {
	if p.closed {
		return 0, ErrInvalidState
	}
	n, err := unix.EpollWait(p.epfd, p.eventBuf[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, WrapError(ErrIOFailure, "epoll_wait: %v", err)
	}
	dispatched := 0
	var firstErr error
	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Fd)
		ready := epollToEvents(p.eventBuf[i].Events)
		w, ok := p.fds[fd]
		if !ok {
			continue
		}
		var fired []fdWaiter
		if ready&(IOEventRead|IOEventError|IOEventHangup) != 0 {
			if fw, ok := w.popHead(IOEventRead); ok {
				fired = append(fired, fw)
			}
		}
		if ready&(IOEventWrite|IOEventError|IOEventHangup) != 0 {
			if fw, ok := w.popHead(IOEventWrite); ok {
				fired = append(fired, fw)
			}
		}
		if len(fired) == 0 && ready&(IOEventError|IOEventHangup) != 0 && firstErr == nil {
			// readiness we can't attribute to either queued direction
			firstErr = WrapError(ErrIOFailure, "unattributable readiness on fd %d", fd)
		}
		if len(fired) > 0 {
			dispatched++
			p.dirty[fd] = struct{}{}
		}
		for _, fw := range fired {
			fw.cb(ready, nil)
		}
	}
	return dispatched, firstErr
}

func eventsToEpoll(events IOEvents) uint32 {
	var e uint32
	if events&IOEventRead != 0 {
		e |= unix.EPOLLIN
	}
	if events&IOEventWrite != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func epollToEvents(e uint32) IOEvents {
	var events IOEvents
	if e&unix.EPOLLIN != 0 {
		events |= IOEventRead
	}
	if e&unix.EPOLLOUT != 0 {
		events |= IOEventWrite
	}
	if e&unix.EPOLLERR != 0 {
		events |= IOEventError
	}
	if e&unix.EPOLLHUP != 0 {
		events |= IOEventHangup
	}
	return events
}
