//go:build darwin

package corort

import (
	"golang.org/x/sys/unix"
)

// kqueuePoller is the Darwin Poller, grounded on the teacher's FastPoller
// (eventloop/poller_darwin.go), reworked the same way as the Linux poller:
// per-direction FIFOs of waiters with deferred trim instead of a syscall
// per Arm/Disarm call.
type kqueuePoller struct {
	kq       int
	eventBuf [256]unix.Kevent_t
	fds      map[int]*fdWaiters
	dirty    map[int]struct{}
	closed   bool
}

func newPoller() Poller {
	return &kqueuePoller{
		fds:   make(map[int]*fdWaiters),
		dirty: make(map[int]struct{}),
	}
}

func (p *kqueuePoller) Init() error {
	kq, err := unix.Kqueue()
	if err != nil {
		return WrapError(ErrIOFailure, "kqueue: %v", err)
	}
	unix.CloseOnExec(kq)
	p.kq = kq
	return nil
}

func (p *kqueuePoller) Close() error {
	p.closed = true
	return unix.Close(p.kq)
}

func (p *kqueuePoller) Arm(fd int, dir IOEvents, id EventID, cb IOCallback) error {
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

func (p *kqueuePoller) Disarm(fd int, dir IOEvents, id EventID) bool {
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

func (p *kqueuePoller) Trim() error {
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

func (p *kqueuePoller) syncInterest(fd int, w *fdWaiters, wanted IOEvents) error {
	before := w.kernelInterest
	if before == wanted {
		return nil
	}
	var changes []unix.Kevent_t
	if before&IOEventRead != 0 && wanted&IOEventRead == 0 {
		changes = append(changes, dirToKevent(fd, IOEventRead, unix.EV_DELETE))
	} else if before&IOEventRead == 0 && wanted&IOEventRead != 0 {
		changes = append(changes, dirToKevent(fd, IOEventRead, unix.EV_ADD|unix.EV_ENABLE))
	}
	if before&IOEventWrite != 0 && wanted&IOEventWrite == 0 {
		changes = append(changes, dirToKevent(fd, IOEventWrite, unix.EV_DELETE))
	} else if before&IOEventWrite == 0 && wanted&IOEventWrite != 0 {
		changes = append(changes, dirToKevent(fd, IOEventWrite, unix.EV_ADD|unix.EV_ENABLE))
	}
	if len(changes) > 0 {
		if _, err := unix.Kevent(p.kq, changes, nil, nil); err != nil {
			return WrapError(ErrIOFailure, "kevent: %v", err)
		}
	}
	w.kernelInterest = wanted
	return nil
}

func (p *kqueuePoller) Wait(timeoutMs int) (int, error) {
	if p.closed {
		return 0, ErrInvalidState
	}
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		ts = &unix.Timespec{
			Sec:  int64(timeoutMs / 1000),
			Nsec: int64((timeoutMs % 1000) * 1000000),
		}
	}
	n, err := unix.Kevent(p.kq, nil, p.eventBuf[:], ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, WrapError(ErrIOFailure, "kevent wait: %v", err)
	}
	dispatched := 0
	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Ident)
		dir := keventToDir(&p.eventBuf[i])
		ready := dir
		if p.eventBuf[i].Flags&unix.EV_ERROR != 0 {
			ready |= IOEventError
		}
		if p.eventBuf[i].Flags&unix.EV_EOF != 0 {
			ready |= IOEventHangup
		}
		w, ok := p.fds[fd]
		if !ok {
			continue
		}
		var fired []fdWaiter
		if fw, ok := w.popHead(dir); ok {
			fired = append(fired, fw)
		}
		if len(fired) > 0 {
			dispatched++
			p.dirty[fd] = struct{}{}
		}
		for _, fw := range fired {
			fw.cb(ready, nil)
		}
	}
	return dispatched, nil
}

func dirToKevent(fd int, dir IOEvents, flags uint16) unix.Kevent_t {
	var filter int16
	switch dir {
	case IOEventRead:
		filter = unix.EVFILT_READ
	case IOEventWrite:
		filter = unix.EVFILT_WRITE
	}
	return unix.Kevent_t{Ident: uint64(fd), Filter: filter, Flags: flags}
}

func keventToDir(kev *unix.Kevent_t) IOEvents {
	switch kev.Filter {
	case unix.EVFILT_READ:
		return IOEventRead
	case unix.EVFILT_WRITE:
		return IOEventWrite
	default:
		return 0
	}
}
