//go:build linux

package corort

import "golang.org/x/sys/unix"

// wakeDescriptor is the cross-thread wake-up primitive a Loop arms into its
// own Poller so that Submit/Wake calls from other goroutines can interrupt
// a blocked Wait. Linux gets a real eventfd, grounded on the teacher's
// createWakeFd/drainWakeUpPipe (eventloop/wakeup_linux.go); unlike the
// teacher's version this is an instance, not a package-global stub, since
// this runtime supports many concurrent Loops.
type wakeDescriptor struct {
	fd int
}

func newWakeDescriptor() (*wakeDescriptor, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, WrapError(ErrIOFailure, "eventfd: %v", err)
	}
	return &wakeDescriptor{fd: fd}, nil
}

func (w *wakeDescriptor) readFD() int {
	return w.fd
}

// signal increments the eventfd counter, waking anyone blocked on
// epoll_wait against readFD(). Safe to call from any goroutine.
func (w *wakeDescriptor) signal() error {
	var buf [8]byte
	buf[0] = 1
	_, err := unix.Write(w.fd, buf[:])
	if err != nil && err != unix.EAGAIN {
		return WrapError(ErrIOFailure, "eventfd write: %v", err)
	}
	return nil
}

// drain resets the eventfd counter to zero after a wake delivery so the
// next Wait blocks again instead of spinning.
func (w *wakeDescriptor) drain() {
	var buf [8]byte
	for {
		_, err := unix.Read(w.fd, buf[:])
		if err != nil {
			return
		}
	}
}

func (w *wakeDescriptor) close() error {
	return unix.Close(w.fd)
}
