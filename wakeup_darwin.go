//go:build darwin

package corort

import "golang.org/x/sys/unix"

// wakeDescriptor is the cross-thread wake-up primitive a Loop arms into its
// own Poller. kqueue has no eventfd equivalent, so Darwin falls back to a
// self-pipe, grounded on the same createWakeFd contract the teacher uses
// on Linux (eventloop/wakeup_linux.go) but using unix.Pipe2 per the
// teacher's fd_unix.go helpers for non-blocking close-on-exec pipes.
type wakeDescriptor struct {
	readFd  int
	writeFd int
}

func newWakeDescriptor() (*wakeDescriptor, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return nil, WrapError(ErrIOFailure, "pipe2: %v", err)
	}
	return &wakeDescriptor{readFd: fds[0], writeFd: fds[1]}, nil
}

func (w *wakeDescriptor) readFD() int {
	return w.readFd
}

func (w *wakeDescriptor) signal() error {
	var buf [1]byte
	_, err := unix.Write(w.writeFd, buf[:])
	if err != nil && err != unix.EAGAIN {
		return WrapError(ErrIOFailure, "pipe write: %v", err)
	}
	return nil
}

func (w *wakeDescriptor) drain() {
	var buf [64]byte
	for {
		_, err := unix.Read(w.readFd, buf[:])
		if err != nil {
			return
		}
	}
}

func (w *wakeDescriptor) close() error {
	_ = unix.Close(w.writeFd)
	return unix.Close(w.readFd)
}
