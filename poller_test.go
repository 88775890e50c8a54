package corort

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPollerSecondWaiterStaysQueuedBehindFirst exercises spec §8's
// boundary behavior for a second waiter queued on the same (fd,
// direction): a readiness report pops only the head waiter, leaving the
// second queued for a later Wait call, not firing both on the same edge.
func TestPollerSecondWaiterStaysQueuedBehindFirst(t *testing.T) {
	p := newPoller()
	require.NoError(t, p.Init())
	defer p.Close()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	fd := int(r.Fd())

	var firstFired, secondFired int
	require.NoError(t, p.Arm(fd, IOEventRead, 1, func(IOEvents, error) { firstFired++ }))
	require.NoError(t, p.Arm(fd, IOEventRead, 2, func(IOEvents, error) { secondFired++ }))
	require.NoError(t, p.Trim())

	_, err = w.Write([]byte("x"))
	require.NoError(t, err)

	// The pipe is level-triggered ready for read as long as "x" sits
	// unread, so the second Wait below needs no further write: it's the
	// same readiness condition, reported again, popping the next waiter.
	n, err := p.Wait(1000)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, firstFired)
	assert.Equal(t, 0, secondFired, "second waiter must not fire on the first waiter's edge")

	n, err = p.Wait(1000)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, firstFired)
	assert.Equal(t, 1, secondFired)
}

// TestPollerDisarmRemovesQueuedWaiterWithoutFiring checks that Disarm on a
// waiter behind the head removes it from the queue without ever invoking
// its callback.
func TestPollerDisarmRemovesQueuedWaiterWithoutFiring(t *testing.T) {
	p := newPoller()
	require.NoError(t, p.Init())
	defer p.Close()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	fd := int(r.Fd())

	var firstFired, secondFired int
	require.NoError(t, p.Arm(fd, IOEventRead, 1, func(IOEvents, error) { firstFired++ }))
	require.NoError(t, p.Arm(fd, IOEventRead, 2, func(IOEvents, error) { secondFired++ }))
	require.NoError(t, p.Trim())

	assert.True(t, p.Disarm(fd, IOEventRead, 2))
	require.NoError(t, p.Trim())

	_, err = w.Write([]byte("x"))
	require.NoError(t, err)

	n, err := p.Wait(1000)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, firstFired)
	assert.Equal(t, 0, secondFired)
}
