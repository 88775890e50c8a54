package corort

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoop_RunTerminatesOnQuiescence(t *testing.T) {
	loop, err := NewLoop(WithGroup(newGroup()))
	require.NoError(t, err)
	defer loop.Close()

	task := Start(loop, func(f *Frame) (int, error) { return 42, nil })
	require.NoError(t, loop.Run())

	val, taskErr, settled := task.Result()
	assert.True(t, settled)
	assert.NoError(t, taskErr)
	assert.Equal(t, 42, val)
}

func TestLoop_SubmitRunsBeforeQuiescence(t *testing.T) {
	loop, err := NewLoop(WithGroup(newGroup()))
	require.NoError(t, err)
	defer loop.Close()

	ran := false
	task := Start(loop, func(f *Frame) (struct{}, error) {
		return struct{}{}, SleepFor(f, 10*time.Millisecond)
	})
	require.NoError(t, loop.Submit(func() { ran = true }))
	require.NoError(t, loop.Run())

	_, taskErr, settled := task.Result()
	assert.True(t, settled)
	assert.NoError(t, taskErr)
	assert.True(t, ran)
}

// TestLoop_ShutdownRejectsPendingWaiters exercises the boundary behavior
// named in spec §8: a suspension still parked in the user-event table when
// Shutdown is requested resumes with ErrInvalidState rather than hanging
// forever.
func TestLoop_ShutdownRejectsPendingWaiters(t *testing.T) {
	loop, err := NewLoop(WithGroup(newGroup()))
	require.NoError(t, err)
	defer loop.Close()

	lock := NewLock(loop)
	holder := Start(loop, func(f *Frame) (struct{}, error) { return struct{}{}, lock.Acquire(f) })
	_, holderErr, holderSettled := holder.Result()
	require.True(t, holderSettled)
	require.NoError(t, holderErr)

	waiter := Start(loop, func(f *Frame) (struct{}, error) { return struct{}{}, lock.Acquire(f) })

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- loop.Run() }()

	time.Sleep(20 * time.Millisecond)
	loop.Shutdown()

	require.NoError(t, <-runErrCh)

	_, waiterErr, settled := waiter.Result()
	assert.True(t, settled)
	assert.ErrorIs(t, waiterErr, ErrInvalidState)
}

func TestLoop_SubmitAfterCloseFails(t *testing.T) {
	loop, err := NewLoop(WithGroup(newGroup()))
	require.NoError(t, err)

	task := Start(loop, func(f *Frame) (struct{}, error) { return struct{}{}, nil })
	require.NoError(t, loop.Run())
	_, _, settled := task.Result()
	require.True(t, settled)

	require.NoError(t, loop.Close())
	assert.ErrorIs(t, loop.Submit(func() {}), ErrInvalidState)
}
