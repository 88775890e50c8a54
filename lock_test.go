package corort

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Frame-body closures passed to RunLoop/Start run on a goroutine other
// than the one executing the *testing.T — every assertion below happens
// after RunLoop returns, in the real test goroutine; closures only ever
// return errors for the test goroutine to inspect.

func TestLockUncontendedAcquireRelease(t *testing.T) {
	_, err := RunLoop(func(f *Frame) (struct{}, error) {
		lock := NewLock(f.loop)
		if err := lock.Acquire(f); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, lock.Release()
	})
	require.NoError(t, err)
}

func TestLockDoubleReleaseIsInvalidState(t *testing.T) {
	_, err := RunLoop(func(f *Frame) (struct{}, error) {
		lock := NewLock(f.loop)
		if err := lock.Acquire(f); err != nil {
			return struct{}{}, err
		}
		if err := lock.Release(); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, lock.Release()
	})
	assert.ErrorIs(t, err, ErrInvalidState)
}

// TestLockFIFOOrdering exercises spec §8's Lock FIFO law: waiters become
// holder in the order they entered acquire.
func TestLockFIFOOrdering(t *testing.T) {
	const waiters = 5

	var mu sync.Mutex
	var order []int

	_, err := RunLoop(func(f *Frame) (struct{}, error) {
		lock := NewLock(f.loop)
		if err := lock.Acquire(f); err != nil { // uncontended: root becomes holder
			return struct{}{}, err
		}

		var tasks []*Task[struct{}]
		for i := 0; i < waiters; i++ {
			i := i
			tasks = append(tasks, Start(f.loop, func(f *Frame) (struct{}, error) {
				if err := lock.Acquire(f); err != nil {
					return struct{}{}, err
				}
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return struct{}{}, lock.Release()
			}))
		}

		// Release the root's hold so the FIFO of waiters can drain.
		if err := lock.Release(); err != nil {
			return struct{}{}, err
		}

		for _, tsk := range tasks {
			if _, err := Await(f, tsk); err != nil {
				return struct{}{}, err
			}
		}
		return struct{}{}, nil
	})
	require.NoError(t, err)

	want := make([]int, waiters)
	for i := range want {
		want[i] = i
	}
	assert.Equal(t, want, order)
}

// TestLockContentionWallTime is a scaled analog of spec §8 scenario 3:
// repeated acquire/sleep/release round trips across several tasks sharing
// one lock should take roughly (waiters * acquisitions * holdTime) wall
// time, since only one task can be in its critical section at a time.
func TestLockContentionWallTime(t *testing.T) {
	const tasksN = 4
	const acquisitionsEach = 3
	const hold = 10 * time.Millisecond

	start := time.Now()
	_, err := RunLoop(func(f *Frame) (struct{}, error) {
		lock := NewLock(f.loop)
		var wg []*Task[struct{}]
		for i := 0; i < tasksN; i++ {
			wg = append(wg, Start(f.loop, func(f *Frame) (struct{}, error) {
				for a := 0; a < acquisitionsEach; a++ {
					if err := lock.Acquire(f); err != nil {
						return struct{}{}, err
					}
					if err := SleepFor(f, hold); err != nil {
						return struct{}{}, err
					}
					if err := lock.Release(); err != nil {
						return struct{}{}, err
					}
				}
				return struct{}{}, nil
			}))
		}
		for _, tsk := range wg {
			if _, err := Await(f, tsk); err != nil {
				return struct{}{}, err
			}
		}
		return struct{}{}, nil
	})
	require.NoError(t, err)

	elapsed := time.Since(start)
	want := hold * time.Duration(tasksN*acquisitionsEach)
	assert.GreaterOrEqual(t, elapsed, want)
	assert.LessOrEqual(t, elapsed, want*2)
}
