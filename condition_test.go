package corort

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestConditionNotifyOneWakesOneWaiter leaves two of its three waiters
// permanently parked, so it drives the Loop manually (goroutine + Shutdown)
// rather than via RunLoop, which requires the outermost task to settle —
// and settling naturally requires quiescence, which never arrives while an
// un-notified waiter's user event is still armed.
func TestConditionNotifyOneWakesOneWaiter(t *testing.T) {
	loop, err := NewLoop(WithGroup(newGroup()))
	require.NoError(t, err)
	defer loop.Close()

	lock := NewLock(loop)
	cond := NewCondition(loop)

	var woke atomic.Int32
	for i := 0; i < 3; i++ {
		Start(loop, func(f *Frame) (struct{}, error) {
			if err := lock.Acquire(f); err != nil {
				return struct{}{}, err
			}
			if err := cond.Wait(f, lock); err != nil {
				return struct{}{}, err
			}
			woke.Add(1)
			return struct{}{}, lock.Release()
		})
	}

	cond.NotifyOne()

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- loop.Run() }()

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), woke.Load())

	loop.Shutdown()
	require.NoError(t, <-runErrCh)
}

func TestConditionNotifyAllWakesEveryWaiter(t *testing.T) {
	var mu sync.Mutex
	var order []int

	_, err := RunLoop(func(f *Frame) (struct{}, error) {
		lock := NewLock(f.loop)
		cond := NewCondition(f.loop)

		const n = 4
		var waiters []*Task[struct{}]
		for i := 0; i < n; i++ {
			i := i
			waiters = append(waiters, Start(f.loop, func(f *Frame) (struct{}, error) {
				if err := lock.Acquire(f); err != nil {
					return struct{}{}, err
				}
				if err := cond.Wait(f, lock); err != nil {
					return struct{}{}, err
				}
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return struct{}{}, lock.Release()
			}))
		}

		cond.NotifyAll()

		for _, w := range waiters {
			if _, err := Await(f, w); err != nil {
				return struct{}{}, err
			}
		}
		return struct{}{}, nil
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{0, 1, 2, 3}, order)
}

// TestConditionFanOut is a scaled analog of spec §8 scenario 4: several
// groups of tasks each wait twice on the same condvar; a driver notifies
// in waves until every wait has completed.
func TestConditionFanOut(t *testing.T) {
	const groups = 4
	const perGroup = 4
	const waitsPerTask = 2
	const totalWaits = groups * perGroup * waitsPerTask

	var completed atomic.Int32

	_, err := RunLoop(func(f *Frame) (struct{}, error) {
		lock := NewLock(f.loop)
		cond := NewCondition(f.loop)

		var tasks []*Task[struct{}]
		for g := 0; g < groups; g++ {
			for i := 0; i < perGroup; i++ {
				tasks = append(tasks, Start(f.loop, func(f *Frame) (struct{}, error) {
					for w := 0; w < waitsPerTask; w++ {
						if err := lock.Acquire(f); err != nil {
							return struct{}{}, err
						}
						if err := cond.Wait(f, lock); err != nil {
							return struct{}{}, err
						}
						completed.Add(1)
						if err := lock.Release(); err != nil {
							return struct{}{}, err
						}
					}
					return struct{}{}, nil
				}))
			}
		}

		driver := Start(f.loop, func(f *Frame) (struct{}, error) {
			if err := SleepFor(f, 10*time.Millisecond); err != nil {
				return struct{}{}, err
			}
			cond.NotifyOne()
			if err := SleepFor(f, 10*time.Millisecond); err != nil {
				return struct{}{}, err
			}
			cond.NotifyAll()
			if err := SleepFor(f, 10*time.Millisecond); err != nil {
				return struct{}{}, err
			}
			cond.NotifyAll()
			return struct{}{}, nil
		})

		for _, tsk := range tasks {
			if _, err := Await(f, tsk); err != nil {
				return struct{}{}, err
			}
		}
		_, err := Await(f, driver)
		return struct{}{}, err
	})
	require.NoError(t, err)
	assert.Equal(t, int32(totalWaits), completed.Load())
}

// TestConditionWaitForTimesOut is a scaled analog of spec §8 scenario 5's
// no-notify branch: wait_for with nothing ever notifying returns
// ErrTimedOut no sooner than the requested deadline.
func TestConditionWaitForTimesOut(t *testing.T) {
	const d = 40 * time.Millisecond

	start := time.Now()
	_, err := RunLoop(func(f *Frame) (struct{}, error) {
		lock := NewLock(f.loop)
		cond := NewCondition(f.loop)
		if err := lock.Acquire(f); err != nil {
			return struct{}{}, err
		}
		waitErr := cond.WaitFor(f, lock, d)
		return struct{}{}, waitErr
	})
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrTimedOut)
	assert.GreaterOrEqual(t, elapsed, d)
}

// TestConditionWaitForNotifiedBeforeTimeout is a scaled analog of spec §8
// scenario 5's notify branch: a notify that lands before the deadline
// resolves wait_for with a nil error well before the deadline elapses.
func TestConditionWaitForNotifiedBeforeTimeout(t *testing.T) {
	const deadline = 200 * time.Millisecond
	const notifyAt = 20 * time.Millisecond

	var waiterErr error
	var elapsed time.Duration

	_, err := RunLoop(func(f *Frame) (struct{}, error) {
		lock := NewLock(f.loop)
		cond := NewCondition(f.loop)

		waiter := Start(f.loop, func(f *Frame) (struct{}, error) {
			if err := lock.Acquire(f); err != nil {
				return struct{}{}, err
			}
			start := time.Now()
			waiterErr = cond.WaitFor(f, lock, deadline)
			elapsed = time.Since(start)
			return struct{}{}, lock.Release()
		})

		notifier := Start(f.loop, func(f *Frame) (struct{}, error) {
			if err := SleepFor(f, notifyAt); err != nil {
				return struct{}{}, err
			}
			cond.NotifyOne()
			return struct{}{}, nil
		})

		if _, err := Await(f, waiter); err != nil {
			return struct{}{}, err
		}
		_, err := Await(f, notifier)
		return struct{}{}, err
	})
	require.NoError(t, err)
	assert.NoError(t, waiterErr)
	assert.Less(t, elapsed, deadline)
}
