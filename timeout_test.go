package corort

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeoutCancelsTokenAfterDuration(t *testing.T) {
	const d = 20 * time.Millisecond

	start := time.Now()
	_, err := RunLoop(func(f *Frame) (struct{}, error) {
		to := NewTimeout(f.loop, d)

		var timerID EventID
		to.Token().OnAbort(func(any) { f.loop.CancelTimer(timerID) })

		_, primaryErr := WithCancel[struct{}](f, to.Token(), func(settle func(struct{}, error)) {
			// Never settles on its own within the test's lifetime; the
			// Timeout is expected to cancel it first. OnAbort above tears
			// the abandoned timer down so the Loop can still quiesce.
			timerID = f.loop.ScheduleTimer(time.Hour, func() { settle(struct{}{}, nil) })
		})
		return struct{}{}, primaryErr
	})
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrTimedOut)
	assert.GreaterOrEqual(t, elapsed, d)
}

// TestTimeoutStopPreventsCancel checks that Stop, called before the
// deadline, prevents the Timeout from ever canceling its token.
func TestTimeoutStopPreventsCancel(t *testing.T) {
	const d = 30 * time.Millisecond

	result, err := RunLoop(func(f *Frame) (int, error) {
		to := NewTimeout(f.loop, d)
		stopped := to.Stop()

		v, primaryErr := WithCancel[int](f, to.Token(), func(settle func(int, error)) {
			f.loop.ScheduleTimer(5*time.Millisecond, func() { settle(9, nil) })
		})
		if !stopped {
			return 0, ErrInvalidState
		}
		return v, primaryErr
	})
	require.NoError(t, err)
	assert.Equal(t, 9, result)
}
