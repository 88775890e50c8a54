package corort

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/go-longpoll"
)

// Executor is the blocking-work pool (C9): a process-wide, fixed-size OS
// thread pool that runs blocking callables off a loop's goroutine and
// resumes the requesting coroutine through the user-event table (C3),
// grounded on libarc's utils/thread_pool.h (mutex + condition variable +
// job queue + cooperative stop flag). Jobs are plain closures rather than
// libarc's {callable, requesting-loop-id, user-event-id} triple because
// Go generics let Execute close over that triple directly per call
// instead of needing a type-erased result slot in the queue.
type Executor struct {
	mu   sync.Mutex
	cond *sync.Cond
	jobs chunkedQueue
	stop bool
	wg   sync.WaitGroup

	limiter  *catrate.Limiter
	category any

	completions chan struct{}
}

// ExecutorOption configures an Executor at construction.
type ExecutorOption interface{ applyExecutor(*executorConfig) }

type executorConfig struct {
	workers  int
	limiter  *catrate.Limiter
	category any
}

type executorOptionFunc func(*executorConfig)

func (f executorOptionFunc) applyExecutor(c *executorConfig) { f(c) }

// WithWorkers sets the worker count; default runtime.GOMAXPROCS(0), per
// spec §6 ("thread count is the one configuration knob").
func WithWorkers(n int) ExecutorOption {
	return executorOptionFunc(func(c *executorConfig) { c.workers = n })
}

// WithRateLimiter gates job admission through limiter (github.com/
// joeycumines/go-catrate): Execute blocks the calling Frame, re-sleeping
// until limiter.Allow(category) admits the job, before the job is queued
// to a worker. This is an admission-shaping policy layered on top of the
// spec's plain MPSC queue, not a spec requirement itself.
func WithRateLimiter(limiter *catrate.Limiter, category any) ExecutorOption {
	return executorOptionFunc(func(c *executorConfig) {
		c.limiter = limiter
		c.category = category
	})
}

// NewExecutor starts the worker pool.
func NewExecutor(opts ...ExecutorOption) *Executor {
	cfg := executorConfig{workers: runtime.GOMAXPROCS(0)}
	for _, o := range opts {
		o.applyExecutor(&cfg)
	}
	if cfg.workers <= 0 {
		cfg.workers = 1
	}

	e := &Executor{
		limiter:     cfg.limiter,
		category:    cfg.category,
		completions: make(chan struct{}, cfg.workers*4),
	}
	e.cond = sync.NewCond(&e.mu)
	for i := 0; i < cfg.workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	return e
}

func (e *Executor) worker() {
	defer e.wg.Done()
	for {
		e.mu.Lock()
		for e.jobs.Len() == 0 && !e.stop {
			e.cond.Wait()
		}
		if e.jobs.Len() == 0 && e.stop {
			e.mu.Unlock()
			return
		}
		fn, _ := e.jobs.Pop()
		e.mu.Unlock()
		e.runJob(fn)
	}
}

func (e *Executor) runJob(fn func()) {
	defer func() {
		recover() // a job's own panic must not take down a worker
		select {
		case e.completions <- struct{}{}:
		default:
		}
	}()
	fn()
}

func (e *Executor) enqueue(fn func()) error {
	e.mu.Lock()
	if e.stop {
		e.mu.Unlock()
		return ErrExecutorStopped
	}
	e.jobs.Push(fn)
	e.mu.Unlock()
	e.cond.Signal()
	return nil
}

// Execute suspends the calling Frame, runs fn on a pool worker, and
// resumes with its result once the worker posts a fire back to f's loop
// (spec §4.9: "the coroutine awaiting the executor is resumed there with
// the return value"). If an admission limiter is configured, Execute may
// sleep the calling Frame (via SleepFor) before the job is queued.
func Execute[T any](f *Frame, ex *Executor, fn func() (T, error)) (T, error) {
	if ex.limiter != nil {
		for {
			until, ok := ex.limiter.Allow(ex.category)
			if ok {
				break
			}
			if d := time.Until(until); d > 0 {
				_ = SleepFor(f, d)
			}
		}
	}

	loop := f.loop
	group := loop.Group()
	return suspend[T](f, func(settle func(T, error)) {
		var result T
		var resultErr error
		id := loop.RegisterUserEvent(nil, func(err error) {
			if err != nil {
				var zero T
				settle(zero, err)
				return
			}
			settle(result, resultErr)
		})
		if err := ex.enqueue(func() {
			defer group.PostFire(loop.ID(), id)
			defer func() {
				if r := recover(); r != nil {
					resultErr = &PanicError{Value: r, Stack: debug.Stack()}
				}
			}()
			v, err := fn()
			result, resultErr = v, err
		}); err != nil {
			loop.DeregisterUserEvent(id)
			var zero T
			settle(zero, err)
		}
	})
}

// Shutdown sets the cooperative stop flag — workers drain the remaining
// queue and then exit — and blocks until every worker has exited or ctx
// is done. It opportunistically drains the completions notification
// channel through github.com/joeycumines/go-longpoll first, giving
// already-finished jobs a short grace window to be observed before the
// pool reports itself stopped.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.stop = true
	e.mu.Unlock()
	e.cond.Broadcast()

	_ = longpoll.Channel(ctx, &longpoll.ChannelConfig{
		MaxSize:        -1,
		MinSize:        -1,
		PartialTimeout: 10 * time.Millisecond,
	}, e.completions, func(struct{}) error { return nil })

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
