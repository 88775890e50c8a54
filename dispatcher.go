package corort

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-microbatch"
)

// Dispatcher is the cross-thread task dispatcher (C10): implicit
// round-robin or explicit per-loop delivery of fire-and-forget task
// bodies, grounded on eventloop/ingress.go's ChunkedIngress pattern
// (externally synchronized, consumer drains on its own schedule) for the
// registration bookkeeping, with a github.com/joeycumines/go-microbatch
// Batcher in front of each consumer's inbox so a burst of Dispatch calls
// produces one Loop.Submit wake-up per flush instead of one per item.
type Dispatcher struct {
	mu        sync.Mutex
	consumers []*consumer
	byLoop    map[LoopID]*consumer
	cursor    atomic.Uint64
}

type consumer struct {
	loopID  LoopID
	batcher *microbatch.Batcher[func(*Frame)]
}

// NewDispatcher creates an empty Dispatcher; consumers register via
// RegisterConsumer.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{byLoop: make(map[LoopID]*consumer)}
}

// RegisterConsumer makes loop eligible to receive dispatched task bodies,
// both via round-robin Dispatch and targeted DispatchTo. Each dispatched
// body runs detached (spec's ensure_future / this package's Go) once its
// batch flushes on loop's goroutine.
func (d *Dispatcher) RegisterConsumer(loop *Loop) {
	c := &consumer{loopID: loop.ID()}
	c.batcher = microbatch.NewBatcher[func(*Frame)](
		&microbatch.BatcherConfig{MaxSize: 32, FlushInterval: 2 * time.Millisecond},
		func(_ context.Context, jobs []func(*Frame)) error {
			return loop.Submit(func() {
				for _, fn := range jobs {
					Go[struct{}](loop, func(f *Frame) (struct{}, error) {
						fn(f)
						return struct{}{}, nil
					})
				}
			})
		},
	)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.consumers = append(d.consumers, c)
	d.byLoop[loop.ID()] = c
}

// DeregisterConsumer removes loopID from the round-robin rotation and
// shuts down its batcher, draining any jobs already submitted to it.
func (d *Dispatcher) DeregisterConsumer(loopID LoopID) {
	d.mu.Lock()
	c, ok := d.byLoop[loopID]
	if ok {
		delete(d.byLoop, loopID)
		for i, existing := range d.consumers {
			if existing == c {
				d.consumers = append(d.consumers[:i], d.consumers[i+1:]...)
				break
			}
		}
	}
	d.mu.Unlock()

	if ok {
		_ = c.batcher.Shutdown(context.Background())
	}
}

// Dispatch hands fn to the next registered consumer in round-robin order
// (spec §4.10's implicit dispatch). Returns ErrInvalidState if no
// consumer is registered.
func (d *Dispatcher) Dispatch(fn func(f *Frame)) error {
	d.mu.Lock()
	if len(d.consumers) == 0 {
		d.mu.Unlock()
		return ErrInvalidState
	}
	idx := d.cursor.Add(1) % uint64(len(d.consumers))
	c := d.consumers[idx]
	d.mu.Unlock()

	_, err := c.batcher.Submit(context.Background(), fn)
	return err
}

// DispatchTo hands fn to the specific consumer registered for loopID
// (spec §4.10's explicit targeting). Returns ErrInvalidState if loopID is
// not a registered consumer.
func (d *Dispatcher) DispatchTo(loopID LoopID, fn func(f *Frame)) error {
	d.mu.Lock()
	c, ok := d.byLoop[loopID]
	d.mu.Unlock()
	if !ok {
		return ErrInvalidState
	}

	_, err := c.batcher.Submit(context.Background(), fn)
	return err
}
