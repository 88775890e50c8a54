package corort

import "container/heap"

// timerEntry is one scheduled wake-up. valid is flipped false by Invalidate
// rather than removing the heap slot immediately, since heap removal by
// arbitrary id is O(n); fireDue skips invalid entries it pops.
type timerEntry struct {
	deadlineMs int64
	seq        uint64 // tiebreaker for entries sharing a deadline, insertion order
	id         EventID
	valid      bool
	fire       func()
}

// timerQueue is a min-heap of timerEntry ordered by deadline, grounded on
// the teacher's timerHeap (eventloop/loop.go), generalized with an id-keyed
// side index so Invalidate can flip a specific entry's validity in O(1)
// instead of requiring the caller to hold onto a heap index that heap.Fix
// would invalidate on every push/pop.
type timerQueue struct {
	h       timerHeap
	byID    map[EventID]*timerEntry
	nextSeq uint64
}

func newTimerQueue() *timerQueue {
	return &timerQueue{byID: make(map[EventID]*timerEntry)}
}

// Schedule adds a new timer firing fn when now >= deadlineMs.
func (q *timerQueue) Schedule(deadlineMs int64, id EventID, fire func()) {
	e := &timerEntry{deadlineMs: deadlineMs, seq: q.nextSeq, id: id, valid: true, fire: fire}
	q.nextSeq++
	heap.Push(&q.h, e)
	q.byID[id] = e
}

// Invalidate marks id's entry dead; it is lazily discarded when it reaches
// the top of the heap. Reports whether id was found and still valid.
func (q *timerQueue) Invalidate(id EventID) bool {
	e, ok := q.byID[id]
	if !ok || !e.valid {
		return false
	}
	e.valid = false
	delete(q.byID, id)
	return true
}

// PeekDeadline returns the next valid deadline and true, or false if no
// valid timer remains (discarding invalidated entries at the top as it
// goes).
func (q *timerQueue) PeekDeadline() (int64, bool) {
	for len(q.h) > 0 {
		top := q.h[0]
		if !top.valid {
			heap.Pop(&q.h)
			continue
		}
		return top.deadlineMs, true
	}
	return 0, false
}

// FireDue pops and invokes every valid entry whose deadline has passed,
// discarding invalidated ones along the way. It returns the number of
// timers actually fired.
func (q *timerQueue) FireDue(nowMs int64) int {
	fired := 0
	for len(q.h) > 0 && q.h[0].deadlineMs <= nowMs {
		e := heap.Pop(&q.h).(*timerEntry)
		if !e.valid {
			continue
		}
		delete(q.byID, e.id)
		e.fire()
		fired++
	}
	return fired
}

// Len reports the number of still-valid timers, used for the loop
// termination condition and the armed-events invariant.
func (q *timerQueue) Len() int {
	return len(q.byID)
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].deadlineMs < h[j].deadlineMs || (h[i].deadlineMs == h[j].deadlineMs && h[i].seq < h[j].seq) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x any)         { *h = append(*h, x.(*timerEntry)) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return x
}
