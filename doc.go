// Package corort implements a single-machine asynchronous runtime: a
// per-OS-thread event loop that multiplexes Task continuations over a
// readiness-based I/O poller, plus the loop-aware synchronization primitives
// that hang off it — Lock, Condition, CancellationToken, Timeout, the
// blocking-work Executor and the cross-thread Dispatcher.
//
// # Architecture
//
// A [Loop] owns three tables: the [Poller] (fd -> read/write waiter FIFOs),
// a timer min-heap, and a user-event table reachable only through the loop's
// cross-thread wake-up descriptor. A [Task] suspends by publishing exactly
// one event into one of those tables and returning control to the loop;
// the loop resumes it synchronously, on its own goroutine, once that event
// fires. There is no preemption and no per-suspension goroutine: between
// awaits, a Task's continuation runs to completion before the loop considers
// any other work.
//
// Cross-loop coordination — [Lock], [Condition], the [Dispatcher] and
// [CancellationToken] — is delivered through the group-wide registry in
// [Group], which maps opaque loop ids to live loops under one short-lived
// lock, and through each loop's wake-up descriptor.
//
// # Platform support
//
// The poller is readiness-based and level-triggered: epoll on Linux (no
// EPOLLET), kqueue on Darwin (no EV_CLEAR). A descriptor that stays ready
// is reported again on every Wait, and each report pops one queued waiter
// per direction; the poller is not edge-triggered.
//
// # Non-goals
//
// Work-stealing, fair/priority scheduling, structured concurrency, async
// filesystem I/O, signal handling and Windows IOCP are explicitly out of
// scope. Sockets, TLS, HTTP and database drivers are external collaborators
// that would consume this runtime through [Poller.Arm], [Task] and [Lock];
// none are implemented here.
package corort
