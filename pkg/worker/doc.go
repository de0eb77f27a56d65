/*
Package worker provides a fixed-size thread pool with asynchronous and synchronous task dispatch.

# Overview

A Pool owns N long-lived worker goroutines and one unbounded FIFO task queue:
- Post submits a task and returns immediately
- Send submits a task and blocks until it has finished running
- Close stops intake, drains the queue and joins every worker

Each task runs exactly once, on exactly one worker. Tasks submitted from a
single goroutine are dequeued in the order they were posted; no order is
promised across producers, and tasks running on different workers may finish
in any order.

# Core Components

## Pool

The unit of construction and teardown:
- Fixed number of workers, chosen at construction
- Unbounded queue, so Post never blocks on capacity
- Idempotent, blocking Close
- Pool and per-worker statistics
- Optional OpenTelemetry metrics

## Worker

Single worker goroutine responsible for:
- Receiving one task at a time from the shared queue
- Running the task outside the queue lock
- Panic recovery and reporting
- Statistics collection

A worker moves through Running, Draining (queue closed and empty) and
Terminated. Close returns only once every worker is Terminated.

## Task

Any value with a Run method. types.TaskFunc adapts a plain func(), and
BasicTask adds a tracking ID that shows up in logs and TaskError values.

# Synchronous Dispatch

Send wraps the task so the executing worker fires a one-shot completion signal
after the task returns, then waits for that signal. Two wait strategies exist:

	SendWaitBlock  the caller parks on a channel (default)
	SendWaitSpin   the caller spins on an atomic flag, yielding with runtime.Gosched

Both establish a happens-before edge: once Send returns, every write the task
made is visible to the caller. Spinning trades a core's worth of CPU for lower
wake-up latency and only suits very short tasks.

Calling Send from inside a task running on the same pool deadlocks when no
other worker is free. Calling Close from inside a task always deadlocks.

# Shutdown

Close closes the queue, lets workers drain every task that was queued before
the call, and joins each worker exactly once. Post and Send return
types.ErrPoolClosed once Close has begun; Send never waits on a task that can
no longer run.

# Error Handling

A panicking task is recovered on its worker and turned into a *types.TaskError
carrying the task ID, worker ID, panic value, stack and the pool name and ID
in its Context. The error is counted,
passed to the ErrorHandler configured with WithErrorHandler, and then handled by
the panic policy:
- PanicContain (default): log it and keep the worker serving
- PanicPropagate: re-panic on the worker goroutine, crashing the process

Send returns the *types.TaskError of its own task.

A task that calls runtime.Goexit ends the goroutine it runs on. The worker
reports it as a *types.TaskError wrapping types.ErrTaskExited, releases a
waiting Send and continues on a new goroutine. The panic policy does not apply.
With WithLockOSThread the new goroutine locks a fresh OS thread, and the init
hook is not run again.

# Usage Examples

Basic usage:

	pool, err := worker.New(4, worker.WithName("images"))
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	for i := 0; i < 10; i++ {
		if err := pool.PostFunc(func() { resize(i) }); err != nil {
			log.Printf("post %d: %v", i, err)
		}
	}

	// Blocks until flush has returned
	if err := pool.SendFunc(flush); err != nil {
		log.Printf("flush failed: %v", err)
	}

Retrieve statistics:

	stats := pool.Stats()
	fmt.Printf("Busy Workers: %d/%d\n", stats.BusyWorkers, stats.PoolSize)
	fmt.Printf("Completed: %d, Panicked: %d\n", stats.Completed, stats.Panicked)

# Configuration Options

- WithName: pool name used in logs and metric attributes
- WithSendWait: SendWaitBlock or SendWaitSpin
- WithPanicPolicy: PanicContain or PanicPropagate
- WithErrorHandler: callback for recovered task panics
- WithWorkerInit: per-worker setup run before the worker accepts tasks
- WithLockOSThread: pin each worker to its own OS thread
- WithLogger: *slog.Logger, slog.Default() otherwise
- WithMeterProvider: OpenTelemetry metrics, disabled when unset
- WithClock: time source for task durations
*/
package worker
