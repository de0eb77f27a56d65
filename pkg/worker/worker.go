package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	poolerrors "github.com/jzx17/gothreadpool/internal/errors"
	"github.com/jzx17/gothreadpool/pkg/queue"
	"github.com/jzx17/gothreadpool/pkg/types"
)

// WorkerState defines the state of a Worker
type WorkerState int32

const (
	// WorkerStateRunning represents a worker waiting for or running a task
	WorkerStateRunning WorkerState = iota
	// WorkerStateDraining represents a worker that saw the queue closed and empty
	WorkerStateDraining
	// WorkerStateTerminated represents a worker whose goroutine has returned
	WorkerStateTerminated
)

// String returns the string representation of WorkerState
func (ws WorkerState) String() string {
	switch ws {
	case WorkerStateRunning:
		return "running"
	case WorkerStateDraining:
		return "draining"
	case WorkerStateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// workerConfig is shared by every worker of a pool
type workerConfig struct {
	poolName     string
	poolID       string
	clock        types.Clock
	logger       *slog.Logger
	errorHandler types.ErrorHandler
	panicHandler poolerrors.ErrorHandler
	metrics      *Metrics
	lockOSThread bool
	init         func(workerID int) error
}

// spawnResult reports whether a worker made it into its loop
type spawnResult struct {
	workerID int
	err      error
}

// worker represents a single worker goroutine
type worker struct {
	id    int
	state int32 // atomic state
	busy  int32 // 1 while running a task
	queue *queue.Queue[types.Task]
	done  chan struct{}

	// statistics
	totalProcessed int64
	totalPanicked  int64
	totalDuration  int64 // nanoseconds
	lastTaskTime   int64 // Unix nanosecond timestamp

	// goexited is set when a task ended the serving goroutine; only that
	// goroutine touches it
	goexited bool

	config *workerConfig
}

func newWorker(id int, q *queue.Queue[types.Task], config *workerConfig) *worker {
	return &worker{
		id:     id,
		state:  int32(WorkerStateRunning),
		queue:  q,
		done:   make(chan struct{}),
		config: config,
	}
}

// ID returns the worker ID
func (w *worker) ID() int {
	return w.id
}

// State returns the current worker state
func (w *worker) State() WorkerState {
	return WorkerState(atomic.LoadInt32(&w.state))
}

// IsBusy reports whether the worker is running a task
func (w *worker) IsBusy() bool {
	return atomic.LoadInt32(&w.busy) == 1
}

func (w *worker) setState(state WorkerState) {
	atomic.StoreInt32(&w.state, int32(state))
}

// run is the worker goroutine. It reports on ready once it is either
// serving or has failed to start, and closes w.done when it is finished.
func (w *worker) run(ready chan<- spawnResult) {
	if w.config.lockOSThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	if err := w.initialize(); err != nil {
		ready <- spawnResult{workerID: w.id, err: err}
		w.terminate()
		return
	}
	ready <- spawnResult{workerID: w.id}

	w.config.logger.Debug("worker started", "worker_id", w.id)
	w.serve()
}

// serve runs the receive loop on the current goroutine. A task calling
// runtime.Goexit ends that goroutine; the loop then continues on a new one,
// so the worker keeps serving until the queue is closed and drained.
func (w *worker) serve() {
	defer func() {
		if w.goexited {
			w.goexited = false
			go w.resume()
		}
	}()

	w.loop()
	w.terminate()
}

// resume restarts serve on a fresh goroutine after a task called runtime.Goexit
func (w *worker) resume() {
	if w.config.lockOSThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	w.config.logger.Debug("worker resumed", "worker_id", w.id)
	w.serve()
}

// terminate marks the worker finished and releases its join handle
func (w *worker) terminate() {
	w.setState(WorkerStateTerminated)
	w.config.logger.Debug("worker stopped",
		"worker_id", w.id,
		"processed", atomic.LoadInt64(&w.totalProcessed),
		"panicked", atomic.LoadInt64(&w.totalPanicked),
	)
	close(w.done)
}

// initialize runs the init hook, turning a panic into an error
func (w *worker) initialize() (err error) {
	if w.config.init == nil {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("init panic: %v", r)
		}
	}()

	return w.config.init(w.id)
}

// loop receives and runs tasks until the queue is closed and drained
func (w *worker) loop() {
	for {
		task, ok := w.queue.Receive()
		if !ok {
			w.setState(WorkerStateDraining)
			return
		}
		w.processTask(task)
	}
}

// processTask processes a single task
func (w *worker) processTask(task types.Task) {
	if taskErr := w.runTask(task); taskErr != nil {
		w.handlePanic(taskErr)
	}
}

// runTask runs task and records its outcome. The bookkeeping and the Send
// completion happen in a deferred call so they also run when the task ends
// the goroutine with runtime.Goexit.
func (w *worker) runTask(task types.Task) (taskErr *types.TaskError) {
	atomic.StoreInt32(&w.busy, 1)

	// record start time
	startTime := w.config.clock.Now()
	atomic.StoreInt64(&w.lastTaskTime, startTime.UnixNano())

	normalReturn := false
	defer func() {
		if normalReturn {
			w.finishTask(task, startTime, taskErr)
			return
		}
		w.goexited = true
		taskErr = w.newTaskError(task, types.ErrTaskExited)
		w.finishTask(task, startTime, taskErr)
		w.reportExit(taskErr)
	}()

	taskErr = w.executeTask(task)
	normalReturn = true
	return taskErr
}

// finishTask updates statistics and releases a waiting Send. It runs before
// the panic policy gets a chance to re-panic.
func (w *worker) finishTask(task types.Task, startTime time.Time, taskErr *types.TaskError) {
	elapsed := w.config.clock.Since(startTime)
	atomic.AddInt64(&w.totalDuration, int64(elapsed))

	// update statistics
	if taskErr != nil {
		atomic.AddInt64(&w.totalPanicked, 1)
	} else {
		atomic.AddInt64(&w.totalProcessed, 1)
	}
	w.config.metrics.recordTask(w.id, elapsed, taskErr != nil)
	atomic.StoreInt32(&w.busy, 0)

	if c, ok := task.(completer); ok {
		c.complete(taskErr)
	}
}

// executeTask runs a task with panic recovery
func (w *worker) executeTask(task types.Task) (taskErr *types.TaskError) {
	defer func() {
		if r := recover(); r != nil {
			taskErr = w.newTaskError(task, r)
		}
	}()

	task.Run()
	return nil
}

// newTaskError builds the TaskError for a task that did not return normally
func (w *worker) newTaskError(task types.Task, recovered interface{}) *types.TaskError {
	var buf [4096]byte
	n := runtime.Stack(buf[:], false)

	return types.NewTaskError(types.TaskID(task), w.id, recovered).
		WithStack(string(buf[:n])).
		WithContext("pool", w.config.poolName).
		WithContext("pool_id", w.config.poolID)
}

// reportExit reports a task that called runtime.Goexit. The panic policy does
// not apply: there is no panic to propagate.
func (w *worker) reportExit(taskErr *types.TaskError) {
	w.config.logger.Error("task exited worker goroutine",
		"worker_id", w.id,
		"task_id", taskErr.TaskID,
	)
	w.notifyErrorHandler(taskErr)
}

// notifyErrorHandler passes taskErr to the user error handler, if any
func (w *worker) notifyErrorHandler(taskErr *types.TaskError) {
	if handler := w.config.errorHandler; handler != nil {
		if err := handler(taskErr); err != nil {
			w.config.logger.Warn("error handler failed", "worker_id", w.id, "error", err)
		}
	}
}

// handlePanic reports a recovered panic and applies the panic policy
func (w *worker) handlePanic(taskErr *types.TaskError) {
	w.notifyErrorHandler(taskErr)

	errCtx := poolerrors.NewErrorContext(taskErr, w.id, taskErr.TaskID)
	errCtx.Metadata["stack"] = taskErr.Stack

	if err := w.config.panicHandler.HandleError(context.Background(), errCtx); err != nil {
		panic(err)
	}
}

// Stats gets worker statistics
func (w *worker) Stats() WorkerStats {
	processed := atomic.LoadInt64(&w.totalProcessed)
	panicked := atomic.LoadInt64(&w.totalPanicked)

	var avg time.Duration
	if total := processed + panicked; total > 0 {
		avg = time.Duration(atomic.LoadInt64(&w.totalDuration) / total)
	}

	var last time.Time
	if ns := atomic.LoadInt64(&w.lastTaskTime); ns != 0 {
		last = time.Unix(0, ns)
	}

	return WorkerStats{
		ID:              w.id,
		State:           w.State(),
		Busy:            w.IsBusy(),
		TotalProcessed:  processed,
		TotalPanicked:   panicked,
		LastTaskTime:    last,
		AverageDuration: avg,
	}
}

// WorkerStats defines Worker statistics
type WorkerStats struct {
	ID              int
	State           WorkerState
	Busy            bool
	TotalProcessed  int64
	TotalPanicked   int64
	LastTaskTime    time.Time
	AverageDuration time.Duration
}

// GetPanicRate gets the share of tasks that panicked
func (ws WorkerStats) GetPanicRate() float64 {
	total := ws.TotalProcessed + ws.TotalPanicked
	if total == 0 {
		return 0
	}
	return float64(ws.TotalPanicked) / float64(total)
}
