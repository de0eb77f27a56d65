// Package types defines core interfaces and types for the thread pool
package types

// Task is a single unit of work. A pool runs each submitted task exactly once,
// on exactly one worker.
type Task interface {
	// Run executes the task
	Run()
}

// TaskFunc adapts an ordinary function to the Task interface
type TaskFunc func()

// Run calls f()
func (f TaskFunc) Run() {
	f()
}

// Identifiable is implemented by tasks that carry a tracking ID
type Identifiable interface {
	ID() string
}

// TaskID returns the ID of task if it has one, otherwise an empty string
func TaskID(task Task) string {
	if t, ok := task.(Identifiable); ok {
		return t.ID()
	}
	return ""
}

// ThreadPool defines the thread pool interface
type ThreadPool interface {
	// Post submits a task and returns without waiting for it to run
	Post(task Task) error

	// Send submits a task and blocks until it has finished running
	Send(task Task) error

	// Close stops intake and waits for every worker to exit
	Close() error

	// Size returns the number of workers
	Size() int

	// Stats returns thread pool statistics
	Stats() PoolStats
}

// PoolStats defines basic statistics for a thread pool
type PoolStats struct {
	// PoolSize is the number of workers
	PoolSize int

	// BusyWorkers is the number of workers currently running a task
	BusyWorkers int

	// QueueLength is the number of tasks waiting to be received
	QueueLength int

	// Completed is the number of tasks that ran to completion
	Completed int64

	// Panicked is the number of tasks that panicked
	Panicked int64

	// Closed reports whether teardown has begun
	Closed bool
}

// ErrorHandler receives task failures recovered by a worker. A non-nil return
// value is logged by the worker.
type ErrorHandler func(error) error
