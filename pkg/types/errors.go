// Package types defines error types
package types

import (
	"errors"
	"fmt"
)

// Predefined errors
var (
	// ErrPoolClosed indicates a submission after teardown has begun
	ErrPoolClosed = errors.New("thread pool is closed")

	// ErrInvalidPoolSize indicates a non-positive worker count
	ErrInvalidPoolSize = errors.New("invalid pool size")

	// ErrWorkerSpawn indicates a worker could not be started
	ErrWorkerSpawn = errors.New("failed to spawn worker")

	// ErrNilTask indicates a nil task was submitted
	ErrNilTask = errors.New("task cannot be nil")

	// ErrTaskExited indicates a task ended its worker goroutine with runtime.Goexit
	ErrTaskExited = errors.New("task called runtime.Goexit")
)

// TaskError describes a task that panicked while running on a worker
type TaskError struct {
	// TaskID is the ID of the failed task, empty if it has none
	TaskID string

	// WorkerID is the worker the task was running on
	WorkerID int

	// Value is the value passed to panic
	Value interface{}

	// Cause is the underlying error
	Cause error

	// Stack is the stack trace captured at recovery
	Stack string

	// Context contains error context information
	Context map[string]interface{}
}

// NewTaskError creates a TaskError from a recovered panic value
func NewTaskError(taskID string, workerID int, recovered interface{}) *TaskError {
	var cause error
	switch v := recovered.(type) {
	case error:
		cause = v
	case string:
		cause = fmt.Errorf("panic: %s", v)
	default:
		cause = fmt.Errorf("panic: %v", v)
	}

	return &TaskError{
		TaskID:   taskID,
		WorkerID: workerID,
		Value:    recovered,
		Cause:    cause,
		Context:  make(map[string]interface{}),
	}
}

// Error implements the error interface
func (e *TaskError) Error() string {
	verb := "panicked"
	if errors.Is(e.Cause, ErrTaskExited) {
		verb = "exited"
	}

	if e.TaskID == "" {
		return fmt.Sprintf("task %s on worker %d: %v", verb, e.WorkerID, e.Cause)
	}
	return fmt.Sprintf("task %s %s on worker %d: %v", e.TaskID, verb, e.WorkerID, e.Cause)
}

// Unwrap returns the underlying error
func (e *TaskError) Unwrap() error {
	return e.Cause
}

// Is checks if the error is a specific error
func (e *TaskError) Is(target error) bool {
	return errors.Is(e.Cause, target)
}

// WithContext adds error context
func (e *TaskError) WithContext(key string, value interface{}) *TaskError {
	e.Context[key] = value
	return e
}

// WithStack records the stack trace captured at recovery
func (e *TaskError) WithStack(stack string) *TaskError {
	e.Stack = stack
	return e
}
