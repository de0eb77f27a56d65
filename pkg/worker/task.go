package worker

import (
	"fmt"
	"sync/atomic"
)

// taskIDCounter is the global task ID counter
var taskIDCounter int64

// BasicTask is a function task with a tracking ID
type BasicTask struct {
	id string
	fn func()
}

// NewBasicTask creates a new basic task
func NewBasicTask(fn func()) *BasicTask {
	id := atomic.AddInt64(&taskIDCounter, 1)
	return &BasicTask{
		id: fmt.Sprintf("task-%d", id),
		fn: fn,
	}
}

// NewBasicTaskWithID creates a basic task with custom ID
func NewBasicTaskWithID(id string, fn func()) *BasicTask {
	return &BasicTask{
		id: id,
		fn: fn,
	}
}

// Run executes the task
func (t *BasicTask) Run() {
	if t.fn == nil {
		panic(fmt.Sprintf("task %s has no execution function", t.id))
	}
	t.fn()
}

// ID returns the task ID
func (t *BasicTask) ID() string {
	return t.id
}
