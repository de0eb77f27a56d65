package worker

import (
	"fmt"
	"runtime"
	"strings"
	"sync/atomic"

	"github.com/jzx17/gothreadpool/pkg/types"
)

// SendWaitStrategy selects how Send waits for its task to finish
type SendWaitStrategy int

const (
	// SendWaitBlock parks the caller on a channel closed by the worker
	SendWaitBlock SendWaitStrategy = iota
	// SendWaitSpin spins on an atomic flag set by the worker
	SendWaitSpin
)

// String returns the string representation of SendWaitStrategy
func (s SendWaitStrategy) String() string {
	switch s {
	case SendWaitBlock:
		return "block"
	case SendWaitSpin:
		return "spin"
	default:
		return "unknown"
	}
}

// ParseSendWaitStrategy parses "block" or "spin". The empty string selects
// SendWaitBlock.
func ParseSendWaitStrategy(name string) (SendWaitStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "block":
		return SendWaitBlock, nil
	case "spin":
		return SendWaitSpin, nil
	default:
		return 0, fmt.Errorf("unknown send wait strategy %q", name)
	}
}

// completion is a one-shot signal fired by the worker after a Send task returns
type completion interface {
	signal()
	wait()
}

func newCompletion(strategy SendWaitStrategy) completion {
	if strategy == SendWaitSpin {
		return &spinCompletion{}
	}
	return &blockCompletion{done: make(chan struct{})}
}

type blockCompletion struct {
	done chan struct{}
}

func (c *blockCompletion) signal() { close(c.done) }
func (c *blockCompletion) wait()   { <-c.done }

// spinCompletion relies on sync/atomic being sequentially consistent: the
// Store publishes every write the task made before it, and the Load that
// observes true makes them visible to the caller.
type spinCompletion struct {
	done atomic.Bool
}

func (c *spinCompletion) signal() { c.done.Store(true) }

func (c *spinCompletion) wait() {
	for !c.done.Load() {
		runtime.Gosched()
	}
}

// completer is implemented by tasks that need to hear back from the worker
type completer interface {
	complete(err *types.TaskError)
}

// syncTask wraps a Send task with its completion signal
type syncTask struct {
	task types.Task
	done completion
	err  *types.TaskError
}

func newSyncTask(task types.Task, strategy SendWaitStrategy) *syncTask {
	return &syncTask{
		task: task,
		done: newCompletion(strategy),
	}
}

func (s *syncTask) Run() {
	s.task.Run()
}

func (s *syncTask) ID() string {
	return types.TaskID(s.task)
}

// complete records the outcome and releases the waiting caller. err is
// written before the signal, so the caller may read it after wait returns.
func (s *syncTask) complete(err *types.TaskError) {
	s.err = err
	s.done.signal()
}
