package worker

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	poolerrors "github.com/jzx17/gothreadpool/internal/errors"
	"github.com/jzx17/gothreadpool/pkg/queue"
	"github.com/jzx17/gothreadpool/pkg/types"
)

var _ types.ThreadPool = (*Pool)(nil)

// Pool implements a fixed-size thread pool
type Pool struct {
	id       string
	size     int
	config   *Config
	queue    *queue.Queue[types.Task]
	workers  []*worker
	handles  []<-chan struct{} // join handles, consumed by join
	logger   *slog.Logger
	metrics  *Metrics
	teardown sync.Mutex
}

// New creates a pool of size workers and waits until every worker is
// serving. If any worker fails to start, the ones already started are joined
// and an error wrapping types.ErrWorkerSpawn is returned.
func New(size int, opts ...Option) (*Pool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: must be positive, got %d", types.ErrInvalidPoolSize, size)
	}

	config := DefaultConfig()
	for _, opt := range opts {
		opt(config)
	}

	id := uuid.NewString()
	p := &Pool{
		id:      id,
		size:    size,
		config:  config,
		queue:   queue.New[types.Task](),
		workers: make([]*worker, 0, size),
		handles: make([]<-chan struct{}, 0, size),
		logger:  config.Logger.With("pool", config.Name, "pool_id", id),
	}

	metrics, err := newMetrics(config.MeterProvider, config.Name, p.queue.Len)
	if err != nil {
		return nil, fmt.Errorf("create metrics: %w", err)
	}
	p.metrics = metrics

	wc := &workerConfig{
		poolName:     config.Name,
		poolID:       id,
		clock:        config.Clock,
		logger:       p.logger,
		errorHandler: config.ErrorHandler,
		panicHandler: poolerrors.NewHandler(config.PanicPolicy, p.logger),
		metrics:      metrics,
		lockOSThread: config.LockOSThread,
		init:         config.WorkerInit,
	}

	ready := make(chan spawnResult, size)
	for i := 0; i < size; i++ {
		w := newWorker(i, p.queue, wc)
		p.workers = append(p.workers, w)
		p.handles = append(p.handles, w.done)
		go w.run(ready)
	}

	var spawnErrs []error
	for i := 0; i < size; i++ {
		if res := <-ready; res.err != nil {
			spawnErrs = append(spawnErrs,
				fmt.Errorf("%w: worker %d: %w", types.ErrWorkerSpawn, res.workerID, res.err))
		}
	}
	if len(spawnErrs) > 0 {
		p.abort()
		return nil, errors.Join(spawnErrs...)
	}

	p.logger.Info("thread pool started",
		"size", size,
		"send_wait", config.SendWait.String(),
		"panic_policy", config.PanicPolicy.String(),
	)
	return p, nil
}

// Post submits a task and returns without waiting for it to run.
// It returns types.ErrPoolClosed once Close has begun.
func (p *Pool) Post(task types.Task) error {
	if task == nil {
		return types.ErrNilTask
	}

	if err := p.queue.Enqueue(task); err != nil {
		if errors.Is(err, queue.ErrClosed) {
			return types.ErrPoolClosed
		}
		return err
	}
	return nil
}

// PostFunc submits fn as a task
func (p *Pool) PostFunc(fn func()) error {
	if fn == nil {
		return types.ErrNilTask
	}
	return p.Post(types.TaskFunc(fn))
}

// Send submits a task and blocks until a worker has finished running it.
// Every write made by the task is visible to the caller when Send returns.
// A task panic is returned as *types.TaskError.
func (p *Pool) Send(task types.Task) error {
	if task == nil {
		return types.ErrNilTask
	}

	st := newSyncTask(task, p.config.SendWait)
	if err := p.Post(st); err != nil {
		return err
	}

	st.done.wait()
	if st.err != nil {
		return st.err
	}
	return nil
}

// SendFunc submits fn as a task and waits for it to finish
func (p *Pool) SendFunc(fn func()) error {
	if fn == nil {
		return types.ErrNilTask
	}
	return p.Send(types.TaskFunc(fn))
}

// Close stops intake, lets the workers drain the queue and joins them.
// It blocks until every worker has exited. Calling Close again is a no-op.
func (p *Pool) Close() error {
	p.teardown.Lock()
	defer p.teardown.Unlock()

	if !p.queue.Close() {
		return nil
	}

	p.join()
	err := p.metrics.shutdown()

	stats := p.Stats()
	p.logger.Info("thread pool closed",
		"completed", stats.Completed,
		"panicked", stats.Panicked,
	)
	return err
}

// abort tears down a pool that failed to start. Unlike Close it does not
// report the pool as closed, since it was never handed out.
func (p *Pool) abort() {
	p.teardown.Lock()
	defer p.teardown.Unlock()

	p.queue.Close()
	p.join()
	_ = p.metrics.shutdown()
	p.logger.Debug("thread pool start aborted", "workers", p.size)
}

// join waits for every worker exactly once. The handles are consumed, so a
// later call has nothing left to join.
func (p *Pool) join() {
	handles := p.handles
	p.handles = nil
	for _, done := range handles {
		<-done
	}
}

// ID returns the pool instance ID
func (p *Pool) ID() string {
	return p.id
}

// Name returns the pool name
func (p *Pool) Name() string {
	return p.config.Name
}

// Size returns the number of workers
func (p *Pool) Size() int {
	return p.size
}

// IsClosed reports whether Close has begun
func (p *Pool) IsClosed() bool {
	return p.queue.IsClosed()
}

// QueueLength gets the current queue length
func (p *Pool) QueueLength() int {
	return p.queue.Len()
}

// Stats gets pool statistics
func (p *Pool) Stats() types.PoolStats {
	stats := types.PoolStats{
		PoolSize:    p.size,
		QueueLength: p.queue.Len(),
		Closed:      p.queue.IsClosed(),
	}

	for _, w := range p.workers {
		ws := w.Stats()
		if ws.Busy {
			stats.BusyWorkers++
		}
		stats.Completed += ws.TotalProcessed
		stats.Panicked += ws.TotalPanicked
	}
	return stats
}

// WorkerStats gets statistics of all Workers
func (p *Pool) WorkerStats() []WorkerStats {
	stats := make([]WorkerStats, len(p.workers))
	for i, w := range p.workers {
		stats[i] = w.Stats()
	}
	return stats
}
