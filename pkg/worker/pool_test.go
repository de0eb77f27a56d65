package worker

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	poolerrors "github.com/jzx17/gothreadpool/internal/errors"
	"github.com/jzx17/gothreadpool/internal/testutils"
	"github.com/jzx17/gothreadpool/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"
)

func newTestPool(t *testing.T, size int, opts ...Option) *Pool {
	t.Helper()
	logger, _ := testutils.NewBufferLogger()
	pool, err := New(size, append([]Option{WithLogger(logger)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	return pool
}

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		size        int
		expectError bool
	}{
		{name: "single worker", size: 1},
		{name: "several workers", size: 4},
		{name: "zero pool size should error", size: 0, expectError: true},
		{name: "negative pool size should error", size: -1, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool, err := New(tt.size)

			if tt.expectError {
				assert.ErrorIs(t, err, types.ErrInvalidPoolSize)
				assert.Nil(t, pool)
				return
			}

			require.NoError(t, err)
			defer pool.Close()

			assert.Equal(t, tt.size, pool.Size())
			assert.Equal(t, defaultPoolName, pool.Name())
			assert.NotEmpty(t, pool.ID())
			assert.False(t, pool.IsClosed())
			for _, ws := range pool.WorkerStats() {
				assert.Equal(t, WorkerStateRunning, ws.State)
			}
		})
	}
}

func TestNew_Options(t *testing.T) {
	pool := newTestPool(t, 2,
		WithName("images"),
		WithSendWait(SendWaitSpin),
		WithPanicPolicy(PanicPropagate),
	)

	assert.Equal(t, "images", pool.Name())
	assert.Equal(t, SendWaitSpin, pool.config.SendWait)
	assert.IsType(t, &poolerrors.FailFastHandler{}, pool.workers[0].config.panicHandler)
}

func TestPool_PostExecutesEachTaskOnce(t *testing.T) {
	for _, size := range []int{1, 3, 8} {
		t.Run(fmt.Sprintf("size=%d", size), func(t *testing.T) {
			pool := newTestPool(t, size)

			const numTasks = 1000
			var counts [numTasks]int32
			var total int64

			for i := 0; i < numTasks; i++ {
				require.NoError(t, pool.PostFunc(func() {
					atomic.AddInt32(&counts[i], 1)
					atomic.AddInt64(&total, 1)
				}))
			}

			require.NoError(t, pool.Close())

			assert.Equal(t, int64(numTasks), atomic.LoadInt64(&total))
			for i := range counts {
				assert.Equal(t, int32(1), atomic.LoadInt32(&counts[i]), "task %d", i)
			}
			assert.Equal(t, int64(numTasks), pool.Stats().Completed)
		})
	}
}

func TestPool_PostTenTasksOnFourWorkers(t *testing.T) {
	pool := newTestPool(t, 4)

	var log testutils.OrderLog[int]
	for i := 0; i < 10; i++ {
		require.NoError(t, pool.PostFunc(func() {
			log.Append(i)
			time.Sleep(10 * time.Millisecond)
		}))
	}

	require.Eventually(t, func() bool {
		return len(log.Entries()) == 10
	}, 2*time.Second, 5*time.Millisecond)

	assert.ElementsMatch(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, log.Entries())
}

func TestPool_PostReturnsImmediately(t *testing.T) {
	pool := newTestPool(t, 1)

	release := make(chan struct{})
	require.NoError(t, pool.PostFunc(func() { <-release }))

	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, pool.PostFunc(func() {}))
	}
	assert.Less(t, time.Since(start), time.Second)
	assert.GreaterOrEqual(t, pool.QueueLength(), 1)

	close(release)
}

func TestPool_ConcurrencyBound(t *testing.T) {
	const size = 3
	pool := newTestPool(t, size)

	var tracker testutils.ConcurrencyTracker
	for i := 0; i < 30; i++ {
		require.NoError(t, pool.PostFunc(func() {
			defer tracker.Enter()()
			time.Sleep(5 * time.Millisecond)
		}))
	}

	require.NoError(t, pool.Close())

	assert.LessOrEqual(t, tracker.Peak(), int64(size))
	assert.GreaterOrEqual(t, tracker.Peak(), int64(1))
}

func TestPool_SingleProducerFIFO(t *testing.T) {
	pool := newTestPool(t, 1)

	var log testutils.OrderLog[int]
	for i := 0; i < 100; i++ {
		require.NoError(t, pool.PostFunc(func() { log.Append(i) }))
	}
	require.NoError(t, pool.Close())

	entries := log.Entries()
	require.Len(t, entries, 100)
	for i, v := range entries {
		assert.Equal(t, i, v)
	}
}

func TestPool_ConcurrentProducers(t *testing.T) {
	pool := newTestPool(t, 4)

	const (
		producers   = 8
		perProducer = 200
	)

	var executed int64
	var g errgroup.Group
	for p := 0; p < producers; p++ {
		g.Go(func() error {
			for i := 0; i < perProducer; i++ {
				if err := pool.PostFunc(func() { atomic.AddInt64(&executed, 1) }); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.NoError(t, pool.Close())

	assert.Equal(t, int64(producers*perProducer), atomic.LoadInt64(&executed))
}

func TestPool_CloseDrainsQueuedTasks(t *testing.T) {
	pool := newTestPool(t, 1)

	gate := make(chan struct{})
	started := make(chan struct{})
	var executed int64

	require.NoError(t, pool.PostFunc(func() {
		close(started)
		<-gate
		atomic.AddInt64(&executed, 1)
	}))
	for i := 0; i < 10; i++ {
		require.NoError(t, pool.PostFunc(func() { atomic.AddInt64(&executed, 1) }))
	}
	<-started

	closed := make(chan error, 1)
	go func() { closed <- pool.Close() }()

	select {
	case <-closed:
		t.Fatal("Close returned while a task was still running")
	case <-time.After(20 * time.Millisecond):
	}

	assert.True(t, pool.IsClosed())
	assert.ErrorIs(t, pool.PostFunc(func() {}), types.ErrPoolClosed)

	close(gate)
	require.NoError(t, <-closed)

	assert.Equal(t, int64(11), atomic.LoadInt64(&executed))
	assert.Equal(t, 0, pool.QueueLength())
	for _, ws := range pool.WorkerStats() {
		assert.Equal(t, WorkerStateTerminated, ws.State)
	}
	goleak.VerifyNone(t)
}

func TestPool_CloseIsIdempotent(t *testing.T) {
	pool := newTestPool(t, 3)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, pool.Close())
		}()
	}
	wg.Wait()

	assert.NoError(t, pool.Close())
	assert.True(t, pool.Stats().Closed)
	assert.Empty(t, pool.handles)
}

func TestPool_SubmitAfterClose(t *testing.T) {
	pool := newTestPool(t, 2)
	require.NoError(t, pool.Close())

	var ran int64
	task := types.TaskFunc(func() { atomic.AddInt64(&ran, 1) })

	assert.ErrorIs(t, pool.Post(task), types.ErrPoolClosed)
	assert.ErrorIs(t, pool.PostFunc(task), types.ErrPoolClosed)

	sent := make(chan error, 2)
	go func() {
		sent <- pool.Send(task)
		sent <- pool.SendFunc(task)
	}()
	for i := 0; i < 2; i++ {
		select {
		case err := <-sent:
			assert.ErrorIs(t, err, types.ErrPoolClosed)
		case <-time.After(time.Second):
			t.Fatal("Send on a closed pool did not fail fast")
		}
	}

	assert.Equal(t, int64(0), atomic.LoadInt64(&ran))
}

func TestPool_NilTask(t *testing.T) {
	pool := newTestPool(t, 1)

	assert.ErrorIs(t, pool.Post(nil), types.ErrNilTask)
	assert.ErrorIs(t, pool.PostFunc(nil), types.ErrNilTask)
	assert.ErrorIs(t, pool.Send(nil), types.ErrNilTask)
	assert.ErrorIs(t, pool.SendFunc(nil), types.ErrNilTask)
}

func TestPool_PanicIsContained(t *testing.T) {
	logger, buf := testutils.NewBufferLogger()

	var handled atomic.Int64
	pool := newTestPool(t, 1,
		WithLogger(logger),
		WithErrorHandler(func(err error) error {
			handled.Add(1)
			return nil
		}),
	)

	require.NoError(t, pool.Post(NewBasicTaskWithID("explodes", func() { panic("boom") })))

	var ran bool
	require.NoError(t, pool.SendFunc(func() { ran = true }))
	assert.True(t, ran)

	stats := pool.Stats()
	assert.Equal(t, int64(1), stats.Panicked)
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(1), handled.Load())
	assert.Contains(t, buf.String(), "task panic recovered")
	assert.Contains(t, buf.String(), "task_id=explodes")
}

func TestPool_TaskErrorCarriesPoolContext(t *testing.T) {
	errs := make(chan error, 1)
	pool := newTestPool(t, 1,
		WithName("resize"),
		WithErrorHandler(func(err error) error {
			errs <- err
			return nil
		}),
	)

	require.NoError(t, pool.PostFunc(func() { panic("boom") }))

	var taskErr *types.TaskError
	require.ErrorAs(t, <-errs, &taskErr)
	assert.Equal(t, "resize", taskErr.Context["pool"])
	assert.Equal(t, pool.ID(), taskErr.Context["pool_id"])
}

func TestPool_TaskGoexitKeepsWorkerServing(t *testing.T) {
	for _, strategy := range []SendWaitStrategy{SendWaitBlock, SendWaitSpin} {
		t.Run(strategy.String(), func(t *testing.T) {
			logger, buf := testutils.NewBufferLogger()
			handled := make(chan error, 1)
			pool := newTestPool(t, 1,
				WithLogger(logger),
				WithSendWait(strategy),
				WithErrorHandler(func(err error) error {
					handled <- err
					return nil
				}),
			)

			err := pool.Send(NewBasicTaskWithID("quitter", func() { runtime.Goexit() }))

			var taskErr *types.TaskError
			require.ErrorAs(t, err, &taskErr)
			assert.ErrorIs(t, err, types.ErrTaskExited)
			assert.Equal(t, "quitter", taskErr.TaskID)
			assert.ErrorIs(t, <-handled, types.ErrTaskExited)

			// the single worker must still be there for both submission modes
			var sent, posted atomic.Bool
			require.NoError(t, pool.SendFunc(func() { sent.Store(true) }))
			require.NoError(t, pool.PostFunc(func() { posted.Store(true) }))
			assert.Equal(t, WorkerStateRunning, pool.WorkerStats()[0].State)

			require.NoError(t, pool.Close())
			assert.True(t, sent.Load())
			assert.True(t, posted.Load())

			stats := pool.Stats()
			assert.Equal(t, int64(1), stats.Panicked)
			assert.Equal(t, int64(2), stats.Completed)
			assert.Equal(t, WorkerStateTerminated, pool.WorkerStats()[0].State)
			assert.Contains(t, buf.String(), "task exited worker goroutine")
		})
	}
}

func TestPool_TaskGoexitWithLockedThread(t *testing.T) {
	pool := newTestPool(t, 2, WithLockOSThread())

	for i := 0; i < 4; i++ {
		assert.ErrorIs(t, pool.SendFunc(func() { runtime.Goexit() }), types.ErrTaskExited)
	}

	var executed atomic.Int64
	for i := 0; i < 10; i++ {
		require.NoError(t, pool.PostFunc(func() { executed.Add(1) }))
	}
	require.NoError(t, pool.Close())
	assert.Equal(t, int64(10), executed.Load())
}

const propagateChildEnv = "THREADPOOL_PROPAGATE_CHILD"

// runPropagateChild runs in a subprocess: the task panic is re-raised on the
// worker and kills the process, but only after Send has returned.
func runPropagateChild() {
	printed := make(chan struct{})
	pool, err := New(1,
		WithPanicPolicy(PanicPropagate),
		WithErrorHandler(func(error) error {
			<-printed
			return nil
		}),
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, "new:", err)
		os.Exit(3)
	}

	err = pool.Send(NewBasicTaskWithID("boom", func() { panic("kaboom") }))
	fmt.Printf("send returned: %v\n", err)
	close(printed)

	time.Sleep(10 * time.Second)
	os.Exit(4)
}

func TestPool_PanicPropagateCrashesAfterSendReturns(t *testing.T) {
	if os.Getenv(propagateChildEnv) == "1" {
		runPropagateChild()
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=^TestPool_PanicPropagateCrashesAfterSendReturns$")
	cmd.Env = append(os.Environ(), propagateChildEnv+"=1")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr, "stderr: %s", stderr.String())
	assert.Equal(t, 2, exitErr.ExitCode())
	assert.Contains(t, stdout.String(), "send returned: task boom panicked on worker 0: panic: kaboom")
	assert.Contains(t, stderr.String(), "panic: task boom panicked on worker 0: panic: kaboom")
}

func TestPool_WorkerInitRunsOnEveryWorker(t *testing.T) {
	var mu sync.Mutex
	ids := make(map[int]bool)

	pool := newTestPool(t, 4, WithWorkerInit(func(workerID int) error {
		mu.Lock()
		defer mu.Unlock()
		ids[workerID] = true
		return nil
	}))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[int]bool{0: true, 1: true, 2: true, 3: true}, ids)
	assert.Equal(t, 4, pool.Size())
}

func TestPool_WorkerInitFailureTearsDown(t *testing.T) {
	logger, buf := testutils.NewBufferLogger()
	errNoThread := errors.New("thread limit reached")

	var inits int64
	pool, err := New(4,
		WithLogger(logger),
		WithWorkerInit(func(workerID int) error {
			atomic.AddInt64(&inits, 1)
			if workerID == 2 {
				return errNoThread
			}
			return nil
		}),
	)

	require.Error(t, err)
	assert.Nil(t, pool)
	assert.ErrorIs(t, err, types.ErrWorkerSpawn)
	assert.ErrorIs(t, err, errNoThread)
	assert.Contains(t, err.Error(), "worker 2")
	assert.Equal(t, int64(4), atomic.LoadInt64(&inits))
	assert.Contains(t, buf.String(), "thread pool start aborted")
	assert.NotContains(t, buf.String(), "thread pool closed")

	goleak.VerifyNone(t)
}

func TestPool_WorkerInitPanic(t *testing.T) {
	logger, _ := testutils.NewBufferLogger()

	pool, err := New(2,
		WithLogger(logger),
		WithWorkerInit(func(workerID int) error {
			panic("cannot start")
		}),
	)

	assert.Nil(t, pool)
	assert.ErrorIs(t, err, types.ErrWorkerSpawn)
	assert.Contains(t, err.Error(), "cannot start")
}

func TestPool_LockOSThread(t *testing.T) {
	pool := newTestPool(t, 2, WithLockOSThread())

	var executed int64
	for i := 0; i < 20; i++ {
		require.NoError(t, pool.PostFunc(func() { atomic.AddInt64(&executed, 1) }))
	}
	require.NoError(t, pool.SendFunc(func() {}))
	require.NoError(t, pool.Close())

	assert.Equal(t, int64(20), atomic.LoadInt64(&executed))
}

func TestPool_StatsWithMockClock(t *testing.T) {
	mock := testutils.NewMockClock(t)
	pool := newTestPool(t, 1, WithClock(testutils.NewClockWrapper(mock)))

	for _, d := range []time.Duration{10 * time.Millisecond, 50 * time.Millisecond} {
		require.NoError(t, pool.SendFunc(func() { mock.Advance(d) }))
	}

	stats := pool.Stats()
	assert.Equal(t, 1, stats.PoolSize)
	assert.Equal(t, int64(2), stats.Completed)
	assert.Equal(t, 0, stats.QueueLength)
	assert.False(t, stats.Closed)

	workerStats := pool.WorkerStats()
	require.Len(t, workerStats, 1)
	assert.Equal(t, 30*time.Millisecond, workerStats[0].AverageDuration)
	assert.Equal(t, int64(2), workerStats[0].TotalProcessed)
}

func TestPool_StatsBusyWorkers(t *testing.T) {
	pool := newTestPool(t, 3)

	started := make(chan struct{}, 2)
	release := make(chan struct{})
	for i := 0; i < 2; i++ {
		require.NoError(t, pool.PostFunc(func() {
			started <- struct{}{}
			<-release
		}))
	}
	<-started
	<-started

	assert.Equal(t, 2, pool.Stats().BusyWorkers)
	close(release)
}
