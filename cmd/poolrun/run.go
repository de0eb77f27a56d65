package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jzx17/gothreadpool/pkg/config"
	"github.com/jzx17/gothreadpool/pkg/worker"
	"github.com/urfave/cli/v3"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"golang.org/x/sync/errgroup"
)

var errInvalidWorkload = errors.New("invalid workload")

// runOptions is everything poolrun needs after flag parsing
type runOptions struct {
	pool      *config.PoolConfig
	posts     int
	sends     int
	producers int
	postDelay time.Duration
	sendDelay time.Duration
	settle    time.Duration
	metrics   bool
	verbose   bool
}

// optionsFromCommand merges the config file with flags; flags win
func optionsFromCommand(cmd *cli.Command) (*runOptions, error) {
	poolCfg := config.Default()
	if path := cmd.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		poolCfg = loaded
	}
	if cmd.IsSet("size") {
		poolCfg.Size = cmd.Int("size")
	}
	if cmd.IsSet("send-wait") {
		poolCfg.SendWait = cmd.String("send-wait")
	}
	if err := poolCfg.Validate(); err != nil {
		return nil, err
	}

	opts := &runOptions{
		pool:      poolCfg,
		posts:     cmd.Int("posts"),
		sends:     cmd.Int("sends"),
		producers: cmd.Int("producers"),
		postDelay: cmd.Duration("post-delay"),
		sendDelay: cmd.Duration("send-delay"),
		settle:    cmd.Duration("settle"),
		metrics:   cmd.Bool("metrics"),
		verbose:   cmd.Bool("verbose"),
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

func (o *runOptions) validate() error {
	if o.posts < 0 || o.sends < 0 {
		return fmt.Errorf("%w: task counts must not be negative", errInvalidWorkload)
	}
	if o.producers < 1 {
		return fmt.Errorf("%w: producers must be at least 1, got %d", errInvalidWorkload, o.producers)
	}
	return nil
}

// runPool builds the pool, runs the workload and closes the pool.
// Task output goes to out, logs to logOut.
func runPool(ctx context.Context, opts *runOptions, out, logOut io.Writer) error {
	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level}))

	poolOpts, err := opts.pool.Options()
	if err != nil {
		return err
	}
	poolOpts = append(poolOpts, worker.WithLogger(logger))

	var reader *sdkmetric.ManualReader
	if opts.metrics {
		reader = sdkmetric.NewManualReader()
		provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		defer func() { _ = provider.Shutdown(context.Background()) }()
		poolOpts = append(poolOpts, worker.WithMeterProvider(provider))
	}

	pool, err := worker.New(opts.pool.Size, poolOpts...)
	if err != nil {
		return err
	}

	w := &printer{out: out}
	runErr := runWorkload(ctx, pool, opts, w)

	if reader != nil {
		if err := printMetrics(ctx, reader, w); err != nil {
			logger.Warn("collect metrics", "error", err)
		}
	}

	closeErr := pool.Close()
	stats := pool.Stats()
	w.printf("\nFinished: %d completed, %d panicked on %d workers\n",
		stats.Completed, stats.Panicked, stats.PoolSize)

	return errors.Join(runErr, closeErr)
}

// runWorkload posts opts.posts tasks from opts.producers goroutines, waits
// for the settle period, then sends opts.sends tasks one after another.
func runWorkload(ctx context.Context, pool *worker.Pool, opts *runOptions, w *printer) error {
	w.printf("\n--- Starting Async Post ---\n")

	g, gctx := errgroup.WithContext(ctx)
	for p := 0; p < opts.producers; p++ {
		g.Go(func() error {
			for i := p; i < opts.posts; i += opts.producers {
				if err := gctx.Err(); err != nil {
					return err
				}
				task := worker.NewBasicTaskWithID(fmt.Sprintf("post-%d", i), func() {
					w.printf("- Post Task #%d executing\n", i)
					time.Sleep(opts.postDelay)
				})
				if err := pool.Post(task); err != nil {
					return fmt.Errorf("post task %d: %w", i, err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(opts.settle):
	}

	w.printf("\n--- Starting Sync Send ---\n")
	for i := 0; i < opts.sends; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		task := worker.NewBasicTaskWithID(fmt.Sprintf("send-%d", i), func() {
			w.printf("- Send Task #%d executing\n", i)
			time.Sleep(opts.sendDelay)
		})
		if err := pool.Send(task); err != nil {
			return fmt.Errorf("send task %d: %w", i, err)
		}
		w.printf("Send #%d finished. Main goroutine continues.\n", i)
	}
	return nil
}

func printMetrics(ctx context.Context, reader *sdkmetric.ManualReader, w *printer) error {
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		return err
	}

	var lines []string
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				var total int64
				for _, dp := range data.DataPoints {
					total += dp.Value
				}
				lines = append(lines, fmt.Sprintf("%s = %d", m.Name, total))
			case metricdata.Histogram[float64]:
				var count uint64
				var sum float64
				for _, dp := range data.DataPoints {
					count += dp.Count
					sum += dp.Sum
				}
				lines = append(lines, fmt.Sprintf("%s count=%d sum=%.3fs", m.Name, count, sum))
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					lines = append(lines, fmt.Sprintf("%s = %d", m.Name, dp.Value))
				}
			}
		}
	}
	sort.Strings(lines)

	w.printf("\n--- Metrics ---\n")
	for _, line := range lines {
		w.printf("%s\n", line)
	}
	return nil
}

// printer serializes writes from concurrently running tasks
type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}
