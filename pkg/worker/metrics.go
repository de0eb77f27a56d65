package worker

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	instrumentationName = "github.com/jzx17/gothreadpool/pkg/worker"

	metricNameTasksExecuted = "threadpool.tasks.executed"
	metricNameTasksPanicked = "threadpool.tasks.panicked"
	metricNameTaskDuration  = "threadpool.task.duration"
	metricNameQueueLength   = "threadpool.queue.length"
)

// Metrics records pool activity as OpenTelemetry instruments
type Metrics struct {
	executed     metric.Int64Counter
	panicked     metric.Int64Counter
	duration     metric.Float64Histogram
	registration metric.Registration
	poolAttr     attribute.KeyValue
}

// newMetrics creates the pool instruments. A nil provider disables metrics
// and returns nil.
func newMetrics(provider metric.MeterProvider, poolName string, queueLength func() int) (*Metrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(instrumentationName)
	poolAttr := attribute.String("pool", poolName)

	executed, err := meter.Int64Counter(
		metricNameTasksExecuted,
		metric.WithDescription("Tasks run by the pool, including those that panicked"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, err
	}

	panicked, err := meter.Int64Counter(
		metricNameTasksPanicked,
		metric.WithDescription("Tasks that panicked"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		metricNameTaskDuration,
		metric.WithDescription("Task execution time"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(
			0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0,
		),
	)
	if err != nil {
		return nil, err
	}

	queueGauge, err := meter.Int64ObservableGauge(
		metricNameQueueLength,
		metric.WithDescription("Tasks waiting to be received by a worker"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, err
	}

	registration, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(queueGauge, int64(queueLength()), metric.WithAttributes(poolAttr))
		return nil
	}, queueGauge)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		executed:     executed,
		panicked:     panicked,
		duration:     duration,
		registration: registration,
		poolAttr:     poolAttr,
	}, nil
}

// recordTask records one finished task
func (m *Metrics) recordTask(workerID int, elapsed time.Duration, panicked bool) {
	if m == nil {
		return
	}

	ctx := context.Background()
	attrs := metric.WithAttributes(m.poolAttr, attribute.Int("worker_id", workerID))

	m.executed.Add(ctx, 1, attrs)
	if panicked {
		m.panicked.Add(ctx, 1, attrs)
	}
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
}

// shutdown stops observing the queue
func (m *Metrics) shutdown() error {
	if m == nil {
		return nil
	}
	return m.registration.Unregister()
}
