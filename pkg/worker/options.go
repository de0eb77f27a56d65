package worker

import (
	"log/slog"

	poolerrors "github.com/jzx17/gothreadpool/internal/errors"
	"github.com/jzx17/gothreadpool/pkg/types"
	"go.opentelemetry.io/otel/metric"
)

const defaultPoolName = "threadpool"

// PanicPolicy decides what a worker does after recovering a task panic
type PanicPolicy = poolerrors.ErrorHandlerStrategy

const (
	// PanicContain logs the panic and keeps the worker serving
	PanicContain = poolerrors.ContinueOnErrorStrategy
	// PanicPropagate re-panics on the worker goroutine
	PanicPropagate = poolerrors.FailFastStrategy
)

// ParsePanicPolicy parses a panic policy name such as "contain" or "propagate"
func ParsePanicPolicy(name string) (PanicPolicy, error) {
	return poolerrors.ParseStrategy(name)
}

// Config defines configuration for the thread pool
type Config struct {
	// Name identifies the pool in logs and metrics
	Name string

	// SendWait selects how Send waits for completion
	SendWait SendWaitStrategy

	// PanicPolicy decides what happens after a task panic is recovered
	PanicPolicy PanicPolicy

	// LockOSThread pins every worker to its own OS thread
	LockOSThread bool

	// WorkerInit runs on each worker goroutine before it accepts tasks.
	// An error aborts pool construction.
	WorkerInit func(workerID int) error

	// ErrorHandler receives every recovered task panic
	ErrorHandler types.ErrorHandler

	// Logger for pool and worker events
	Logger *slog.Logger

	// Clock for task timing (optional, defaults to real clock)
	Clock types.Clock

	// MeterProvider enables OpenTelemetry metrics when set
	MeterProvider metric.MeterProvider
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Name:        defaultPoolName,
		SendWait:    SendWaitBlock,
		PanicPolicy: PanicContain,
		Logger:      slog.Default(),
		Clock:       types.NewRealClock(),
	}
}

// Option configures a Pool
type Option func(*Config)

// WithName sets the pool name. An empty name is ignored.
func WithName(name string) Option {
	return func(c *Config) {
		if name != "" {
			c.Name = name
		}
	}
}

// WithSendWait sets the Send wait strategy
func WithSendWait(strategy SendWaitStrategy) Option {
	return func(c *Config) {
		c.SendWait = strategy
	}
}

// WithPanicPolicy sets the panic policy
func WithPanicPolicy(policy PanicPolicy) Option {
	return func(c *Config) {
		c.PanicPolicy = policy
	}
}

// WithLockOSThread pins every worker to a dedicated OS thread
func WithLockOSThread() Option {
	return func(c *Config) {
		c.LockOSThread = true
	}
}

// WithWorkerInit sets a hook run on each worker before it accepts tasks
func WithWorkerInit(fn func(workerID int) error) Option {
	return func(c *Config) {
		c.WorkerInit = fn
	}
}

// WithErrorHandler sets the callback for recovered task panics
func WithErrorHandler(handler types.ErrorHandler) Option {
	return func(c *Config) {
		c.ErrorHandler = handler
	}
}

// WithLogger sets the logger. nil is ignored.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// WithClock sets the clock used to time tasks. nil is ignored.
func WithClock(clock types.Clock) Option {
	return func(c *Config) {
		if clock != nil {
			c.Clock = clock
		}
	}
}

// WithMeterProvider enables OpenTelemetry metrics
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(c *Config) {
		c.MeterProvider = provider
	}
}
