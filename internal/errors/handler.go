// Package errors provides the strategies a worker applies to a recovered task panic
package errors

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ErrorHandler decides the fate of a task failure recovered by a worker
type ErrorHandler interface {
	// HandleError handles the failure. A nil return means the failure was
	// contained; a non-nil return is re-raised on the worker.
	HandleError(ctx context.Context, errCtx *ErrorContext) error

	// Name returns the name of the error handler
	Name() string
}

// ErrorContext defines context information when a task fails
type ErrorContext struct {
	// Error that occurred
	Error error

	// WorkerID is the worker the task was running on
	WorkerID int

	// TaskID is the ID of the failed task, empty if it has none
	TaskID string

	// Timestamp when the failure was recovered
	Timestamp time.Time

	// Metadata contains additional metadata information
	Metadata map[string]interface{}
}

// NewErrorContext creates a new error context
func NewErrorContext(err error, workerID int, taskID string) *ErrorContext {
	return &ErrorContext{
		Error:     err,
		WorkerID:  workerID,
		TaskID:    taskID,
		Timestamp: time.Now(),
		Metadata:  make(map[string]interface{}),
	}
}

// ErrorHandlerStrategy defines error handling strategy types
type ErrorHandlerStrategy int

const (
	// ContinueOnErrorStrategy contains the failure and keeps the worker serving
	ContinueOnErrorStrategy ErrorHandlerStrategy = iota
	// FailFastStrategy re-raises the failure on the worker goroutine
	FailFastStrategy
)

// String returns the string representation of the strategy
func (s ErrorHandlerStrategy) String() string {
	switch s {
	case ContinueOnErrorStrategy:
		return "ContinueOnError"
	case FailFastStrategy:
		return "FailFast"
	default:
		return "Unknown"
	}
}

// ParseStrategy parses a strategy name, case-insensitively. The empty string
// selects ContinueOnErrorStrategy.
func ParseStrategy(name string) (ErrorHandlerStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "continueonerror", "continue", "contain":
		return ContinueOnErrorStrategy, nil
	case "failfast", "fail-fast", "propagate":
		return FailFastStrategy, nil
	default:
		return 0, fmt.Errorf("unknown panic strategy %q", name)
	}
}

// NewHandler returns the handler implementing strategy
func NewHandler(strategy ErrorHandlerStrategy, logger *slog.Logger) ErrorHandler {
	if strategy == FailFastStrategy {
		return NewFailFastHandler()
	}
	return NewContinueOnErrorHandler(&ContinueOnErrorConfig{
		LogErrors: true,
		Logger:    logger,
	})
}

// FailFastHandler implements fail-fast error handling
type FailFastHandler struct {
	name string
}

// NewFailFastHandler creates a new fail-fast handler
func NewFailFastHandler() *FailFastHandler {
	return &FailFastHandler{
		name: "FailFast",
	}
}

// HandleError implements the ErrorHandler interface
func (h *FailFastHandler) HandleError(ctx context.Context, errCtx *ErrorContext) error {
	return errCtx.Error
}

// Name returns the handler name
func (h *FailFastHandler) Name() string {
	return h.name
}

// ContinueOnErrorHandler logs the failure and lets the worker carry on
type ContinueOnErrorHandler struct {
	name      string
	logErrors bool
	logger    *slog.Logger
}

// ContinueOnErrorConfig contains configuration for continue-on-error handler
type ContinueOnErrorConfig struct {
	// LogErrors determines whether to log contained failures
	LogErrors bool
	// Logger receives contained failures, slog.Default() if nil
	Logger *slog.Logger
}

// NewContinueOnErrorHandler creates a continue-on-error handler
func NewContinueOnErrorHandler(config *ContinueOnErrorConfig) *ContinueOnErrorHandler {
	handler := &ContinueOnErrorHandler{
		name:      "ContinueOnError",
		logErrors: true,
		logger:    slog.Default(),
	}

	if config != nil {
		handler.logErrors = config.LogErrors
		if config.Logger != nil {
			handler.logger = config.Logger
		}
	}

	return handler
}

// HandleError implements the ErrorHandler interface
func (h *ContinueOnErrorHandler) HandleError(ctx context.Context, errCtx *ErrorContext) error {
	if h.logErrors {
		attrs := []any{
			"worker_id", errCtx.WorkerID,
			"error", errCtx.Error,
		}
		if errCtx.TaskID != "" {
			attrs = append(attrs, "task_id", errCtx.TaskID)
		}
		for k, v := range errCtx.Metadata {
			attrs = append(attrs, k, v)
		}
		h.logger.ErrorContext(ctx, "task panic recovered", attrs...)
	}
	return nil
}

// Name returns the handler name
func (h *ContinueOnErrorHandler) Name() string {
	return h.name
}
