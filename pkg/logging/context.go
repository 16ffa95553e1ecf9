package logging

import (
	"log/slog"
)

// WithComponent creates a logger with component/subsystem context.
//
// Example:
//
//	log := logging.WithComponent("planner")
//	log.Info("component initialized")
func WithComponent(component string) *slog.Logger {
	return GetLogger().With("component", component)
}

// WithColumn creates a logger with column context.
// Use this for column store operations.
func WithColumn(columnID string) *slog.Logger {
	return GetLogger().With("column", columnID)
}

// WithSegment creates a logger with column and segment context.
// Useful inside per-segment workers.
func WithSegment(columnID string, segment int) *slog.Logger {
	return GetLogger().With("column", columnID, "segment", segment)
}

// WithJob creates a logger with materialization job context.
func WithJob(jobID uint64) *slog.Logger {
	return GetLogger().With("job", jobID)
}

// WithWorker creates a logger with job and worker context.
//
// Example:
//
//	log := logging.WithWorker(jobID, workerID)
//	log.Debug("segment done", "rows", n)
func WithWorker(jobID uint64, workerID int) *slog.Logger {
	return GetLogger().With("job", jobID, "worker", workerID)
}

// WithError creates a logger with error context.
// Use this when logging errors to include the error in structured format.
func WithError(err error) *slog.Logger {
	return GetLogger().With("error", err.Error())
}
