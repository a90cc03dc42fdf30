// Package loggingtest provides loggers that capture entries in memory so
// tests can assert on what was logged, and what was not.
package loggingtest

import (
	"go.uber.org/zap/zaptest/observer"

	"github.com/systmms/secretgov/internal/logging"
)

// New creates a logger whose entries are recorded in the returned
// ObservedLogs.
func New(debug bool) (*logging.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(logging.LevelFor(debug))
	return logging.NewWithCore(core, debug), logs
}
