// Package storage persists match history.
package storage

import (
	"time"

	"github.com/bzfsd/bzfsd/internal/match"
)

// ErrNoMatch is returned when an event arrives before any match started.
var ErrNoMatch = match.ErrNoMatch

// Backend is the interface all storage implementations must satisfy.
// Calls come from a single recorder goroutine.
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Match management
	StartMatch(info match.Info) error
	EndMatch(info match.Info) error

	RecordEvent(e match.Event) error
}

// Flusher is implemented by backends that batch writes. The recorder
// calls Flush after each drained batch.
type Flusher interface {
	Flush() error
}

// WriteDurationReporter exposes how long the last batch write took.
type WriteDurationReporter interface {
	LastWriteDuration() time.Duration
}

// Exporter is implemented by backends that write a file per match.
type Exporter interface {
	ExportedFilePath() string
}
