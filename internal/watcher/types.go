package watcher

import (
	"log/slog"
	"time"
)

// Kind classifies a filesystem notification.
type Kind int

const (
	Created Kind = iota + 1
	Changed
	Deleted
	// Renamed marks the old name of a renamed file. The new name arrives as
	// a separate Created event.
	Renamed
)

func (k Kind) String() string {
	switch k {
	case Created:
		return "created"
	case Changed:
		return "changed"
	case Deleted:
		return "deleted"
	case Renamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// Event is a single normalized filesystem change.
type Event struct {
	Path string
	Kind Kind
	Time time.Time
}

// Options controls registry behavior.
type Options struct {
	Logger *slog.Logger
	// RestartAttempts bounds consecutive restarts of a failing root.
	RestartAttempts int
	// RestartBaseDelay is doubled for every consecutive restart attempt.
	RestartBaseDelay time.Duration
	// RescanWindow selects files re-emitted as Changed after a restart.
	RescanWindow time.Duration
	Now          func() time.Time
}

// Metrics reports registry counters.
type Metrics struct {
	Roots           int
	// Degraded counts roots without an open watch, waiting on a restart.
	Degraded        int
	ActiveWatches   int
	EventsDelivered uint64
	Errors          uint64
	Restarts        uint64
}
