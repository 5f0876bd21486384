package dispatch

import "time"

// Outcome is the result of one dispatch attempt.
type Outcome string

const (
	OutcomeProcessed     Outcome = "processed"
	OutcomeFailed        Outcome = "failed"
	OutcomePanicked      Outcome = "panicked"
	OutcomeNotReady      Outcome = "not_ready"
	OutcomeUnknownPlugin Outcome = "unknown_plugin"
)

// Record is the persisted history of a dispatch attempt.
type Record struct {
	ID        string
	Path      string
	Plugin    string
	Outcome   Outcome
	Error     string
	StartedAt time.Time
	Duration  time.Duration
}

// PluginStats is the in-memory last-dispatch bookkeeping for one plugin.
type PluginStats struct {
	Plugin      string
	LastPath    string
	LastAt      time.Time
	LastOutcome Outcome
	Dispatched  int
	Failures    int
}
