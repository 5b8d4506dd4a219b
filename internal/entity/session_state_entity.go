package entity

import (
	"time"

	"ai-research-be/pkg/research"
)

// Outcome records how a processed query ended.
type Outcome string

const (
	OutcomeSummarized Outcome = "summarized"
	OutcomeNoFindings Outcome = "no_findings"
	OutcomeDuplicate  Outcome = "duplicate"
	OutcomeFailed     Outcome = "failed"
)

// TerminationReason explains why a run stopped.
type TerminationReason string

const (
	ReasonExhausted        TerminationReason = "exhausted"
	ReasonMaxIterations    TerminationReason = "max_iterations"
	ReasonMaxDuration      TerminationReason = "max_duration"
	ReasonCancelled        TerminationReason = "cancelled"
	ReasonStoreUnavailable TerminationReason = "store_unavailable"
	ReasonLocked           TerminationReason = "locked"
)

type Termination struct {
	Reason TerminationReason `json:"reason"`
	At     time.Time         `json:"at"`
}

// SessionState is the resumable progress record for one topic. It is owned
// by a single run at a time and never deleted.
type SessionState struct {
	Topic      string                `json:"topic"`
	Pending    research.PendingQueue `json:"pending"`
	Processed  map[string]Outcome    `json:"processed"`
	Retries    map[string]int        `json:"retries"`
	Iteration  int                   `json:"iteration"`
	StartedAt  time.Time             `json:"started_at"`
	LastRunAt  time.Time             `json:"last_run_at"`
	Terminated *Termination          `json:"terminated"`
	Version    int64                 `json:"version"`
}

// NewSessionState returns an empty state for topic.
func NewSessionState(topic string, now time.Time) *SessionState {
	return &SessionState{
		Topic:     topic,
		Pending:   research.PendingQueue{},
		Processed: make(map[string]Outcome),
		Retries:   make(map[string]int),
		StartedAt: now,
		LastRunAt: now,
	}
}

// IsProcessed reports whether the normalized text has an outcome.
func (s *SessionState) IsProcessed(text string) bool {
	_, ok := s.Processed[research.Normalize(text)]
	return ok
}

// Known reports whether text is already processed or pending.
func (s *SessionState) Known(text string) bool {
	return s.IsProcessed(text) || s.Pending.Contains(text)
}

// OutcomeCounts tallies the processed queries per outcome.
func (s *SessionState) OutcomeCounts() map[Outcome]int {
	counts := make(map[Outcome]int)
	for _, v := range s.Processed {
		counts[v]++
	}
	return counts
}

// Clone returns a deep copy, used as the rollback checkpoint.
func (s *SessionState) Clone() *SessionState {
	if s == nil {
		return nil
	}
	out := *s
	out.Pending = s.Pending.Clone()
	out.Processed = make(map[string]Outcome, len(s.Processed))
	for k, v := range s.Processed {
		out.Processed[k] = v
	}
	out.Retries = make(map[string]int, len(s.Retries))
	for k, v := range s.Retries {
		out.Retries[k] = v
	}
	if s.Terminated != nil {
		t := *s.Terminated
		out.Terminated = &t
	}
	return &out
}

// EnsureMaps fills nil maps after decoding an older or partial document.
func (s *SessionState) EnsureMaps() {
	if s.Processed == nil {
		s.Processed = make(map[string]Outcome)
	}
	if s.Retries == nil {
		s.Retries = make(map[string]int)
	}
	if s.Pending == nil {
		s.Pending = research.PendingQueue{}
	}
}
