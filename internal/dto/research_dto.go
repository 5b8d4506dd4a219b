package dto

import (
	"time"

	"github.com/google/uuid"
)

// RunRequest bounds one invocation of the research loop. A zero bound is
// unbounded on that axis; at least one must be positive.
type RunRequest struct {
	Topic         string        `json:"topic" validate:"required,max=500"`
	MaxDuration   time.Duration `json:"-" validate:"gte=0"`
	MaxIterations int           `json:"max_iterations" validate:"gte=0"`
	Seeds         []string      `json:"seeds" validate:"max=50,dive,required,max=500"`
}

// StartRunRequest is the HTTP body of POST /runs.
type StartRunRequest struct {
	Topic         string   `json:"topic" validate:"required,max=500"`
	MaxDuration   string   `json:"max_duration"` // Go duration, e.g. "2h"
	MaxIterations int      `json:"max_iterations" validate:"gte=0"`
	Seeds         []string `json:"seeds" validate:"max=50,dive,required,max=500"`
}

// DigestInput is what a run hands to the digest assembler: the topic and
// the time range covering this run's records.
type DigestInput struct {
	RunId      uuid.UUID   `json:"run_id"`
	Topic      string      `json:"topic"`
	From       time.Time   `json:"from"`
	To         time.Time   `json:"to"`
	Iterations int         `json:"iterations"`
	Reason     string      `json:"reason"`
	RecordIds  []uuid.UUID `json:"record_ids"`
	Pending    int         `json:"pending"`
}

func (d *DigestInput) Range() TimeRange {
	return TimeRange{From: d.From, To: d.To}
}

// TimeRange is half-open: From <= t < To. Zero bounds are open.
type TimeRange struct {
	From time.Time
	To   time.Time
}

type RunResponse struct {
	Run    *DigestInput `json:"run"`
	Digest string       `json:"digest"`
}

type PendingQueryResponse struct {
	Text   string `json:"text"`
	Origin string `json:"origin"`
	Depth  int    `json:"depth"`
}

type TerminationResponse struct {
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

type SessionStatusResponse struct {
	Topic      string                 `json:"topic"`
	Exists     bool                   `json:"exists"`
	Iteration  int                    `json:"iteration"`
	Version    int64                  `json:"version"`
	StartedAt  *time.Time             `json:"started_at"`
	LastRunAt  *time.Time             `json:"last_run_at"`
	Pending    []PendingQueryResponse `json:"pending"`
	Processed  map[string]int         `json:"processed"` // outcome -> count
	Retrying   int                    `json:"retrying"`
	Records    int64                  `json:"records"`
	Terminated *TerminationResponse   `json:"terminated"`
}

type DigestResponse struct {
	Topic    string     `json:"topic"`
	From     *time.Time `json:"from"`
	To       *time.Time `json:"to"`
	Markdown string     `json:"markdown"`
}
