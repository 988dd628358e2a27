package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type JobID string

type JobStatus string

const (
	JobStatusQueued  JobStatus = "QUEUED"
	JobStatusRunning JobStatus = "RUNNING"
	JobStatusDone    JobStatus = "DONE"
	JobStatusFailed  JobStatus = "FAILED"
)

// IsTerminal reports whether no further transition is allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusDone || s == JobStatusFailed
}

// CanTransitionTo enforces Queued -> Running -> {Done|Failed}.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusQueued:
		return next == JobStatusRunning
	case JobStatusRunning:
		return next == JobStatusDone || next == JobStatusFailed
	default:
		return false
	}
}

// ResearchMode selects how a job is executed.
type ResearchMode string

const (
	// ResearchModeDeep runs the full brief/draft/supervisor/final pipeline.
	ResearchModeDeep ResearchMode = "deep"
	// ResearchModeQuick answers with a single backend call.
	ResearchModeQuick ResearchMode = "quick"
)

// ParseResearchMode maps user input onto a mode, defaulting to deep.
func ParseResearchMode(raw string) (ResearchMode, error) {
	switch ResearchMode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ResearchModeDeep:
		return ResearchModeDeep, nil
	case ResearchModeQuick:
		return ResearchModeQuick, nil
	default:
		return "", fmt.Errorf("%w: unknown mode %q", ErrInputInvalid, raw)
	}
}

// ResearchRequest is one submitted WorkUnit.
type ResearchRequest struct {
	Prompt string       `json:"prompt"`
	Mode   ResearchMode `json:"mode,omitempty"`
}

// Validate rejects requests that must never create a job.
func (r ResearchRequest) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return ErrInputInvalid
	}
	return nil
}

// Job is the lifecycle record of one research request.
// Result is set iff Status is DONE or FAILED (a failed job carries an
// annotated explanation); Error is set iff Status is FAILED.
type Job struct {
	ID         JobID        `json:"id"`
	Prompt     string       `json:"prompt"`
	Mode       ResearchMode `json:"mode"`
	Status     JobStatus    `json:"status"`
	Result     *string      `json:"result,omitempty"`
	Error      *string      `json:"error,omitempty"`
	Log        []string     `json:"log"`
	LogDropped int          `json:"log_dropped,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
	StartedAt  *time.Time   `json:"started_at,omitempty"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
}

// SyncOutcome is the answer to a bounded wait on a job.
// Completed is false when the deadline elapsed first; the job keeps running.
type SyncOutcome struct {
	JobID     JobID     `json:"job_id"`
	Completed bool      `json:"completed"`
	Status    JobStatus `json:"status"`
	Text      string    `json:"text,omitempty"`
}

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrInputInvalid      = errors.New("prompt is required")
	ErrInvalidTransition = errors.New("invalid job transition")
	ErrQueueFull         = errors.New("scheduling queue full")
	ErrNoReport          = errors.New("no final report or draft report produced")
)
