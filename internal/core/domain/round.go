package domain

import "fmt"

// SubTaskID identifies one research worker execution.
type SubTaskID string

// SubTaskResult is what one ConductResearch worker hands back.
type SubTaskResult struct {
	ID       SubTaskID `json:"id"`
	Index    int       `json:"index"`
	Topic    string    `json:"topic"`
	Summary  string    `json:"summary"`
	RawNotes string    `json:"raw_notes"`
}

// AggregateEntry is one instruction's note in a supervisor round,
// tagged with the instruction that produced it.
type AggregateEntry struct {
	InstructionID string          `json:"instruction_id"`
	Kind          InstructionKind `json:"kind"`
	Topic         string          `json:"topic,omitempty"`
	Note          string          `json:"note"`
	Failed        bool            `json:"failed,omitempty"`
}

// RoundResult is the output of one supervisor plan+execute round.
// Entries follow issue order. EndedEarly is true when planning or execution
// was interrupted; Entries and Draft then hold the best partial aggregate.
type RoundResult struct {
	Entries    []AggregateEntry `json:"entries"`
	Draft      string           `json:"draft"`
	Notes      []string         `json:"notes"`
	RawNotes   []string         `json:"raw_notes"`
	EndedEarly bool             `json:"ended_early"`
	Err        error            `json:"-"`
}

// FailedCount returns how many entries carry an error note.
func (r RoundResult) FailedCount() int {
	n := 0
	for _, e := range r.Entries {
		if e.Failed {
			n++
		}
	}
	return n
}

// ProgressKind classifies incremental events emitted while a job runs.
type ProgressKind string

const (
	ProgressToolStart ProgressKind = "tool_start"
	ProgressStepStart ProgressKind = "step_start"
	ProgressStepEnd   ProgressKind = "step_end"
)

// ProgressEvent is one incremental status event from a running job.
type ProgressEvent struct {
	Kind ProgressKind `json:"kind"`
	Name string       `json:"name"`
}

// String renders the event as a job log line.
func (e ProgressEvent) String() string {
	switch e.Kind {
	case ProgressToolStart:
		return fmt.Sprintf("using tool: %s", e.Name)
	case ProgressStepStart:
		return fmt.Sprintf("started: %s", e.Name)
	case ProgressStepEnd:
		return fmt.Sprintf("finished: %s", e.Name)
	default:
		return e.Name
	}
}
