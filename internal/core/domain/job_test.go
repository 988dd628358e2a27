package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		ok       bool
	}{
		{JobStatusQueued, JobStatusRunning, true},
		{JobStatusQueued, JobStatusDone, false},
		{JobStatusQueued, JobStatusFailed, false},
		{JobStatusRunning, JobStatusDone, true},
		{JobStatusRunning, JobStatusFailed, true},
		{JobStatusRunning, JobStatusQueued, false},
		{JobStatusDone, JobStatusFailed, false},
		{JobStatusDone, JobStatusRunning, false},
		{JobStatusFailed, JobStatusDone, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
	assert.True(t, JobStatusDone.IsTerminal())
	assert.True(t, JobStatusFailed.IsTerminal())
	assert.False(t, JobStatusRunning.IsTerminal())
}

func TestParseResearchMode(t *testing.T) {
	m, err := ParseResearchMode("")
	assert.NoError(t, err)
	assert.Equal(t, ResearchModeDeep, m)

	m, err = ParseResearchMode(" Quick ")
	assert.NoError(t, err)
	assert.Equal(t, ResearchModeQuick, m)

	_, err = ParseResearchMode("exhaustive")
	assert.ErrorIs(t, err, ErrInputInvalid)
}

func TestResearchRequest_Validate(t *testing.T) {
	assert.ErrorIs(t, ResearchRequest{Prompt: " \n\t"}.Validate(), ErrInputInvalid)
	assert.NoError(t, ResearchRequest{Prompt: "explain X"}.Validate())
}

func TestProgressEvent_String(t *testing.T) {
	assert.Equal(t, "using tool: think_tool", ProgressEvent{Kind: ProgressToolStart, Name: ToolThink}.String())
	assert.Equal(t, "started: write_draft_report", ProgressEvent{Kind: ProgressStepStart, Name: "write_draft_report"}.String())
}
