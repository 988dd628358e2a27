package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInstructions(t *testing.T) {
	calls := []ToolCall{
		{ID: "a", Name: ToolThink, Arguments: `{"reflection":"gaps in pricing"}`},
		{ID: "b", Name: ToolConductResearch, Arguments: `{"research_topic":"  EU pricing  "}`},
		{Name: ToolRefineDraft, Arguments: `{"draft_report":"d","findings":"f"}`},
		{ID: "d", Name: ToolResearchComplete},
	}

	got, err := DecodeInstructions(calls)
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.Equal(t, ThinkInstruction{ID: "a", Reflection: "gaps in pricing"}, got[0])
	assert.Equal(t, ResearchInstruction{ID: "b", Topic: "EU pricing"}, got[1])
	assert.Equal(t, RefineInstruction{ID: "call_3", Draft: "d", Findings: "f"}, got[2])
	assert.Equal(t, NoopInstruction{ID: "d"}, got[3])

	kinds := []InstructionKind{InstructionThink, InstructionResearch, InstructionRefine, InstructionNoop}
	for i, ins := range got {
		assert.Equal(t, kinds[i], ins.Kind())
	}
}

func TestDecodeInstructions_Malformed(t *testing.T) {
	tests := []struct {
		name string
		call ToolCall
	}{
		{"unknown tool", ToolCall{ID: "x", Name: "web_search", Arguments: `{}`}},
		{"bad json", ToolCall{ID: "x", Name: ToolThink, Arguments: `{"reflection":`}},
		{"missing topic", ToolCall{ID: "x", Name: ToolConductResearch, Arguments: `{"topic":"wrong key"}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeInstructions([]ToolCall{tt.call})
			assert.ErrorIs(t, err, ErrMalformedPlan)
		})
	}
}

func TestSupervisorTools(t *testing.T) {
	names := map[string]bool{}
	for _, tool := range SupervisorTools() {
		names[tool.Name] = true
		assert.Equal(t, "object", tool.Parameters["type"])
	}
	for _, n := range []string{ToolThink, ToolConductResearch, ToolRefineDraft, ToolResearchComplete} {
		assert.True(t, names[n], n)
	}
}
