package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Tool names the supervisor model is allowed to call.
const (
	ToolThink            = "think_tool"
	ToolConductResearch  = "ConductResearch"
	ToolRefineDraft      = "refine_draft_report"
	ToolResearchComplete = "ResearchComplete"
)

var ErrMalformedPlan = errors.New("malformed supervisor plan")

// ToolCall is one raw call returned by the planning backend.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON object
}

// ToolSpec describes a callable tool to the backend.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// InstructionKind tags the variants of Instruction.
type InstructionKind string

const (
	InstructionThink    InstructionKind = "think"
	InstructionResearch InstructionKind = "research"
	InstructionRefine   InstructionKind = "refine"
	InstructionNoop     InstructionKind = "noop"
)

// Instruction is a closed set: ThinkInstruction, ResearchInstruction,
// RefineInstruction and NoopInstruction. Only this package can add variants.
type Instruction interface {
	CallID() string
	Kind() InstructionKind
	isInstruction()
}

// ThinkInstruction is a pure reflection step with no I/O.
type ThinkInstruction struct {
	ID         string
	Reflection string
}

// ResearchInstruction delegates one sub-topic to a worker.
type ResearchInstruction struct {
	ID    string
	Topic string
}

// RefineInstruction folds every available note into a new draft.
// Draft and Findings are optional hints from the planner; the supervisor
// always merges them with its own state.
type RefineInstruction struct {
	ID       string
	Draft    string
	Findings string
}

// NoopInstruction ends the round with the current aggregate.
type NoopInstruction struct {
	ID string
}

func (i ThinkInstruction) CallID() string    { return i.ID }
func (i ResearchInstruction) CallID() string { return i.ID }
func (i RefineInstruction) CallID() string   { return i.ID }
func (i NoopInstruction) CallID() string     { return i.ID }

func (ThinkInstruction) Kind() InstructionKind    { return InstructionThink }
func (ResearchInstruction) Kind() InstructionKind { return InstructionResearch }
func (RefineInstruction) Kind() InstructionKind   { return InstructionRefine }
func (NoopInstruction) Kind() InstructionKind     { return InstructionNoop }

func (ThinkInstruction) isInstruction()    {}
func (ResearchInstruction) isInstruction() {}
func (RefineInstruction) isInstruction()   {}
func (NoopInstruction) isInstruction()     {}

// DecodeInstructions turns raw tool calls into instructions, preserving order.
// Calls without an ID get a positional one so results stay correlatable.
func DecodeInstructions(calls []ToolCall) ([]Instruction, error) {
	out := make([]Instruction, 0, len(calls))
	for i, call := range calls {
		id := strings.TrimSpace(call.ID)
		if id == "" {
			id = fmt.Sprintf("call_%d", i+1)
		}

		args := map[string]any{}
		if raw := strings.TrimSpace(call.Arguments); raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				return nil, fmt.Errorf("%w: call %s (%s): %v", ErrMalformedPlan, id, call.Name, err)
			}
		}

		switch call.Name {
		case ToolThink:
			out = append(out, ThinkInstruction{ID: id, Reflection: stringArg(args, "reflection")})
		case ToolConductResearch:
			topic := stringArg(args, "research_topic")
			if topic == "" {
				return nil, fmt.Errorf("%w: call %s has no research_topic", ErrMalformedPlan, id)
			}
			out = append(out, ResearchInstruction{ID: id, Topic: topic})
		case ToolRefineDraft:
			out = append(out, RefineInstruction{
				ID:       id,
				Draft:    stringArg(args, "draft_report"),
				Findings: stringArg(args, "findings"),
			})
		case ToolResearchComplete:
			out = append(out, NoopInstruction{ID: id})
		default:
			return nil, fmt.Errorf("%w: unknown tool %q", ErrMalformedPlan, call.Name)
		}
	}
	return out, nil
}

func stringArg(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// SupervisorTools returns the tool catalogue offered to the planning step.
func SupervisorTools() []ToolSpec {
	return []ToolSpec{
		{
			Name:        ToolConductResearch,
			Description: "Delegate research on one focused sub-topic to a research worker. Call it several times to research topics in parallel.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"research_topic": map[string]any{
						"type":        "string",
						"description": "The topic to research. Describe it in at least a paragraph of detail.",
					},
				},
				"required": []string{"research_topic"},
			},
		},
		{
			Name:        ToolResearchComplete,
			Description: "Signal that research is complete and no further work is needed.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			Name:        ToolThink,
			Description: "Record a strategic reflection on progress, gaps and next steps.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"reflection": map[string]any{
						"type":        "string",
						"description": "Detailed reflection on research progress, findings, gaps and next steps.",
					},
				},
				"required": []string{"reflection"},
			},
		},
		{
			Name:        ToolRefineDraft,
			Description: "Refine the draft report with the findings gathered so far.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"research_brief": map[string]any{"type": "string"},
					"findings":       map[string]any{"type": "string"},
					"draft_report":   map[string]any{"type": "string"},
				},
			},
		},
	}
}
