package ports

import (
	"context"

	"github.com/manthysbr/deep-research/internal/core/domain"
)

// TextGenerator produces free text for a single prompt.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// ToolCallPlanner asks the model which tools to call for a prompt.
// Calls come back in the order the model issued them.
type ToolCallPlanner interface {
	PlanToolCalls(ctx context.Context, prompt string, tools []domain.ToolSpec) ([]domain.ToolCall, error)
}

// Backend is the full language-model surface the research pipeline needs.
type Backend interface {
	TextGenerator
	ToolCallPlanner
}

// ProgressFunc receives incremental events while a WorkUnit runs.
// Implementations must not block for long.
type ProgressFunc func(domain.ProgressEvent)

// Runner executes one WorkUnit and returns its final text.
type Runner interface {
	Run(ctx context.Context, prompt string, emit ProgressFunc) (string, error)
}

// EmitFunc pushes one event to a session's outbound mailbox.
type EmitFunc func(domain.SessionEvent) error

// MessageHandler serves one inbound session message. It may emit any number
// of events before returning; a returned error is reported to the client.
type MessageHandler interface {
	Handle(ctx context.Context, sessionID domain.SessionID, msg domain.SessionMessage, emit EmitFunc) error
}

// ReportWriter persists a finished report.
type ReportWriter interface {
	WriteReport(ctx context.Context, jobID domain.JobID, text string) (string, error)
}

// Searcher looks a query up on the web.
type Searcher interface {
	Search(ctx context.Context, query string) ([]domain.SearchResult, error)
}
