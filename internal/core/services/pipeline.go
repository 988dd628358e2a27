package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/manthysbr/deep-research/internal/core/domain"
	"github.com/manthysbr/deep-research/internal/core/ports"
)

// Pipeline step names, as they show up in job logs.
const (
	StepResearchBrief = "write_research_brief"
	StepDraftReport   = "write_draft_report"
	StepSupervisor    = "supervisor_subgraph"
	StepFinalReport   = "final_report_generation"
	StepDirectAnswer  = "direct_answer"
)

// ResearchPipeline is the deep-mode runner: brief, draft, one supervisor
// round, final report.
type ResearchPipeline struct {
	logger     *slog.Logger
	backend    ports.TextGenerator
	supervisor *Supervisor
	now        func() time.Time
}

func NewResearchPipeline(logger *slog.Logger, backend ports.TextGenerator, supervisor *Supervisor) *ResearchPipeline {
	return &ResearchPipeline{
		logger:     logger,
		backend:    backend,
		supervisor: supervisor,
		now:        time.Now,
	}
}

func (p *ResearchPipeline) Run(ctx context.Context, prompt string, emit ports.ProgressFunc) (string, error) {
	if emit == nil {
		emit = func(domain.ProgressEvent) {}
	}

	var brief string
	err := p.step(emit, StepResearchBrief, func() (err error) {
		brief, err = p.generate(ctx, researchBriefPrompt(prompt, p.now()))
		return err
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", StepResearchBrief, err)
	}

	var draft string
	err = p.step(emit, StepDraftReport, func() (err error) {
		draft, err = p.generate(ctx, draftReportPrompt(brief, p.now()))
		return err
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", StepDraftReport, err)
	}

	var round domain.RoundResult
	p.track(emit, StepSupervisor, func() {
		round = p.supervisor.RunRound(ctx, RoundState{Brief: brief, Draft: draft}, emit)
	})
	if round.EndedEarly {
		p.logger.Warn("supervisor round ended early", "error", round.Err, "entries", len(round.Entries))
	}
	if failed := round.FailedCount(); failed > 0 {
		p.logger.Warn("supervisor round had failures", "failed", failed, "entries", len(round.Entries))
	}
	if round.Draft != "" {
		draft = round.Draft
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%s: %w", StepSupervisor, err)
	}

	var final string
	p.track(emit, StepFinalReport, func() {
		findings := strings.Join(append(append([]string(nil), round.Notes...), round.RawNotes...), "\n")
		out, err := p.generate(ctx, finalReportPrompt(brief, findings, draft, p.now()))
		if err != nil {
			p.logger.Warn("final report failed, falling back to draft", "error", err)
			return
		}
		final = out
	})

	switch {
	case final != "":
		return final, nil
	case strings.TrimSpace(draft) != "":
		return draft, nil
	default:
		return "", domain.ErrNoReport
	}
}

func (p *ResearchPipeline) generate(ctx context.Context, prompt string) (string, error) {
	out, err := p.backend.GenerateText(ctx, prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (p *ResearchPipeline) step(emit ports.ProgressFunc, name string, fn func() error) error {
	var err error
	p.track(emit, name, func() { err = fn() })
	return err
}

// track brackets fn with step start/end events.
func (p *ResearchPipeline) track(emit ports.ProgressFunc, name string, fn func()) {
	emit(domain.ProgressEvent{Kind: domain.ProgressStepStart, Name: name})
	fn()
	emit(domain.ProgressEvent{Kind: domain.ProgressStepEnd, Name: name})
}

// DirectRunner is the quick-mode runner: one backend call.
type DirectRunner struct {
	backend ports.TextGenerator
}

func NewDirectRunner(backend ports.TextGenerator) *DirectRunner {
	return &DirectRunner{backend: backend}
}

func (d *DirectRunner) Run(ctx context.Context, prompt string, emit ports.ProgressFunc) (string, error) {
	if emit != nil {
		emit(domain.ProgressEvent{Kind: domain.ProgressStepStart, Name: StepDirectAnswer})
		defer emit(domain.ProgressEvent{Kind: domain.ProgressStepEnd, Name: StepDirectAnswer})
	}
	out, err := d.backend.GenerateText(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("%s: %w", StepDirectAnswer, err)
	}
	return strings.TrimSpace(out), nil
}
