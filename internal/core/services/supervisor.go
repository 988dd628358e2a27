package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/manthysbr/deep-research/internal/core/domain"
	"github.com/manthysbr/deep-research/internal/core/ports"
	"golang.org/x/sync/semaphore"
)

// SupervisorConfig bounds one round
type SupervisorConfig struct {
	MaxConcurrentResearchers int
	MaxResearcherIterations  int
}

// RoundState is what the supervisor knows when a round starts.
type RoundState struct {
	Brief    string
	Draft    string
	Notes    []string
	RawNotes []string
}

// Supervisor runs exactly one plan + execute round: the backend picks tool
// calls, think calls resolve inline, research calls fan out to workers with
// a FIFO concurrency cap, refine calls run last over every available note.
type Supervisor struct {
	logger  *slog.Logger
	backend ports.Backend
	workers SubTaskRunner
	cfg     SupervisorConfig
	now     func() time.Time
}

func NewSupervisor(logger *slog.Logger, backend ports.Backend, workers SubTaskRunner, cfg SupervisorConfig) *Supervisor {
	if cfg.MaxConcurrentResearchers <= 0 {
		cfg.MaxConcurrentResearchers = 3
	}
	if cfg.MaxResearcherIterations <= 0 {
		cfg.MaxResearcherIterations = 15
	}
	return &Supervisor{
		logger:  logger,
		backend: backend,
		workers: workers,
		cfg:     cfg,
		now:     time.Now,
	}
}

// round accumulates results while instructions execute. Entry slots are
// indexed by issue order and filled as instructions settle.
type round struct {
	state    RoundState
	entries  []domain.AggregateEntry
	filled   []bool
	notes    []string
	rawNotes []string
}

func (r *round) set(i int, e domain.AggregateEntry) {
	r.entries[i] = e
	r.filled[i] = true
}

// result builds the aggregate from every settled instruction, in issue order.
func (r *round) result(endedEarly bool, err error) domain.RoundResult {
	entries := make([]domain.AggregateEntry, 0, len(r.entries))
	for i, e := range r.entries {
		if r.filled[i] {
			entries = append(entries, e)
		}
	}
	return domain.RoundResult{
		Entries:    entries,
		Draft:      r.state.Draft,
		Notes:      r.notes,
		RawNotes:   r.rawNotes,
		EndedEarly: endedEarly,
		Err:        err,
	}
}

// RunRound never returns an error: any failure ends the round early with the
// partial aggregate and EndedEarly set.
func (s *Supervisor) RunRound(ctx context.Context, state RoundState, emit ports.ProgressFunc) (res domain.RoundResult) {
	if emit == nil {
		emit = func(domain.ProgressEvent) {}
	}
	r := &round{
		state:    state,
		notes:    append([]string(nil), state.Notes...),
		rawNotes: append([]string(nil), state.RawNotes...),
	}

	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("supervisor round panicked", "panic", p)
			res = r.result(true, fmt.Errorf("supervisor panic: %v", p))
		}
	}()

	instructions, err := s.plan(ctx, state)
	if err != nil {
		s.logger.Warn("supervisor planning failed", "error", err)
		return r.result(true, err)
	}
	r.entries = make([]domain.AggregateEntry, len(instructions))
	r.filled = make([]bool, len(instructions))
	s.logger.Info("supervisor plan", "instructions", len(instructions))

	var research, refine []int
	for i, ins := range instructions {
		switch in := ins.(type) {
		case domain.ThinkInstruction:
			emit(domain.ProgressEvent{Kind: domain.ProgressToolStart, Name: domain.ToolThink})
			r.set(i, domain.AggregateEntry{
				InstructionID: in.ID,
				Kind:          in.Kind(),
				Note:          "Reflection recorded: " + in.Reflection,
			})
		case domain.ResearchInstruction:
			research = append(research, i)
		case domain.RefineInstruction:
			refine = append(refine, i)
		case domain.NoopInstruction:
			r.set(i, domain.AggregateEntry{
				InstructionID: in.ID,
				Kind:          in.Kind(),
				Note:          "Research complete.",
			})
		default:
			return r.result(true, fmt.Errorf("%w: unhandled instruction %T", domain.ErrMalformedPlan, ins))
		}
	}

	if len(research) > 0 {
		s.fanOut(ctx, r, instructions, research, emit)
	}
	if err := ctx.Err(); err != nil {
		return r.result(true, err)
	}

	for _, i := range refine {
		in := instructions[i].(domain.RefineInstruction)
		emit(domain.ProgressEvent{Kind: domain.ProgressToolStart, Name: domain.ToolRefineDraft})
		draft, err := s.refine(ctx, r, in)
		if err != nil {
			s.logger.Warn("draft refinement failed", "instruction_id", in.ID, "error", err)
			r.set(i, domain.AggregateEntry{
				InstructionID: in.ID,
				Kind:          in.Kind(),
				Note:          fmt.Sprintf("Error: refining the draft failed: %v", err),
				Failed:        true,
			})
			return r.result(true, err)
		}
		r.state.Draft = draft
		r.set(i, domain.AggregateEntry{InstructionID: in.ID, Kind: in.Kind(), Note: draft})
	}

	return r.result(false, nil)
}

func (s *Supervisor) plan(ctx context.Context, state RoundState) ([]domain.Instruction, error) {
	prompt := supervisorPrompt(state.Brief, state.Draft, state.Notes,
		s.cfg.MaxConcurrentResearchers, s.cfg.MaxResearcherIterations, s.now())

	calls, err := s.backend.PlanToolCalls(ctx, prompt, domain.SupervisorTools())
	if err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}
	return domain.DecodeInstructions(calls)
}

// fanOut dispatches research instructions in issue order. A slot is acquired
// before each worker starts, so instructions beyond the cap wait FIFO. Every
// dispatched worker is awaited; a failed worker leaves an error note.
func (s *Supervisor) fanOut(ctx context.Context, r *round, instructions []domain.Instruction, indexes []int, emit ports.ProgressFunc) {
	sem := semaphore.NewWeighted(int64(s.cfg.MaxConcurrentResearchers))
	results := make([]domain.SubTaskResult, len(indexes))
	errs := make([]error, len(indexes))

	var wg sync.WaitGroup
	for n, i := range indexes {
		in := instructions[i].(domain.ResearchInstruction)
		if err := sem.Acquire(ctx, 1); err != nil {
			errs[n] = fmt.Errorf("not started: %w", err)
			continue
		}
		emit(domain.ProgressEvent{Kind: domain.ProgressToolStart, Name: domain.ToolConductResearch})

		wg.Add(1)
		go func(n int, in domain.ResearchInstruction) {
			defer wg.Done()
			defer sem.Release(1)
			results[n], errs[n] = s.runWorker(ctx, n, in.Topic)
		}(n, in)
	}
	wg.Wait()

	for n, i := range indexes {
		in := instructions[i].(domain.ResearchInstruction)
		if err := errs[n]; err != nil {
			s.logger.Warn("research sub-task failed", "instruction_id", in.ID, "topic", in.Topic, "error", err)
			r.set(i, domain.AggregateEntry{
				InstructionID: in.ID,
				Kind:          in.Kind(),
				Topic:         in.Topic,
				Note:          fmt.Sprintf("Error: research on %q failed: %v", in.Topic, err),
				Failed:        true,
			})
			continue
		}
		r.set(i, domain.AggregateEntry{
			InstructionID: in.ID,
			Kind:          in.Kind(),
			Topic:         in.Topic,
			Note:          results[n].Summary,
		})
		r.notes = append(r.notes, results[n].Summary)
		if results[n].RawNotes != "" {
			r.rawNotes = append(r.rawNotes, results[n].RawNotes)
		}
	}
}

func (s *Supervisor) runWorker(ctx context.Context, index int, topic string) (res domain.SubTaskResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("worker panic: %v", p)
		}
	}()
	return s.workers.Research(ctx, index, topic)
}

// refine folds prior notes, this round's notes and raw notes into the draft.
func (s *Supervisor) refine(ctx context.Context, r *round, in domain.RefineInstruction) (string, error) {
	findings := make([]string, 0, len(r.notes)+len(r.rawNotes)+1)
	findings = append(findings, r.notes...)
	findings = append(findings, r.rawNotes...)
	if in.Findings != "" {
		findings = append(findings, in.Findings)
	}

	draft := r.state.Draft
	if draft == "" {
		draft = in.Draft
	}

	out, err := s.backend.GenerateText(ctx, refineDraftPrompt(r.state.Brief, strings.Join(findings, "\n"), draft, s.now()))
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", errors.New("backend returned an empty draft")
	}
	return out, nil
}
