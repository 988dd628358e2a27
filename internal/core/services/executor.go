package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/manthysbr/deep-research/internal/core/domain"
	"github.com/manthysbr/deep-research/internal/core/ports"
)

// ExecutorConfig bounds a single job run
type ExecutorConfig struct {
	// Timeout caps one job; zero means no cap.
	Timeout time.Duration
}

// Executor drives every submitted WorkUnit in the background and records its
// lifecycle in the JobStore. Backend failures never escape: they become
// FAILED jobs.
type Executor struct {
	logger    *slog.Logger
	store     *JobStore
	scheduler *JobScheduler
	bus       *EventBus
	runners   map[domain.ResearchMode]ports.Runner
	cfg       ExecutorConfig
}

func NewExecutor(
	logger *slog.Logger,
	store *JobStore,
	scheduler *JobScheduler,
	bus *EventBus,
	runners map[domain.ResearchMode]ports.Runner,
	cfg ExecutorConfig,
) *Executor {
	return &Executor{
		logger:    logger,
		store:     store,
		scheduler: scheduler,
		bus:       bus,
		runners:   runners,
		cfg:       cfg,
	}
}

// Start begins consuming scheduled jobs. Jobs run under ctx, not under the
// context of the request that submitted them.
func (e *Executor) Start(ctx context.Context) {
	e.scheduler.Start(ctx, e.execute)
}

// Wait blocks until every started job has settled. Cancel the ctx passed to
// Start first.
func (e *Executor) Wait() {
	e.scheduler.Wait()
}

// Submit creates a QUEUED job and schedules it. It returns as soon as the job
// is visible to readers. No job is left behind when scheduling fails.
func (e *Executor) Submit(req domain.ResearchRequest) (domain.Job, error) {
	if _, ok := e.runners[modeOrDefault(req.Mode)]; !ok {
		return domain.Job{}, fmt.Errorf("%w: mode %q is not available", domain.ErrInputInvalid, req.Mode)
	}

	job, err := e.store.Create(req)
	if err != nil {
		return domain.Job{}, err
	}
	if err := e.scheduler.SubmitJob(job.ID); err != nil {
		e.store.Remove(job.ID)
		e.logger.Warn("job rejected", "job_id", job.ID, "error", err)
		return domain.Job{}, err
	}
	return job, nil
}

// Job returns a snapshot of one job.
func (e *Executor) Job(id domain.JobID) (domain.Job, error) {
	return e.store.Get(id)
}

// Jobs returns snapshots of every retained job.
func (e *Executor) Jobs() []domain.Job {
	return e.store.List()
}

// Done returns a channel closed when the job reaches a terminal state.
func (e *Executor) Done(id domain.JobID) (<-chan struct{}, error) {
	return e.store.Done(id)
}

// ExecutorStats is a point-in-time view of the executor's load.
type ExecutorStats struct {
	Jobs          int   `json:"jobs"`
	Pending       int   `json:"pending"`
	DroppedEvents int64 `json:"dropped_events"`
}

func (e *Executor) Stats() ExecutorStats {
	return ExecutorStats{
		Jobs:          e.store.Len(),
		Pending:       e.scheduler.Pending(),
		DroppedEvents: e.bus.Dropped(),
	}
}

// Subscribe streams bus events of one job.
func (e *Executor) Subscribe(id domain.JobID) (<-chan Event, func()) {
	return e.bus.Subscribe(id)
}

// AwaitWithDeadline waits up to d for the job to finish. The job is never
// cancelled by this wait: when the deadline or ctx wins, the outcome reports
// Completed=false and the caller may poll the same id later.
// A non-positive d does not wait at all.
func (e *Executor) AwaitWithDeadline(ctx context.Context, id domain.JobID, d time.Duration) (domain.SyncOutcome, error) {
	done, err := e.store.Done(id)
	if err != nil {
		return domain.SyncOutcome{}, err
	}

	if d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
		case <-ctx.Done():
		}
	}

	job, err := e.store.Get(id)
	if err != nil {
		return domain.SyncOutcome{}, err
	}
	return outcomeOf(job), nil
}

// RunSync submits a request and waits up to d for its result.
// With d <= 0 it always reports the job as still running.
func (e *Executor) RunSync(ctx context.Context, req domain.ResearchRequest, d time.Duration) (domain.SyncOutcome, error) {
	job, err := e.Submit(req)
	if err != nil {
		return domain.SyncOutcome{}, err
	}
	if d <= 0 {
		return domain.SyncOutcome{JobID: job.ID, Status: job.Status}, nil
	}
	return e.AwaitWithDeadline(ctx, job.ID, d)
}

func outcomeOf(job domain.Job) domain.SyncOutcome {
	out := domain.SyncOutcome{JobID: job.ID, Status: job.Status}
	if job.Status.IsTerminal() {
		out.Completed = true
		if job.Result != nil {
			out.Text = *job.Result
		}
	}
	return out
}

func modeOrDefault(m domain.ResearchMode) domain.ResearchMode {
	if m == "" {
		return domain.ResearchModeDeep
	}
	return m
}

// execute is the callback for the scheduler
func (e *Executor) execute(ctx context.Context, id domain.JobID) {
	job, err := e.store.MarkRunning(id)
	if err != nil {
		e.logger.Warn("job vanished before start", "job_id", id, "error", err)
		return
	}
	e.bus.PublishStatus(id, domain.JobStatusRunning, "")
	e.logger.Info("executing job", "job_id", id, "mode", job.Mode)

	if err := ctx.Err(); err != nil {
		e.failJob(id, fmt.Errorf("not started: %w", err))
		return
	}

	runner, ok := e.runners[job.Mode]
	if !ok {
		e.failJob(id, fmt.Errorf("no runner for mode %q", job.Mode))
		return
	}

	runCtx := ctx
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	text, err := e.invoke(runCtx, runner, job)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && e.cfg.Timeout > 0 {
			err = fmt.Errorf("timed out after %s: %w", e.cfg.Timeout, err)
		}
		e.failJob(id, err)
		return
	}
	if strings.TrimSpace(text) == "" {
		e.failJob(id, domain.ErrNoReport)
		return
	}

	if _, err := e.store.Complete(id, text); err != nil {
		e.logger.Error("failed to complete job", "job_id", id, "error", err)
		return
	}
	e.bus.PublishStatus(id, domain.JobStatusDone, "")
	e.bus.Publish(Event{JobID: id, Type: EventTypeResult, Data: text})
	e.logger.Info("job done", "job_id", id, "chars", len(text))
}

// invoke runs the backend and turns a panic into an error.
func (e *Executor) invoke(ctx context.Context, runner ports.Runner, job domain.Job) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("job panicked", "job_id", job.ID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("internal error: %v", r)
		}
	}()

	emit := func(ev domain.ProgressEvent) {
		line := ev.String()
		if err := e.store.AppendLog(job.ID, line); err != nil {
			e.logger.Warn("dropping log line", "job_id", job.ID, "error", err)
			return
		}
		e.bus.PublishLog(job.ID, line)
	}
	return runner.Run(ctx, job.Prompt, emit)
}

func (e *Executor) failJob(id domain.JobID, err error) {
	e.logger.Error("job failed", "job_id", id, "error", err)
	job, terr := e.store.Fail(id, err.Error())
	if terr != nil {
		e.logger.Error("failed to record job failure", "job_id", id, "error", terr)
		return
	}
	e.bus.PublishStatus(id, domain.JobStatusFailed, err.Error())
	if job.Result != nil {
		e.bus.Publish(Event{JobID: id, Type: EventTypeResult, Data: *job.Result})
	}
}
