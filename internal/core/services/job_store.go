package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/manthysbr/deep-research/internal/core/domain"
)

// failurePrefix annotates the result of a failed job so that clients reading
// only the result still see what happened.
const failurePrefix = "Research failed: "

// JobStoreConfig bounds retention and log size
type JobStoreConfig struct {
	MaxLogLines int
	Retention   time.Duration
}

type jobEntry struct {
	mu   sync.Mutex
	job  domain.Job
	done chan struct{}
}

// snapshot must be called with e.mu held.
func (e *jobEntry) snapshot() domain.Job {
	j := e.job
	j.Log = append([]string(nil), e.job.Log...)
	return j
}

// JobStore owns every Job record. The registry lock only guards
// insert/lookup/delete; each job has its own lock so writers to different
// jobs never contend.
type JobStore struct {
	logger *slog.Logger
	cfg    JobStoreConfig
	now    func() time.Time

	mu   sync.RWMutex
	jobs map[domain.JobID]*jobEntry
}

func NewJobStore(logger *slog.Logger, cfg JobStoreConfig) *JobStore {
	if cfg.MaxLogLines <= 0 {
		cfg.MaxLogLines = 200
	}
	return &JobStore{
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
		jobs:   make(map[domain.JobID]*jobEntry),
	}
}

// Create validates the request and inserts a QUEUED job. The returned job is
// already visible to Get.
func (s *JobStore) Create(req domain.ResearchRequest) (domain.Job, error) {
	if err := req.Validate(); err != nil {
		return domain.Job{}, err
	}
	mode := req.Mode
	if mode == "" {
		mode = domain.ResearchModeDeep
	}

	now := s.now()
	entry := &jobEntry{
		job: domain.Job{
			Prompt:    req.Prompt,
			Mode:      mode,
			Status:    domain.JobStatusQueued,
			Log:       []string{},
			CreatedAt: now,
			UpdatedAt: now,
		},
		done: make(chan struct{}),
	}

	s.mu.Lock()
	id := domain.JobID(uuid.New().String())
	for _, taken := s.jobs[id]; taken; _, taken = s.jobs[id] {
		id = domain.JobID(uuid.New().String())
	}
	entry.job.ID = id
	created := entry.snapshot()
	s.jobs[id] = entry
	s.mu.Unlock()

	s.logger.Info("job created", "job_id", id, "mode", mode)
	return created, nil
}

func (s *JobStore) entry(id domain.JobID) (*jobEntry, error) {
	s.mu.RLock()
	e, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}
	return e, nil
}

// Get returns a consistent snapshot of one job.
func (s *JobStore) Get(id domain.JobID) (domain.Job, error) {
	e, err := s.entry(id)
	if err != nil {
		return domain.Job{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot(), nil
}

// List returns snapshots of every retained job, oldest first.
func (s *JobStore) List() []domain.Job {
	s.mu.RLock()
	entries := make([]*jobEntry, 0, len(s.jobs))
	for _, e := range s.jobs {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]domain.Job, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.snapshot())
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len reports how many jobs are retained.
func (s *JobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// Done returns a channel closed once the job reaches a terminal state.
func (s *JobStore) Done(id domain.JobID) (<-chan struct{}, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	return e.done, nil
}

func (s *JobStore) transition(id domain.JobID, next domain.JobStatus, apply func(*domain.Job)) (domain.Job, error) {
	e, err := s.entry(id)
	if err != nil {
		return domain.Job{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.job.Status.CanTransitionTo(next) {
		return e.snapshot(), fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, e.job.Status, next)
	}

	now := s.now()
	e.job.Status = next
	e.job.UpdatedAt = now
	if apply != nil {
		apply(&e.job)
	}
	if next.IsTerminal() {
		e.job.FinishedAt = &now
		close(e.done)
	}
	return e.snapshot(), nil
}

// MarkRunning moves a QUEUED job to RUNNING.
func (s *JobStore) MarkRunning(id domain.JobID) (domain.Job, error) {
	return s.transition(id, domain.JobStatusRunning, func(j *domain.Job) {
		started := j.UpdatedAt
		j.StartedAt = &started
	})
}

// Complete moves a RUNNING job to DONE with its result.
func (s *JobStore) Complete(id domain.JobID, result string) (domain.Job, error) {
	return s.transition(id, domain.JobStatusDone, func(j *domain.Job) {
		j.Result = &result
	})
}

// Fail moves a RUNNING job to FAILED. The result carries the annotated
// reason as well.
func (s *JobStore) Fail(id domain.JobID, reason string) (domain.Job, error) {
	return s.transition(id, domain.JobStatusFailed, func(j *domain.Job) {
		msg := reason
		annotated := failurePrefix + reason
		j.Error = &msg
		j.Result = &annotated
	})
}

// AppendLog records one status line. Lines arriving after the job is terminal
// are ignored; the oldest lines are discarded past MaxLogLines.
func (s *JobStore) AppendLog(id domain.JobID, line string) error {
	e, err := s.entry(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.job.Status.IsTerminal() {
		return nil
	}
	e.job.Log = append(e.job.Log, line)
	if over := len(e.job.Log) - s.cfg.MaxLogLines; over > 0 {
		e.job.Log = append([]string(nil), e.job.Log[over:]...)
		e.job.LogDropped += over
	}
	e.job.UpdatedAt = s.now()
	return nil
}

// Remove forgets a job regardless of its state.
func (s *JobStore) Remove(id domain.JobID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return false
	}
	delete(s.jobs, id)
	return true
}

// Evict drops terminal jobs that finished more than Retention ago.
// Jobs that are still queued or running are never evicted.
func (s *JobStore) Evict() int {
	if s.cfg.Retention <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.cfg.Retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, e := range s.jobs {
		e.mu.Lock()
		expired := e.job.FinishedAt != nil && e.job.FinishedAt.Before(cutoff)
		e.mu.Unlock()
		if expired {
			delete(s.jobs, id)
			evicted++
		}
	}
	return evicted
}

// Run evicts expired jobs periodically until ctx is cancelled.
func (s *JobStore) Run(ctx context.Context, interval time.Duration) {
	if s.cfg.Retention <= 0 {
		s.logger.Info("job retention disabled, janitor not started")
		return
	}
	if interval <= 0 {
		interval = s.cfg.Retention / 4
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Evict(); n > 0 {
				s.logger.Info("evicted finished jobs", "count", n)
			}
		}
	}
}
