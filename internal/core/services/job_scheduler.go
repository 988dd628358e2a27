package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/manthysbr/deep-research/internal/core/domain"
	"golang.org/x/sync/semaphore"
)

// SchedulerConfig defines concurrency limits
type SchedulerConfig struct {
	MaxConcurrentJobs int64
	QueueDepth        int
}

// JobHandler runs one scheduled job. When the scheduler is stopping it is
// still called for every job left in the queue, with an already-cancelled ctx.
type JobHandler func(ctx context.Context, id domain.JobID)

// JobScheduler caps how many jobs run at once. Jobs beyond the cap wait in a
// bounded queue; a full queue rejects new submissions.
type JobScheduler struct {
	logger       *slog.Logger
	pendingQueue chan domain.JobID
	semaphore    *semaphore.Weighted
	inflight     sync.WaitGroup
	stopped      chan struct{}

	// closed is set before the queue is drained; SubmitJob holds mu.RLock
	// across its send so no id lands in the queue after the drain.
	mu     sync.RWMutex
	closed bool
}

func NewJobScheduler(logger *slog.Logger, cfg SchedulerConfig) *JobScheduler {
	// Default to 10 concurrent jobs if not set
	limit := cfg.MaxConcurrentJobs
	if limit <= 0 {
		limit = 10
	}
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = 100
	}

	return &JobScheduler{
		logger:       logger,
		pendingQueue: make(chan domain.JobID, depth),
		semaphore:    semaphore.NewWeighted(limit),
		stopped:      make(chan struct{}),
	}
}

// SubmitJob adds a job to the scheduling queue without blocking. Once the
// scheduler is stopping every submission is rejected.
func (s *JobScheduler) SubmitJob(id domain.JobID) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("%w: scheduler stopped", domain.ErrQueueFull)
	}
	select {
	case s.pendingQueue <- id:
		s.logger.Debug("job scheduled", "job_id", id, "queued", len(s.pendingQueue))
		return nil
	default:
		return domain.ErrQueueFull
	}
}

// Pending reports how many jobs are waiting for a slot.
func (s *JobScheduler) Pending() int {
	return len(s.pendingQueue)
}

// Start consumes the queue in the background, running each job in its own
// goroutine once a slot is free.
func (s *JobScheduler) Start(ctx context.Context, handler JobHandler) {
	s.logger.Info("starting job scheduler")

	go func() {
		defer close(s.stopped)
		for {
			select {
			case <-ctx.Done():
				s.mu.Lock()
				s.closed = true
				s.mu.Unlock()
				s.drain(ctx, handler)
				s.logger.Info("stopping scheduler")
				return
			case id := <-s.pendingQueue:
				if err := s.semaphore.Acquire(ctx, 1); err != nil {
					// Stopping: the handler sees the cancelled ctx and settles the job.
					s.run(ctx, id, handler, false)
					continue
				}
				s.run(ctx, id, handler, true)
			}
		}
	}()
}

func (s *JobScheduler) run(ctx context.Context, id domain.JobID, handler JobHandler, holdsSlot bool) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		if holdsSlot {
			defer s.semaphore.Release(1)
		}
		handler(ctx, id)
	}()
}

func (s *JobScheduler) drain(ctx context.Context, handler JobHandler) {
	for {
		select {
		case id := <-s.pendingQueue:
			s.run(ctx, id, handler, false)
		default:
			return
		}
	}
}

// Wait blocks until the consumer loop has stopped and every handler it
// started has returned. Only call it after cancelling the ctx given to Start.
func (s *JobScheduler) Wait() {
	<-s.stopped
	s.inflight.Wait()
}
