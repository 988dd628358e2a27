package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/manthysbr/deep-research/internal/core/domain"
	"github.com/manthysbr/deep-research/internal/core/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type handlerFixture struct {
	handler  *ResearchSessionHandler
	executor *Executor
}

func newHandlerFixture(t *testing.T, runner ports.Runner) *handlerFixture {
	t.Helper()
	f := newExecutorFixture(t, runner, ExecutorConfig{}, SchedulerConfig{})
	return &handlerFixture{
		handler:  NewResearchSessionHandler(quietLogger(), f.executor),
		executor: f.executor,
	}
}

// sink collects emitted events.
type sink struct {
	events chan domain.SessionEvent
}

func newSink() *sink {
	return &sink{events: make(chan domain.SessionEvent, 64)}
}

func (s *sink) emit(ev domain.SessionEvent) error {
	s.events <- ev
	return nil
}

func (s *sink) next(t *testing.T) domain.SessionEvent {
	t.Helper()
	select {
	case ev := <-s.events:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("no event emitted")
		return domain.SessionEvent{}
	}
}

func params(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestResearchSessionHandler_Ping(t *testing.T) {
	f := newHandlerFixture(t, newGatedRunner("x"))
	out := newSink()

	err := f.handler.Handle(context.Background(), "s1", domain.SessionMessage{ID: "p1", Method: domain.MethodPing}, out.emit)
	require.NoError(t, err)

	ev := out.next(t)
	assert.Equal(t, domain.SessionEventPong, ev.Type)
	assert.Equal(t, "p1", ev.ReplyTo)
}

func TestResearchSessionHandler_ResearchStreamsToResult(t *testing.T) {
	gate := newGatedRunner("the report")
	f := newHandlerFixture(t, gate)
	out := newSink()

	done := make(chan error, 1)
	go func() {
		done <- f.handler.Handle(context.Background(), "s1", domain.SessionMessage{
			ID:     "r1",
			Method: domain.MethodResearch,
			Params: params(t, ResearchParams{Prompt: "explain X"}),
		}, out.emit)
	}()

	accepted := out.next(t)
	require.Equal(t, domain.SessionEventAccepted, accepted.Type)
	assert.Equal(t, "r1", accepted.ReplyTo)
	require.NotEmpty(t, accepted.JobID)

	<-gate.started
	close(gate.release)

	var final domain.SessionEvent
	for final.Type != domain.SessionEventResult {
		final = out.next(t)
		assert.Equal(t, "r1", final.ReplyTo)
	}
	assert.Equal(t, "the report", final.Message)
	assert.Equal(t, domain.JobStatusDone, final.Status)
	assert.Equal(t, accepted.JobID, final.JobID)
	require.NoError(t, <-done)
}

func TestResearchSessionHandler_FailedJobEmitsError(t *testing.T) {
	runner := runnerFunc(func(ctx context.Context, prompt string, emit ports.ProgressFunc) (string, error) {
		return "", errors.New("backend unavailable")
	})
	f := newHandlerFixture(t, runner)
	out := newSink()

	err := f.handler.Handle(context.Background(), "s1", domain.SessionMessage{
		ID:     "r1",
		Method: domain.MethodResearch,
		Params: params(t, ResearchParams{Prompt: "p"}),
	}, out.emit)
	require.NoError(t, err)

	var last domain.SessionEvent
	for len(out.events) > 0 {
		last = <-out.events
	}
	assert.Equal(t, domain.SessionEventError, last.Type)
	assert.Equal(t, domain.JobStatusFailed, last.Status)
	assert.Contains(t, last.Message, "Research failed: ")
}

func TestResearchSessionHandler_ResearchValidation(t *testing.T) {
	f := newHandlerFixture(t, newGatedRunner("x"))
	out := newSink()

	err := f.handler.Handle(context.Background(), "s1", domain.SessionMessage{
		Method: domain.MethodResearch,
		Params: params(t, ResearchParams{Prompt: ""}),
	}, out.emit)
	assert.ErrorIs(t, err, domain.ErrInputInvalid)

	err = f.handler.Handle(context.Background(), "s1", domain.SessionMessage{Method: domain.MethodResearch}, out.emit)
	assert.ErrorIs(t, err, domain.ErrInputInvalid)

	err = f.handler.Handle(context.Background(), "s1", domain.SessionMessage{
		Method: domain.MethodResearch,
		Params: params(t, ResearchParams{Prompt: "p", Mode: "exhaustive"}),
	}, out.emit)
	assert.ErrorIs(t, err, domain.ErrInputInvalid)
	assert.Empty(t, f.executor.Jobs())
}

func TestResearchSessionHandler_Poll(t *testing.T) {
	gate := newGatedRunner("x")
	f := newHandlerFixture(t, gate)
	defer close(gate.release)
	out := newSink()

	job, err := f.executor.Submit(domain.ResearchRequest{Prompt: "p"})
	require.NoError(t, err)

	err = f.handler.Handle(context.Background(), "s1", domain.SessionMessage{
		ID:     "q1",
		Method: domain.MethodPoll,
		Params: params(t, PollParams{JobID: job.ID}),
	}, out.emit)
	require.NoError(t, err)

	ev := out.next(t)
	assert.Equal(t, domain.SessionEventStatus, ev.Type)
	assert.Equal(t, job.ID, ev.JobID)
	assert.Contains(t, []domain.JobStatus{domain.JobStatusQueued, domain.JobStatusRunning}, ev.Status)

	err = f.handler.Handle(context.Background(), "s1", domain.SessionMessage{
		Method: domain.MethodPoll,
		Params: params(t, PollParams{JobID: "missing"}),
	}, out.emit)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestResearchSessionHandler_UnknownMethod(t *testing.T) {
	f := newHandlerFixture(t, newGatedRunner("x"))
	err := f.handler.Handle(context.Background(), "s1", domain.SessionMessage{Method: "dance"}, newSink().emit)
	assert.ErrorIs(t, err, domain.ErrUnknownMethod)
}

func TestResearchSessionHandler_CancelStopsForwardingNotJob(t *testing.T) {
	gate := newGatedRunner("finished anyway")
	f := newHandlerFixture(t, gate)
	out := newSink()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.handler.Handle(ctx, "s1", domain.SessionMessage{
			Method: domain.MethodResearch,
			Params: params(t, ResearchParams{Prompt: "p"}),
		}, out.emit)
	}()
	accepted := out.next(t)
	<-gate.started
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(gate.release)
	job := waitTerminal(t, f.executor, accepted.JobID)
	assert.Equal(t, domain.JobStatusDone, job.Status)
}
