package services

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/manthysbr/deep-research/internal/core/domain"
	"github.com/manthysbr/deep-research/internal/core/ports"
	"github.com/stretchr/testify/mock"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// MockBackend is a testify mock of ports.Backend.
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) GenerateText(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

func (m *MockBackend) PlanToolCalls(ctx context.Context, prompt string, tools []domain.ToolSpec) ([]domain.ToolCall, error) {
	args := m.Called(ctx, prompt, tools)
	calls, _ := args.Get(0).([]domain.ToolCall)
	return calls, args.Error(1)
}

var _ ports.Backend = (*MockBackend)(nil)

// promptContains matches a prompt argument by substring.
func promptContains(s string) interface{} {
	return mock.MatchedBy(func(p string) bool { return strings.Contains(p, s) })
}

// runnerFunc adapts a function to ports.Runner.
type runnerFunc func(ctx context.Context, prompt string, emit ports.ProgressFunc) (string, error)

func (f runnerFunc) Run(ctx context.Context, prompt string, emit ports.ProgressFunc) (string, error) {
	return f(ctx, prompt, emit)
}

// gatedRunner blocks every run until release is closed.
type gatedRunner struct {
	release chan struct{}
	started chan struct{}
	text    string
}

func newGatedRunner(text string) *gatedRunner {
	return &gatedRunner{release: make(chan struct{}), started: make(chan struct{}, 64), text: text}
}

func (g *gatedRunner) Run(ctx context.Context, prompt string, emit ports.ProgressFunc) (string, error) {
	emit(domain.ProgressEvent{Kind: domain.ProgressStepStart, Name: "gated"})
	g.started <- struct{}{}
	select {
	case <-g.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	emit(domain.ProgressEvent{Kind: domain.ProgressStepEnd, Name: "gated"})
	return g.text, nil
}

// fakeWorkers scripts research sub-tasks by topic and tracks concurrency.
type fakeWorkers struct {
	mu       sync.Mutex
	fail     map[string]error
	panics   map[string]bool
	delay    time.Duration
	running  int
	peak     int
	started  []string
	finished []string
}

func (f *fakeWorkers) Research(ctx context.Context, index int, topic string) (domain.SubTaskResult, error) {
	f.mu.Lock()
	f.running++
	if f.running > f.peak {
		f.peak = f.running
	}
	f.started = append(f.started, topic)
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.running--
		f.finished = append(f.finished, topic)
		f.mu.Unlock()
	}()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return domain.SubTaskResult{}, ctx.Err()
		}
	}
	if f.panics[topic] {
		panic("worker exploded")
	}
	if err := f.fail[topic]; err != nil {
		return domain.SubTaskResult{}, err
	}
	return domain.SubTaskResult{
		Index:    index,
		Topic:    topic,
		Summary:  "summary of " + topic,
		RawNotes: "raw notes on " + topic,
	}, nil
}

func researchCall(id, topic string) domain.ToolCall {
	return domain.ToolCall{ID: id, Name: domain.ToolConductResearch, Arguments: `{"research_topic":"` + topic + `"}`}
}

func thinkCall(id, reflection string) domain.ToolCall {
	return domain.ToolCall{ID: id, Name: domain.ToolThink, Arguments: `{"reflection":"` + reflection + `"}`}
}

func refineCall(id string) domain.ToolCall {
	return domain.ToolCall{ID: id, Name: domain.ToolRefineDraft, Arguments: `{}`}
}

// eventually polls cond until it holds or the timeout elapses.
func eventually(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
