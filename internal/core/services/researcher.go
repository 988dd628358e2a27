package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/manthysbr/deep-research/internal/core/domain"
	"github.com/manthysbr/deep-research/internal/core/ports"
)

// compressionFallback stands in for a summary the backend failed to produce.
const compressionFallback = "Error synthesizing research report"

// SubTaskRunner researches one topic.
type SubTaskRunner interface {
	Research(ctx context.Context, index int, topic string) (domain.SubTaskResult, error)
}

// Researcher is the worker behind one ConductResearch instruction: a research
// call produces raw notes, a compression call turns them into a summary.
// With a Searcher attached, web results for the topic are put in front of
// the research call.
type Researcher struct {
	logger   *slog.Logger
	backend  ports.TextGenerator
	searcher ports.Searcher
	now      func() time.Time
}

func NewResearcher(logger *slog.Logger, backend ports.TextGenerator) *Researcher {
	return &Researcher{logger: logger, backend: backend, now: time.Now}
}

// WithSearcher attaches a web searcher. A nil searcher disables search.
func (r *Researcher) WithSearcher(s ports.Searcher) *Researcher {
	r.searcher = s
	return r
}

// sources never fails the sub-task: research goes on without web results.
func (r *Researcher) sources(ctx context.Context, id domain.SubTaskID, topic string) []domain.SearchResult {
	if r.searcher == nil {
		return nil
	}
	results, err := r.searcher.Search(ctx, topic)
	if err != nil {
		r.logger.Warn("web search failed", "subtask_id", id, "error", err)
		return nil
	}
	return results
}

func (r *Researcher) Research(ctx context.Context, index int, topic string) (domain.SubTaskResult, error) {
	res := domain.SubTaskResult{
		ID:    domain.SubTaskID(uuid.New().String()),
		Index: index,
		Topic: topic,
	}

	sources := r.sources(ctx, res.ID, topic)
	raw, err := r.backend.GenerateText(ctx, researcherPrompt(topic, sources, r.now()))
	if err != nil {
		return res, fmt.Errorf("research %q: %w", topic, err)
	}
	res.RawNotes = strings.TrimSpace(raw)

	summary, err := r.backend.GenerateText(ctx, compressResearchPrompt(topic, res.RawNotes, r.now()))
	if err != nil {
		r.logger.Warn("compression failed", "subtask_id", res.ID, "error", err)
		summary = ""
	}
	res.Summary = strings.TrimSpace(summary)
	if res.Summary == "" {
		res.Summary = compressionFallback
	}
	return res, nil
}
