package kernel

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/manthysbr/deep-research/internal/core/services"
)

// Options configures the HTTP surface.
type Options struct {
	// SyncWait is the default deadline of the synchronous endpoints when the
	// request has no wait parameter.
	SyncWait time.Duration
	// AllowedOrigins restricts cross-origin WebSocket upgrades.
	AllowedOrigins []string
	// Validate turns on request validation against the embedded API document.
	Validate bool
}

type Server struct {
	logger   *slog.Logger
	executor *services.Executor
	sessions *services.SessionManager
	opts     Options
}

func NewServer(logger *slog.Logger, executor *services.Executor, sessions *services.SessionManager, opts Options) *Server {
	if opts.SyncWait <= 0 {
		opts.SyncWait = 5 * time.Minute
	}
	return &Server{
		logger:   logger,
		executor: executor,
		sessions: sessions,
		opts:     opts,
	}
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler(ctx context.Context) (http.Handler, error) {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	// Jobs
	mux.HandleFunc("POST /v1/jobs", s.handleCreateJob)
	mux.HandleFunc("GET /v1/jobs", s.handleListJobs)
	mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("GET /v1/jobs/{id}/events", s.handleJobEvents)
	mux.HandleFunc("POST /v1/research/sync", s.handleResearchSync)
	mux.HandleFunc("POST /deep-research", s.handleDeepResearch)

	// Sessions
	mux.HandleFunc("GET /v1/sessions/sse", s.handleSessionSSE)
	mux.HandleFunc("GET /v1/sessions/ws", s.handleSessionWS)
	mux.HandleFunc("POST /v1/sessions/{id}/messages", s.handleSessionMessage)

	if !s.opts.Validate {
		return mux, nil
	}
	doc, err := LoadSpec(ctx)
	if err != nil {
		return nil, err
	}
	validator, err := newRequestValidator(s.logger, doc)
	if err != nil {
		return nil, err
	}
	return validator.Middleware(mux), nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.executor.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"jobs":           stats.Jobs,
		"pending":        stats.Pending,
		"dropped_events": stats.DroppedEvents,
		"sessions":       s.sessions.Count(),
	})
}
