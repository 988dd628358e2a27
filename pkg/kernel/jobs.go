package kernel

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/manthysbr/deep-research/internal/core/domain"
	"github.com/oapi-codegen/runtime"
)

type createJobRequest struct {
	Prompt string `json:"prompt"`
	Mode   string `json:"mode,omitempty"`
}

type jobAccepted struct {
	ID     domain.JobID     `json:"id"`
	Status domain.JobStatus `json:"status"`
}

func (s *Server) decodeResearchRequest(r *http.Request) (domain.ResearchRequest, error) {
	var body createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return domain.ResearchRequest{}, fmt.Errorf("%w: invalid JSON body: %v", domain.ErrInputInvalid, err)
	}
	mode, err := domain.ParseResearchMode(body.Mode)
	if err != nil {
		return domain.ResearchRequest{}, err
	}
	req := domain.ResearchRequest{Prompt: body.Prompt, Mode: mode}
	if err := req.Validate(); err != nil {
		return domain.ResearchRequest{}, err
	}
	return req, nil
}

// handleCreateJob starts a job and answers right away with its id.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeResearchRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	job, err := s.executor.Submit(req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/jobs/"+string(job.ID))
	writeJSON(w, http.StatusAccepted, jobAccepted{ID: job.ID, Status: job.Status})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.executor.Jobs()
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.executor.Job(domain.JobID(r.PathValue("id")))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// waitParam reads the optional wait query parameter (seconds).
func (s *Server) waitParam(r *http.Request) (time.Duration, error) {
	var wait *int
	if err := runtime.BindQueryParameter("form", true, false, "wait", r.URL.Query(), &wait); err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrInputInvalid, err)
	}
	if wait == nil {
		return s.opts.SyncWait, nil
	}
	if *wait < 0 {
		return 0, fmt.Errorf("%w: wait must not be negative", domain.ErrInputInvalid)
	}
	return time.Duration(*wait) * time.Second, nil
}

// handleResearchSync waits for the result up to the deadline. A job still
// running at the deadline is not cancelled; the 202 answer carries its id.
func (s *Server) handleResearchSync(w http.ResponseWriter, r *http.Request) {
	wait, err := s.waitParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	req, err := s.decodeResearchRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	outcome, err := s.executor.RunSync(r.Context(), req, wait)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !outcome.Completed {
		w.Header().Set("Location", "/v1/jobs/"+string(outcome.JobID))
		writeJSON(w, http.StatusAccepted, outcome)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

type deepResearchRequest struct {
	Prompt         string `json:"prompt"`
	Query          string `json:"query"`
	Context        string `json:"context"`
	UseContext     bool   `json:"use_context"`
	PromptTemplate string `json:"prompt_template"`
	Stream         bool   `json:"stream"`
}

type responseBlock struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type deepResearchResponse struct {
	Status       string          `json:"status"`
	InvocationID domain.JobID    `json:"invocationId"`
	Response     []responseBlock `json:"response"`
}

func (b deepResearchRequest) prompt() string {
	prompt := strings.TrimSpace(b.Prompt)
	if prompt == "" {
		prompt = strings.TrimSpace(b.Query)
	}
	if prompt == "" {
		return ""
	}
	if t := strings.TrimSpace(b.PromptTemplate); t != "" {
		prompt = t + "\n\n" + prompt
	}
	if b.UseContext && strings.TrimSpace(b.Context) != "" {
		prompt += "\n\nContext:\n" + strings.TrimSpace(b.Context)
	}
	return prompt
}

// handleDeepResearch serves the invocation-style endpoint: one request, one
// text block answer. The stream flag is accepted and ignored.
func (s *Server) handleDeepResearch(w http.ResponseWriter, r *http.Request) {
	wait, err := s.waitParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body deepResearchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.fail(w, r, fmt.Errorf("%w: invalid JSON body: %v", domain.ErrInputInvalid, err))
		return
	}

	outcome, err := s.executor.RunSync(r.Context(), domain.ResearchRequest{Prompt: body.prompt()}, wait)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	resp := deepResearchResponse{InvocationID: outcome.JobID}
	status := http.StatusOK
	switch {
	case !outcome.Completed:
		status = http.StatusAccepted
		resp.Status = "running"
		resp.Response = []responseBlock{{Type: "text", Message: fmt.Sprintf("Research is still running. Poll /v1/jobs/%s for the report.", outcome.JobID)}}
	case outcome.Status == domain.JobStatusFailed:
		resp.Status = "error"
		resp.Response = []responseBlock{{Type: "text", Message: outcome.Text}}
	default:
		resp.Status = "success"
		resp.Response = []responseBlock{{Type: "text", Message: outcome.Text}}
	}
	writeJSON(w, status, resp)
}
