package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/manthysbr/deep-research/internal/core/domain"
	"github.com/manthysbr/deep-research/internal/core/ports"
)

// ResearchParams are the params of a "research" session message.
type ResearchParams struct {
	Prompt string `json:"prompt"`
	Mode   string `json:"mode,omitempty"`
}

// PollParams are the params of a "poll" session message.
type PollParams struct {
	JobID domain.JobID `json:"job_id"`
}

// ResearchSessionHandler serves session messages on top of the Executor.
type ResearchSessionHandler struct {
	logger   *slog.Logger
	executor *Executor
}

var _ ports.MessageHandler = (*ResearchSessionHandler)(nil)

func NewResearchSessionHandler(logger *slog.Logger, executor *Executor) *ResearchSessionHandler {
	return &ResearchSessionHandler{logger: logger, executor: executor}
}

func (h *ResearchSessionHandler) Handle(ctx context.Context, sessionID domain.SessionID, msg domain.SessionMessage, emit ports.EmitFunc) error {
	switch msg.Method {
	case domain.MethodPing:
		return emit(domain.NewSessionEvent(domain.SessionEventPong, msg.ID, ""))
	case domain.MethodResearch:
		return h.research(ctx, sessionID, msg, emit)
	case domain.MethodPoll:
		return h.poll(msg, emit)
	default:
		return fmt.Errorf("%w: %q", domain.ErrUnknownMethod, msg.Method)
	}
}

func (h *ResearchSessionHandler) research(ctx context.Context, sessionID domain.SessionID, msg domain.SessionMessage, emit ports.EmitFunc) error {
	var params ResearchParams
	if err := decodeParams(msg.Params, &params); err != nil {
		return err
	}
	mode, err := domain.ParseResearchMode(params.Mode)
	if err != nil {
		return err
	}

	job, err := h.executor.Submit(domain.ResearchRequest{Prompt: params.Prompt, Mode: mode})
	if err != nil {
		return err
	}
	h.logger.Info("session started research", "session_id", sessionID, "job_id", job.ID)

	events, unsub := h.executor.Subscribe(job.ID)
	defer unsub()

	accepted := domain.NewSessionEvent(domain.SessionEventAccepted, msg.ID, "")
	accepted.JobID = job.ID
	accepted.Status = job.Status
	if err := emit(accepted); err != nil {
		return err
	}

	done, err := h.executor.Done(job.ID)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if err := h.forward(msg.ID, ev, emit); err != nil {
				return err
			}
		case <-done:
			return h.emitFinal(msg.ID, job.ID, emit)
		}
	}
}

// forward relays log and status bus events. Results are read from the store
// once the job is done, so a dropped bus event never loses them.
func (h *ResearchSessionHandler) forward(replyTo string, ev Event, emit ports.EmitFunc) error {
	switch ev.Type {
	case EventTypeLog:
		out := domain.NewSessionEvent(domain.SessionEventLog, replyTo, ev.Data)
		out.JobID = ev.JobID
		return emit(out)
	case EventTypeStatus:
		var payload StatusPayload
		if err := json.Unmarshal([]byte(ev.Data), &payload); err != nil {
			return nil
		}
		if payload.Status.IsTerminal() {
			return nil
		}
		out := domain.NewSessionEvent(domain.SessionEventStatus, replyTo, "")
		out.JobID = ev.JobID
		out.Status = payload.Status
		return emit(out)
	default:
		return nil
	}
}

func (h *ResearchSessionHandler) emitFinal(replyTo string, id domain.JobID, emit ports.EmitFunc) error {
	job, err := h.executor.Job(id)
	if err != nil {
		return err
	}
	typ := domain.SessionEventResult
	text := ""
	if job.Result != nil {
		text = *job.Result
	}
	if job.Status == domain.JobStatusFailed {
		typ = domain.SessionEventError
	}
	out := domain.NewSessionEvent(typ, replyTo, text)
	out.JobID = job.ID
	out.Status = job.Status
	return emit(out)
}

func (h *ResearchSessionHandler) poll(msg domain.SessionMessage, emit ports.EmitFunc) error {
	var params PollParams
	if err := decodeParams(msg.Params, &params); err != nil {
		return err
	}
	job, err := h.executor.Job(params.JobID)
	if err != nil {
		return err
	}
	out := domain.NewSessionEvent(domain.SessionEventStatus, msg.ID, "")
	out.JobID = job.ID
	out.Status = job.Status
	if job.Result != nil {
		out.Message = *job.Result
	}
	return emit(out)
}

func decodeParams(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: missing params", domain.ErrInputInvalid)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: bad params: %v", domain.ErrInputInvalid, err)
	}
	return nil
}
