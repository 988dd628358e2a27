package kernel

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/manthysbr/deep-research/internal/core/domain"
	"github.com/manthysbr/deep-research/internal/core/services"
)

func sseHeaders(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return flusher, true
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event string, data []byte) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}

// handleJobEvents streams status and log events of one job. The stream ends
// with a "result" event carrying the final job snapshot, read from the store
// so a dropped bus event cannot lose it.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	id := domain.JobID(r.PathValue("id"))

	// Subscribe before checking for completion so no event falls in between.
	ch, unsub := s.executor.Subscribe(id)
	defer unsub()

	done, err := s.executor.Done(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	flusher, ok := sseHeaders(w)
	if !ok {
		return
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				ch = nil
				continue
			}
			if evt.Type == services.EventTypeResult {
				continue
			}
			data, _ := json.Marshal(evt)
			writeSSE(w, flusher, string(evt.Type), data)
		case <-done:
			drainEvents(ch, func(evt services.Event) {
				data, _ := json.Marshal(evt)
				writeSSE(w, flusher, string(evt.Type), data)
			})
			job, err := s.executor.Job(id)
			if err != nil {
				s.logger.Warn("job vanished while streaming", "job_id", id, "error", err)
				return
			}
			data, _ := json.Marshal(job)
			writeSSE(w, flusher, string(services.EventTypeResult), data)
			return
		}
	}
}

// drainEvents hands over whatever is already buffered, skipping results.
func drainEvents(ch <-chan services.Event, fn func(services.Event)) {
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if evt.Type != services.EventTypeResult {
				fn(evt)
			}
		default:
			return
		}
	}
}
