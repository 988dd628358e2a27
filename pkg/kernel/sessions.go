package kernel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/manthysbr/deep-research/internal/core/domain"
	"github.com/manthysbr/deep-research/internal/core/services"
)

// handleSessionSSE opens a session over server-sent events. The first event,
// "endpoint", names the URL where the client posts its messages; every
// session event after that is sent as a "message" event. Dropping the
// connection closes the session.
func (s *Server) handleSessionSSE(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Open()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer s.closeSession(sess.ID)

	flusher, ok := sseHeaders(w)
	if !ok {
		return
	}
	writeSSE(w, flusher, "endpoint", []byte(fmt.Sprintf("/v1/sessions/%s/messages", sess.ID)))

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sess.Events():
			if !ok {
				return
			}
			data, _ := json.Marshal(ev)
			writeSSE(w, flusher, "message", data)
		}
	}
}

// handleSessionMessage posts one client message into a session's inbound
// mailbox. It never waits for processing: 202 means queued.
func (s *Server) handleSessionMessage(w http.ResponseWriter, r *http.Request) {
	id := domain.SessionID(r.PathValue("id"))

	var msg domain.SessionMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		s.fail(w, r, fmt.Errorf("%w: invalid JSON body: %v", domain.ErrInputInvalid, err))
		return
	}
	if msg.Method == "" {
		s.fail(w, r, fmt.Errorf("%w: method is required", domain.ErrInputInvalid))
		return
	}

	if err := s.sessions.Send(id, msg); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "id": msg.ID})
}

// handleSessionWS runs a session over one WebSocket: client frames go to the
// inbound mailbox, session events are written back as JSON frames.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(s.opts.AllowedOrigins),
	})
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.CloseNow()

	sess, err := s.sessions.Open()
	if err != nil {
		conn.Close(websocket.StatusTryAgainLater, err.Error())
		return
	}
	defer s.closeSession(sess.ID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go s.readSessionFrames(ctx, cancel, conn, sess)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sess.Events():
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "session closed")
				return
			}
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				s.logger.Warn("websocket write failed", "session_id", sess.ID, "error", err)
				return
			}
		}
	}
}

func (s *Server) readSessionFrames(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, sess *services.Session) {
	for {
		var msg domain.SessionMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				s.logger.Warn("websocket read failed", "session_id", sess.ID, "error", err)
			}
			cancel()
			return
		}

		err := s.sessions.Send(sess.ID, msg)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrSessionNotFound):
			// Session is tearing down; the writer will see the stream end.
			return
		default:
			ev := domain.NewSessionEvent(domain.SessionEventError, msg.ID, err.Error())
			if werr := wsjson.Write(ctx, conn, ev); werr != nil {
				cancel()
				return
			}
		}
	}
}

func (s *Server) closeSession(id domain.SessionID) {
	if err := s.sessions.Close(id); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
		s.logger.Warn("session close failed", "session_id", id, "error", err)
	}
}

// originPatterns turns configured origins into the host patterns the
// WebSocket library matches against.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
			continue
		}
		out = append(out, o)
	}
	return out
}
