package domain

import (
	"encoding/json"
	"errors"
	"time"
)

type SessionID string

// Methods a client may post to a session.
const (
	MethodResearch = "research"
	MethodPoll     = "poll"
	MethodPing     = "ping"
	MethodClose    = "close"
)

// SessionMessage is one client-originated message on the inbound mailbox.
type SessionMessage struct {
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// SessionEventType classifies server-originated events.
type SessionEventType string

const (
	SessionEventAccepted SessionEventType = "accepted"
	SessionEventStatus   SessionEventType = "status"
	SessionEventLog      SessionEventType = "log"
	SessionEventResult   SessionEventType = "result"
	SessionEventError    SessionEventType = "error"
	SessionEventPong     SessionEventType = "pong"
	SessionEventClosed   SessionEventType = "closed"
)

// SessionEvent is one server-originated event on the outbound mailbox.
// Terminal marks the last event a session will ever emit.
type SessionEvent struct {
	Type      SessionEventType `json:"type"`
	ReplyTo   string           `json:"reply_to,omitempty"`
	JobID     JobID            `json:"job_id,omitempty"`
	Status    JobStatus        `json:"status,omitempty"`
	Message   string           `json:"message,omitempty"`
	Terminal  bool             `json:"terminal,omitempty"`
	Timestamp int64            `json:"timestamp"`
}

// NewSessionEvent stamps an event with the current time.
func NewSessionEvent(t SessionEventType, replyTo string, msg string) SessionEvent {
	return SessionEvent{
		Type:      t,
		ReplyTo:   replyTo,
		Message:   msg,
		Timestamp: time.Now().UnixMilli(),
	}
}

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrMailboxFull     = errors.New("mailbox full")
	ErrMailboxClosed   = errors.New("mailbox closed")
	ErrTooManySessions = errors.New("too many open sessions")
	ErrUnknownMethod   = errors.New("unknown session method")
)
