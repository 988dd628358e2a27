package services

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/manthysbr/deep-research/internal/core/domain"
	"github.com/manthysbr/deep-research/internal/core/ports"
	"golang.org/x/sync/semaphore"
)

// SessionConfig sizes the mailboxes of every session
type SessionConfig struct {
	InboundCapacity  int
	OutboundCapacity int
	ShutdownGrace    time.Duration
	MaxSessions      int
	// MaxInflight caps concurrently handled messages per session. While the
	// cap is reached the driver stops reading and the inbound mailbox fills.
	MaxInflight int
}

type endReason int32

const (
	endCancelled endReason = iota // connection gone or server stopping
	endNormal                     // client sent "close" or inbound was closed
	endFailed                     // handler panicked
)

// Session is the server side of one duplex connection. Inbound messages are
// rejected when the mailbox is full; outbound events block the producing
// handler until the transport reads them.
type Session struct {
	ID        domain.SessionID
	CreatedAt time.Time

	inbound  *Mailbox[domain.SessionMessage]
	outbound *Mailbox[domain.SessionEvent]

	ctx        context.Context
	cancel     context.CancelFunc
	driverDone chan struct{}
	handlers   sync.WaitGroup
	closing    atomic.Bool
	reason     atomic.Int32
	lost       atomic.Int32 // read by the driver but never handled
	fatal      atomic.Pointer[domain.SessionEvent]
	closeOnce  sync.Once
}

// Events is the outbound stream. It is closed when the session ends and
// cannot be restarted.
func (s *Session) Events() <-chan domain.SessionEvent {
	return s.outbound.C()
}

// SessionManager is the registry of open sessions. The registry lock guards
// the map only; each session is driven by its own goroutine.
type SessionManager struct {
	logger  *slog.Logger
	handler ports.MessageHandler
	cfg     SessionConfig

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu       sync.RWMutex
	sessions map[domain.SessionID]*Session
}

func NewSessionManager(logger *slog.Logger, handler ports.MessageHandler, cfg SessionConfig) *SessionManager {
	if cfg.InboundCapacity <= 0 {
		cfg.InboundCapacity = 32
	}
	if cfg.OutboundCapacity <= 0 {
		cfg.OutboundCapacity = 64
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 5 * time.Second
	}
	if cfg.MaxInflight <= 0 {
		cfg.MaxInflight = 8
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SessionManager{
		logger:     logger,
		handler:    handler,
		cfg:        cfg,
		baseCtx:    ctx,
		baseCancel: cancel,
		sessions:   make(map[domain.SessionID]*Session),
	}
}

// Open registers a session and starts its driver.
func (m *SessionManager) Open() (*Session, error) {
	ctx, cancel := context.WithCancel(m.baseCtx)
	s := &Session{
		CreatedAt:  time.Now(),
		inbound:    NewMailbox[domain.SessionMessage](m.cfg.InboundCapacity),
		outbound:   NewMailbox[domain.SessionEvent](m.cfg.OutboundCapacity),
		ctx:        ctx,
		cancel:     cancel,
		driverDone: make(chan struct{}),
	}

	m.mu.Lock()
	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		cancel()
		return nil, domain.ErrTooManySessions
	}
	s.ID = domain.SessionID(uuid.New().String())
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.logger.Info("session opened", "session_id", s.ID)

	go func() {
		reason := m.drive(s)
		s.reason.Store(int32(reason))
		s.cancel()
		go m.teardown(s)
		s.handlers.Wait()
		close(s.driverDone)
	}()
	return s, nil
}

// Get returns an open session.
func (m *SessionManager) Get(id domain.SessionID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok || s.closing.Load() {
		return nil, false
	}
	return s, true
}

// Count reports how many sessions are registered.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Send enqueues one client message without blocking.
func (m *SessionManager) Send(id domain.SessionID, msg domain.SessionMessage) error {
	s, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	switch err := s.inbound.TrySend(msg); err {
	case nil:
		return nil
	case domain.ErrMailboxClosed:
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	default:
		m.logger.Warn("session inbound mailbox full", "session_id", id, "capacity", s.inbound.Cap())
		return err
	}
}

// Close tears a session down and waits for it. Concurrent calls are safe;
// only the first does the work.
func (m *SessionManager) Close(id domain.SessionID) error {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	m.teardown(s)
	return nil
}

// CloseAll closes every session, e.g. on server shutdown.
func (m *SessionManager) CloseAll() {
	m.mu.RLock()
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, s := range open {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			m.teardown(s)
		}(s)
	}
	wg.Wait()
	m.baseCancel()
}

// teardown cancels and awaits the driver (bounded by ShutdownGrace), closes
// inbound and reports what was never processed, closes outbound with the
// terminal event, and only then forgets the session id.
func (m *SessionManager) teardown(s *Session) {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		s.cancel()

		timer := time.NewTimer(m.cfg.ShutdownGrace)
		select {
		case <-s.driverDone:
		case <-timer.C:
			m.logger.Warn("session driver did not stop within grace period", "session_id", s.ID, "grace", m.cfg.ShutdownGrace)
		}
		timer.Stop()

		s.inbound.Close()
		dropped := len(s.inbound.Drain()) + int(s.lost.Load())
		if dropped > 0 {
			m.logger.Warn("session closed with unprocessed messages", "session_id", s.ID, "dropped", dropped)
		}

		fatal := s.fatal.Load()
		if fatal == nil && dropped == 0 && endReason(s.reason.Load()) != endNormal {
			// Connection gone or server stopping: nobody is waiting for a reason.
			s.outbound.Close()
		} else {
			s.outbound.CloseWith(func(evicted int) domain.SessionEvent {
				if evicted > 0 {
					m.logger.Warn("discarded undelivered session events", "session_id", s.ID, "evicted", evicted)
				}
				return finalEvent(fatal, dropped, evicted)
			})
		}

		m.mu.Lock()
		delete(m.sessions, s.ID)
		m.mu.Unlock()

		m.logger.Info("session closed", "session_id", s.ID, "lifetime", time.Since(s.CreatedAt).String())
	})
}

// drive reads inbound messages until the session is cancelled, the client
// asks to close, or the inbound mailbox is closed. Every message is handled
// in its own goroutine tracked by s.handlers.
func (m *SessionManager) drive(s *Session) endReason {
	var failed atomic.Bool
	slots := semaphore.NewWeighted(int64(m.cfg.MaxInflight))

	ended := func() endReason {
		if failed.Load() {
			return endFailed
		}
		return endCancelled
	}

	for {
		select {
		case <-s.ctx.Done():
			return ended()
		case msg, ok := <-s.inbound.C():
			if !ok || msg.Method == domain.MethodClose {
				return endNormal
			}
			if err := slots.Acquire(s.ctx, 1); err != nil {
				s.lost.Add(1)
				return ended()
			}
			s.handlers.Add(1)
			go func() {
				defer s.handlers.Done()
				defer slots.Release(1)
				if !m.handle(s, msg) {
					failed.Store(true)
					s.cancel()
				}
			}()
		}
	}
}

// handle runs one message through the handler. It reports false when the
// handler panicked, after emitting a terminal error event.
func (m *SessionManager) handle(s *Session, msg domain.SessionMessage) (ok bool) {
	emit := func(ev domain.SessionEvent) error {
		if ev.Timestamp == 0 {
			ev.Timestamp = time.Now().UnixMilli()
		}
		err := s.outbound.Send(s.ctx, ev)
		if err != nil {
			m.logger.Warn("dropping late session event", "session_id", s.ID, "type", ev.Type, "reply_to", ev.ReplyTo, "error", err)
		}
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			m.logger.Error("session handler panicked", "session_id", s.ID, "method", msg.Method, "panic", p, "stack", string(debug.Stack()))
			ev := domain.NewSessionEvent(domain.SessionEventError, msg.ID, fmt.Sprintf("internal error: %v", p))
			// Teardown delivers it as the terminal event; the first panic wins.
			s.fatal.CompareAndSwap(nil, &ev)
			ok = false
		}
	}()

	if err := m.handler.Handle(s.ctx, s.ID, msg, emit); err != nil {
		if s.ctx.Err() != nil {
			m.logger.Warn("session handler finished after cancellation", "session_id", s.ID, "method", msg.Method, "error", err)
			return true
		}
		_ = emit(domain.NewSessionEvent(domain.SessionEventError, msg.ID, err.Error()))
	}
	return true
}

// finalEvent is the terminal event of a session that ended for a reason the
// client must see.
func finalEvent(fatal *domain.SessionEvent, dropped, evicted int) domain.SessionEvent {
	var ev domain.SessionEvent
	switch {
	case fatal != nil:
		ev = *fatal
	case dropped > 0 || evicted > 0:
		ev = domain.NewSessionEvent(domain.SessionEventError, "", "session closed")
	default:
		ev = domain.NewSessionEvent(domain.SessionEventClosed, "", "session closed")
	}

	var notes []string
	if dropped > 0 {
		notes = append(notes, fmt.Sprintf("%d unprocessed message(s)", dropped))
	}
	if evicted > 0 {
		ev.Type = domain.SessionEventError
		notes = append(notes, fmt.Sprintf("%d undelivered event(s) discarded", evicted))
	}
	if len(notes) > 0 {
		if fatal != nil {
			ev.Message += "; session closed"
		}
		ev.Message += " with " + strings.Join(notes, " and ")
	}
	ev.Terminal = true
	return ev
}
