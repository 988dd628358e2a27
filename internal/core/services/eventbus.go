package services

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/manthysbr/deep-research/internal/core/domain"
)

type EventType string

const (
	EventTypeStatus EventType = "status"
	EventTypeLog    EventType = "log"
	EventTypeResult EventType = "result"
)

// Event is one job update fanned out to subscribers.
type Event struct {
	JobID     domain.JobID `json:"job_id"`
	Type      EventType    `json:"type"`
	Data      string       `json:"data"` // JSON payload or raw text
	Timestamp int64        `json:"timestamp"`
}

// StatusPayload is the JSON body of a status event.
type StatusPayload struct {
	Status domain.JobStatus `json:"status"`
	Error  string           `json:"error,omitempty"`
}

// EventBus is a per-job pub/sub. Publishing never blocks: a subscriber whose
// buffer is full misses the event.
type EventBus struct {
	logger  *slog.Logger
	buffer  int
	dropped atomic.Int64

	mu   sync.RWMutex
	subs map[domain.JobID][]chan Event
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		logger: logger,
		buffer: 100,
		subs:   make(map[domain.JobID][]chan Event),
	}
}

// Subscribe returns a channel that receives events for a specific job
func (b *EventBus) Subscribe(jobID domain.JobID) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.buffer)
	b.subs[jobID] = append(b.subs[jobID], ch)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			subscribers := b.subs[jobID]
			for i, sub := range subscribers {
				if sub == ch {
					close(ch)
					b.subs[jobID] = append(subscribers[:i:i], subscribers[i+1:]...)
					break
				}
			}
			if len(b.subs[jobID]) == 0 {
				delete(b.subs, jobID)
			}
		})
	}

	return ch, unsub
}

// Publish sends an event to all subscribers of the job
func (b *EventBus) Publish(e Event) {
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().Unix()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[e.JobID] {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
			b.logger.Warn("event bus channel full, dropping event", "job_id", e.JobID, "type", e.Type)
		}
	}
}

// PublishStatus publishes a status event with a JSON StatusPayload.
func (b *EventBus) PublishStatus(jobID domain.JobID, status domain.JobStatus, errMsg string) {
	payload, err := json.Marshal(StatusPayload{Status: status, Error: errMsg})
	if err != nil {
		payload = []byte(`{"status":"` + string(status) + `"}`)
	}
	b.Publish(Event{JobID: jobID, Type: EventTypeStatus, Data: string(payload)})
}

// PublishLog publishes one raw log line.
func (b *EventBus) PublishLog(jobID domain.JobID, line string) {
	b.Publish(Event{JobID: jobID, Type: EventTypeLog, Data: line})
}

// Dropped reports how many events were discarded because a subscriber lagged.
func (b *EventBus) Dropped() int64 {
	return b.dropped.Load()
}
