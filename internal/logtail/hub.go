// Package logtail fans invocation logs out to live subscribers, one room
// per function. Slow subscribers lose entries instead of blocking the
// invocation path.
package logtail

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cryguy/nexo/internal/core"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 64

// Entry is one finished invocation as seen by a tail subscriber.
type Entry struct {
	FunctionID      string    `json:"function_id"`
	Time            time.Time `json:"time"`
	Success         bool      `json:"success"`
	Error           string    `json:"error,omitempty"`
	ExecutionTimeMs uint64    `json:"execution_time_ms"`
	Logs            []string  `json:"logs"`
}

// EntryFromResult builds the tail entry for a completed execution.
func EntryFromResult(functionID string, r *core.ExecutionResult) Entry {
	return Entry{
		FunctionID:      functionID,
		Time:            time.Now().UTC(),
		Success:         r.Success,
		Error:           r.Error,
		ExecutionTimeMs: r.ExecutionTimeMs,
		Logs:            append([]string(nil), r.Logs...),
	}
}

// Subscription receives the entries of one function until closed.
type Subscription struct {
	C <-chan Entry

	hub     *Hub
	room    string
	ch      chan Entry
	once    sync.Once
	dropped atomic.Uint64
}

// Dropped is the number of entries lost because C was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close unsubscribes and closes C. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.remove(s) })
}

// Hub keeps the rooms and their subscribers.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Subscription]struct{}
	buffer int
}

// NewHub creates a hub whose subscribers queue up to buffer entries.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{rooms: make(map[string]map[*Subscription]struct{}), buffer: buffer}
}

// Subscribe joins the room of functionID.
func (h *Hub) Subscribe(functionID string) *Subscription {
	ch := make(chan Entry, h.buffer)
	s := &Subscription{C: ch, hub: h, room: functionID, ch: ch}

	h.mu.Lock()
	room, ok := h.rooms[functionID]
	if !ok {
		room = make(map[*Subscription]struct{})
		h.rooms[functionID] = room
	}
	room[s] = struct{}{}
	h.mu.Unlock()
	return s
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok := h.rooms[s.room]; ok {
		delete(room, s)
		if len(room) == 0 {
			delete(h.rooms, s.room)
		}
	}
	close(s.ch)
}

// Publish delivers e to every subscriber of its function without blocking.
func (h *Hub) Publish(e Entry) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.rooms[e.FunctionID] {
		select {
		case s.ch <- e:
		default:
			s.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of subscribers of functionID.
func (h *Hub) Subscribers(functionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[functionID])
}
