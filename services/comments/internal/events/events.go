// Package events resolves the events comments are posted on.
package events

import (
	"context"
	"sync"

	"github.com/example/event-engagement/services/comments/internal/domain"
)

// Lookup resolves an event by id. A missing event yields a domain not-found error.
type Lookup interface {
	GetEvent(ctx context.Context, eventID string) (domain.Event, error)
}

func errEventNotFound(eventID string) error {
	return domain.NotFoundf("EVENT_NOT_FOUND", "event %s not found", eventID)
}

// StaticLookup serves events from memory.
type StaticLookup struct {
	mu     sync.RWMutex
	events map[string]domain.Event
}

func NewStaticLookup(evs ...domain.Event) *StaticLookup {
	s := &StaticLookup{events: make(map[string]domain.Event, len(evs))}
	for _, ev := range evs {
		s.events[ev.ID] = ev
	}
	return s
}

// Put adds or replaces ev.
func (s *StaticLookup) Put(ev domain.Event) {
	s.mu.Lock()
	s.events[ev.ID] = ev
	s.mu.Unlock()
}

func (s *StaticLookup) GetEvent(_ context.Context, eventID string) (domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[eventID]
	if !ok {
		return domain.Event{}, errEventNotFound(eventID)
	}
	return ev, nil
}
