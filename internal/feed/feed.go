// Package feed is the fleet activity stream: an append-only JSONL store
// for history plus a ring-buffered bus for SSE fan-out with late-join
// replay.
package feed

import (
	"strings"

	"github.com/fleethub/fleethub/internal/apperr"
	"github.com/fleethub/fleethub/internal/bus"
	"github.com/fleethub/fleethub/internal/dstore"
	"github.com/fleethub/fleethub/internal/ids"
	"github.com/fleethub/fleethub/pkg/models"
)

// Service owns the feed log and bus.
type Service struct {
	log *dstore.Log[models.FeedEvent]
	bus *bus.Bus[models.FeedEvent]
}

// Open loads the feed log at path. ring bounds both the in-memory window
// and the replay ring.
func Open(path string, ring int) (*Service, error) {
	l, err := dstore.OpenLog[models.FeedEvent](path, ring)
	if err != nil {
		return nil, err
	}
	return &Service{
		log: l,
		bus: bus.New(ring, func(ev models.FeedEvent) string { return ev.ID }),
	}, nil
}

// Publish validates ev, assigns ID and timestamp when unset, appends it to
// the log, and fans it out to subscribers.
func (s *Service) Publish(ev models.FeedEvent) (models.FeedEvent, error) {
	if strings.TrimSpace(ev.Agent) == "" {
		return models.FeedEvent{}, apperr.Validation("agent is required")
	}
	if strings.TrimSpace(ev.Type) == "" {
		return models.FeedEvent{}, apperr.Validation("type is required")
	}
	if ev.ID == "" {
		ev.ID = ids.New()
	}
	if ev.Timestamp == "" {
		ev.Timestamp = ids.Now()
	}
	if err := s.log.Append(ev); err != nil {
		return models.FeedEvent{}, err
	}
	s.bus.Publish(ev)
	return ev, nil
}

// Filter selects feed events for listing and streaming.
type Filter struct {
	Agent string
	Type  string
	Since string // ISO timestamp, exclusive
	Limit int
}

func (f Filter) match(ev models.FeedEvent) bool {
	if f.Agent != "" && ev.Agent != f.Agent {
		return false
	}
	if f.Type != "" && ev.Type != f.Type {
		return false
	}
	if f.Since != "" && ev.Timestamp <= f.Since {
		return false
	}
	return true
}

// List returns matching events, newest first.
func (s *Service) List(f Filter) []models.FeedEvent {
	matched := s.log.Filter(f.match)
	// reverse to newest-first
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	if matched == nil {
		matched = []models.FeedEvent{}
	}
	return matched
}

// Clear removes all feed history.
func (s *Service) Clear() (int, error) {
	return s.log.Rewrite(func(models.FeedEvent) bool { return false })
}

// Prune drops events older than the before timestamp.
func (s *Service) Prune(before string) (int, error) {
	return s.log.Rewrite(func(ev models.FeedEvent) bool { return ev.Timestamp > before })
}

// Subscribe registers an SSE consumer; see bus.Bus.Subscribe.
func (s *Service) Subscribe(f Filter, sinceID string) ([]models.FeedEvent, *bus.Subscriber[models.FeedEvent]) {
	return s.bus.Subscribe(f.match, sinceID)
}

// Stats summarizes the in-memory window.
type Stats struct {
	Total       int            `json:"total"`
	ByAgent     map[string]int `json:"byAgent"`
	ByType      map[string]int `json:"byType"`
	Subscribers int            `json:"subscribers"`
}

// Stats computes feed totals over the retained window.
func (s *Service) Stats() Stats {
	st := Stats{
		ByAgent:     make(map[string]int),
		ByType:      make(map[string]int),
		Subscribers: s.bus.Subscribers(),
	}
	for _, ev := range s.log.Entries() {
		st.Total++
		st.ByAgent[ev.Agent]++
		st.ByType[ev.Type]++
	}
	return st
}

// Close releases the log file handle.
func (s *Service) Close() error { return s.log.Close() }
