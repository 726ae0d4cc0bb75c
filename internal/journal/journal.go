// Package journal serves the two append-only text streams: the journal
// (narrative entries from agents and operators) and the worklog (terse
// activity lines). Both share one store type and differ only in path
// and route.
package journal

import (
	"strings"

	"github.com/fleethub/fleethub/internal/apperr"
	"github.com/fleethub/fleethub/internal/dstore"
	"github.com/fleethub/fleethub/internal/ids"
	"github.com/fleethub/fleethub/pkg/models"
)

// Store is an append-only journal stream.
type Store struct {
	log *dstore.Log[models.JournalEntry]
}

// Open loads the stream at path. All entries stay in memory; the streams
// are small relative to the feed.
func Open(path string) (*Store, error) {
	l, err := dstore.OpenLog[models.JournalEntry](path, 0)
	if err != nil {
		return nil, err
	}
	return &Store{log: l}, nil
}

// Close releases the underlying file handle.
func (s *Store) Close() error { return s.log.Close() }

// AppendInput is the accepted shape for new entries.
type AppendInput struct {
	Text   string   `json:"text"`
	Author string   `json:"author"`
	Agent  string   `json:"agent"`
	Mood   string   `json:"mood"`
	Tags   []string `json:"tags"`
}

// Append validates and persists one entry.
func (s *Store) Append(in AppendInput) (models.JournalEntry, error) {
	if strings.TrimSpace(in.Text) == "" {
		return models.JournalEntry{}, apperr.Validation("text is required")
	}
	e := models.JournalEntry{
		ID:        ids.New(),
		Timestamp: ids.Now(),
		Text:      in.Text,
		Author:    in.Author,
		Agent:     in.Agent,
		Mood:      in.Mood,
		Tags:      in.Tags,
	}
	if err := s.log.Append(e); err != nil {
		return models.JournalEntry{}, err
	}
	return e, nil
}

// Filter selects entries for listing.
type Filter struct {
	Author string
	Agent  string
	Tag    string
	Since  string
	Limit  int
}

// List returns matching entries, newest first.
func (s *Store) List(f Filter) []models.JournalEntry {
	out := s.log.Filter(func(e models.JournalEntry) bool {
		if f.Author != "" && e.Author != f.Author {
			return false
		}
		if f.Agent != "" && e.Agent != f.Agent {
			return false
		}
		if f.Since != "" && e.Timestamp <= f.Since {
			return false
		}
		if f.Tag != "" {
			for _, t := range e.Tags {
				if t == f.Tag {
					return true
				}
			}
			return false
		}
		return true
	})
	// Entries arrive in append order; reverse for newest first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	if out == nil {
		out = []models.JournalEntry{}
	}
	return out
}

// Raw renders entries oldest first as plain "[timestamp] author: text"
// lines for terminal consumption.
func (s *Store) Raw() string {
	var b strings.Builder
	for _, e := range s.log.Entries() {
		b.WriteString("[")
		b.WriteString(e.Timestamp)
		b.WriteString("] ")
		who := e.Author
		if who == "" {
			who = e.Agent
		}
		if who == "" {
			who = "unknown"
		}
		b.WriteString(who)
		b.WriteString(": ")
		b.WriteString(e.Text)
		b.WriteString("\n")
	}
	return b.String()
}

// Prune drops entries older than the before timestamp.
func (s *Store) Prune(before string) (int, error) {
	return s.log.Rewrite(func(e models.JournalEntry) bool { return e.Timestamp > before })
}

// Len reports how many entries the stream holds.
func (s *Store) Len() int { return s.log.Len() }
