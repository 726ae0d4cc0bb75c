// Package reports holds author-submitted Markdown reports plus the
// share-link layer that grants public read access to individual reports.
package reports

import (
	"sort"
	"strings"

	"github.com/fleethub/fleethub/internal/apperr"
	"github.com/fleethub/fleethub/internal/dstore"
	"github.com/fleethub/fleethub/internal/ids"
	"github.com/fleethub/fleethub/pkg/models"
)

// Store wraps the durable report index.
type Store struct {
	m *dstore.Map[models.Report]
}

// Open loads the reports document at path.
func Open(path string) (*Store, error) {
	m, err := dstore.OpenMap(path, func(rep *models.Report) {
		if rep.Tags == nil {
			rep.Tags = []string{}
		}
	})
	if err != nil {
		return nil, err
	}
	return &Store{m: m}, nil
}

// Flush writes the reports to disk immediately.
func (s *Store) Flush() error { return s.m.Flush() }

// CreateInput is the accepted shape for new reports.
type CreateInput struct {
	Title   string   `json:"title"`
	Author  string   `json:"author"`
	Content string   `json:"content"`
	Tags    []string `json:"tags"`
}

// Create validates and stores a new report.
func (s *Store) Create(in CreateInput) (models.Report, error) {
	if strings.TrimSpace(in.Title) == "" {
		return models.Report{}, apperr.Validation("title is required")
	}
	if strings.TrimSpace(in.Author) == "" {
		return models.Report{}, apperr.Validation("author is required")
	}
	if strings.TrimSpace(in.Content) == "" {
		return models.Report{}, apperr.Validation("content is required")
	}
	now := ids.Now()
	rep := models.Report{
		ID:        ids.New(),
		Title:     in.Title,
		Author:    in.Author,
		Content:   in.Content,
		Tags:      in.Tags,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if rep.Tags == nil {
		rep.Tags = []string{}
	}
	err := s.m.Mutate(func(items map[string]models.Report) error {
		items[rep.ID] = rep
		return nil
	})
	return rep, err
}

// Get returns one report.
func (s *Store) Get(id string) (models.Report, error) {
	rep, ok := s.m.Get(id)
	if !ok {
		return models.Report{}, apperr.NotFound("report", id)
	}
	return rep, nil
}

// List returns reports, newest first, optionally filtered by tag or author.
func (s *Store) List(tag, author string, limit int) []models.Report {
	var out []models.Report
	s.m.View(func(items map[string]models.Report) {
		for _, rep := range items {
			if author != "" && rep.Author != author {
				continue
			}
			if tag != "" {
				found := false
				for _, t := range rep.Tags {
					if t == tag {
						found = true
						break
					}
				}
				if !found {
					continue
				}
			}
			out = append(out, rep)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []models.Report{}
	}
	return out
}

// UpdateInput is the accepted patch shape for a report.
type UpdateInput struct {
	Title   *string  `json:"title"`
	Content *string  `json:"content"`
	Tags    []string `json:"tags"`
}

// Update applies a patch to one report.
func (s *Store) Update(id string, in UpdateInput) (models.Report, error) {
	if in.Title != nil && strings.TrimSpace(*in.Title) == "" {
		return models.Report{}, apperr.Validation("title cannot be empty")
	}
	if in.Content != nil && strings.TrimSpace(*in.Content) == "" {
		return models.Report{}, apperr.Validation("content cannot be empty")
	}
	var updated models.Report
	err := s.m.Mutate(func(items map[string]models.Report) error {
		rep, ok := items[id]
		if !ok {
			return apperr.NotFound("report", id)
		}
		if in.Title != nil {
			rep.Title = *in.Title
		}
		if in.Content != nil {
			rep.Content = *in.Content
		}
		if in.Tags != nil {
			rep.Tags = in.Tags
		}
		rep.UpdatedAt = ids.Now()
		items[id] = rep
		updated = rep
		return nil
	})
	if err != nil {
		return models.Report{}, err
	}
	return updated, nil
}

// Delete removes one report. Share links pointing at it surface NotFound
// at read time; they are not cascaded.
func (s *Store) Delete(id string) error {
	return s.m.Mutate(func(items map[string]models.Report) error {
		if _, ok := items[id]; !ok {
			return apperr.NotFound("report", id)
		}
		delete(items, id)
		return nil
	})
}
