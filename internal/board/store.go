// Package board is the task board: CRUD, notes, artifacts, scoring, and
// the review workflow. All state lives in one durable map store; workflow
// transitions (submit/approve/reject) mutate status, notes and artifacts
// in a single store mutation so concurrent readers never observe a partial
// transition.
package board

import (
	"sort"
	"strings"

	"github.com/fleethub/fleethub/internal/apperr"
	"github.com/fleethub/fleethub/internal/dstore"
	"github.com/fleethub/fleethub/internal/ids"
	"github.com/fleethub/fleethub/pkg/models"
)

// Store wraps the durable task index.
type Store struct {
	m *dstore.Map[models.Task]
}

// Open loads the board document at path.
func Open(path string) (*Store, error) {
	m, err := dstore.OpenMap(path, normalizeTask)
	if err != nil {
		return nil, err
	}
	return &Store{m: m}, nil
}

// normalizeTask fills schema defaults so documents written before a field
// existed still load.
func normalizeTask(t *models.Task) {
	if t.Status == "" {
		t.Status = models.TaskOpen
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	if t.Dependencies == nil {
		t.Dependencies = []string{}
	}
	if t.Notes == nil {
		t.Notes = []models.Note{}
	}
	if t.Artifacts == nil {
		t.Artifacts = []models.Artifact{}
	}
	if t.Score < 0 {
		t.Score = 0
	}
}

// Flush writes the board to disk immediately.
func (s *Store) Flush() error { return s.m.Flush() }

// CreateInput is the accepted shape for new tasks.
type CreateInput struct {
	Title        string            `json:"title"`
	Description  string            `json:"description"`
	Status       models.TaskStatus `json:"status"`
	Assignee     string            `json:"assignee"`
	Tags         []string          `json:"tags"`
	Dependencies []string          `json:"dependencies"`
	CreatedBy    string            `json:"createdBy"`
}

// Create validates and stores a new task.
func (s *Store) Create(in CreateInput) (models.Task, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return models.Task{}, apperr.Validation("title is required")
	}
	if strings.TrimSpace(in.CreatedBy) == "" {
		return models.Task{}, apperr.Validation("createdBy is required")
	}
	status := in.Status
	if status == "" {
		status = models.TaskOpen
	}
	if !models.ValidTaskStatus(status) {
		return models.Task{}, apperr.Validation("unknown status: %s", status)
	}

	now := ids.Now()
	task := models.Task{
		ID:           ids.New(),
		Title:        title,
		Description:  in.Description,
		Status:       status,
		Assignee:     in.Assignee,
		Tags:         in.Tags,
		Dependencies: in.Dependencies,
		CreatedBy:    in.CreatedBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	normalizeTask(&task)

	err := s.m.Mutate(func(items map[string]models.Task) error {
		items[task.ID] = task
		return nil
	})
	return task, err
}

// Get returns one task.
func (s *Store) Get(id string) (models.Task, error) {
	task, ok := s.m.Get(id)
	if !ok {
		return models.Task{}, apperr.NotFound("task", id)
	}
	return task, nil
}

// ListFilter selects tasks for listing.
type ListFilter struct {
	Status   models.TaskStatus
	Assignee string
	Tag      string
	Limit    int
}

// List returns matching tasks, newest first by createdAt.
func (s *Store) List(f ListFilter) []models.Task {
	var out []models.Task
	s.m.View(func(items map[string]models.Task) {
		for _, t := range items {
			if f.Status != "" && t.Status != f.Status {
				continue
			}
			if f.Assignee != "" && t.Assignee != f.Assignee {
				continue
			}
			if f.Tag != "" && !contains(t.Tags, f.Tag) {
				continue
			}
			out = append(out, t)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	if out == nil {
		out = []models.Task{}
	}
	return out
}

// UpdateInput is the accepted patch shape. Nil pointers mean "unchanged".
type UpdateInput struct {
	Title        *string            `json:"title"`
	Description  *string            `json:"description"`
	Status       *models.TaskStatus `json:"status"`
	Assignee     *string            `json:"assignee"`
	Tags         []string           `json:"tags"`
	Dependencies []string           `json:"dependencies"`
}

// Update applies a patch to one task.
func (s *Store) Update(id string, in UpdateInput) (models.Task, error) {
	if in.Title != nil && strings.TrimSpace(*in.Title) == "" {
		return models.Task{}, apperr.Validation("title cannot be empty")
	}
	if in.Status != nil && !models.ValidTaskStatus(*in.Status) {
		return models.Task{}, apperr.Validation("unknown status: %s", *in.Status)
	}
	return s.mutateTask(id, func(t *models.Task) error {
		if in.Title != nil {
			t.Title = strings.TrimSpace(*in.Title)
		}
		if in.Description != nil {
			t.Description = *in.Description
		}
		if in.Status != nil {
			t.Status = *in.Status
		}
		if in.Assignee != nil {
			t.Assignee = *in.Assignee
		}
		if in.Tags != nil {
			t.Tags = in.Tags
		}
		if in.Dependencies != nil {
			t.Dependencies = in.Dependencies
		}
		return nil
	})
}

// Delete removes one task.
func (s *Store) Delete(id string) error {
	return s.m.Mutate(func(items map[string]models.Task) error {
		if _, ok := items[id]; !ok {
			return apperr.NotFound("task", id)
		}
		delete(items, id)
		return nil
	})
}

// AddNote appends a note to a task.
func (s *Store) AddNote(id, author, content string, noteType models.NoteType) (models.Task, error) {
	if strings.TrimSpace(content) == "" {
		return models.Task{}, apperr.Validation("note content is required")
	}
	if noteType == "" {
		noteType = models.NoteUpdate
	}
	if !models.ValidNoteType(noteType) {
		return models.Task{}, apperr.Validation("unknown note type: %s", noteType)
	}
	return s.mutateTask(id, func(t *models.Task) error {
		t.Notes = append(t.Notes, models.Note{
			ID:        ids.New(),
			Author:    author,
			Content:   content,
			Type:      noteType,
			CreatedAt: ids.Now(),
		})
		return nil
	})
}

// AddArtifact appends an artifact link to a task.
func (s *Store) AddArtifact(id string, art models.Artifact) (models.Task, error) {
	if err := validateArtifact(art); err != nil {
		return models.Task{}, err
	}
	return s.mutateTask(id, func(t *models.Task) error {
		if art.AddedAt == "" {
			art.AddedAt = ids.Now()
		}
		t.Artifacts = append(t.Artifacts, art)
		return nil
	})
}

// Bump increments the task score. Score is monotonic non-decreasing.
func (s *Store) Bump(id string) (models.Task, error) {
	return s.mutateTask(id, func(t *models.Task) error {
		t.Score++
		return nil
	})
}

// SubmitForReview moves a task to in_review, appending the review summary
// as a note and any supplied artifacts in the same mutation.
func (s *Store) SubmitForReview(id, summary, reviewedBy string, artifacts []models.Artifact) (models.Task, error) {
	if strings.TrimSpace(summary) == "" {
		return models.Task{}, apperr.Validation("summary is required")
	}
	for _, art := range artifacts {
		if err := validateArtifact(art); err != nil {
			return models.Task{}, err
		}
	}
	return s.mutateTask(id, func(t *models.Task) error {
		t.Status = models.TaskInReview
		t.Notes = append(t.Notes, models.Note{
			ID:        ids.New(),
			Author:    reviewedBy,
			Content:   summary,
			Type:      models.NoteUpdate,
			CreatedAt: ids.Now(),
		})
		for _, art := range artifacts {
			if art.AddedAt == "" {
				art.AddedAt = ids.Now()
			}
			if art.AddedBy == "" {
				art.AddedBy = reviewedBy
			}
			t.Artifacts = append(t.Artifacts, art)
		}
		return nil
	})
}

// Approve moves an in_review task to done with an approval note.
func (s *Store) Approve(id, approvedBy string) (models.Task, error) {
	if strings.TrimSpace(approvedBy) == "" {
		return models.Task{}, apperr.Validation("approvedBy is required")
	}
	return s.mutateTask(id, func(t *models.Task) error {
		if t.Status != models.TaskInReview {
			return apperr.Validation("task is not in review: %s", t.Status)
		}
		t.Status = models.TaskDone
		t.Notes = append(t.Notes, models.Note{
			ID:        ids.New(),
			Author:    approvedBy,
			Content:   "Approved by " + approvedBy,
			Type:      models.NoteUpdate,
			CreatedAt: ids.Now(),
		})
		return nil
	})
}

// Reject sends an in_review task back to in_progress with a rejection note.
func (s *Store) Reject(id, rejectedBy, reason string) (models.Task, error) {
	if strings.TrimSpace(rejectedBy) == "" {
		return models.Task{}, apperr.Validation("rejectedBy is required")
	}
	return s.mutateTask(id, func(t *models.Task) error {
		if t.Status != models.TaskInReview {
			return apperr.Validation("task is not in review: %s", t.Status)
		}
		t.Status = models.TaskInProgress
		content := "Rejected by " + rejectedBy
		if reason != "" {
			content += ": " + reason
		}
		t.Notes = append(t.Notes, models.Note{
			ID:        ids.New(),
			Author:    rejectedBy,
			Content:   content,
			Type:      models.NoteBlocker,
			CreatedAt: ids.Now(),
		})
		return nil
	})
}

// ReviewQueue lists in_review tasks, oldest submission first.
func (s *Store) ReviewQueue() []models.Task {
	out := s.List(ListFilter{Status: models.TaskInReview})
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt < out[j].UpdatedAt })
	return out
}

// mutateTask applies f to one task under the store lock and touches
// updatedAt.
func (s *Store) mutateTask(id string, f func(*models.Task) error) (models.Task, error) {
	var updated models.Task
	err := s.m.Mutate(func(items map[string]models.Task) error {
		t, ok := items[id]
		if !ok {
			return apperr.NotFound("task", id)
		}
		if err := f(&t); err != nil {
			return err
		}
		t.UpdatedAt = ids.Now()
		items[id] = t
		updated = t
		return nil
	})
	if err != nil {
		return models.Task{}, err
	}
	return updated, nil
}

func validateArtifact(art models.Artifact) error {
	if !models.ValidArtifactType(art.Type) {
		return apperr.Validation("unknown artifact type: %s", art.Type)
	}
	if strings.TrimSpace(art.URL) == "" {
		return apperr.Validation("artifact url is required")
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
