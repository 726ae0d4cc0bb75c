package board

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/fleethub/fleethub/internal/api/respond"
	"github.com/fleethub/fleethub/internal/feed"
	"github.com/fleethub/fleethub/internal/loader"
	"github.com/fleethub/fleethub/pkg/models"
)

// Handlers serves the board routes. The feed is optional; when present,
// workflow transitions publish activity events.
type Handlers struct {
	store *Store
	feed  *feed.Service
}

// Bundle wraps the board as a loadable feature.
func Bundle(store *Store, feedSvc *feed.Service) loader.Bundle {
	h := &Handlers{store: store, feed: feedSvc}
	return loader.Bundle{
		Name:         "board",
		Description:  "Task board with review workflow",
		Dependencies: []string{"feed"},
		UI: map[string]any{
			"icon":  "kanban",
			"panel": "board",
			"order": 1,
		},
		Routes: func() []loader.Mount {
			return []loader.Mount{{Path: "/board", Router: h.router()}}
		},
	}
}

func (h *Handlers) router() http.Handler {
	r := chi.NewRouter()
	r.Get("/tasks", h.list)
	r.Post("/tasks", h.create)
	r.Get("/review", h.reviewQueue)
	r.Route("/tasks/{taskID}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Patch("/", h.update)
		r.Delete("/", h.delete)
		r.Post("/notes", h.addNote)
		r.Post("/artifacts", h.addArtifact)
		r.Post("/bump", h.bump)
		r.Post("/review", h.submitForReview)
		r.Post("/approve", h.approve)
		r.Post("/reject", h.reject)
	})
	return r
}

func (h *Handlers) publish(agent, eventType, summary string) {
	if h.feed == nil {
		return
	}
	if _, err := h.feed.Publish(models.FeedEvent{
		Agent:   agent,
		Type:    eventType,
		Summary: summary,
	}); err != nil {
		log.Debug().Err(err).Msg("board feed publish failed")
	}
}

func (h *Handlers) list(w http.ResponseWriter, r *http.Request) {
	f := ListFilter{
		Status:   models.TaskStatus(r.URL.Query().Get("status")),
		Assignee: r.URL.Query().Get("assignee"),
		Tag:      r.URL.Query().Get("tag"),
	}
	if f.Status != "" && !models.ValidTaskStatus(f.Status) {
		respond.Fail(w, http.StatusBadRequest, "unknown status: "+string(f.Status))
		return
	}
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && limit > 0 {
		f.Limit = limit
	}
	respond.JSON(w, http.StatusOK, h.store.List(f))
}

func (h *Handlers) create(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.Fail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	task, err := h.store.Create(in)
	if err != nil {
		respond.Error(w, err)
		return
	}
	h.publish(task.CreatedBy, "task_created", task.Title)
	respond.JSON(w, http.StatusCreated, task)
}

func (h *Handlers) get(w http.ResponseWriter, r *http.Request) {
	task, err := h.store.Get(chi.URLParam(r, "taskID"))
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, task)
}

func (h *Handlers) update(w http.ResponseWriter, r *http.Request) {
	var in UpdateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.Fail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	task, err := h.store.Update(chi.URLParam(r, "taskID"), in)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, task)
}

func (h *Handlers) delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "taskID")
	if err := h.store.Delete(id); err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"deleted": id})
}

func (h *Handlers) addNote(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Author  string          `json:"author"`
		Content string          `json:"content"`
		Type    models.NoteType `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.Fail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	task, err := h.store.AddNote(chi.URLParam(r, "taskID"), in.Author, in.Content, in.Type)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, task)
}

func (h *Handlers) addArtifact(w http.ResponseWriter, r *http.Request) {
	var art models.Artifact
	if err := json.NewDecoder(r.Body).Decode(&art); err != nil {
		respond.Fail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	task, err := h.store.AddArtifact(chi.URLParam(r, "taskID"), art)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, task)
}

func (h *Handlers) bump(w http.ResponseWriter, r *http.Request) {
	task, err := h.store.Bump(chi.URLParam(r, "taskID"))
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, task)
}

func (h *Handlers) submitForReview(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Summary    string            `json:"summary"`
		ReviewedBy string            `json:"reviewedBy"`
		Artifacts  []models.Artifact `json:"artifacts"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.Fail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	task, err := h.store.SubmitForReview(chi.URLParam(r, "taskID"), in.Summary, in.ReviewedBy, in.Artifacts)
	if err != nil {
		respond.Error(w, err)
		return
	}
	h.publish(in.ReviewedBy, "task_review", task.Title)
	respond.JSON(w, http.StatusOK, task)
}

func (h *Handlers) approve(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ApprovedBy string `json:"approvedBy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.Fail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	task, err := h.store.Approve(chi.URLParam(r, "taskID"), in.ApprovedBy)
	if err != nil {
		respond.Error(w, err)
		return
	}
	h.publish(in.ApprovedBy, "task_approved", task.Title)
	respond.JSON(w, http.StatusOK, task)
}

func (h *Handlers) reject(w http.ResponseWriter, r *http.Request) {
	var in struct {
		RejectedBy string `json:"rejectedBy"`
		Reason     string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.Fail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	task, err := h.store.Reject(chi.URLParam(r, "taskID"), in.RejectedBy, in.Reason)
	if err != nil {
		respond.Error(w, err)
		return
	}
	h.publish(in.RejectedBy, "task_rejected", task.Title)
	respond.JSON(w, http.StatusOK, task)
}

func (h *Handlers) reviewQueue(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, h.store.ReviewQueue())
}
