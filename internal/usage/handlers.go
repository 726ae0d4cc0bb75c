package usage

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fleethub/fleethub/internal/api/respond"
	"github.com/fleethub/fleethub/internal/loader"
)

// Bundle wraps the usage store as a loadable feature.
func Bundle(store *Store) loader.Bundle {
	h := &handlers{store: store}
	return loader.Bundle{
		Name:        "usage",
		Description: "Session and VM accounting with rollups",
		UI: map[string]any{
			"icon":  "bar-chart",
			"panel": "usage",
			"order": 9,
		},
		Routes: func() []loader.Mount {
			return []loader.Mount{{Path: "/usage", Router: h.router()}}
		},
	}
}

type handlers struct {
	store *Store
}

func (h *handlers) router() http.Handler {
	r := chi.NewRouter()
	r.Get("/", h.summary)
	r.Get("/sessions", h.listSessions)
	r.Post("/sessions", h.recordSession)
	r.Patch("/sessions/{sessionID}", h.upsertSession)
	r.Get("/vms", h.listVMs)
	r.Post("/vms", h.recordVM)
	return r
}

func (h *handlers) summary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.store.Summary(r.Context(), r.URL.Query().Get("range"))
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, sum)
}

func (h *handlers) recordSession(w http.ResponseWriter, r *http.Request) {
	var in SessionInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.Fail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rec, err := h.store.RecordSession(r.Context(), in)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, rec)
}

func (h *handlers) upsertSession(w http.ResponseWriter, r *http.Request) {
	var in SessionInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.Fail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rec, err := h.store.UpsertSession(r.Context(), chi.URLParam(r, "sessionID"), in)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, rec)
}

func (h *handlers) recordVM(w http.ResponseWriter, r *http.Request) {
	var in VMInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.Fail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rec, err := h.store.RecordVM(r.Context(), in)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, rec)
}

func (h *handlers) filter(r *http.Request) ListFilter {
	q := r.URL.Query()
	return ListFilter{
		Agent: q.Get("agent"),
		Role:  q.Get("role"),
		Range: q.Get("range"),
	}
}

func (h *handlers) listSessions(w http.ResponseWriter, r *http.Request) {
	recs, err := h.store.ListSessions(r.Context(), h.filter(r))
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, recs)
}

func (h *handlers) listVMs(w http.ResponseWriter, r *http.Request) {
	recs, err := h.store.ListVMs(r.Context(), h.filter(r))
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, recs)
}
