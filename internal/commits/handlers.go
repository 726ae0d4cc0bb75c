package commits

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fleethub/fleethub/internal/api/respond"
	"github.com/fleethub/fleethub/internal/loader"
)

// Bundle wraps the commit ledger as a loadable feature.
func Bundle(store *Store) loader.Bundle {
	h := &handlers{store: store}
	return loader.Bundle{
		Name:        "commits",
		Description: "VM snapshot commit ledger",
		UI: map[string]any{
			"icon":  "camera",
			"panel": "commits",
			"order": 7,
		},
		Routes: func() []loader.Mount {
			return []loader.Mount{{Path: "/commits", Router: h.router()}}
		},
	}
}

type handlers struct {
	store *Store
}

func (h *handlers) router() http.Handler {
	r := chi.NewRouter()
	r.Get("/", h.list)
	r.Post("/", h.record)
	r.Get("/{commitID}", h.get)
	r.Delete("/{commitID}", h.delete)
	return r
}

func (h *handlers) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := Filter{VMID: q.Get("vmId"), Agent: q.Get("agent")}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 {
		f.Limit = limit
	}
	respond.JSON(w, http.StatusOK, h.store.List(f))
}

func (h *handlers) record(w http.ResponseWriter, r *http.Request) {
	var in RecordInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.Fail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	e, err := h.store.Record(in)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, e)
}

func (h *handlers) get(w http.ResponseWriter, r *http.Request) {
	e, err := h.store.Get(chi.URLParam(r, "commitID"))
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, e)
}

func (h *handlers) delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "commitID")
	if err := h.store.Delete(id); err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"deleted": id})
}
