package configstore

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fleethub/fleethub/internal/api/respond"
	"github.com/fleethub/fleethub/internal/loader"
)

// Bundle wraps the config KV as a loadable feature.
func Bundle(store *Store) loader.Bundle {
	h := &handlers{store: store}
	return loader.Bundle{
		Name:        "config",
		Description: "Fleet configuration and secrets",
		UI: map[string]any{
			"icon":  "settings",
			"panel": "config",
			"order": 8,
		},
		Routes: func() []loader.Mount {
			return []loader.Mount{{Path: "/config", Router: h.router()}}
		},
	}
}

type handlers struct {
	store *Store
}

func (h *handlers) router() http.Handler {
	r := chi.NewRouter()
	r.Get("/", h.list)
	r.Post("/", h.set)
	r.Get("/env", h.env)
	r.Route("/{key}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Put("/", h.setByKey)
		r.Delete("/", h.delete)
	})
	return r
}

func reveal(r *http.Request) bool {
	return r.URL.Query().Get("reveal") == "true"
}

func (h *handlers) list(w http.ResponseWriter, r *http.Request) {
	entries, err := h.store.List(r.Context(), reveal(r))
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, entries)
}

type setInput struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Type  string `json:"type"`
}

func (h *handlers) set(w http.ResponseWriter, r *http.Request) {
	var in setInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.Fail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	e, err := h.store.Set(r.Context(), in.Key, in.Value, in.Type)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, e)
}

func (h *handlers) setByKey(w http.ResponseWriter, r *http.Request) {
	var in setInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.Fail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	e, err := h.store.Set(r.Context(), chi.URLParam(r, "key"), in.Value, in.Type)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, e)
}

func (h *handlers) get(w http.ResponseWriter, r *http.Request) {
	e, err := h.store.Get(r.Context(), chi.URLParam(r, "key"), reveal(r))
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, e)
}

func (h *handlers) delete(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := h.store.Delete(r.Context(), key); err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"deleted": key})
}

// env is text/plain so agents can source it directly.
func (h *handlers) env(w http.ResponseWriter, r *http.Request) {
	out, err := h.store.Env(r.Context())
	if err != nil {
		respond.Error(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(out))
}
