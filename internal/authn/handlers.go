package authn

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fleethub/fleethub/internal/api/respond"
	"github.com/fleethub/fleethub/internal/loader"
)

// Bundle wraps API-key management as a loadable feature.
func Bundle(keys *KeyStore) loader.Bundle {
	h := &handlers{keys: keys}
	return loader.Bundle{
		Name:        "auth",
		Description: "API key lifecycle",
		UI: map[string]any{
			"icon":  "key",
			"panel": "auth",
			"order": 10,
		},
		Routes: func() []loader.Mount {
			return []loader.Mount{{Path: "/auth", Router: h.router()}}
		},
	}
}

type handlers struct {
	keys *KeyStore
}

func (h *handlers) router() http.Handler {
	r := chi.NewRouter()
	r.Get("/keys", h.list)
	r.Post("/keys", h.create)
	r.Get("/keys/{keyID}", h.get)
	r.Delete("/keys/{keyID}", h.revoke)
	return r
}

func (h *handlers) list(w http.ResponseWriter, r *http.Request) {
	keys, err := h.keys.List(r.Context())
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, keys)
}

// create returns the raw key exactly once; only the hash is stored.
func (h *handlers) create(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name   string   `json:"name"`
		Scopes []string `json:"scopes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.Fail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	key, raw, err := h.keys.Create(r.Context(), in.Name, in.Scopes)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, map[string]any{
		"key":    key,
		"rawKey": raw,
	})
}

func (h *handlers) get(w http.ResponseWriter, r *http.Request) {
	key, err := h.keys.Get(r.Context(), chi.URLParam(r, "keyID"))
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, key)
}

func (h *handlers) revoke(w http.ResponseWriter, r *http.Request) {
	if err := h.keys.Revoke(r.Context(), chi.URLParam(r, "keyID")); err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]bool{"revoked": true})
}
