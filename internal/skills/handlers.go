package skills

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fleethub/fleethub/internal/api/respond"
	"github.com/fleethub/fleethub/internal/loader"
	"github.com/fleethub/fleethub/internal/sse"
	"github.com/fleethub/fleethub/pkg/models"
)

// Bundle wraps the skill hub as a loadable feature.
func Bundle(svc *Service) loader.Bundle {
	h := &handlers{svc: svc}
	return loader.Bundle{
		Name:        "skills",
		Description: "Skill and extension hub with agent sync",
		UI: map[string]any{
			"icon":  "puzzle",
			"panel": "skills",
			"order": 4,
		},
		Routes: func() []loader.Mount {
			return []loader.Mount{{Path: "/skills", Router: h.router()}}
		},
	}
}

type handlers struct {
	svc *Service
}

func (h *handlers) router() http.Handler {
	r := chi.NewRouter()
	r.Route("/items", h.catalogRoutes(KindSkill))
	r.Route("/extensions", h.catalogRoutes(KindExtension))
	r.Post("/sync", h.sync)
	r.Get("/manifest/{agentID}", h.manifest)
	r.Get("/agents", h.agents)
	r.Get("/changes", h.changes)
	r.Get("/stream", h.stream)
	return r
}

func (h *handlers) catalogRoutes(kind string) func(chi.Router) {
	return func(r chi.Router) {
		r.Get("/", h.list(kind))
		r.Post("/", h.publish(kind))
		r.Route("/{name}", func(r chi.Router) {
			r.Get("/", h.get(kind))
			r.Delete("/", h.remove(kind))
			r.Post("/enable", h.setEnabled(kind, true))
			r.Post("/disable", h.setEnabled(kind, false))
		})
	}
}

func (h *handlers) list(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := h.svc.List(kind)
		if err != nil {
			respond.Error(w, err)
			return
		}
		respond.JSON(w, http.StatusOK, items)
	}
}

func (h *handlers) publish(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in PublishInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			respond.Fail(w, http.StatusBadRequest, "invalid request body")
			return
		}
		sk, err := h.svc.Publish(kind, in)
		if err != nil {
			respond.Error(w, err)
			return
		}
		status := http.StatusCreated
		if sk.Version > 1 {
			status = http.StatusOK
		}
		respond.JSON(w, status, sk)
	}
}

func (h *handlers) get(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sk, err := h.svc.Get(kind, chi.URLParam(r, "name"))
		if err != nil {
			respond.Error(w, err)
			return
		}
		respond.JSON(w, http.StatusOK, sk)
	}
}

func (h *handlers) remove(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if err := h.svc.Remove(kind, name); err != nil {
			respond.Error(w, err)
			return
		}
		respond.JSON(w, http.StatusOK, map[string]string{"removed": name})
	}
}

func (h *handlers) setEnabled(kind string, enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sk, err := h.svc.SetEnabled(kind, chi.URLParam(r, "name"), enabled)
		if err != nil {
			respond.Error(w, err)
			return
		}
		respond.JSON(w, http.StatusOK, sk)
	}
}

func (h *handlers) sync(w http.ResponseWriter, r *http.Request) {
	var in SyncInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.Fail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	plan, err := h.svc.Sync(in)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{
		"agentId": in.AgentID,
		"actions": plan,
	})
}

func (h *handlers) manifest(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.Manifest(chi.URLParam(r, "agentID"))
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, m)
}

func (h *handlers) agents(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, h.svc.Agents())
}

func (h *handlers) changes(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, h.svc.Changes())
}

func (h *handlers) stream(w http.ResponseWriter, r *http.Request) {
	replay, sub := h.svc.Subscribe(r.URL.Query().Get("since"))
	sse.Stream(w, r, replay, sub, func(e models.ChangeEvent) string { return e.ID })
}
