package registry

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fleethub/fleethub/internal/api/respond"
	"github.com/fleethub/fleethub/internal/loader"
	"github.com/fleethub/fleethub/pkg/models"
)

// Bundle wraps the registry as a loadable feature.
func Bundle(store *Store) loader.Bundle {
	h := &handlers{store: store}
	return loader.Bundle{
		Name:        "registry",
		Description: "VM inventory with liveness and role discovery",
		UI: map[string]any{
			"icon":  "server",
			"panel": "registry",
			"order": 3,
		},
		Routes: func() []loader.Mount {
			return []loader.Mount{{Path: "/registry", Router: h.router()}}
		},
	}
}

type handlers struct {
	store *Store
}

func (h *handlers) router() http.Handler {
	r := chi.NewRouter()
	r.Get("/vms", h.list)
	r.Post("/vms", h.register)
	r.Route("/vms/{vmID}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Patch("/", h.update)
		r.Delete("/", h.deregister)
		r.Post("/heartbeat", h.heartbeat)
	})
	r.Get("/discover/{role}", h.discover)
	return r
}

func (h *handlers) list(w http.ResponseWriter, r *http.Request) {
	f := ListFilter{
		Role:   models.VMRole(r.URL.Query().Get("role")),
		Status: models.VMStatus(r.URL.Query().Get("status")),
	}
	if f.Role != "" && !models.ValidVMRole(f.Role) {
		respond.Fail(w, http.StatusBadRequest, "unknown role: "+string(f.Role))
		return
	}
	if f.Status != "" && !models.ValidVMStatus(f.Status) {
		respond.Fail(w, http.StatusBadRequest, "unknown status: "+string(f.Status))
		return
	}
	respond.JSON(w, http.StatusOK, h.store.List(f))
}

func (h *handlers) register(w http.ResponseWriter, r *http.Request) {
	var in RegisterInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.Fail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	vm, err := h.store.Register(in)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, vm)
}

func (h *handlers) get(w http.ResponseWriter, r *http.Request) {
	vm, err := h.store.Get(chi.URLParam(r, "vmID"))
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, vm)
}

func (h *handlers) update(w http.ResponseWriter, r *http.Request) {
	var in UpdateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.Fail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	vm, err := h.store.Update(chi.URLParam(r, "vmID"), in)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, vm)
}

func (h *handlers) deregister(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "vmID")
	if err := h.store.Deregister(id); err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"deregistered": id})
}

func (h *handlers) heartbeat(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Services []string `json:"services"`
	}
	// Heartbeats may arrive with an empty body.
	_ = json.NewDecoder(r.Body).Decode(&in)

	vm, err := h.store.Heartbeat(chi.URLParam(r, "vmID"), in.Services)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, vm)
}

func (h *handlers) discover(w http.ResponseWriter, r *http.Request) {
	vms, err := h.store.Discover(models.VMRole(chi.URLParam(r, "role")))
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, vms)
}
