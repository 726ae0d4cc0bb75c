package feed

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fleethub/fleethub/internal/api/respond"
	"github.com/fleethub/fleethub/internal/loader"
	"github.com/fleethub/fleethub/internal/sse"
	"github.com/fleethub/fleethub/pkg/models"
)

// Bundle wraps the feed service as a loadable feature.
func Bundle(svc *Service) loader.Bundle {
	return loader.Bundle{
		Name:        "feed",
		Description: "Fleet activity feed with live streaming",
		UI: map[string]any{
			"icon":  "activity",
			"panel": "feed",
			"order": 2,
		},
		Routes: func() []loader.Mount {
			return []loader.Mount{{Path: "/feed", Router: router(svc)}}
		},
	}
}

func router(svc *Service) http.Handler {
	r := chi.NewRouter()
	r.Get("/events", listEvents(svc))
	r.Post("/events", postEvent(svc))
	r.Delete("/events", clearEvents(svc))
	r.Get("/stream", stream(svc))
	r.Get("/stats", stats(svc))
	return r
}

func filterFromQuery(r *http.Request) Filter {
	f := Filter{
		Agent: r.URL.Query().Get("agent"),
		Type:  r.URL.Query().Get("type"),
		Since: r.URL.Query().Get("since"),
	}
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && limit > 0 {
		f.Limit = limit
	}
	return f
}

func listEvents(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respond.JSON(w, http.StatusOK, svc.List(filterFromQuery(r)))
	}
}

func postEvent(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var ev models.FeedEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			respond.Fail(w, http.StatusBadRequest, "invalid request body")
			return
		}
		created, err := svc.Publish(ev)
		if err != nil {
			respond.Error(w, err)
			return
		}
		respond.JSON(w, http.StatusCreated, created)
	}
}

func clearEvents(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		removed, err := svc.Clear()
		if err != nil {
			respond.Error(w, err)
			return
		}
		respond.JSON(w, http.StatusOK, map[string]int{"removed": removed})
	}
}

func stream(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := filterFromQuery(r)
		// On the stream, since is an event ID for ring replay, not a
		// timestamp filter.
		f.Since = ""
		replay, sub := svc.Subscribe(f, r.URL.Query().Get("since"))
		sse.Stream(w, r, replay, sub, func(ev models.FeedEvent) string { return ev.ID })
	}
}

func stats(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respond.JSON(w, http.StatusOK, svc.Stats())
	}
}
