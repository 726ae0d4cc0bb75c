package journal

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fleethub/fleethub/internal/api/respond"
	"github.com/fleethub/fleethub/internal/loader"
)

// JournalBundle wraps a store as the narrative journal feature.
func JournalBundle(store *Store) loader.Bundle {
	return loader.Bundle{
		Name:        "journal",
		Description: "Narrative journal stream",
		UI: map[string]any{
			"icon":  "book",
			"panel": "journal",
			"order": 5,
		},
		Routes: func() []loader.Mount {
			return []loader.Mount{{Path: "/journal", Router: router(store)}}
		},
	}
}

// LogBundle wraps a store as the worklog feature.
func LogBundle(store *Store) loader.Bundle {
	return loader.Bundle{
		Name:        "log",
		Description: "Terse activity worklog",
		UI: map[string]any{
			"icon":  "list",
			"panel": "log",
			"order": 6,
		},
		Routes: func() []loader.Mount {
			return []loader.Mount{{Path: "/log", Router: router(store)}}
		},
	}
}

func router(store *Store) http.Handler {
	r := chi.NewRouter()
	r.Get("/", list(store))
	r.Post("/", appendEntry(store))
	r.Get("/raw", raw(store))
	return r
}

func list(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f := Filter{
			Author: q.Get("author"),
			Agent:  q.Get("agent"),
			Tag:    q.Get("tag"),
			Since:  q.Get("since"),
		}
		if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 {
			f.Limit = limit
		}
		respond.JSON(w, http.StatusOK, store.List(f))
	}
}

func appendEntry(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in AppendInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			respond.Fail(w, http.StatusBadRequest, "invalid request body")
			return
		}
		e, err := store.Append(in)
		if err != nil {
			respond.Error(w, err)
			return
		}
		respond.JSON(w, http.StatusCreated, e)
	}
}

func raw(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(store.Raw()))
	}
}
