package reports

import (
	"bytes"
	"encoding/json"
	"html/template"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/fleethub/fleethub/internal/api/respond"
	"github.com/fleethub/fleethub/internal/loader"
	"github.com/fleethub/fleethub/pkg/models"
)

// Bundle wraps reports as a loadable feature. The mount is public because
// the share page must be reachable without credentials; every other route
// is wrapped with auth inside the router.
func Bundle(store *Store, shares *ShareStore, auth func(http.Handler) http.Handler) loader.Bundle {
	h := &handlers{store: store, shares: shares}
	return loader.Bundle{
		Name:        "reports",
		Description: "Markdown reports with public share links",
		UI: map[string]any{
			"icon":  "file-text",
			"panel": "reports",
			"order": 2,
		},
		Routes: func() []loader.Mount {
			return []loader.Mount{{Path: "/reports", Router: h.router(auth), Public: true}}
		},
	}
}

type handlers struct {
	store  *Store
	shares *ShareStore

	render goldmark.Markdown
}

func (h *handlers) router(auth func(http.Handler) http.Handler) http.Handler {
	h.render = goldmark.New(goldmark.WithExtensions(extension.GFM))

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Route("/{reportID}", func(r chi.Router) {
			r.Get("/", h.get)
			r.Patch("/", h.update)
			r.Delete("/", h.delete)
			r.Post("/share", h.createShare)
			r.Get("/shares", h.listShares)
		})
		r.Get("/share/{linkID}/access", h.listAccess)
		r.Delete("/share/{linkID}", h.revokeShare)
	})

	// The share page itself is the one unauthenticated surface.
	r.Get("/share/{linkID}", h.sharePage)
	return r
}

func (h *handlers) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		limit = n
	}
	respond.JSON(w, http.StatusOK, h.store.List(q.Get("tag"), q.Get("author"), limit))
}

func (h *handlers) create(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.Fail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rep, err := h.store.Create(in)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, rep)
}

func (h *handlers) get(w http.ResponseWriter, r *http.Request) {
	rep, err := h.store.Get(chi.URLParam(r, "reportID"))
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, rep)
}

func (h *handlers) update(w http.ResponseWriter, r *http.Request) {
	var in UpdateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.Fail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rep, err := h.store.Update(chi.URLParam(r, "reportID"), in)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, rep)
}

func (h *handlers) delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "reportID")
	if err := h.store.Delete(id); err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"deleted": id})
}

func (h *handlers) createShare(w http.ResponseWriter, r *http.Request) {
	reportID := chi.URLParam(r, "reportID")
	if _, err := h.store.Get(reportID); err != nil {
		respond.Error(w, err)
		return
	}
	var in struct {
		CreatedBy string `json:"createdBy"`
		Label     string `json:"label"`
		ExpiresAt string `json:"expiresAt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.Fail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	link, err := h.shares.CreateLink(r.Context(), reportID, in.CreatedBy, in.Label, in.ExpiresAt)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, map[string]any{
		"link": link,
		"url":  "/reports/share/" + link.LinkID,
	})
}

func (h *handlers) listShares(w http.ResponseWriter, r *http.Request) {
	links, err := h.shares.ListLinks(r.Context(), chi.URLParam(r, "reportID"))
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, links)
}

func (h *handlers) revokeShare(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "linkID")
	if err := h.shares.Revoke(r.Context(), id); err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"revoked": true, "linkId": id})
}

func (h *handlers) listAccess(w http.ResponseWriter, r *http.Request) {
	linkID := chi.URLParam(r, "linkID")
	if _, err := h.shares.Get(r.Context(), linkID); err != nil {
		respond.Error(w, err)
		return
	}
	entries, err := h.shares.ListAccess(r.Context(), linkID)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, entries)
}

var sharePageTmpl = template.Must(template.New("share").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta name="robots" content="noindex">
<title>{{.Title}}</title>
<style>
body { font-family: -apple-system, "Segoe UI", sans-serif; max-width: 46rem; margin: 2rem auto; padding: 0 1rem; line-height: 1.6; color: #1f2328; }
pre { background: #f6f8fa; padding: 1rem; overflow-x: auto; border-radius: 6px; }
code { font-family: ui-monospace, monospace; font-size: 0.9em; }
header { border-bottom: 1px solid #d1d9e0; margin-bottom: 1.5rem; padding-bottom: 0.5rem; }
header p { color: #59636e; margin: 0.25rem 0 0; font-size: 0.9rem; }
</style>
</head>
<body>
<header>
<h1>{{.Title}}</h1>
<p>by {{.Author}} &middot; {{.CreatedAt}}</p>
</header>
<main>{{.Body}}</main>
</body>
</html>
`))

// sharePage renders the linked report as HTML. Revoked, expired, and
// unknown links all render the same 404.
func (h *handlers) sharePage(w http.ResponseWriter, r *http.Request) {
	linkID := chi.URLParam(r, "linkID")
	link, err := h.shares.GetValid(r.Context(), linkID)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	rep, err := h.store.Get(link.ReportID)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	var md bytes.Buffer
	if err := h.render.Convert([]byte(rep.Content), &md); err != nil {
		respond.Fail(w, http.StatusInternalServerError, "failed to render report")
		return
	}

	if err := h.shares.RecordAccess(r.Context(), models.AccessEntry{
		LinkID:    linkID,
		IP:        r.RemoteAddr,
		UserAgent: r.UserAgent(),
		Referrer:  r.Referer(),
	}); err != nil {
		log.Warn().Err(err).Str("link_id", linkID).Msg("share access record failed")
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := sharePageTmpl.Execute(w, map[string]any{
		"Title":     rep.Title,
		"Author":    rep.Author,
		"CreatedAt": rep.CreatedAt,
		"Body":      template.HTML(md.String()),
	}); err != nil {
		log.Error().Err(err).Msg("share page render failed")
	}
}
