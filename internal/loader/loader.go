// Package loader assembles feature bundles into one HTTP application:
// dependency-ordered mounting, init hooks, and the client-side manifest the
// dashboard consumes.
package loader

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/fleethub/fleethub/internal/api/respond"
)

// Mount is one router a bundle contributes. Public mounts skip the auth
// middleware (share pages, webhook ingress).
type Mount struct {
	Path   string
	Router http.Handler
	Public bool
}

// Bundle is one feature unit: routes, UI metadata, an optional init hook,
// and the names of bundles that must initialize first.
type Bundle struct {
	Name         string
	Description  string
	Dependencies []string

	// Routes returns the mounts to attach; nil for route-less bundles.
	Routes func() []Mount

	// UI is plain serializable dashboard metadata — never callables.
	UI map[string]any

	// Init runs after all routers are mounted, in dependency order.
	Init func(ctx context.Context) error
}

// Loader registers bundles and mounts them in topological order.
type Loader struct {
	bundles []Bundle
	byName  map[string]int
}

// New creates an empty loader.
func New() *Loader {
	return &Loader{byName: make(map[string]int)}
}

// Register adds a bundle. Duplicate names are warned about and skipped;
// registration order is otherwise irrelevant.
func (l *Loader) Register(b Bundle) {
	if _, dup := l.byName[b.Name]; dup {
		log.Warn().Str("bundle", b.Name).Msg("duplicate bundle registration skipped")
		return
	}
	l.byName[b.Name] = len(l.bundles)
	l.bundles = append(l.bundles, b)
}

// Mount topologically sorts the bundles, attaches each bundle's routers to
// r (wrapped in auth unless the mount is public), then runs init hooks in
// the same order. A dependency cycle is fatal; a missing dependency is only
// a warning.
func (l *Loader) Mount(ctx context.Context, r chi.Router, auth func(http.Handler) http.Handler) error {
	order, err := l.sort()
	if err != nil {
		return err
	}

	for _, b := range order {
		if b.Routes == nil {
			continue
		}
		for _, m := range b.Routes() {
			handler := m.Router
			if !m.Public && auth != nil {
				handler = auth(handler)
			}
			r.Mount(m.Path, handler)
			log.Info().Str("bundle", b.Name).Str("path", m.Path).Bool("public", m.Public).Msg("mounted")
		}
	}

	for _, b := range order {
		if b.Init == nil {
			continue
		}
		if err := b.Init(ctx); err != nil {
			return fmt.Errorf("init %s: %w", b.Name, err)
		}
	}
	return nil
}

// sort returns the bundles in dependency order (Kahn), keeping
// registration order among ready nodes so output is deterministic.
func (l *Loader) sort() ([]Bundle, error) {
	indegree := make(map[string]int, len(l.bundles))
	dependents := make(map[string][]string)

	for _, b := range l.bundles {
		indegree[b.Name] += 0
		for _, dep := range b.Dependencies {
			if _, known := l.byName[dep]; !known {
				log.Warn().Str("bundle", b.Name).Str("dependency", dep).Msg("unknown dependency ignored")
				continue
			}
			indegree[b.Name]++
			dependents[dep] = append(dependents[dep], b.Name)
		}
	}

	var order []Bundle
	for len(order) < len(l.bundles) {
		progressed := false
		for _, b := range l.bundles {
			if indegree[b.Name] != 0 {
				continue
			}
			order = append(order, b)
			indegree[b.Name] = -1 // visited
			for _, dep := range dependents[b.Name] {
				indegree[dep]--
			}
			progressed = true
		}
		if !progressed {
			for _, b := range l.bundles {
				if indegree[b.Name] > 0 {
					return nil, fmt.Errorf("bundle dependency cycle involving %q", b.Name)
				}
			}
			break
		}
	}
	return order, nil
}

// ManifestEntry is the serializable description of one bundle.
type ManifestEntry struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	UI          map[string]any `json:"ui,omitempty"`
}

// Manifest is a pure function of the registered bundles.
func (l *Loader) Manifest() map[string]any {
	services := make([]ManifestEntry, 0, len(l.bundles))
	for _, b := range l.bundles {
		services = append(services, ManifestEntry{
			Name:        b.Name,
			Description: b.Description,
			UI:          b.UI,
		})
	}
	return map[string]any{"services": services}
}

// ManifestHandler serves the manifest for the dashboard.
func (l *Loader) ManifestHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respond.JSON(w, http.StatusOK, l.Manifest())
	}
}
