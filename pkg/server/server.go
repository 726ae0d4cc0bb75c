// Package server assembles the FleetHub control plane: every feature
// bundle, the middleware chain, and the shutdown path. It lives in pkg/
// so deployments can embed the handler in their own HTTP stack.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/fleethub/fleethub/internal/api/middleware"
	"github.com/fleethub/fleethub/internal/api/respond"
	"github.com/fleethub/fleethub/internal/authn"
	"github.com/fleethub/fleethub/internal/board"
	"github.com/fleethub/fleethub/internal/commits"
	"github.com/fleethub/fleethub/internal/config"
	"github.com/fleethub/fleethub/internal/configstore"
	"github.com/fleethub/fleethub/internal/feed"
	"github.com/fleethub/fleethub/internal/journal"
	"github.com/fleethub/fleethub/internal/loader"
	"github.com/fleethub/fleethub/internal/registry"
	"github.com/fleethub/fleethub/internal/reports"
	"github.com/fleethub/fleethub/internal/retention"
	"github.com/fleethub/fleethub/internal/skills"
	"github.com/fleethub/fleethub/internal/telemetry"
	"github.com/fleethub/fleethub/internal/twilio"
	"github.com/fleethub/fleethub/internal/usage"
)

// Server holds the initialized control plane.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Port is the port the server should listen on.
	Port int

	cfg         *config.Config
	limiter     *middleware.RateLimiter
	telemetry   func(context.Context) error
	stopJanitor context.CancelFunc
	flushers    []func() error
	closers     []func() error
}

// New loads configuration from the environment and initializes every
// feature store and bundle.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the control plane with an explicit
// configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	srv := &Server{cfg: cfg, Port: cfg.Port}

	shutdownTelemetry, err := telemetry.Init(cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	srv.telemetry = shutdownTelemetry

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	data := func(name string) string { return filepath.Join(cfg.DataDir, name) }

	boardStore, err := board.Open(data("board.json"))
	if err != nil {
		return nil, fmt.Errorf("open board: %w", err)
	}
	srv.flushers = append(srv.flushers, boardStore.Flush)

	reportStore, err := reports.Open(data("reports.json"))
	if err != nil {
		return nil, fmt.Errorf("open reports: %w", err)
	}
	srv.flushers = append(srv.flushers, reportStore.Flush)

	shareStore, err := reports.OpenShares(data("share.db"))
	if err != nil {
		return nil, fmt.Errorf("open shares: %w", err)
	}
	srv.closers = append(srv.closers, shareStore.Close)

	registryStore, err := registry.Open(data("registry.json"), cfg.Registry.StaleAfter())
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	srv.flushers = append(srv.flushers, registryStore.Flush)

	skillHub, err := skills.Open(data("skills.json"), data("extensions.json"), data("agent-manifests.json"))
	if err != nil {
		return nil, fmt.Errorf("open skills: %w", err)
	}
	srv.flushers = append(srv.flushers, skillHub.Flush)

	feedSvc, err := feed.Open(data("feed.jsonl"), cfg.Feed.Ring)
	if err != nil {
		return nil, fmt.Errorf("open feed: %w", err)
	}
	srv.closers = append(srv.closers, feedSvc.Close)

	journalStore, err := journal.Open(data("journal.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	srv.closers = append(srv.closers, journalStore.Close)

	logStore, err := journal.Open(data("log.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	srv.closers = append(srv.closers, logStore.Close)

	commitStore, err := commits.Open(data("commits.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("open commits: %w", err)
	}
	srv.closers = append(srv.closers, commitStore.Close)

	configKV, err := configstore.Open(data("config.db"))
	if err != nil {
		return nil, fmt.Errorf("open config store: %w", err)
	}
	srv.closers = append(srv.closers, configKV.Close)

	usageStore, err := usage.Open(data("usage.duckdb"))
	if err != nil {
		return nil, fmt.Errorf("open usage store: %w", err)
	}
	srv.closers = append(srv.closers, usageStore.Close)

	keyStore, err := authn.Open(data("api-keys.db"))
	if err != nil {
		return nil, fmt.Errorf("open key store: %w", err)
	}
	srv.closers = append(srv.closers, keyStore.Close)

	auth := middleware.NewAuthenticator(cfg.AuthToken, keyStore)
	srv.limiter = middleware.NewRateLimiter(cfg.RateLimit.Max, cfg.RateLimit.Window())

	ld := loader.New()
	ld.Register(feed.Bundle(feedSvc))
	ld.Register(board.Bundle(boardStore, feedSvc))
	ld.Register(registry.Bundle(registryStore))
	ld.Register(reports.Bundle(reportStore, shareStore, auth.Middleware))
	ld.Register(skills.Bundle(skillHub))
	ld.Register(journal.JournalBundle(journalStore))
	ld.Register(journal.LogBundle(logStore))
	ld.Register(commits.Bundle(commitStore))
	ld.Register(configstore.Bundle(configKV))
	ld.Register(usage.Bundle(usageStore))
	ld.Register(authn.Bundle(keyStore))
	ld.Register(twilio.Bundle(twilio.Config{
		AuthToken:      cfg.Twilio.AuthToken,
		WebhookURL:     cfg.Twilio.WebhookURL,
		AllowedNumbers: cfg.Twilio.AllowedNumbers,
	}, journalStore, logStore, boardStore))

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(srv.limiter.Middleware)

	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler(cfg))
	r.With(auth.Middleware).Get("/ui/manifest", ld.ManifestHandler())

	if err := ld.Mount(ctx, r, auth.Middleware); err != nil {
		return nil, fmt.Errorf("mount bundles: %w", err)
	}

	if cfg.Retention.Days > 0 {
		janitor := retention.NewJanitor(cfg.Retention.Days, cfg.Retention.Interval(),
			retention.Target{Name: "feed", Prune: feedSvc.Prune},
			retention.Target{Name: "journal", Prune: journalStore.Prune},
			retention.Target{Name: "log", Prune: logStore.Prune},
		)
		janitorCtx, cancel := context.WithCancel(context.Background())
		srv.stopJanitor = cancel
		go janitor.Start(janitorCtx)
	}

	srv.Handler = r
	log.Info().Str("data_dir", cfg.DataDir).Msg("control plane initialized")
	return srv, nil
}

// Shutdown flushes every debounced store, closes the embedded databases
// and append logs, stops the rate limiter, and flushes telemetry.
func (s *Server) Shutdown(ctx context.Context) error {
	var firstErr error
	if s.stopJanitor != nil {
		s.stopJanitor()
	}
	for _, flush := range s.flushers {
		if err := flush(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, close := range s.closers {
		if err := close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.limiter.Stop()
	if err := s.telemetry(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "fleethub",
	})
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respond.JSON(w, http.StatusOK, map[string]string{
			"version": cfg.Version,
			"service": "fleethub",
		})
	}
}
