// Package server wires the HTTP API together: configuration in, a running
// server out.
//
// COMPOSITION ROOT:
// New is the one place where concrete types meet. It picks the store
// backend, builds the change feed (plus the Redis relay when REDIS_URL is
// set), the services and the handlers, and mounts them on a chi router.
// Every other package only sees interfaces or the layer directly below it.
//
// NewRouter is the part of New that does not touch the outside world, so
// tests can serve the real routes over httptest with in-memory stores.
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/sakif/snippetvault/internal/auth"
	"github.com/sakif/snippetvault/internal/changefeed"
	"github.com/sakif/snippetvault/internal/config"
	"github.com/sakif/snippetvault/internal/handler"
	"github.com/sakif/snippetvault/internal/metrics"
	"github.com/sakif/snippetvault/internal/middleware"
	"github.com/sakif/snippetvault/internal/service"
)

// Deps are the collaborators NewRouter mounts. Provider may be nil, which
// leaves the GitHub login routes out. Tokens may be nil, which makes every
// authenticated route answer 401.
type Deps struct {
	Snippets      *service.SnippetService
	Auth          *service.AuthService
	Tokens        *auth.TokenService
	Provider      handler.IdentityProvider
	Metrics       *metrics.Metrics
	Feed          handler.FeedSettings
	SecureCookies bool
	Ready         func(ctx context.Context) error
}

// NewRouter builds the route table.
//
// ROUTES:
//
//	GET    /healthz                  liveness + storage ping
//	GET    /metrics                  Prometheus
//	GET    /auth/github/login        → GitHub
//	GET    /auth/github/callback     ← GitHub
//	POST   /auth/logout
//	GET    /api/snippets/{id}        public (deep links)
//	GET    /api/me                   authenticated from here on
//	POST   /api/tokens
//	GET    /api/snippets
//	POST   /api/snippets
//	PATCH  /api/snippets/{id}
//	DELETE /api/snippets/{id}
//	GET    /api/snippets/feed        WebSocket change feed
//
// Middleware order: request id, real IP, panic recovery, then logging and
// metrics around everything else.
func NewRouter(d Deps, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics(d.Metrics))

	r.Get("/healthz", healthHandler(d.Ready, logger))
	r.Handle("/metrics", d.Metrics.Handler())

	snippets := handler.NewSnippetHandler(d.Snippets, logger)
	feed := handler.NewFeedHandler(d.Snippets, d.Feed, logger)
	users := handler.NewAuthHandler(d.Provider, d.Auth, d.SecureCookies, logger)

	if d.Provider != nil {
		r.Get("/auth/github/login", users.HandleGitHubLogin)
		r.Get("/auth/github/callback", users.HandleGitHubCallback)
	}
	r.Post("/auth/logout", users.HandleLogout)

	r.Route("/api", func(r chi.Router) {
		r.Get("/snippets/{id}", snippets.HandleGetByID)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(d.Tokens))

			r.Get("/me", users.HandleMe)
			r.Post("/tokens", users.HandleIssueToken)

			r.Get("/snippets", snippets.HandleList)
			r.Post("/snippets", snippets.HandleCreate)
			r.Get("/snippets/feed", feed.HandleFeed)
			r.Patch("/snippets/{id}", snippets.HandleUpdate)
			r.Delete("/snippets/{id}", snippets.HandleDelete)
		})
	})

	return r
}

func healthHandler(ready func(context.Context) error, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ready(ctx); err != nil {
				logger.Warn("health check failed", slog.String("error", err.Error()))
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"unavailable"}` + "\n"))
				return
			}
		}
		_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
	}
}

// Server owns the listener and every resource New opened.
type Server struct {
	cfg     config.Config
	logger  *slog.Logger
	router  *chi.Mux
	backend *backend
	broker  *changefeed.Broker
	relay   *changefeed.RedisRelay
	redis   *redis.Client
}

// New opens the configured backend and builds the router. The caller must
// call Start or Close.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	_, m := metrics.NewRegistry()

	s := &Server{
		cfg:    cfg,
		logger: logger,
		broker: changefeed.NewBroker(logger, changefeed.WithMetrics(m)),
	}

	// === CHANGE FEED ===
	var publisher changefeed.Publisher = s.broker
	if cfg.RedisURL != "" {
		client, err := connectRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		instanceID := cfg.InstanceID
		if instanceID == "" {
			instanceID = ulid.Make().String()
		}
		s.redis = client
		s.relay = changefeed.NewRedisRelay(client, s.broker, instanceID, logger, m)
		publisher = s.relay
	}

	// === STORAGE ===
	b, err := openBackend(ctx, cfg, s.broker, publisher, logger)
	if err != nil {
		s.closeFeed()
		return nil, err
	}
	s.backend = b

	// === AUTH ===
	tokens, err := newTokenService(cfg, logger)
	if err != nil {
		s.Close()
		return nil, err
	}
	var provider handler.IdentityProvider
	if cfg.GitHubEnabled() {
		provider = auth.NewGitHubProvider(cfg.GitHubClientID, cfg.GitHubClientSecret, cfg.GitHubCallbackURL)
	} else {
		logger.Warn("GitHub login disabled: GITHUB_CLIENT_ID not set")
	}

	s.router = NewRouter(Deps{
		Snippets:      service.NewSnippetService(b.snippets, logger, service.WithMetrics(m)),
		Auth:          service.NewAuthService(b.users, tokens, logger),
		Tokens:        tokens,
		Provider:      provider,
		Metrics:       m,
		Feed:          handler.DefaultFeedSettings(),
		SecureCookies: cfg.SecureCookies(),
		Ready:         b.ready,
	}, logger)
	return s, nil
}

// newTokenService falls back to a random per-process secret without
// JWT_SECRET: logins work but do not survive a restart.
func newTokenService(cfg config.Config, logger *slog.Logger) (*auth.TokenService, error) {
	secret := cfg.JWTSecret
	if secret == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("generating JWT secret: %w", err)
		}
		secret = hex.EncodeToString(buf)
		logger.Warn("JWT_SECRET not set: using a random secret, sessions end on restart")
	}
	tokens, err := auth.NewTokenService(secret)
	if err != nil {
		return nil, fmt.Errorf("creating token service: %w", err)
	}
	return tokens, nil
}

// Handler is the router, for tests and for embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until SIGINT/SIGTERM, then drains in-flight requests for up
// to SHUTDOWN_TIMEOUT and releases everything New opened.
func (s *Server) Start() error {
	defer s.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", s.cfg.Port),
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// WriteTimeout would cut WebSocket feeds; the feed handler sets its
		// own write deadlines.
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	var relayDone sync.WaitGroup
	if s.relay != nil {
		relayDone.Add(1)
		go func() {
			defer relayDone.Done()
			if err := s.relay.Run(ctx); err != nil {
				s.logger.Error("redis relay stopped", slog.String("error", err.Error()))
			}
		}()
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.cfg.Port),
			slog.String("url", s.cfg.BaseURL()),
			slog.String("backend", s.cfg.StoreBackend),
			slog.Bool("redis_relay", s.relay != nil),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			stop()
			relayDone.Wait()
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()

		// Shutdown does not wait for hijacked feed connections; they end
		// when the process exits.
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		relayDone.Wait()
		s.logger.Info("server stopped gracefully")
	}
	return nil
}

// Close releases the backend, the broker and Redis. It is safe after Start.
func (s *Server) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.backend != nil {
		s.backend.close(ctx)
		s.backend = nil
	}
	s.closeFeed()
}

func (s *Server) closeFeed() {
	s.broker.Close()
	if s.redis != nil {
		_ = s.redis.Close()
		s.redis = nil
	}
}
