// ABOUTME: Gateway orchestrator that wires the session store, tools, model and HTTP server
// ABOUTME: Manages the progress sweep, health endpoints and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/2389/sourcing-gateway/internal/auth"
	"github.com/2389/sourcing-gateway/internal/config"
	"github.com/2389/sourcing-gateway/internal/conversation"
	"github.com/2389/sourcing-gateway/internal/llm"
	"github.com/2389/sourcing-gateway/internal/metrics"
	"github.com/2389/sourcing-gateway/internal/progress"
	"github.com/2389/sourcing-gateway/internal/search"
	"github.com/2389/sourcing-gateway/internal/store"
	"github.com/2389/sourcing-gateway/internal/tools"
)

// Catalog is the search backend behind the catalog tools.
type Catalog interface {
	tools.Catalog
	Ping(ctx context.Context) error
	Close() error
}

// ModelFactory builds the model stream once the tool registry exists.
type ModelFactory func(invoker llm.ToolInvoker) (conversation.ModelStream, error)

// Deps are the external collaborators of a Gateway.
type Deps struct {
	Store store.SessionStore

	// Catalog may be nil, in which case no catalog tools are offered.
	Catalog Catalog

	NewModel ModelFactory

	// Verifier may be nil, in which case X-User-ID is trusted.
	Verifier auth.TokenVerifier
}

// Gateway serves the chat API.
type Gateway struct {
	config       *config.Config
	store        store.SessionStore
	catalog      Catalog
	progress     *progress.Registry
	tools        *tools.Registry
	conversation *conversation.Service
	metrics      *metrics.Metrics
	httpServer   *http.Server
	logger       *slog.Logger

	// serverID identifies this gateway instance
	serverID string
}

// initStore opens the configured session store.
func initStore(cfg *config.Config, logger *slog.Logger) (store.SessionStore, error) {
	var (
		s   store.SessionStore
		err error
	)
	if cfg.Database.Driver == store.DriverBolt {
		s, err = store.OpenBolt(cfg.Database.Path, logger)
	} else {
		s, err = store.OpenSQLite(cfg.Database.Driver, cfg.Database.Path, logger)
	}
	if err != nil {
		return nil, fmt.Errorf("opening session store: %w", err)
	}
	return s, nil
}

// initCatalog connects to the catalog database when one is configured.
func initCatalog(cfg *config.Config, logger *slog.Logger) (Catalog, error) {
	if cfg.Search.DSN == "" {
		logger.Warn("search.dsn not configured, catalog tools disabled")
		return nil, nil
	}

	embedder, err := llm.NewOpenAIEmbedder(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.EmbeddingModel)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	catalog, err := search.NewPostgresStore(search.Config{
		DSN:       cfg.Search.DSN,
		Embedder:  embedder,
		Dimension: cfg.Search.Dimension,
		MinScore:  cfg.Search.MinScore,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	return catalog, nil
}

// openAIModel returns the factory for the configured OpenAI-compatible model.
func openAIModel(cfg *config.Config, logger *slog.Logger) ModelFactory {
	return func(invoker llm.ToolInvoker) (conversation.ModelStream, error) {
		return llm.NewOpenAIStream(llm.Config{
			APIKey:      cfg.LLM.APIKey,
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			MaxRounds:   cfg.LLM.MaxRounds,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
			MaxRetries:  cfg.LLM.MaxRetries,
			Logger:      logger,
		}, invoker)
	}
}

// New creates a Gateway from configuration, opening the session store and,
// when configured, the catalog database.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := initStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	catalog, err := initCatalog(cfg, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	var verifier auth.TokenVerifier
	if cfg.Auth.JWTSecret != "" {
		v, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer)
		if err != nil {
			_ = s.Close()
			if catalog != nil {
				_ = catalog.Close()
			}
			return nil, fmt.Errorf("creating JWT verifier: %w", err)
		}
		verifier = v
	}

	gw, err := NewWithDeps(cfg, Deps{
		Store:    s,
		Catalog:  catalog,
		NewModel: openAIModel(cfg, logger),
		Verifier: verifier,
	}, logger)
	if err != nil {
		_ = s.Close()
		if catalog != nil {
			_ = catalog.Close()
		}
		return nil, err
	}
	return gw, nil
}

// NewWithDeps creates a Gateway around existing collaborators. The Gateway
// takes ownership of the store and catalog and closes them on Shutdown.
func NewWithDeps(cfg *config.Config, deps Deps, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Store == nil {
		return nil, errors.New("session store is required")
	}
	if deps.NewModel == nil {
		return nil, errors.New("model factory is required")
	}

	m := metrics.New()
	channels := progress.NewRegistry(progress.Config{
		TTL:           cfg.Progress.TTL,
		SweepInterval: cfg.Progress.SweepInterval,
		Logger:        logger,
		Metrics:       m,
	})

	registry := tools.NewRegistry(channels, logger, m)
	if deps.Catalog != nil {
		if err := tools.RegisterCatalog(registry, deps.Catalog); err != nil {
			return nil, fmt.Errorf("registering catalog tools: %w", err)
		}
	}

	model, err := deps.NewModel(registry)
	if err != nil {
		return nil, fmt.Errorf("creating model stream: %w", err)
	}

	svc := conversation.New(deps.Store, model, channels, logger,
		conversation.WithToolBudget(cfg.LLM.ToolBudget),
		conversation.WithMetrics(m),
	)

	gw := &Gateway{
		config:       cfg,
		store:        deps.Store,
		catalog:      deps.Catalog,
		progress:     channels,
		tools:        registry,
		conversation: svc,
		metrics:      m,
		logger:       logger.With("component", "gateway"),
		serverID:     generateServerID(),
	}

	if deps.Verifier != nil {
		logger.Info("HTTP auth middleware enabled")
	} else {
		logger.Warn("HTTP auth disabled - no jwt_secret configured, trusting X-User-ID")
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(deps.Verifier),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// routes builds the HTTP handler tree.
func (g *Gateway) routes(verifier auth.TokenVerifier) http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /api/chat", g.handleChat)
	api.Handle("GET /api/conversations", auth.RequireIdentity(http.HandlerFunc(g.handleListConversations)))
	api.HandleFunc("GET /api/conversations/{id}", g.handleGetConversation)
	api.HandleFunc("PATCH /api/conversations/{id}", g.handleRenameConversation)
	api.HandleFunc("DELETE /api/conversations/{id}", g.handleDeleteConversation)

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)
	if g.config.Metrics.Enabled {
		mux.Handle("GET "+g.config.Metrics.Path, g.metrics.Handler())
	}

	mux.Handle("/api/", auth.Middleware(verifier, g.logger)(api))

	return corsMiddleware(g.config.Server.CORSOrigins, mux)
}

// Handler returns the root HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// startServer starts the HTTP server in a goroutine, returning its error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String(), "server_id", g.serverID)
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()
	return errCh
}

// Run starts the progress sweep and the HTTP server and blocks until the
// context is canceled. Returns nil on graceful shutdown, or an error if the
// server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}
	return g.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	if err := g.progress.Start(); err != nil {
		_ = ln.Close()
		return fmt.Errorf("starting progress sweep: %w", err)
	}

	errCh := g.startServer(ln)

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context, since the run
// context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	timeout := g.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops accepting requests, waits for in-flight streams, then
// completes remaining progress channels and closes the stores.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.progress.Close()

	if g.catalog != nil {
		errs = appendCloseError(errs, "catalog close", g.catalog.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())

	return errors.Join(errs...)
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK when the session store (and catalog, if any) respond.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := g.store.Ping(ctx); err != nil {
		g.logger.Warn("readiness check failed", "dependency", "store", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("session store unavailable"))
		return
	}
	if g.catalog != nil {
		if err := g.catalog.Ping(ctx); err != nil {
			g.logger.Warn("readiness check failed", "dependency", "catalog", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("catalog unavailable"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d tools)", g.tools.Len())
}

// generateServerID creates a unique identifier for this gateway instance.
func generateServerID() string {
	return fmt.Sprintf("sourcing-gateway-%d", time.Now().UnixNano()%1000000)
}
