package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	_ "github.com/lib/pq"

	"github.com/txn2/tunnels/pkg/auth"
	"github.com/txn2/tunnels/pkg/browser"
	"github.com/txn2/tunnels/pkg/database/migrate"
	"github.com/txn2/tunnels/pkg/health"
	tunnelhttp "github.com/txn2/tunnels/pkg/http"
	"github.com/txn2/tunnels/pkg/middleware"
	"github.com/txn2/tunnels/pkg/route"
	"github.com/txn2/tunnels/pkg/session"
	"github.com/txn2/tunnels/pkg/session/postgres"
	"github.com/txn2/tunnels/pkg/tunnel"
)

// Version is set at build time.
var Version = "dev"

// Route names shared by the router and the tunnel handlers.
const (
	indexRouteName = "tunnel_index"
	stepRouteName  = "tunnel_step"
)

const shutdownTimeout = 10 * time.Second

// TunnelDef declares one tunnel and its ordered steps.
type TunnelDef struct {
	Name  string
	Steps []tunnel.Step
}

// Options configures the server.
type Options struct {
	// Config is the server configuration. Required.
	Config *Config

	// DB is the database connection (optional, created from config when the
	// postgres store is selected and none is provided).
	DB *sql.DB

	// Repository overrides the configured session store.
	Repository session.Repository

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// Tunnels lists the tunnel definitions to serve.
	Tunnels []TunnelDef

	// RenderStay overrides how a served step is rendered.
	RenderStay func(w http.ResponseWriter, step tunnel.Step) error
}

// Option is a functional option for configuring the server.
type Option func(*Options)

// WithConfig sets the configuration.
func WithConfig(cfg *Config) Option {
	return func(o *Options) {
		o.Config = cfg
	}
}

// WithDB sets the database connection.
func WithDB(db *sql.DB) Option {
	return func(o *Options) {
		o.DB = db
	}
}

// WithRepository sets the session repository, bypassing the configured store.
func WithRepository(repo session.Repository) Option {
	return func(o *Options) {
		o.Repository = repo
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithTunnel registers a tunnel definition.
func WithTunnel(name string, steps ...tunnel.Step) Option {
	return func(o *Options) {
		o.Tunnels = append(o.Tunnels, TunnelDef{Name: name, Steps: steps})
	}
}

// WithRenderStay sets the step renderer.
func WithRenderStay(fn func(w http.ResponseWriter, step tunnel.Step) error) Option {
	return func(o *Options) {
		o.RenderStay = fn
	}
}

// Server hosts tunnel handlers plus health endpoints on one listener.
type Server struct {
	cfg     *Config
	logger  *slog.Logger
	db      *sql.DB
	ownsDB  bool
	repo    session.Repository
	checker *health.Checker

	router   *route.TemplateRouter
	managers map[string]*tunnel.Manager
	handlers map[string]*tunnelhttp.Handler

	httpServer *http.Server
}

// New builds a server from options.
func New(opts ...Option) (*Server, error) {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}

	cfg := options.Config
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(options.Tunnels) == 0 {
		return nil, fmt.Errorf("at least one tunnel definition is required")
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		checker:  health.NewChecker(),
		managers: make(map[string]*tunnel.Manager),
		handlers: make(map[string]*tunnelhttp.Handler),
	}

	if err := s.buildRepository(options); err != nil {
		return nil, err
	}

	cookies, err := browser.NewCookieStore(browser.CookieStoreConfig{
		Name:       cfg.Cookies.Name,
		SigningKey: []byte(cfg.Cookies.SigningKey),
		TTL:        cfg.Cookies.TTL,
		Secure:     cfg.Cookies.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("creating cookie store: %w", err)
	}

	var verifier *auth.Verifier
	if cfg.Auth.Enabled {
		verifier, err = auth.NewVerifier(auth.VerifierConfig{
			SigningKey: []byte(cfg.Auth.SigningKey),
			Issuer:     cfg.Auth.Issuer,
			CookieName: cfg.Auth.CookieName,
		})
		if err != nil {
			return nil, fmt.Errorf("creating token verifier: %w", err)
		}
	}

	s.router = route.NewTemplateRouter()
	if err := s.router.Register(indexRouteName, "/tunnels/{tunnel}"); err != nil {
		return nil, fmt.Errorf("registering index route: %w", err)
	}
	if err := s.router.Register(stepRouteName, "/tunnels/{tunnel}/{step}"); err != nil {
		return nil, fmt.Errorf("registering step route: %w", err)
	}

	for _, def := range options.Tunnels {
		if _, exists := s.managers[def.Name]; exists {
			return nil, fmt.Errorf("duplicate tunnel definition %q", def.Name)
		}

		m, err := tunnel.NewManager(tunnel.Config{
			Name:         def.Name,
			RouteName:    stepRouteName,
			Repository:   s.repo,
			Routes:       s.router,
			Matcher:      s.router,
			SessionParam: cfg.Session.Param,
		})
		if err != nil {
			return nil, fmt.Errorf("creating tunnel %q: %w", def.Name, err)
		}
		if err := m.RegisterSteps(def.Steps...); err != nil {
			return nil, fmt.Errorf("registering steps for tunnel %q: %w", def.Name, err)
		}

		h, err := tunnelhttp.NewHandler(tunnelhttp.HandlerConfig{
			Manager:    m,
			Cookies:    cookies,
			Matcher:    s.router,
			StepRoute:  stepRouteName,
			IndexRoute: indexRouteName,
			Verifier:   verifier,
			RenderStay: options.RenderStay,
		})
		if err != nil {
			return nil, fmt.Errorf("creating handler for tunnel %q: %w", def.Name, err)
		}

		s.managers[def.Name] = m
		s.handlers[def.Name] = h
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           s.buildHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// buildRepository selects the session store: an explicit override first,
// then the configured backend.
func (s *Server) buildRepository(options *Options) error {
	if options.Repository != nil {
		s.repo = options.Repository
		return nil
	}

	switch s.cfg.Session.Store {
	case "memory":
		s.repo = session.NewMemoryRepository()
		return nil
	case "postgres":
		db := options.DB
		if db == nil {
			opened, err := sql.Open("postgres", s.cfg.Database.DSN)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			opened.SetMaxOpenConns(s.cfg.Database.MaxOpenConns)
			db = opened
			s.ownsDB = true
		}
		if err := migrate.Run(db); err != nil {
			if s.ownsDB {
				_ = db.Close()
			}
			return fmt.Errorf("migrating database: %w", err)
		}
		s.db = db
		s.repo = postgres.New(db)
		s.checker.AddCheck("database", func(ctx context.Context) error {
			return db.PingContext(ctx)
		})
		return nil
	default:
		return fmt.Errorf("unknown session store %q", s.cfg.Session.Store)
	}
}

// buildHandler assembles the mux and the middleware chain around it.
func (s *Server) buildHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.checker.LivenessHandler())
	mux.HandleFunc("/readyz", s.checker.ReadinessHandler())
	mux.HandleFunc("/", s.dispatch)

	chain := middleware.NewChain(
		middleware.Recover(s.logger),
		middleware.Logging(s.logger),
	)
	return chain.WrapWithContext(mux)
}

// dispatch routes a tunnel URL to the handler owning the named tunnel.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	_, params, ok := s.router.Match(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	h, ok := s.handlers[params["tunnel"]]
	if !ok {
		http.NotFound(w, r)
		return
	}

	if rc := middleware.GetRequestContext(r.Context()); rc != nil {
		rc.TunnelName = params["tunnel"]
		rc.StepName = params["step"]
	}

	h.ServeHTTP(w, r)
}

// Manager returns the manager for a named tunnel, or nil.
func (s *Server) Manager(name string) *tunnel.Manager {
	return s.managers[name]
}

// Handler returns the root handler, usable without the managed listener.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until the context is canceled, then drains and shuts down.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening",
			"name", s.cfg.Server.Name,
			"address", s.cfg.Server.Address,
			"version", Version,
		)
		var err error
		if s.cfg.Server.TLS.Enabled {
			err = s.httpServer.ListenAndServeTLS(s.cfg.Server.TLS.CertFile, s.cfg.Server.TLS.KeyFile)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.checker.SetReady()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.checker.SetDraining()
	s.logger.Info("server draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}

// Close releases resources owned by the server.
func (s *Server) Close() error {
	if s.ownsDB && s.db != nil {
		return s.db.Close()
	}
	return nil
}
