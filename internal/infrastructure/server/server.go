package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/docker/docker/client"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/SAISURYACHARAN89/codesync/internal/api/http"
	"github.com/SAISURYACHARAN89/codesync/internal/api/middleware"
	"github.com/SAISURYACHARAN89/codesync/internal/api/ws"
	"github.com/SAISURYACHARAN89/codesync/internal/domain/broadcast"
	"github.com/SAISURYACHARAN89/codesync/internal/domain/execution"
	"github.com/SAISURYACHARAN89/codesync/internal/domain/session"
	"github.com/SAISURYACHARAN89/codesync/internal/infrastructure/config"
	"github.com/SAISURYACHARAN89/codesync/internal/infrastructure/logging"
	"github.com/SAISURYACHARAN89/codesync/internal/infrastructure/monitoring"
	"github.com/SAISURYACHARAN89/codesync/internal/infrastructure/tracing"
	"github.com/SAISURYACHARAN89/codesync/internal/shared/id"
)

// Version is reported by the root endpoint; set at build time.
var Version = "dev"

// Server wraps the HTTP server and dependencies
type Server struct {
	config   *config.Config
	logger   *logging.Logger
	metrics  *monitoring.Metrics
	tracer   *tracing.Tracer
	registry *session.Registry
	router   *broadcast.Router
	sandbox  *execution.Sandbox
	watcher  *execution.ProfileWatcher
	docker   *client.Client
	gateway  *ws.Gateway
	engine   *gin.Engine
	handler  http.Handler

	mu      sync.Mutex
	http    *http.Server
	stopped bool
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewFromLevel(cfg.Logging.Level, cfg.Logging.Development)
	}

	logger.Info("Initializing codesync server",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("sandbox_backend", cfg.Sandbox.Backend),
	)

	s := &Server{config: cfg, logger: logger}

	// Initialize metrics first (needed by other components)
	s.metrics = monitoring.NewMetrics()
	s.tracer = tracing.New("codesync", logger.Component("tracing"))

	s.registry = session.NewRegistry(session.Options{
		NewCode:     id.RandomCode(cfg.Session.CodeLength),
		MaxAttempts: cfg.Session.CreateAttempts,
		Observer:    session.MetricsObserver(s.metrics),
		Logger:      logger.Component("sessions"),
	})
	s.router = broadcast.NewRouter(s.registry, s.metrics, logger.Component("broadcast"))

	if err := s.initSandbox(); err != nil {
		s.closeSandbox()
		s.tracer.Close()
		return nil, err
	}

	s.gateway = ws.New(cfg.Gateway, cfg.CORS.Origins, ws.Deps{
		Registry: s.registry,
		Router:   s.router,
		Executor: s.sandbox,
		Metrics:  s.metrics,
		Tracer:   s.tracer,
		Logger:   logger.Component("gateway"),
	})

	s.engine = s.buildRouter()
	s.handler = s.engine
	if cfg.Server.Compression {
		s.handler = withCompression(s.engine)
	}

	logger.Info("Server initialized successfully")
	return s, nil
}

// initSandbox loads language profiles and registers every backend that can
// be constructed. Script and process backends need nothing external; the
// container backend needs a Docker client, the remote backend a runner URL.
func (s *Server) initSandbox() error {
	cfg := s.config.Sandbox
	log := s.logger.Component("sandbox")

	base := execution.DefaultProfiles()
	profiles := base
	if cfg.ProfilesFile != "" {
		overlay, err := execution.LoadProfiles(cfg.ProfilesFile)
		if err != nil {
			return fmt.Errorf("load language profiles: %w", err)
		}
		profiles = execution.Merge(base, overlay)
	}
	store, err := execution.NewProfileStore(profiles)
	if err != nil {
		return fmt.Errorf("language profiles: %w", err)
	}

	backends := []execution.Backend{
		execution.NewScriptBackend(),
		execution.NewProcessBackend(cfg.WorkDir, log),
	}

	docker, err := execution.NewDockerClient()
	switch {
	case err == nil:
		s.docker = docker
		backends = append(backends, execution.NewContainerBackend(docker, execution.ContainerConfig{
			MemoryMB:   cfg.MemoryMB,
			CPUs:       cfg.CPUs,
			PidsLimit:  cfg.PidsLimit,
			PullImages: cfg.PullImages,
			LogBytes:   4 * int64(cfg.OutputLimit),
		}, log))
	case cfg.Backend == execution.BackendContainer:
		return fmt.Errorf("docker client: %w", err)
	default:
		log.Warn("Container backend disabled", zap.Error(err))
	}

	if cfg.RemoteURL != "" {
		backends = append(backends, execution.NewRemoteBackend(execution.RemoteConfig{
			BaseURL: cfg.RemoteURL,
			Retries: cfg.RemoteRetries,
			Timeout: cfg.Timeout + 10*time.Second,
		}, log))
	}

	s.sandbox, err = execution.New(execution.OptionsFromConfig(cfg), execution.Deps{
		Profiles: store,
		Backends: backends,
		Metrics:  s.metrics,
		Tracer:   s.tracer,
		Logger:   log,
	})
	if err != nil {
		return err
	}

	if cfg.ProfilesFile != "" && cfg.WatchProfiles {
		s.watcher, err = execution.WatchProfiles(cfg.ProfilesFile, store, base, log)
		if err != nil {
			return fmt.Errorf("watch language profiles: %w", err)
		}
	}

	names := make([]string, 0, len(backends))
	for _, b := range backends {
		names = append(names, b.Name())
	}
	log.Info("Sandbox initialized",
		zap.Strings("backends", names),
		zap.Int("languages", len(store.List())),
		zap.Int("max_concurrent", cfg.MaxConcurrent),
	)
	return nil
}

func (s *Server) buildRouter() *gin.Engine {
	cfg := s.config
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(s.tracer))
	router.Use(monitoring.Middleware(s.metrics))
	router.Use(middleware.CORS(middleware.CORSConfigForOrigins(cfg.CORS.Origins)))
	if cfg.RateLimit.Enabled {
		s.logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := apihttp.NewHandlers(apihttp.Deps{
		Registry: s.registry,
		Router:   s.router,
		Sandbox:  s.sandbox,
		Gateway:  s.gateway,
		Logger:   s.logger.Component("http"),
		Version:  Version,
	})
	handlers.Register(router)

	// WebSocket
	router.GET("/ws", s.gateway.HandleConnection)

	// Metrics
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})))

	// Runtime log level: GET reports it, PUT {"level":"debug"} changes it
	if cfg.Logging.LevelRoute || cfg.Logging.Development {
		logLevel := gin.WrapH(s.logger.AtomicLevel())
		router.GET("/log/level", logLevel)
		router.PUT("/log/level", logLevel)
	}

	return router
}

// withCompression gzips responses for clients that accept it. Websocket
// upgrades bypass the wrapper since the connection is hijacked.
func withCompression(next http.Handler) http.Handler {
	gz := gzhttp.GzipHandler(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			next.ServeHTTP(w, r)
			return
		}
		gz.ServeHTTP(w, r)
	})
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Gateway returns the websocket gateway
func (s *Server) Gateway() *ws.Gateway {
	return s.gateway
}

// Run listens on the configured address and serves until Shutdown
func (s *Server) Run() error {
	ln, err := net.Listen("tcp", s.config.Server.Addr())
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown
func (s *Server) Serve(ln net.Listener) error {
	hs := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.http = hs
	s.mu.Unlock()
	s.logger.Info("Starting HTTP server", zap.String("addr", ln.Addr().String()))

	if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown closes websocket connections, drains HTTP requests and releases
// the sandbox.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	hs := s.http
	s.mu.Unlock()

	s.logger.Info("Shutting down server...")

	var errs []error
	if err := s.gateway.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("gateway: %w", err))
	}
	if hs != nil {
		if err := hs.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http: %w", err))
		}
	}
	s.closeSandbox()
	s.tracer.Close()

	if len(errs) > 0 {
		err := errors.Join(errs...)
		s.logger.Error("Shutdown incomplete", zap.Error(err))
		return err
	}
	s.logger.Info("Server stopped")
	return nil
}

func (s *Server) closeSandbox() {
	if s.watcher != nil {
		if err := s.watcher.Close(); err != nil {
			s.logger.Warn("Failed to stop profile watcher", zap.Error(err))
		}
	}
	if s.sandbox != nil {
		s.sandbox.Close()
	}
	if s.docker != nil {
		if err := s.docker.Close(); err != nil {
			s.logger.Warn("Failed to close docker client", zap.Error(err))
		}
	}
}
