package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	httpapi "github.com/GriffinCanCode/scriptflow/internal/api/http"
	"github.com/GriffinCanCode/scriptflow/internal/api/middleware"
	"github.com/GriffinCanCode/scriptflow/internal/domain/cache"
	"github.com/GriffinCanCode/scriptflow/internal/domain/element"
	"github.com/GriffinCanCode/scriptflow/internal/domain/script"
	"github.com/GriffinCanCode/scriptflow/internal/domain/session"
	"github.com/GriffinCanCode/scriptflow/internal/domain/watcher"
	"github.com/GriffinCanCode/scriptflow/internal/infrastructure/config"
	"github.com/GriffinCanCode/scriptflow/internal/infrastructure/logging"
	"github.com/GriffinCanCode/scriptflow/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/scriptflow/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/scriptflow/internal/ws"
)

// Version is reported to clients in InitializeSession
const Version = "0.1.0"

// Server wraps the HTTP server and dependencies
type Server struct {
	config  *config.Config
	logger  *logging.Logger
	router  *gin.Engine
	http    *http.Server
	manager *session.Manager
	ws      *ws.Handler
	watcher *watcher.Watcher
	cache   cache.Store
	metrics *monitoring.Metrics
	tracer  *tracing.Tracer
}

// NewServer wires every component. Sessions live until Run returns.
func NewServer(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Server, error) {
	logger.Info("Initializing scriptflow server",
		zap.String("addr", cfg.Addr()),
		zap.String("script", cfg.Script.Path),
		zap.String("cache", cfg.Cache.Backend),
	)

	metrics := monitoring.NewMetrics()
	tracer := tracing.New("scriptflow", logger.Component("tracing"))

	store, err := cache.New(ctx, cache.Config{
		Backend:  cfg.Cache.Backend,
		RedisURL: cfg.Cache.RedisURL,
		Prefix:   cfg.Cache.Prefix,
		TTL:      cfg.Cache.TTL.Std(),
	})
	if err != nil {
		tracer.Close()
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	source := script.NewFile(cfg.Script.Path, script.Config{
		Timeout:          cfg.Script.Timeout.Std(),
		MaxCallStackSize: cfg.Script.MaxCallStackSize,
		EnableConsole:    true,
	})
	// Surface syntax errors at startup; sessions still get them as CompileError
	if _, err := source.Compile(); err != nil {
		logger.Warn("Script does not compile", zap.Error(err))
	}

	w, err := watcher.New(watcher.Config{
		Path:     cfg.Script.Path,
		Globs:    cfg.Script.WatchGlobs,
		Interval: cfg.Script.WatchInterval.Std(),
		Logger:   logger.Component("watcher"),
	})
	if err != nil {
		closeCache(store)
		tracer.Close()
		return nil, fmt.Errorf("failed to watch script: %w", err)
	}

	registry := element.DefaultRegistry()
	// Sessions are closed by Close, not by cancellation of the startup context
	manager := session.NewManager(context.WithoutCancel(ctx), session.ManagerConfig{
		Source:        source,
		Cache:         store,
		Registry:      registry,
		FlushInterval: cfg.Session.FlushInterval.Std(),
		RunOnSave:     cfg.Script.RunOnSave,
		GracePeriod:   cfg.Session.GracePeriod.Std(),
		MaxSessions:   cfg.Session.MaxSessions,
		ServerVersion: Version,
		Features: map[string]bool{
			"run_on_save": true,
			"resume":      cfg.Session.GracePeriod > 0,
			"redis_cache": cfg.Cache.Backend == "redis",
		},
		Logger:  logger.Component("session"),
		Metrics: metrics,
		Tracer:  tracer,
	})
	w.Subscribe(manager.ScriptChanged)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := httpapi.NewHandlers(manager, metrics, cfg.Script.Path, Version)
	wsHandler := ws.NewHandler(manager, ws.Config{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxMessageSize: cfg.Session.MaxMessageSize,
		CommandRate:    cfg.Session.CommandRate,
		CommandBurst:   cfg.Session.CommandBurst,
	}, logger.Component("ws"), metrics)

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/sessions", handlers.ListSessions)
	router.GET("/sessions/:id", handlers.GetSession)
	router.GET("/stream", wsHandler.HandleConnection)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	logger.Info("Server initialized successfully",
		zap.Strings("element_kinds", registry.Names()),
	)

	return &Server{
		config:  cfg,
		logger:  logger,
		router:  router,
		http:    &http.Server{Addr: cfg.Addr(), Handler: router},
		manager: manager,
		ws:      wsHandler,
		watcher: w,
		cache:   store,
		metrics: metrics,
		tracer:  tracer,
	}, nil
}

// Handler exposes the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go s.watcher.Run(watchCtx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			s.Close()
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	return s.Close()
}

// Close stops accepting connections, closes every session and flushes
// telemetry. It waits at most the configured shutdown timeout.
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout.Std())
	defer cancel()

	var errs []error
	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	s.ws.Shutdown()
	if err := s.manager.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("session shutdown: %w", err))
	}
	if err := closeCache(s.cache); err != nil {
		errs = append(errs, fmt.Errorf("cache close: %w", err))
	}
	s.tracer.Close()

	if err := errors.Join(errs...); err != nil {
		s.logger.Error("Shutdown incomplete", zap.Error(err))
		return err
	}
	s.logger.Info("Server stopped")
	_ = s.logger.Sync()
	return nil
}

func closeCache(store cache.Store) error {
	if c, ok := store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
