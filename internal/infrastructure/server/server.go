package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/termbroker/internal/api/http"
	"github.com/GriffinCanCode/termbroker/internal/api/middleware"
	"github.com/GriffinCanCode/termbroker/internal/api/ws"
	"github.com/GriffinCanCode/termbroker/internal/infrastructure/config"
	"github.com/GriffinCanCode/termbroker/internal/infrastructure/logging"
	"github.com/GriffinCanCode/termbroker/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/termbroker/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/termbroker/internal/terminal"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	broker     *terminal.Broker
	stream     *ws.Handler
	tracer     *tracing.Tracer
	logger     *logging.Logger
	config     *config.Config
	metrics    *monitoring.Metrics

	closeOnce sync.Once
	closeErr  error
}

// Option customizes a Server.
type Option func(*options)

type options struct {
	logger  *logging.Logger
	spawner terminal.Spawner
}

// WithLogger replaces the logger built from the logging config.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithSpawner replaces the PTY spawner.
func WithSpawner(s terminal.Spawner) Option {
	return func(o *options) { o.spawner = s }
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, opts ...Option) (*Server, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		var err error
		logger, err = logging.New(logging.Config{
			Level:       cfg.Logging.Level,
			Development: cfg.Logging.Development,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
	}

	logger.Info("Initializing termbroker",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("platform", terminal.Platform()),
	)

	metrics := monitoring.NewMetrics()
	tracer := tracing.New("termbroker", logger.Logger)

	spawner := o.spawner
	if spawner == nil {
		spawner = terminal.NewPTYSpawner(logger.Logger, terminal.SpawnerConfig{
			FailureThreshold: cfg.Terminal.SpawnFailureThreshold,
			Cooldown:         cfg.Terminal.SpawnCooldown.Std(),
		}).WithMetrics(metrics)
	}

	broker := terminal.NewBroker(spawner, logger.Logger, terminal.Options{
		DrainTimeout:   cfg.Terminal.DrainTimeout.Std(),
		ReadBufferSize: cfg.Terminal.ReadBufferSize,
	}).WithMetrics(metrics)

	stream := ws.NewHandler(broker, logger.Logger, metrics, ws.Config{
		WriteTimeout:   cfg.Stream.WriteTimeout.Std(),
		PingInterval:   cfg.Stream.PingInterval.Std(),
		MaxMessageSize: cfg.Stream.MaxMessageSize,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))

	cors := middleware.DefaultCORSConfig()
	cors.AllowOrigins = cfg.Server.AllowedOrigins
	router.Use(middleware.CORS(cors))

	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		limits := middleware.DefaultRateLimitConfig()
		limits.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		limits.Burst = cfg.RateLimit.Burst
		router.Use(middleware.RateLimit(limits))
	}

	handlers := apihttp.NewHandlers(broker, metrics, logger.Logger)

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/platform", handlers.Platform)

	// Sessions
	router.GET("/sessions", handlers.ListSessions)
	router.POST("/sessions/teardown", handlers.Teardown)
	router.GET("/sessions/:id", handlers.GetSession)
	router.POST("/sessions/:id/input", handlers.SendInput)
	router.POST("/sessions/:id/resize", handlers.ResizeSession)
	router.DELETE("/sessions/:id", handlers.KillSession)

	// WebSocket
	router.GET("/stream", stream.HandleConnection)

	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	logger.Info("Server initialized successfully")

	return &Server{
		router: router,
		httpServer: &http.Server{
			Addr:    cfg.Server.Addr(),
			Handler: router,
		},
		broker:  broker,
		stream:  stream,
		tracer:  tracer,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}, nil
}

// Handler returns the HTTP handler with every route registered.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Broker returns the session broker.
func (s *Server) Broker() *terminal.Broker {
	return s.broker
}

// Run listens on the configured address and serves until Close.
func (s *Server) Run() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Close.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("Starting HTTP server", zap.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ApplyConfig applies the settings that can change without a restart.
func (s *Server) ApplyConfig(cfg *config.Config) {
	if err := s.logger.SetLevel(cfg.Logging.Level); err != nil {
		s.logger.Warn("Ignoring invalid log level", zap.String("level", cfg.Logging.Level), zap.Error(err))
	}
}

// Close kills every session, disconnects streams and shuts the HTTP
// server down. Safe to call more than once.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.logger.Info("Shutting down server...")

		s.broker.Close()
		s.stream.Close()

		ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout.Std())
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("Failed to shut down HTTP server", zap.Error(err))
			s.closeErr = fmt.Errorf("failed to shut down HTTP server: %w", err)
		}

		s.tracer.Close()
		_ = s.logger.Sync()
	})
	return s.closeErr
}
