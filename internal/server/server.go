package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"roomcast/config"
	"roomcast/internal/events"
	"roomcast/internal/middleware"
	"roomcast/internal/services"
	"roomcast/internal/transport/httpdto"
	"roomcast/internal/websocket"
	"roomcast/pkg/database"
	"roomcast/pkg/logger"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	config     *config.Config
	logger     *logger.Logger
	deps       *Dependencies
}

var (
	ReleaseMode = "release"
	DebugMode   = "debug"
	TestMode    = "test"
)

// Dependencies are the long-lived components the HTTP surface serves and
// shuts down.
type Dependencies struct {
	DB        *gorm.DB
	Broker    events.Broker
	Registry  *websocket.Registry
	Bus       *websocket.Bus
	WebSocket *websocket.Handler
	Auth      *services.AuthService
}

// New creates a server with its gin engine and middleware
func New(cfg *config.Config, l *logger.Logger) *Server {
	if cfg.AppMode == ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	} else if cfg.AppMode == TestMode {
		gin.SetMode(gin.TestMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	if l == nil {
		l = logger.NewNop()
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	return &Server{
		httpServer: &http.Server{
			Addr:    fmt.Sprintf(":%s", cfg.AppPort),
			Handler: engine,
		},
		engine: engine,
		config: cfg,
		logger: l,
	}
}

// Engine exposes the router, mainly for httptest.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) SetupRoutes(deps *Dependencies) {
	s.deps = deps

	s.engine.Use(middleware.RequestIDMiddleware())
	s.engine.Use(middleware.LoggingMiddleware(s.logger))
	s.engine.Use(middleware.ErrorHandler(s.logger))

	s.engine.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"message": "pong"}))
	})
	s.engine.GET("/health", s.health)
	s.engine.GET("/ws", middleware.AuthMiddleware(deps.Auth), deps.WebSocket.Connect)
}

func (s *Server) health(c *gin.Context) {
	status := httpdto.HealthStatus{
		Status:     "healthy",
		InstanceID: s.config.InstanceID,
		Checks:     map[string]string{"database": "ok", "broker": "ok"},
		Conns:      s.deps.Registry.Count(),
	}
	ctx := c.Request.Context()
	if err := database.HealthCheck(ctx, s.deps.DB); err != nil {
		status.Status = "unhealthy"
		status.Checks["database"] = err.Error()
	}
	if err := s.deps.Broker.Ping(ctx); err != nil {
		// cross-instance fan-out is degraded, local delivery still works
		status.Status = "degraded"
		status.Checks["broker"] = err.Error()
	}

	code := http.StatusOK
	if status.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, httpdto.NewSuccessResponse(status))
}

// Start serves until SIGINT or SIGTERM, then shuts down gracefully.
func (s *Server) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	return s.Run(ctx)
}

// Run serves until ctx is cancelled. On shutdown it stops accepting
// handshakes, closes every live connection and gives the broadcast listener
// the configured grace period to finish in-flight deliveries.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("Starting the server on port %s...", s.config.AppPort)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			s.logger.Errorf("Error in starting the server: %s", err)
			return err
		}
		return nil
	case <-ctx.Done():
	}

	grace := time.Duration(s.config.ShutdownGrace) * time.Second
	if grace <= 0 {
		grace = 5 * time.Second
	}
	s.logger.Infof("Quitting signal received.. Shutting down within %s", grace)
	return s.Shutdown(grace)
}

func (s *Server) Shutdown(grace time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Errorf("Error in the graceful shutdown of the server: %s", err)
		errs = append(errs, err)
	}
	if s.deps != nil {
		// hijacked websocket connections are not closed by http.Server.Shutdown
		for _, conn := range s.deps.Registry.All() {
			conn.Close()
		}
		if err := s.deps.Bus.Stop(grace); err != nil {
			s.logger.Warnf("Broadcast listener: %s", err)
			errs = append(errs, err)
		}
	}

	if len(errs) == 0 {
		s.logger.Infof("Server stopped gracefully")
	}
	return errors.Join(errs...)
}
