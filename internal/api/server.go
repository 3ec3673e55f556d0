package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/branchline/internal/eventlog"
	"github.com/branchline/internal/queue"
	"github.com/branchline/internal/registry"
	"github.com/branchline/internal/runtime"
)

// Deps are the components the API serves
type Deps struct {
	Registry   *registry.Registry
	Queue      *queue.Manager
	Controller *runtime.Controller
	Events     *eventlog.Log
	Auth       AuthConfig
}

// Server represents the API server
type Server struct {
	echo *echo.Echo
	port int
	deps Deps
}

// NewServer creates a new API server
func NewServer(port int, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	server := &Server{
		echo: e,
		port: port,
		deps: deps,
	}

	server.setupRoutes()

	return server
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	v1 := s.echo.Group("/api/v1", RequireWorkspace(s.deps.Auth))

	v1.POST("/threads", s.createThread)
	v1.GET("/threads", s.listThreads)
	v1.GET("/threads/:threadId", s.getThread)
	v1.POST("/threads/:threadId/forks", s.forkBranch)
	v1.PUT("/threads/:threadId/pin", s.pinBranch)

	branches := v1.Group("/branches/:branchId")
	branches.GET("", s.getBranch)
	branches.GET("/messages", s.listMessages)
	branches.POST("/messages", s.sendMessage)
	branches.GET("/runs", s.listRuns)
	branches.GET("/queue", s.listQueue)
	branches.PUT("/queue", s.reorderQueue)
	branches.DELETE("/queue/:itemId", s.cancelQueueItem)
	branches.POST("/interrupt", s.interrupt)
	branches.GET("/decisions", s.listDecisions)
	branches.POST("/decisions/:decisionId/resolve", s.resolveDecision)
	branches.GET("/events", s.listEvents)
	branches.GET("/events/ws", s.streamEvents)
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	log.Info().Int("port", s.port).Msg("Starting API server")
	if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
