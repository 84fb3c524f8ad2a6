// Package api exposes the monitor's world model and session controls over
// a REST API, plus Prometheus metrics.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/GrizzlyOne95/Battlezone-LobbyMonitor/internal/config"
	"github.com/GrizzlyOne95/Battlezone-LobbyMonitor/internal/events"
	"github.com/GrizzlyOne95/Battlezone-LobbyMonitor/internal/session"
	"github.com/GrizzlyOne95/Battlezone-LobbyMonitor/internal/store"
	"github.com/GrizzlyOne95/Battlezone-LobbyMonitor/internal/world"
)

// Server is the REST API server for the lobby monitor.
type Server struct {
	cfg   *config.Config
	bus   *events.EventBus
	model *world.Model
	sess  *session.Session

	// recorder is optional; history endpoints 404 without it.
	recorder *store.Recorder

	httpServer *http.Server
	router     *gin.Engine
	metrics    *Metrics
	startedAt  time.Time
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, bus *events.EventBus, model *world.Model, sess *session.Session) *Server {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	return &Server{
		cfg:       cfg,
		bus:       bus,
		model:     model,
		sess:      sess,
		metrics:   NewMetrics(),
		startedAt: time.Now(),
	}
}

// SetRecorder injects the optional history recorder.
func (s *Server) SetRecorder(r *store.Recorder) {
	s.recorder = r
}

// Start runs the API server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.metrics.Observe(s.bus)

	s.router = s.buildRouter()

	addr := fmt.Sprintf(":%d", s.cfg.API.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Info().Str("addr", addr).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := s.cfg.API.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Must be false when AllowOrigins is "*"
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/metrics", s.metrics.Handler())

	api := router.Group("/api")
	{
		api.GET("/ping", s.handlePing)
		api.GET("/status", s.handleStatus)

		api.GET("/lobbies", s.handleGetLobbies)
		api.GET("/lobbies/:id", s.handleGetLobby)
		api.GET("/lobbies/:id/players", s.handleGetPlayers)
		api.GET("/lobbies/:id/chat", s.handleGetChat)
		api.GET("/lobbies/:id/history", s.handleGetChatHistory)
		api.GET("/players/:id", s.handleGetPlayer)

		api.POST("/session/join", s.handleJoin)
		api.POST("/session/leave", s.handleLeave)
		api.POST("/session/chat", s.handleSay)
		api.POST("/session/create", s.handleCreate)
		api.POST("/session/refresh", s.handleRefresh)
	}

	return router
}
