// Package api exposes the cohort editor over HTTP: REST endpoints for
// cohort and phenotype editing, SSE relays for execution and chat streams,
// and a WebSocket feed of model change events.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/phenex-cohort-server/internal/config"
	"github.com/phenex-cohort-server/internal/domain"
	"github.com/phenex-cohort-server/internal/feedback"
	"github.com/phenex-cohort-server/internal/middleware"
	"github.com/phenex-cohort-server/internal/session"
)

// Codelists is the codelist library surface the API exposes.
type Codelists interface {
	ListCodelists(ctx context.Context, cohortID string) ([]domain.Codelist, error)
	UploadCodelist(ctx context.Context, cohortID string, codelist *domain.Codelist) (*domain.Codelist, error)
}

// Server represents the HTTP server.
type Server struct {
	configManager *config.Manager
	sessions      *session.Manager
	codelists     Codelists
	feedback      feedback.Store
	log           *logrus.Logger
	router        *gin.Engine
	server        *http.Server
	hub           *hub
}

// NewServer creates a new HTTP server instance. feedbackStore may be nil, in
// which case suggestion decisions are not recorded.
func NewServer(configManager *config.Manager, sessions *session.Manager, codelists Codelists, feedbackStore feedback.Store, log *logrus.Logger) *Server {
	cfg := configManager.GetConfig()

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(requestIDMiddleware())
	router.Use(middleware.AuditLogger())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(cfg.Server.AllowedOrigins))
	router.Use(middleware.SecurityHeaders())

	server := &Server{
		configManager: configManager,
		sessions:      sessions,
		codelists:     codelists,
		feedback:      feedbackStore,
		log:           log,
		router:        router,
		hub:           newHub(log),
	}

	server.setupRoutes()
	return server
}

// Start starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.configManager.GetServerConfig()
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes.
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ws/:id", s.handleWebSocket)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/cohorts", s.handleCreateCohort)
		v1.GET("/cohorts/:id", s.handleGetCohort)
		v1.PUT("/cohorts/:id", s.handleSaveCohort)
		v1.DELETE("/cohorts/:id", s.handleDeleteCohort)
		v1.GET("/cohorts/:id/issues", s.handleValidateCohort)

		v1.POST("/cohorts/:id/phenotypes", s.handleAddPhenotype)
		v1.DELETE("/cohorts/:id/phenotypes/:pid", s.handleDeletePhenotype)
		v1.PATCH("/cohorts/:id/phenotypes/:pid", s.handleUpdateCell)
		v1.POST("/cohorts/:id/reorder", s.handleReorder)
		v1.POST("/cohorts/:id/filter", s.handleFilterType)

		v1.PUT("/cohorts/:id/constants/:name", s.handleSetConstant)
		v1.DELETE("/cohorts/:id/constants/:name", s.handleDeleteConstant)
		v1.POST("/cohorts/:id/constants/reorder", s.handleReorderConstants)

		v1.GET("/cohorts/:id/codelists", s.handleListCodelists)
		v1.POST("/cohorts/:id/codelists", s.handleUploadCodelist)

		v1.POST("/cohorts/:id/execute", s.handleExecute)
		v1.POST("/cohorts/:id/chat", s.handleChat)
		v1.POST("/cohorts/:id/chat/retry", s.handleChatRetry)
		v1.GET("/cohorts/:id/chat/history", s.handleChatHistory)
		v1.POST("/cohorts/:id/accept", s.handleAccept)
		v1.POST("/cohorts/:id/reject", s.handleReject)
		v1.GET("/cohorts/:id/feedback", s.handleListFeedback)
		v1.GET("/feedback/export", s.handleExportFeedback)
	}
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
		"sessions":  s.sessions.Len(),
	})
}

// corsMiddleware adds CORS headers to responses.
func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case allowAll:
			c.Header("Access-Control-Allow-Origin", "*")
		case allowed[origin]:
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, X-API-Key")
		c.Header("Access-Control-Expose-Headers", "Content-Length")
		c.Header("Access-Control-Allow-Credentials", "true")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestIDMiddleware adds a unique request ID to each request.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header("X-Request-ID", requestID)
		c.Set("request_id", requestID)
		c.Next()
	}
}
