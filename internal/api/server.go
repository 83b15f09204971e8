package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"taillogs/internal/api/handlers"

	"github.com/gin-gonic/gin"
	"github.com/pterm/pterm"
)

// Server represents the HTTP server
type Server struct {
	router *gin.Engine
	server *http.Server
	logger *pterm.Logger
}

// Config holds server configuration
type Config struct {
	Host           string
	Port           int
	Production     bool
	UpdateInterval time.Duration // Poll interval advertised to clients
	NodeName       func() string
}

// NewServer creates a new HTTP server
func NewServer(cfg *Config, tailHandler *handlers.TailHandler, statsHandler *handlers.StatsHandler, logger *pterm.Logger) *Server {
	if cfg.Production {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	// Middleware
	if !cfg.Production {
		router.Use(gin.Logger())
	}
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	// Health check
	router.GET("/health", func(c *gin.Context) {
		body := gin.H{
			"status":             "healthy",
			"timestamp":          time.Now(),
			"update_interval_ms": cfg.UpdateInterval.Milliseconds(),
		}
		if cfg.NodeName != nil {
			body["node"] = cfg.NodeName()
		}
		c.JSON(http.StatusOK, body)
	})

	api := router.Group("/api/v1")
	{
		api.GET("/poll", tailHandler.Poll)
		api.GET("/filters", tailHandler.GetFilters)
		api.POST("/filters", tailHandler.SetFilters)
		api.POST("/reset", tailHandler.Reset)
		api.GET("/stats", statsHandler.GetStats)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return &Server{
		router: router,
		server: &http.Server{
			Addr:           addr,
			Handler:        router,
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   60 * time.Second,
			MaxHeaderBytes: 1 << 20,
		},
		logger: logger,
	}
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run starts the HTTP server
func (s *Server) Run() error {
	s.logger.Info("Starting web server", s.logger.Args("address", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.WithCaller().Error("Web server failed", s.logger.Args("error", err))
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down web server...")
	return s.server.Shutdown(ctx)
}

// corsMiddleware adds CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Taillogs-Warning")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
