// Package api exposes the engine's operations over HTTP. The desktop
// shell is the only intended client; the surface mirrors the engine's
// message-style operations one to one.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/r3nzsec/irflow-timeline/internal/engine"
	"github.com/r3nzsec/irflow-timeline/internal/logging"
	"github.com/r3nzsec/irflow-timeline/internal/ratelimit"
	"github.com/r3nzsec/irflow-timeline/pkg/config"
)

// Server is the REST API server.
type Server struct {
	router     *gin.Engine
	engine     *engine.Engine
	config     *config.Config
	httpServer *http.Server
	log        *logging.Logger
}

// NewServer creates the REST API server around an engine.
func NewServer(eng *engine.Engine, cfg *config.Config) *Server {
	log := logging.GetLogger("api")
	log.Info("initializing REST API server")

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	if cfg.RestAPI.CORS {
		log.Debug("enabling CORS")
		corsConfig := cors.Config{
			AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "X-API-Key"},
			ExposeHeaders: []string{"Content-Length", "Retry-After"},
			MaxAge:        12 * time.Hour,
		}
		if len(cfg.RestAPI.AllowOrigins) > 0 {
			corsConfig.AllowOrigins = cfg.RestAPI.AllowOrigins
		} else {
			// Local desktop shell origins only by default.
			corsConfig.AllowOrigins = []string{
				"http://localhost:*",
				"http://127.0.0.1:*",
				"tauri://localhost",
				"app://.",
			}
			corsConfig.AllowWildcard = true
		}
		router.Use(cors.New(corsConfig))
	}

	if cfg.RestAPI.APIKey != "" {
		log.Info("API key authentication enabled")
		router.Use(APIKeyAuthMiddleware(cfg.RestAPI.APIKey))
	}

	if cfg.RateLimit.Enabled {
		log.Info("rate limiting enabled")
		router.Use(RateLimitMiddleware(ratelimit.NewLimiter(&cfg.RateLimit)))
	}

	server := &Server{
		router: router,
		engine: eng,
		config: cfg,
		log:    log,
	}
	server.setupRoutes()
	return server
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1")
	{
		api.GET("/health", s.healthHandler)

		// Tab lifecycle and import queue
		api.GET("/tabs", s.listTabs)
		api.DELETE("/tabs/:id", s.closeTab)
		api.POST("/import", s.importFile)
		api.GET("/import/queue", s.importQueue)
		api.DELETE("/import/active", s.cancelImport)
		api.GET("/import/events", s.importEvents)

		// Query surface
		api.POST("/tabs/:id/query", s.queryTab)
		api.POST("/tabs/:id/values/:column", s.uniqueValues)
		api.POST("/tabs/:id/groups", s.groupValues)

		// Bookmarks and tags
		api.POST("/tabs/:id/bookmarks/:rowId", s.toggleBookmark)
		api.POST("/tabs/:id/bookmarks", s.bulkBookmarks)
		api.POST("/tabs/:id/tags", s.tagRows)
		api.DELETE("/tabs/:id/tags", s.untagRows)
		api.GET("/tabs/:id/tags", s.tagLabels)

		// Analytics
		api.POST("/tabs/:id/analytics/histogram", s.histogram)
		api.POST("/tabs/:id/analytics/gaps", s.gaps)
		api.POST("/tabs/:id/analytics/bursts", s.bursts)
		api.POST("/tabs/:id/analytics/coverage", s.coverage)
		api.POST("/tabs/:id/analytics/stacking", s.stacking)
		api.POST("/tabs/:id/analytics/ioc", s.matchIOCs)
		api.POST("/tabs/:id/analytics/process-tree", s.processTree)
		api.POST("/tabs/:id/analytics/lateral", s.lateralMovement)
		api.POST("/tabs/:id/analytics/persistence", s.persistenceScan)

		// Merge, export, report
		api.POST("/merge", s.mergeTabs)
		api.POST("/tabs/:id/export", s.exportTab)
		api.POST("/tabs/:id/report", s.reportTab)

		// Sessions and presets
		api.POST("/session/save", s.saveSession)
		api.POST("/session/load", s.loadSession)
		api.GET("/presets", s.getPresets)
		api.PUT("/presets", s.putPresets)
	}
}

// Start begins serving. With auto_port enabled, a taken port falls
// through to an OS-assigned one.
func (s *Server) Start() (int, error) {
	addr := fmt.Sprintf("%s:%d", s.config.RestAPI.Host, s.config.RestAPI.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if !s.config.RestAPI.AutoPort {
			return 0, fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
		ln, err = net.Listen("tcp", fmt.Sprintf("%s:0", s.config.RestAPI.Host))
		if err != nil {
			return 0, fmt.Errorf("failed to listen: %w", err)
		}
	}

	port := ln.Addr().(*net.TCPAddr).Port
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("server error", "error", err)
		}
	}()

	s.log.Info("REST API listening", "host", s.config.RestAPI.Host, "port", port)
	return port, nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// healthHandler reports liveness plus tab counts.
func (s *Server) healthHandler(c *gin.Context) {
	SuccessResponse(c, "ok", gin.H{
		"tabs":  len(s.engine.Tabs()),
		"queue": s.engine.ImportQueue(),
	})
}
