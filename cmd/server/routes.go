package main

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/muoit/CLIProxyAPI-Monitor/internal/middleware"
	"github.com/muoit/CLIProxyAPI-Monitor/pkg/logger"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, svc *appServices) {
	// Middleware
	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.CORS())

	// Login attempts and manual syncs are the two abusable endpoints.
	loginLimiter := middleware.NewRateLimiter(2, 5)
	syncLimiter := middleware.NewRateLimiter(0.5, 2)

	// Public liveness probe
	r.GET("/health", svc.healthHandler.Liveness)

	// API routes
	api := r.Group("/api")
	{
		// Auth routes (public)
		auth := api.Group("/auth", loginLimiter.Middleware())
		{
			auth.POST("/login", svc.authHandler.Login)
			auth.POST("/refresh", svc.authHandler.Refresh)
		}

		// Protected routes
		protected := api.Group("")
		protected.Use(middleware.AuthRequired())
		{
			// Auth
			protected.GET("/auth/me", svc.authHandler.GetCurrentUser)
			protected.POST("/auth/logout", svc.authHandler.Logout)
			protected.POST("/auth/change-password", svc.authHandler.ChangePassword)

			// Usage analytics (the dashboard's UI contract)
			protected.GET("/usage/overview", svc.usageHandler.Overview)
			protected.GET("/usage/explore", svc.usageHandler.Explore)

			// Price catalogue (read for all users)
			protected.GET("/prices", svc.priceHandler.List)

			// Sync status
			protected.GET("/sync/status", svc.syncHandler.Status)

			// Insights
			protected.GET("/insights/summary", svc.insightsHandler.Summary)

			// Operations
			protected.GET("/health", svc.healthHandler.CheckHealth)
			protected.GET("/metrics", svc.metricsHandler.Metrics)
		}

		// Admin only routes
		admin := api.Group("")
		admin.Use(middleware.AuthRequired(), middleware.AdminRequired(), middleware.AuditLog())
		{
			// Price catalogue (write operations)
			admin.PUT("/prices", svc.priceHandler.Upsert)
			admin.DELETE("/prices/:model", svc.priceHandler.Delete)

			// Manual sync and bulk reset
			admin.POST("/sync", syncLimiter.Middleware(), svc.syncHandler.Trigger)
			admin.POST("/events/reset", svc.syncHandler.ResetEvents)

			// Sync settings
			admin.GET("/system-config/sync", svc.systemConfigHandler.GetSyncSettings)
			admin.PUT("/system-config/sync", svc.systemConfigHandler.UpdateSyncSettings)

			// System logs
			admin.GET("/system-logs", svc.systemLogHandler.List)
			admin.GET("/system-logs/modules", svc.systemLogHandler.GetModules)
			admin.GET("/system-logs/retention", svc.systemLogHandler.GetRetention)
			admin.PUT("/system-logs/retention", svc.systemLogHandler.UpdateRetention)
			admin.POST("/system-logs/cleanup", svc.systemLogHandler.Cleanup)

			// Users
			admin.GET("/users", svc.userHandler.List)
			admin.PUT("/users/:id", svc.userHandler.Update)
			admin.DELETE("/users/:id", svc.userHandler.Delete)
		}
	}

	registerStatic(r, svc.cfg.Server.StaticDir)
}

// registerStatic serves the SPA bundle when a static dir is configured.
// Unknown paths fall back to index.html for client-side routing.
func registerStatic(r *gin.Engine, staticDir string) {
	if staticDir == "" {
		return
	}
	indexPath := filepath.Join(staticDir, "index.html")
	if _, err := os.Stat(indexPath); err != nil {
		logger.Warn().Str("dir", staticDir).Msg("Static dir has no index.html, skipping SPA serving")
		return
	}

	r.GET("/", func(c *gin.Context) {
		c.File(indexPath)
	})
	r.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api") {
			c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "not found"})
			return
		}
		path := filepath.Join(staticDir, filepath.Clean("/"+c.Request.URL.Path))
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			c.File(path)
			return
		}
		c.File(indexPath)
	})
}
