// Package api wires together all HTTP routes for the civil registry backend.
//
// Route grouping:
//   - /api/v1/tracking/public is unauthenticated and guarded by its own rate limiter so
//     control numbers cannot be enumerated cheaply.
//   - /api/v1/auth/login is unauthenticated and guarded by the login limiter.
//   - Everything else under /api/v1 requires a bearer token; the acting user is reloaded
//     from the database on every request and role checks run against the stored role.
package api

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/barangay-registry/civil-registry/internal/api/account"
	"github.com/barangay-registry/civil-registry/internal/api/auditlogs"
	certhandlers "github.com/barangay-registry/civil-registry/internal/api/certificates"
	"github.com/barangay-registry/civil-registry/internal/api/httputil"
	"github.com/barangay-registry/civil-registry/internal/api/tracking"
	"github.com/barangay-registry/civil-registry/internal/audit"
	"github.com/barangay-registry/civil-registry/internal/certificates"
	"github.com/barangay-registry/civil-registry/internal/config"
	"github.com/barangay-registry/civil-registry/internal/db/models"
	"github.com/barangay-registry/civil-registry/internal/db/repositories"
	"github.com/barangay-registry/civil-registry/internal/middleware"
)

// Version is reported by /version; cmd/server overrides it at startup
var Version = "0.1.0"

// BackgroundServices holds resources that must be stopped during graceful shutdown.
// The caller (cmd/server) calls Shutdown after the HTTP server has drained.
type BackgroundServices struct {
	limiters []middleware.Limiter
}

// Shutdown stops the cleanup goroutines of in-memory rate limiters
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	for _, l := range bg.limiters {
		if m, ok := l.(*middleware.MemoryLimiter); ok {
			m.Stop()
		}
	}
	slog.Info("all background services stopped")
}

// Dependencies are the collaborators NewRouter wires into handlers. Redis and Recorder
// may be nil.
type Dependencies struct {
	DB       *sql.DB
	Redis    *redis.Client
	Recorder audit.Recorder
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, deps Dependencies) (*gin.Engine, *BackgroundServices) {
	router := gin.New()

	userRepo := repositories.NewUserRepository(deps.DB)
	auditRepo := repositories.NewAuditRepository(deps.DB)

	sqlxDB := sqlx.NewDb(deps.DB, "postgres")
	certRepo := repositories.NewCertificateRepository(sqlxDB)
	personRepo := repositories.NewPersonRepository(sqlxDB)

	svc := certificates.NewService(certificates.Stores{
		Certificates: certRepo,
		Persons:      personRepo,
		Users:        userRepo,
		History:      auditRepo,
	}, deps.Recorder, certificates.Options{
		MaxControlNumberAttempts: cfg.Certificates.MaxControlNumberAttempts,
		MaxTransitionAttempts:    cfg.Certificates.MaxTransitionAttempts,
	})

	certHandlers := certhandlers.NewHandlers(svc)
	trackingHandlers := tracking.NewHandlers(svc)
	accountHandlers := account.NewHandlers(userRepo, personRepo, cfg.Auth.JWTExpiry)
	auditHandlers := auditlogs.NewHandlers(auditRepo)

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig(cfg.Security.TLS.Enabled)))
	router.Use(httputil.DevMode(cfg.Server.IsDevelopment()))
	router.Use(middleware.AuditContextMiddleware())

	router.GET("/health", healthCheckHandler(deps.DB))
	router.GET("/ready", readinessHandler(deps.DB, deps.Redis))
	router.GET("/version", versionHandler())

	bg := &BackgroundServices{}
	limit := func(name string, policy config.RateLimitPolicy) gin.HandlerFunc {
		if !cfg.Security.RateLimiting.Enabled {
			return func(c *gin.Context) { c.Next() }
		}
		l := middleware.NewLimiter(deps.Redis, name, policy)
		bg.limiters = append(bg.limiters, l)
		return middleware.RateLimitMiddleware(name, l)
	}
	generalLimit := limit("general", cfg.Security.RateLimiting.General)
	trackingLimit := limit("tracking", cfg.Security.RateLimiting.Tracking)
	loginLimit := limit("login", cfg.Security.RateLimiting.Login)

	apiV1 := router.Group("/api/v1")
	{
		apiV1.GET("/tracking/public/:controlNumber", trackingLimit, trackingHandlers.Public())
		apiV1.POST("/auth/login", loginLimit, accountHandlers.Login())

		authenticated := apiV1.Group("")
		authenticated.Use(middleware.AuthMiddleware(userRepo))
		authenticated.Use(generalLimit)
		{
			authenticated.GET("/auth/me", accountHandlers.Me())

			certs := authenticated.Group("/certificates")
			{
				certs.GET("", certHandlers.List())
				certs.POST("", certHandlers.Create())
				certs.GET("/resident/:residentId", certHandlers.ListByResident())
				certs.GET("/:id", certHandlers.Get())
				certs.PATCH("/:id/status", middleware.RequireStaff(), certHandlers.UpdateStatus())
				certs.GET("/:id/audit", middleware.RequireStaff(), certHandlers.History())
			}

			authenticated.GET("/tracking/my-requests", trackingHandlers.MyRequests())
			authenticated.GET("/tracking/my-stats", trackingHandlers.MyStats())

			authenticated.GET("/audit-logs", middleware.RequireRole(models.RoleAdmin), auditHandlers.List())
		}
	}

	return router, bg
}

// @Summary      Health check
// @Description  Returns the health status of the service, including database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, error: database connection failed"
// @Router       /health [get]
// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness check
// @Description  Returns whether the service is ready to accept traffic. Checks the database and, when configured, Redis.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, checks, time"
// @Failure      503  {object}  map[string]interface{}  "ready: false, checks, error"
// @Router       /ready [get]
// readinessHandler returns the readiness status of the service. rdb may be nil when Redis
// is not configured.
func readinessHandler(db *sql.DB, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				checks["redis"] = "unhealthy"
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"checks": checks,
					"error":  "redis not ready",
				})
				return
			}
			checks["redis"] = "healthy"
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      API version
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, api_version"
// @Router       /version [get]
// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured request logging
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}

		requestID, _ := c.Get(middleware.RequestIDKey)
		slog.LogAttrs(
			c.Request.Context(),
			level,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", redactQuery(path, query)),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", latency),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", fmt.Sprintf("%v", requestID)),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}

// redactQuery drops query strings on login requests
func redactQuery(path, query string) string {
	if strings.HasSuffix(path, "/auth/login") {
		return ""
	}
	return query
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	methods := "GET, POST, PATCH, OPTIONS"
	if len(cfg.Security.CORS.AllowedMethods) > 0 {
		methods = strings.Join(cfg.Security.CORS.AllowedMethods, ", ")
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
