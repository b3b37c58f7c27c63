package main

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ehr/apptsched/internal/config"
	"github.com/ehr/apptsched/internal/domain/booking"
	"github.com/ehr/apptsched/internal/platform/auth"
	"github.com/ehr/apptsched/internal/platform/db"
	"github.com/ehr/apptsched/internal/platform/middleware"
	"github.com/ehr/apptsched/internal/platform/telemetry"
)

const version = "0.1.0"

// newServer wires middleware and routes. It does not start listening.
func newServer(cfg *config.Config, logger zerolog.Logger, svc *booking.Service, metrics *telemetry.Provider, st *stores) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(metrics.MetricsMiddleware())
	e.Use(telemetry.TracingMiddleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))

	// Auth middleware
	if cfg.AuthEnabled() {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	} else {
		logger.Warn().Msg("no AUTH_SIGNING_KEY or AUTH_JWKS_URL, requests carry the dev-user identity unauthenticated")
		e.Use(auth.DevAuthMiddleware())
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	var poolStats func() *db.PoolStats
	if st.pool != nil {
		pool := st.pool
		poolStats = func() *db.PoolStats { return db.GetPoolStats(pool) }
	}
	e.GET("/health/db", db.HealthHandler(st.pingers(), poolStats))
	e.GET("/metrics", metrics.Handler())

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           middleware.DefaultRateLimitConfig().IdleTTL,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1 := e.Group("/api/v1", middleware.RateLimit(rateLimitCfg))
	booking.NewHandler(svc).RegisterRoutes(apiV1)

	return e
}
