package router

import (
	"context"
	"net/http"
	"time"

	apphttp "crm_dialog_relay/internal/http"
	"crm_dialog_relay/platform/httpkit"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const healthTimeout = 2 * time.Second

// New builds the gin engine, mounts shared middleware and lets every module
// register its routes.
func New(app *apphttp.App) *gin.Engine {
	cfg := app.Config
	log := app.Logger

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(httpkit.RequestID())
	engine.Use(httpkit.RequestLogger(log))

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "X-Admin-API-Key", "X-Request-ID")
	if origins := cfg.GetCORSOrigins(); len(origins) > 0 {
		corsCfg.AllowOrigins = origins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	engine.Use(cors.New(corsCfg))

	engine.GET("/api/health", func(c *gin.Context) {
		if app.Health != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
			defer cancel()
			if err := app.Health.Ping(ctx); err != nil {
				log.DatabaseError("health ping", err)
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	webhookLimit := cfg.GetWebhookRateLimit()
	if webhookLimit <= 0 {
		webhookLimit = 20
	}
	limiter := httpkit.NewIPRateLimiter(rate.Limit(webhookLimit), int(webhookLimit)*2, log)

	rc := &apphttp.RouterContext{
		Engine:   engine,
		Webhooks: engine.Group("/webhook", limiter.RateLimit()),
		V1:       engine.Group("/api/v1"),
	}
	if key := cfg.GetAdminAPIKey(); key != "" {
		rc.Admin = rc.V1.Group("", httpkit.APIKeyRequired(key))
	} else {
		log.Warn("ADMIN_API_KEY not configured; admin endpoints disabled")
	}

	for _, m := range app.Modules {
		m.RegisterRoutes(rc)
		log.Info("module routes registered", "module", m.Name())
	}

	return engine
}
