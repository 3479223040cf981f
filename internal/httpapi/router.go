// Package httpapi wires the relay HTTP surface: route registration,
// middleware (CORS, rate limiting, Prometheus), and the handlers for the
// manifest, seal, tenancy, and audit endpoints plus the supplemented root
// and combined health endpoints.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Deps bundles every handler Router needs to register routes.
type Deps struct {
	Manifest *ManifestHandler
	Seal     *SealHandler
	Tenancy  *TenancyHandler
	Audit    *AuditHandler

	DB     *pgxpool.Pool
	Policy policyHealthChecker

	CORSOrigins    []string
	RateLimitRPS   int
	RateLimitBurst int

	Logger *zap.Logger
}

// NewRouter builds the full Gin engine: middleware stack, v1 route group,
// and the supplemented root/health/metrics endpoints.
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(d.Logger))
	r.Use(PrometheusMiddleware())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowOrigins = d.CORSOrigins
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	r.Use(cors.New(corsCfg))

	r.GET("/", rootHandler)
	r.GET("/health", healthHandler(d.DB, d.Policy))
	r.GET("/metrics", MetricsHandler())

	v1 := r.Group("/v1")
	limited := v1.Group("")
	limited.Use(RateLimiter(d.RateLimitRPS, d.RateLimitBurst))
	{
		d.Manifest.Register(limited)
		d.Seal.Register(limited)
	}
	d.Tenancy.Register(v1)
	d.Audit.Register(v1)

	return r
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if logger == nil {
			return
		}
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

// rootHandler handles GET / — a service descriptor, mirroring the original
// gateway's main.py root endpoint.
func rootHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "relay",
		"status":  "ok",
	})
}

// healthHandler handles GET /health — checks the database and policy
// evaluator independently and reports both, matching the original
// gateway's combined liveness check.
func healthHandler(db *pgxpool.Pool, policy policyHealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		dbOK := db.Ping(ctx) == nil
		policyOK := policy == nil || policy.HealthCheck(ctx)

		status := http.StatusOK
		if !dbOK || !policyOK {
			status = http.StatusServiceUnavailable
		}

		c.JSON(status, gin.H{
			"status": map[bool]string{true: "ok", false: "unavailable"}[dbOK && policyOK],
			"checks": gin.H{
				"database":        dbOK,
				"policy_evaluator": policyOK,
			},
		})
	}
}
