package handler

import (
	"anchor-payout/internal/adapter/http/middleware"
	"anchor-payout/internal/core/ports"
	"anchor-payout/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	OperatorSvc    ports.OperatorService
	TokenSvc       ports.TokenService
	RateLimitStore middleware.Limiter // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	AuditSvc       ports.AuditService // nil = rejected-request auditing disabled
	Metrics        *metrics.Metrics   // nil = request metrics disabled
	Gatherer       prometheus.Gatherer
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()

	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger))
	if deps.Metrics != nil {
		r.Use(middleware.Metrics(deps.Metrics))
	}
	r.Use(middleware.MaxBodySize(1 << 20))

	r.GET("/health", HealthCheck(deps.HealthCheckers...))
	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(metrics.Handler(deps.Gatherer)))
	}

	rules := middleware.DefaultRateLimitRules()
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	chain := []gin.HandlerFunc{middleware.JWTAuth(deps.TokenSvc, deps.Logger)}
	if deps.AuditSvc != nil {
		// Registered before the handlers so it sees the final status.
		chain = append([]gin.HandlerFunc{middleware.AuditRejected(deps.AuditSvc)}, chain...)
	}

	h := NewOpsHandler(deps.OperatorSvc)
	ops := r.Group("/api/v1/ops", chain...)
	{
		ops.GET("/inbox", rl("ops_read"), h.ListEntries)
		ops.GET("/inbox/stuck", rl("ops_read"), h.ListStuck)
		ops.GET("/inbox/:id", rl("ops_read"), h.GetEntry)
		ops.GET("/stats", rl("ops_read"), h.Stats)
		ops.GET("/transactions/:reference", rl("ops_read"), h.GetTransaction)

		ops.POST("/inbox/:id/retry", rl("ops_write"), h.RetryEntry)
		ops.POST("/inbox/retry-failed", rl("ops_bulk"), h.RetryFailed)
		ops.POST("/transactions/:reference/reopen", rl("ops_write"), h.ReopenTransaction)
	}

	return r
}
