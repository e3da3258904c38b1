package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"anchor-payout/internal/core/domain"
	"anchor-payout/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AuditRejected records operator write requests that were refused.
// Successful writes are audited by the operator service itself, which has
// the domain details.
func AuditRejected(auditSvc ports.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		status := c.Writer.Status()
		if status < http.StatusBadRequest || status >= http.StatusInternalServerError {
			return
		}
		if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead || c.Request.Method == http.MethodOptions {
			return
		}

		resourceType := resourceTypeOf(c.FullPath())
		if resourceType == "" {
			return
		}

		details, _ := json.Marshal(map[string]interface{}{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"status": status,
		})

		actor := c.GetString(CtxSubject)
		if actor == "" {
			actor = "anonymous"
		}

		auditSvc.Log(c.Request.Context(), &domain.AuditLog{
			ID:           uuid.New(),
			Actor:        actor,
			Action:       domain.AuditActionRejectedRequest,
			ResourceType: resourceType,
			ResourceID:   resourceIDOf(c),
			IPAddress:    c.ClientIP(),
			Details:      string(details),
			CreatedAt:    time.Now().UTC(),
		})
	}
}

func resourceTypeOf(route string) string {
	switch route {
	case "/api/v1/ops/inbox/:id/retry", "/api/v1/ops/inbox/retry-failed":
		return "inbox"
	case "/api/v1/ops/transactions/:reference/reopen":
		return "transaction"
	}
	return ""
}

func resourceIDOf(c *gin.Context) string {
	if id := c.Param("id"); id != "" {
		return id
	}
	return c.Param("reference")
}
