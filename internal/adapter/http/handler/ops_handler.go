package handler

import (
	"errors"
	"io"
	"time"

	"anchor-payout/internal/adapter/http/dto"
	"anchor-payout/internal/adapter/http/middleware"
	"anchor-payout/internal/core/domain"
	"anchor-payout/internal/core/ports"
	"anchor-payout/pkg/apperror"
	"anchor-payout/pkg/response"

	"github.com/gin-gonic/gin"
)

// OpsHandler serves the operator recovery API.
type OpsHandler struct {
	opsSvc ports.OperatorService
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(opsSvc ports.OperatorService) *OpsHandler {
	return &OpsHandler{opsSvc: opsSvc}
}

// ListEntries handles GET /api/v1/ops/inbox.
func (h *OpsHandler) ListEntries(c *gin.Context) {
	var q dto.ListInboxQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	params := ports.InboxListParams{Reference: q.Reference, Limit: q.Limit, Offset: q.Offset}
	if q.Status != "" {
		status := domain.InboxStatus(q.Status)
		params.Status = &status
	}

	entries, err := h.opsSvc.ListEntries(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.List(c, entries, len(entries))
}

// ListStuck handles GET /api/v1/ops/inbox/stuck.
func (h *OpsHandler) ListStuck(c *gin.Context) {
	var q dto.StuckQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	var olderThan time.Duration
	if q.OlderThan != "" {
		olderThan, _ = time.ParseDuration(q.OlderThan)
	}

	entries, err := h.opsSvc.ListStuck(c.Request.Context(), olderThan, q.Limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.List(c, entries, len(entries))
}

// GetEntry handles GET /api/v1/ops/inbox/:id.
func (h *OpsHandler) GetEntry(c *gin.Context) {
	var uri dto.EntryURI
	if err := c.ShouldBindUri(&uri); err != nil {
		response.Error(c, apperror.Validation("id must be a positive integer"))
		return
	}

	entry, err := h.opsSvc.GetEntry(c.Request.Context(), uri.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, entry)
}

// Stats handles GET /api/v1/ops/stats.
func (h *OpsHandler) Stats(c *gin.Context) {
	stats, err := h.opsSvc.Stats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, stats)
}

// RetryEntry handles POST /api/v1/ops/inbox/:id/retry.
func (h *OpsHandler) RetryEntry(c *gin.Context) {
	var uri dto.EntryURI
	if err := c.ShouldBindUri(&uri); err != nil {
		response.Error(c, apperror.Validation("id must be a positive integer"))
		return
	}

	entry, err := h.opsSvc.RetryEntry(c.Request.Context(), middleware.Actor(c), uri.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, entry)
}

// RetryFailed handles POST /api/v1/ops/inbox/retry-failed. The body is
// optional.
func (h *OpsHandler) RetryFailed(c *gin.Context) {
	var req dto.RetryFailedRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	summary, err := h.opsSvc.RetryFailed(c.Request.Context(), middleware.Actor(c), req.Limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, summary)
}

// GetTransaction handles GET /api/v1/ops/transactions/:reference.
func (h *OpsHandler) GetTransaction(c *gin.Context) {
	var uri dto.ReferenceURI
	if err := c.ShouldBindUri(&uri); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	txn, err := h.opsSvc.GetTransaction(c.Request.Context(), uri.Reference)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, txn)
}

// ReopenTransaction handles POST /api/v1/ops/transactions/:reference/reopen.
func (h *OpsHandler) ReopenTransaction(c *gin.Context) {
	var uri dto.ReferenceURI
	if err := c.ShouldBindUri(&uri); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	txn, err := h.opsSvc.ReopenTransaction(c.Request.Context(), middleware.Actor(c), uri.Reference)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, txn)
}
