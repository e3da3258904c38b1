package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"anchor-payout/internal/core/domain"
	"anchor-payout/internal/core/ports"
	"anchor-payout/internal/core/ports/mocks"
	"anchor-payout/internal/metrics"
	"anchor-payout/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const operatorToken = "Bearer op-token"

type routerDeps struct {
	ops   *mocks.MockOperatorService
	audit *mocks.MockAuditService
	r     *gin.Engine
}

func setupRouter(t *testing.T) *routerDeps {
	t.Helper()
	ctrl := gomock.NewController(t)
	ops := mocks.NewMockOperatorService(ctrl)
	audit := mocks.NewMockAuditService(ctrl)
	tokens := mocks.NewMockTokenService(ctrl)
	tokens.EXPECT().Validate("op-token").
		Return(&ports.TokenClaims{Subject: "alice", Role: domain.RoleOperator}, nil).AnyTimes()

	reg := prometheus.NewRegistry()
	r := SetupRouter(RouterDeps{
		OperatorSvc: ops,
		TokenSvc:    tokens,
		AuditSvc:    audit,
		Metrics:     metrics.New(reg),
		Gatherer:    reg,
		Logger:      zerolog.Nop(),
	})
	return &routerDeps{ops: ops, audit: audit, r: r}
}

func (d *routerDeps) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", operatorToken)
	w := httptest.NewRecorder()
	d.r.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data, ok := resp["data"].(map[string]interface{})
	require.True(t, ok, "response has no data object: %s", w.Body.String())
	return data
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	code, _ := resp["error_code"].(string)
	return code
}

// --- Listing ---

func TestListEntries_PassesFilters(t *testing.T) {
	d := setupRouter(t)
	failed := domain.InboxStatusFailed
	d.ops.EXPECT().ListEntries(gomock.Any(), ports.InboxListParams{
		Status: &failed, Reference: "MYK001", Limit: 20, Offset: 40,
	}).Return([]domain.InboxEntry{{ID: 7, Status: domain.InboxStatusFailed}}, nil)

	w := d.do(http.MethodGet, "/api/v1/ops/inbox?status=failed&reference=MYK001&limit=20&offset=40", "")

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, float64(1), data["count"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestListEntries_InvalidQuery(t *testing.T) {
	d := setupRouter(t)

	for _, q := range []string{"status=done", "limit=9999", "reference=a%3Bb"} {
		w := d.do(http.MethodGet, "/api/v1/ops/inbox?"+q, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
		assert.Equal(t, "OPS_002", errorCode(t, w), q)
	}
}

func TestListStuck_ParsesDuration(t *testing.T) {
	d := setupRouter(t)
	d.ops.EXPECT().ListStuck(gomock.Any(), 30*time.Minute, 0).Return([]domain.InboxEntry{}, nil)

	w := d.do(http.MethodGet, "/api/v1/ops/inbox/stuck?older_than=30m", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decodeData(t, w)["count"])
}

func TestGetEntry(t *testing.T) {
	d := setupRouter(t)
	d.ops.EXPECT().GetEntry(gomock.Any(), int64(7)).
		Return(&domain.InboxEntry{ID: 7, MessageID: "k-7", Status: domain.InboxStatusPending}, nil)
	d.ops.EXPECT().GetEntry(gomock.Any(), int64(8)).Return(nil, apperror.ErrNotFound("Inbox entry"))

	w := d.do(http.MethodGet, "/api/v1/ops/inbox/7", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "k-7", decodeData(t, w)["message_id"])

	w = d.do(http.MethodGet, "/api/v1/ops/inbox/8", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "OPS_001", errorCode(t, w))

	w = d.do(http.MethodGet, "/api/v1/ops/inbox/abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStats(t *testing.T) {
	d := setupRouter(t)
	d.ops.EXPECT().Stats(gomock.Any()).Return(&ports.PipelineStats{
		Inbox:        map[domain.InboxStatus]int64{domain.InboxStatusFailed: 2},
		Transactions: map[domain.TransactionStatus]int64{domain.TransactionStatusCompleted: 5},
	}, nil)

	w := d.do(http.MethodGet, "/api/v1/ops/stats", "")

	assert.Equal(t, http.StatusOK, w.Code)
	inbox := decodeData(t, w)["inbox"].(map[string]interface{})
	assert.Equal(t, float64(2), inbox["failed"])
}

func TestStats_ServiceError(t *testing.T) {
	d := setupRouter(t)
	d.ops.EXPECT().Stats(gomock.Any()).Return(nil, apperror.ErrDatabaseError(errors.New("conn refused")))

	w := d.do(http.MethodGet, "/api/v1/ops/stats", "")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, apperror.CodeDatabase, errorCode(t, w))
	assert.NotContains(t, w.Body.String(), "conn refused")
}

// --- Writes ---

func TestRetryEntry_UsesAuthenticatedActor(t *testing.T) {
	d := setupRouter(t)
	d.ops.EXPECT().RetryEntry(gomock.Any(), gomock.Any(), int64(7)).
		DoAndReturn(func(_ interface{}, actor ports.Actor, id int64) (*domain.InboxEntry, error) {
			assert.Equal(t, "alice", actor.Subject)
			assert.NotEmpty(t, actor.IP)
			return &domain.InboxEntry{ID: id, Status: domain.InboxStatusPending}, nil
		})

	w := d.do(http.MethodPost, "/api/v1/ops/inbox/7/retry", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pending", decodeData(t, w)["status"])
}

func TestRetryEntry_RejectedIsAudited(t *testing.T) {
	d := setupRouter(t)
	d.ops.EXPECT().RetryEntry(gomock.Any(), gomock.Any(), int64(7)).
		Return(nil, apperror.ErrInvalidTransition("Inbox entry", "completed", "pending"))
	d.audit.EXPECT().Log(gomock.Any(), gomock.Any()).Do(func(_ interface{}, entry *domain.AuditLog) {
		assert.Equal(t, domain.AuditActionRejectedRequest, entry.Action)
		assert.Equal(t, "alice", entry.Actor)
		assert.Equal(t, "inbox", entry.ResourceType)
		assert.Equal(t, "7", entry.ResourceID)
	})

	w := d.do(http.MethodPost, "/api/v1/ops/inbox/7/retry", "")

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apperror.CodeInvalidTransition, errorCode(t, w))
}

func TestRetryFailed(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantLimit int
	}{
		{"no body", "", 0},
		{"with limit", `{"limit":25}`, 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := setupRouter(t)
			d.ops.EXPECT().RetryFailed(gomock.Any(), gomock.Any(), tt.wantLimit).
				Return(&ports.RetrySummary{Reset: 2, IDs: []int64{3, 4}, Skipped: 1}, nil)

			w := d.do(http.MethodPost, "/api/v1/ops/inbox/retry-failed", tt.body)

			assert.Equal(t, http.StatusOK, w.Code)
			data := decodeData(t, w)
			assert.Equal(t, float64(2), data["reset"])
			assert.Equal(t, float64(1), data["skipped"])
		})
	}
}

func TestRetryFailed_InvalidLimit(t *testing.T) {
	d := setupRouter(t)
	d.audit.EXPECT().Log(gomock.Any(), gomock.Any())

	w := d.do(http.MethodPost, "/api/v1/ops/inbox/retry-failed", `{"limit":0.5}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetTransaction(t *testing.T) {
	d := setupRouter(t)
	d.ops.EXPECT().GetTransaction(gomock.Any(), "MYK002").Return(&domain.Transaction{
		ID:              uuid.New(),
		Reference:       "MYK002",
		TransactionType: domain.TransactionTypeWithdrawal,
		Status:          domain.TransactionStatusCompleted,
		Value:           decimal.RequireFromString("50.00"),
		Fee:             decimal.RequireFromString("1.00"),
	}, nil)

	w := d.do(http.MethodGet, "/api/v1/ops/transactions/MYK002", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "MYK002", decodeData(t, w)["reference"])
}

func TestReopenTransaction(t *testing.T) {
	d := setupRouter(t)
	d.ops.EXPECT().ReopenTransaction(gomock.Any(), gomock.Any(), "MYK004").Return(&domain.Transaction{
		Reference: "MYK004",
		Status:    domain.TransactionStatusPendingAnchor,
	}, nil)

	w := d.do(http.MethodPost, "/api/v1/ops/transactions/MYK004/reopen", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(domain.TransactionStatusPendingAnchor), decodeData(t, w)["status"])
}

// --- Auth and ambient routes ---

func TestOpsRoutes_RequireToken(t *testing.T) {
	d := setupRouter(t)

	w := httptest.NewRecorder()
	d.r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/ops/stats", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	d := setupRouter(t)
	d.ops.EXPECT().Stats(gomock.Any()).Return(&ports.PipelineStats{}, nil)
	d.do(http.MethodGet, "/api/v1/ops/stats", "")

	w := httptest.NewRecorder()
	d.r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/api/v1/ops/stats")
}

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name     string
		pingErr  error
		wantCode int
		want     string
	}{
		{"healthy", nil, http.StatusOK, "healthy"},
		{"degraded", errors.New("connection refused"), http.StatusServiceUnavailable, "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			checker := mocks.NewMockHealthChecker(ctrl)
			checker.EXPECT().Name().Return("postgresql").AnyTimes()
			checker.EXPECT().Ping(gomock.Any()).Return(tt.pingErr)

			r := SetupRouter(RouterDeps{HealthCheckers: []ports.HealthChecker{checker}, Logger: zerolog.Nop()})
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantCode, w.Code)
			var resp map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.want, resp["status"])
		})
	}
}
