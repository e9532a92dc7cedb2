package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomtale/loomtale/internal/auth"
	"github.com/loomtale/loomtale/internal/observability"
	"github.com/loomtale/loomtale/internal/policy"
	"github.com/loomtale/loomtale/internal/rbac"
	"github.com/loomtale/loomtale/internal/stats"
	"github.com/loomtale/loomtale/internal/users"
	"github.com/loomtale/loomtale/jobs"
	_ "github.com/loomtale/loomtale/testing"
)

// headerAuthenticator trusts an X-Test-Role header. Test use only.
type headerAuthenticator struct{}

func (headerAuthenticator) Name() string { return "test" }

func (headerAuthenticator) Applies(r *http.Request) bool {
	return r.Header.Get("X-Test-Role") != ""
}

func (headerAuthenticator) Authenticate(ctx context.Context, r *http.Request) (*auth.Account, error) {
	role := policy.Role(r.Header.Get("X-Test-Role"))
	return &auth.Account{ID: "acct-" + string(role), Roles: []policy.Role{role}, Status: users.StatusActive}, nil
}

type zeroCounter struct{}

func (zeroCounter) CountByStatus(context.Context) (map[users.Status]int, error) {
	return map[users.Status]int{}, nil
}

func (zeroCounter) CountByRole(context.Context) (map[policy.Role]int, error) {
	return map[policy.Role]int{}, nil
}

type emptyInspector struct{}

func (emptyInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return nil, asynq.ErrQueueNotFound
}

func newTestRouter(t *testing.T) (http.Handler, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	metrics := observability.NewMetrics()
	guards := rbac.Middleware{Catalog: policy.DefaultCatalog(), Logger: logger, Metrics: metrics}
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := NewRouter(RouterParams{
		Logger:         quiet,
		Config:         &Config{AppEnv: "production", GlobalRateLimit: 1000},
		Authenticators: []auth.Authenticator{headerAuthenticator{}},
		RBACMiddleware: guards,
		CatalogHandler: rbac.NewCatalogHandler(quiet, guards.Catalog, guards),
		StatsHandler:   stats.NewHandler(quiet, stats.NewService(zeroCounter{}, emptyInspector{}), guards),
		JobHandler:     jobs.NewHandler(emptyInspector{}, quiet, guards),
		Metrics:        metrics,
	})
	return router, &logs
}

func do(h http.Handler, method, path, role string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	if role != "" {
		req.Header.Set("X-Test-Role", role)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func problemKind(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	kind, _ := body["kind"].(string)
	return kind
}

func TestHealthzIsPublic(t *testing.T) {
	h, _ := newTestRouter(t)
	rec := do(h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestAdminAreaIsFencedByModeratorRank(t *testing.T) {
	h, _ := newTestRouter(t)

	rec := do(h, http.MethodGet, "/admin/stats", "")
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "INSUFFICIENT_ROLE_LEVEL", problemKind(t, rec))

	rec = do(h, http.MethodGet, "/admin/stats", "premium")
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "INSUFFICIENT_ROLE_LEVEL", problemKind(t, rec))

	rec = do(h, http.MethodGet, "/admin/stats", "moderator")
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "INSUFFICIENT_PERMISSIONS", problemKind(t, rec))

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/admin/stats", "admin").Code)
}

func TestJobsHealthRequiresAdminRole(t *testing.T) {
	h, _ := newTestRouter(t)
	rec := do(h, http.MethodGet, "/jobs/health", "moderator")
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "INSUFFICIENT_ROLE", problemKind(t, rec))
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/jobs/health", "super_admin").Code)
}

func TestGuestQuotaAppliesAcrossRoutes(t *testing.T) {
	h, _ := newTestRouter(t)
	for i := 0; i < 10; i++ {
		require.Equal(t, http.StatusOK, do(h, http.MethodGet, "/roles", "").Code, "request %d", i+1)
	}
	rec := do(h, http.MethodGet, "/me", "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", problemKind(t, rec))

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/healthz", "").Code)
}

func TestMetricsCountDenials(t *testing.T) {
	h, _ := newTestRouter(t)
	do(h, http.MethodGet, "/admin/stats", "user")
	rec := do(h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `loomtale_authz_denials_total{kind="INSUFFICIENT_ROLE_LEVEL"} 1`))
}

func TestDenialsAreLoggedWithPrincipal(t *testing.T) {
	h, logs := newTestRouter(t)
	do(h, http.MethodGet, "/admin/stats", "moderator")
	assert.Contains(t, logs.String(), `"principal_id":"acct-moderator"`)
}
