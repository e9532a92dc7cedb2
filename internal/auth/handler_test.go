package auth_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/loomtale/loomtale/internal/auth"
	"github.com/loomtale/loomtale/internal/policy"
	"github.com/loomtale/loomtale/internal/rbac"
	"github.com/loomtale/loomtale/internal/shared"
	"github.com/loomtale/loomtale/internal/users"
)

type stubRepo struct {
	byID    map[string]*auth.Account
	keys    map[string]string
	created []string
}

func newStubRepo(accounts ...*auth.Account) *stubRepo {
	s := &stubRepo{byID: make(map[string]*auth.Account), keys: make(map[string]string)}
	for _, a := range accounts {
		s.byID[a.ID] = a
	}
	return s
}

func (s *stubRepo) FindByEmail(ctx context.Context, email string) (*auth.Account, error) {
	for _, a := range s.byID {
		if strings.EqualFold(a.Email, email) {
			return a, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (s *stubRepo) FindByID(ctx context.Context, id string) (*auth.Account, error) {
	if a, ok := s.byID[id]; ok {
		return a, nil
	}
	return nil, shared.ErrNotFound
}

func (s *stubRepo) FindByAPIKeyHash(ctx context.Context, hash string) (*auth.Account, error) {
	if id, ok := s.keys[hash]; ok {
		return s.byID[id], nil
	}
	return nil, shared.ErrNotFound
}

func (s *stubRepo) CreateAPIKey(ctx context.Context, userID, name, prefix, hash string) (auth.APIKey, error) {
	s.keys[hash] = userID
	s.created = append(s.created, hash)
	return auth.APIKey{ID: "k-1", UserID: userID, Name: name, Prefix: prefix, CreatedAt: time.Now()}, nil
}

func account(t *testing.T, id string, status users.Status, roles ...policy.Role) *auth.Account {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	require.NoError(t, err)
	return &auth.Account{ID: id, Email: id + "@example.com", PasswordHash: string(hash), Roles: roles, Status: status}
}

type fixture struct {
	repo     *stubRepo
	sessions *shared.SessionManager
	redis    *miniredis.Miniredis
	handler  *auth.Handler
	logger   *slog.Logger
}

func newFixture(t *testing.T, accounts ...*auth.Account) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessions := shared.NewSessionManager(client, "loomtale_session", "secret", time.Hour, false)
	repo := newStubRepo(accounts...)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	guards := rbac.Middleware{Catalog: policy.DefaultCatalog(), Logger: logger}
	return &fixture{
		repo:     repo,
		sessions: sessions,
		redis:    mr,
		handler:  auth.NewHandler(logger, auth.NewService(repo), sessions, guards),
		logger:   logger,
	}
}

// serve runs the request through the session, authentication and auth
// route middleware the way the app router stacks them.
func (f *fixture) serve(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, *shared.Session) {
	t.Helper()
	var sess *shared.Session
	r := chi.NewRouter()
	r.Use(f.sessions.Middleware(f.logger))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess = shared.SessionFromContext(r.Context())
			next.ServeHTTP(w, r)
		})
	})
	r.Use(auth.Middleware(f.logger, auth.NewAPIKeyAuthenticator(f.repo), auth.NewSessionAuthenticator(f.repo)))
	r.Route("/auth", f.handler.MountRoutes)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.NotNil(t, sess)
	return rec, sess
}

func loginRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestLoginStartsSession(t *testing.T) {
	f := newFixture(t, account(t, "u-1", users.StatusActive, policy.RoleUser, policy.RolePremium))

	rec, sess := f.serve(t, loginRequest(`{"email":"u-1@example.com","password":"correct horse"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		UserID      string `json:"user_id"`
		HighestRole string `json:"highest_role"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "u-1", body.UserID)
	assert.Equal(t, "premium", body.HighestRole)

	assert.Equal(t, "u-1", sess.User())
	assert.True(t, f.redis.Exists("session:"+sess.ID))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, sess.ID, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
}

func TestLoginRotatesExistingSession(t *testing.T) {
	f := newFixture(t, account(t, "u-1", users.StatusActive, policy.RoleUser))
	_, first := f.serve(t, loginRequest(`{"email":"u-1@example.com","password":"correct horse"}`))
	oldID := first.ID

	req := loginRequest(`{"email":"u-1@example.com","password":"correct horse"}`)
	req.AddCookie(&http.Cookie{Name: "loomtale_session", Value: oldID})
	rec, second := f.serve(t, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEqual(t, oldID, second.ID)
	assert.False(t, f.redis.Exists("session:"+oldID))
	assert.True(t, f.redis.Exists("session:"+second.ID))
}

func TestLoginFailures(t *testing.T) {
	f := newFixture(t,
		account(t, "u-1", users.StatusActive, policy.RoleUser),
		account(t, "b-1", users.StatusBanned, policy.RoleUser))

	cases := []struct {
		name string
		body string
		want int
	}{
		{"wrong password", `{"email":"u-1@example.com","password":"wrong password"}`, http.StatusUnauthorized},
		{"unknown email", `{"email":"nobody@example.com","password":"correct horse"}`, http.StatusUnauthorized},
		{"banned account", `{"email":"b-1@example.com","password":"correct horse"}`, http.StatusForbidden},
		{"invalid email", `{"email":"not-an-email","password":"correct horse"}`, http.StatusBadRequest},
		{"short password", `{"email":"u-1@example.com","password":"short"}`, http.StatusBadRequest},
		{"malformed", `{"email":`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, sess := f.serve(t, loginRequest(tc.body))
			assert.Equal(t, tc.want, rec.Code)
			assert.Empty(t, sess.User())
			assert.Empty(t, rec.Result().Cookies(), "no session is stored for a failed login")
		})
	}
}

func TestLogoutDestroysSession(t *testing.T) {
	f := newFixture(t, account(t, "u-1", users.StatusActive, policy.RoleUser))
	_, sess := f.serve(t, loginRequest(`{"email":"u-1@example.com","password":"correct horse"}`))

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: "loomtale_session", Value: sess.ID})
	rec, _ := f.serve(t, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, f.redis.Exists("session:"+sess.ID))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, -1, cookies[0].MaxAge)
}

func TestIssueAPIKey(t *testing.T) {
	f := newFixture(t, account(t, "u-1", users.StatusActive, policy.RoleUser))
	_, sess := f.serve(t, loginRequest(`{"email":"u-1@example.com","password":"correct horse"}`))

	req := httptest.NewRequest(http.MethodPost, "/auth/api-keys", strings.NewReader(`{"name":"cli"}`))
	req.AddCookie(&http.Cookie{Name: "loomtale_session", Value: sess.ID})
	rec, _ := f.serve(t, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var body struct {
		Key    string `json:"key"`
		Prefix string `json:"prefix"`
		UserID string `json:"user_id"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.True(t, strings.HasPrefix(body.Key, "lt_"))
	assert.True(t, strings.HasPrefix(body.Key, body.Prefix))
	assert.Equal(t, "u-1", body.UserID)
	require.Len(t, f.repo.created, 1)
	assert.Equal(t, auth.HashAPIKey(body.Key), f.repo.created[0])

	// Anonymous callers resolve to guest, which may not start sessions.
	rec, _ = f.serve(t, httptest.NewRequest(http.MethodPost, "/auth/api-keys", strings.NewReader(`{"name":"cli"}`)))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
