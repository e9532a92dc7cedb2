package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/loomtale/loomtale/internal/platform/httpx"
	"github.com/loomtale/loomtale/internal/policy"
	"github.com/loomtale/loomtale/internal/rbac"
	"github.com/loomtale/loomtale/internal/shared"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	sessionManager *shared.SessionManager
	rbac           rbac.Middleware
	validator      *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, sessions *shared.SessionManager, rbac rbac.Middleware) *Handler {
	return &Handler{
		logger:         logger,
		service:        service,
		sessionManager: sessions,
		rbac:           rbac,
		validator:      validator.New(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	r.With(h.rbac.RequireAction(policy.ActionStartSession)).Post("/api-keys", h.handleIssueAPIKey)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type loginResponse struct {
	UserID      string        `json:"user_id"`
	Roles       []policy.Role `json:"roles"`
	HighestRole policy.Role   `json:"highest_role"`
}

type apiKeyRequest struct {
	Name string `json:"name" validate:"required,max=64"`
}

type apiKeyResponse struct {
	APIKey
	Key string `json:"key"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		fields := make(map[string]string)
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fieldErr := range verrs {
				fields[fieldErr.Field()] = fieldErr.Tag()
			}
		}
		httpx.JSON(w, http.StatusBadRequest, map[string]any{"title": "Validation Failed", "status": http.StatusBadRequest, "fields": fields})
		return
	}

	acc, err := h.service.Authenticate(r.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, shared.ErrInvalidCredentials):
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid email or password")
		return
	case errors.Is(err, shared.ErrAccountInactive):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "account is not active")
		return
	case err != nil:
		h.logger.Error("login failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		h.logger.Error("session missing during login")
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	h.sessionManager.Rotate(sess)
	sess.SetUser(acc.ID)
	h.logger.Info("user logged in", slog.String("user_id", acc.ID))

	pc := h.rbac.Catalog.Resolve(&policy.Principal{ID: acc.ID, Roles: acc.Roles})
	httpx.JSON(w, http.StatusOK, loginResponse{UserID: acc.ID, Roles: pc.Roles, HighestRole: pc.HighestRole})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		h.sessionManager.Destroy(sess)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleIssueAPIKey(w http.ResponseWriter, r *http.Request) {
	p := policy.PrincipalFromContext(r.Context())
	if p == nil || p.ID == "" {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	var req apiKeyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	key, raw, err := h.service.IssueAPIKey(r.Context(), p.ID, req.Name)
	if err != nil {
		h.logger.Error("issue api key failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("api key issued", slog.String("user_id", p.ID), slog.String("key_id", key.ID))
	httpx.JSON(w, http.StatusCreated, apiKeyResponse{APIKey: key, Key: raw})
}
