package users

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/loomtale/loomtale/internal/platform/httpx"
	"github.com/loomtale/loomtale/internal/policy"
	"github.com/loomtale/loomtale/internal/rbac"
	"github.com/loomtale/loomtale/internal/shared"
)

// Handler manages user administration endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac, validator: validator.New()}
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequirePermission(policy.PermViewUserActivity))
		r.Get("/", h.listUsers)
		r.Get("/{id}", h.getUser)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAction(policy.ActionManageUsers))
		r.Put("/{id}/roles", h.updateRoles)
		r.Put("/{id}/status", h.updateStatus)
	})
}

type rolesRequest struct {
	Roles []string `json:"roles" validate:"max=16,dive,max=64"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required,max=32"`
	Reason string `json:"reason" validate:"max=500"`
}

type listResponse struct {
	Users      []Record          `json:"users"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	if perPage > 100 {
		perPage = 100
	}
	filter := ListFilter{Role: policy.Role(q.Get("role")), Page: page, PerPage: perPage}
	if raw := q.Get("status"); raw != "" {
		status, ok := ParseStatus(raw)
		if !ok {
			httpx.RespondError(w, policy.Deny(policy.KindInvalidStatus, "status %q is not one of active, suspended, banned", raw))
			return
		}
		filter.Status = status
	}

	records, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list users failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if records == nil {
		records = []Record{}
	}
	httpx.JSON(w, http.StatusOK, listResponse{
		Users:      records,
		Pagination: shared.NewPagination(filter.Page, filter.PerPage, total),
	})
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, ErrNotFound) {
		httpx.RespondError(w, httpx.ErrNotFound)
		return
	}
	if err != nil {
		h.logger.Error("get user failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.Header().Set("ETag", etag(rec.Version))
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) updateRoles(w http.ResponseWriter, r *http.Request) {
	var req rolesRequest
	if !h.decode(w, r, &req) {
		return
	}
	version, err := expectedVersion(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.UpdateRoles(r.Context(), actor(r), chi.URLParam(r, "id"), policy.RolesFromStrings(req.Roles), version)
	if err != nil {
		h.respondMutationError(w, r, "update roles", err)
		return
	}
	w.Header().Set("ETag", etag(res.Version))
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !h.decode(w, r, &req) {
		return
	}
	version, err := expectedVersion(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rec, err := h.service.UpdateStatus(r.Context(), actor(r), chi.URLParam(r, "id"), req.Status, req.Reason, version)
	if err != nil {
		h.respondMutationError(w, r, "update status", err)
		return
	}
	w.Header().Set("ETag", etag(rec.Version))
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) respondMutationError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if kind := policy.KindOf(err); kind != "" {
		h.logger.Warn(op+" rejected",
			slog.String("kind", string(kind)),
			slog.String("actor_id", actor(r).ID),
			slog.String("target_id", chi.URLParam(r, "id")))
	} else {
		h.logger.Error(op+" failed", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func actor(r *http.Request) policy.Principal {
	if p := policy.PrincipalFromContext(r.Context()); p != nil {
		return *p
	}
	return policy.GuestPrincipal()
}

// expectedVersion parses an optional If-Match header carrying a record version.
func expectedVersion(r *http.Request) (*int64, error) {
	raw := strings.Trim(strings.TrimPrefix(strings.TrimSpace(r.Header.Get("If-Match")), "W/"), `"`)
	if raw == "" || raw == "*" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return nil, fmt.Errorf("%w: If-Match must be a record version", httpx.ErrValidation)
	}
	return &v, nil
}

func etag(version int64) string {
	return strconv.Quote(strconv.FormatInt(version, 10))
}
