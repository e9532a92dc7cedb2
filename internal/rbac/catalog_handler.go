package rbac

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/loomtale/loomtale/internal/platform/httpx"
	"github.com/loomtale/loomtale/internal/policy"
)

// CatalogHandler exposes the role catalog and the caller's own permission
// context.
type CatalogHandler struct {
	logger  *slog.Logger
	catalog *policy.Catalog
	rbac    Middleware
}

// NewCatalogHandler builds CatalogHandler instance.
func NewCatalogHandler(logger *slog.Logger, catalog *policy.Catalog, rbac Middleware) *CatalogHandler {
	return &CatalogHandler{logger: logger, catalog: catalog, rbac: rbac}
}

// MountRoutes registers catalog routes.
func (h *CatalogHandler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequirePermission(policy.PermReadPublicContent)).Get("/roles", h.listRoles)
	r.With(h.rbac.AttachContext).Get("/me", h.me)
}

type roleView struct {
	Name            string              `json:"name"`
	DisplayName     string              `json:"display_name"`
	Rank            int                 `json:"rank"`
	Permissions     []policy.Permission `json:"permissions"`
	RequestsPerHour *int                `json:"requests_per_hour"`
	MaxTokens       *int                `json:"max_tokens"`
}

type meView struct {
	PrincipalID string              `json:"principal_id,omitempty"`
	Roles       []policy.Role       `json:"roles"`
	HighestRole policy.Role         `json:"highest_role"`
	Permissions []policy.Permission `json:"permissions"`
	RateLimit   *int                `json:"rate_limit"`
	TokenLimit  *int                `json:"token_limit"`
}

func (h *CatalogHandler) listRoles(w http.ResponseWriter, r *http.Request) {
	caser := cases.Title(language.English)
	roles := h.catalog.Roles()
	views := make([]roleView, 0, len(roles))
	for _, role := range roles {
		spec, _ := h.catalog.Spec(role)
		views = append(views, roleView{
			Name:            string(role),
			DisplayName:     caser.String(strings.ReplaceAll(string(role), "_", " ")),
			Rank:            spec.Rank,
			Permissions:     spec.Permissions,
			RequestsPerHour: bounded(spec.Quota.RequestsPerHour),
			MaxTokens:       bounded(spec.Quota.MaxTokensPerGeneration),
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": views})
}

func (h *CatalogHandler) me(w http.ResponseWriter, r *http.Request) {
	pc, ok := policy.FromContext(r.Context())
	if !ok {
		h.logger.Error("permission context missing", slog.String("path", r.URL.Path))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, meView{
		PrincipalID: pc.PrincipalID,
		Roles:       pc.Roles,
		HighestRole: pc.HighestRole,
		Permissions: pc.Permissions,
		RateLimit:   bounded(pc.RateLimit),
		TokenLimit:  bounded(pc.TokenLimit),
	})
}

// bounded renders Unlimited as null.
func bounded(v int) *int {
	if v == policy.Unlimited {
		return nil
	}
	return &v
}
