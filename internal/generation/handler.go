package generation

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/loomtale/loomtale/internal/platform/httpx"
	"github.com/loomtale/loomtale/internal/policy"
	"github.com/loomtale/loomtale/internal/rbac"
)

// IdempotencyHeader names the header that makes batch submission repeatable.
const IdempotencyHeader = "Idempotency-Key"

// Handler exposes the generation endpoints.
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

// MountRoutes registers generation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.rbac.AttachContext)
	for kind, action := range map[Kind]string{
		KindCharacter: policy.ActionGenerateCharacter,
		KindStory:     policy.ActionGenerateStory,
		KindWorld:     policy.ActionGenerateWorld,
	} {
		r.With(h.rbac.RequireAction(action), h.rbac.ValidateTokenLimit).Post("/"+string(kind), h.generate(kind))
	}
	r.With(h.rbac.RequireAction(policy.ActionBatchGenerate), h.rbac.ValidateTokenLimit).Post("/batch", h.submitBatch)
	r.Get("/batch/{id}", h.getBatch)
}

type generateRequest struct {
	Prompt         string `json:"prompt" validate:"required,max=4000"`
	MaxTokens      int    `json:"maxTokens" validate:"gte=0"`
	MaxTokensSnake int    `json:"max_tokens" validate:"gte=0"`
	Advanced       bool   `json:"advanced"`
}

func (g generateRequest) tokens() int {
	if g.MaxTokens > 0 {
		return g.MaxTokens
	}
	return g.MaxTokensSnake
}

type batchRequest struct {
	MaxTokens int       `json:"maxTokens" validate:"gte=0"`
	Items     []Request `json:"items" validate:"required,min=1,max=20,dive"`
}

func (h *Handler) generate(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		if !h.decode(w, r, &req) {
			return
		}
		pc := h.rbac.Context(r)
		if req.Advanced && !h.rbac.Catalog.CanPerformAction(pc.Roles, policy.ActionAdvancedGeneration) {
			h.rbac.Reject(w, r,
				policy.Deny(policy.KindInsufficientPermissions, "action %q is not permitted", policy.ActionAdvancedGeneration),
				slog.String("action", policy.ActionAdvancedGeneration))
			return
		}

		res, err := h.service.Generate(r.Context(), pc.PrincipalID, Request{Kind: kind, Prompt: req.Prompt, MaxTokens: req.tokens()})
		if err != nil {
			h.respondGeneratorError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, res)
	}
}

func (h *Handler) submitBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !h.decode(w, r, &req) {
		return
	}
	pc := h.rbac.Context(r)
	for i := range req.Items {
		if req.Items[i].MaxTokens == 0 {
			req.Items[i].MaxTokens = req.MaxTokens
		}
		requested := req.Items[i].MaxTokens
		if requested == 0 {
			requested = policy.DefaultRequestedTokens
		}
		if requested > pc.TokenLimit {
			h.rbac.Reject(w, r,
				policy.Deny(policy.KindTokenLimitExceeded, "item %d requests %d tokens, exceeding the limit of %d for role %s",
					i, requested, pc.TokenLimit, pc.HighestRole),
				slog.Int("requested_tokens", requested),
				slog.Int("token_limit", pc.TokenLimit))
			return
		}
	}

	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	batch, created, err := h.service.SubmitBatch(r.Context(), pc.PrincipalID, req.Items, key)
	if err != nil {
		h.logger.Error("submit batch failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	status := http.StatusAccepted
	if !created {
		status = http.StatusOK
	}
	w.Header().Set("Location", "/generate/batch/"+batch.ID)
	httpx.JSON(w, status, batch)
}

func (h *Handler) getBatch(w http.ResponseWriter, r *http.Request) {
	pc := h.rbac.Context(r)
	batch, err := h.service.Batch(r.Context(), pc.PrincipalID, chi.URLParam(r, "id"))
	if errors.Is(err, ErrBatchNotFound) {
		httpx.RespondError(w, httpx.ErrNotFound)
		return
	}
	if err != nil {
		h.logger.Error("load batch failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batch)
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

func (h *Handler) respondGeneratorError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrGeneratorUnavailable) {
		h.logger.Warn("generator unavailable", slog.Any("error", err))
		httpx.Problem(w, http.StatusBadGateway, "Bad Gateway", "content generator is unavailable")
		return
	}
	h.logger.Error("generation failed", slog.Any("error", err))
	httpx.RespondError(w, err)
}
