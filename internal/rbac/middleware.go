// Package rbac enforces the policy catalog on HTTP handlers. Every guard
// short-circuits on rejection, so the wrapped handler never runs.
package rbac

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/loomtale/loomtale/internal/observability"
	"github.com/loomtale/loomtale/internal/platform/httpx"
	"github.com/loomtale/loomtale/internal/policy"
)

// maxInspectedBody bounds how much of a request body ValidateTokenLimit reads.
const maxInspectedBody = 1 << 20

// Middleware wires policy guards for HTTP handlers.
type Middleware struct {
	Catalog *policy.Catalog
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// AttachContext resolves the permission context of the current principal, or
// of the implicit guest, and stores it on the request. It never rejects.
func (m Middleware) AttachContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := policy.FromContext(r.Context()); ok {
			next.ServeHTTP(w, r)
			return
		}
		pc := m.Catalog.Resolve(policy.PrincipalFromContext(r.Context()))
		next.ServeHTTP(w, r.WithContext(policy.WithContext(r.Context(), pc)))
	})
}

// RequirePermission rejects requests whose highest role lacks p.
func (m Middleware) RequirePermission(p policy.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			pc := m.resolve(r)
			if pc.Has(p) {
				next.ServeHTTP(w, r)
				return
			}
			m.deny(w, r, pc,
				policy.Deny(policy.KindInsufficientPermissions, "permission %q is required", p),
				slog.String("required_permission", string(p)))
		})
	}
}

// RequireAction rejects requests that may not perform the named action.
// Actions missing from the catalog are always rejected.
func (m Middleware) RequireAction(action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			pc := m.resolve(r)
			if m.Catalog.CanPerformAction(pc.Roles, action) {
				next.ServeHTTP(w, r)
				return
			}
			required, _ := m.Catalog.ActionPermission(action)
			m.deny(w, r, pc,
				policy.Deny(policy.KindInsufficientPermissions, "action %q is not permitted", action),
				slog.String("action", action),
				slog.String("required_permission", string(required)))
		})
	}
}

// RequireAnyRole rejects requests whose highest role is not one of allowed.
func (m Middleware) RequireAnyRole(allowed ...policy.Role) func(http.Handler) http.Handler {
	set := make(map[policy.Role]struct{}, len(allowed))
	names := make([]string, 0, len(allowed))
	for _, role := range allowed {
		set[role] = struct{}{}
		names = append(names, string(role))
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			pc := m.resolve(r)
			if _, ok := set[pc.HighestRole]; ok {
				next.ServeHTTP(w, r)
				return
			}
			m.deny(w, r, pc,
				policy.Deny(policy.KindInsufficientRole, "one of roles [%s] is required", strings.Join(names, ", ")),
				slog.Any("allowed_roles", names))
		})
	}
}

// RequireMinimumRole rejects principals strictly less privileged than minimum.
// It panics when minimum is not part of the catalog.
func (m Middleware) RequireMinimumRole(minimum policy.Role) func(http.Handler) http.Handler {
	minRank, ok := m.Catalog.Rank(minimum)
	if !ok {
		panic(fmt.Sprintf("rbac: unknown minimum role %q", minimum))
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			pc := m.resolve(r)
			rank, _ := m.Catalog.Rank(pc.HighestRole)
			if rank <= minRank {
				next.ServeHTTP(w, r)
				return
			}
			m.deny(w, r, pc,
				policy.Deny(policy.KindInsufficientRoleLevel, "role %q or higher is required", minimum),
				slog.String("minimum_role", string(minimum)))
		})
	}
}

// ValidateTokenLimit rejects generation requests asking for more tokens than
// the principal's role allows. The size comes from maxTokens or max_tokens in
// the JSON body or query string and defaults to policy.DefaultRequestedTokens.
func (m Middleware) ValidateTokenLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested, err := requestedTokens(r)
		if errors.Is(err, errBodyTooLarge) {
			httpx.Problem(w, http.StatusRequestEntityTooLarge, "Request Entity Too Large",
				fmt.Sprintf("request body exceeds %d bytes", maxInspectedBody))
			return
		}
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "request body could not be read")
			return
		}
		pc := m.resolve(r)
		if requested <= int64(pc.TokenLimit) {
			next.ServeHTTP(w, r)
			return
		}
		m.deny(w, r, pc,
			policy.Deny(policy.KindTokenLimitExceeded, "requested %d tokens exceeds the limit of %d for role %s",
				requested, pc.TokenLimit, pc.HighestRole),
			slog.Int64("requested_tokens", requested),
			slog.Int("token_limit", pc.TokenLimit))
	})
}

// Reject writes a denial decided inside a handler, with the same logging and
// metrics as the guards.
func (m Middleware) Reject(w http.ResponseWriter, r *http.Request, err *policy.Error, attrs ...slog.Attr) {
	m.deny(w, r, m.resolve(r), err, attrs...)
}

// Context returns the permission context of the request, resolving it when no
// guard attached one.
func (m Middleware) Context(r *http.Request) policy.Context {
	return m.resolve(r)
}

func (m Middleware) resolve(r *http.Request) policy.Context {
	if pc, ok := policy.FromContext(r.Context()); ok {
		return pc
	}
	return m.Catalog.Resolve(policy.PrincipalFromContext(r.Context()))
}

func (m Middleware) deny(w http.ResponseWriter, r *http.Request, pc policy.Context, err *policy.Error, attrs ...slog.Attr) {
	if m.Logger != nil {
		base := []slog.Attr{
			slog.String("kind", string(err.Kind)),
			slog.String("principal_id", pc.PrincipalID),
			slog.Any("roles", policy.Strings(pc.Roles)),
			slog.String("highest_role", string(pc.HighestRole)),
			slog.String("endpoint", endpoint(r)),
		}
		m.Logger.LogAttrs(r.Context(), slog.LevelWarn, "authorization denied", append(base, attrs...)...)
	}
	m.Metrics.RecordDenial(string(err.Kind))
	httpx.RespondError(w, err)
}

func endpoint(r *http.Request) string {
	path := r.URL.Path
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			path = pattern
		}
	}
	return r.Method + " " + path
}

// restoredBody replays the inspected bytes and closes the original body.
type restoredBody struct {
	io.Reader
	io.Closer
}

type tokenFields struct {
	MaxTokens      json.Number `json:"maxTokens"`
	MaxTokensSnake json.Number `json:"max_tokens"`
}

var errBodyTooLarge = errors.New("rbac: request body too large")

// requestedTokens reads the requested generation size and restores the body
// for the next handler. Bodies that are not JSON objects are left to the
// handler's own validation and count as the default size. Bodies larger than
// maxInspectedBody are refused, since the size could not be read from them.
func requestedTokens(r *http.Request) (int64, error) {
	q := r.URL.Query()
	candidates := []string{q.Get("maxTokens"), q.Get("max_tokens")}

	if r.Body != nil && r.Body != http.NoBody {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxInspectedBody+1))
		if err != nil {
			return 0, err
		}
		if len(body) > maxInspectedBody {
			return 0, errBodyTooLarge
		}
		r.Body = restoredBody{Reader: bytes.NewReader(body), Closer: r.Body}

		var fields tokenFields
		if len(bytes.TrimSpace(body)) > 0 && json.Unmarshal(body, &fields) == nil {
			candidates = append([]string{fields.MaxTokens.String(), fields.MaxTokensSnake.String()}, candidates...)
		}
	}

	for _, raw := range candidates {
		if n, ok := parseTokens(raw); ok {
			return n, nil
		}
	}
	return policy.DefaultRequestedTokens, nil
}

// parseTokens treats empty and zero values as absent.
func parseTokens(raw string) (int64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n, n != 0
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f == 0 || math.IsNaN(f) {
		return 0, false
	}
	switch {
	case f >= math.MaxInt64:
		return math.MaxInt64, true
	case f <= math.MinInt64:
		return math.MinInt64, true
	}
	return int64(math.Ceil(f)), true
}
