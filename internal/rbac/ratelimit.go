package rbac

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/loomtale/loomtale/internal/policy"
)

// RateLimiter enforces the per-role requests-per-hour quota. Each bounded
// role gets its own sliding-window limiter keyed by principal id, or by
// client IP for anonymous callers. Roles with an unbounded quota pass through.
type RateLimiter struct {
	guards   Middleware
	window   time.Duration
	limiters map[policy.Role]func(http.Handler) http.Handler
}

// NewRateLimiter builds limiters for every bounded role in the catalog. The
// quota is counted over window, normally one hour.
func NewRateLimiter(guards Middleware, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Hour
	}
	rl := &RateLimiter{
		guards:   guards,
		window:   window,
		limiters: make(map[policy.Role]func(http.Handler) http.Handler),
	}
	for _, role := range guards.Catalog.Roles() {
		spec, _ := guards.Catalog.Spec(role)
		if spec.Quota.UnboundedRequests() {
			continue
		}
		rl.limiters[role] = httprate.Limit(
			spec.Quota.RequestsPerHour,
			window,
			httprate.WithKeyFuncs(principalKey),
			httprate.WithLimitHandler(rl.limitExceeded),
		)
	}
	return rl
}

// Handler wraps next with the quota of the caller's highest role.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	wrapped := make(map[policy.Role]http.Handler, len(rl.limiters))
	for role, limit := range rl.limiters {
		wrapped[role] = limit(next)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pc := rl.guards.resolve(r)
		if h, ok := wrapped[pc.HighestRole]; ok {
			h.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) limitExceeded(w http.ResponseWriter, r *http.Request) {
	pc := rl.guards.resolve(r)
	rl.guards.deny(w, r, pc,
		policy.Deny(policy.KindRateLimitExceeded, "role %s is limited to %d requests per %s",
			pc.HighestRole, pc.RateLimit, rl.window),
		slog.Int("rate_limit", pc.RateLimit))
}

func principalKey(r *http.Request) (string, error) {
	if p := policy.PrincipalFromContext(r.Context()); p != nil && p.ID != "" {
		return "principal:" + p.ID, nil
	}
	ip, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + ip, nil
}
