package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/loomtale/loomtale/internal/platform/httpx"
	"github.com/loomtale/loomtale/internal/policy"
	"github.com/loomtale/loomtale/internal/shared"
)

// Middleware authenticates the request with the first authenticator whose
// credential is present and stores the resulting principal. Requests without
// any credential continue anonymously. Accounts that are not active are
// rejected here, before any policy decision runs.
func Middleware(logger *slog.Logger, authenticators ...Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, a := range authenticators {
				if !a.Applies(r) {
					continue
				}
				acc, err := a.Authenticate(r.Context(), r)
				if err == nil && !acc.Active() {
					err = shared.ErrAccountInactive
				}
				if err != nil {
					reject(w, r, logger, a.Name(), acc, err)
					return
				}
				ctx := policy.WithPrincipal(r.Context(), acc.Principal())
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func reject(w http.ResponseWriter, r *http.Request, logger *slog.Logger, method string, acc *Account, err error) {
	attrs := []any{slog.String("method", method), slog.String("path", r.URL.Path)}
	switch {
	case errors.Is(err, shared.ErrInvalidCredentials):
		logger.Warn("authentication failed", attrs...)
		httpx.RespondError(w, httpx.ErrUnauthorized)
	case errors.Is(err, shared.ErrAccountInactive) && acc != nil:
		logger.Warn("inactive account rejected",
			append(attrs, slog.String("user_id", acc.ID), slog.String("status", string(acc.Status)))...)
		if sess := shared.SessionFromContext(r.Context()); sess != nil && method == "session" {
			sess.SetUser("")
		}
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "account is "+string(acc.Status))
	default:
		logger.Error("authentication error", append(attrs, slog.Any("error", err))...)
		httpx.RespondError(w, err)
	}
}
