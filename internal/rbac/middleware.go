// Package rbac gates HTTP handlers on the principal role asserted by the
// identity gateway. Authentication itself happens upstream; the gateway
// forwards the verified actor in X-Actor-ID and X-Actor-Role headers.
package rbac

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/pharmacore/pharmacore/internal/shared"
)

const (
	actorIDHeader   = "X-Actor-ID"
	actorRoleHeader = "X-Actor-Role"
)

// Middleware wires role authorization helpers for HTTP handlers.
type Middleware struct {
	Logger *slog.Logger
}

// Principal extracts the forwarded principal and stores it in context.
// Requests without a valid actor are rejected.
func (m Middleware) Principal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(actorIDHeader))
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		role := shared.Role(strings.ToLower(strings.TrimSpace(r.Header.Get(actorRoleHeader))))
		if role == "" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		ctx := shared.ContextWithPrincipal(r.Context(), shared.Principal{ID: id, Role: role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Require gates on a principal predicate, so the policy helpers on
// shared.Principal stay the single source of role policy.
func (m Middleware) Require(allowed func(shared.Principal) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := shared.PrincipalFromContext(r.Context())
			if !ok {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			if !allowed(principal) {
				if m.Logger != nil {
					m.Logger.Warn("role denied",
						slog.Int64("actor_id", principal.ID),
						slog.String("role", string(principal.Role)),
						slog.String("path", r.URL.Path))
				}
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAny ensures the current principal holds at least one of the roles.
func (m Middleware) RequireAny(roles ...shared.Role) func(http.Handler) http.Handler {
	allowed := make(map[shared.Role]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(allowed) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			principal, ok := shared.PrincipalFromContext(r.Context())
			if !ok {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			if _, ok := allowed[principal.Role]; !ok {
				if m.Logger != nil {
					m.Logger.Warn("role denied",
						slog.Int64("actor_id", principal.ID),
						slog.String("role", string(principal.Role)),
						slog.String("path", r.URL.Path))
				}
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
