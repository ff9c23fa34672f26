// Package auth carries the verified principal identity through request
// context. The engine never reads a user id from a request body; the
// only trusted identity is the one the authentication gateway attaches
// to the request, which structurally rules out impersonation.
package auth

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/predex/ledger-engine/internal/model"
)

// Headers set by the authentication collaborator after verifying the
// session. Requests reaching this service bypass the gateway only in
// tests.
const (
	HeaderPrincipal = "X-Auth-Principal"
	HeaderRole      = "X-Auth-Role"
)

// Principal is the authenticated identity an operation executes for.
type Principal struct {
	ID   string
	Role string
}

// Admin reports whether the principal holds the elevated role.
func (p Principal) Admin() bool {
	return p.Role == model.RoleAdmin
}

type ctxKey struct{}

// WithPrincipal returns a context carrying the principal.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// FromContext extracts the principal placed by Middleware.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok
}

// Middleware extracts the verified identity headers into the request
// context. Requests without a principal are rejected before reaching
// any handler.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderPrincipal)
		if id == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "missing principal"})
			return
		}

		role := r.Header.Get(HeaderRole)
		if role == "" {
			role = model.RoleUser
		}

		ctx := WithPrincipal(r.Context(), Principal{ID: id, Role: role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
