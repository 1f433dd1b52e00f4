package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/xtrntr/auction/internal/apperr"
	"github.com/xtrntr/auction/internal/auth"
)

type contextKey struct{}

var identityKey = contextKey{}

// tokenFrom reads the session token from X-Authorization, falling back to
// an Authorization bearer token.
func tokenFrom(r *http.Request) string {
	if token := strings.TrimSpace(r.Header.Get("X-Authorization")); token != "" {
		return token
	}
	token := strings.TrimSpace(r.Header.Get("Authorization"))
	// Remove "Bearer " prefix if present
	if len(token) > 7 && strings.EqualFold(token[:7], "Bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	return token
}

// identityFrom returns the caller attached by RequireAuth or OptionalAuth
func identityFrom(ctx context.Context) (auth.Identity, bool) {
	id, ok := ctx.Value(identityKey).(auth.Identity)
	return id, ok
}

// RequireAuth rejects requests without a valid session token
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := tokenFrom(r)
		if token == "" {
			writeError(w, apperr.Unauthenticated("Unauthorized"))
			return
		}
		id, err := h.Auth.Authenticate(r.Context(), token)
		if err != nil {
			writeError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), identityKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OptionalAuth attaches the caller when a valid token is present and lets
// anonymous requests through otherwise.
func (h *Handler) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := tokenFrom(r)
		if token != "" {
			if id, err := h.Auth.Authenticate(r.Context(), token); err == nil {
				r = r.WithContext(context.WithValue(r.Context(), identityKey, id))
			}
		}
		next.ServeHTTP(w, r)
	})
}
