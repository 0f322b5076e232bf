package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/alanyoungcy/traderd/internal/domain"
)

type contextKey struct{}

var identityKey = contextKey{}

// KeyEntry maps one API key to an actor name and role.
type KeyEntry struct {
	Key   string
	Actor string
	Role  domain.Role
}

// Auth returns middleware that resolves the caller's identity from a Bearer
// token or X-API-Key header against the configured key set. With enabled
// false every request runs as an anonymous admin; that is the development
// default. Unknown or missing keys get a 401.
func Auth(enabled bool, keys []KeyEntry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled {
				ctx := withIdentity(r.Context(), domain.Identity{Actor: "anonymous", Role: domain.RoleAdmin})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			token := extractToken(r)
			if token == "" {
				writeUnauthorized(w, "missing authentication token")
				return
			}

			for _, entry := range keys {
				if subtle.ConstantTimeCompare([]byte(token), []byte(entry.Key)) == 1 {
					ctx := withIdentity(r.Context(), domain.Identity{Actor: entry.Actor, Role: entry.Role})
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}
			writeUnauthorized(w, "invalid authentication token")
		})
	}
}

func withIdentity(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom returns the caller identity attached by Auth. Requests that
// bypassed the middleware read as an anonymous viewer.
func IdentityFrom(ctx context.Context) domain.Identity {
	if id, ok := ctx.Value(identityKey).(domain.Identity); ok {
		return id
	}
	return domain.Identity{Actor: "anonymous", Role: domain.RoleViewer}
}

// extractToken looks for a Bearer token in the Authorization header or a
// static key in X-API-Key.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}
	return ""
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
