package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/traderd/internal/domain"
)

func identityEcho(t *testing.T, captured *domain.Identity) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*captured = IdentityFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthDisabledIsAnonymousAdmin(t *testing.T) {
	var id domain.Identity
	handler := Auth(false, nil)(identityEcho(t, &id))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "anonymous", id.Actor)
	assert.Equal(t, domain.RoleAdmin, id.Role)
}

func TestAuthResolvesKeys(t *testing.T) {
	keys := []KeyEntry{
		{Key: "admin-key", Actor: "alice", Role: domain.RoleAdmin},
		{Key: "viewer-key", Actor: "bob", Role: domain.RoleViewer},
	}

	testCases := []struct {
		desc      string
		setHeader func(*http.Request)
		wantCode  int
		wantActor string
		wantRole  domain.Role
	}{
		{
			"bearer token",
			func(r *http.Request) { r.Header.Set("Authorization", "Bearer admin-key") },
			http.StatusOK, "alice", domain.RoleAdmin,
		},
		{
			"x-api-key header",
			func(r *http.Request) { r.Header.Set("X-API-Key", "viewer-key") },
			http.StatusOK, "bob", domain.RoleViewer,
		},
		{
			"missing token",
			func(*http.Request) {},
			http.StatusUnauthorized, "", "",
		},
		{
			"unknown token",
			func(r *http.Request) { r.Header.Set("X-API-Key", "wrong") },
			http.StatusUnauthorized, "", "",
		},
		{
			"malformed authorization header",
			func(r *http.Request) { r.Header.Set("Authorization", "admin-key") },
			http.StatusUnauthorized, "", "",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			var id domain.Identity
			handler := Auth(true, keys)(identityEcho(t, &id))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tc.setHeader(req)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			require.Equal(t, tc.wantCode, rec.Code)
			if tc.wantCode == http.StatusOK {
				assert.Equal(t, tc.wantActor, id.Actor)
				assert.Equal(t, tc.wantRole, id.Role)
			}
		})
	}
}

func TestIdentityFromDefaultsToViewer(t *testing.T) {
	id := IdentityFrom(context.Background())
	assert.Equal(t, "anonymous", id.Actor)
	assert.Equal(t, domain.RoleViewer, id.Role)
	assert.False(t, id.Role.CanMutate())
}
