package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/traderd/internal/domain"
	"github.com/alanyoungcy/traderd/internal/server/middleware"
)

// writeJSON marshals v and writes it with the given status code. A marshal
// failure falls back to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseListOpts extracts pagination from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{Limit: limit, Offset: offset}
}

// parseLimit reads a bare limit parameter for endpoints without offsets.
func parseLimit(r *http.Request, def int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			return n
		}
	}
	return def
}

// requireMutate resolves the caller identity and rejects roles that cannot
// change state. It writes the 403 itself; callers just return on !ok.
func requireMutate(w http.ResponseWriter, r *http.Request) (domain.Identity, bool) {
	id := middleware.IdentityFrom(r.Context())
	if !id.Role.CanMutate() {
		writeError(w, http.StatusForbidden, "insufficient role for this operation")
		return id, false
	}
	return id, true
}

// requireAdmin is the stricter gate for operations reserved to admins.
func requireAdmin(w http.ResponseWriter, r *http.Request) (domain.Identity, bool) {
	id := middleware.IdentityFrom(r.Context())
	if id.Role != domain.RoleAdmin {
		writeError(w, http.StatusForbidden, "admin role required")
		return id, false
	}
	return id, true
}
