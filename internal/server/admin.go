package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	pagecache "github.com/eugener/pagecache/internal"
	"github.com/eugener/pagecache/internal/app"
)

// maxAdminBody is the maximum allowed admin request body size (1 MB).
const maxAdminBody = 1 << 20

// decodeJSON limits body size, decodes JSON into v, and writes a 400 on error.
// Returns true if decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxAdminBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return false
	}
	return true
}

// writeAdminError logs the full error server-side and returns a sanitized
// message to the client to avoid leaking internal details (e.g. SQLite errors).
func writeAdminError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	switch {
	case errors.Is(err, pagecache.ErrNotFound):
		writeJSON(w, status, errorResponse("not found"))
	case errors.Is(err, pagecache.ErrConflict):
		writeJSON(w, status, errorResponse("conflict"))
	case errors.Is(err, pagecache.ErrBadRequest):
		writeJSON(w, status, errorResponse(err.Error()))
	default:
		slog.LogAttrs(r.Context(), slog.LevelError, "admin error",
			slog.String("error", err.Error()),
		)
		writeJSON(w, status, errorResponse("internal error"))
	}
}

// --- Pagination helpers ---

type pagination struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
	Total  int `json:"total"`
}

type listResponse struct {
	Data       any        `json:"data"`
	Pagination pagination `json:"pagination"`
}

func parsePagination(r *http.Request) (offset, limit int) {
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return
}

// parseSinceUntil validates optional since/until RFC3339 query params.
// Writes 400 and returns false on invalid format.
func parseSinceUntil(w http.ResponseWriter, r *http.Request) (since, until string, ok bool) {
	q := r.URL.Query()
	since, until = q.Get("since"), q.Get("until")
	// Timestamps are compared as strings in SQLite; a malformed bound would
	// silently produce empty results instead of a clear error.
	if since != "" {
		if _, err := time.Parse(time.RFC3339, since); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse("invalid since format, use RFC3339"))
			return "", "", false
		}
	}
	if until != "" {
		if _, err := time.Parse(time.RFC3339, until); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse("invalid until format, use RFC3339"))
			return "", "", false
		}
	}
	return since, until, true
}

// parseExpiresAt parses an optional RFC3339 expires_at string pointer.
// Writes 400 and returns false on invalid format.
func parseExpiresAt(w http.ResponseWriter, raw *string) (*time.Time, bool) {
	if raw == nil {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, *raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid expires_at format"))
		return nil, false
	}
	return &t, true
}

// --- Page views ---

func (s *server) handleQueryPageViews(w http.ResponseWriter, r *http.Request) {
	if s.deps.Analytics == nil {
		writeJSON(w, http.StatusNotFound, errorResponse("analytics disabled"))
		return
	}
	since, until, ok := parseSinceUntil(w, r)
	if !ok {
		return
	}
	offset, limit := parsePagination(r)
	filter := pagecache.PageViewFilter{
		Tag:    r.URL.Query().Get("tag"),
		Since:  since,
		Until:  until,
		Offset: offset,
		Limit:  limit,
	}
	views, err := s.deps.Analytics.QueryPageViews(r.Context(), filter)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("failed to query page views"))
		return
	}
	total, _ := s.deps.Analytics.CountPageViews(r.Context(), filter)
	if views == nil {
		views = []pagecache.PageView{}
	}
	writeJSON(w, http.StatusOK, listResponse{
		Data:       views,
		Pagination: pagination{Offset: offset, Limit: limit, Total: total},
	})
}

func (s *server) handleQueryRollups(w http.ResponseWriter, r *http.Request) {
	if s.deps.Analytics == nil {
		writeJSON(w, http.StatusNotFound, errorResponse("analytics disabled"))
		return
	}
	since, until, ok := parseSinceUntil(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := pagecache.RollupFilter{
		Tag:    q.Get("tag"),
		Period: q.Get("period"),
		Since:  since,
		Until:  until,
	}
	rollups, err := s.deps.Analytics.QueryRollups(r.Context(), filter)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("failed to query rollups"))
		return
	}
	if rollups == nil {
		rollups = []pagecache.PageViewRollup{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": rollups})
}

// --- Keys ---

type keyCreateRequest struct {
	Name      string  `json:"name"`
	Role      string  `json:"role"`
	ExpiresAt *string `json:"expires_at"`
}

type keyCreateResponse struct {
	*pagecache.APIKey
	PlaintextKey string `json:"key"`
}

func (s *server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	offset, limit := parsePagination(r)
	keys, err := s.deps.Keys.ListKeys(r.Context(), offset, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("failed to list keys"))
		return
	}
	if keys == nil {
		keys = []*pagecache.APIKey{}
	}
	writeJSON(w, http.StatusOK, listResponse{
		Data:       keys,
		Pagination: pagination{Offset: offset, Limit: limit, Total: len(keys)},
	})
}

func (s *server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	var req keyCreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	expiresAt, ok := parseExpiresAt(w, req.ExpiresAt)
	if !ok {
		return
	}

	plaintext, key, err := s.deps.Keys.CreateKey(r.Context(), app.CreateKeyOpts{
		Name:      req.Name,
		Role:      req.Role,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		writeAdminError(w, r, err)
		return
	}

	w.Header().Set("Location", "/admin/v1/keys/"+key.ID)
	writeJSON(w, http.StatusCreated, keyCreateResponse{
		APIKey:       key,
		PlaintextKey: plaintext,
	})
}

func (s *server) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	// A caller may not delete the key it authenticated with.
	if identity := pagecache.IdentityFromContext(r.Context()); identity != nil && identity.KeyID == id {
		writeJSON(w, http.StatusConflict, errorResponse("cannot delete the key used for this request"))
		return
	}
	if err := s.deps.Keys.DeleteKey(r.Context(), id); err != nil {
		writeAdminError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Cache ---

type cacheStatusResponse struct {
	Enabled      bool   `json:"enabled"`
	Backend      string `json:"backend"`
	BreakerState string `json:"breaker_state"`
	LifetimeS    int64  `json:"lifetime_s"`
	CacheControl bool   `json:"cache_control"`
	SingleFlight bool   `json:"single_flight"`
}

func (s *server) handleCacheStatus(w http.ResponseWriter, _ *http.Request) {
	opts := s.deps.Cache.Options()
	resp := cacheStatusResponse{
		Enabled:      opts.Enabled,
		Backend:      "none",
		BreakerState: "none",
		LifetimeS:    int64(opts.Lifetime / time.Second),
		CacheControl: opts.CacheControl,
		SingleFlight: opts.SingleFlight,
	}
	if cs := s.deps.CacheStatus; cs != nil {
		resp.Backend = cs.Name()
		resp.BreakerState = cs.BreakerState().String()
	}
	writeJSON(w, http.StatusOK, resp)
}
