package handlers

import (
	"net/http"
	"strconv"

	"github.com/nomadbarefoot/surf/internal/types"
)

// maxTopSitesLimit caps the leaderboard page size.
const maxTopSitesLimit = 100

// topSiteSorts whitelists the sort parameter for the leaderboard.
var topSiteSorts = map[string]bool{
	"access_count":  true,
	"success_rate":  true,
	"last_accessed": true,
}

// topSites serves the site memory leaderboard: the most visited origins with
// their success rates, ordered by the requested column.
func (h *Handler) topSites(w http.ResponseWriter, r *http.Request) {
	if h.memory == nil {
		writeSiteMemoryDisabled(w)
		return
	}

	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, types.NewValidationError("limit", "must be a positive integer"))
			return
		}
		if n > maxTopSitesLimit {
			n = maxTopSitesLimit
		}
		limit = n
	}

	sortBy := r.URL.Query().Get("sort")
	if sortBy == "" {
		sortBy = "access_count"
	}
	if !topSiteSorts[sortBy] {
		writeError(w, types.NewValidationError("sort",
			"must be one of access_count, success_rate, last_accessed"))
		return
	}

	sites, err := h.memory.Top(r.Context(), limit, sortBy)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"sites": sites,
		"count": len(sites),
		"sort":  sortBy,
	})
}

// searchSites finds origins whose learned extraction patterns, site
// characteristics, or custom data carry a key/value pair, grouped by
// registrable domain.
func (h *Handler) searchSites(w http.ResponseWriter, r *http.Request) {
	if h.memory == nil {
		writeSiteMemoryDisabled(w)
		return
	}

	key := r.URL.Query().Get("key")
	if key == "" {
		writeError(w, types.NewValidationError("key", "query parameter is required"))
		return
	}
	value := r.URL.Query().Get("value")

	grouped, err := h.memory.SearchByPattern(r.Context(), key, value)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"domains": grouped,
		"count":   len(grouped),
	})
}

func writeSiteMemoryDisabled(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, errorEnvelope{Error: errorBody{
		Code:    types.CodeConfiguration,
		Message: "site memory is disabled",
	}})
}
