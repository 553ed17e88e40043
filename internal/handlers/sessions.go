package handlers

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/nomadbarefoot/surf/internal/types"
)

// createSessionRequest is the admission payload. All fields are optional;
// an empty body creates a session on configured defaults.
type createSessionRequest struct {
	types.SessionConfig
	UserID string `json:"user_id,omitempty"`
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}
	if err := req.SessionConfig.Validate(); err != nil {
		writeError(w, err)
		return
	}

	s, err := h.registry.Create(r.Context(), &req.SessionConfig, req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	info, err := h.registry.Stats(s.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, info)
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	infos := h.registry.List(userID)
	writeData(w, http.StatusOK, map[string]any{
		"sessions": infos,
		"count":    len(infos),
	})
}

func (h *Handler) sessionInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.registry.Stats(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, info)
}

func (h *Handler) sessionStats(w http.ResponseWriter, r *http.Request) {
	info, err := h.registry.Stats(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"session_id": info.ID,
		"stats":      info.Stats,
	})
}

func (h *Handler) closeSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.registry.Close(id); err != nil {
		writeError(w, err)
		return
	}
	log.Debug().Str("session_id", id).Msg("Session closed via API")
	writeData(w, http.StatusOK, map[string]any{"session_id": id, "closed": true})
}
