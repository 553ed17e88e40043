package handlers

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/nomadbarefoot/surf/internal/types"
)

func (h *Handler) navigate(w http.ResponseWriter, r *http.Request) {
	var req types.NavigateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.exec.Navigate(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

func (h *Handler) extract(w http.ResponseWriter, r *http.Request) {
	var req types.ExtractRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	key := h.extractCacheKey(&req)
	if key != "" {
		if v, ok, err := h.cache.Get(key); err == nil && ok {
			if res, ok := v.(*types.ExtractResult); ok {
				log.Debug().Str("session_id", req.SessionID).Str("key", key).
					Msg("Extract served from cache")
				writeData(w, http.StatusOK, res)
				return
			}
		}
	}

	res, err := h.exec.Extract(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	if key != "" && !res.IsCaptcha {
		if err := h.cache.Set(key, res); err != nil {
			log.Debug().Err(err).Msg("Extract cache store failed")
		}
	}
	writeData(w, http.StatusOK, res)
}

// extractCacheKey builds a response-cache key bound to the session's current
// page. Empty means caching is off or the page location is unknown.
func (h *Handler) extractCacheKey(req *types.ExtractRequest) string {
	if !h.cfg.EnableCache || h.cache == nil {
		return ""
	}
	info, err := h.registry.Stats(req.SessionID)
	if err != nil || info.URL == "" {
		return ""
	}
	return strings.Join([]string{"extract", req.SessionID, info.URL, req.Type, req.Selector}, "|")
}

func (h *Handler) extractStructured(w http.ResponseWriter, r *http.Request) {
	var req types.ExtractStructuredRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.exec.ExtractStructured(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

func (h *Handler) detectCaptcha(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
		TimeoutMs int    `json:"timeout,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.exec.DetectCaptcha(r.Context(), req.SessionID, req.TimeoutMs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

func (h *Handler) interact(w http.ResponseWriter, r *http.Request) {
	var req types.InteractRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.exec.Interact(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

func (h *Handler) screenshot(w http.ResponseWriter, r *http.Request) {
	var req types.ScreenshotRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.exec.Screenshot(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

func (h *Handler) batch(w http.ResponseWriter, r *http.Request) {
	var req types.BatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.exec.Batch(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, res)
}
