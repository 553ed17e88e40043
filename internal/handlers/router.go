package handlers

import "net/http"

// Routes builds the route table. Method and path-parameter matching is done
// by the standard mux patterns.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/sessions", h.createSession)
	mux.HandleFunc("GET /api/v1/sessions", h.listSessions)
	mux.HandleFunc("GET /api/v1/sessions/{id}", h.sessionInfo)
	mux.HandleFunc("GET /api/v1/sessions/{id}/stats", h.sessionStats)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", h.closeSession)

	mux.HandleFunc("POST /api/v1/browser/navigate", h.navigate)
	mux.HandleFunc("POST /api/v1/browser/extract", h.extract)
	mux.HandleFunc("POST /api/v1/browser/extract-structured", h.extractStructured)
	mux.HandleFunc("POST /api/v1/browser/detect-captcha", h.detectCaptcha)
	mux.HandleFunc("POST /api/v1/browser/interact", h.interact)
	mux.HandleFunc("POST /api/v1/browser/screenshot", h.screenshot)
	mux.HandleFunc("POST /api/v1/browser/batch", h.batch)

	mux.HandleFunc("GET /api/v1/sites/top", h.topSites)
	mux.HandleFunc("GET /api/v1/sites/search", h.searchSites)

	mux.HandleFunc("GET /api/v1/status", h.status)
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /version", h.version)
	mux.HandleFunc("GET /{$}", h.index)

	return mux
}
