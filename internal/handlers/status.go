package handlers

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nomadbarefoot/surf/internal/assets"
	"github.com/nomadbarefoot/surf/internal/browser"
	"github.com/nomadbarefoot/surf/internal/monitor"
	"github.com/nomadbarefoot/surf/internal/pacer"
	"github.com/nomadbarefoot/surf/internal/session"
	"github.com/nomadbarefoot/surf/internal/sitememory"
	"github.com/nomadbarefoot/surf/pkg/version"
)

// StatusResponse aggregates the live view of the service for the status
// endpoint and the terminal dashboard. Sections whose subsystem is disabled
// are omitted.
type StatusResponse struct {
	Version       string            `json:"version"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	Sessions      SessionsStatus    `json:"sessions"`
	Monitor       *monitor.Summary  `json:"monitor,omitempty"`
	Pool          *browser.Stats    `json:"pool,omitempty"`
	Pacer         *pacer.Snapshot   `json:"pacer,omitempty"`
	SiteMemory    *sitememory.Stats `json:"site_memory,omitempty"`
}

// SessionsStatus summarizes registry occupancy.
type SessionsStatus struct {
	Active int            `json:"active"`
	Max    int            `json:"max"`
	List   []session.Info `json:"list"`
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Version:       version.Full(),
		UptimeSeconds: time.Since(h.startedAt).Seconds(),
		Sessions: SessionsStatus{
			Active: h.registry.Count(),
			Max:    h.cfg.MaxSessions,
			List:   h.registry.List(""),
		},
	}

	if h.mon != nil {
		s := h.mon.Summarize()
		resp.Monitor = &s
	}
	if h.pool != nil {
		s := h.pool.SnapshotStats()
		resp.Pool = &s
	}
	if h.pace != nil {
		s := h.pace.Stats()
		resp.Pacer = &s
	}
	if h.memory != nil {
		if s, err := h.memory.Stats(r.Context()); err == nil {
			resp.SiteMemory = &s
		} else {
			log.Debug().Err(err).Msg("Site memory stats unavailable")
		}
	}

	writeData(w, http.StatusOK, resp)
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	status := http.StatusOK
	state := "ok"
	if h.pool != nil && !h.pool.Healthy() {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status":  state,
		"version": version.Full(),
	})
}

// index serves the human-facing landing page.
func (h *Handler) index(w http.ResponseWriter, _ *http.Request) {
	page, err := assets.RenderIndexPage(assets.IndexPageData{
		Version:     version.Full(),
		GoVersion:   version.GoVersion(),
		Uptime:      time.Since(h.startedAt).Round(time.Second).String(),
		Sessions:    h.registry.Count(),
		MaxSessions: h.cfg.MaxSessions,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to render landing page")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write([]byte(page)); err != nil {
		log.Debug().Err(err).Msg("Failed to write landing page")
	}
}

func (h *Handler) version(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, map[string]string{
		"version":    version.Full(),
		"go_version": version.GoVersion(),
	})
}
