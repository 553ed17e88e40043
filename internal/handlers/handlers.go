// Package handlers provides the HTTP surface of the surf service: session
// lifecycle, browser operations, and status reporting over a uniform
// JSON envelope.
package handlers

import (
	"context"
	"time"

	"github.com/nomadbarefoot/surf/internal/browser"
	"github.com/nomadbarefoot/surf/internal/cache"
	"github.com/nomadbarefoot/surf/internal/config"
	"github.com/nomadbarefoot/surf/internal/monitor"
	"github.com/nomadbarefoot/surf/internal/pacer"
	"github.com/nomadbarefoot/surf/internal/session"
	"github.com/nomadbarefoot/surf/internal/sitememory"
	"github.com/nomadbarefoot/surf/internal/types"
)

// Executor runs browser operations against registered sessions.
// *executor.Executor satisfies it; tests substitute stubs.
type Executor interface {
	Navigate(ctx context.Context, req *types.NavigateRequest) (*types.NavigateResult, error)
	Extract(ctx context.Context, req *types.ExtractRequest) (*types.ExtractResult, error)
	ExtractStructured(ctx context.Context, req *types.ExtractStructuredRequest) (*types.ExtractResult, error)
	DetectCaptcha(ctx context.Context, sessionID string, timeoutMs int) (*types.CaptchaResult, error)
	Interact(ctx context.Context, req *types.InteractRequest) (*types.InteractResult, error)
	Screenshot(ctx context.Context, req *types.ScreenshotRequest) (*types.ScreenshotResult, error)
	Batch(ctx context.Context, req *types.BatchRequest) (*types.BatchResult, error)
}

// Deps carries everything the handlers reach into. Pool, Pacer, Monitor,
// Memory, and Cache may be nil; the matching endpoints degrade to omitting
// those sections.
type Deps struct {
	Config   *config.Config
	Registry *session.Registry
	Exec     Executor
	Pool     *browser.Pool
	Pace     *pacer.Pacer
	Monitor  *monitor.Monitor
	Memory   *sitememory.Store
	Cache    *cache.Service
}

// Handler serves the API routes.
type Handler struct {
	cfg       *config.Config
	registry  *session.Registry
	exec      Executor
	pool      *browser.Pool
	pace      *pacer.Pacer
	mon       *monitor.Monitor
	memory    *sitememory.Store
	cache     *cache.Service
	startedAt time.Time
}

// New creates a Handler from its dependencies.
func New(deps Deps) *Handler {
	return &Handler{
		cfg:       deps.Config,
		registry:  deps.Registry,
		exec:      deps.Exec,
		pool:      deps.Pool,
		pace:      deps.Pace,
		mon:       deps.Monitor,
		memory:    deps.Memory,
		cache:     deps.Cache,
		startedAt: time.Now(),
	}
}
