// Package executor runs browser operations against live sessions. Every
// operation goes through the same frame: resolve the session, take its
// operation lock, pace the request, run the action against the session's
// page, then fold the outcome back into session stats, the pacer, and the
// resource monitor.
package executor

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/rs/zerolog/log"

	"github.com/nomadbarefoot/surf/internal/config"
	"github.com/nomadbarefoot/surf/internal/content"
	"github.com/nomadbarefoot/surf/internal/metrics"
	"github.com/nomadbarefoot/surf/internal/monitor"
	"github.com/nomadbarefoot/surf/internal/pacer"
	"github.com/nomadbarefoot/surf/internal/session"
	"github.com/nomadbarefoot/surf/internal/sitememory"
	"github.com/nomadbarefoot/surf/internal/types"
)

// siteMemoryTimeout bounds site memory writes so a slow disk never holds an
// operation's caller hostage.
const siteMemoryTimeout = 5 * time.Second

// Deps carries the collaborating services an Executor needs. Memory, Monitor,
// and Dedup may be nil when the matching feature is disabled.
type Deps struct {
	Registry *session.Registry
	Pacer    *pacer.Pacer
	Patterns *content.Manager
	Memory   *sitememory.Store
	Monitor  *monitor.Monitor
	Dedup    *content.Deduplicator
}

// Executor dispatches browser operations for the HTTP layer.
type Executor struct {
	cfg      *config.Config
	registry *session.Registry
	pace     *pacer.Pacer
	patterns *content.Manager
	memory   *sitememory.Store
	mon      *monitor.Monitor
	dedup    *content.Deduplicator

	// run is the batch dispatch target, replaceable in tests.
	run func(ctx context.Context, sessionID string, op types.BatchOperation) (any, error)

	// prevSuccess is the outcome of the most recent operation, fed to the
	// pacer at the start of the next one.
	prevSuccess atomic.Bool
}

// New wires an Executor from its dependencies.
func New(cfg *config.Config, deps Deps) *Executor {
	e := &Executor{
		cfg:      cfg,
		registry: deps.Registry,
		pace:     deps.Pacer,
		patterns: deps.Patterns,
		memory:   deps.Memory,
		mon:      deps.Monitor,
		dedup:    deps.Dedup,
	}
	e.run = e.dispatch
	e.prevSuccess.Store(true)
	return e
}

// begin resolves the session and takes its operation lock. The returned
// release function must be called when the operation finishes. A session
// closed while we waited on the lock reports SessionNotFound, the same as
// if the close had landed before the lookup.
func (e *Executor) begin(sessionID string) (*session.Session, func(), error) {
	s, err := e.registry.Get(sessionID)
	if err != nil {
		return nil, nil, err
	}
	s.Lock()
	if s.Closed() {
		s.Unlock()
		return nil, nil, types.NewSessionNotFoundError(sessionID)
	}
	return s, s.Unlock, nil
}

// pageFor returns the session's live page, or marks the session errored when
// its browser context has gone away.
func (e *Executor) pageFor(s *session.Session, op string) (*rod.Page, error) {
	if s.Context == nil || !s.Context.Alive() {
		s.MarkError("browser context disconnected")
		log.Warn().
			Str("session_id", s.ID).
			Str("operation", op).
			Msg("Session browser context is gone")
		return nil, types.NewBrowserOperationError(op, errors.New("browser context disconnected"))
	}
	return s.Context.Page(), nil
}

// paceWait reports the previous operation's outcome to the adaptive pacer and
// sleeps the resulting delay. A no-op when adaptive rate limiting is off.
func (e *Executor) paceWait(ctx context.Context) error {
	if e.pace == nil || !e.cfg.EnableAdaptiveRateLimiting {
		return nil
	}
	return e.pace.Wait(ctx, e.prevSuccess.Load())
}

// finish records the operation outcome on the session, the pacer state, and
// the resource monitor.
func (e *Executor) finish(s *session.Session, kind string, start time.Time, opErr error) {
	elapsed := time.Since(start)
	success := opErr == nil
	e.prevSuccess.Store(success)

	ev := session.Event{Kind: kind, Duration: elapsed, Success: success}
	if opErr != nil {
		ev.Error = opErr.Error()
	}
	e.registry.UpdateStats(s.ID, ev)

	if e.mon != nil {
		e.mon.RecordOperation(s.ID, success, elapsed)
	}

	status := "ok"
	if opErr != nil {
		status = "error"
	}
	metrics.RecordOperation(kind, status, elapsed)
	if e.pace != nil {
		metrics.UpdatePacerMetrics(e.pace.CurrentDelay())
	}
}

// timeout converts a per-request timeout, falling back to the configured
// default and clamping to the page load ceiling.
func (e *Executor) timeout(ms int) time.Duration {
	d := time.Duration(ms) * time.Millisecond
	if ms <= 0 {
		d = e.cfg.DefaultTimeout
	}
	if e.cfg.MaxPageLoadTimeout > 0 && d > e.cfg.MaxPageLoadTimeout {
		d = e.cfg.MaxPageLoadTimeout
	}
	return d
}

// pats returns the active pattern set, falling back to the compiled defaults
// when no manager is wired.
func (e *Executor) pats() *content.Patterns {
	if e.patterns != nil {
		return e.patterns.Active()
	}
	return content.Defaults()
}

// rememberAccess records an origin access in site memory on its own deadline.
func (e *Executor) rememberAccess(origin string, success bool, perf *sitememory.PerfSample) {
	if e.memory == nil || origin == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), siteMemoryTimeout)
	defer cancel()
	if err := e.memory.UpdateAccess(ctx, origin, success, perf); err != nil {
		log.Warn().Err(err).Str("origin", origin).Msg("Failed to record site access")
	}
}

// rememberRules merges anti-detection observations into site memory.
func (e *Executor) rememberRules(origin string, rules map[string]any) {
	if e.memory == nil || origin == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), siteMemoryTimeout)
	defer cancel()
	if err := e.memory.UpdateAntiDetectionRules(ctx, origin, rules); err != nil {
		log.Warn().Err(err).Str("origin", origin).Msg("Failed to record anti-detection rules")
	}
}

// rememberTiming folds observed navigation timing into site memory.
func (e *Executor) rememberTiming(origin string, timing map[string]any) {
	if e.memory == nil || origin == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), siteMemoryTimeout)
	defer cancel()
	if err := e.memory.UpdateTimingPatterns(ctx, origin, timing); err != nil {
		log.Warn().Err(err).Str("origin", origin).Msg("Failed to record timing patterns")
	}
}

// rememberExtraction records what worked for a successful extraction, keyed
// off the session's current page, so later visits to the origin can start
// from the same selectors.
func (e *Executor) rememberExtraction(s *session.Session, req *types.ExtractRequest, res *types.ExtractResult) {
	if e.memory == nil || res == nil {
		return
	}
	pageURL, _ := s.Location()
	origin, err := sitememory.Origin(pageURL)
	if err != nil || origin == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), siteMemoryTimeout)
	defer cancel()

	patterns := map[string]any{
		req.Type: map[string]any{
			"selector":     req.Selector,
			"succeeded_at": time.Now().UTC().Format(time.RFC3339),
		},
	}
	if err := e.memory.UpdateExtractionPatterns(ctx, origin, patterns); err != nil {
		log.Warn().Err(err).Str("origin", origin).Msg("Failed to record extraction patterns")
	}
	if req.Selector != "" {
		if err := e.memory.UpdateOptimalSelectors(ctx, origin, map[string]string{req.Type: req.Selector}); err != nil {
			log.Warn().Err(err).Str("origin", origin).Msg("Failed to record optimal selectors")
		}
	}
	if res.ContentKind != "" {
		traits := map[string]any{
			"content_type":       res.ContentKind,
			"content_confidence": res.Confidence,
		}
		if err := e.memory.UpdateSiteCharacteristics(ctx, origin, traits); err != nil {
			log.Warn().Err(err).Str("origin", origin).Msg("Failed to record site characteristics")
		}
	}
}

func durationMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
