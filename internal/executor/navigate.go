package executor

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"

	"github.com/nomadbarefoot/surf/internal/humanize"
	"github.com/nomadbarefoot/surf/internal/metrics"
	"github.com/nomadbarefoot/surf/internal/ratelimit"
	"github.com/nomadbarefoot/surf/internal/security"
	"github.com/nomadbarefoot/surf/internal/session"
	"github.com/nomadbarefoot/surf/internal/sitememory"
	"github.com/nomadbarefoot/surf/internal/types"
)

const (
	navigateAttempts = 3
	navigateBackoff  = time.Second

	// domSettleTimeout caps the post-navigation readiness wait. Expiry is
	// not a failure; slow pages are served as-is.
	domSettleTimeout = 10 * time.Second

	// maxReadingWords caps the simulated reading pause on text-heavy pages.
	maxReadingWords = 250
)

const (
	readyStateJS = `() => document.readyState === "interactive" || document.readyState === "complete"`
	pageTextJS   = `() => document.body ? document.body.innerText : ""`

	// responseStatusJS reads the main document's HTTP status from the
	// navigation timing entry. Zero when the browser does not expose it.
	responseStatusJS = `() => {
		const e = performance.getEntriesByType("navigation")[0];
		return e && e.responseStatus ? e.responseStatus : 0;
	}`
)

// Navigate loads a URL in the session's page with retries, waits for the
// requested readiness condition, and screens the response for rate limiting
// and bot challenges.
func (e *Executor) Navigate(ctx context.Context, req *types.NavigateRequest) (*types.NavigateResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := types.ValidateURL(req.URL, e.cfg.MaxURLLength); err != nil {
		return nil, err
	}

	s, release, err := e.begin(req.SessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	opCtx, cancel := context.WithTimeout(ctx, e.timeout(req.TimeoutMs))
	defer cancel()

	start := time.Now()
	res, err := e.navigate(opCtx, s, req, start)
	e.finish(s, session.EventNavigate, start, err)
	return res, err
}

func (e *Executor) navigate(ctx context.Context, s *session.Session, req *types.NavigateRequest, start time.Time) (*types.NavigateResult, error) {
	page, err := e.pageFor(s, "navigate")
	if err != nil {
		return nil, err
	}
	if err := e.paceWait(ctx); err != nil {
		return nil, err
	}

	// SSRF screen: private ranges, loopback, and cloud metadata endpoints
	// are never legitimate scrape targets.
	if err := security.ValidateURL(req.URL); err != nil {
		return nil, types.NewValidationError("url", err.Error())
	}

	origin, originErr := sitememory.Origin(req.URL)
	if originErr != nil {
		origin = ""
	}

	p := page.Context(ctx)
	if e.memory != nil && origin != "" {
		if rec, err := e.memory.Get(ctx, origin); err == nil && rec != nil {
			log.Debug().Str("origin", origin).Int("cookies", len(rec.Cookies)).Msg("Site memory record found")
			restoreCookies(p, rec.Cookies)
		}
	}
	attempts := 0
	var navErr error
	for i := 0; i < navigateAttempts; i++ {
		attempts++
		navErr = navigateOnce(p, req.URL, req.WaitUntil)
		if navErr == nil {
			break
		}
		log.Warn().
			Err(navErr).
			Str("session_id", s.ID).
			Str("url", security.RedactURL(req.URL)).
			Int("attempt", attempts).
			Msg("Navigation attempt failed")
		if i < navigateAttempts-1 {
			if !humanize.SleepWithContext(ctx, navigateBackoff<<i) {
				navErr = ctx.Err()
				break
			}
		}
	}
	if navErr != nil {
		e.rememberAccess(origin, false, nil)
		return nil, types.NewBrowserOperationErrorWithDetails("navigate", navErr, map[string]any{
			"url":      req.URL,
			"attempts": attempts,
		})
	}

	settleCtx, settleCancel := context.WithTimeout(ctx, domSettleTimeout)
	_ = page.Context(settleCtx).Wait(rod.Eval(readyStateJS))
	settleCancel()

	bodyText := e.humanStage(ctx, p)

	status := 0
	if obj, err := p.Eval(responseStatusJS); err == nil {
		status = obj.Value.Int()
	}

	if info := ratelimit.Detect(status, bodyText); info.Detected {
		metrics.RecordBlockDetected(string(info.Category))
		log.Warn().
			Str("session_id", s.ID).
			Str("url", req.URL).
			Str("error_code", info.ErrorCode).
			Str("category", string(info.Category)).
			Msg("Navigation blocked by target site")
		e.rememberRules(origin, map[string]any{
			"last_block_code":     info.ErrorCode,
			"last_block_category": string(info.Category),
			"suggested_delay":     info.SuggestedDelay,
			"detected_at":         time.Now().UTC().Format(time.RFC3339),
		})
		e.rememberAccess(origin, false, nil)
		return nil, types.NewBrowserOperationErrorWithDetails("navigate",
			errors.New("blocked: "+info.Description), map[string]any{
				"url":             req.URL,
				"error_code":      info.ErrorCode,
				"category":        string(info.Category),
				"suggested_delay": info.SuggestedDelay,
			})
	}

	finalURL, title := req.URL, ""
	if info, err := p.Info(); err == nil {
		finalURL, title = info.URL, info.Title
	}
	s.SetLocation(finalURL, title)

	e.rememberAccess(origin, true, &sitememory.PerfSample{
		LoadTime: time.Since(start).Seconds(),
	})
	e.rememberTiming(origin, map[string]any{
		"last_load_seconds": time.Since(start).Seconds(),
		"wait_until":        req.WaitUntil,
		"attempts":          attempts,
	})
	e.rememberCookies(origin, p)

	log.Info().
		Str("session_id", s.ID).
		Str("url", security.RedactURL(finalURL)).
		Int("status", status).
		Int("attempts", attempts).
		Dur("elapsed", time.Since(start)).
		Msg("Navigation completed")

	return &types.NavigateResult{
		URL:        finalURL,
		Title:      title,
		Status:     status,
		DurationMs: durationMs(start),
		Attempts:   attempts,
	}, nil
}

// restoreCookies replays a remembered cookie snapshot into the page before
// navigation so the site sees a returning visitor. Malformed entries are
// skipped; a snapshot is a hint, not state the navigation depends on.
func restoreCookies(p *rod.Page, cookies []map[string]any) {
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		name, _ := c["name"].(string)
		value, _ := c["value"].(string)
		domain, _ := c["domain"].(string)
		if name == "" || domain == "" {
			continue
		}
		cp := &proto.NetworkCookieParam{Name: name, Value: value, Domain: domain}
		if path, ok := c["path"].(string); ok {
			cp.Path = path
		}
		if secure, ok := c["secure"].(bool); ok {
			cp.Secure = secure
		}
		if httpOnly, ok := c["http_only"].(bool); ok {
			cp.HTTPOnly = httpOnly
		}
		if expires, ok := c["expires"].(float64); ok && expires > 0 {
			cp.Expires = proto.TimeSinceEpoch(expires)
		}
		params = append(params, cp)
	}
	if len(params) == 0 {
		return
	}
	if err := p.SetCookies(params); err != nil {
		log.Debug().Err(err).Msg("Cookie restore skipped")
	}
}

// rememberCookies snapshots the page's cookie jar after a successful
// navigation so future sessions against the origin can replay it.
func (e *Executor) rememberCookies(origin string, p *rod.Page) {
	if e.memory == nil || origin == "" {
		return
	}
	cookies, err := p.Cookies(nil)
	if err != nil {
		log.Debug().Err(err).Str("origin", origin).Msg("Cookie snapshot skipped")
		return
	}
	if len(cookies) == 0 {
		return
	}
	jar := make([]map[string]any, 0, len(cookies))
	for _, c := range cookies {
		jar = append(jar, map[string]any{
			"name":      c.Name,
			"value":     c.Value,
			"domain":    c.Domain,
			"path":      c.Path,
			"expires":   float64(c.Expires),
			"http_only": c.HTTPOnly,
			"secure":    c.Secure,
		})
	}
	ctx, cancel := context.WithTimeout(context.Background(), siteMemoryTimeout)
	defer cancel()
	if err := e.memory.UpdateCookies(ctx, origin, jar); err != nil {
		log.Warn().Err(err).Str("origin", origin).Msg("Failed to record cookies")
	}
}

// navigateOnce performs a single navigation and blocks until the requested
// lifecycle event. "commit" returns as soon as the navigation lands.
func navigateOnce(page *rod.Page, url, waitUntil string) error {
	var wait func()
	if ev := lifecycleEventFor(waitUntil); ev != "" {
		wait = page.WaitNavigation(ev)
	}
	if err := page.Navigate(url); err != nil {
		return err
	}
	if wait != nil {
		wait()
	}
	return nil
}

func lifecycleEventFor(waitUntil string) proto.PageLifecycleEventName {
	switch waitUntil {
	case types.WaitDOMContentLoaded:
		return proto.PageLifecycleEventNameDOMContentLoaded
	case types.WaitNetworkIdle:
		return proto.PageLifecycleEventNameNetworkIdle
	case types.WaitCommit:
		return ""
	default:
		return proto.PageLifecycleEventNameLoad
	}
}

// humanStage runs the post-load human imitation pass: a small mouse wiggle
// plus a reading pause proportional to the visible text. Returns the body
// text so the caller can reuse it for block detection.
func (e *Executor) humanStage(ctx context.Context, p *rod.Page) string {
	if e.cfg.EnableEnhancedMouseMovement {
		if err := humanize.NewMouse(p).Wiggle(ctx, 3); err != nil {
			log.Debug().Err(err).Msg("Mouse wiggle skipped")
		}
	}

	var bodyText string
	if obj, err := p.Eval(pageTextJS); err == nil {
		bodyText = obj.Value.Str()
	}
	words := len(strings.Fields(bodyText))
	if words > maxReadingWords {
		words = maxReadingWords
	}
	humanize.ReadingSleep(ctx, words)
	return bodyText
}
