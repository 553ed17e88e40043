package browser

import (
	"context"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"

	"github.com/nomadbarefoot/surf/internal/types"
)

// pageCloseTimeout bounds per-context teardown so one stuck page cannot
// stall the session reaper.
const pageCloseTimeout = 5 * time.Second

// ContextOptions carries the per-session settings applied when a context is
// created. Zero-value fields fall back to sensible defaults.
type ContextOptions struct {
	Viewport        *types.Viewport
	UserAgent       string
	Platform        string
	Mobile          bool
	Stealth         bool
	JavaScript      bool
	IgnoreTLSErrors bool
	BlockResources  []string
}

// PageContext is the per-session browser surface handed to the session
// registry and the operation executors. The production implementation wraps
// one page inside an isolated incognito browser context.
type PageContext interface {
	// Page returns the underlying page. Callers must not close it directly.
	Page() *rod.Page
	// Alive reports whether the context can still serve operations.
	Alive() bool
	// Close disposes the page and its browser context. Safe to call more
	// than once; only the first call performs teardown.
	Close(ctx context.Context) error
}

// ContextFactory creates isolated browser contexts. Pool is the production
// implementation; tests substitute fakes.
type ContextFactory interface {
	NewContext(ctx context.Context, opts ContextOptions) (PageContext, error)
	Healthy() bool
}

var _ ContextFactory = (*Pool)(nil)

// NewContext creates an incognito browser context with one page and applies
// the session's fingerprint, stealth, and interception settings. The browser
// process is launched (or relaunched after a crash) on demand.
func (p *Pool) NewContext(ctx context.Context, opts ContextOptions) (PageContext, error) {
	if p.closed.Load() {
		return nil, types.NewBrowserOperationError("new_context", errPoolClosed)
	}

	p.mu.Lock()
	browser, err := p.ensureBrowserLocked()
	p.mu.Unlock()
	if err != nil {
		p.stats.contextErrors.Add(1)
		return nil, err
	}

	incognito, err := browser.Incognito()
	if err != nil {
		p.stats.contextErrors.Add(1)
		return nil, types.NewBrowserOperationError("new_context", err)
	}

	sc := newSessionContext(p, incognito)
	page, err := incognito.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		sc.disposeBrowserContext(browser)
		p.stats.contextErrors.Add(1)
		return nil, types.NewBrowserOperationError("new_context", err)
	}
	sc.page = page

	if err := sc.apply(opts); err != nil {
		_ = sc.Close(ctx)
		p.stats.contextErrors.Add(1)
		return nil, err
	}

	p.openContexts.Add(1)
	p.stats.contextsTotal.Add(1)
	log.Debug().
		Str("target_id", string(page.TargetID)).
		Bool("stealth", opts.Stealth).
		Int("blocked_classes", len(opts.BlockResources)).
		Msg("Browser context created")
	return sc, nil
}

// sessionContext implements PageContext over a rod incognito browser handle.
// lifetime spans the whole session, not the create request: interception
// listeners derive from it, so they keep serving paused requests long after
// the admission handler has returned.
type sessionContext struct {
	pool    *Pool
	browser *rod.Browser
	page    *rod.Page
	cleanup func()

	lifetime context.Context
	stop     context.CancelFunc

	closeOnce sync.Once
	closeErr  error
	closed    bool
}

func newSessionContext(p *Pool, b *rod.Browser) *sessionContext {
	lifetime, stop := context.WithCancel(context.Background())
	return &sessionContext{pool: p, browser: b, lifetime: lifetime, stop: stop}
}

func (c *sessionContext) Page() *rod.Page { return c.page }

// Alive reports whether the page target still exists. A dead browser process
// or a disposed context both read as not alive.
func (c *sessionContext) Alive() bool {
	if c.closed || c.page == nil {
		return false
	}
	_, err := proto.TargetGetTargetInfo{TargetID: c.page.TargetID}.Call(c.page)
	return err == nil
}

// apply configures the fresh page per the session options, in order: device
// metrics and identity first, stealth injection, then interception. Stealth
// must land before any navigation so the init scripts run on every document.
func (c *sessionContext) apply(opts ContextOptions) error {
	width, height := 1920, 1080
	if opts.Viewport != nil {
		width, height = opts.Viewport.Width, opts.Viewport.Height
	}
	if err := SetViewport(c.page, width, height, opts.Mobile); err != nil {
		return types.NewBrowserOperationError("set_viewport", err)
	}

	if opts.UserAgent != "" {
		if err := SetUserAgent(c.page, opts.UserAgent, opts.Platform); err != nil {
			return types.NewBrowserOperationError("set_user_agent", err)
		}
	}

	if opts.Stealth {
		if err := ApplyStealth(c.page); err != nil {
			return types.NewBrowserOperationError("apply_stealth", err)
		}
	}

	if opts.IgnoreTLSErrors {
		if err := (proto.SecuritySetIgnoreCertificateErrors{Ignore: true}).Call(c.page); err != nil {
			return types.NewBrowserOperationError("ignore_tls_errors", err)
		}
	}

	if !opts.JavaScript {
		if err := (proto.EmulationSetScriptExecutionDisabled{Value: true}).Call(c.page); err != nil {
			return types.NewBrowserOperationError("disable_javascript", err)
		}
	}

	if len(opts.BlockResources) > 0 {
		cleanup, err := BlockResources(c.lifetime, c.page, opts.BlockResources)
		if err != nil {
			return types.NewBrowserOperationError("block_resources", err)
		}
		c.cleanup = cleanup
	}

	return nil
}

// Close disposes the page and the incognito context exactly once. Later
// calls return the first call's error.
func (c *sessionContext) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.closed = true
		c.stop()
		if c.cleanup != nil {
			c.cleanup()
		}
		c.closeErr = c.closePage()
		c.disposeBrowserContext(c.browser)
		c.pool.openContexts.Add(-1)
	})
	return c.closeErr
}

func (c *sessionContext) closePage() error {
	if c.page == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() {
		done <- c.page.Close()
	}()
	select {
	case err := <-done:
		if err != nil {
			log.Warn().Err(err).Msg("Page close reported error")
			return types.NewBrowserOperationError("close_page", err)
		}
		return nil
	case <-time.After(pageCloseTimeout):
		log.Warn().Dur("timeout", pageCloseTimeout).Msg("Timeout closing page")
		return nil
	}
}

// disposeBrowserContext tears down the incognito context on the shared
// process. Failure is logged only; the process-level teardown will sweep
// leftovers.
func (c *sessionContext) disposeBrowserContext(caller proto.Client) {
	if c.browser == nil || c.browser.BrowserContextID == "" {
		return
	}
	err := proto.TargetDisposeBrowserContext{
		BrowserContextID: c.browser.BrowserContextID,
	}.Call(caller)
	if err != nil {
		log.Debug().Err(err).Msg("Dispose browser context failed")
	}
}
