// Package browser owns the shared browser process and hands out isolated
// incognito contexts, one per session. The process is launched lazily on the
// first context request and relaunched on demand if it dies; sessions created
// against the dead process surface the failure on their next operation.
package browser

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"

	"github.com/nomadbarefoot/surf/internal/config"
	"github.com/nomadbarefoot/surf/internal/types"
)

// browserCloseTimeout bounds how long shutdown waits for the browser process.
const browserCloseTimeout = 10 * time.Second

var errPoolClosed = errors.New("browser pool is closed")

// Pool manages the single long-lived browser process and creates isolated
// contexts for sessions. All methods are safe for concurrent use.
//
// Lock ordering: mu protects browser/lc; never hold mu while performing slow
// browser I/O other than launch itself.
type Pool struct {
	cfg *config.Config

	mu      sync.Mutex
	browser *rod.Browser
	lc      *launcher.Launcher

	closed       atomic.Bool
	openContexts atomic.Int64
	stats        poolStats
}

type poolStats struct {
	launches      atomic.Int64
	contextsTotal atomic.Int64
	contextErrors atomic.Int64
}

// Stats is a point-in-time snapshot of pool activity.
type Stats struct {
	Running       bool  `json:"running"`
	OpenContexts  int64 `json:"open_contexts"`
	ContextsTotal int64 `json:"contexts_total"`
	ContextErrors int64 `json:"context_errors"`
	Launches      int64 `json:"launches"`
}

// NewPool creates a pool. The browser process is not launched until the
// first NewContext call.
func NewPool(cfg *config.Config) *Pool {
	log.Info().
		Bool("headless", cfg.Headless).
		Str("browser_path", cfg.BrowserPath).
		Msg("Browser pool created")
	return &Pool{cfg: cfg}
}

// createLauncher builds a fresh launcher with the anti-automation flag set.
// Launchers are single-use, so every (re)launch gets a new one.
func (p *Pool) createLauncher() *launcher.Launcher {
	l := launcher.New()

	if p.cfg.BrowserPath != "" {
		l = l.Bin(p.cfg.BrowserPath)
	}

	// "new" headless mode ships the regular binary's fingerprint surface;
	// the old mode identifies itself as HeadlessChrome.
	if p.cfg.Headless {
		l = l.Set("headless", "new")
	} else {
		l = l.Headless(false)
	}

	// Container-friendly sandboxing
	l = l.Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-dev-shm-usage")

	// WebRTC must not leak real local addresses
	l = l.Set("force-webrtc-ip-handling-policy", "disable_non_proxied_udp")

	// Automation markers
	l = l.Set("disable-blink-features", "AutomationControlled")
	l = l.Delete("enable-automation")
	l = l.Set("disable-features", "Translate,TranslateUI,BlinkGenPropertyTrees,WebRtcHideLocalIpsWithMdns")
	l = l.Set("enable-features", "NetworkService,NetworkServiceInProcess")

	// SwiftShader gives a realistic software WebGL fingerprint everywhere,
	// ARM included. An empty WebGL context is itself a detection signal.
	l = l.Set("use-gl", "swiftshader").
		Set("use-angle", "swiftshader").
		Set("enable-unsafe-swiftshader").
		Set("enable-webgl").
		Set("enable-webgl2")

	if p.cfg.IgnoreCertErrors {
		l = l.Set("ignore-certificate-errors").
			Set("ignore-ssl-errors")
	}

	// Realistic browser behavior
	l = l.Set("accept-lang", "en-US,en;q=0.9").
		Set("no-first-run").
		Set("no-default-browser-check").
		Set("disable-infobars").
		Set("disable-search-engine-choice-screen").
		Set("window-size", "1920,1080")

	// Stability in containers
	l = l.Set("disable-background-networking").
		Set("disable-default-apps").
		Set("disable-extensions").
		Set("disable-sync").
		Set("mute-audio").
		Set("no-zygote").
		Set("safebrowsing-disable-auto-update").
		Set("js-flags", "--max-old-space-size=256").
		Set("disable-ipc-flooding-protection").
		Set("disable-renderer-backgrounding").
		Set("disable-gpu-sandbox")

	// --disable-gpu breaks SwiftShader WebGL on ARM; software compositing
	// is the working combination there.
	if isARM() {
		l = l.Set("disable-gpu-compositing")
		log.Debug().Msg("ARM detected: software compositing with SwiftShader WebGL")
	}

	return l
}

func isARM() bool {
	return runtime.GOARCH == "arm64" || runtime.GOARCH == "arm"
}

// launchLocked starts a new browser process. Caller holds p.mu.
func (p *Pool) launchLocked() error {
	lc := p.createLauncher()
	u, err := lc.Launch()
	if err != nil {
		return types.NewBrowserOperationError("launch", err)
	}

	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		lc.Cleanup()
		return types.NewBrowserOperationError("connect", err)
	}

	p.browser = browser
	p.lc = lc
	p.stats.launches.Add(1)
	log.Info().Str("control_url", u).Msg("Browser process launched")
	return nil
}

// probeLocked reports whether the current browser process still answers.
// Caller holds p.mu.
func (p *Pool) probeLocked() bool {
	if p.browser == nil {
		return false
	}
	_, err := proto.TargetGetTargets{}.Call(p.browser)
	return err == nil
}

// ensureBrowserLocked launches or relaunches the process as needed and
// returns a usable handle. Caller holds p.mu.
func (p *Pool) ensureBrowserLocked() (*rod.Browser, error) {
	if p.probeLocked() {
		return p.browser, nil
	}
	crashed := p.browser != nil
	if crashed {
		log.Warn().Msg("Browser process unresponsive, relaunching")
		p.teardownLocked()
	}
	if err := p.launchLocked(); err != nil {
		if crashed {
			return nil, fmt.Errorf("%w: %w", types.ErrBrowserCrashed, err)
		}
		return nil, err
	}
	return p.browser, nil
}

// teardownLocked discards the current process handle. Caller holds p.mu.
func (p *Pool) teardownLocked() {
	if p.browser != nil {
		closeBrowserWithTimeout(p.browser, browserCloseTimeout)
		p.browser = nil
	}
	if p.lc != nil {
		p.lc.Cleanup()
		p.lc = nil
	}
}

// closeBrowserWithTimeout closes a browser, abandoning the attempt after the
// timeout so a hung process cannot wedge shutdown.
func closeBrowserWithTimeout(browser *rod.Browser, timeout time.Duration) {
	done := make(chan error, 1)
	go func() {
		done <- browser.Close()
	}()
	select {
	case err := <-done:
		if err != nil {
			log.Warn().Err(err).Msg("Browser close reported error")
		}
	case <-time.After(timeout):
		log.Warn().Dur("timeout", timeout).Msg("Timeout closing browser, abandoning")
	}
}

// Healthy reports whether the browser process is up and answering. It never
// launches; a pool that has not served a context yet reports false.
func (p *Pool) Healthy() bool {
	if p.closed.Load() {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.probeLocked()
}

// SnapshotStats returns current pool counters.
func (p *Pool) SnapshotStats() Stats {
	p.mu.Lock()
	running := p.browser != nil
	p.mu.Unlock()
	return Stats{
		Running:       running && !p.closed.Load(),
		OpenContexts:  p.openContexts.Load(),
		ContextsTotal: p.stats.contextsTotal.Load(),
		ContextErrors: p.stats.contextErrors.Load(),
		Launches:      p.stats.launches.Load(),
	}
}

// Close shuts the pool down. Contexts still open are owned by their sessions;
// closing the process invalidates them and their next operation fails.
func (p *Pool) Close(ctx context.Context) error {
	if p.closed.Swap(true) {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if n := p.openContexts.Load(); n > 0 {
		log.Warn().Int64("open_contexts", n).Msg("Closing browser pool with contexts still open")
	}
	p.teardownLocked()
	log.Info().
		Int64("contexts_total", p.stats.contextsTotal.Load()).
		Int64("launches", p.stats.launches.Load()).
		Msg("Browser pool closed")
	return nil
}
