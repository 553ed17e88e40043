package browser

import (
	"context"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rs/zerolog/log"
)

// ApplyStealth installs the anti-detection init scripts on a page. Must run
// before the first navigation so every document in the context gets patched.
//
// The bulk of the masking comes from the go-rod/stealth evasion bundle; the
// supplemental script covers the vectors the bundle leaves open (hardware
// hints, connection shape, notification permission).
func ApplyStealth(page *rod.Page) error {
	if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
		return err
	}
	if _, err := page.EvalOnNewDocument(supplementalStealthJS); err != nil {
		return err
	}
	log.Debug().Msg("Stealth init scripts installed")
	return nil
}

// supplementalStealthJS patches detection vectors not handled by the main
// evasion bundle. Every block is individually guarded so one failing patch
// cannot break the rest.
const supplementalStealthJS = `
(() => {
    'use strict';
    const define = (obj, prop, value) => {
        try {
            Object.defineProperty(obj, prop, { get: () => value, configurable: true });
        } catch (e) {}
    };

    // Containers and VMs report unusual hardware shapes
    define(navigator, 'hardwareConcurrency', 8);
    define(navigator, 'deviceMemory', 8);

    // Headless builds expose an empty or odd network-information object
    if (navigator.connection) {
        define(navigator, 'connection', {
            effectiveType: '4g',
            rtt: 50,
            downlink: 10,
            saveData: false,
            onchange: null
        });
    }

    // Headless defaults to 'denied', real profiles start at 'default'
    if (typeof Notification !== 'undefined') {
        define(Notification, 'permission', 'default');
    }

    // SwiftShader leaks its own vendor strings through WebGL
    try {
        const VENDOR = 37445, RENDERER = 37446;
        ['WebGLRenderingContext', 'WebGL2RenderingContext'].forEach((name) => {
            const ctx = window[name];
            if (!ctx || !ctx.prototype) return;
            const orig = ctx.prototype.getParameter;
            if (typeof orig !== 'function' || orig.__patched) return;
            ctx.prototype.getParameter = function (param) {
                if (param === VENDOR) return 'Intel Inc.';
                if (param === RENDERER) return 'Intel Iris OpenGL Engine';
                return orig.call(this, param);
            };
            ctx.prototype.getParameter.__patched = true;
        });
    } catch (e) {}
})();
`

// resourcePatterns maps the accepted resource classes (the keys of
// types.BlockableResources) to CDP interception patterns.
var resourcePatterns = map[string][]*proto.FetchRequestPattern{
	"image": urlPatterns(proto.NetworkResourceTypeImage,
		"*.png", "*.jpg", "*.jpeg", "*.gif", "*.webp", "*.svg", "*.ico", "*.bmp"),
	"stylesheet": urlPatterns(proto.NetworkResourceTypeStylesheet, "*.css"),
	"font": urlPatterns(proto.NetworkResourceTypeFont,
		"*.woff", "*.woff2", "*.ttf", "*.otf", "*.eot"),
	"script": urlPatterns(proto.NetworkResourceTypeScript, "*.js", "*.mjs"),
	"media": urlPatterns(proto.NetworkResourceTypeMedia,
		"*.mp4", "*.webm", "*.mp3", "*.ogg", "*.wav"),
	"other": {{URLPattern: "*", ResourceType: proto.NetworkResourceTypeOther}},
}

func urlPatterns(kind proto.NetworkResourceType, globs ...string) []*proto.FetchRequestPattern {
	out := make([]*proto.FetchRequestPattern, 0, len(globs))
	for _, g := range globs {
		out = append(out, &proto.FetchRequestPattern{URLPattern: g, ResourceType: kind})
	}
	return out
}

// blockPatternsFor expands resource class names into interception patterns.
// Unknown classes are skipped; config and request validation reject them
// earlier, so a miss here is a programming error worth logging.
func blockPatternsFor(classes []string) []*proto.FetchRequestPattern {
	var patterns []*proto.FetchRequestPattern
	for _, class := range classes {
		pats, ok := resourcePatterns[class]
		if !ok {
			log.Warn().Str("class", class).Msg("Unknown resource class, skipping")
			continue
		}
		patterns = append(patterns, pats...)
	}
	return patterns
}

// BlockResources enables request interception on the page and fails every
// request matching the given resource classes. The returned cleanup stops
// the listener goroutines; it is safe to call more than once and MUST be
// called when the page closes.
func BlockResources(ctx context.Context, page *rod.Page, classes []string) (cleanup func(), err error) {
	patterns := blockPatternsFor(classes)
	if len(patterns) == 0 {
		return func() {}, nil
	}

	if err := (proto.FetchEnable{Patterns: patterns}).Call(page); err != nil {
		return func() {}, err
	}
	log.Debug().Strs("classes", classes).Msg("Resource blocking enabled")

	listenerCtx, cancel := context.WithCancel(ctx)
	pageWithCtx := page.Context(listenerCtx)

	var wg sync.WaitGroup
	var once sync.Once
	cleanupFunc := func() {
		once.Do(func() {
			cancel()
			done := make(chan struct{})
			go func() {
				wg.Wait()
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				log.Warn().Msg("Timeout waiting for interception listeners to stop")
			}
		})
	}

	// Auto-cleanup when the page target goes away
	wg.Add(1)
	go func() {
		defer wg.Done()
		pageWithCtx.EachEvent(func(e *proto.TargetTargetDestroyed) bool {
			cleanupFunc()
			return true
		})()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		pageWithCtx.EachEvent(func(e *proto.FetchRequestPaused) bool {
			select {
			case <-listenerCtx.Done():
				return true
			default:
			}
			// Error ignored: the request may already be gone
			_ = proto.FetchFailRequest{
				RequestID:   e.RequestID,
				ErrorReason: proto.NetworkErrorReasonBlockedByClient,
			}.Call(page)
			return false
		})()
	}()

	return cleanupFunc, nil
}

// SetUserAgent overrides the user agent for all requests from the page.
// Platform may be empty to leave navigator.platform untouched.
func SetUserAgent(page *rod.Page, userAgent, platform string) error {
	return proto.NetworkSetUserAgentOverride{
		UserAgent: userAgent,
		Platform:  platform,
	}.Call(page)
}

// SetViewport overrides the emulated device metrics.
func SetViewport(page *rod.Page, width, height int, mobile bool) error {
	return page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1,
		Mobile:            mobile,
	})
}

// SetCookies installs cookies into the page's context.
func SetCookies(page *rod.Page, cookies []*proto.NetworkCookieParam) error {
	return page.SetCookies(cookies)
}

// GetCookies returns all cookies visible to the page.
func GetCookies(page *rod.Page) ([]*proto.NetworkCookie, error) {
	return page.Cookies(nil)
}
