package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"

	"github.com/nomadbarefoot/surf/internal/humanize"
	"github.com/nomadbarefoot/surf/internal/session"
	"github.com/nomadbarefoot/surf/internal/types"
)

const (
	// Dynamic-content waits are soft caps: expiry degrades to capturing
	// whatever has rendered.
	networkIdleTimeout = 5 * time.Second
	imageSettleTimeout = 3 * time.Second

	networkIdleWindow  = 500 * time.Millisecond
	defaultJPEGQuality = 80
)

// imagesSettledJS is truthy once at least half the page's images finished
// loading.
const imagesSettledJS = `() => {
	const imgs = Array.from(document.images);
	if (imgs.length === 0) return true;
	return imgs.filter(i => i.complete).length >= imgs.length / 2;
}`

// Screenshot captures the session's current page, or a single element of it,
// to a file on disk.
func (e *Executor) Screenshot(ctx context.Context, req *types.ScreenshotRequest) (*types.ScreenshotResult, error) {
	if err := req.Validate(); err != nil {
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
	res, err := e.screenshot(opCtx, s, req)
	e.finish(s, session.EventScreenshot, start, err)
	if res != nil {
		res.DurationMs = durationMs(start)
	}
	return res, err
}

func (e *Executor) screenshot(ctx context.Context, s *session.Session, req *types.ScreenshotRequest) (*types.ScreenshotResult, error) {
	page, err := e.pageFor(s, "screenshot")
	if err != nil {
		return nil, err
	}
	if err := e.paceWait(ctx); err != nil {
		return nil, err
	}

	p := page.Context(ctx)
	if req.WaitForDynamic {
		waitForDynamicContent(ctx, page)
	}

	// Small pause so the capture does not land mid-animation.
	humanize.RandomWait(ctx, 200, 800)

	path := req.Path
	if path == "" {
		path = defaultShotPath(e.cfg.ScreenshotDir, s.ID, time.Now())
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, types.NewBrowserOperationError("screenshot", err)
		}
	}

	var data []byte
	if req.Selector != "" {
		el, err := p.Element(req.Selector)
		if err != nil {
			return nil, types.NewBrowserOperationErrorWithDetails("screenshot", err,
				map[string]any{"selector": req.Selector})
		}
		if err := el.WaitVisible(); err != nil {
			return nil, types.NewBrowserOperationErrorWithDetails("screenshot", err,
				map[string]any{"selector": req.Selector})
		}
		data, err = el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
		if err != nil {
			return nil, types.NewBrowserOperationError("screenshot", err)
		}
	} else {
		capture := &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatPng}
		if isJPEGPath(path) {
			quality := req.Quality
			if quality == 0 {
				quality = defaultJPEGQuality
			}
			capture.Format = proto.PageCaptureScreenshotFormatJpeg
			capture.Quality = &quality
		}
		data, err = p.Screenshot(req.FullPage, capture)
		if err != nil {
			return nil, types.NewBrowserOperationError("screenshot", err)
		}
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, types.NewBrowserOperationError("screenshot", err)
	}

	log.Info().
		Str("session_id", s.ID).
		Str("path", path).
		Int("size_bytes", len(data)).
		Bool("full_page", req.FullPage).
		Msg("Screenshot captured")

	return &types.ScreenshotResult{
		Path:      path,
		SizeBytes: int64(len(data)),
		FullPage:  req.FullPage,
	}, nil
}

// waitForDynamicContent gives late-loading content a bounded chance to
// settle: a network quiet window, then a majority of images decoded.
func waitForDynamicContent(ctx context.Context, page *rod.Page) {
	idleCtx, cancel := context.WithTimeout(ctx, networkIdleTimeout)
	wait := page.Context(idleCtx).WaitRequestIdle(networkIdleWindow, nil, nil, nil)
	wait()
	cancel()

	imgCtx, cancel := context.WithTimeout(ctx, imageSettleTimeout)
	_ = page.Context(imgCtx).Wait(rod.Eval(imagesSettledJS))
	cancel()
}

func defaultShotPath(dir, sessionID string, now time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%d.png", sessionID, now.Unix()))
}

func isJPEGPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return true
	}
	return false
}
