package humanize

import (
	"context"
	"math"
	"math/rand"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
)

// ScrollConfig tunes the humanized scroll behavior.
type ScrollConfig struct {
	// MinScrollSteps and MaxScrollSteps bound the number of increments a
	// smooth scroll is split into.
	MinScrollSteps int
	MaxScrollSteps int
	// MinStepDelayMs and MaxStepDelayMs bound the pause between increments.
	MinStepDelayMs int
	MaxStepDelayMs int
	// ScrollMargin is the viewport margin (pixels) an element must clear to
	// count as in view.
	ScrollMargin float64
	// Pre/PostScrollDelay ranges add the hesitation before and the settle
	// after a scroll.
	PreScrollDelayMinMs  int
	PreScrollDelayMaxMs  int
	PostScrollDelayMinMs int
	PostScrollDelayMaxMs int
}

// DefaultScrollConfig returns sensible defaults for human-like scrolling.
func DefaultScrollConfig() ScrollConfig {
	return ScrollConfig{
		MinScrollSteps:       8,
		MaxScrollSteps:       20,
		MinStepDelayMs:       20,
		MaxStepDelayMs:       60,
		ScrollMargin:         100,
		PreScrollDelayMinMs:  50,
		PreScrollDelayMaxMs:  200,
		PostScrollDelayMinMs: 100,
		PostScrollDelayMaxMs: 300,
	}
}

// Scroller drives eased, multi-step scrolling on one page.
type Scroller struct {
	page   *rod.Page
	config ScrollConfig
}

// NewScroller creates a scroller with the default config.
func NewScroller(page *rod.Page) *Scroller {
	return &Scroller{page: page, config: DefaultScrollConfig()}
}

// NewScrollerWithConfig creates a scroller with a custom config.
func NewScrollerWithConfig(page *rod.Page, config ScrollConfig) *Scroller {
	return &Scroller{page: page, config: config}
}

// viewport is the scroll-relevant slice of the page layout metrics.
type viewport struct {
	scrollY   float64
	height    float64
	maxScroll float64
}

func (s *Scroller) viewport() (viewport, error) {
	lm, err := proto.PageGetLayoutMetrics{}.Call(s.page)
	if err != nil {
		return viewport{}, err
	}
	vp := viewport{
		scrollY: lm.VisualViewport.PageY,
		height:  lm.VisualViewport.ClientHeight,
	}
	vp.maxScroll = lm.ContentSize.Height - vp.height
	return vp, nil
}

// elementSpanY returns the top, center, and bottom Y of an element's first
// quad, or ErrElementNotVisible when it has no box.
func elementSpanY(el *rod.Element) (top, center, bottom float64, err error) {
	shape, err := el.Shape()
	if err != nil {
		return 0, 0, 0, err
	}
	if shape == nil || len(shape.Quads) == 0 {
		return 0, 0, 0, ErrElementNotVisible
	}
	q := shape.Quads[0]
	top = q[1]
	bottom = q[5]
	center = (q[1] + q[3] + q[5] + q[7]) / 4
	return top, center, bottom, nil
}

func clampScroll(y, max float64) float64 {
	if y < 0 {
		return 0
	}
	if y > max {
		return max
	}
	return y
}

// ScrollToElement eases the page until the element is centered in the
// viewport. No-op when it is already in view.
func (s *Scroller) ScrollToElement(ctx context.Context, element *rod.Element) error {
	_, centerY, _, err := elementSpanY(element)
	if err != nil {
		return err
	}

	vp, err := s.viewport()
	if err != nil {
		return err
	}

	if centerY >= vp.scrollY+s.config.ScrollMargin &&
		centerY <= vp.scrollY+vp.height-s.config.ScrollMargin {
		log.Debug().Msg("Element already in view, no scroll needed")
		return nil
	}

	target := clampScroll(centerY-vp.height/2, vp.maxScroll)
	return s.smoothScrollTo(ctx, vp.scrollY, target)
}

// ScrollBy eases the page by deltaY pixels, clamped to the page bounds.
func (s *Scroller) ScrollBy(ctx context.Context, deltaY float64) error {
	vp, err := s.viewport()
	if err != nil {
		return err
	}
	return s.smoothScrollTo(ctx, vp.scrollY, clampScroll(vp.scrollY+deltaY, vp.maxScroll))
}

// ScrollToTop eases the page back to the top.
func (s *Scroller) ScrollToTop(ctx context.Context) error {
	vp, err := s.viewport()
	if err != nil {
		return err
	}
	if vp.scrollY < 10 {
		return nil
	}
	return s.smoothScrollTo(ctx, vp.scrollY, 0)
}

// ScrollToBottom eases the page to the end of the content.
func (s *Scroller) ScrollToBottom(ctx context.Context) error {
	vp, err := s.viewport()
	if err != nil {
		return err
	}
	if vp.maxScroll-vp.scrollY < 10 {
		return nil
	}
	return s.smoothScrollTo(ctx, vp.scrollY, vp.maxScroll)
}

// smoothScrollTo animates from fromY to toY in eased increments with
// jittered pauses around and between them.
func (s *Scroller) smoothScrollTo(ctx context.Context, fromY, toY float64) error {
	preDelay := RandomDuration(s.config.PreScrollDelayMinMs, s.config.PreScrollDelayMaxMs)
	if !sleepWithContext(ctx, preDelay) {
		return ctx.Err()
	}

	distance := math.Abs(toY - fromY)
	if distance < 1 {
		return nil
	}

	// Longer hops get more increments, capped so huge pages don't crawl.
	steps := s.config.MinScrollSteps + int(distance/100)
	if steps > s.config.MaxScrollSteps {
		steps = s.config.MaxScrollSteps
	}

	log.Debug().
		Float64("from_y", fromY).
		Float64("to_y", toY).
		Int("steps", steps).
		Msg("Starting smooth scroll")

	for i := 1; i <= steps; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		eased := easeOutCubic(float64(i) / float64(steps))
		y := fromY + (toY-fromY)*eased

		// A failed increment is tolerable; the next one re-targets.
		if _, err := s.page.Eval(`(y) => window.scrollTo({top: y, behavior: 'instant'})`, y); err != nil {
			log.Debug().Err(err).Msg("Scroll step failed")
		}

		stepDelay := RandomDuration(s.config.MinStepDelayMs, s.config.MaxStepDelayMs)
		if !sleepWithContext(ctx, stepDelay) {
			return ctx.Err()
		}
	}

	postDelay := RandomDuration(s.config.PostScrollDelayMinMs, s.config.PostScrollDelayMaxMs)
	if !sleepWithContext(ctx, postDelay) {
		return ctx.Err()
	}

	log.Debug().Float64("target_y", toY).Msg("Smooth scroll completed")
	return nil
}

// easeOutCubic decelerates toward the end of the scroll.
func easeOutCubic(t float64) float64 {
	return 1 - math.Pow(1-t, 3)
}

// RandomSmallScroll nudges the page a few dozen pixels either way, the way
// a reader idles before acting.
func (s *Scroller) RandomSmallScroll(ctx context.Context) error {
	delta := float64(rand.Intn(101) - 50)
	if math.Abs(delta) < 10 {
		return nil
	}

	log.Debug().Float64("delta", delta).Msg("Performing random small scroll")
	return s.ScrollBy(ctx, delta)
}

// EnsureElementVisible scrolls only when the element is outside the margin
// band. Reports whether a scroll happened.
func (s *Scroller) EnsureElementVisible(ctx context.Context, element *rod.Element) (bool, error) {
	top, _, bottom, err := elementSpanY(element)
	if err != nil {
		return false, err
	}

	vp, err := s.viewport()
	if err != nil {
		return false, err
	}

	if top >= vp.scrollY+s.config.ScrollMargin &&
		bottom <= vp.scrollY+vp.height-s.config.ScrollMargin {
		return false, nil
	}

	if err := s.ScrollToElement(ctx, element); err != nil {
		return false, err
	}
	return true, nil
}
