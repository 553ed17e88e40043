// Package humanize provides human-like interaction patterns for browser
// automation: Bezier-curve mouse movement, randomized click positions,
// Gaussian action timing, and smooth scrolling.
package humanize

import (
	"context"
	"math/rand"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
)

// Point represents a 2D coordinate.
type Point struct {
	X, Y float64
}

// MouseConfig contains configuration for humanized mouse behavior.
type MouseConfig struct {
	// PathPoints is the number of points sampled along the Bezier path.
	PathPoints int
	// PathStride emits every Nth sampled point, trading smoothness for speed.
	PathStride int
	// Control point jitter bounds (pixels) applied to the path midpoint.
	ControlJitterX float64
	ControlJitterY float64
	// MinStepDelayMs is the minimum delay between movement steps.
	MinStepDelayMs int
	// MaxStepDelayMs is the maximum delay between movement steps.
	MaxStepDelayMs int
	// Reaction pause before clicking (min, max milliseconds).
	ReactionMinMs int
	ReactionMaxMs int
	// ClickOffsetRadius is the maximum random offset from center when clicking.
	ClickOffsetRadius float64
	// WiggleRange is the maximum per-axis offset of one wiggle move (pixels).
	WiggleRange float64
}

// DefaultMouseConfig returns sensible defaults for human-like mouse behavior.
func DefaultMouseConfig() MouseConfig {
	return MouseConfig{
		PathPoints:        20,
		PathStride:        2,
		ControlJitterX:    50,
		ControlJitterY:    30,
		MinStepDelayMs:    10,
		MaxStepDelayMs:    30,
		ReactionMinMs:     100,
		ReactionMaxMs:     300,
		ClickOffsetRadius: 5.0,
		WiggleRange:       20,
	}
}

// Mouse provides humanized mouse interactions for a browser page.
type Mouse struct {
	page   *rod.Page
	config MouseConfig
}

// NewMouse creates a new humanized mouse controller for the given page.
func NewMouse(page *rod.Page) *Mouse {
	return &Mouse{
		page:   page,
		config: DefaultMouseConfig(),
	}
}

// NewMouseWithConfig creates a new humanized mouse controller with custom config.
func NewMouseWithConfig(page *rod.Page, config MouseConfig) *Mouse {
	return &Mouse{
		page:   page,
		config: config,
	}
}

// MoveTo moves the mouse to the target coordinates along a quadratic Bezier
// path whose control point is the jittered midpoint, stepping through every
// PathStride-th sampled position with a short random pause between steps.
func (m *Mouse) MoveTo(ctx context.Context, x, y float64) error {
	currentPos := m.page.Mouse.Position()
	start := Point{X: currentPos.X, Y: currentPos.Y}
	end := Point{X: x, Y: y}

	path := generateBezierPath(start, end, m.config.PathPoints,
		m.config.ControlJitterX, m.config.ControlJitterY)

	stride := m.config.PathStride
	if stride < 1 {
		stride = 1
	}
	for i := 0; i < len(path); i += stride {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		p := path[i]
		if err := m.page.Mouse.MoveTo(proto.NewPoint(p.X, p.Y)); err != nil {
			return err
		}

		delay := RandomDuration(m.config.MinStepDelayMs, m.config.MaxStepDelayMs)
		if !sleepWithContext(ctx, delay) {
			return ctx.Err()
		}
	}

	return nil
}

// Click performs a humanized click at the target coordinates: Bezier
// movement, a reaction-time pause, then the click.
func (m *Mouse) Click(ctx context.Context, x, y float64) error {
	// Random offset within click radius for natural variation.
	offsetX := (rand.Float64()*2 - 1) * m.config.ClickOffsetRadius
	offsetY := (rand.Float64()*2 - 1) * m.config.ClickOffsetRadius
	targetX := x + offsetX
	targetY := y + offsetY

	if err := m.MoveTo(ctx, targetX, targetY); err != nil {
		return err
	}

	reaction := RandomDuration(m.config.ReactionMinMs, m.config.ReactionMaxMs)
	if !sleepWithContext(ctx, reaction) {
		return ctx.Err()
	}

	if err := m.page.Mouse.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return err
	}

	log.Debug().
		Float64("x", targetX).
		Float64("y", targetY).
		Msg("Humanized click completed")

	return nil
}

// ClickElement performs a humanized click on the center of a DOM element.
func (m *Mouse) ClickElement(ctx context.Context, element *rod.Element) error {
	center, err := elementCenter(element)
	if err != nil {
		return err
	}
	return m.Click(ctx, center.X, center.Y)
}

// ClickWithinBounds clicks at a random position within the given bounds,
// avoiding the outer 20% on each edge.
func (m *Mouse) ClickWithinBounds(ctx context.Context, bounds *proto.DOMRect) error {
	marginX := bounds.Width * 0.2
	marginY := bounds.Height * 0.2

	targetX := bounds.X + marginX + rand.Float64()*(bounds.Width-2*marginX)
	targetY := bounds.Y + marginY + rand.Float64()*(bounds.Height-2*marginY)

	return m.Click(ctx, targetX, targetY)
}

// Wiggle performs intensity small random moves near the current position,
// simulating idle human hand movement. Each move is bounded by WiggleRange
// per axis with a 50-150 ms pause between moves.
func (m *Mouse) Wiggle(ctx context.Context, intensity int) error {
	pos := m.page.Mouse.Position()
	x, y := pos.X, pos.Y

	for i := 0; i < intensity; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		x += (rand.Float64()*2 - 1) * m.config.WiggleRange
		y += (rand.Float64()*2 - 1) * m.config.WiggleRange
		if x < 0 {
			x = 0
		}
		if y < 0 {
			y = 0
		}

		if err := m.page.Mouse.MoveTo(proto.NewPoint(x, y)); err != nil {
			return err
		}
		if !sleepWithContext(ctx, RandomDuration(50, 150)) {
			return ctx.Err()
		}
	}
	return nil
}

// elementCenter returns the visual center of an element's first quad.
func elementCenter(element *rod.Element) (Point, error) {
	shape, err := element.Shape()
	if err != nil {
		return Point{}, err
	}
	if shape == nil || len(shape.Quads) == 0 {
		return Point{}, ErrElementNotVisible
	}
	quad := shape.Quads[0]
	return Point{
		X: (quad[0] + quad[2] + quad[4] + quad[6]) / 4,
		Y: (quad[1] + quad[3] + quad[5] + quad[7]) / 4,
	}, nil
}

// generateBezierPath samples numPoints positions along a quadratic Bezier
// curve from start to end. The control point is the segment midpoint
// jittered by up to ±jitterX / ±jitterY pixels.
func generateBezierPath(start, end Point, numPoints int, jitterX, jitterY float64) []Point {
	if numPoints < 2 {
		numPoints = 2
	}

	ctrl := Point{
		X: (start.X+end.X)/2 + (rand.Float64()*2-1)*jitterX,
		Y: (start.Y+end.Y)/2 + (rand.Float64()*2-1)*jitterY,
	}

	points := make([]Point, numPoints)
	for i := 0; i < numPoints; i++ {
		t := float64(i) / float64(numPoints-1)
		mt := 1 - t
		points[i] = Point{
			X: mt*mt*start.X + 2*mt*t*ctrl.X + t*t*end.X,
			Y: mt*mt*start.Y + 2*mt*t*ctrl.Y + t*t*end.Y,
		}
	}

	return points
}

// GetPosition returns the current mouse position.
func (m *Mouse) GetPosition() Point {
	pos := m.page.Mouse.Position()
	return Point{X: pos.X, Y: pos.Y}
}
