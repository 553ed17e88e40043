package executor

import (
	"context"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"

	"github.com/nomadbarefoot/surf/internal/humanize"
	"github.com/nomadbarefoot/surf/internal/session"
	"github.com/nomadbarefoot/surf/internal/types"
)

const tagNameJS = `() => (this.tagName || "").toLowerCase()`

// defaultScrollDelta is how far a bare scroll action moves when the request
// does not specify a distance.
const defaultScrollDelta = 400.0

// Interact performs a single element interaction with human-like timing.
func (e *Executor) Interact(ctx context.Context, req *types.InteractRequest) (*types.InteractResult, error) {
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
	err = e.interact(opCtx, s, req)
	e.finish(s, session.EventInteract, start, err)
	if err != nil {
		return nil, err
	}
	return &types.InteractResult{
		Action:     req.Action,
		Selector:   req.Selector,
		DurationMs: durationMs(start),
	}, nil
}

func (e *Executor) interact(ctx context.Context, s *session.Session, req *types.InteractRequest) error {
	page, err := e.pageFor(s, "interact")
	if err != nil {
		return err
	}
	if err := e.paceWait(ctx); err != nil {
		return err
	}

	p := page.Context(ctx)

	var el *rod.Element
	if req.Selector != "" {
		el, err = p.Element(req.Selector)
		if err != nil {
			return types.NewBrowserOperationErrorWithDetails("interact", err,
				map[string]any{"selector": req.Selector, "action": req.Action})
		}
		if err := el.WaitVisible(); err != nil {
			return types.NewBrowserOperationErrorWithDetails("interact", err,
				map[string]any{"selector": req.Selector, "action": req.Action})
		}
		if _, err := humanize.NewScroller(p).EnsureElementVisible(ctx, el); err != nil {
			log.Debug().Err(err).Str("selector", req.Selector).Msg("Could not scroll element into view")
		}
	}

	// A human pauses before acting, longer for inputs than for links.
	kind := elementKind(el)
	humanize.ElementSleep(ctx, kind)

	if err := e.performAction(ctx, p, el, req); err != nil {
		return err
	}

	log.Debug().
		Str("session_id", s.ID).
		Str("action", req.Action).
		Str("selector", req.Selector).
		Str("element_kind", kind).
		Msg("Interaction completed")
	return nil
}

func (e *Executor) performAction(ctx context.Context, p *rod.Page, el *rod.Element, req *types.InteractRequest) error {
	var err error
	switch req.Action {
	case types.ActionClick:
		if e.cfg.EnableEnhancedMouseMovement {
			err = humanize.NewMouse(p).ClickElement(ctx, el)
		} else {
			err = el.Click(proto.InputMouseButtonLeft, 1)
		}
	case types.ActionDoubleClick:
		err = el.Click(proto.InputMouseButtonLeft, 2)
	case types.ActionRightClick:
		err = el.Click(proto.InputMouseButtonRight, 1)
	case types.ActionHover:
		if err = el.Hover(); err == nil {
			humanize.RandomWait(ctx, 300, 900)
		}
	case types.ActionType:
		err = typeText(ctx, el, req.Value)
	case types.ActionSelect:
		err = el.Select([]string{req.Value}, true, rod.SelectorTypeText)
	case types.ActionScroll:
		err = e.scroll(ctx, p, el, req.Options)
	default:
		return types.NewValidationError("action", "unknown action: "+req.Action)
	}
	if err != nil {
		return types.NewBrowserOperationErrorWithDetails("interact", err,
			map[string]any{"selector": req.Selector, "action": req.Action})
	}
	return nil
}

// typeText replaces the element's current text by typing character by
// character with natural keystroke delays.
func typeText(ctx context.Context, el *rod.Element, value string) error {
	if err := el.Focus(); err != nil {
		return err
	}
	// Select everything first so the initial keystroke replaces it.
	_ = el.SelectAllText()
	for _, r := range value {
		if err := el.Input(string(r)); err != nil {
			return err
		}
		if !humanize.SleepWithContext(ctx, humanize.TypingDelay()) {
			return ctx.Err()
		}
	}
	return nil
}

func (e *Executor) scroll(ctx context.Context, p *rod.Page, el *rod.Element, options map[string]any) error {
	sc := humanize.NewScroller(p)
	if el != nil {
		return sc.ScrollToElement(ctx, el)
	}
	delta := defaultScrollDelta
	if v, ok := options["delta_y"].(float64); ok && v != 0 {
		delta = v
	}
	return sc.ScrollBy(ctx, delta)
}

// elementKind classifies an element for interaction timing purposes.
func elementKind(el *rod.Element) string {
	if el == nil {
		return "default"
	}
	obj, err := el.Eval(tagNameJS)
	if err != nil {
		return "default"
	}
	switch obj.Value.Str() {
	case "a":
		return "link"
	case "button":
		return "button"
	case "input", "textarea":
		return "input"
	case "select":
		return "select"
	case "nav":
		return "menu"
	case "img", "video", "audio":
		return "media"
	default:
		return "default"
	}
}
