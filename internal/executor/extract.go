package executor

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod"

	"github.com/nomadbarefoot/surf/internal/content"
	"github.com/nomadbarefoot/surf/internal/metrics"
	"github.com/nomadbarefoot/surf/internal/session"
	"github.com/nomadbarefoot/surf/internal/types"
)

// minVisibleTextLength is the threshold below which visible text is assumed
// to be hidden behind styling and the raw text content is tried instead.
const minVisibleTextLength = 100

const innerHTMLJS = `() => this.innerHTML`
const textContentJS = `() => this.textContent || ""`

// Extract pulls content of the requested type out of the session's current
// page.
func (e *Executor) Extract(ctx context.Context, req *types.ExtractRequest) (*types.ExtractResult, error) {
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
	res, err := e.extract(opCtx, s, req)
	e.finish(s, session.EventExtract, start, err)
	if res != nil {
		res.DurationMs = durationMs(start)
	}
	return res, err
}

func (e *Executor) extract(ctx context.Context, s *session.Session, req *types.ExtractRequest) (*types.ExtractResult, error) {
	page, err := e.pageFor(s, "extract")
	if err != nil {
		return nil, err
	}
	if err := e.paceWait(ctx); err != nil {
		return nil, err
	}

	p := page.Context(ctx)
	var res *types.ExtractResult
	switch req.Type {
	case types.ExtractText:
		res, err = e.extractText(p, req.Selector)
	case types.ExtractHTML:
		res, err = extractHTML(p, req.Selector)
	case types.ExtractTable:
		res, err = extractTable(p, req.Selector)
	case types.ExtractLinks:
		res, err = extractLinks(p, req.Selector)
	case types.ExtractImages:
		res, err = extractImages(p, req.Selector)
	default:
		return nil, types.NewValidationError("extract_type", "unknown type: "+req.Type)
	}
	if err != nil {
		return nil, err
	}
	e.rememberExtraction(s, req, res)
	return res, nil
}

func (e *Executor) extractText(p *rod.Page, selector string) (*types.ExtractResult, error) {
	pats := e.pats()

	target := selector
	if target == "" {
		target = "body"
	}
	el, err := p.Element(target)
	if err != nil {
		return nil, types.NewBrowserOperationErrorWithDetails("extract", err,
			map[string]any{"selector": target})
	}

	text, err := el.Text()
	if err != nil {
		return nil, types.NewBrowserOperationError("extract", err)
	}
	// Visible text first; fall back to raw text content when styling hides
	// nearly everything.
	if len(strings.TrimSpace(text)) < minVisibleTextLength {
		if obj, evalErr := el.Eval(textContentJS); evalErr == nil {
			if full := obj.Value.Str(); len(strings.TrimSpace(full)) > len(strings.TrimSpace(text)) {
				text = full
			}
		}
	}

	text = content.Normalize(pats, text)
	quality := content.Quality(pats, text)
	res := &types.ExtractResult{Content: text, Quality: &quality}

	if hit, why := content.DetectCaptchaText(pats, text); hit {
		res.IsCaptcha, res.CaptchaWhy = true, why
		metrics.RecordCaptchaDetected("text")
	} else if found, sel := probeCaptchaSelectors(p, pats); found {
		res.IsCaptcha, res.CaptchaWhy = true, "challenge element present: "+sel
		metrics.RecordCaptchaDetected("selector")
	}

	e.postProcessText(res, pats, text)
	return res, nil
}

// postProcessText runs deduplication, content-type detection, and optional
// semantic chunking over normalized text.
func (e *Executor) postProcessText(res *types.ExtractResult, pats *content.Patterns, text string) {
	if e.dedup != nil {
		res.Duplicate = e.dedup.Seen(text)
	}

	kind, confidence := content.DetectType(pats, text)
	res.ContentKind, res.Confidence = kind, confidence

	if e.cfg.EnableSemanticChunking && kind != "" {
		chunks := content.ChunkText(text, kind, e.cfg.ChunkingConfidenceThreshold)
		if len(chunks) > 0 {
			if res.Data == nil {
				res.Data = make(map[string]any)
			}
			res.Data["chunks"] = chunks
		}
	}
}

func extractHTML(p *rod.Page, selector string) (*types.ExtractResult, error) {
	if selector == "" {
		html, err := p.HTML()
		if err != nil {
			return nil, types.NewBrowserOperationError("extract", err)
		}
		return &types.ExtractResult{Content: html}, nil
	}

	el, err := p.Element(selector)
	if err != nil {
		return nil, types.NewBrowserOperationErrorWithDetails("extract", err,
			map[string]any{"selector": selector})
	}
	obj, err := el.Eval(innerHTMLJS)
	if err != nil {
		return nil, types.NewBrowserOperationError("extract", err)
	}
	return &types.ExtractResult{Content: obj.Value.Str()}, nil
}

func extractTable(p *rod.Page, selector string) (*types.ExtractResult, error) {
	doc, err := pageDocument(p)
	if err != nil {
		return nil, err
	}
	return tableFromDoc(doc, selector)
}

func tableFromDoc(doc *goquery.Document, selector string) (*types.ExtractResult, error) {
	target := selector
	if target == "" {
		target = "table"
	}
	table := doc.Find(target).First()
	if table.Length() == 0 {
		return nil, types.NewBrowserOperationError("extract_table",
			fmt.Errorf("no table matches selector %q", target))
	}
	if !table.Is("table") {
		inner := table.Find("table").First()
		if inner.Length() == 0 {
			return nil, types.NewBrowserOperationError("extract_table",
				fmt.Errorf("selector %q contains no table", target))
		}
		table = inner
	}

	var headers []string
	table.Find("tr").First().Find("th").Each(func(_ int, c *goquery.Selection) {
		headers = append(headers, strings.TrimSpace(c.Text()))
	})

	var rows [][]string
	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		var cells []string
		tr.Find("th, td").Each(func(_ int, c *goquery.Selection) {
			cells = append(cells, strings.TrimSpace(c.Text()))
		})
		if len(cells) > 0 {
			rows = append(rows, cells)
		}
	})

	columns := 0
	for _, cells := range rows {
		if len(cells) > columns {
			columns = len(cells)
		}
	}

	return &types.ExtractResult{
		Content: rows,
		Data: map[string]any{
			"headers":      headers,
			"row_count":    len(rows),
			"column_count": columns,
		},
	}, nil
}

func extractLinks(p *rod.Page, selector string) (*types.ExtractResult, error) {
	doc, err := pageDocument(p)
	if err != nil {
		return nil, err
	}
	return linksFromDoc(doc, pageBaseURL(p), selector), nil
}

func linksFromDoc(doc *goquery.Document, base *url.URL, selector string) *types.ExtractResult {
	root := doc.Selection
	if selector != "" {
		root = doc.Find(selector)
	}

	baseStr := ""
	if base != nil {
		baseStr = base.String()
	}

	var links []map[string]string
	root.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "javascript:") {
			return
		}
		links = append(links, map[string]string{
			"url":      resolveURL(base, href),
			"text":     strings.TrimSpace(a.Text()),
			"base_url": baseStr,
		})
	})

	return &types.ExtractResult{
		Content: links,
		Data:    map[string]any{"count": len(links)},
	}
}

func extractImages(p *rod.Page, selector string) (*types.ExtractResult, error) {
	doc, err := pageDocument(p)
	if err != nil {
		return nil, err
	}
	return imagesFromDoc(doc, pageBaseURL(p), selector), nil
}

func imagesFromDoc(doc *goquery.Document, base *url.URL, selector string) *types.ExtractResult {
	root := doc.Selection
	if selector != "" {
		root = doc.Find(selector)
	}

	var images []map[string]string
	root.Find("img[src]").Each(func(_ int, img *goquery.Selection) {
		src, _ := img.Attr("src")
		src = strings.TrimSpace(src)
		if src == "" {
			return
		}
		alt, _ := img.Attr("alt")
		width, _ := img.Attr("width")
		height, _ := img.Attr("height")
		images = append(images, map[string]string{
			"src":    resolveURL(base, src),
			"alt":    alt,
			"width":  width,
			"height": height,
		})
	})

	return &types.ExtractResult{
		Content: images,
		Data:    map[string]any{"count": len(images)},
	}
}

// ExtractStructured harvests kind-specific elements (forum, news, financial)
// from the current page's text.
func (e *Executor) ExtractStructured(ctx context.Context, req *types.ExtractStructuredRequest) (*types.ExtractResult, error) {
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
	res, err := e.extractStructured(opCtx, s, req)
	e.finish(s, session.EventExtract, start, err)
	if res != nil {
		res.DurationMs = durationMs(start)
	}
	return res, err
}

func (e *Executor) extractStructured(ctx context.Context, s *session.Session, req *types.ExtractStructuredRequest) (*types.ExtractResult, error) {
	page, err := e.pageFor(s, "extract_structured")
	if err != nil {
		return nil, err
	}
	if err := e.paceWait(ctx); err != nil {
		return nil, err
	}

	p := page.Context(ctx)
	textRes, err := e.extractText(p, req.Selector)
	if err != nil {
		return nil, err
	}
	text, _ := textRes.Content.(string)

	pats := e.pats()
	sd := content.ExtractStructured(pats, text, req.Kind)

	return &types.ExtractResult{
		Content:     sd.Elements,
		Data:        map[string]any{"content_kind": req.Kind},
		Quality:     &sd.Metrics,
		ContentKind: sd.ContentType,
		IsCaptcha:   textRes.IsCaptcha,
		CaptchaWhy:  textRes.CaptchaWhy,
	}, nil
}

// DetectCaptcha checks the current page for CAPTCHA and bot-challenge
// markers, both in the visible text and via known challenge selectors.
func (e *Executor) DetectCaptcha(ctx context.Context, sessionID string, timeoutMs int) (*types.CaptchaResult, error) {
	if timeoutMs != 0 {
		if err := types.ValidateTimeout(timeoutMs); err != nil {
			return nil, err
		}
	}

	s, release, err := e.begin(sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	opCtx, cancel := context.WithTimeout(ctx, e.timeout(timeoutMs))
	defer cancel()

	start := time.Now()
	res, err := e.detectCaptcha(opCtx, s)
	e.finish(s, session.EventRequest, start, err)
	return res, err
}

func (e *Executor) detectCaptcha(ctx context.Context, s *session.Session) (*types.CaptchaResult, error) {
	page, err := e.pageFor(s, "detect_captcha")
	if err != nil {
		return nil, err
	}

	p := page.Context(ctx)
	pats := e.pats()

	var text string
	if obj, evalErr := p.Eval(pageTextJS); evalErr == nil {
		text = obj.Value.Str()
	}

	if hit, why := content.DetectCaptchaText(pats, text); hit {
		metrics.RecordCaptchaDetected("text")
		return &types.CaptchaResult{Detected: true, Reason: why}, nil
	}
	if found, sel := probeCaptchaSelectors(p, pats); found {
		metrics.RecordCaptchaDetected("selector")
		return &types.CaptchaResult{Detected: true, Reason: "challenge element present: " + sel}, nil
	}
	return &types.CaptchaResult{Detected: false, Reason: "no challenge markers found"}, nil
}

// probeCaptchaSelectors checks the live DOM for known challenge widgets.
func probeCaptchaSelectors(p *rod.Page, pats *content.Patterns) (bool, string) {
	for _, sel := range pats.CaptchaSelectors() {
		if has, _, err := p.Has(sel); err == nil && has {
			return true, sel
		}
	}
	return false, ""
}

func pageDocument(p *rod.Page) (*goquery.Document, error) {
	html, err := p.HTML()
	if err != nil {
		return nil, types.NewBrowserOperationError("extract", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, types.NewBrowserOperationError("extract", err)
	}
	return doc, nil
}

func pageBaseURL(p *rod.Page) *url.URL {
	info, err := p.Info()
	if err != nil {
		return nil
	}
	base, err := url.Parse(info.URL)
	if err != nil {
		return nil
	}
	return base
}

// resolveURL resolves href against the page's base URL, returning href
// unchanged when resolution is not possible.
func resolveURL(base *url.URL, href string) string {
	if base == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
