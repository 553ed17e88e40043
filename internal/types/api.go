package types

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Request validation limits.
const (
	MinTimeoutMs       = 1000
	MaxTimeoutMs       = 300000
	MaxSelectorLength  = 1000
	MaxUserAgentLength = 500
	MinViewportPixels  = 100
	MaxViewportPixels  = 4096
	MinJPEGQuality     = 1
	MaxJPEGQuality     = 100
	MinBatchOperations = 1
	MaxBatchOperations = 10
	MaxValueLength     = 64 * 1024
)

// Wait conditions for navigation.
const (
	WaitLoad             = "load"
	WaitDOMContentLoaded = "domcontentloaded"
	WaitNetworkIdle      = "networkidle"
	WaitCommit           = "commit"
)

// Extraction types.
const (
	ExtractText   = "text"
	ExtractHTML   = "html"
	ExtractTable  = "table"
	ExtractLinks  = "links"
	ExtractImages = "images"
)

// Structured extraction kinds.
const (
	KindForum     = "forum"
	KindNews      = "news"
	KindFinancial = "financial"
)

// Interaction actions.
const (
	ActionClick       = "click"
	ActionDoubleClick = "double_click"
	ActionRightClick  = "right_click"
	ActionType        = "type"
	ActionSelect      = "select"
	ActionScroll      = "scroll"
	ActionHover       = "hover"
)

// Batch operation types.
const (
	OpNavigate          = "navigate"
	OpExtract           = "extract"
	OpExtractStructured = "extract_structured"
	OpDetectCaptcha     = "detect_captcha"
	OpInteract          = "interact"
	OpScreenshot        = "screenshot"
)

// Browser kinds a session may request. Only chromium is driven natively;
// firefox and webkit are accepted and mapped to the closest launch profile.
const (
	BrowserChromium = "chromium"
	BrowserFirefox  = "firefox"
	BrowserWebkit   = "webkit"
)

// Blockable resource classes for request interception.
var BlockableResources = map[string]bool{
	"image":      true,
	"font":       true,
	"stylesheet": true,
	"script":     true,
	"media":      true,
	"other":      true,
}

// Viewport describes the emulated screen size for a session.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// SessionConfig carries the request-time overrides accepted when creating a
// session. Zero values mean "use the configured default". Unknown keys are
// rejected at the JSON layer via DisallowUnknownFields.
type SessionConfig struct {
	Viewport        *Viewport `json:"viewport,omitempty"`
	UserAgent       string    `json:"user_agent,omitempty"`
	Stealth         *bool     `json:"stealth,omitempty"`
	BlockResources  []string  `json:"block_resources,omitempty"`
	TimeoutMs       int       `json:"timeout,omitempty"`
	JavaScript      *bool     `json:"javascript_enabled,omitempty"`
	IgnoreTLSErrors bool      `json:"ignore_https_errors,omitempty"`
	BrowserKind     string    `json:"browser_type,omitempty"`
}

// Validate checks the session config bounds.
func (c *SessionConfig) Validate() error {
	if c.Viewport != nil {
		if c.Viewport.Width < MinViewportPixels || c.Viewport.Width > MaxViewportPixels {
			return NewValidationError("viewport.width",
				fmt.Sprintf("must be between %d and %d", MinViewportPixels, MaxViewportPixels))
		}
		if c.Viewport.Height < MinViewportPixels || c.Viewport.Height > MaxViewportPixels {
			return NewValidationError("viewport.height",
				fmt.Sprintf("must be between %d and %d", MinViewportPixels, MaxViewportPixels))
		}
	}
	if len(c.UserAgent) > MaxUserAgentLength {
		return NewValidationError("user_agent",
			fmt.Sprintf("exceeds maximum length of %d", MaxUserAgentLength))
	}
	if c.TimeoutMs != 0 {
		if err := ValidateTimeout(c.TimeoutMs); err != nil {
			return err
		}
	}
	for _, res := range c.BlockResources {
		if !BlockableResources[res] {
			return NewValidationError("block_resources", "unknown resource class: "+res)
		}
	}
	if c.BrowserKind != "" {
		switch c.BrowserKind {
		case BrowserChromium, BrowserFirefox, BrowserWebkit:
		default:
			return NewValidationError("browser_type",
				"must be chromium, firefox, or webkit")
		}
	}
	return nil
}

// ValidateTimeout checks an operation timeout in milliseconds against the
// accepted 1s-300s window.
func ValidateTimeout(ms int) error {
	if ms < MinTimeoutMs || ms > MaxTimeoutMs {
		return NewValidationError("timeout",
			fmt.Sprintf("must be between %d and %d ms", MinTimeoutMs, MaxTimeoutMs))
	}
	return nil
}

// ValidateSelector checks a CSS selector for length and obvious abuse.
func ValidateSelector(selector string) error {
	if len(selector) > MaxSelectorLength {
		return NewValidationError("selector",
			fmt.Sprintf("exceeds maximum length of %d", MaxSelectorLength))
	}
	return nil
}

// ValidateURL parses a target URL and checks scheme and length.
// maxLength comes from the max_url_length configuration option.
func ValidateURL(raw string, maxLength int) error {
	if raw == "" {
		return NewValidationError("url", "url is required")
	}
	if len(raw) > maxLength {
		return NewValidationError("url",
			fmt.Sprintf("exceeds maximum length of %d", maxLength))
	}
	u, err := url.Parse(raw)
	if err != nil {
		return NewValidationError("url", "invalid url: "+err.Error())
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return NewValidationError("url", "scheme must be http or https")
	}
	if u.Host == "" {
		return NewValidationError("url", "host is required")
	}
	return nil
}

// NavigateRequest drives a page load within a session.
type NavigateRequest struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
	WaitUntil string `json:"wait_until,omitempty"`
	TimeoutMs int    `json:"timeout,omitempty"`
}

// Validate checks navigation parameters. URL length is checked separately
// against the configured max_url_length.
func (r *NavigateRequest) Validate() error {
	switch r.WaitUntil {
	case "", WaitLoad, WaitDOMContentLoaded, WaitNetworkIdle, WaitCommit:
	default:
		return NewValidationError("wait_until",
			"must be load, domcontentloaded, networkidle, or commit")
	}
	if r.TimeoutMs != 0 {
		return ValidateTimeout(r.TimeoutMs)
	}
	return nil
}

// NavigateResult reports the outcome of a navigation.
type NavigateResult struct {
	URL        string  `json:"url"`
	Title      string  `json:"title"`
	Status     int     `json:"status,omitempty"`
	DurationMs float64 `json:"duration_ms"`
	Attempts   int     `json:"attempts"`
}

// ExtractRequest pulls content out of the current page.
type ExtractRequest struct {
	SessionID string `json:"session_id"`
	Type      string `json:"extract_type"`
	Selector  string `json:"selector,omitempty"`
	TimeoutMs int    `json:"timeout,omitempty"`
}

// Validate checks extraction parameters.
func (r *ExtractRequest) Validate() error {
	switch r.Type {
	case ExtractText, ExtractHTML, ExtractTable, ExtractLinks, ExtractImages:
	default:
		return NewValidationError("extract_type",
			"must be text, html, table, links, or images")
	}
	if err := ValidateSelector(r.Selector); err != nil {
		return err
	}
	if r.TimeoutMs != 0 {
		return ValidateTimeout(r.TimeoutMs)
	}
	return nil
}

// QualityMetrics summarizes extracted-text quality.
type QualityMetrics struct {
	WordCount  int     `json:"word_count"`
	LineCount  int     `json:"line_count"`
	CharCount  int     `json:"char_count"`
	Score      float64 `json:"quality_score"`
	Meaningful bool    `json:"is_meaningful"`
}

// ExtractResult carries the flattened primary payload in Content plus the
// rich typed block in Data.
type ExtractResult struct {
	Content     any             `json:"content"`
	Data        map[string]any  `json:"data,omitempty"`
	Quality     *QualityMetrics `json:"quality,omitempty"`
	IsCaptcha   bool            `json:"is_captcha"`
	CaptchaWhy  string          `json:"captcha_reason,omitempty"`
	ContentKind string          `json:"content_type,omitempty"`
	Confidence  float64         `json:"type_confidence,omitempty"`
	Duplicate   bool            `json:"is_duplicate,omitempty"`
	DurationMs  float64         `json:"duration_ms"`
}

// ExtractStructuredRequest harvests typed elements from the current page.
type ExtractStructuredRequest struct {
	SessionID string `json:"session_id"`
	Kind      string `json:"content_kind"`
	Selector  string `json:"selector,omitempty"`
	TimeoutMs int    `json:"timeout,omitempty"`
}

// Validate checks structured-extraction parameters.
func (r *ExtractStructuredRequest) Validate() error {
	switch r.Kind {
	case KindForum, KindNews, KindFinancial:
	default:
		return NewValidationError("content_kind",
			"must be forum, news, or financial")
	}
	if err := ValidateSelector(r.Selector); err != nil {
		return err
	}
	if r.TimeoutMs != 0 {
		return ValidateTimeout(r.TimeoutMs)
	}
	return nil
}

// InteractRequest performs a single element interaction.
type InteractRequest struct {
	SessionID string         `json:"session_id"`
	Action    string         `json:"action"`
	Selector  string         `json:"selector"`
	Value     string         `json:"value,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
	TimeoutMs int            `json:"timeout,omitempty"`
}

// Validate checks interaction parameters, including the actions that require
// a value.
func (r *InteractRequest) Validate() error {
	switch r.Action {
	case ActionClick, ActionDoubleClick, ActionRightClick,
		ActionType, ActionSelect, ActionScroll, ActionHover:
	default:
		return NewValidationError("action", "unknown action: "+r.Action)
	}
	if r.Selector == "" && r.Action != ActionScroll {
		return NewValidationError("selector", "selector is required")
	}
	if err := ValidateSelector(r.Selector); err != nil {
		return err
	}
	if (r.Action == ActionType || r.Action == ActionSelect) && r.Value == "" {
		return NewValidationError("value",
			"value is required for action "+r.Action)
	}
	if len(r.Value) > MaxValueLength {
		return NewValidationError("value",
			fmt.Sprintf("exceeds maximum length of %d", MaxValueLength))
	}
	if r.TimeoutMs != 0 {
		return ValidateTimeout(r.TimeoutMs)
	}
	return nil
}

// InteractResult reports a completed interaction.
type InteractResult struct {
	Action     string  `json:"action"`
	Selector   string  `json:"selector"`
	DurationMs float64 `json:"duration_ms"`
}

// ScreenshotRequest captures the current page or one element of it.
type ScreenshotRequest struct {
	SessionID      string `json:"session_id"`
	Selector       string `json:"selector,omitempty"`
	FullPage       bool   `json:"full_page,omitempty"`
	Path           string `json:"path,omitempty"`
	Quality        int    `json:"quality,omitempty"`
	WaitForDynamic bool   `json:"wait_for_dynamic,omitempty"`
	TimeoutMs      int    `json:"timeout,omitempty"`
}

// Validate checks screenshot parameters.
func (r *ScreenshotRequest) Validate() error {
	if err := ValidateSelector(r.Selector); err != nil {
		return err
	}
	if r.Quality != 0 && (r.Quality < MinJPEGQuality || r.Quality > MaxJPEGQuality) {
		return NewValidationError("quality",
			fmt.Sprintf("must be between %d and %d", MinJPEGQuality, MaxJPEGQuality))
	}
	if strings.Contains(r.Path, "..") {
		return NewValidationError("path", "path cannot contain '..'")
	}
	if r.TimeoutMs != 0 {
		return ValidateTimeout(r.TimeoutMs)
	}
	return nil
}

// ScreenshotResult reports where a capture landed on disk.
type ScreenshotResult struct {
	Path       string  `json:"path"`
	SizeBytes  int64   `json:"size_bytes"`
	FullPage   bool    `json:"full_page"`
	DurationMs float64 `json:"duration_ms"`
}

// CaptchaResult reports the CAPTCHA heuristic verdict for the current page.
type CaptchaResult struct {
	Detected bool   `json:"captcha_detected"`
	Reason   string `json:"reason"`
}

// BatchOperation is one descriptor inside a batch request. Params is decoded
// into the matching operation request by the executor.
type BatchOperation struct {
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params,omitempty"`
}

// BatchRequest runs several operations against one session.
type BatchRequest struct {
	SessionID     string           `json:"session_id"`
	Operations    []BatchOperation `json:"operations"`
	Parallel      bool             `json:"parallel,omitempty"`
	MaxConcurrent int              `json:"max_concurrent,omitempty"`
}

// Validate checks the batch envelope. Individual operation params are
// validated when dispatched.
func (r *BatchRequest) Validate() error {
	if len(r.Operations) < MinBatchOperations || len(r.Operations) > MaxBatchOperations {
		return NewValidationError("operations",
			fmt.Sprintf("must contain between %d and %d operations",
				MinBatchOperations, MaxBatchOperations))
	}
	for i, op := range r.Operations {
		switch op.Type {
		case OpNavigate, OpExtract, OpExtractStructured,
			OpDetectCaptcha, OpInteract, OpScreenshot:
		default:
			return NewValidationError(
				fmt.Sprintf("operations[%d].type", i),
				"unknown operation type: "+op.Type)
		}
	}
	if r.MaxConcurrent < 0 {
		return NewValidationError("max_concurrent", "cannot be negative")
	}
	return nil
}

// BatchOperationResult is the per-descriptor outcome, order-preserving.
type BatchOperationResult struct {
	Operation string         `json:"operation"`
	Success   bool           `json:"success"`
	Data      any            `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorCode string         `json:"error_code,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// BatchResult aggregates the per-operation outcomes.
type BatchResult struct {
	Results    []BatchOperationResult `json:"results"`
	Total      int                    `json:"total"`
	Succeeded  int                    `json:"succeeded"`
	Failed     int                    `json:"failed"`
	Parallel   bool                   `json:"parallel"`
	DurationMs float64                `json:"duration_ms"`
}
