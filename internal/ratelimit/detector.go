// Package ratelimit classifies block and throttle pages served by target
// sites so the pacer and site memory can react to them.
package ratelimit

import (
	"fmt"
	"regexp"
	"strings"
)

// Bodies are truncated before regex matching; block pages are small and
// unbounded input invites catastrophic backtracking.
const maxScanBytes = 100 * 1024

// ErrorCategory represents the broad category of a detected error.
type ErrorCategory string

const (
	CategoryRateLimit    ErrorCategory = "rate_limit"
	CategoryAccessDenied ErrorCategory = "access_denied"
	CategoryCaptcha      ErrorCategory = "captcha"
	CategoryGeoBlocked   ErrorCategory = "geo_blocked"
)

// Info is the classification result for one response.
type Info struct {
	Detected       bool
	ErrorCode      string
	Category       ErrorCategory
	SuggestedDelay int
	Description    string
}

// signature pairs a body pattern with the classification it implies.
type signature struct {
	re   *regexp.Regexp
	info Info
}

// cfCode builds a signature for a numbered Cloudflare error page. The
// character classes avoid dot-star backtracking across HTML tags.
func cfCode(code int, cat ErrorCategory, delayMs int, desc string) signature {
	return signature{
		re: regexp.MustCompile(fmt.Sprintf(`(?i)error[^<]{0,10}code[^<]{0,5}:?\s{0,5}%d`, code)),
		info: Info{
			Detected:       true,
			ErrorCode:      fmt.Sprintf("CF_%d", code),
			Category:       cat,
			SuggestedDelay: delayMs,
			Description:    desc,
		},
	}
}

func generic(expr, code string, cat ErrorCategory, delayMs int, desc string) signature {
	return signature{
		re: regexp.MustCompile(expr),
		info: Info{
			Detected:       true,
			ErrorCode:      code,
			Category:       cat,
			SuggestedDelay: delayMs,
			Description:    desc,
		},
	}
}

// signatures is scanned in order; the Cloudflare numbered codes come first
// because they are strictly more specific than the phrase patterns.
var signatures = []signature{
	cfCode(1015, CategoryRateLimit, 60000, "Cloudflare rate limit exceeded"),
	cfCode(1020, CategoryAccessDenied, 30000, "Cloudflare access denied - suspicious request"),
	cfCode(1006, CategoryAccessDenied, 30000, "Cloudflare access denied"),
	cfCode(1007, CategoryAccessDenied, 30000, "Cloudflare access denied"),
	cfCode(1008, CategoryAccessDenied, 30000, "Cloudflare access denied"),
	// Geo blocks gain nothing from retrying, so no delay is suggested.
	cfCode(1009, CategoryGeoBlocked, 0, "Cloudflare geo-restriction"),
	cfCode(1010, CategoryAccessDenied, 30000, "Cloudflare browser signature rejected"),
	cfCode(1012, CategoryAccessDenied, 30000, "Cloudflare access denied"),

	generic(`(?i)access\s{1,5}denied`, "ACCESS_DENIED", CategoryAccessDenied, 5000, "Generic access denied"),
	generic(`(?i)rate\s{0,3}limit`, "RATE_LIMITED", CategoryRateLimit, 10000, "Generic rate limit"),
	generic(`(?i)too\s{1,5}many\s{1,5}requests`, "TOO_MANY_REQUESTS", CategoryRateLimit, 10000, "Too many requests"),
	generic(`(?i)you\s{1,5}(have\s{1,5}been\s{1,5})?blocked`, "BLOCKED", CategoryAccessDenied, 15000, "Request blocked"),
	// Challenges need a human or a different approach, not a longer wait.
	generic(`(?i)(captcha|hcaptcha|recaptcha|challenge)`, "CAPTCHA_REQUIRED", CategoryCaptcha, 0, "CAPTCHA or challenge required"),
}

// Detect classifies an HTTP status plus response body. A body signature
// overrides a bare status verdict because it carries more detail.
func Detect(statusCode int, body string) Info {
	if len(body) > maxScanBytes {
		body = body[:maxScanBytes]
	}

	var info Info
	switch statusCode {
	case 429:
		info = Info{
			Detected:       true,
			ErrorCode:      "HTTP_429",
			Category:       CategoryRateLimit,
			SuggestedDelay: 60000,
			Description:    "HTTP 429 Too Many Requests",
		}
	case 503:
		info = Info{
			Detected:       true,
			ErrorCode:      "HTTP_503",
			Category:       CategoryRateLimit,
			SuggestedDelay: 30000,
			Description:    "HTTP 503 Service Unavailable",
		}
	}

	for _, sig := range signatures {
		if sig.re.MatchString(body) {
			return sig.info
		}
	}

	// A 403 that mentions Cloudflare without a numbered code is still a
	// block page.
	if statusCode == 403 && !info.Detected &&
		strings.Contains(strings.ToLower(body), "cloudflare") {
		return Info{
			Detected:       true,
			ErrorCode:      "CF_403",
			Category:       CategoryAccessDenied,
			SuggestedDelay: 30000,
			Description:    "Cloudflare 403 Forbidden",
		}
	}

	return info
}

// AdjustDelay clamps a suggested delay into the caller's allowed window.
func AdjustDelay(baseDelay, minDelay, maxDelay int) int {
	if baseDelay < minDelay {
		return minDelay
	}
	if baseDelay > maxDelay {
		return maxDelay
	}
	return baseDelay
}
