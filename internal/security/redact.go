package security

import (
	"net/url"
	"strings"
)

// secretParamHints flag query parameter names that likely carry credentials.
// Matching is substring-based on the lowercased name, so "x-api-key" and
// "session_token" are caught too.
var secretParamHints = []string{
	"password", "passwd", "pwd",
	"secret", "token", "auth", "bearer", "credential", "key",
	"session", "sessionid", "sid", "private",
}

// RedactURL strips userinfo credentials and secret-looking query parameter
// values from a URL so it can be logged. Unparseable input is replaced
// wholesale rather than guessed at.
func RedactURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "[invalid-url]"
	}

	if parsed.User != nil {
		parsed.User = url.User("[REDACTED]")
	}

	if parsed.RawQuery != "" {
		q := parsed.Query()
		for name := range q {
			if isSecretParam(name) {
				q[name] = []string{"[REDACTED]"}
			}
		}
		parsed.RawQuery = q.Encode()
	}

	return parsed.String()
}

func isSecretParam(name string) bool {
	name = strings.ToLower(name)
	for _, hint := range secretParamHints {
		if strings.Contains(name, hint) {
			return true
		}
	}
	return false
}
