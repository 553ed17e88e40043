// Package assets provides the embedded landing page so the binary ships
// without external file dependencies.
package assets

import (
	"bytes"
	"html/template"
	"regexp"
)

// versionSanitizer strips characters that have no business in a version
// string. The version arrives via build-time ldflags, which is an injection
// surface like any other.
var versionSanitizer = regexp.MustCompile(`[^a-zA-Z0-9.\-_+]`)

// SanitizeVersion reduces a version string to a safe charset.
// Returns "unknown" if nothing survives.
func SanitizeVersion(version string) string {
	sanitized := versionSanitizer.ReplaceAllString(version, "")
	if sanitized == "" {
		return "unknown"
	}
	if len(sanitized) > 100 {
		sanitized = sanitized[:100]
	}
	return sanitized
}

// IndexPageData feeds the landing page template.
type IndexPageData struct {
	Version     string
	GoVersion   string
	Uptime      string
	Sessions    int
	MaxSessions int
}

var indexPageTemplate = template.Must(template.New("index").Parse(indexPageHTML))

// RenderIndexPage renders the landing page. All values pass through
// html/template escaping; the version is additionally pre-sanitized.
func RenderIndexPage(data IndexPageData) (string, error) {
	data.Version = SanitizeVersion(data.Version)

	var buf bytes.Buffer
	if err := indexPageTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const indexPageHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>surf</title>
<style>
:root { --fg: #c9d1d9; --dim: #8b949e; --accent: #58a6ff; --ok: #3fb950; --bg: #0d1117; --panel: #161b22; --line: #30363d; }
* { box-sizing: border-box; }
body { margin: 0; min-height: 100vh; display: grid; place-items: center; background: var(--bg); color: var(--fg); font: 15px/1.6 ui-monospace, 'SF Mono', Menlo, Consolas, monospace; }
main { width: min(34rem, 92vw); border: 1px solid var(--line); border-radius: 6px; background: var(--panel); }
header { padding: 0.6rem 1rem; border-bottom: 1px solid var(--line); display: flex; justify-content: space-between; }
header h1 { margin: 0; font-size: 1rem; font-weight: 600; color: var(--accent); }
header .up { color: var(--ok); }
header .up::before { content: '\25CF  '; }
dl { margin: 0; padding: 1rem; display: grid; grid-template-columns: max-content 1fr; gap: 0.3rem 1.2rem; }
dt { color: var(--dim); }
dd { margin: 0; }
footer { padding: 0.6rem 1rem; border-top: 1px solid var(--line); color: var(--dim); font-size: 0.85rem; }
footer a { color: var(--accent); text-decoration: none; }
</style>
</head>
<body>
<main>
<header><h1>surf</h1><span class="up">running</span></header>
<dl>
<dt>version</dt><dd>{{.Version}}</dd>
<dt>go</dt><dd>{{.GoVersion}}</dd>
<dt>uptime</dt><dd>{{.Uptime}}</dd>
<dt>sessions</dt><dd>{{.Sessions}} / {{.MaxSessions}}</dd>
</dl>
<footer>API at <a href="/api/v1/status">/api/v1</a></footer>
</main>
</body>
</html>`
