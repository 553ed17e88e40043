package sitememory

import (
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/nomadbarefoot/surf/internal/types"
)

// Origin normalizes a URL to its scheme://host[:port] form, the key used
// for site memory rows. Path, query, fragment, and credentials are dropped;
// scheme and host are lowercased.
func Origin(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", types.NewValidationError("url", "malformed URL: "+err.Error())
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", types.NewValidationError("url", "scheme must be http or https")
	}
	if u.Hostname() == "" {
		return "", types.NewValidationError("url", "missing host")
	}

	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" {
		host += ":" + port
	}
	return strings.ToLower(u.Scheme) + "://" + host, nil
}

// RegistrableDomain returns the eTLD+1 for an origin or hostname, used to
// group related subdomains in search results and reporting. Falls back to
// the bare host when the public suffix list has no answer (IPs, localhost).
func RegistrableDomain(origin string) string {
	host := origin
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return domain
}
