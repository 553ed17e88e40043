package security

import (
	"errors"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// URL validation errors.
var (
	ErrInvalidURL       = errors.New("invalid URL")
	ErrBlockedScheme    = errors.New("URL scheme not allowed")
	ErrPrivateIPBlocked = errors.New("private/internal IP addresses are not allowed")
	ErrLocalhostBlocked = errors.New("localhost URLs are not allowed")
	ErrMetadataBlocked  = errors.New("cloud metadata URLs are not allowed")
)

// blockedHostnames are rejected outright: the local host under any alias,
// plus the well-known cloud metadata hostnames.
var blockedHostnames = map[string]bool{
	"localhost":                true,
	"localhost.localdomain":    true,
	"local":                    true,
	"ip6-localhost":            true,
	"ip6-loopback":             true,
	"metadata.google.internal": true,
	"metadata":                 true,
	"instance-data":            true,
}

// metadataIPs are the cloud provider metadata endpoints. Reaching any of
// them from a scraping session means credential exfiltration.
var metadataIPs = []net.IP{
	net.ParseIP("169.254.169.254"), // AWS, GCP, Azure, DigitalOcean, OpenStack
	net.ParseIP("169.254.170.2"),   // AWS ECS task metadata
	net.ParseIP("100.100.100.200"), // Alibaba Cloud
	net.ParseIP("192.0.0.192"),     // Oracle Cloud IMDS
	net.ParseIP("fd00:ec2::254"),   // AWS IPv6 metadata
	net.ParseIP("fc00:ec2::254"),   // AWS IPv6 metadata (alternate)
}

// ValidateURL screens a navigation target against SSRF vectors: non-HTTP
// schemes, localhost aliases, loopback/private/link-local/unspecified
// addresses, cloud metadata endpoints, and the decimal/octal/hex/shortened
// IP encodings used to sneak past naive checks. Hostnames are resolved and
// every A/AAAA answer screened; a DNS failure passes, the browser will
// surface it.
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return ErrInvalidURL
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ErrInvalidURL
	}

	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
	default:
		return ErrBlockedScheme
	}

	host := strings.ToLower(parsed.Hostname())
	if blockedHostnames[host] ||
		strings.HasSuffix(host, ".localhost") ||
		strings.HasPrefix(host, "localhost.") {
		return ErrLocalhostBlocked
	}

	if ip := parseEncodedIP(host); ip != nil {
		return screenIP(ip)
	}

	addrs, err := net.LookupIP(host)
	if err != nil {
		return nil
	}
	for _, addr := range addrs {
		if err := screenIP(addr); err != nil {
			return err
		}
	}
	return nil
}

// screenIP rejects addresses a scrape must never reach. IPv4-mapped IPv6
// is collapsed first so ::ffff:127.0.0.1 cannot slip through as "IPv6".
func screenIP(ip net.IP) error {
	if ip4 := ip.To4(); ip4 != nil {
		ip = ip4
	}

	switch {
	case ip.IsLoopback():
		return ErrLocalhostBlocked
	case ip.IsPrivate():
		return ErrPrivateIPBlocked
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return ErrPrivateIPBlocked
	case isCloudMetadataIP(ip):
		return ErrMetadataBlocked
	case ip.IsUnspecified():
		return ErrPrivateIPBlocked
	}
	return nil
}

func isCloudMetadataIP(ip net.IP) bool {
	for _, m := range metadataIPs {
		if ip.Equal(m) {
			return true
		}
	}
	return false
}

// parseEncodedIP parses a host that is an IP literal in any of the
// tolerated encodings: standard dotted/colon form, a bare 32-bit decimal
// (2130706433 = 127.0.0.1), octal or hex octets (0177.0.0.1, 0x7f.0.0.1),
// or the shortened two-part form (127.1). Returns nil when the host is not
// an IP at all.
func parseEncodedIP(host string) net.IP {
	if ip := net.ParseIP(host); ip != nil {
		return ip
	}

	if num, err := strconv.ParseUint(host, 10, 32); err == nil {
		return net.IPv4(byte(num>>24), byte(num>>16), byte(num>>8), byte(num))
	}

	parts := strings.Split(host, ".")
	switch len(parts) {
	case 4:
		var octets [4]byte
		for i, part := range parts {
			val, err := parseNumericOctet(part)
			if err != nil || val > 255 {
				return nil
			}
			octets[i] = byte(val)
		}
		return net.IPv4(octets[0], octets[1], octets[2], octets[3])
	case 2:
		// 127.1 is 127.0.0.1: the second part fills the low 24 bits.
		first, err1 := parseNumericOctet(parts[0])
		second, err2 := parseNumericOctet(parts[1])
		if err1 == nil && err2 == nil && first <= 255 && second <= 0xFFFFFF {
			return net.IPv4(byte(first), byte(second>>16), byte(second>>8), byte(second))
		}
	}
	return nil
}

// parseNumericOctet accepts decimal, 0-prefixed octal, and 0x-prefixed hex.
func parseNumericOctet(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return 0, errors.New("empty component")
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		return strconv.ParseUint(s[2:], 16, 64)
	case len(s) > 1 && s[0] == '0':
		return strconv.ParseUint(s[1:], 8, 64)
	default:
		return strconv.ParseUint(s, 10, 64)
	}
}
