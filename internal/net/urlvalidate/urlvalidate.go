// Package urlvalidate validates URLs for safe outbound use by tools: only
// https (auto-upgrading from http), no embedded credentials, no private or
// internal addresses, and optional allow/block domain lists.
//
// Ported from original_source/tron-tools/src/web/url_validator.rs, reusing
// the existing internal/net/ssrf package for private-address and
// blocked-hostname classification rather than duplicating that table.
package urlvalidate

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/tronrun/tron/internal/net/ssrf"
)

// MaxURLLength is the maximum accepted length of a raw URL string.
const MaxURLLength = 2000

// Error is a validation failure with a stable code, matching the runtime's
// error taxonomy.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

func invalidFormat(msg string) error { return &Error{"INVALID_FORMAT", "invalid URL: " + msg} }

// Config restricts validation to (or away from) specific domains. Empty
// slices mean "no restriction".
type Config struct {
	AllowedDomains []string
	BlockedDomains []string
}

// Validate checks rawURL against the rules above and returns the
// normalized, https-upgraded URL string on success.
//
// Property: every URL accepted by Validate has scheme
// "https" and a host not in the internal-address set.
func Validate(rawURL string, cfg Config) (string, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return "", invalidFormat("URL is empty")
	}
	if len(trimmed) > MaxURLLength {
		return "", &Error{"TOO_LONG", fmt.Sprintf("URL exceeds maximum length of %d characters", MaxURLLength)}
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", invalidFormat(err.Error())
	}

	switch parsed.Scheme {
	case "http", "https":
	default:
		return "", &Error{"INVALID_PROTOCOL", fmt.Sprintf("invalid protocol: %s (only http/https allowed)", parsed.Scheme)}
	}

	if parsed.User != nil {
		return "", &Error{"CREDENTIALS_IN_URL", "URL must not contain credentials"}
	}

	host := parsed.Hostname()
	if host == "" {
		return "", invalidFormat("no host in URL")
	}

	if ssrf.IsBlockedHostname(host) || ssrf.IsPrivateIPAddress(host) {
		return "", &Error{"INTERNAL_ADDRESS", fmt.Sprintf("internal/private address blocked: %s", host)}
	}

	if len(cfg.BlockedDomains) > 0 && domainInList(host, cfg.BlockedDomains) {
		return "", &Error{"DOMAIN_BLOCKED", fmt.Sprintf("domain blocked: %s", host)}
	}
	if len(cfg.AllowedDomains) > 0 && !domainInList(host, cfg.AllowedDomains) {
		return "", &Error{"DOMAIN_NOT_ALLOWED", fmt.Sprintf("domain not in allowed list: %s", host)}
	}

	parsed.Scheme = "https"
	return parsed.String(), nil
}

// domainInList reports whether host matches a domain or one of its
// subdomains in domains, case-insensitively.
func domainInList(host string, domains []string) bool {
	hostLower := strings.ToLower(host)
	for _, d := range domains {
		dLower := strings.ToLower(d)
		if hostLower == dLower || strings.HasSuffix(hostLower, "."+dLower) {
			return true
		}
	}
	return false
}
