// Package target validates upstream target URLs against the fal host allow-list.
package target

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

var (
	// ErrMalformed is returned when the target is not an absolute http(s) URL.
	ErrMalformed = errors.New("malformed target URL")
	// ErrNotAllowed is returned when the target host is outside the allow-list.
	ErrNotAllowed = errors.New("target host is not allowed")
)

// allowedSuffixes are the dotted domain suffixes the relay forwards to.
// A hostname matches when it equals the suffix without its leading dot
// or ends with the suffix.
var allowedSuffixes = []string{".fal.ai", ".fal.run"}

// hostProfile canonicalises hostnames the way browsers do before comparing
// them: Unicode labels are mapped and converted to punycode, and case is folded.
// Underscores are tolerated, as they are in URL hostnames.
var hostProfile = idna.New(idna.MapForLookup(), idna.StrictDomainName(false))

// Parse parses raw and checks its hostname against the allow-list.
// Errors wrap ErrMalformed or ErrNotAllowed.
func Parse(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrMalformed, u.Scheme)
	}

	host, err := canonicalHost(u.Hostname())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !hostAllowed(host) {
		return nil, fmt.Errorf("%w: %q", ErrNotAllowed, host)
	}
	return u, nil
}

// Allowed reports whether raw parses as a URL whose host is on the allow-list.
func Allowed(raw string) bool {
	_, err := Parse(raw)
	return err == nil
}

// Hosts returns the allow-listed domains without their leading dots.
func Hosts() []string {
	hosts := make([]string, 0, len(allowedSuffixes))
	for _, s := range allowedSuffixes {
		hosts = append(hosts, strings.TrimPrefix(s, "."))
	}
	return hosts
}

func canonicalHost(host string) (string, error) {
	if host == "" {
		return "", errors.New("empty host")
	}
	ascii, err := hostProfile.ToASCII(host)
	if err != nil {
		return "", err
	}
	return strings.ToLower(ascii), nil
}

func hostAllowed(host string) bool {
	for _, suffix := range allowedSuffixes {
		if host == strings.TrimPrefix(suffix, ".") || strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}
