// Package domainutil resolves hostnames to their registrable (second-level) domain.
package domainutil

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// FromURL returns the second-level domain of rawURL's host.
func FromURL(rawURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}
	return FromHost(host), nil
}

// FromHost returns the registrable domain for host. IP literals and hosts
// without a public suffix (e.g. "localhost") are returned unchanged.
func FromHost(host string) string {
	host = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(host), "."))
	host = strings.TrimPrefix(host, ".")
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if host == "" || net.ParseIP(host) != nil {
		return host
	}
	etld1, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return etld1
}

// MustFromURL is FromURL for callers that treat an unparsable URL as its
// own opaque domain.
func MustFromURL(rawURL string) string {
	d, err := FromURL(rawURL)
	if err != nil {
		return rawURL
	}
	return d
}
