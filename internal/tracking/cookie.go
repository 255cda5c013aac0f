package tracking

import (
	"fmt"
	"strings"
)

// CookieCategory is the classification state of a cookie observation.
type CookieCategory int

const (
	CookieNone CookieCategory = iota
	CookieSafe
	CookieIdentifying
)

func (c CookieCategory) String() string {
	switch c {
	case CookieSafe:
		return "SAFE"
	case CookieIdentifying:
		return "IDENTIFYING"
	default:
		return "NONE"
	}
}

func (c CookieCategory) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *CookieCategory) UnmarshalText(b []byte) error {
	switch string(b) {
	case "NONE":
		*c = CookieNone
	case "SAFE":
		*c = CookieSafe
	case "IDENTIFYING":
		*c = CookieIdentifying
	default:
		return fmt.Errorf("unknown cookie category %q", b)
	}
	return nil
}

// Cookie is one cookie observation. Key and value never change after
// construction; the category only moves through transition.
type Cookie struct {
	key       string
	value     string
	sourceURL string
	category  CookieCategory
}

func NewCookie(key, value, sourceURL string) *Cookie {
	return &Cookie{key: key, value: value, sourceURL: sourceURL}
}

func (c *Cookie) Key() string              { return c.key }
func (c *Cookie) Value() string            { return c.value }
func (c *Cookie) SourceURL() string        { return c.sourceURL }
func (c *Cookie) Category() CookieCategory { return c.category }

// transition moves the cookie to the requested category. Allowed moves are
// NONE->SAFE, NONE->IDENTIFYING and IDENTIFYING->SAFE. SAFE is absorbing.
// It reports whether the category changed.
func (c *Cookie) transition(to CookieCategory) (bool, error) {
	if c.category == to {
		return false, nil
	}
	if c.category == CookieSafe || to == CookieNone {
		return false, fmt.Errorf("cookie %q %s -> %s: %w", c.key, c.category, to, ErrIllegalTransition)
	}
	c.category = to
	return true, nil
}

func cookieIdentity(key, value string) string {
	return key + "\x00" + value
}

// parseCookieHeader splits a request Cookie header into its pairs. Each pair
// is split on the first '=' only; a pair without '=' keeps an empty value.
func parseCookieHeader(header, sourceURL string) []*Cookie {
	var cookies []*Cookie
	for _, pair := range strings.Split(header, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		cookies = append(cookies, splitPair(pair, sourceURL))
	}
	return cookies
}

// parseSetCookieHeader parses one Set-Cookie header value. The value may hold
// several cookies separated by line breaks; only the first ';' segment of
// each line is the cookie, attributes are discarded.
func parseSetCookieHeader(header, sourceURL string) []*Cookie {
	var cookies []*Cookie
	for _, line := range strings.FieldsFunc(header, func(r rune) bool { return r == '\n' || r == '\r' }) {
		first, _, _ := strings.Cut(line, ";")
		first = strings.TrimSpace(first)
		if first == "" {
			continue
		}
		cookies = append(cookies, splitPair(first, sourceURL))
	}
	return cookies
}

func splitPair(pair, sourceURL string) *Cookie {
	key, value, _ := strings.Cut(pair, "=")
	return NewCookie(strings.TrimSpace(key), strings.TrimSpace(value), sourceURL)
}
