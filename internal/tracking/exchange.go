package tracking

import (
	"fmt"
	"strings"
	"time"

	"github.com/dgnsrekt/shadowtrack/internal/domainutil"
)

// Direction tells whether an exchange was observed on the way out or back.
type Direction int

const (
	DirectionRequest Direction = iota
	DirectionResponse
)

func (d Direction) String() string {
	if d == DirectionResponse {
		return "RESPONSE"
	}
	return "REQUEST"
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(b []byte) error {
	switch string(b) {
	case "REQUEST":
		*d = DirectionRequest
	case "RESPONSE":
		*d = DirectionResponse
	default:
		return fmt.Errorf("unknown direction %q", b)
	}
	return nil
}

// ExchangeCategory is the tracking verdict for one exchange.
type ExchangeCategory int

const (
	ExchangeNone ExchangeCategory = iota
	BasicTracking
	TrackingByTracker
)

func (c ExchangeCategory) String() string {
	switch c {
	case BasicTracking:
		return "BASICTRACKING"
	case TrackingByTracker:
		return "TRACKINGBYTRACKER"
	default:
		return "NONE"
	}
}

func (c ExchangeCategory) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *ExchangeCategory) UnmarshalText(b []byte) error {
	switch string(b) {
	case "NONE":
		*c = ExchangeNone
	case "BASICTRACKING":
		*c = BasicTracking
	case "TRACKINGBYTRACKER":
		*c = TrackingByTracker
	default:
		return fmt.Errorf("unknown exchange category %q", b)
	}
	return nil
}

// Header is one raw HTTP header as delivered by the host.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Exchange is one observed request or response.
type Exchange struct {
	ID          string
	Seq         int
	URL         string
	Domain      string
	TabID       string
	Direction   Direction
	Cookies     []*Cookie
	ContentType string
	Referer     string
	ThirdParty  bool
	ObservedAt  time.Time

	category ExchangeCategory
}

func (e *Exchange) Category() ExchangeCategory { return e.category }

// promote raises the category. BASICTRACKING may only be reached from NONE
// and TRACKINGBYTRACKER only from BASICTRACKING; categories never go down.
func (e *Exchange) promote(to ExchangeCategory) (bool, error) {
	if e.category >= to {
		return false, nil
	}
	if to-e.category != 1 {
		return false, fmt.Errorf("exchange %s %s -> %s: %w", e.ID, e.category, to, ErrIllegalTransition)
	}
	e.category = to
	return true, nil
}

func (e *Exchange) hasIdentifyingCookie() bool {
	for _, c := range e.Cookies {
		if c.Category() == CookieIdentifying {
			return true
		}
	}
	return false
}

// newExchange builds an exchange from raw host data. Headers are scanned once
// for cookies, Content-Type and Referer.
func newExchange(dir Direction, tabID, requestID, rawURL string, headers []Header, topDomain string, at time.Time) (*Exchange, error) {
	domain, err := domainutil.FromURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("resolve exchange domain: %w", err)
	}

	ex := &Exchange{
		ID:         requestID,
		URL:        rawURL,
		Domain:     domain,
		TabID:      tabID,
		Direction:  dir,
		ThirdParty: domain != topDomain,
		ObservedAt: at,
	}

	for _, h := range headers {
		switch strings.ToLower(strings.TrimSpace(h.Name)) {
		case "cookie":
			if dir == DirectionRequest {
				ex.Cookies = append(ex.Cookies, parseCookieHeader(h.Value, rawURL)...)
			}
		case "set-cookie":
			if dir == DirectionResponse {
				ex.Cookies = append(ex.Cookies, parseSetCookieHeader(h.Value, rawURL)...)
			}
		case "content-type":
			ex.ContentType = h.Value
		case "referer":
			if ref, err := domainutil.FromURL(h.Value); err == nil {
				ex.Referer = ref
			}
		}
	}
	return ex, nil
}
