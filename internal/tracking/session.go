package tracking

import (
	"fmt"
	"log/slog"
	"time"
)

// SessionKind distinguishes the cookie-bearing origin session from its
// cookie-free shadow counterpart.
type SessionKind int

const (
	OriginSession SessionKind = iota
	ShadowSession
)

func (k SessionKind) String() string {
	if k == ShadowSession {
		return "shadow"
	}
	return "origin"
}

func (k SessionKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *SessionKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "origin":
		*k = OriginSession
	case "shadow":
		*k = ShadowSession
	default:
		return fmt.Errorf("unknown session kind %q", b)
	}
	return nil
}

// ContextHandle identifies an isolated browsing context created by the host.
type ContextHandle string

// Redirect records one hop of a redirect chain.
type Redirect struct {
	RequestID      string `json:"request_id"`
	OriginDomain   string `json:"origin_domain"`
	OriginURL      string `json:"origin_url"`
	DestinationURL string `json:"destination_url"`
}

// CookieSync is an identifying cookie value seen leaving its own domain.
type CookieSync struct {
	Key        string `json:"key"`
	Value      string `json:"value"`
	FromDomain string `json:"from_domain"`
	ToDomain   string `json:"to_domain"`
	Via        string `json:"via"`
}

// Session is the per-tab state for one page load. Origin sessions own a
// shadow session once the host has created the isolated context.
type Session struct {
	ID         string
	TabID      string
	URL        string
	Domain     string
	Kind       SessionKind
	Generation uint64
	CreatedAt  time.Time

	Requests    []*Exchange
	Responses   []*Exchange
	Redirects   []Redirect
	Evaluated   bool
	Passes      int
	Syncs       []CookieSync
	Diagnostics []string

	// Origin only.
	Shadow        *Session
	Context       ContextHandle
	shadowPending bool
	loaded        bool

	// Shadow only.
	OriginID    string
	OriginTabID string

	domains     map[string]*Domain
	domainOrder []string
	seq         int
}

func newSession(kind SessionKind, id, tabID, url, domain string, gen uint64, at time.Time) *Session {
	return &Session{
		ID:         id,
		TabID:      tabID,
		URL:        url,
		Domain:     domain,
		Kind:       kind,
		Generation: gen,
		CreatedAt:  at,
		domains:    make(map[string]*Domain),
	}
}

// DomainByName returns the named domain, if this session has observed it.
func (s *Session) DomainByName(name string) (*Domain, bool) {
	d, ok := s.domains[name]
	return d, ok
}

// Domains returns domains in first-observed order.
func (s *Session) Domains() []*Domain {
	out := make([]*Domain, 0, len(s.domainOrder))
	for _, name := range s.domainOrder {
		out = append(out, s.domains[name])
	}
	return out
}

func (s *Session) domain(name string) *Domain {
	if d, ok := s.domains[name]; ok {
		return d
	}
	d := newDomain(name)
	s.domains[name] = d
	s.domainOrder = append(s.domainOrder, name)
	return d
}

func (s *Session) isTracker(name string) bool {
	d, ok := s.domains[name]
	return ok && d.IsTracker()
}

func (s *Session) diagnose(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	s.Diagnostics = append(s.Diagnostics, msg)
	slog.Debug("session diagnostic", "tab_id", s.TabID, "kind", s.Kind, "message", msg)
}

// archive stores ex in arrival order under the session and its domain, and
// interns its cookies into the domain's cookie set.
func (s *Session) archive(ex *Exchange) *Domain {
	d := s.domain(ex.Domain)
	for i, c := range ex.Cookies {
		ex.Cookies[i] = d.intern(c)
	}
	s.seq++
	ex.Seq = s.seq
	if ex.Direction == DirectionResponse {
		s.Responses = append(s.Responses, ex)
	} else {
		s.Requests = append(s.Requests, ex)
	}
	d.archive(ex)
	return d
}

// correspondingRequest finds the request a response answers. The first
// request with the same URL and id wins, then the first with the same URL.
// Concurrent same-URL requests can be mismatched by the URL fallback.
func (s *Session) correspondingRequest(resp *Exchange) *Exchange {
	var byURL *Exchange
	for _, req := range s.Requests {
		if req.URL != resp.URL {
			continue
		}
		if resp.ID != "" && req.ID == resp.ID {
			return req
		}
		if byURL == nil {
			byURL = req
		}
	}
	return byURL
}

// classifyCookie applies the safe/identifying rules to one origin cookie.
// It reports whether the cookie newly became SAFE through shadow comparison
// and should be persisted.
func classifyCookie(c *Cookie, safeKeys map[string]struct{}, shadow *Domain) bool {
	if _, ok := safeKeys[c.key]; ok {
		if _, err := c.transition(CookieSafe); err != nil {
			slog.Debug("cookie transition rejected", "key", c.key, "error", err)
		}
		return false
	}
	if shadow == nil {
		return false
	}
	counterparts := shadow.cookiesByKey(c.key)
	if len(counterparts) == 0 {
		return false
	}
	for _, sc := range counterparts {
		if sc.value == c.value {
			changed, err := c.transition(CookieSafe)
			if err != nil {
				slog.Debug("cookie transition rejected", "key", c.key, "error", err)
			}
			return changed
		}
	}
	if _, err := c.transition(CookieIdentifying); err != nil {
		slog.Debug("cookie stays safe", "key", c.key, "error", err)
	}
	return false
}

// evaluateBasic assigns BASICTRACKING to third-party exchanges carrying an
// identifying cookie.
func (s *Session) evaluateBasic(ex *Exchange) {
	if !ex.ThirdParty || !ex.hasIdentifyingCookie() {
		return
	}
	if _, err := ex.promote(BasicTracking); err != nil {
		slog.Debug("exchange promotion rejected", "request_id", ex.ID, "error", err)
		return
	}
	s.domain(ex.Domain).markTracker()
}

// evaluateByTracker upgrades a BASICTRACKING exchange reached through a
// tracker referer or a redirect out of a tracker.
func (s *Session) evaluateByTracker(ex *Exchange) {
	if ex.Category() != BasicTracking {
		return
	}
	ref := ex
	if ex.Direction == DirectionResponse {
		ref = s.correspondingRequest(ex)
		if ref == nil {
			s.diagnose("%s: response %s %s", ErrNoCorrespondingRequest, ex.ID, ex.URL)
			return
		}
	}
	if !s.reachedViaTracker(ref, ex.Domain) {
		return
	}
	if _, err := ex.promote(TrackingByTracker); err != nil {
		slog.Debug("exchange promotion rejected", "request_id", ex.ID, "error", err)
		return
	}
	s.domain(ex.Domain).markTracker()
}

func (s *Session) reachedViaTracker(req *Exchange, domain string) bool {
	if req.Referer != "" && req.Referer != domain && s.isTracker(req.Referer) {
		return true
	}
	for _, r := range s.Redirects {
		if r.RequestID == req.ID && r.OriginDomain != domain && s.isTracker(r.OriginDomain) {
			return true
		}
	}
	return false
}

func (s *Session) categorize(ex *Exchange) {
	s.evaluateBasic(ex)
	s.evaluateByTracker(ex)
}
