package tracking

import "time"

// CookieSnapshot is a read-only copy of a Cookie.
type CookieSnapshot struct {
	Key       string         `json:"key"`
	Value     string         `json:"value"`
	SourceURL string         `json:"source_url"`
	Category  CookieCategory `json:"category"`
}

// ExchangeSnapshot is a read-only copy of an Exchange.
type ExchangeSnapshot struct {
	ID          string           `json:"id"`
	Seq         int              `json:"seq"`
	URL         string           `json:"url"`
	Domain      string           `json:"domain"`
	TabID       string           `json:"tab_id"`
	Direction   Direction        `json:"direction"`
	Cookies     []CookieSnapshot `json:"cookies,omitempty"`
	ContentType string           `json:"content_type,omitempty"`
	Referer     string           `json:"referer,omitempty"`
	ThirdParty  bool             `json:"third_party"`
	Category    ExchangeCategory `json:"category"`
	ObservedAt  time.Time        `json:"observed_at"`
}

// DomainSnapshot is a read-only copy of a Domain with its exchanges.
type DomainSnapshot struct {
	Name      string             `json:"name"`
	Tracker   bool               `json:"tracker"`
	Cookies   []CookieSnapshot   `json:"cookies,omitempty"`
	Requests  []ExchangeSnapshot `json:"requests,omitempty"`
	Responses []ExchangeSnapshot `json:"responses,omitempty"`
}

// SessionSnapshot is the serialized form of a Session used for persistence.
type SessionSnapshot struct {
	ID          string           `json:"id"`
	TabID       string           `json:"tab_id"`
	URL         string           `json:"url"`
	Domain      string           `json:"domain"`
	Kind        SessionKind      `json:"kind"`
	Generation  uint64           `json:"generation"`
	CreatedAt   time.Time        `json:"created_at"`
	Evaluated   bool             `json:"evaluated"`
	Passes      int              `json:"passes"`
	OriginID    string           `json:"origin_id,omitempty"`
	Domains     []DomainSnapshot `json:"domains"`
	Redirects   []Redirect       `json:"redirects,omitempty"`
	Syncs       []CookieSync     `json:"cookie_syncs,omitempty"`
	Diagnostics []string         `json:"diagnostics,omitempty"`
	Shadow      *SessionSnapshot `json:"shadow,omitempty"`
}

// SessionSummary is the compact view used by listings and notifications.
type SessionSummary struct {
	ID                string      `json:"id"`
	TabID             string      `json:"tab_id"`
	URL               string      `json:"url"`
	Domain            string      `json:"domain"`
	Kind              SessionKind `json:"kind"`
	Generation        uint64      `json:"generation"`
	CreatedAt         time.Time   `json:"created_at"`
	Evaluated         bool        `json:"evaluated"`
	Passes            int         `json:"passes"`
	HasShadow         bool        `json:"has_shadow"`
	Domains           int         `json:"domains"`
	Requests          int         `json:"requests"`
	Responses         int         `json:"responses"`
	BasicTracking     int         `json:"basic_tracking"`
	TrackingByTracker int         `json:"tracking_by_tracker"`
	Trackers          []string    `json:"trackers,omitempty"`
	CookieSyncs       int         `json:"cookie_syncs"`
}

func (c *Cookie) Snapshot() CookieSnapshot {
	return CookieSnapshot{Key: c.key, Value: c.value, SourceURL: c.sourceURL, Category: c.category}
}

func (e *Exchange) Snapshot() ExchangeSnapshot {
	snap := ExchangeSnapshot{
		ID:          e.ID,
		Seq:         e.Seq,
		URL:         e.URL,
		Domain:      e.Domain,
		TabID:       e.TabID,
		Direction:   e.Direction,
		ContentType: e.ContentType,
		Referer:     e.Referer,
		ThirdParty:  e.ThirdParty,
		Category:    e.category,
		ObservedAt:  e.ObservedAt,
	}
	for _, c := range e.Cookies {
		snap.Cookies = append(snap.Cookies, c.Snapshot())
	}
	return snap
}

func (d *Domain) Snapshot() DomainSnapshot {
	snap := DomainSnapshot{Name: d.Name, Tracker: d.tracker}
	for _, c := range d.cookies {
		snap.Cookies = append(snap.Cookies, c.Snapshot())
	}
	for _, ex := range d.Requests {
		snap.Requests = append(snap.Requests, ex.Snapshot())
	}
	for _, ex := range d.Responses {
		snap.Responses = append(snap.Responses, ex.Snapshot())
	}
	return snap
}

// Snapshot copies the session, and for origin sessions its shadow.
func (s *Session) Snapshot() SessionSnapshot {
	snap := SessionSnapshot{
		ID:          s.ID,
		TabID:       s.TabID,
		URL:         s.URL,
		Domain:      s.Domain,
		Kind:        s.Kind,
		Generation:  s.Generation,
		CreatedAt:   s.CreatedAt,
		Evaluated:   s.Evaluated,
		Passes:      s.Passes,
		OriginID:    s.OriginID,
		Domains:     make([]DomainSnapshot, 0, len(s.domainOrder)),
		Redirects:   append([]Redirect(nil), s.Redirects...),
		Syncs:       append([]CookieSync(nil), s.Syncs...),
		Diagnostics: append([]string(nil), s.Diagnostics...),
	}
	for _, d := range s.Domains() {
		snap.Domains = append(snap.Domains, d.Snapshot())
	}
	if s.Kind == OriginSession && s.Shadow != nil {
		shadow := s.Shadow.Snapshot()
		snap.Shadow = &shadow
	}
	return snap
}

func (s *Session) Summary() SessionSummary {
	sum := SessionSummary{
		ID:          s.ID,
		TabID:       s.TabID,
		URL:         s.URL,
		Domain:      s.Domain,
		Kind:        s.Kind,
		Generation:  s.Generation,
		CreatedAt:   s.CreatedAt,
		Evaluated:   s.Evaluated,
		Passes:      s.Passes,
		HasShadow:   s.Shadow != nil,
		Domains:     len(s.domainOrder),
		Requests:    len(s.Requests),
		Responses:   len(s.Responses),
		CookieSyncs: len(s.Syncs),
	}
	for _, list := range [][]*Exchange{s.Requests, s.Responses} {
		for _, ex := range list {
			switch ex.category {
			case BasicTracking:
				sum.BasicTracking++
			case TrackingByTracker:
				sum.TrackingByTracker++
			}
		}
	}
	for _, d := range s.Domains() {
		if d.tracker {
			sum.Trackers = append(sum.Trackers, d.Name)
		}
	}
	return sum
}
