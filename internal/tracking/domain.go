package tracking

// Domain aggregates everything one session saw for a second-level domain.
type Domain struct {
	Name      string
	Requests  []*Exchange
	Responses []*Exchange

	tracker bool
	cookies []*Cookie
	index   map[string]*Cookie
}

func newDomain(name string) *Domain {
	return &Domain{Name: name, index: make(map[string]*Cookie)}
}

func (d *Domain) IsTracker() bool { return d.tracker }

// markTracker sets the tracker flag. The flag is never cleared.
func (d *Domain) markTracker() bool {
	if d.tracker {
		return false
	}
	d.tracker = true
	return true
}

// Cookies returns the deduplicated cookie set in first-seen order.
func (d *Domain) Cookies() []*Cookie {
	out := make([]*Cookie, len(d.cookies))
	copy(out, d.cookies)
	return out
}

// intern returns the domain's instance for c's key and value, adding c if
// this pair has not been seen yet.
func (d *Domain) intern(c *Cookie) *Cookie {
	id := cookieIdentity(c.key, c.value)
	if existing, ok := d.index[id]; ok {
		return existing
	}
	d.index[id] = c
	d.cookies = append(d.cookies, c)
	return c
}

func (d *Domain) hasCookie(key, value string) bool {
	_, ok := d.index[cookieIdentity(key, value)]
	return ok
}

func (d *Domain) cookiesByKey(key string) []*Cookie {
	var out []*Cookie
	for _, c := range d.cookies {
		if c.key == key {
			out = append(out, c)
		}
	}
	return out
}

func (d *Domain) archive(ex *Exchange) {
	if ex.Direction == DirectionResponse {
		d.Responses = append(d.Responses, ex)
		return
	}
	d.Requests = append(d.Requests, ex)
}
