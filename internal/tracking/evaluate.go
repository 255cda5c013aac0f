package tracking

import (
	"log/slog"
	"strings"

	"github.com/dgnsrekt/shadowtrack/internal/domainutil"
)

// minSyncValueLen keeps short values (flags, "1", "true") out of the
// cookie-syncing pass.
const minSyncValueLen = 8

// JarCookie is one entry from the host's live cookie jar.
type JarCookie struct {
	Domain string `json:"domain"`
	Name   string `json:"name"`
	Value  string `json:"value"`
	Path   string `json:"path,omitempty"`
}

// SafeCookieLookup exposes the persisted safe-cookie knowledge base.
type SafeCookieLookup interface {
	Lookup(domain string) map[string]struct{}
}

type emptySafeCookies struct{}

func (emptySafeCookies) Lookup(string) map[string]struct{} { return nil }

// evaluate runs the comparison pipeline on an origin session. Phases run in
// order and each one sees everything the previous phases committed. The
// returned effects persist cookies that became SAFE in this pass.
func (s *Session) evaluate(originJar, shadowJar []JarCookie, safe SafeCookieLookup) []Effect {
	s.reconcileJar(originJar)
	if s.Shadow != nil {
		s.Shadow.reconcileJar(shadowJar)
	}

	effects := s.compareCookies(safe)

	for _, ex := range s.Requests {
		s.evaluateBasic(ex)
	}
	for _, ex := range s.Responses {
		s.evaluateBasic(ex)
	}

	for _, ex := range s.Requests {
		s.evaluateByTracker(ex)
	}
	for _, ex := range s.Responses {
		s.evaluateByTracker(ex)
	}

	s.Syncs = s.detectCookieSyncs()

	s.Evaluated = true
	s.Passes++
	return effects
}

// reconcileJar adds script-set cookies visible in the live jar that no
// exchange carried. Only domains the session already observed are touched.
func (s *Session) reconcileJar(jar []JarCookie) {
	added := 0
	for _, jc := range jar {
		host := strings.TrimPrefix(jc.Domain, ".")
		d, ok := s.domains[domainutil.FromHost(host)]
		if !ok || d.hasCookie(jc.Name, jc.Value) {
			continue
		}
		d.intern(NewCookie(jc.Name, jc.Value, "https://"+host+"/"))
		added++
	}
	if added > 0 {
		slog.Debug("late cookies reconciled", "tab_id", s.TabID, "kind", s.Kind, "added", added)
	}
}

func (s *Session) compareCookies(safe SafeCookieLookup) []Effect {
	if s.Shadow == nil {
		s.diagnose("no shadow session: cookie comparison skipped")
		return nil
	}
	if safe == nil {
		safe = emptySafeCookies{}
	}

	var effects []Effect
	for _, d := range s.Domains() {
		safeKeys := safe.Lookup(d.Name)
		shadow, ok := s.Shadow.domains[d.Name]
		if !ok {
			slog.Debug("no shadow domain for comparison", "tab_id", s.TabID, "domain", d.Name)
			shadow = nil
		}
		for _, c := range d.cookies {
			if classifyCookie(c, safeKeys, shadow) {
				effects = append(effects, RecordSafeCookie{Domain: d.Name, Key: c.key, Value: c.value})
			}
		}
	}
	return effects
}

// detectCookieSyncs looks for identifying values that show up under another
// domain, either as a cookie value or inside a request URL.
func (s *Session) detectCookieSyncs() []CookieSync {
	var syncs []CookieSync
	seen := make(map[string]struct{})
	add := func(sync CookieSync) {
		id := sync.FromDomain + "\x00" + sync.ToDomain + "\x00" + sync.Key
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		syncs = append(syncs, sync)
	}

	domains := s.Domains()
	for _, from := range domains {
		for _, c := range from.cookies {
			if c.category != CookieIdentifying || len(c.value) < minSyncValueLen {
				continue
			}
			for _, to := range domains {
				if to.Name == from.Name {
					continue
				}
				if sharesCookieValue(to, c.value) {
					add(CookieSync{Key: c.key, Value: c.value, FromDomain: from.Name, ToDomain: to.Name, Via: "cookie"})
					continue
				}
				for _, req := range to.Requests {
					if strings.Contains(req.URL, c.value) {
						add(CookieSync{Key: c.key, Value: c.value, FromDomain: from.Name, ToDomain: to.Name, Via: "url"})
						break
					}
				}
			}
		}
	}
	return syncs
}

func sharesCookieValue(d *Domain, value string) bool {
	for _, c := range d.cookies {
		if c.value == value {
			return true
		}
	}
	return false
}
