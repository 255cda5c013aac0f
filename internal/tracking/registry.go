package tracking

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/dgnsrekt/shadowtrack/internal/domainutil"
	"github.com/google/uuid"
)

const (
	DefaultSettleDelay      = 10 * time.Second
	DefaultNavigateDebounce = time.Second
)

// Options tune a Registry. Zero values select the defaults.
type Options struct {
	SafeCookies      SafeCookieLookup
	SettleDelay      time.Duration
	NavigateDebounce time.Duration
	OrphanCapacity   int
	Now              func() time.Time
	NewID            func() string
}

type navMark struct {
	url string
	at  time.Time
}

// Registry owns every live session keyed by browser tab id. It is not safe
// for concurrent use: one goroutine feeds it events and executes the
// returned effects.
type Registry struct {
	sessions map[string]*Session
	safe     SafeCookieLookup
	orphans  *orphanBuffer
	lastNav  map[string]navMark
	active   string
	nextGen  uint64

	settleDelay time.Duration
	debounce    time.Duration
	now         func() time.Time
	newID       func() string
}

func NewRegistry(opts Options) *Registry {
	r := &Registry{
		sessions:    make(map[string]*Session),
		safe:        opts.SafeCookies,
		orphans:     newOrphanBuffer(opts.OrphanCapacity),
		lastNav:     make(map[string]navMark),
		settleDelay: opts.SettleDelay,
		debounce:    opts.NavigateDebounce,
		now:         opts.Now,
		newID:       opts.NewID,
	}
	if r.safe == nil {
		r.safe = emptySafeCookies{}
	}
	if r.settleDelay <= 0 {
		r.settleDelay = DefaultSettleDelay
	}
	if r.debounce <= 0 {
		r.debounce = DefaultNavigateDebounce
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.newID == nil {
		r.newID = uuid.NewString
	}
	return r
}

// Handle applies one event and returns the effects the caller must execute.
// It never panics on unknown tabs or stale continuations; those are logged
// and dropped.
func (r *Registry) Handle(ev Event) []Effect {
	switch e := ev.(type) {
	case RequestObserved:
		return r.onExchange(DirectionRequest, e.TabID, e.RequestID, e.URL, e.Headers, e.At)
	case ResponseObserved:
		return r.onExchange(DirectionResponse, e.TabID, e.RequestID, e.URL, e.Headers, e.At)
	case RedirectObserved:
		return r.onRedirect(e)
	case NavigationStarted:
		return r.onNavigation(e)
	case TabCreated:
		return r.onTabCreated(e)
	case TabClosed:
		return r.onTabClosed(e)
	case TabActivated:
		r.active = e.TabID
		return nil
	case ShadowReady:
		return r.onShadowReady(e)
	case ShadowFailed:
		return r.onShadowFailed(e)
	case ShadowLoaded:
		return r.onShadowLoaded(e)
	case CookieJarsResult:
		return r.onCookieJars(e)
	case EvaluationDue:
		return r.onEvaluationDue(e)
	default:
		slog.Warn("unhandled tracking event", "event", ev.eventName())
		return nil
	}
}

// Session returns the session registered for tabID.
func (r *Registry) Session(tabID string) (*Session, bool) {
	s, ok := r.sessions[tabID]
	return s, ok
}

// Summaries lists every registered session ordered by tab id.
func (r *Registry) Summaries() []SessionSummary {
	out := make([]SessionSummary, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TabID < out[j].TabID })
	return out
}

// Orphans returns exchanges dropped for lack of a session, oldest first.
func (r *Registry) Orphans() []Orphan {
	return r.orphans.all()
}

func (r *Registry) ActiveTab() string { return r.active }

func (r *Registry) generation() uint64 {
	r.nextGen++
	return r.nextGen
}

// origin returns the origin session for tabID if it still has generation gen.
func (r *Registry) origin(tabID string, gen uint64) (*Session, bool) {
	s, ok := r.sessions[tabID]
	if !ok || s.Kind != OriginSession || s.Generation != gen {
		return nil, false
	}
	return s, true
}

func (r *Registry) onExchange(dir Direction, tabID, requestID, rawURL string, headers []Header, at time.Time) []Effect {
	if at.IsZero() {
		at = r.now()
	}
	s, ok := r.sessions[tabID]
	if !ok {
		r.orphans.add(Orphan{TabID: tabID, RequestID: requestID, URL: rawURL, Direction: dir, At: at})
		slog.Debug("exchange dropped", "error", ErrUnknownTab, "tab_id", tabID, "request_id", requestID, "url", truncate(rawURL))
		return nil
	}

	ex, err := newExchange(dir, tabID, requestID, rawURL, headers, s.Domain, at)
	if err != nil {
		slog.Debug("exchange dropped", "tab_id", tabID, "request_id", requestID, "error", err)
		return nil
	}

	var effects []Effect
	d := s.archive(ex)
	if s.Kind == OriginSession {
		var shadow *Domain
		if s.Shadow != nil {
			shadow = s.Shadow.domains[d.Name]
		}
		safeKeys := r.safe.Lookup(d.Name)
		for _, c := range ex.Cookies {
			if classifyCookie(c, safeKeys, shadow) {
				effects = append(effects, RecordSafeCookie{Domain: d.Name, Key: c.Key(), Value: c.Value()})
			}
		}
		s.categorize(ex)
	}

	snap := ex.Snapshot()
	effects = append(effects, ExchangeArchived{SessionID: s.ID, SessionURL: s.URL, Kind: s.Kind, Exchange: snap})
	if s.Kind == OriginSession && s.TabID == r.active {
		effects = append(effects, NewExchange{TabID: tabID, Exchange: snap})
	}
	return effects
}

func (r *Registry) onRedirect(e RedirectObserved) []Effect {
	s, ok := r.sessions[e.TabID]
	if !ok {
		slog.Debug("redirect dropped", "error", ErrUnknownTab, "tab_id", e.TabID, "request_id", e.RequestID)
		return nil
	}
	origin, err := domainutil.FromURL(e.URL)
	if err != nil {
		slog.Debug("redirect dropped", "tab_id", e.TabID, "request_id", e.RequestID, "error", err)
		return nil
	}
	s.Redirects = append(s.Redirects, Redirect{
		RequestID:      e.RequestID,
		OriginDomain:   origin,
		OriginURL:      e.URL,
		DestinationURL: e.RedirectURL,
	})
	return nil
}

func (r *Registry) onNavigation(e NavigationStarted) []Effect {
	if e.FrameID != 0 {
		return nil
	}
	if existing, ok := r.sessions[e.TabID]; ok && existing.Kind == ShadowSession {
		return nil
	}
	if !isWebURL(e.URL) {
		slog.Debug("navigation ignored", "tab_id", e.TabID, "url", truncate(e.URL))
		return nil
	}
	at := e.Timestamp
	if at.IsZero() {
		at = r.now()
	}
	if last, ok := r.lastNav[e.TabID]; ok && last.url == e.URL && absDuration(at.Sub(last.at)) < r.debounce {
		return nil
	}
	r.lastNav[e.TabID] = navMark{url: e.URL, at: at}

	domain, err := domainutil.FromURL(e.URL)
	if err != nil {
		slog.Debug("navigation ignored", "tab_id", e.TabID, "error", err)
		return nil
	}

	var effects []Effect
	if old, ok := r.sessions[e.TabID]; ok {
		effects = append(effects, r.teardownShadow(old)...)
	}

	s := newSession(OriginSession, r.newID(), e.TabID, e.URL, domain, r.generation(), at)
	s.shadowPending = true
	r.sessions[e.TabID] = s
	r.active = e.TabID

	slog.Info("session created", "tab_id", e.TabID, "domain", domain, "generation", s.Generation, "url", truncate(e.URL))
	return append(effects,
		Reload{TabID: e.TabID, URL: e.URL, Generation: s.Generation},
		CreateShadow{OriginTabID: e.TabID, URL: e.URL, Generation: s.Generation},
	)
}

func (r *Registry) onTabCreated(e TabCreated) []Effect {
	if _, ok := r.sessions[e.TabID]; ok {
		return nil
	}
	r.sessions[e.TabID] = newSession(OriginSession, r.newID(), e.TabID, "", "", r.generation(), r.now())
	return nil
}

func (r *Registry) onTabClosed(e TabClosed) []Effect {
	s, ok := r.sessions[e.TabID]
	if !ok {
		return nil
	}
	delete(r.sessions, e.TabID)
	delete(r.lastNav, e.TabID)
	if r.active == e.TabID {
		r.active = ""
	}

	if s.Kind == OriginSession {
		return r.teardownShadow(s)
	}

	origin, ok := r.sessions[s.OriginTabID]
	if !ok || origin.Shadow != s {
		return nil
	}
	origin.diagnose("shadow tab %s closed before comparison finished", e.TabID)
	effect := DestroyShadow{OriginTabID: origin.TabID, ShadowTabID: e.TabID, Context: origin.Context}
	origin.Shadow = nil
	origin.Context = ""
	return []Effect{effect}
}

// teardownShadow detaches and destroys the shadow context of an origin
// session that is being discarded.
func (r *Registry) teardownShadow(s *Session) []Effect {
	if s.Kind != OriginSession || s.Shadow == nil {
		return nil
	}
	effect := DestroyShadow{OriginTabID: s.TabID, ShadowTabID: s.Shadow.TabID, Context: s.Context}
	if current, ok := r.sessions[s.Shadow.TabID]; ok && current == s.Shadow {
		delete(r.sessions, s.Shadow.TabID)
	}
	s.Shadow = nil
	s.Context = ""
	return []Effect{effect}
}

func (r *Registry) onShadowReady(e ShadowReady) []Effect {
	origin, ok := r.origin(e.OriginTabID, e.Generation)
	if !ok || !origin.shadowPending {
		slog.Debug("shadow context discarded", "error", ErrStaleGeneration, "origin_tab_id", e.OriginTabID, "generation", e.Generation)
		return []Effect{DestroyShadow{OriginTabID: e.OriginTabID, ShadowTabID: e.ShadowTabID, Context: e.Context}}
	}

	shadow := newSession(ShadowSession, r.newID(), e.ShadowTabID, origin.URL, origin.Domain, origin.Generation, r.now())
	shadow.OriginID = origin.ID
	shadow.OriginTabID = origin.TabID

	origin.shadowPending = false
	origin.Shadow = shadow
	origin.Context = e.Context
	r.sessions[e.ShadowTabID] = shadow

	slog.Info("shadow session attached", "origin_tab_id", origin.TabID, "shadow_tab_id", e.ShadowTabID, "generation", origin.Generation)
	return []Effect{LoadShadow{OriginTabID: origin.TabID, ShadowTabID: e.ShadowTabID, Context: e.Context, URL: origin.URL}}
}

func (r *Registry) onShadowFailed(e ShadowFailed) []Effect {
	var effects []Effect
	if e.Context != "" {
		effects = append(effects, DestroyShadow{OriginTabID: e.OriginTabID, Context: e.Context})
	}
	origin, ok := r.origin(e.OriginTabID, e.Generation)
	if !ok {
		return effects
	}
	origin.shadowPending = false
	origin.diagnose("isolated context creation failed: %v", e.Err)
	slog.Warn("shadow context creation failed", "origin_tab_id", e.OriginTabID, "error", e.Err)
	return effects
}

func (r *Registry) onShadowLoaded(e ShadowLoaded) []Effect {
	shadow, ok := r.sessions[e.ShadowTabID]
	if !ok || shadow.Kind != ShadowSession {
		return nil
	}
	origin, ok := r.sessions[shadow.OriginTabID]
	if !ok || origin.Shadow != shadow {
		return nil
	}
	if origin.loaded {
		return nil
	}
	origin.loaded = true
	return []Effect{r.jarQuery(origin)}
}

func (r *Registry) jarQuery(origin *Session) QueryCookieJars {
	q := QueryCookieJars{
		OriginTabID: origin.TabID,
		Generation:  origin.Generation,
		OriginURLs:  exchangeURLs(origin),
	}
	if origin.Shadow != nil {
		q.ShadowTabID = origin.Shadow.TabID
		q.ShadowURLs = exchangeURLs(origin.Shadow)
	}
	return q
}

func (r *Registry) onCookieJars(e CookieJarsResult) []Effect {
	origin, ok := r.origin(e.OriginTabID, e.Generation)
	if !ok {
		slog.Debug("cookie jar result dropped", "error", ErrStaleGeneration, "origin_tab_id", e.OriginTabID, "generation", e.Generation)
		return nil
	}
	if e.Err != nil {
		origin.diagnose("cookie jar query failed: %v", e.Err)
	}

	effects := origin.evaluate(e.Origin, e.Shadow, r.safe)
	summary := origin.Summary()
	slog.Info("analysis complete",
		"tab_id", origin.TabID,
		"pass", origin.Passes,
		"domains", summary.Domains,
		"trackers", len(summary.Trackers),
		"basic_tracking", summary.BasicTracking,
		"tracking_by_tracker", summary.TrackingByTracker,
	)

	effects = append(effects,
		AnalysisComplete{TabID: origin.TabID, Pass: origin.Passes, Summary: summary},
		PersistSnapshot{Key: origin.CreatedAt.UnixMilli(), Snapshot: origin.Snapshot()},
	)
	if origin.Passes == 1 {
		effects = append(effects, ScheduleEvaluation{OriginTabID: origin.TabID, Generation: origin.Generation, Delay: r.settleDelay})
	}
	return effects
}

func (r *Registry) onEvaluationDue(e EvaluationDue) []Effect {
	origin, ok := r.origin(e.OriginTabID, e.Generation)
	if !ok {
		return nil
	}
	return []Effect{r.jarQuery(origin)}
}

func exchangeURLs(s *Session) []string {
	seen := make(map[string]struct{})
	var urls []string
	add := func(u string) {
		if _, ok := seen[u]; ok || !isWebURL(u) {
			return
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}
	add(s.URL)
	for _, ex := range s.Requests {
		add(ex.URL)
	}
	return urls
}

func isWebURL(raw string) bool {
	return strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://")
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func truncate(url string) string {
	if len(url) > 120 {
		return url[:120] + "..."
	}
	return url
}
