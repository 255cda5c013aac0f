package tracking

import "time"

// Event is an input delivered by the host or by a completed continuation.
type Event interface {
	eventName() string
}

type RequestObserved struct {
	TabID     string
	RequestID string
	URL       string
	Headers   []Header
	At        time.Time
}

type ResponseObserved struct {
	TabID     string
	RequestID string
	URL       string
	Headers   []Header
	At        time.Time
}

type RedirectObserved struct {
	TabID       string
	RequestID   string
	URL         string
	RedirectURL string
}

// NavigationStarted creates a new session when FrameID is 0.
type NavigationStarted struct {
	TabID     string
	URL       string
	FrameID   int
	Timestamp time.Time
}

type TabCreated struct {
	TabID string
}

type TabClosed struct {
	TabID string
}

// TabActivated marks the tab whose exchanges are streamed to the UI.
type TabActivated struct {
	TabID string
}

// ShadowReady correlates a newly created isolated context with its origin.
type ShadowReady struct {
	OriginTabID string
	ShadowTabID string
	Generation  uint64
	Context     ContextHandle
}

type ShadowFailed struct {
	OriginTabID string
	Generation  uint64
	Context     ContextHandle
	Err         error
}

// ShadowLoaded fires when the shadow page finished loading.
type ShadowLoaded struct {
	ShadowTabID string
}

type CookieJarsResult struct {
	OriginTabID string
	Generation  uint64
	Origin      []JarCookie
	Shadow      []JarCookie
	Err         error
}

// EvaluationDue fires after the settle delay to run the second pass.
type EvaluationDue struct {
	OriginTabID string
	Generation  uint64
}

func (RequestObserved) eventName() string   { return "request_observed" }
func (ResponseObserved) eventName() string  { return "response_observed" }
func (RedirectObserved) eventName() string  { return "redirect_observed" }
func (NavigationStarted) eventName() string { return "navigation_started" }
func (TabCreated) eventName() string        { return "tab_created" }
func (TabClosed) eventName() string         { return "tab_closed" }
func (TabActivated) eventName() string      { return "tab_activated" }
func (ShadowReady) eventName() string       { return "shadow_ready" }
func (ShadowFailed) eventName() string      { return "shadow_failed" }
func (ShadowLoaded) eventName() string      { return "shadow_loaded" }
func (CookieJarsResult) eventName() string  { return "cookie_jars_result" }
func (EvaluationDue) eventName() string     { return "evaluation_due" }

// Effect is a side effect requested by the registry. The caller executes it.
type Effect interface {
	effectName() string
}

// NewExchange is streamed only for the active tab's origin session.
type NewExchange struct {
	TabID    string
	Exchange ExchangeSnapshot
}

// ExchangeArchived is emitted for every archived exchange, for logging.
type ExchangeArchived struct {
	SessionID  string
	SessionURL string
	Kind       SessionKind
	Exchange   ExchangeSnapshot
}

type Reload struct {
	TabID      string
	URL        string
	Generation uint64
}

type AnalysisComplete struct {
	TabID   string
	Pass    int
	Summary SessionSummary
}

// PersistSnapshot carries the origin session with its shadow nested, keyed
// by the origin's creation time in milliseconds.
type PersistSnapshot struct {
	Key      int64
	Snapshot SessionSnapshot
}

type RecordSafeCookie struct {
	Domain string
	Key    string
	Value  string
}

type CreateShadow struct {
	OriginTabID string
	URL         string
	Generation  uint64
}

type LoadShadow struct {
	OriginTabID string
	ShadowTabID string
	Context     ContextHandle
	URL         string
}

type DestroyShadow struct {
	OriginTabID string
	ShadowTabID string
	Context     ContextHandle
}

type QueryCookieJars struct {
	OriginTabID string
	ShadowTabID string
	Generation  uint64
	OriginURLs  []string
	ShadowURLs  []string
}

type ScheduleEvaluation struct {
	OriginTabID string
	Generation  uint64
	Delay       time.Duration
}

func (NewExchange) effectName() string        { return "new_exchange" }
func (ExchangeArchived) effectName() string   { return "exchange_archived" }
func (Reload) effectName() string             { return "reload" }
func (AnalysisComplete) effectName() string   { return "analysis_complete" }
func (PersistSnapshot) effectName() string    { return "persist_snapshot" }
func (RecordSafeCookie) effectName() string   { return "record_safe_cookie" }
func (CreateShadow) effectName() string       { return "create_shadow" }
func (LoadShadow) effectName() string         { return "load_shadow" }
func (DestroyShadow) effectName() string      { return "destroy_shadow" }
func (QueryCookieJars) effectName() string    { return "query_cookie_jars" }
func (ScheduleEvaluation) effectName() string { return "schedule_evaluation" }

// EventName returns a stable name for logging.
func EventName(ev Event) string { return ev.eventName() }

// EffectName returns a stable name for logging.
func EffectName(eff Effect) string { return eff.effectName() }
