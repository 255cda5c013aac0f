package capture

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/dgnsrekt/shadowtrack/internal/tracking"
)

// DefaultPairWindow is how long a base event waits for its ExtraInfo
// counterpart before it is emitted with the headers it already has.
const DefaultPairWindow = 2 * time.Second

const staleExtraAfter = time.Minute

type pendingKey struct {
	tabID     string
	requestID string
	dir       tracking.Direction
}

type pendingExchange struct {
	url       string
	base      []tracking.Header
	extra     []tracking.Header
	haveBase  bool
	haveExtra bool
	at        time.Time
}

// HTTPCapture pairs CDP network events with their ExtraInfo counterparts.
// Base events carry the URL but usually not the Cookie or Set-Cookie
// headers; ExtraInfo events carry the raw headers but no URL. Either may
// arrive first.
type HTTPCapture struct {
	emit   func(tracking.Event)
	window time.Duration
	now    func() time.Time

	pending   map[pendingKey]*pendingExchange
	pendingMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
}

// NewHTTPCapture starts a capture that hands completed exchanges to emit.
// emit is called without internal locks held.
func NewHTTPCapture(emit func(tracking.Event), window time.Duration) *HTTPCapture {
	if window <= 0 {
		window = DefaultPairWindow
	}
	h := &HTTPCapture{
		emit:    emit,
		window:  window,
		now:     time.Now,
		pending: make(map[pendingKey]*pendingExchange),
		done:    make(chan struct{}),
	}
	go h.cleanupLoop()
	return h
}

func (h *HTTPCapture) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *HTTPCapture) OnRequestWillBeSent(tabID string, ev *network.EventRequestWillBeSent) {
	var events []tracking.Event
	key := pendingKey{tabID: tabID, requestID: string(ev.RequestID), dir: tracking.DirectionRequest}

	if ev.RedirectResponse != nil {
		events = append(events, tracking.RedirectObserved{
			TabID:       tabID,
			RequestID:   string(ev.RequestID),
			URL:         ev.RedirectResponse.URL,
			RedirectURL: ev.Request.URL,
		})
		respKey := key
		respKey.dir = tracking.DirectionResponse
		events = append(events, h.offerBase(respKey, ev.RedirectResponse.URL, HeadersFromCDP(ev.RedirectResponse.Headers))...)
	}
	events = append(events, h.offerBase(key, ev.Request.URL, HeadersFromCDP(ev.Request.Headers))...)
	h.dispatch(events)
}

func (h *HTTPCapture) OnRequestWillBeSentExtraInfo(tabID string, ev *network.EventRequestWillBeSentExtraInfo) {
	key := pendingKey{tabID: tabID, requestID: string(ev.RequestID), dir: tracking.DirectionRequest}
	h.dispatch(h.offerExtra(key, HeadersFromCDP(ev.Headers)))
}

func (h *HTTPCapture) OnResponseReceived(tabID string, ev *network.EventResponseReceived) {
	if ev.Response == nil {
		return
	}
	key := pendingKey{tabID: tabID, requestID: string(ev.RequestID), dir: tracking.DirectionResponse}
	h.dispatch(h.offerBase(key, ev.Response.URL, HeadersFromCDP(ev.Response.Headers)))
}

func (h *HTTPCapture) OnResponseReceivedExtraInfo(tabID string, ev *network.EventResponseReceivedExtraInfo) {
	key := pendingKey{tabID: tabID, requestID: string(ev.RequestID), dir: tracking.DirectionResponse}
	h.dispatch(h.offerExtra(key, HeadersFromCDP(ev.Headers)))
}

// OnLoadingFinished flushes anything still waiting for the request.
func (h *HTTPCapture) OnLoadingFinished(tabID string, ev *network.EventLoadingFinished) {
	h.dispatch(h.flushRequest(tabID, string(ev.RequestID)))
}

func (h *HTTPCapture) OnLoadingFailed(tabID string, ev *network.EventLoadingFailed) {
	slog.Debug("request failed", "tab_id", tabID, "request_id", ev.RequestID, "error_text", ev.ErrorText, "blocked", ev.BlockedReason)
	h.dispatch(h.flushRequest(tabID, string(ev.RequestID)))
}

// DropTab forgets pending entries for a closed tab.
func (h *HTTPCapture) DropTab(tabID string) {
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()
	for key := range h.pending {
		if key.tabID == tabID {
			delete(h.pending, key)
		}
	}
}

func (h *HTTPCapture) offerBase(key pendingKey, url string, headers []tracking.Header) []tracking.Event {
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()

	var out []tracking.Event
	p, ok := h.pending[key]
	if ok && p.haveBase {
		// A redirect hop reuses the request id; the previous hop is done.
		out = append(out, p.event(key))
		delete(h.pending, key)
		ok = false
	}
	if !ok {
		p = &pendingExchange{at: h.now()}
		h.pending[key] = p
	}
	p.url = url
	p.base = headers
	p.haveBase = true
	if p.haveExtra {
		out = append(out, p.event(key))
		delete(h.pending, key)
	}
	return out
}

func (h *HTTPCapture) offerExtra(key pendingKey, headers []tracking.Header) []tracking.Event {
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()

	p, ok := h.pending[key]
	if !ok {
		h.pending[key] = &pendingExchange{extra: headers, haveExtra: true, at: h.now()}
		return nil
	}
	p.extra = headers
	p.haveExtra = true
	if !p.haveBase {
		return nil
	}
	delete(h.pending, key)
	return []tracking.Event{p.event(key)}
}

func (h *HTTPCapture) flushRequest(tabID, requestID string) []tracking.Event {
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()

	var out []tracking.Event
	for _, dir := range []tracking.Direction{tracking.DirectionRequest, tracking.DirectionResponse} {
		key := pendingKey{tabID: tabID, requestID: requestID, dir: dir}
		if p, ok := h.pending[key]; ok {
			if p.haveBase {
				out = append(out, p.event(key))
			}
			delete(h.pending, key)
		}
	}
	return out
}

func (h *HTTPCapture) dispatch(events []tracking.Event) {
	for _, ev := range events {
		h.emit(ev)
	}
}

func (h *HTTPCapture) cleanupLoop() {
	ticker := time.NewTicker(h.window / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.dispatch(h.cleanupStale())
		case <-h.done:
			return
		}
	}
}

// cleanupStale emits base events whose ExtraInfo never came and drops
// orphaned ExtraInfo entries.
func (h *HTTPCapture) cleanupStale() []tracking.Event {
	now := h.now()
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()

	var out []tracking.Event
	for key, p := range h.pending {
		age := now.Sub(p.at)
		switch {
		case p.haveBase && age >= h.window:
			out = append(out, p.event(key))
			delete(h.pending, key)
		case !p.haveBase && age >= staleExtraAfter:
			delete(h.pending, key)
		}
	}
	return out
}

func (p *pendingExchange) event(key pendingKey) tracking.Event {
	headers := mergeHeaders(p.extra, p.base)
	if key.dir == tracking.DirectionResponse {
		return tracking.ResponseObserved{TabID: key.tabID, RequestID: key.requestID, URL: p.url, Headers: headers, At: p.at}
	}
	return tracking.RequestObserved{TabID: key.tabID, RequestID: key.requestID, URL: p.url, Headers: headers, At: p.at}
}

// mergeHeaders keeps every primary header and adds secondary headers whose
// names are not already present.
func mergeHeaders(primary, secondary []tracking.Header) []tracking.Header {
	if len(primary) == 0 {
		return secondary
	}
	seen := make(map[string]struct{}, len(primary))
	out := make([]tracking.Header, 0, len(primary)+len(secondary))
	for _, hdr := range primary {
		seen[strings.ToLower(hdr.Name)] = struct{}{}
		out = append(out, hdr)
	}
	for _, hdr := range secondary {
		if _, ok := seen[strings.ToLower(hdr.Name)]; !ok {
			out = append(out, hdr)
		}
	}
	return out
}

// HeadersFromCDP flattens a CDP header map, sorted by name. Non-string
// values are skipped.
func HeadersFromCDP(headers network.Headers) []tracking.Header {
	out := make([]tracking.Header, 0, len(headers))
	for k, v := range headers {
		if s, ok := v.(string); ok {
			out = append(out, tracking.Header{Name: k, Value: s})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
