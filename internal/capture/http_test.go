package capture

import (
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/dgnsrekt/shadowtrack/internal/tracking"
)

type recorder struct {
	mu     sync.Mutex
	events []tracking.Event
}

func (r *recorder) emit(ev tracking.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) all() []tracking.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]tracking.Event(nil), r.events...)
}

func newTestCapture(t *testing.T) (*HTTPCapture, *recorder) {
	t.Helper()
	rec := &recorder{}
	h := NewHTTPCapture(rec.emit, time.Hour)
	t.Cleanup(h.Close)
	return h, rec
}

func headerValue(headers []tracking.Header, name string) string {
	for _, h := range headers {
		if h.Name == name {
			return h.Value
		}
	}
	return ""
}

func requestEvent(id, url string, headers network.Headers) *network.EventRequestWillBeSent {
	return &network.EventRequestWillBeSent{
		RequestID: network.RequestID(id),
		Request:   &network.Request{URL: url, Headers: headers},
	}
}

func TestRequestPairsWithExtraInfo(t *testing.T) {
	tests := []struct {
		name       string
		extraFirst bool
	}{
		{name: "base_then_extra"},
		{name: "extra_then_base", extraFirst: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h, rec := newTestCapture(t)
			base := requestEvent("r1", "https://shop.example/p", network.Headers{"Accept": "*/*"})
			extra := &network.EventRequestWillBeSentExtraInfo{
				RequestID: "r1",
				Headers:   network.Headers{"Cookie": "sid=abc123", "Accept": "image/*"},
			}

			if tc.extraFirst {
				h.OnRequestWillBeSentExtraInfo("tab", extra)
				h.OnRequestWillBeSent("tab", base)
			} else {
				h.OnRequestWillBeSent("tab", base)
				if n := len(rec.all()); n != 0 {
					t.Fatalf("emitted %d events before ExtraInfo; want 0", n)
				}
				h.OnRequestWillBeSentExtraInfo("tab", extra)
			}

			events := rec.all()
			if len(events) != 1 {
				t.Fatalf("emitted %d events; want 1", len(events))
			}
			req, ok := events[0].(tracking.RequestObserved)
			if !ok {
				t.Fatalf("event = %T; want RequestObserved", events[0])
			}
			if req.URL != "https://shop.example/p" || req.TabID != "tab" || req.RequestID != "r1" {
				t.Fatalf("request = %+v; want tab/r1 for shop.example", req)
			}
			if got := headerValue(req.Headers, "Cookie"); got != "sid=abc123" {
				t.Fatalf("Cookie = %q; want sid=abc123", got)
			}
			if got := headerValue(req.Headers, "Accept"); got != "image/*" {
				t.Fatalf("Accept = %q; want the ExtraInfo value", got)
			}
		})
	}
}

func TestResponseWithoutExtraInfoIsFlushed(t *testing.T) {
	h, rec := newTestCapture(t)
	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return start }

	h.OnResponseReceived("tab", &network.EventResponseReceived{
		RequestID: "r1",
		Response:  &network.Response{URL: "https://cdn.example/a.js", Headers: network.Headers{"Content-Type": "text/javascript"}},
	})
	h.dispatch(h.cleanupStale())
	if n := len(rec.all()); n != 0 {
		t.Fatalf("flushed %d events inside the window; want 0", n)
	}

	h.now = func() time.Time { return start.Add(2 * time.Hour) }
	h.dispatch(h.cleanupStale())
	events := rec.all()
	if len(events) != 1 {
		t.Fatalf("emitted %d events; want 1", len(events))
	}
	resp, ok := events[0].(tracking.ResponseObserved)
	if !ok || headerValue(resp.Headers, "Content-Type") != "text/javascript" {
		t.Fatalf("event = %+v; want ResponseObserved with base headers", events[0])
	}
}

func TestRedirectEmitsHopAndRedirect(t *testing.T) {
	h, rec := newTestCapture(t)

	h.OnRequestWillBeSent("tab", requestEvent("r9", "https://tracker.example/r", nil))
	h.OnRequestWillBeSentExtraInfo("tab", &network.EventRequestWillBeSentExtraInfo{RequestID: "r9", Headers: network.Headers{"Cookie": "tid=1"}})
	h.OnResponseReceivedExtraInfo("tab", &network.EventResponseReceivedExtraInfo{RequestID: "r9", Headers: network.Headers{"Set-Cookie": "tid=1; Path=/\nx=2"}})

	next := requestEvent("r9", "https://b.example/collect", nil)
	next.RedirectResponse = &network.Response{URL: "https://tracker.example/r", Headers: network.Headers{"Location": "https://b.example/collect"}}
	h.OnRequestWillBeSent("tab", next)

	events := rec.all()
	if len(events) != 3 {
		t.Fatalf("emitted %d events; want 3 (request, redirect, redirect response)", len(events))
	}
	if _, ok := events[0].(tracking.RequestObserved); !ok {
		t.Fatalf("events[0] = %T; want RequestObserved", events[0])
	}
	redirect, ok := events[1].(tracking.RedirectObserved)
	if !ok || redirect.URL != "https://tracker.example/r" || redirect.RedirectURL != "https://b.example/collect" {
		t.Fatalf("events[1] = %+v; want redirect tracker.example -> b.example", events[1])
	}
	resp, ok := events[2].(tracking.ResponseObserved)
	if !ok || headerValue(resp.Headers, "Set-Cookie") == "" {
		t.Fatalf("events[2] = %+v; want redirect response with Set-Cookie", events[2])
	}

	h.OnLoadingFinished("tab", &network.EventLoadingFinished{RequestID: "r9"})
	events = rec.all()
	last, ok := events[len(events)-1].(tracking.RequestObserved)
	if !ok || last.URL != "https://b.example/collect" {
		t.Fatalf("last event = %+v; want the redirected request flushed", events[len(events)-1])
	}
}

func TestLoadingFailedFlushesRequest(t *testing.T) {
	h, rec := newTestCapture(t)
	h.OnRequestWillBeSent("tab", requestEvent("r1", "https://ads.example/x", nil))
	h.OnLoadingFailed("tab", &network.EventLoadingFailed{RequestID: "r1", ErrorText: "net::ERR_FAILED"})

	if n := len(rec.all()); n != 1 {
		t.Fatalf("emitted %d events; want 1", n)
	}
	h.OnRequestWillBeSentExtraInfo("tab", &network.EventRequestWillBeSentExtraInfo{RequestID: "r1"})
	if n := len(rec.all()); n != 1 {
		t.Fatalf("late ExtraInfo emitted again: %d events", n)
	}
}

func TestDropTab(t *testing.T) {
	h, rec := newTestCapture(t)
	h.OnRequestWillBeSent("gone", requestEvent("r1", "https://a.example/", nil))
	h.DropTab("gone")
	h.OnLoadingFinished("gone", &network.EventLoadingFinished{RequestID: "r1"})
	if n := len(rec.all()); n != 0 {
		t.Fatalf("emitted %d events for a dropped tab; want 0", n)
	}
}

func TestHeadersFromCDP(t *testing.T) {
	got := HeadersFromCDP(network.Headers{"b": "2", "a": "1", "n": 3})
	if len(got) != 2 || got[0].Name != "a" || got[1].Name != "b" {
		t.Fatalf("HeadersFromCDP() = %+v; want a, b sorted without non-strings", got)
	}
}

func TestWebSocketHandshake(t *testing.T) {
	rec := &recorder{}
	w := NewWebSocketCapture(rec.emit)

	w.OnWebSocketCreated("tab", &network.EventWebSocketCreated{RequestID: "w1", URL: "wss://live.tracker.example/socket"})
	w.OnWillSendHandshakeRequest("tab", &network.EventWebSocketWillSendHandshakeRequest{
		RequestID: "w1",
		Request:   &network.WebSocketRequest{Headers: network.Headers{"Origin": "https://news.example"}},
	})
	w.OnHandshakeResponseReceived("tab", &network.EventWebSocketHandshakeResponseReceived{
		RequestID: "w1",
		Response: &network.WebSocketResponse{
			Headers:        network.Headers{"Set-Cookie": "ws=abc"},
			RequestHeaders: network.Headers{"Cookie": "uid=12345678"},
		},
	})

	events := rec.all()
	if len(events) != 2 {
		t.Fatalf("emitted %d events; want 2", len(events))
	}
	req := events[0].(tracking.RequestObserved)
	if headerValue(req.Headers, "Cookie") != "uid=12345678" || headerValue(req.Headers, "Origin") == "" {
		t.Fatalf("handshake request headers = %+v; want Cookie and Origin", req.Headers)
	}
	resp := events[1].(tracking.ResponseObserved)
	if resp.URL != "wss://live.tracker.example/socket" || headerValue(resp.Headers, "Set-Cookie") != "ws=abc" {
		t.Fatalf("handshake response = %+v", resp)
	}

	w.OnWebSocketClosed("tab", &network.EventWebSocketClosed{RequestID: "w1"})
	w.OnHandshakeResponseReceived("tab", &network.EventWebSocketHandshakeResponseReceived{RequestID: "w1", Response: &network.WebSocketResponse{}})
	if n := len(rec.all()); n != 2 {
		t.Fatalf("closed socket emitted again: %d events", n)
	}
}
