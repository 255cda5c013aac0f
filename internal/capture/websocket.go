package capture

import (
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/dgnsrekt/shadowtrack/internal/tracking"
)

type wsHandshake struct {
	tabID   string
	url     string
	request []tracking.Header
	at      time.Time
}

// WebSocketCapture turns WebSocket opening handshakes into exchanges. The
// handshake is an ordinary HTTP request and carries the page's cookies.
// Frames are not inspected.
type WebSocketCapture struct {
	emit func(tracking.Event)
	now  func() time.Time

	connections   map[string]*wsHandshake
	connectionsMu sync.Mutex
}

func NewWebSocketCapture(emit func(tracking.Event)) *WebSocketCapture {
	return &WebSocketCapture{
		emit:        emit,
		now:         time.Now,
		connections: make(map[string]*wsHandshake),
	}
}

func (w *WebSocketCapture) OnWebSocketCreated(tabID string, ev *network.EventWebSocketCreated) {
	w.connectionsMu.Lock()
	w.connections[string(ev.RequestID)] = &wsHandshake{tabID: tabID, url: ev.URL, at: w.now()}
	w.connectionsMu.Unlock()
	slog.Debug("websocket created", "tab_id", tabID, "request_id", ev.RequestID, "url", ev.URL)
}

func (w *WebSocketCapture) OnWillSendHandshakeRequest(tabID string, ev *network.EventWebSocketWillSendHandshakeRequest) {
	if ev.Request == nil {
		return
	}
	w.connectionsMu.Lock()
	defer w.connectionsMu.Unlock()
	if hs, ok := w.connections[string(ev.RequestID)]; ok {
		hs.request = HeadersFromCDP(ev.Request.Headers)
	}
}

// OnHandshakeResponseReceived emits the handshake as a request and a
// response. The response echoes the headers actually sent, including
// Cookie, which the will-send event lacks.
func (w *WebSocketCapture) OnHandshakeResponseReceived(tabID string, ev *network.EventWebSocketHandshakeResponseReceived) {
	w.connectionsMu.Lock()
	hs, ok := w.connections[string(ev.RequestID)]
	w.connectionsMu.Unlock()
	if !ok || ev.Response == nil {
		return
	}

	id := string(ev.RequestID)
	w.emit(tracking.RequestObserved{
		TabID:     hs.tabID,
		RequestID: id,
		URL:       hs.url,
		Headers:   mergeHeaders(HeadersFromCDP(ev.Response.RequestHeaders), hs.request),
		At:        hs.at,
	})
	w.emit(tracking.ResponseObserved{
		TabID:     hs.tabID,
		RequestID: id,
		URL:       hs.url,
		Headers:   HeadersFromCDP(ev.Response.Headers),
		At:        w.now(),
	})
}

func (w *WebSocketCapture) OnWebSocketClosed(tabID string, ev *network.EventWebSocketClosed) {
	w.connectionsMu.Lock()
	delete(w.connections, string(ev.RequestID))
	w.connectionsMu.Unlock()
}

// DropTab forgets handshakes of a closed tab.
func (w *WebSocketCapture) DropTab(tabID string) {
	w.connectionsMu.Lock()
	defer w.connectionsMu.Unlock()
	for id, hs := range w.connections {
		if hs.tabID == tabID {
			delete(w.connections, id)
		}
	}
}
