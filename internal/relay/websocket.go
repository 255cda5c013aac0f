package relay

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// WebSocketHandler streams notifications as JSON text frames. Client frames
// are read only to notice disconnects.
func WebSocketHandler(broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := parseFilter(r)
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			slog.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}
		defer conn.Close()

		id, ch := broker.Subscribe()
		defer broker.Unsubscribe(id)

		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := wsutil.ReadClientData(conn); err != nil {
					return
				}
			}
		}()

		slog.Debug("websocket client connected", "remote", r.RemoteAddr, "subscriber", id)
		for {
			select {
			case <-gone:
				return
			case <-r.Context().Done():
				return
			case n, ok := <-ch:
				if !ok {
					return
				}
				if !filter.accepts(n) {
					continue
				}
				payload, err := json.Marshal(n)
				if err != nil {
					continue
				}
				if err := wsutil.WriteServerText(conn, payload); err != nil {
					slog.Debug("websocket write failed", "subscriber", id, "error", err)
					return
				}
			}
		}
	}
}
