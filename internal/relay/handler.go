package relay

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// parseFilter reads ?types=a,b. No parameter means every type.
func parseFilter(r *http.Request) Filter {
	q := r.URL.Query().Get("types")
	if q == "" {
		return nil
	}
	f := make(Filter)
	for _, t := range strings.Split(q, ",") {
		if t = strings.TrimSpace(t); t != "" {
			f[t] = true
		}
	}
	return f
}

// SSEHandler streams notifications as server-sent events.
func SSEHandler(broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}
		filter := parseFilter(r)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		flusher.Flush()

		id, ch := broker.Subscribe()
		defer broker.Unsubscribe(id)

		for {
			select {
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
				fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", n.ID, n.Type, payload)
				flusher.Flush()
			}
		}
	}
}
