// Package sse turns a bus subscription into a long-lived
// text/event-stream response: replay first, then live tail, with
// keepalives, until the client disconnects.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fleethub/fleethub/internal/bus"
)

// keepaliveInterval is how often a comment line is written to hold idle
// connections open through proxies.
const keepaliveInterval = 20 * time.Second

// Stream writes replay then live events from sub until the request context
// is done. idFn supplies the "id:" line enabling EventSource resumption.
// The subscription is cancelled before Stream returns.
func Stream[T any](w http.ResponseWriter, r *http.Request, replay []T, sub *bus.Subscriber[T], idFn func(T) string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		sub.Cancel()
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	defer func() {
		sub.Cancel()
		if n := sub.Dropped(); n > 0 {
			log.Warn().Int64("dropped", n).Str("path", r.URL.Path).Msg("slow SSE consumer dropped events")
		}
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for _, ev := range replay {
		if !writeEvent(w, ev, idFn) {
			return
		}
	}
	flusher.Flush()

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ":keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev := <-sub.C():
			if !writeEvent(w, ev, idFn) {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent[T any](w http.ResponseWriter, ev T, idFn func(T) string) bool {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Debug().Err(err).Msg("SSE event marshal failed")
		return true
	}
	if id := idFn(ev); id != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", id); err != nil {
			return false
		}
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err == nil
}
