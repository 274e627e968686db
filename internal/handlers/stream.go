package handlers

import (
	"fmt"
	"net/http"
)

// streamEvents serves the live job event stream as server-sent events. Each
// SSE message carries the event kind as the event name and the cloudevent
// data as payload.
func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	eventsCh, cancel := h.stream.Subscribe()
	defer cancel()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-eventsCh:
			if !open {
				return
			}
			fmt.Fprintf(w, "event: %s\n", event.Type())
			fmt.Fprintf(w, "data: %s\n\n", event.Data())
			flusher.Flush()
		}
	}
}
