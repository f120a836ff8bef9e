package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

func jsonMarshalCompact(v any) ([]byte, error) {
	return json.Marshal(v)
}

// writeSSEJSON writes v as one SSE "data:" frame.
func writeSSEJSON(w http.ResponseWriter, v any) error {
	raw, err := jsonMarshalCompact(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", raw)
	return err
}

// handleEvents streams the live EventBus as SSE, replaying recent history on
// connect.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.jsonError(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sub := h.cfg.Bus.Subscribe(true)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			return
		}
		if err := writeSSEJSON(w, ev); err != nil {
			return
		}
		flusher.Flush()
	}
}
