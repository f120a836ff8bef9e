package api

import (
	"net/http"

	"github.com/sapphire-ai/sapphire/internal/chatorchestrator"
)

type chatRequest struct {
	Text            string `json:"text"`
	Prefill         string `json:"prefill"`
	SkipUserMessage bool   `json:"skip_user_message"`
}

type chatResponse struct {
	Response string `json:"response"`
}

// handleChat runs one turn to completion and returns the full assistant
// reply in a single response.
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	if err := h.decodeJSON(r, &req); err != nil {
		h.jsonErrorFromErr(w, err)
		return
	}

	events, err := h.cfg.Orchestrator.StreamTurn(r.Context(), chatorchestrator.TurnInput{
		Text:            req.Text,
		Prefill:         req.Prefill,
		SkipUserMessage: req.SkipUserMessage,
	})
	if err != nil {
		h.jsonErrorFromErr(w, err)
		return
	}

	var reply string
	for ev := range events {
		switch ev.Kind {
		case chatorchestrator.EventChunk:
			reply += ev.Chunk
		case chatorchestrator.EventError:
			h.jsonErrorFromErr(w, ev.Err)
			return
		case chatorchestrator.EventCancelled:
			h.jsonError(w, "turn cancelled", http.StatusConflict)
			return
		}
	}
	h.jsonResponse(w, chatResponse{Response: reply})
}

// sseFrame is the shape written for each event line of the streaming chat
// endpoint: each frame carries one of chunk, done (with ephemeral), cancelled
// or error.
type sseFrame struct {
	Chunk     string `json:"chunk,omitempty"`
	Done      bool   `json:"done,omitempty"`
	Ephemeral bool   `json:"ephemeral,omitempty"`
	Cancelled bool   `json:"cancelled,omitempty"`
	Error     string `json:"error,omitempty"`
}

// handleChatStream runs one turn, forwarding each chunk as an SSE event line.
func (h *Handler) handleChatStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	if err := h.decodeJSON(r, &req); err != nil {
		h.jsonErrorFromErr(w, err)
		return
	}

	events, err := h.cfg.Orchestrator.StreamTurn(r.Context(), chatorchestrator.TurnInput{
		Text:            req.Text,
		Prefill:         req.Prefill,
		SkipUserMessage: req.SkipUserMessage,
	})
	if err != nil {
		h.jsonErrorFromErr(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.jsonError(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range events {
		var frame sseFrame
		switch ev.Kind {
		case chatorchestrator.EventChunk:
			frame = sseFrame{Chunk: ev.Chunk}
		case chatorchestrator.EventDone:
			frame = sseFrame{Done: true, Ephemeral: ev.Ephemeral}
		case chatorchestrator.EventCancelled:
			frame = sseFrame{Cancelled: true}
		case chatorchestrator.EventError:
			frame = sseFrame{Error: ev.Err.Error()}
		default:
			continue
		}
		if err := writeSSEJSON(w, frame); err != nil {
			return
		}
		flusher.Flush()
	}
}

// handleCancel sets the orchestrator's cancel flag for the in-flight stream.
func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.cfg.Orchestrator.Cancel()
	h.jsonResponse(w, map[string]string{"status": "cancelling"})
}

