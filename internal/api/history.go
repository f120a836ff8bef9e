package api

import (
	"net/http"
	"strconv"

	"github.com/sapphire-ai/sapphire/internal/sessions"
)

// handleHistory returns the display-view transform of the active chat.
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	blocks := sessions.DisplayView(h.cfg.Sessions.GetMessages())
	h.jsonResponse(w, map[string]any{"blocks": blocks})
}

// handleHistoryRaw returns the active chat's raw message list.
func (h *Handler) handleHistoryRaw(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.jsonResponse(w, map[string]any{"messages": h.cfg.Sessions.GetMessages()})
}

// handleHistoryMessages removes the last N messages (count=-1 clears the
// whole history), or every message from the most recent matching user
// message onward (from_user_message=<text>).
func (h *Handler) handleHistoryMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		h.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if text := r.URL.Query().Get("from_user_message"); text != "" {
		if err := h.cfg.Sessions.RemoveFromUserMessage(text); err != nil {
			h.jsonErrorFromErr(w, err)
			return
		}
		h.jsonResponse(w, map[string]string{"status": "ok"})
		return
	}

	countParam := r.URL.Query().Get("count")
	count := 1
	if countParam != "" {
		parsed, err := strconv.Atoi(countParam)
		if err != nil {
			h.jsonError(w, "invalid count", http.StatusBadRequest)
			return
		}
		count = parsed
	}
	if err := h.cfg.Sessions.RemoveLastMessages(count); err != nil {
		h.jsonErrorFromErr(w, err)
		return
	}
	h.jsonResponse(w, map[string]string{"status": "ok"})
}

type removeFromAssistantRequest struct {
	Timestamp string `json:"timestamp"`
}

// handleRemoveFromAssistant deletes the matched assistant message and
// everything after it.
func (h *Handler) handleRemoveFromAssistant(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req removeFromAssistantRequest
	if err := h.decodeJSON(r, &req); err != nil {
		h.jsonErrorFromErr(w, err)
		return
	}
	if err := h.cfg.Sessions.RemoveFromAssistantTimestamp(req.Timestamp); err != nil {
		h.jsonErrorFromErr(w, err)
		return
	}
	h.jsonResponse(w, map[string]string{"status": "ok"})
}

type editMessageRequest struct {
	Role       string `json:"role"`
	Timestamp  string `json:"timestamp"`
	NewContent string `json:"new_content"`
}

// handleEditMessage replaces the content of the message at (role, timestamp).
func (h *Handler) handleEditMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req editMessageRequest
	if err := h.decodeJSON(r, &req); err != nil {
		h.jsonErrorFromErr(w, err)
		return
	}
	if err := h.cfg.Sessions.EditMessageByTimestamp(sessions.Role(req.Role), req.Timestamp, req.NewContent); err != nil {
		h.jsonErrorFromErr(w, err)
		return
	}
	h.jsonResponse(w, map[string]string{"status": "ok"})
}
