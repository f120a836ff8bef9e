package api

import (
	"net/http"
	"strings"

	"github.com/sapphire-ai/sapphire/internal/eventbus"
	"github.com/sapphire-ai/sapphire/internal/sessions"
)

type createChatRequest struct {
	Name string `json:"name"`
}

// handleChats lists known chats (GET) or creates a new one (POST).
func (h *Handler) handleChats(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		names, err := h.cfg.Sessions.ListChatFiles()
		if err != nil {
			h.jsonErrorFromErr(w, err)
			return
		}
		h.jsonResponse(w, map[string]any{"chats": names, "active": h.cfg.Sessions.ActiveChatName()})
	case http.MethodPost:
		var req createChatRequest
		if err := h.decodeJSON(r, &req); err != nil {
			h.jsonErrorFromErr(w, err)
			return
		}
		name, err := h.cfg.Sessions.CreateChat(req.Name)
		if err != nil {
			h.jsonErrorFromErr(w, err)
			return
		}
		h.jsonResponse(w, map[string]string{"name": name})
	default:
		h.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// chatNameAndSuffix splits "/chats/<name>[/<suffix>]" into its two parts.
func chatNameAndSuffix(path string) (name, suffix string) {
	rest := strings.TrimPrefix(path, "/chats/")
	parts := strings.SplitN(rest, "/", 2)
	name = parts[0]
	if len(parts) == 2 {
		suffix = parts[1]
	}
	return name, suffix
}

// handleChatByName dispatches every /chats/{name}[/activate|/settings] route.
func (h *Handler) handleChatByName(w http.ResponseWriter, r *http.Request) {
	name, suffix := chatNameAndSuffix(r.URL.Path)
	if name == "" {
		h.jsonError(w, "chat name required", http.StatusBadRequest)
		return
	}

	switch suffix {
	case "":
		h.handleChatDelete(w, r, name)
	case "activate":
		h.handleChatActivate(w, r, name)
	case "settings":
		h.handleChatSettings(w, r, name)
	default:
		h.jsonError(w, "not found", http.StatusNotFound)
	}
}

func (h *Handler) handleChatDelete(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodDelete {
		h.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.cfg.Sessions.DeleteChat(name); err != nil {
		h.jsonErrorFromErr(w, err)
		return
	}
	h.jsonResponse(w, map[string]string{"status": "ok"})
}

func (h *Handler) handleChatActivate(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodPost {
		h.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.cfg.Sessions.SetActiveChat(name); err != nil {
		h.jsonErrorFromErr(w, err)
		return
	}
	if err := h.activateStateEngine(r, name); err != nil {
		h.jsonErrorFromErr(w, err)
		return
	}
	h.cfg.Bus.Publish(eventbus.ChatSwitched, map[string]any{"chat": name})
	h.jsonResponse(w, map[string]string{"status": "ok"})
}

// activateStateEngine bridges the now-active chat's settings to the state
// engine, so its active-chat pointer and loaded preset never drift from the
// session manager's. A no-op when no engine is wired or the chat leaves the
// state engine disabled.
func (h *Handler) activateStateEngine(r *http.Request, name string) error {
	if h.cfg.StateEngine == nil {
		return nil
	}
	settings := h.cfg.Sessions.GetChatSettings()
	if !settings.StateEngineEnabled {
		return nil
	}
	return h.cfg.StateEngine.SetActiveChat(r.Context(), sessions.SanitizeName(name), settings.StatePreset)
}

// handleChatSettings reads (GET) or merges (PUT) the named chat's settings.
// Both routes only operate meaningfully when name is the active chat, since
// SessionManager exposes settings through the active-chat pointer; a caller
// wanting another chat's settings must activate it first.
func (h *Handler) handleChatSettings(w http.ResponseWriter, r *http.Request, name string) {
	if h.cfg.Sessions.ActiveChatName() != sessions.SanitizeName(name) {
		h.jsonError(w, "chat must be active to read or update its settings", http.StatusConflict)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.jsonResponse(w, h.cfg.Sessions.GetChatSettings())
	case http.MethodPut:
		// Decoding over the current settings leaves fields absent from the
		// body unchanged, so the PUT is a shallow merge.
		delta := h.cfg.Sessions.GetChatSettings()
		if err := h.decodeJSON(r, &delta); err != nil {
			h.jsonErrorFromErr(w, err)
			return
		}
		if err := h.cfg.Sessions.UpdateChatSettings(func(s *sessions.Settings) { *s = delta }); err != nil {
			h.jsonErrorFromErr(w, err)
			return
		}
		if err := h.activateStateEngine(r, name); err != nil {
			h.jsonErrorFromErr(w, err)
			return
		}
		h.jsonResponse(w, delta)
	default:
		h.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
