package api

import (
	"net/http"
	"strings"

	"github.com/sapphire-ai/sapphire/internal/eventbus"
	"github.com/sapphire-ai/sapphire/internal/sessions"
)

// handleAbilities lists every known toolset name.
func (h *Handler) handleAbilities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.jsonResponse(w, map[string]any{"abilities": h.cfg.Tools.GetAvailableAbilities()})
}

type customToolsetRequest struct {
	Name      string   `json:"name"`
	Functions []string `json:"functions"`
}

// handleAbilitiesCustom saves a user-defined toolset.
func (h *Handler) handleAbilitiesCustom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req customToolsetRequest
	if err := h.decodeJSON(r, &req); err != nil {
		h.jsonErrorFromErr(w, err)
		return
	}
	if err := h.cfg.Tools.SaveToolset(req.Name, req.Functions); err != nil {
		h.jsonErrorFromErr(w, err)
		return
	}
	h.jsonResponse(w, map[string]string{"status": "ok"})
}

// handleAbilityByName dispatches /abilities/{name}/activate and
// DELETE /abilities/{name}.
func (h *Handler) handleAbilityByName(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/abilities/")
	name, suffix, _ := strings.Cut(rest, "/")
	if name == "" {
		h.jsonError(w, "ability name required", http.StatusBadRequest)
		return
	}

	switch {
	case suffix == "" && r.Method == http.MethodDelete:
		if err := h.cfg.Tools.DeleteToolset(name); err != nil {
			h.jsonErrorFromErr(w, err)
			return
		}
		h.jsonResponse(w, map[string]string{"status": "ok"})
	case suffix == "activate" && r.Method == http.MethodPost:
		if !h.cfg.Tools.ToolsetExists(name) {
			h.jsonError(w, "unknown toolset", http.StatusNotFound)
			return
		}
		if err := h.cfg.Sessions.UpdateChatSettings(func(s *sessions.Settings) { s.Toolset = name }); err != nil {
			h.jsonErrorFromErr(w, err)
			return
		}
		h.cfg.Bus.Publish(eventbus.AbilityChanged, map[string]any{"toolset": name})
		h.jsonResponse(w, map[string]string{"status": "ok"})
	default:
		h.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleFunctions enumerates every registered tool with its network
// classification.
func (h *Handler) handleFunctions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	descs := h.cfg.Tools.AsLLMTools()
	out := make([]map[string]any, 0, len(descs))
	for _, d := range descs {
		out = append(out, map[string]any{"name": d.Name, "description": d.Description, "network": d.Network})
	}
	h.jsonResponse(w, map[string]any{"functions": out})
}

// pinnedFunctionsToolset is the reserved custom-toolset name used to pin an
// explicit function list via /functions/enable.
const pinnedFunctionsToolset = "_pinned"

type enableFunctionsRequest struct {
	Functions []string `json:"functions"`
}

// handleFunctionsEnable pins an explicit list of function names as the
// active chat's enabled toolset.
func (h *Handler) handleFunctionsEnable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req enableFunctionsRequest
	if err := h.decodeJSON(r, &req); err != nil {
		h.jsonErrorFromErr(w, err)
		return
	}
	_ = h.cfg.Tools.DeleteToolset(pinnedFunctionsToolset)
	if err := h.cfg.Tools.SaveToolset(pinnedFunctionsToolset, req.Functions); err != nil {
		h.jsonErrorFromErr(w, err)
		return
	}
	if err := h.cfg.Sessions.UpdateChatSettings(func(s *sessions.Settings) { s.Toolset = pinnedFunctionsToolset }); err != nil {
		h.jsonErrorFromErr(w, err)
		return
	}
	h.jsonResponse(w, map[string]string{"status": "ok"})
}
