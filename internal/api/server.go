// Package api implements the APIFacade: the HTTP surface exposing
// SessionManager, ToolRegistry, ChatOrchestrator, ContinuityScheduler, and
// PrivacyGate to a frontend or automation client over a shared-API-key-
// protected JSON interface, plus two SSE endpoints.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/sapphire-ai/sapphire/internal/chatorchestrator"
	"github.com/sapphire-ai/sapphire/internal/continuity"
	"github.com/sapphire-ai/sapphire/internal/eventbus"
	"github.com/sapphire-ai/sapphire/internal/privacy"
	"github.com/sapphire-ai/sapphire/internal/sapphireerr"
	"github.com/sapphire-ai/sapphire/internal/sessions"
	"github.com/sapphire-ai/sapphire/internal/stateengine"
	"github.com/sapphire-ai/sapphire/internal/tools"
)

// Config bundles every collaborator the facade's handlers dispatch to.
type Config struct {
	Sessions     *sessions.Manager
	Tools        *tools.Registry
	Orchestrator *chatorchestrator.Orchestrator
	Scheduler    *continuity.Scheduler
	Privacy      *privacy.Gate
	Bus          *eventbus.Bus
	// StateEngine is nil when the build has no state engine wired at all; a
	// given chat may still leave StateEngineEnabled off in its settings.
	StateEngine *stateengine.Engine

	// APIKey is the shared secret every route but the keep-alive/setup
	// probes must present via the X-API-Key header.
	APIKey string
	Logger *slog.Logger
	Now    func() time.Time
}

// Handler is the APIFacade HTTP handler.
type Handler struct {
	cfg *Config
	mux *http.ServeMux
}

// NewHandler builds a Handler with all routes registered.
func NewHandler(cfg *Config) (*Handler, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	h := &Handler{cfg: cfg, mux: http.NewServeMux()}
	h.setupRoutes()
	return h, nil
}

func (h *Handler) setupRoutes() {
	h.mux.HandleFunc("/healthz", h.handleHealthz)

	h.mux.HandleFunc("/chat", h.handleChat)
	h.mux.HandleFunc("/chat/stream", h.handleChatStream)
	h.mux.HandleFunc("/cancel", h.handleCancel)

	h.mux.HandleFunc("/history", h.handleHistory)
	h.mux.HandleFunc("/history/raw", h.handleHistoryRaw)
	h.mux.HandleFunc("/history/messages", h.handleHistoryMessages)
	h.mux.HandleFunc("/history/messages/remove-from-assistant", h.handleRemoveFromAssistant)
	h.mux.HandleFunc("/history/messages/edit", h.handleEditMessage)

	h.mux.HandleFunc("/chats", h.handleChats)
	h.mux.HandleFunc("/chats/", h.handleChatByName)

	h.mux.HandleFunc("/abilities", h.handleAbilities)
	h.mux.HandleFunc("/abilities/custom", h.handleAbilitiesCustom)
	h.mux.HandleFunc("/abilities/", h.handleAbilityByName)
	h.mux.HandleFunc("/functions", h.handleFunctions)
	h.mux.HandleFunc("/functions/enable", h.handleFunctionsEnable)

	h.mux.HandleFunc("/tasks", h.handleTasks)
	h.mux.HandleFunc("/tasks/", h.handleTaskByID)
	h.mux.HandleFunc("/status", h.handleStatus)
	h.mux.HandleFunc("/activity", h.handleActivity)
	h.mux.HandleFunc("/timeline", h.handleTimeline)

	h.mux.HandleFunc("/events", h.handleEvents)
}

// ServeHTTP implements http.Handler directly (no middleware applied). Tests
// exercise this to reach handlers without needing a valid API key.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Mount wraps the handler with logging and the shared API-key check, the
// form production callers should serve.
func (h *Handler) Mount() http.Handler {
	return LoggingMiddleware(h.cfg.Logger)(APIKeyMiddleware(h.cfg.APIKey)(h))
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]string{"status": "ok"})
}

// jsonResponse writes data as a JSON 200 response.
func (h *Handler) jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.cfg.Logger.Error("json encode error", "error", err)
	}
}

// jsonError writes {error: message} with the given status code.
func (h *Handler) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		h.cfg.Logger.Error("json encode error", "error", err)
	}
}

// jsonErrorFromErr classifies err through sapphireerr and writes the
// matching status code and message.
func (h *Handler) jsonErrorFromErr(w http.ResponseWriter, err error) {
	h.jsonError(w, err.Error(), sapphireerr.Classify(err).HTTPStatus())
}

func (h *Handler) decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return sapphireerr.NewInput("malformed request body: %v", err)
	}
	return nil
}
