package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sapphire-ai/sapphire/internal/continuity"
	"github.com/sapphire-ai/sapphire/internal/sapphireerr"
)

type taskRequest struct {
	Name            string `json:"name"`
	Enabled         bool   `json:"enabled"`
	CronExpr        string `json:"cron_expr"`
	CooldownMinutes int    `json:"cooldown_minutes"`
	Chance          int    `json:"chance"`
	ChatTarget      string `json:"chat_target"`
	Iterations      int    `json:"iterations"`
	InitialMessage  string `json:"initial_message"`
	TTSEnabled      bool   `json:"tts_enabled"`
	Prompt          string `json:"prompt"`
	Toolset         string `json:"toolset"`
	Provider        string `json:"provider"`
	Model           string `json:"model"`
	MemoryScope     string `json:"memory_scope"`
	InjectDatetime  bool   `json:"inject_datetime"`
}

func (req taskRequest) toTask(id string) *continuity.Task {
	return &continuity.Task{
		ID: id, Name: req.Name, Enabled: req.Enabled, CronExpr: req.CronExpr,
		CooldownMinutes: req.CooldownMinutes, Chance: req.Chance, ChatTarget: req.ChatTarget,
		Iterations: req.Iterations, InitialMessage: req.InitialMessage, TTSEnabled: req.TTSEnabled,
		Prompt: req.Prompt, Toolset: req.Toolset, Provider: req.Provider, Model: req.Model,
		MemoryScope: req.MemoryScope, InjectDatetime: req.InjectDatetime,
	}
}

// handleTasks lists (GET) or creates (POST) continuity tasks.
func (h *Handler) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.jsonResponse(w, map[string]any{"tasks": h.cfg.Scheduler.Tasks()})
	case http.MethodPost:
		var req taskRequest
		if err := h.decodeJSON(r, &req); err != nil {
			h.jsonErrorFromErr(w, err)
			return
		}
		if err := validateCron(req.CronExpr); err != nil {
			h.jsonErrorFromErr(w, err)
			return
		}
		task := req.toTask(uuid.NewString())
		h.cfg.Scheduler.RegisterTask(task)
		h.jsonResponse(w, task)
	default:
		h.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleTaskByID dispatches PUT/DELETE /tasks/{id} and POST /tasks/{id}/run.
func (h *Handler) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/tasks/")
	id, suffix, _ := strings.Cut(rest, "/")
	if id == "" {
		h.jsonError(w, "task id required", http.StatusBadRequest)
		return
	}

	switch {
	case suffix == "" && r.Method == http.MethodPut:
		if _, ok := h.cfg.Scheduler.GetTask(id); !ok {
			h.jsonError(w, "task not found", http.StatusNotFound)
			return
		}
		var req taskRequest
		if err := h.decodeJSON(r, &req); err != nil {
			h.jsonErrorFromErr(w, err)
			return
		}
		if err := validateCron(req.CronExpr); err != nil {
			h.jsonErrorFromErr(w, err)
			return
		}
		task := req.toTask(id)
		h.cfg.Scheduler.RegisterTask(task)
		h.jsonResponse(w, task)
	case suffix == "" && r.Method == http.MethodDelete:
		h.cfg.Scheduler.UnregisterTask(id)
		h.jsonResponse(w, map[string]string{"status": "ok"})
	case suffix == "run" && r.Method == http.MethodPost:
		if err := h.cfg.Scheduler.RunTaskNow(r.Context(), id); err != nil {
			h.jsonErrorFromErr(w, err)
			return
		}
		h.jsonResponse(w, map[string]string{"status": "ok"})
	default:
		h.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func validateCron(expr string) error {
	if _, err := continuity.ParseCron(expr); err != nil {
		return sapphireerr.NewInput("invalid cron expression %q: %v", expr, err)
	}
	return nil
}

// handleStatus reports the scheduler's run state and task count.
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.jsonResponse(w, map[string]any{
		"running":          h.cfg.Scheduler.IsRunning(),
		"task_count":       len(h.cfg.Scheduler.Tasks()),
		"subscriber_count": h.cfg.Bus.SubscriberCount(),
		"privacy_mode":     h.cfg.Privacy.IsEnabled(),
	})
}

// handleActivity returns the capped activity ring.
func (h *Handler) handleActivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.jsonResponse(w, map[string]any{"activity": h.cfg.Scheduler.Activity()})
}

// handleTimeline projects upcoming task occurrences within a bounded window.
func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	windowHours := 24
	if v := r.URL.Query().Get("window_hours"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			h.jsonError(w, "invalid window_hours", http.StatusBadRequest)
			return
		}
		windowHours = parsed
	}
	perTask := 5
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			h.jsonError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		perTask = parsed
	}

	entries := h.cfg.Scheduler.Timeline(time.Duration(windowHours)*time.Hour, perTask)
	h.jsonResponse(w, map[string]any{"timeline": entries})
}
