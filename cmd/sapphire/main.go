// Package main provides the CLI entry point for the Sapphire orchestration
// core.
//
// Sapphire wires a session manager, tool registry, state engine, chat
// orchestrator, continuity scheduler, and privacy gate behind a single
// HTTP facade.
//
// Start the server:
//
//	sapphire serve --config sapphire.yaml
//
// # Environment Variables
//
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models, used when no
//     llm.claude.api_key is set in the credentials store.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sapphire-ai/sapphire/internal/api"
	"github.com/sapphire-ai/sapphire/internal/chatorchestrator"
	"github.com/sapphire-ai/sapphire/internal/config"
	"github.com/sapphire-ai/sapphire/internal/continuity"
	"github.com/sapphire-ai/sapphire/internal/eventbus"
	"github.com/sapphire-ai/sapphire/internal/llm"
	"github.com/sapphire-ai/sapphire/internal/privacy"
	"github.com/sapphire-ai/sapphire/internal/sessions"
	"github.com/sapphire-ai/sapphire/internal/settings"
	"github.com/sapphire-ai/sapphire/internal/stateengine"
	"github.com/sapphire-ai/sapphire/internal/tools"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("sapphire exited with error", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sapphire",
		Short:         "Sapphire conversational orchestration core",
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(buildServeCmd())
	return root
}

// buildServeCmd creates the "serve" command that starts the orchestration
// core: config load, component wiring, then the HTTP facade until
// SIGINT/SIGTERM.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Sapphire orchestration core",
		Long: `Start the Sapphire orchestration core.

The server will:
1. Load configuration from the specified file (or sapphire.yaml)
2. Ensure the data directory and credentials store exist
3. Open the state engine's SQLite store
4. Build the session manager, tool registry, and chat orchestrator
5. Start the continuity scheduler
6. Serve the API facade over HTTP

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "sapphire.yaml", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging (verbose output)")

	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	logLevel := slog.LevelInfo
	if debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	logger.Info("starting sapphire", "version", version, "commit", commit, "config", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Info("configuration loaded", "data_dir", cfg.DataDir, "addr", cfg.Server.Addr)

	components, err := wireComponents(cfg, logger)
	if err != nil {
		return fmt.Errorf("wire components: %w", err)
	}
	defer components.stateStore.Close()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	components.scheduler.Start(ctx)

	server, err := startHTTPServer(cfg.Server.Addr, components.handler, logger)
	if err != nil {
		components.scheduler.Stop()
		return fmt.Errorf("start http server: %w", err)
	}

	logger.Info("sapphire started", "addr", cfg.Server.Addr)

	<-ctx.Done()
	logger.Info("shutdown signal received, initiating graceful shutdown")

	components.scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown error", "error", err)
	}

	logger.Info("sapphire stopped gracefully")
	return nil
}

// wiredComponents bundles every collaborator built by wireComponents, so
// runServe can start/stop them without threading a dozen locals around.
type wiredComponents struct {
	handler    http.Handler
	scheduler  *continuity.Scheduler
	stateStore *stateengine.Store
}

func wireComponents(cfg config.Config, logger *slog.Logger) (*wiredComponents, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure data dir: %w", err)
	}

	credentials, err := settings.New(filepath.Join(cfg.DataDir, "settings.json"))
	if err != nil {
		return nil, fmt.Errorf("open settings store: %w", err)
	}

	sessionMgr, err := sessions.NewManager(filepath.Join(cfg.DataDir, "chats"))
	if err != nil {
		return nil, fmt.Errorf("open session manager: %w", err)
	}

	stateStore, err := stateengine.OpenStore(filepath.Join(cfg.DataDir, "state.db"))
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	stateEngine := stateengine.New(stateStore)

	presets, err := stateengine.LoadPresetsDir(filepath.Join(cfg.DataDir, "presets"))
	if err != nil {
		return nil, fmt.Errorf("load state presets: %w", err)
	}
	for _, preset := range presets {
		stateEngine.RegisterPreset(preset)
	}

	registry := tools.NewRegistry()
	if err := registerStateTools(registry); err != nil {
		return nil, fmt.Errorf("register state tools: %w", err)
	}

	bus := eventbus.New()
	privacyGate := privacy.New(cfg.StartPrivacy)
	if len(cfg.Whitelist) > 0 {
		if err := privacyGate.SetWhitelist(cfg.Whitelist); err != nil {
			return nil, fmt.Errorf("apply privacy whitelist: %w", err)
		}
	}
	registry.SetPrivacyGate(privacyGate)

	apiKey := credentials.ResolveProviderAPIKey("claude")
	client := llm.NewAnthropicClient(apiKey)

	if activeSettings := sessionMgr.GetChatSettings(); activeSettings.StateEngineEnabled {
		if err := stateEngine.SetActiveChat(context.Background(), sessionMgr.ActiveChatName(), activeSettings.StatePreset); err != nil {
			return nil, fmt.Errorf("activate state engine for active chat: %w", err)
		}
	}

	orchestrator := chatorchestrator.New(client, registry, sessionMgr, bus, stateEngine, stateEngine, llm.DefaultModel)

	newEphemeral := func(mgr *sessions.Manager) *chatorchestrator.Orchestrator {
		return chatorchestrator.New(client, registry, mgr, eventbus.New(), nil, nil, llm.DefaultModel)
	}
	executor := continuity.NewOrchestratorExecutor(sessionMgr, orchestrator, newEphemeral, bus, nil)
	scheduler := continuity.New(executor, bus)

	handler, err := api.NewHandler(&api.Config{
		Sessions:     sessionMgr,
		Tools:        registry,
		Orchestrator: orchestrator,
		Scheduler:    scheduler,
		Privacy:      privacyGate,
		Bus:          bus,
		StateEngine:  stateEngine,
		APIKey:       cfg.APIKey,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build api handler: %w", err)
	}

	return &wiredComponents{
		handler:    handler.Mount(),
		scheduler:  scheduler,
		stateStore: stateStore,
	}, nil
}

// registerStateTools gives the tool registry schemas for the state engine's
// fixed tool set. Real dispatch never reaches these handlers: the chat
// orchestrator's StateToolExecutor check intercepts a state-tool call before
// the registry's own Execute path runs. The handlers exist only so
// Register's schema validation has somewhere to point, and are never
// invoked in practice.
func registerStateTools(registry *tools.Registry) error {
	unreachable := func(ctx context.Context, args json.RawMessage) (tools.Result, error) {
		return tools.Result{}, errors.New("state tools are dispatched by the orchestrator, not the registry")
	}
	for _, descriptor := range stateengine.Descriptors() {
		if err := registry.Register(descriptor, unreachable); err != nil {
			return fmt.Errorf("register state tool %s: %w", descriptor.Name, err)
		}
	}
	return nil
}

func startHTTPServer(addr string, handler http.Handler, logger *slog.Logger) (*http.Server, error) {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	return server, nil
}
