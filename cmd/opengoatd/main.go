// Command opengoatd runs the OpenGoat daemon: the ACP façade over stdio, a
// background task-scanner loop, and a health/status HTTP surface.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/opengoat/opengoat/internal/agent"
	"github.com/opengoat/opengoat/internal/board"
	"github.com/opengoat/opengoat/internal/common/config"
	"github.com/opengoat/opengoat/internal/common/logger"
	"github.com/opengoat/opengoat/internal/events/bus"
	"github.com/opengoat/opengoat/internal/orchestrator"
	"github.com/opengoat/opengoat/internal/paths"
	"github.com/opengoat/opengoat/internal/provider"
	"github.com/opengoat/opengoat/internal/scanner"
	"github.com/opengoat/opengoat/internal/session"
	"github.com/opengoat/opengoat/pkg/acp"
	"github.com/opengoat/opengoat/pkg/acp/jsonrpc"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting opengoatd")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus, err := bus.New(cfg.NATS, log)
	if err != nil {
		log.Fatal("failed to construct event bus", zap.Error(err))
	}
	defer eventBus.Close()

	fs := paths.NewOSFilesystem()
	layout := paths.New(cfg.Home.Dir)
	if err := fs.MkdirAll(cfg.Home.Dir, 0o755); err != nil {
		log.Fatal("failed to create home directory", zap.Error(err))
	}

	agents := agent.NewRegistry(fs, layout, log)
	if err := agents.Load(); err != nil {
		log.Fatal("failed to load agent registry", zap.Error(err))
	}
	log.Info("loaded agent registry", zap.Int("agents", len(agents.List())))

	providers := provider.NewRegistry(fs, layout)
	registerDefaultProviders(providers, cfg.Providers)

	if _, err := agents.DefaultHead(); err != nil {
		headProvider := providers.List()[0].ID
		if _, err := agents.EnsureAgent(agent.CreateRequest{Name: "ceo", Type: agent.TypeManager, Provider: headProvider}); err != nil {
			log.Fatal("failed to bootstrap organization head agent", zap.Error(err))
		}
		log.Info("bootstrapped default head agent", zap.String("provider", headProvider))
	}

	clock := session.RealClock{}
	sessions := session.New(fs, layout, log, clock)

	orch := orchestrator.New(agents, providers, sessions, layout, fs, log, eventBus, cfg.Orchestrator.MaxParallelFlows)

	boardStore, err := newBoardStore(cfg.Board, layout)
	if err != nil {
		log.Fatal("failed to open task board store", zap.Error(err))
	}
	defer boardStore.Close()
	boards := board.NewManager(boardStore, agents)

	taskScanner := scanner.New(boards, agents, sessions, orch, log)

	var cronRunner *scanner.CronRunner
	if cfg.Scanner.Enabled {
		cronRunner, err = scanner.NewCronRunner(taskScanner, scanner.CycleOptions{InactiveMinutes: 30, Policy: scanner.PolicyAllManagers}, cfg.Scanner.CronSchedule)
		if err != nil {
			log.Fatal("failed to build scanner cron schedule", zap.Error(err))
		}
		cronRunner.Start()
		log.Info("started task scanner", zap.String("schedule", cfg.Scanner.CronSchedule))
	}

	acpConn := jsonrpc.NewConn(os.Stdin, os.Stdout, log)
	acpServer := acp.NewServer(acpConn, orch, sessions, agents, providers, log)
	acpDone := make(chan error, 1)
	go func() {
		acpDone <- acpServer.Serve(ctx)
	}()

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/health", func(c *gin.Context) {
		boardUp := true
		if _, err := boards.ListBoards(c.Request.Context(), board.ListBoardsFilter{}); err != nil {
			boardUp = false
		}
		c.JSON(http.StatusOK, gin.H{
			"status":     "ok",
			"activeRuns": orch.ActiveCount(),
			"agents":     len(agents.List()),
			"eventBusUp": eventBus.IsConnected(),
			"boardUp":    boardUp,
		})
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start http server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info("shutdown signal received")
	case err := <-acpDone:
		if err != nil {
			log.Warn("acp server stopped", zap.Error(err))
		}
	}

	cancel()
	if cronRunner != nil {
		cronRunner.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", zap.Error(err))
	}

	log.Info("opengoatd stopped")
}

// registerDefaultProviders wires the two built-in provider transports: a CLI
// provider invoking a locally installed agent binary, and an HTTP provider
// talking the messages protocol to a remote model endpoint. Either can be
// absent at runtime (missing binary, unset credentials) without affecting
// startup; failures surface as typed errors only when an agent actually
// routes to them.
func registerDefaultProviders(providers *provider.Registry, cfg config.ProvidersConfig) {
	providers.Register(provider.NewCLIProvider(provider.CLISpec{
		ID:            "claude-code",
		DisplayName:   "Claude Code",
		Command:       "claude",
		CommandEnvVar: cfg.EnvPrefix + "_CLAUDE_CODE_BIN",
		ArgsTemplate:  []string{"-p", "{message}"},
		Capabilities:  provider.Capabilities{Agent: true, Model: true, Passthrough: true},
	}))

	providers.Register(provider.NewHTTPProvider(provider.HTTPSpec{
		ID:             "anthropic-messages",
		DisplayName:    "Anthropic Messages API",
		Protocol:       provider.ProtocolMessages,
		BaseURLEnvVar:  cfg.EnvPrefix + "_ANTHROPIC_BASE_URL",
		DefaultBaseURL: "https://api.anthropic.com",
		EndpointPath:   "/v1/messages",
		CredentialEnvs: []string{cfg.EnvPrefix + "_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY"},
		AuthStyle:      provider.AuthStyleXAPIKey,
		DefaultModel:   "claude-3-5-sonnet-latest",
		ModelEnvVar:    cfg.EnvPrefix + "_ANTHROPIC_MODEL",
		Capabilities:   provider.Capabilities{Agent: true, Model: true, Auth: true},
		RequestTimeout: 120 * time.Second,
	}))
}

func newBoardStore(cfg config.BoardConfig, layout *paths.Layout) (board.Store, error) {
	if cfg.Driver == "memory" {
		return board.NewMemoryStore(), nil
	}
	path := cfg.Path
	if path == "" {
		path = layout.BoardsDBPath()
	}
	return board.NewSQLiteStore(path)
}
