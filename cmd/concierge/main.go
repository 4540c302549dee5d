// Concierge orchestrator server — mediates between chat clients and the
// project-generation backend: HTTP API, WebSocket streaming, session
// store, and workflow execution.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/redis/go-redis/v9"

	"github.com/forgemcp/concierge/pkg/api"
	"github.com/forgemcp/concierge/pkg/cleanup"
	"github.com/forgemcp/concierge/pkg/config"
	"github.com/forgemcp/concierge/pkg/conversation"
	"github.com/forgemcp/concierge/pkg/events"
	"github.com/forgemcp/concierge/pkg/intent"
	"github.com/forgemcp/concierge/pkg/llm"
	"github.com/forgemcp/concierge/pkg/mcp"
	"github.com/forgemcp/concierge/pkg/session"
	"github.com/forgemcp/concierge/pkg/state"
	"github.com/forgemcp/concierge/pkg/version"
	"github.com/forgemcp/concierge/pkg/workflow"
)

func setupLogging(level, format string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	var handler slog.Handler
	if strings.ToLower(format) == "text" {
		handler = tint.NewHandler(os.Stderr, &tint.Options{Level: lvl})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
}

func main() {
	// Load .env if present; real deployments set the environment directly.
	if err := godotenv.Load(); err == nil {
		slog.Info("Loaded environment from .env")
	}

	// 1. Configuration and logging
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.LogLevel, cfg.LogFormat)

	slog.Info("Starting concierge",
		"version", version.Full(),
		"port", cfg.Port,
		"redis", cfg.RedisAddr(),
		"kafka", cfg.KafkaBrokers,
		"mcp", cfg.MCPServerURL)

	ctx := context.Background()

	// 2. Session store (Redis)
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer func() {
		if err := rdb.Close(); err != nil {
			slog.Error("Error closing Redis client", "error", err)
		}
	}()

	store := session.NewStore(rdb, cfg.SessionTTL)
	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := store.Ping(pingCtx); err != nil {
		pingCancel()
		slog.Error("Failed to connect to Redis", "addr", cfg.RedisAddr(), "error", err)
		os.Exit(1)
	}
	pingCancel()
	slog.Info("Connected to Redis", "addr", cfg.RedisAddr())

	contextMgr := session.NewContextManager(store)
	classifier := intent.NewClassifier()
	tracker := state.NewTracker(store)

	// 3. Project-generation backend client
	mcpClient := mcp.NewClient(cfg.MCPServerURL, cfg.MCPTimeout)

	// 4. Event bus (Kafka) and WebSocket hub
	publisher := events.NewPublisher(cfg.KafkaBrokers, version.AppName)
	defer func() {
		if err := publisher.Close(); err != nil {
			slog.Error("Error closing event publisher", "error", err)
		}
	}()

	consumer := events.NewConsumer(cfg.KafkaBrokers, cfg.KafkaConsumerGroup, cfg.KafkaTopics)
	hub := events.NewHub(10 * time.Second)

	// 5. Workflow driver
	driver := workflow.NewDriver(mcpClient, store, contextMgr, tracker, publisher, cfg.MaxConcurrentWorkflows)

	// 6. Reply generation — falls back on templates when no key is set
	var responder llm.Responder
	if cfg.OpenAIAPIKey != "" {
		r, err := llm.NewOpenAIResponder(cfg.OpenAIAPIKey, cfg.OpenAIModel)
		if err != nil {
			slog.Error("Failed to initialize reply generation", "error", err)
			os.Exit(1)
		}
		responder = r
		slog.Info("Reply generation enabled")
	} else {
		slog.Info("OPENAI_API_KEY not set — using template replies")
	}

	// 7. Conversation coordinator, wired to the hub for inbound chat frames
	coordinator := conversation.NewCoordinator(
		store, contextMgr, classifier, tracker, driver, publisher, hub, mcpClient, responder)
	hub.SetChatHandler(func(ctx context.Context, sessionID, message string, patch map[string]any) {
		if _, err := coordinator.HandleMessage(ctx, sessionID, message, patch); err != nil {
			slog.Error("WebSocket chat turn failed", "session_id", sessionID, "error", err)
		}
	})
	hub.SetStatusHandler(coordinator.SessionStats)

	// 8. Bus consumer: project lifecycle handlers, then start reading
	events.RegisterCoreHandlers(consumer, store, contextMgr, hub)
	consumer.Start(ctx)

	// 9. Session retention sweep
	cleanupService := cleanup.NewService(store, cfg.CleanupInterval)
	cleanupService.Start(ctx)

	// 10. HTTP server (non-blocking)
	httpServer := api.NewServer(store, contextMgr, tracker, coordinator, hub, cfg.CORSOrigins)
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Concierge started successfully")

	// 11. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 12. Graceful shutdown: stop taking work, drain workflows, then the rest
	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	drainDone := make(chan struct{})
	go func() {
		driver.Stop()
		close(drainDone)
	}()
	select {
	case <-drainDone:
		slog.Info("Workflow driver drained")
	case <-time.After(30 * time.Second):
		slog.Warn("Workflow drain timeout exceeded — in-flight workflows abandoned")
	}

	consumer.Stop()
	cleanupService.Stop()

	slog.Info("Shutdown complete")
}
