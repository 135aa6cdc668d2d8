// Nancy orchestration core server — validates Knowledge Packets, fans them
// out to the four brains, supervises MCP content processors, and answers
// questions over the accumulated knowledge.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nancy-core/nancy/pkg/api"
	"github.com/nancy-core/nancy/pkg/brains"
	"github.com/nancy-core/nancy/pkg/brains/analytical"
	"github.com/nancy-core/nancy/pkg/brains/graph"
	"github.com/nancy-core/nancy/pkg/brains/llm"
	"github.com/nancy-core/nancy/pkg/brains/vector"
	"github.com/nancy-core/nancy/pkg/config"
	"github.com/nancy-core/nancy/pkg/ingest"
	"github.com/nancy-core/nancy/pkg/legacy"
	"github.com/nancy-core/nancy/pkg/mcphost"
	"github.com/nancy-core/nancy/pkg/metrics"
	"github.com/nancy-core/nancy/pkg/mode"
	"github.com/nancy-core/nancy/pkg/packet"
	"github.com/nancy-core/nancy/pkg/query"
)

// Exit codes.
const (
	exitOK            = 0
	exitStartup       = 1
	exitConfigInvalid = 2
	exitModeRejected  = 3
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	os.Exit(run())
}

func run() int {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	}

	ctx := context.Background()
	logger := slog.Default()

	// 1. Configuration. An invalid document aborts with a distinct exit code.
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		logger.Error("failed to initialize configuration", "error", err)
		return exitConfigInvalid
	}

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		logger.Error("failed to create data directory", "dir", cfg.Storage.DataDir, "error", err)
		return exitStartup
	}

	// 2. Embedder and generator. Without an API key the deterministic local
	// embedder keeps ingestion working; synthesis degrades to extraction.
	apiKey := os.Getenv(cfg.Brains.LLM.APIKeyEnv)

	var embedder vector.Embedder
	if apiKey != "" {
		genaiEmbedder, err := vector.NewGenAIEmbedder(ctx, apiKey, cfg.Brains.Vector.EmbeddingModel)
		if err != nil {
			logger.Error("failed to initialize embedding client", "error", err)
			return exitStartup
		}
		embedder = genaiEmbedder
	} else {
		logger.Warn("no API key set, using local hash embedder",
			"api_key_env", cfg.Brains.LLM.APIKeyEnv)
		embedder = vector.NewHashEmbedder(0)
	}

	// 3. Brain stores.
	vectorStore, err := vector.NewStore(filepath.Join(cfg.Storage.DataDir, "vector.db"), embedder, logger)
	if err != nil {
		logger.Error("failed to open vector store", "error", err)
		return exitStartup
	}
	defer vectorStore.Close()

	analyticalStore, err := analytical.NewStore(filepath.Join(cfg.Storage.DataDir, "analytical.db"), logger)
	if err != nil {
		logger.Error("failed to open analytical store", "error", err)
		return exitStartup
	}
	defer analyticalStore.Close()

	graphStore, err := graph.NewStore(filepath.Join(cfg.Storage.DataDir, "graph.db"), logger)
	if err != nil {
		logger.Error("failed to open graph store", "error", err)
		return exitStartup
	}
	defer graphStore.Close()

	var llmBrain brains.LLMBrain
	if apiKey != "" {
		gen, err := llm.NewGenAIGenerator(ctx, apiKey, cfg.Brains.LLM.Model)
		if err != nil {
			logger.Error("failed to initialize LLM client", "error", err)
			return exitStartup
		}
		llmBrain = llm.NewBrain(gen, logger)
	} else {
		llmBrain = llm.NewBrain(llm.UnavailableGenerator{}, logger)
	}

	// 4. Ingest history and router.
	history, err := ingest.NewHistory(filepath.Join(cfg.Storage.DataDir, "history.db"))
	if err != nil {
		logger.Error("failed to open ingest history", "error", err)
		return exitStartup
	}
	defer history.Close()

	router := ingest.NewRouter(vectorStore, analyticalStore, graphStore, history, ingest.Config{
		GlobalWindow:   int64(cfg.Limits.IngestInFlight),
		PerBrainWindow: int64(cfg.Limits.PerBrainInFlight),
		MaxAttempts:    cfg.Limits.MaxIngestAttempts,
		RetryBase:      100 * time.Millisecond,
		RetryCap:       2 * time.Second,
	}, logger)

	gate := mode.NewGate(mode.Mode(cfg.Mode), router, logger)

	// 5. MCP host. In mcp mode every configured server must come up.
	var host *mcphost.Host
	if cfg.MCPServerRegistry.Len() > 0 && gate.Mode() != mode.ModeLegacy {
		host = mcphost.NewHost(cfg.MCPServerRegistry, logger)
		host.Start(ctx)
		defer host.Stop()
		if gate.Mode() == mode.ModeMCP && !host.IsHealthy() {
			logger.Error("mcp mode requires all configured MCP servers to start")
			return exitModeRejected
		}
	}

	// 6. Query path.
	analyzer := query.NewAnalyzer(graphStore, llmBrain, logger)
	orchestrator := query.NewOrchestrator(analyzer, vectorStore, analyticalStore, graphStore, llmBrain, logger)
	orchestrator.SetTimeouts(
		time.Duration(cfg.Orchestration.PerBrainTimeoutMS)*time.Millisecond,
		time.Duration(cfg.Orchestration.TotalTimeoutMS)*time.Millisecond,
	)
	orchestrator.SetQueryWindow(cfg.Limits.QueryInFlight)

	// 7. HTTP server.
	validator, err := packet.NewValidator()
	if err != nil {
		logger.Error("failed to compile packet schema", "error", err)
		return exitStartup
	}

	m := metrics.New()
	router.SetMetrics(m)
	orchestrator.SetMetrics(m)
	processor := legacy.NewProcessor(0, logger)
	server := api.NewServer(validator, router, orchestrator, gate, processor, history, m, logger)
	server.SetHealthSource(brains.BrainVector, vectorStore)
	server.SetHealthSource(brains.BrainAnalytical, analyticalStore)
	server.SetHealthSource(brains.BrainGraph, graphStore)
	server.SetHealthSource(brains.BrainLLM, llmBrain)
	if host != nil {
		server.SetMCPHost(host)
	}

	errCh := make(chan error, 1)
	go func() {
		addr := cfg.Server.ListenAddr
		logger.Info("HTTP server listening", "addr", addr, "mode", gate.Mode())
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	logger.Info("nancy started", "version", cfg.Version, "mode", gate.Mode())

	// 8. Wait for shutdown signal or server error.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", fmt.Sprint(sig))
	case err := <-errCh:
		logger.Error("server error triggered shutdown", "error", err)
		return exitStartup
	}

	// 9. Graceful shutdown: stop accepting packets, drain in-flight
	// ingestion, then stop the HTTP server.
	drainCtx, drainCancel := context.WithTimeout(ctx, 30*time.Second)
	defer drainCancel()
	if err := router.Drain(drainCtx); err != nil {
		logger.Warn("ingest drain timeout exceeded", "error", err)
	}

	httpCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := server.Shutdown(httpCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
	return exitOK
}
