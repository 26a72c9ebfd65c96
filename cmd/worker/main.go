package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"agenthub.dev/dispatch/common/id"
	"agenthub.dev/dispatch/core/config"
	"agenthub.dev/dispatch/internal/model"
	"agenthub.dev/dispatch/internal/signing"
	"agenthub.dev/dispatch/internal/worker"
)

func main() {
	configPath := flag.String("config", "worker.yaml", "path to the worker configuration file")
	flag.Parse()

	ctx := context.Background()
	setupLogger()

	cfg, err := config.LoadWorker(*configPath)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load worker config", "error", err)
		os.Exit(1)
	}

	fmt.Printf("%s\n", banner)
	slog.InfoContext(ctx, "dispatch worker starting",
		"worker_id", cfg.Worker.ID,
		"server", cfg.Server.URL)

	// Different node ID than the server so snowflake IDs never collide
	if err := id.Init(2); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	publicKey, err := signing.LoadPublicKey(cfg.Security.PublicKeyPath)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load signing public key", "error", err)
		os.Exit(1)
	}

	client := worker.NewClient(cfg.Server.URL, cfg.Server.Token, cfg.Worker.ID, cfg.Server.Timeout.Std())

	executor := worker.NewExecutor(client, worker.ExecCommandRunner{}, cfg.Worker.ID, worker.ExecConfig{
		TaskFile:          cfg.Execution.TaskFile,
		CompletionMarker:  cfg.Execution.CompletionMarker,
		MarkerPoll:        cfg.Execution.MarkerPoll.Std(),
		ForbiddenPatterns: cfg.Security.ForbiddenPatterns,
	})

	capabilities := make([]model.Capability, 0, len(cfg.Capabilities))
	for _, c := range cfg.Capabilities {
		capabilities = append(capabilities, model.Capability{Provider: c.Provider, Model: c.Model})
	}

	poller := worker.NewPoller(client, executor, publicKey, cfg.Worker.ID, cfg.Server.PollInterval.Std(), capabilities)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go poller.RunHeartbeat(runCtx, cfg.Server.HeartbeatInterval.Std())

	errCh := make(chan error, 1)
	go func() {
		errCh <- poller.Run(runCtx)
	}()

	slog.InfoContext(ctx, "worker initialized and polling")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		slog.InfoContext(ctx, "shutting down worker...")
		cancel()
		poller.Stop()
		if err := <-errCh; err != nil && err != context.Canceled {
			slog.ErrorContext(ctx, "worker error during shutdown", "error", err)
		}
	case err := <-errCh:
		if err != nil {
			slog.ErrorContext(ctx, "worker stopped", "error", err)
			os.Exit(1)
		}
	}

	slog.InfoContext(ctx, "worker shutdown complete")
}

// setupLogger configures slog before config loads so load failures are
// reported in the same format as everything else.
func setupLogger() {
	level := slog.LevelInfo
	if os.Getenv("DISPATCH_ENV") == "development" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

const banner = `
██████╗ ██╗███████╗██████╗  █████╗ ████████╗ ██████╗██╗  ██╗    ██╗    ██╗ ██████╗ ██████╗ ██╗  ██╗███████╗██████╗
██╔══██╗██║██╔════╝██╔══██╗██╔══██╗╚══██╔══╝██╔════╝██║  ██║    ██║    ██║██╔═══██╗██╔══██╗██║ ██╔╝██╔════╝██╔══██╗
██║  ██║██║███████╗██████╔╝███████║   ██║   ██║     ███████║    ██║ █╗ ██║██║   ██║██████╔╝█████╔╝ █████╗  ██████╔╝
██║  ██║██║╚════██║██╔═══╝ ██╔══██║   ██║   ██║     ██╔══██║    ██║███╗██║██║   ██║██╔══██╗██╔═██╗ ██╔══╝  ██╔══██╗
██████╔╝██║███████║██║     ██║  ██║   ██║   ╚██████╗██║  ██║    ╚███╔███╔╝╚██████╔╝██║  ██║██║  ██╗███████╗██║  ██║
╚═════╝ ╚═╝╚══════╝╚═╝     ╚═╝  ╚═╝    ╚═════╝╚═╝  ╚═╝     ╚══╝╚══╝  ╚═════╝ ╚═╝  ╚═╝╚═╝  ╚═╝╚══════╝╚═╝  ╚═╝
`
