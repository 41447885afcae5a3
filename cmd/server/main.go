package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/ignite/audience-engine/internal/api"
	"github.com/ignite/audience-engine/internal/app"
	"github.com/ignite/audience-engine/internal/config"
	"github.com/ignite/audience-engine/internal/pkg/logger"
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("address %s is already in use: %w\n"+
			"  Hint: Run 'lsof -i %s' to find the blocking process", addr, err, addr)
	}
	return ln.Close()
}

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to config.yaml (optional)")
	// The memory channel cannot be shared across processes, so the delivery
	// worker runs in process unless it is turned off for a broker setup.
	embedded := flag.Bool("embedded-worker", true, "run the delivery worker, receipt consumer and scheduler in this process")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := logger.Init("audience-engine", cfg.Logging.Level); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()
	logger.SetRedactPII(cfg.Logging.RedactPII)

	if cfg.Delivery.Channel == config.DriverMemory && !*embedded {
		logger.Warn("memory channel without embedded worker: campaigns will never be delivered")
	}

	if err := checkPortAvailable(cfg.Server.Addr()); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()

	logger.Info("stores ready",
		"store", cfg.Database.Driver,
		"cache", cfg.Cache.Driver,
		"channel", cfg.Delivery.Channel,
		"copilot", cfg.OpenAI.Enabled())

	if *embedded {
		if err := a.StartBackground(ctx); err != nil {
			log.Fatalf("Failed to start background workers: %v", err)
		}
		defer a.StopBackground()
	}

	server := api.NewServer(cfg.Server, a.Handlers())

	// Setup graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case <-done:
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	logger.Info("server stopped")
}
