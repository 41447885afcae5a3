package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/audience-engine/internal/app"
	"github.com/ignite/audience-engine/internal/config"
	"github.com/ignite/audience-engine/internal/pkg/logger"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to config.yaml (optional)")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := logger.Init("audience-worker", cfg.Logging.Level); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()
	logger.SetRedactPII(cfg.Logging.RedactPII)

	// Only a broker and a shared store let a separate process see the
	// campaigns the API server dispatches.
	if cfg.Delivery.Channel != config.DriverAMQP || cfg.Database.Driver != config.DriverPostgres {
		log.Fatalf("worker needs CHANNEL_DRIVER=amqp and STORE_DRIVER=postgres (got %s, %s)",
			cfg.Delivery.Channel, cfg.Database.Driver)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()

	if err := a.StartBackground(ctx); err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	logger.Info("worker running",
		"receipt_mode", cfg.Delivery.ReceiptMode,
		"success_rate", cfg.Delivery.SuccessRate,
		"scheduler", !cfg.Scheduler.Disabled)

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w, c, s := a.Worker.Stats(), a.Consumer.Stats(), a.Scheduler.Stats()
				logger.Info("worker heartbeat",
					"received", w.Received,
					"sent", w.Sent,
					"failed", w.Failed,
					"receipts", w.ReceiptsEmitted,
					"receipt_batches", c.Batches,
					"campaigns_scheduled", s.Started)
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down worker")
	a.StopBackground()
	logger.Info("worker stopped")
}
