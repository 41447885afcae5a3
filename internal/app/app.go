// Package app assembles the stores, services and background workers of the
// audience engine from a config.Config. The server and worker binaries share
// it so both run against the same wiring.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/audience-engine/internal/api"
	"github.com/ignite/audience-engine/internal/config"
	"github.com/ignite/audience-engine/internal/copilot"
	"github.com/ignite/audience-engine/internal/domain"
	"github.com/ignite/audience-engine/internal/pkg/distlock"
	"github.com/ignite/audience-engine/internal/pkg/logger"
	"github.com/ignite/audience-engine/internal/queue"
	"github.com/ignite/audience-engine/internal/repository/memory"
	"github.com/ignite/audience-engine/internal/repository/postgres"
	"github.com/ignite/audience-engine/internal/segmentation"
	"github.com/ignite/audience-engine/internal/service/campaign"
	"github.com/ignite/audience-engine/internal/service/delivery"
	"github.com/ignite/audience-engine/internal/worker"
)

type customerStore interface {
	segmentation.CustomerStore
	campaign.CustomerDirectory
}

// App holds everything one process runs.
type App struct {
	Config *config.Config

	DB      *sql.DB
	Redis   redis.UniversalClient
	Channel queue.Channel

	Segments   *segmentation.Service
	Campaigns  *campaign.Service
	Reconciler *delivery.Reconciler
	Consumer   *delivery.Consumer
	Worker     *worker.DeliveryWorker
	Scheduler  *worker.CampaignScheduler
	Copilot    *copilot.Client

	campaignRepo campaign.Repository
	logs         delivery.LogRepository
}

// New connects the configured drivers and builds the services. Close
// releases the connections.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	a := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	if err := a.connect(ctx); err != nil {
		return nil, err
	}

	var (
		segRepo   segmentation.Repository
		customers customerStore
	)
	if a.DB != nil {
		segRepo = postgres.NewSegmentRepo(a.DB)
		customers = postgres.NewCustomerStore(a.DB)
		a.campaignRepo = postgres.NewCampaignRepo(a.DB)
		a.logs = postgres.NewLogRepo(a.DB)
	} else {
		seed, err := seedCustomers(cfg.Database.CustomersFile)
		if err != nil {
			return nil, err
		}
		segRepo = memory.NewSegmentRepo()
		customers = memory.NewCustomerStore(seed...)
		campaigns := memory.NewCampaignRepo()
		a.campaignRepo = campaigns
		a.logs = memory.NewLogRepo(campaigns)
		logger.Info("using in-memory stores", "customers", len(seed))
	}

	var cache segmentation.Cache = segmentation.NewMemoryCache()
	if cfg.Cache.Driver == config.DriverRedis {
		cache = segmentation.NewRedisCache(a.Redis)
	}

	a.Copilot = copilot.NewClient(copilot.Options{
		APIKey:     cfg.OpenAI.APIKey,
		BaseURL:    cfg.OpenAI.BaseURL,
		Model:      cfg.OpenAI.Model,
		Timeout:    cfg.OpenAI.Timeout,
		MaxRetries: cfg.OpenAI.MaxRetries,
	})
	if !cfg.OpenAI.Enabled() {
		logger.Warn("OPENAI_API_KEY not set, copilot endpoints answer 503")
	}

	engine := segmentation.NewEngine(customers, segRepo)
	a.Segments = segmentation.NewService(segRepo, engine, cache)
	a.Campaigns = campaign.NewService(campaign.Deps{
		Repo:       a.campaignRepo,
		Segments:   segRepo,
		Members:    segmentation.NewResolver(cache, engine, cfg.Cache.TTL),
		Customers:  customers,
		Publisher:  a.Channel,
		Logs:       a.logs,
		Summarizer: copilot.NewCopyGenerator(a.Copilot),
	}, campaign.Options{
		Concurrency: cfg.Orchestrator.Concurrency,
		BatchSize:   cfg.Orchestrator.BatchSize,
	})

	a.Reconciler = delivery.NewReconciler(a.logs, a.campaignRepo)
	a.Consumer = delivery.NewConsumer(a.Reconciler, a.Channel, delivery.ConsumerOptions{
		BatchSize:     cfg.Reconciler.BatchSize,
		FlushInterval: cfg.Reconciler.FlushInterval,
	})

	d := cfg.Delivery
	a.Worker = worker.NewDeliveryWorker(a.Channel, a.logs, a.Reconciler, worker.DeliveryOptions{
		SuccessRate:   d.SuccessRate,
		MinDelay:      d.MinDelay,
		MaxDelay:      d.MaxDelay,
		Mode:          worker.ReceiptMode(d.ReceiptMode),
		DeliveredRate: d.DeliveredRate,
		OpenRate:      d.OpenRate,
		ClickRate:     d.ClickRate,
	})

	a.Scheduler = worker.NewCampaignScheduler(a.Campaigns, a.newLock, cfg.Scheduler.PollInterval, cfg.Scheduler.Batch)

	ok = true
	return a, nil
}

func (a *App) connect(ctx context.Context) error {
	cfg := a.Config

	if cfg.Database.Driver == config.DriverPostgres {
		db, err := sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		db.SetConnMaxLifetime(5 * time.Minute)
		db.SetConnMaxIdleTime(time.Minute)
		a.DB = db

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			return fmt.Errorf("ping database: %w", err)
		}
		logger.Info("connected to postgres")
	}

	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		a.Redis = redis.NewClient(opts)

		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := a.Redis.Ping(pingCtx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		logger.Info("connected to redis")
	}

	switch cfg.Delivery.Channel {
	case config.DriverAMQP:
		ch, err := queue.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Prefetch)
		if err != nil {
			return fmt.Errorf("dial amqp: %w", err)
		}
		a.Channel = ch
		logger.Info("connected to amqp broker")
	default:
		a.Channel = queue.NewMemoryChannel(queue.MemoryOptions{
			Partitions:   cfg.Delivery.Partitions,
			Buffer:       cfg.Delivery.Buffer,
			MaxAttempts:  cfg.Delivery.MaxAttempts,
			RetryBackoff: cfg.Delivery.RetryBackoff,
		})
	}
	return nil
}

// newLock prefers Redis, then a Postgres advisory lock, then a local lock.
func (a *App) newLock(key string) distlock.Locker {
	return distlock.New(a.Redis, a.DB, key, a.Config.Scheduler.LockTTL)
}

func seedCustomers(path string) ([]domain.Customer, error) {
	if path == "" {
		return nil, nil
	}
	return memory.LoadCustomers(path)
}

// Handlers returns the HTTP handlers over the app's services.
func (a *App) Handlers() *api.Handlers {
	return &api.Handlers{
		Segments:   a.Segments,
		Campaigns:  a.Campaigns,
		Receipts:   a.Reconciler,
		Vendor:     a.Worker,
		Translator: copilot.NewTranslator(a.Copilot),
		Copy:       copilot.NewCopyGenerator(a.Copilot),
		Health:     api.NewHealthChecker(a.DB, a.Redis),
	}
}

// StartBackground starts the delivery worker, the receipt consumer and,
// unless disabled, the campaign scheduler.
func (a *App) StartBackground(ctx context.Context) error {
	if err := a.Worker.Start(ctx); err != nil {
		return fmt.Errorf("start delivery worker: %w", err)
	}
	if err := a.Consumer.Start(ctx); err != nil {
		return fmt.Errorf("start receipt consumer: %w", err)
	}
	if a.Config.Scheduler.Disabled {
		logger.Info("campaign scheduler disabled")
		return nil
	}
	if err := a.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start campaign scheduler: %w", err)
	}
	return nil
}

// StopBackground stops what StartBackground started. The receipt consumer
// applies the batch it holds before returning. Receipts the delivery worker
// has not emitted yet are abandoned.
func (a *App) StopBackground() {
	a.Scheduler.Stop()
	a.Worker.Stop()
	a.Consumer.Stop()
}

// Close releases the channel and the connections.
func (a *App) Close() error {
	var errs []error
	if a.Channel != nil {
		errs = append(errs, a.Channel.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
