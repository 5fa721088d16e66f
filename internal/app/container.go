// Package app assembles the engine's components from configuration.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unclebandit/outreach-engine/internal/config"
	"github.com/unclebandit/outreach-engine/internal/controller"
	"github.com/unclebandit/outreach-engine/internal/db"
	"github.com/unclebandit/outreach-engine/internal/handler"
	"github.com/unclebandit/outreach-engine/internal/logger"
	"github.com/unclebandit/outreach-engine/internal/metrics"
	"github.com/unclebandit/outreach-engine/internal/notify"
	"github.com/unclebandit/outreach-engine/internal/provider"
	"github.com/unclebandit/outreach-engine/internal/queue"
	"github.com/unclebandit/outreach-engine/internal/repository"
	"github.com/unclebandit/outreach-engine/internal/service"
)

// Container holds every wired component. Services are built eagerly; the
// broker connection is opened on first use since not every command needs it.
type Container struct {
	Config *config.Config
	Logger *zap.Logger
	DB     *sql.DB

	Metrics        metrics.Recorder
	metricsHandler http.Handler

	Campaigns *repository.CampaignRepository
	Prospects *repository.ProspectRepository
	Queue     *repository.SendQueueRepository
	Accounts  *repository.AccountRepository

	Scheduler       *service.Scheduler
	Executor        *service.Executor
	Repairer        *service.Repairer
	Reconciler      *service.Reconciler
	Validator       *service.Validator
	CampaignService *service.CampaignService

	brokerOnce sync.Once
	broker     queue.Queue
	brokerErr  error
}

func New(cfg *config.Config) (*Container, error) {
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	conn, err := db.Connect(db.Config{
		ConnectionString:   cfg.DBConnectionString,
		MaxOpenConnections: cfg.DBMaxOpenConnections,
		MaxIdleConnections: cfg.DBMaxIdleConnections,
		ConnMaxLifetime:    cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}

	c, err := build(cfg, log, conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

func build(cfg *config.Config, log *zap.Logger, conn *sql.DB) (*Container, error) {
	c := &Container{
		Config:    cfg,
		Logger:    log,
		DB:        conn,
		Metrics:   metrics.Nop{},
		Campaigns: &repository.CampaignRepository{DB: conn},
		Prospects: &repository.ProspectRepository{DB: conn},
		Queue:     &repository.SendQueueRepository{DB: conn},
		Accounts:  &repository.AccountRepository{DB: conn},
	}

	if cfg.MetricsEnabled {
		prom, err := metrics.NewPrometheus(cfg.MetricsNamespace)
		if err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
		c.Metrics = prom
		c.metricsHandler = prom.Handler()
	}

	classifier, err := service.LoadClassifier(cfg.ClassificationTablePath)
	if err != nil {
		return nil, err
	}

	var notifier notify.Notifier = notify.Nop{}
	if cfg.NotifyWebhookURL != "" {
		notifier = notify.NewWebhook(cfg.NotifyWebhookURL)
	}

	client := provider.NewHTTPClient(provider.Config{
		BaseURL:        cfg.ProviderBaseURL,
		APIKey:         cfg.ProviderAPIKey,
		Timeout:        cfg.ProviderTimeout,
		RequestsPerSec: cfg.ProviderRequestsPerSec,
		Burst:          cfg.ProviderBurst,
	}, log.Named("provider"))

	clock := service.SystemClock{}
	spacer := service.NewSpacer(cfg.SpacingMin, cfg.SpacingMax, time.Now().UnixNano())

	c.Scheduler = &service.Scheduler{
		Prospects: c.Prospects,
		Queue:     c.Queue,
		Accounts: &service.AccountSelector{
			Accounts:            c.Accounts,
			PreferredCapability: cfg.PreferredAccountCapability,
		},
		Spacer:  spacer,
		Clock:   clock,
		Logger:  log.Named("scheduler"),
		Metrics: c.Metrics,
	}

	c.Executor = &service.Executor{
		Campaigns:  c.Campaigns,
		Prospects:  c.Prospects,
		Queue:      c.Queue,
		Accounts:   c.Accounts,
		Provider:   client,
		Classifier: classifier,
		FollowUps:  c.Scheduler,
		Notifier:   notifier,
		Clock:      clock,
		Logger:     log.Named("executor"),
		Metrics:    c.Metrics,
		Timeout:    cfg.ProviderTimeout,
		MaxRetries: cfg.MaxTransientRetries,
		RetryBase:  cfg.RetryBase,
		RetryMax:   cfg.RetryMax,
	}

	c.Repairer = &service.Repairer{
		Campaigns: c.Campaigns,
		Prospects: c.Prospects,
		Queue:     c.Queue,
		Accounts:  c.Accounts,
		Provider:  client,
		Scheduler: c.Scheduler,
		Spacer:    spacer,
		Clock:     clock,
		Logger:    log.Named("repair"),
		Timeout:   cfg.ProviderTimeout,

		MaxAttempts: cfg.IdentifierRepairAttempts,
	}

	c.Reconciler = &service.Reconciler{
		Campaigns:       c.Campaigns,
		Prospects:       c.Prospects,
		Queue:           c.Queue,
		Repairer:        c.Repairer,
		Notifier:        notifier,
		Clock:           clock,
		Logger:          log.Named("reconciler"),
		Metrics:         c.Metrics,
		StuckAfter:      cfg.StuckProcessingAfter,
		Warmup:          cfg.CampaignWarmup,
		OverdueAfter:    cfg.OverdueAfter,
		IdentifierBatch: cfg.IdentifierRepairBatch,
		OverdueBatch:    cfg.OverdueRepairBatch,
	}

	c.Validator = &service.Validator{
		Campaigns:          c.Campaigns,
		Prospects:          c.Prospects,
		Queue:              c.Queue,
		Accounts:           c.Accounts,
		Repairer:           c.Repairer,
		Clock:              clock,
		Logger:             log.Named("validator"),
		Metrics:            c.Metrics,
		StuckApprovedAfter: cfg.StuckProcessingAfter,
		OverdueAfter:       cfg.OverdueAfter,
		OverdueBatch:       cfg.OverdueRepairBatch,
	}

	c.CampaignService = &service.CampaignService{
		CampaignRepo:  c.Campaigns,
		ProspectRepo:  c.Prospects,
		SendQueueRepo: c.Queue,
		Scheduler:     c.Scheduler,
		Logger:        log.Named("campaigns"),
	}

	return c, nil
}

// Migrate applies pending schema migrations.
func (c *Container) Migrate() error {
	return db.Migrate(c.DB, c.Logger)
}

// Broker returns RabbitMQ when AMQP_URL is set and an in-process queue
// otherwise.
func (c *Container) Broker() (queue.Queue, error) {
	c.brokerOnce.Do(func() {
		if c.Config.AMQPURL == "" {
			c.broker = queue.NewInMemoryQueue(c.Logger.Named("queue"))
			return
		}
		broker, err := queue.NewAMQPQueue(c.Config.AMQPURL, c.Logger.Named("amqp"))
		if err != nil {
			c.brokerErr = err
			return
		}
		c.broker = broker
	})
	return c.broker, c.brokerErr
}

func (c *Container) Dispatcher() (*service.Dispatcher, error) {
	broker, err := c.Broker()
	if err != nil {
		return nil, err
	}
	return &service.Dispatcher{
		Queue:  c.Queue,
		Broker: broker,
		Topic:  c.Config.AMQPQueue,
		Clock:  service.SystemClock{},
		Logger: c.Logger.Named("dispatcher"),
	}, nil
}

// StartSendWorker subscribes the executor to the send topic.
func (c *Container) StartSendWorker() error {
	broker, err := c.Broker()
	if err != nil {
		return err
	}
	return queue.StartSendSubscriber(broker, c.Config.AMQPQueue, 2*c.Config.ProviderTimeout,
		c.ExecuteOne, c.Logger.Named("worker"))
}

// ExecuteOne adapts Executor.Execute to the subscriber callback. Only errors
// that left the item untouched are returned, so the broker redelivers them.
func (c *Container) ExecuteOne(ctx context.Context, itemID uuid.UUID) error {
	result, err := c.Executor.Execute(ctx, itemID)
	if err != nil {
		return err
	}
	c.Logger.Debug("send job handled",
		zap.String("queue_item_id", itemID.String()),
		zap.String("outcome", string(result.Outcome)),
	)
	return nil
}

// Router builds the HTTP surface. It fails when AMQP_URL is set and the
// broker cannot be reached; without AMQP_URL dispatch publishes to the
// in-process queue.
func (c *Container) Router() (http.Handler, error) {
	dispatcher, err := c.Dispatcher()
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := c.DB.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	if c.metricsHandler != nil {
		r.Handle("/metrics", c.metricsHandler)
	}

	(&controller.TriggerController{
		Reconciler:           c.Reconciler,
		Executor:             c.Executor,
		Dispatcher:           dispatcher,
		Logger:               c.Logger.Named("http"),
		CronSecret:           c.Config.CronSecret,
		ManualTriggerEnabled: c.Config.ManualTriggerEnabled,
		DefaultBatch:         c.Config.ExecutorBatch,
	}).Mount(r)

	(&controller.CampaignController{
		Validator:       c.Validator,
		CampaignService: c.CampaignService,
		Logger:          c.Logger.Named("http"),
	}).Mount(r)

	campaignHandler := handler.NewCampaignHandler(c.CampaignService, c.Logger.Named("http"))
	r.Get("/campaigns/{id}", campaignHandler.GetCampaignHandlerWithStats)

	return r, nil
}

// Close releases the broker and the database handle.
func (c *Container) Close() error {
	var errs []error
	if c.broker != nil {
		if closer, ok := c.broker.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("broker close: %w", err))
			}
		}
	}
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database close: %w", err))
		}
	}
	_ = c.Logger.Sync()
	return errors.Join(errs...)
}
