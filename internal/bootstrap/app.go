// Package bootstrap wires configuration into the running services shared by
// the API server and the operator CLI.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/tripnest/booking-payments/internal/api/handlers"
	"github.com/tripnest/booking-payments/internal/api/middleware"
	"github.com/tripnest/booking-payments/internal/api/routes"
	"github.com/tripnest/booking-payments/internal/config"
	"github.com/tripnest/booking-payments/internal/domain/booking"
	"github.com/tripnest/booking-payments/internal/domain/catalog"
	"github.com/tripnest/booking-payments/internal/gateway"
	"github.com/tripnest/booking-payments/internal/gateway/cashfree"
	stripegw "github.com/tripnest/booking-payments/internal/gateway/stripe"
	"github.com/tripnest/booking-payments/internal/repository/memory"
	"github.com/tripnest/booking-payments/internal/repository/postgres"
	"github.com/tripnest/booking-payments/internal/service/cancellation"
	"github.com/tripnest/booking-payments/internal/service/dispatch"
	"github.com/tripnest/booking-payments/internal/service/orchestrator"
	"github.com/tripnest/booking-payments/internal/service/pricing"
	"github.com/tripnest/booking-payments/internal/service/reconciliation"
	"github.com/tripnest/booking-payments/pkg/cache"
	"github.com/tripnest/booking-payments/pkg/database"
	"github.com/tripnest/booking-payments/pkg/logger"
	"github.com/tripnest/booking-payments/pkg/monitoring"
	"github.com/tripnest/booking-payments/pkg/websocket"
	"golang.org/x/time/rate"
)

// App holds every long-lived dependency of the service
type App struct {
	Config  *config.Config
	Logger  *logger.Logger
	Metrics *monitoring.NewRelicApp

	DB    *sql.DB // nil with the memory storage driver
	Redis *redis.Client
	Queue *asynq.Client
	Hub   *websocket.Hub

	Bookings booking.Repository
	Catalog  catalog.Catalog
	Gateway  gateway.Client

	Dispatcher   *dispatch.Dispatcher
	Engine       *reconciliation.Engine
	Orchestrator *orchestrator.Service
	Cancellation *cancellation.Service

	generalLimit *middleware.RateLimiter
	webhookLimit *middleware.RateLimiter
	closers      []func() error
}

// New connects to storage, Redis and the payment gateway and builds the
// services. Call Close when done.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, metrics *monitoring.NewRelicApp) (*App, error) {
	if metrics == nil {
		metrics = monitoring.Disabled()
	}
	app := &App{Config: cfg, Logger: log, Metrics: metrics}

	if err := app.connect(ctx); err != nil {
		app.Close()
		return nil, err
	}

	gw, err := newGateway(cfg)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Gateway = gateway.NewInstrumented(gw, metrics, log)

	app.Hub = websocket.NewHub(log.Named("websocket"))
	app.Hub.SetAuthorizer(handlers.BookingSubscriptions(app.Bookings))
	app.Dispatcher = dispatch.NewDispatcher(app.Queue, dispatch.Config{
		MaxRetry:  cfg.Queue.MaxRetry,
		ParkDelay: cfg.Reconciliation.ParkDelay,
	}, log)

	app.Engine = reconciliation.NewEngine(
		app.Bookings,
		app.Gateway,
		app.Dispatcher,
		cache.NewClaimStore(app.Redis, "webhook", cfg.Cache.TTLWebhookDedupe),
		metrics,
		log,
	)
	app.Orchestrator = orchestrator.NewService(
		app.Bookings,
		app.Catalog,
		pricing.NewService(pricing.Config{
			PlatformFeePercent: cfg.Pricing.PlatformFeePercent,
			Currency:           cfg.Pricing.Currency,
		}),
		app.Gateway,
		app.Engine,
		metrics,
		orchestrator.Config{ReturnURL: cfg.Gateway.ReturnURL, NotifyURL: cfg.Gateway.NotifyURL},
		log,
	)
	app.Cancellation = cancellation.NewService(app.Bookings, app.Dispatcher, metrics, log)

	app.generalLimit = middleware.NewRateLimiter(
		middleware.PerMinute(cfg.RateLimit.GeneralPerMinute),
		max(cfg.RateLimit.GeneralPerMinute, 1),
	)
	app.webhookLimit = middleware.NewRateLimiter(
		rate.Limit(cfg.RateLimit.WebhookPerSecond),
		max(cfg.RateLimit.WebhookBurst, 1),
	)
	if cfg.RateLimit.WebhookPerSecond <= 0 {
		app.webhookLimit = nil
	}

	return app, nil
}

func (a *App) connect(ctx context.Context) error {
	cfg := a.Config

	rdb, err := cache.NewRedisClient(cache.Config{
		Host:        cfg.Redis.Host,
		Port:        cfg.Redis.Port,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		MaxRetries:  cfg.Redis.MaxRetries,
		PoolSize:    cfg.Redis.PoolSize,
		MinIdleConn: cfg.Redis.MinIdleConn,
		DialTimeout: cfg.Redis.DialTimeout,
		ReadTimeout: cfg.Redis.ReadTimeout,
	})
	if err != nil {
		return err
	}
	a.Redis = rdb
	a.closers = append(a.closers, func() error { return cache.Close(rdb) })
	a.Logger.Info("Connected to Redis successfully")

	a.Queue = asynq.NewClient(a.QueueRedis())
	a.closers = append(a.closers, a.Queue.Close)

	switch cfg.Storage.Driver {
	case "postgres":
		db, err := database.NewPostgresDB(database.Config{
			Host:        cfg.Database.Host,
			Port:        cfg.Database.Port,
			User:        cfg.Database.User,
			Password:    cfg.Database.Password,
			DBName:      cfg.Database.Name,
			SSLMode:     cfg.Database.SSLMode,
			MaxConns:    cfg.Database.MaxConnections,
			MaxIdle:     cfg.Database.MaxIdleConns,
			MaxLifetime: cfg.Database.MaxLifetime,
		})
		if err != nil {
			return err
		}
		a.DB = db
		a.closers = append(a.closers, db.Close)

		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
		a.Bookings = postgres.NewBookingRepository(db, cfg.Reconciliation.MaxVersionRetries, a.Logger)
		a.Catalog = postgres.NewCatalog(db)
		a.Logger.Info("Connected to PostgreSQL successfully")
	case "memory":
		a.Bookings = memory.NewBookingRepository()
		a.Catalog = memory.NewCatalog()
		a.Logger.Warn("Using in-memory storage; data is lost on restart")
	default:
		return fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
	return nil
}

func newGateway(cfg *config.Config) (gateway.Client, error) {
	switch cfg.Gateway.Provider {
	case "cashfree":
		return cashfree.NewClient(cashfree.Config{
			BaseURL:       cfg.Gateway.BaseURL,
			ClientID:      cfg.Gateway.ClientID,
			ClientSecret:  cfg.Gateway.ClientSecret,
			APIVersion:    cfg.Gateway.APIVersion,
			WebhookSecret: cfg.Gateway.WebhookSecret,
			Timeout:       cfg.Gateway.Timeout,
		}, nil), nil
	case "stripe":
		return stripegw.NewClient(stripegw.Config{
			SecretKey:     cfg.Stripe.SecretKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
		}), nil
	}
	return nil, fmt.Errorf("unknown payment provider %q", cfg.Gateway.Provider)
}

// QueueRedis returns the asynq connection, on its own Redis database
func (a *App) QueueRedis() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     fmt.Sprintf("%s:%s", a.Config.Redis.Host, a.Config.Redis.Port),
		Password: a.Config.Redis.Password,
		DB:       a.Config.Queue.RedisDB,
	}
}

// Worker builds the background task processor
func (a *App) Worker() *dispatch.Worker {
	return dispatch.NewWorker(a.QueueRedis(), dispatch.WorkerConfig{Concurrency: a.Config.Queue.Concurrency}, dispatch.Handlers{
		Bookings: a.Bookings,
		Invoices: dispatch.NewLogInvoiceGenerator(a.Logger),
		Notifier: dispatch.FanOut{
			dispatch.NewHubNotifier(a.Hub, a.Logger),
			dispatch.NewLogNotifier(a.Logger),
		},
		Reconcile: func(ctx context.Context, orderID string) error {
			_, err := a.Engine.ReconcileOrder(ctx, orderID)
			return err
		},
		Sweep: func(ctx context.Context, olderThan time.Duration, limit int) error {
			report, err := a.Engine.Sweep(ctx, olderThan, limit)
			if err != nil {
				return err
			}
			a.Logger.Info("Scheduled sweep finished",
				logger.Int("scanned", report.Scanned),
				logger.Int("errors", report.Errors),
			)
			return nil
		},
	}, a.Logger)
}

// Scheduler returns the periodic sweep scheduler, or nil when disabled
func (a *App) Scheduler() (*dispatch.Scheduler, error) {
	rc := a.Config.Reconciliation
	if rc.SweepInterval <= 0 {
		return nil, nil
	}
	return dispatch.NewScheduler(a.QueueRedis(), rc.SweepInterval, dispatch.SweepPayload{
		OlderThan: rc.SweepOlderThan,
		Limit:     rc.SweepBatchSize,
	}, a.Logger)
}

// Router builds the HTTP handler
func (a *App) Router() *gin.Engine {
	if a.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(a.Logger.Named("access")))

	checks := map[string]handlers.HealthCheck{
		"redis": func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() },
	}
	if a.DB != nil {
		checks["postgres"] = a.DB.PingContext
	}

	h := handlers.NewHandlers(handlers.Deps{
		Bookings:     a.Bookings,
		Orchestrator: a.Orchestrator,
		Reconciler:   a.Engine,
		Cancellation: a.Cancellation,
		Hub:          a.Hub,
		HealthChecks: checks,
		ReadBuffer:   a.Config.WebSocket.ReadBufferSize,
		WriteBuffer:  a.Config.WebSocket.WriteBufferSize,
		Logger:       a.Logger,
	})

	routes.SetupRoutes(r, h, a.Metrics.Application, routes.Options{
		Idempotency:   cache.NewIdempotencyStore(a.Redis, "create_booking", a.Config.Cache.TTLIdempotency),
		GeneralLimit:  a.generalLimit,
		WebhookLimit:  a.webhookLimit,
		StripeWebhook: a.Gateway.Name() == "stripe",
		Logger:        a.Logger,
	})
	return r
}

// RunBackground runs the websocket hub and periodic housekeeping until ctx
// is cancelled.
func (a *App) RunBackground(ctx context.Context) {
	go a.Hub.Run(ctx)

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if a.generalLimit != nil {
				a.generalLimit.Cleanup()
			}
			if a.webhookLimit != nil {
				a.webhookLimit.Cleanup()
			}
			if a.DB != nil {
				a.Metrics.RecordDatabasePoolStats(database.PoolStats(a.DB))
			}
			a.Metrics.RecordRedisPoolStats(cache.GetClientStats(a.Redis))
		}
	}
}

// Close releases connections in reverse order of creation
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("Failed to close resource", logger.Err(err))
		}
	}
	a.closers = nil
}
