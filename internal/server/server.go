// Package server assembles the HTTP application from configuration.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"todo-tracker/internal/cache"
	"todo-tracker/internal/config"
	"todo-tracker/internal/database"
	"todo-tracker/internal/middleware"
	"todo-tracker/internal/monitoring"
	"todo-tracker/internal/realtime"
	"todo-tracker/internal/repositories"
	"todo-tracker/internal/services"
	"todo-tracker/internal/worker"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type App struct {
	Config      *config.Config
	Logger      *log.Logger
	Pool        *database.DatabasePool
	Redis       *redis.Client
	Hub         *realtime.Hub
	Relay       *realtime.RedisRelay
	Worker      *worker.Worker
	Cache       *cache.MultiLevelCache
	Accounts    *services.AccountDirectoryImpl
	Todos       services.TodoService
	Monitor     *monitoring.Monitor
	RateLimiter *middleware.RateLimiter

	engine *gin.Engine
	ctx    context.Context
	cancel context.CancelFunc
}

// New opens the database from cfg and builds the application.
func New(ctx context.Context, cfg *config.Config, logger *log.Logger) (*App, error) {
	pool, err := database.NewDatabasePool(database.PoolConfigFromConfig(cfg))
	if err != nil {
		return nil, err
	}
	if err := pool.Migrate(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	app, err := NewWithPool(ctx, cfg, pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return app, nil
}

// NewWithPool builds the application on an open, migrated pool. Redis is
// optional: without it fan-out stays in process, cleanup runs inline and the
// cache is memory only.
func NewWithPool(ctx context.Context, cfg *config.Config, pool *database.DatabasePool, logger *log.Logger) (*App, error) {
	appCtx, cancel := context.WithCancel(ctx)
	app := &App{
		Config:  cfg,
		Logger:  logger,
		Pool:    pool,
		Monitor: monitoring.NewMonitor(),
		ctx:     appCtx,
		cancel:  cancel,
	}

	blobs, err := services.NewLocalBlobStore(cfg.Blob)
	if err != nil {
		cancel()
		return nil, err
	}

	app.Accounts = services.NewAccountDirectory(pool.DB, cfg.Auth)
	app.Hub = realtime.NewHub(app.Accounts, realtime.OptionsFromConfig(cfg.Realtime, cfg.Server.AllowedOrigins), logger.WithPrefix("realtime"))

	var (
		broadcaster realtime.Broadcaster = app.Hub
		cleaner     services.AttachmentCleaner
		redisCache  *cache.RedisCache
	)

	if cfg.Redis.Enabled {
		app.Redis = cache.NewRedisClient(redisCacheConfig(cfg.Redis))

		pingCtx, pingCancel := context.WithTimeout(ctx, cfg.Redis.DialTimeout+time.Second)
		pingErr := app.Redis.Ping(pingCtx).Err()
		pingCancel()
		if pingErr != nil {
			logger.Warn("redis unreachable at startup, continuing with degraded features", "addr", cfg.GetRedisAddr(), "err", pingErr)
		}

		breaker := cache.NewCircuitBreaker(&cache.CircuitBreakerConfig{
			MaxFailures:      5,
			Timeout:          30 * time.Second,
			HalfOpenMaxCalls: 3,
			OnStateChange: func(from, to cache.CircuitBreakerState) {
				logger.Warn("redis circuit breaker changed state", "from", from, "to", to)
			},
		})
		redisCache = cache.NewRedisCache(app.Redis, breaker)

		relay := realtime.NewRedisRelay(app.Redis, cfg.Realtime.RelayChannel, app.Hub, logger.WithPrefix("relay"))
		if err := relay.Start(appCtx); err != nil {
			logger.Warn("realtime relay disabled, events stay on this instance", "err", err)
		} else {
			app.Relay = relay
			broadcaster = relay
		}

		queue := worker.NewJobQueue(app.Redis, cfg.Worker.MaxTries)
		cleaner = queue
		app.Worker = worker.NewWorker(worker.WorkerConfigFromConfig(app.Redis, cfg.Worker, logger))
		app.Worker.RegisterHandler(worker.JobTypeAttachmentCleanup, worker.AttachmentCleanupHandler(blobs, logger.WithPrefix("cleanup")))

		app.Monitor.RegisterHealthCheck("redis", func(ctx context.Context) error {
			return app.Redis.Ping(ctx).Err()
		})
	}

	todoService := services.NewTodoService(repositories.NewTodoRepository(pool.DB), services.TodoServiceConfig{
		Broadcaster:    broadcaster,
		Blobs:          blobs,
		Cleaner:        cleaner,
		Logger:         logger.WithPrefix("todos"),
		MaxAttachments: cfg.Blob.MaxFiles,
	})
	app.Todos = todoService

	if cfg.Cache.Enabled {
		app.Cache = cache.NewMultiLevelCache(redisCache, cache.NewCacheMetrics())
		cached := services.NewCachedTodoService(todoService, app.Cache, cfg.Cache.ListTTL, logger.WithPrefix("cache"))
		app.Todos = cached
		app.Monitor.RegisterStats("cache", cached.GetCacheStats)
	}

	if cfg.RateLimit.Enabled {
		app.RateLimiter = middleware.NewRateLimiter(cfg.RateLimit)
	}

	app.Monitor.RegisterHealthCheck("database", pool.HealthCheck)
	app.Monitor.RegisterStats("database", pool.Stats)
	app.Monitor.RegisterStats("websocket", app.Hub.Stats)

	app.engine = NewRouter(app)
	return app, nil
}

func redisCacheConfig(rc config.RedisConfig) *cache.CacheConfig {
	return &cache.CacheConfig{
		Addr:         fmt.Sprintf("%s:%s", rc.Host, rc.Port),
		Password:     rc.Password,
		DB:           rc.DB,
		PoolSize:     rc.PoolSize,
		MinIdleConns: rc.MinIdleConns,
		MaxRetries:   rc.MaxRetries,
		DialTimeout:  rc.DialTimeout,
		ReadTimeout:  rc.ReadTimeout,
		WriteTimeout: rc.WriteTimeout,
	}
}

func (a *App) Handler() http.Handler {
	return a.engine
}

// Start launches the background workers.
func (a *App) Start() {
	if a.Worker != nil {
		a.Worker.Start(a.Config.Worker.Concurrency)
	}
	if a.RateLimiter != nil {
		go a.RateLimiter.Run(a.ctx)
	}
}

// Run serves HTTP until ctx is done, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         a.Config.GetServerAddr(),
		Handler:      a.engine,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}

	a.Start()

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("http server listening", "addr", srv.Addr, "environment", a.Config.Server.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.Logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Hijacked websocket connections are not tracked by Shutdown.
	a.Hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// Close releases every resource the application opened.
func (a *App) Close() error {
	a.cancel()
	a.Hub.Close()

	var errs []error
	if a.Relay != nil {
		errs = append(errs, a.Relay.Close())
	}
	if a.Worker != nil {
		a.Worker.Stop()
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	errs = append(errs, a.Pool.Close())
	return errors.Join(errs...)
}
