package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/gateway"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/httpclient"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/orchestrator"
	"github.com/Ramsey-B/fern/pkg/ratelimit"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/retry"
	"github.com/Ramsey-B/fern/pkg/routes/health"
	"github.com/Ramsey-B/fern/pkg/routes/ingest"
	"github.com/Ramsey-B/fern/pkg/routes/representative"
	"github.com/Ramsey-B/fern/pkg/sources"
	"github.com/Ramsey-B/fern/pkg/startup"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("fern stopped")
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) (ectologger.Logger, error) {
	zapConfig := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zapConfig = zap.NewDevelopmentConfig()
	}

	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zapConfig.Level = level

	zapLogger, err := zapConfig.Build()
	if err != nil {
		return nil, err
	}
	return zapadapter.NewZapEctoLogger(zapLogger, nil), nil
}

// services holds what the startup dependencies connect
type services struct {
	db       database.DB
	redis    *redis.Client
	graph    *graph.Client
	producer *kafka.Producer
}

func run(ctx context.Context, cfg *config.Config, logger ectologger.Logger) error {
	shutdownTracing := tracing.Init(cfg.AppName, cfg.TraceSampleRatio)

	svc := &services{}
	boot := startup.New(logger, cfg.StartupMaxAttempts)
	registerDependencies(boot, cfg, svc, logger)

	if err := boot.Start(ctx); err != nil {
		return errors.Wrap(err, "failed to start dependencies")
	}

	orchCfg, err := cfg.Orchestrator()
	if err != nil {
		return err
	}

	store := gateway.New(svc.db, logger)
	registry, civic := buildRegistry(cfg, svc.redis, logger)

	opts := []orchestrator.Option{}
	if svc.redis != nil {
		opts = append(opts, orchestrator.WithLocker(redis.NewLocker(svc.redis, cfg.RedisKeyPrefix+":lock", cfg.ScopeLockTTL, cfg.ScopeLockWait)))
	}
	if svc.producer != nil {
		opts = append(opts, orchestrator.WithNotifier(events.NewEmitter(svc.producer, logger)))
	}

	var network representative.Neighborhoods
	if svc.graph != nil {
		opts = append(opts, orchestrator.WithProjector(graph.NewProjector(svc.graph, logger)))
		network = graph.NewQueryService(svc.graph, logger)
	}

	pipeline := orchestrator.New(orchCfg, store, registry, logger, opts...)

	checker := health.NewChecker(cfg.Version, cfg.HealthCheckTimeout).Require("database", store)
	if svc.redis != nil {
		checker.Optional("redis", svc.redis)
	}
	if svc.graph != nil {
		checker.Optional("graph", health.PingFunc(svc.graph.VerifyConnectivity))
	}

	e := newServer(cfg, logger)
	api := e.Group("/api/v1")
	checker.Register(api)
	ingest.NewHandler(pipeline, store, validator.New(), logger).Register(api)
	representative.NewHandler(store, civic, network, logger).Register(api)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           e,
		ReadTimeout:       time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Infof("Starting %s on %s", cfg.AppName, server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	checker.SetReady(true)

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			logger.WithError(err).Error("HTTP server failed")
		}
	}

	checker.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Failed to shut down HTTP server")
	}
	if err := boot.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("Failed to stop dependencies")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Failed to flush traces")
	}
	return nil
}

func registerDependencies(boot *startup.Startup, cfg *config.Config, svc *services, logger ectologger.Logger) {
	boot.Add(startup.Func{
		Name: "database",
		OnStart: func(ctx context.Context) error {
			db, err := database.Connect(ctx, cfg.Database(), logger)
			if err != nil {
				return err
			}
			svc.db = db
			return nil
		},
		OnStop: func(context.Context) error {
			return svc.db.Close()
		},
	})

	boot.Add(startup.Func{
		Name:     "migrations",
		Requires: []string{"database"},
		OnStart: func(context.Context) error {
			instance, ok := svc.db.(*database.DatabaseInstance)
			if !ok {
				return retry.Permanent(errors.New("migrations need a *sqlx.DB connection"))
			}
			return database.NewMigrationService(logger, cfg.Migration()).MigratePostgres(instance.DB)
		},
	})

	if cfg.RedisEnabled {
		boot.Add(startup.Func{
			Name: "redis",
			OnStart: func(ctx context.Context) error {
				client, err := redis.NewClient(ctx, cfg.Redis(), logger)
				if err != nil {
					return err
				}
				svc.redis = client
				return nil
			},
			OnStop: func(context.Context) error {
				return svc.redis.Close()
			},
		})
	}

	if cfg.GraphDBEnabled {
		boot.Add(startup.Func{
			Name: "graph",
			OnStart: func(ctx context.Context) error {
				client, err := graph.NewClient(cfg.Graph(), logger)
				if err != nil {
					return err
				}
				if err := client.VerifyConnectivity(ctx); err != nil {
					_ = client.Close(ctx)
					return err
				}
				svc.graph = client
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return svc.graph.Close(ctx)
			},
		})
	}

	if cfg.KafkaEnabled {
		boot.Add(startup.Func{
			Name: "kafka",
			OnStart: func(context.Context) error {
				svc.producer = kafka.NewProducer(cfg.Producer(), logger)
				return nil
			},
			OnStop: func(context.Context) error {
				return svc.producer.Close()
			},
		})
	}
}

// buildRegistry wires every enabled source behind its token bucket and, when
// Redis is available, its daily quota
func buildRegistry(cfg *config.Config, rdb *redis.Client, logger ectologger.Logger) (*sources.Registry, representative.DivisionLookup) {
	client := httpclient.NewClient(cfg.HTTPClient(), logger)
	registry := sources.NewRegistry()

	var limiter *redis.RateLimiter
	if rdb != nil {
		limiter = redis.NewRateLimiter(rdb, cfg.RedisKeyPrefix+":quota")
	}

	gate := func(source models.Source) (sources.Config, ratelimit.Gate, bool) {
		settings := cfg.Source(source)
		if !settings.Enabled {
			return settings.Adapter, nil, false
		}

		gates := []ratelimit.Gate{ratelimit.NewTokenBucket(settings.RPS, settings.Burst)}
		if limiter != nil && settings.DailyQuota > 0 {
			gates = append(gates, ratelimit.NewQuota(limiter, ratelimit.QuotaConfig{
				Key:     string(source),
				Limit:   settings.DailyQuota,
				Window:  cfg.QuotaWindow,
				MaxWait: cfg.QuotaMaxWait,
			}, logger))
		}
		return settings.Adapter, ratelimit.Chain(gates...), true
	}

	if adapterCfg, g, ok := gate(models.SourceCongress); ok {
		registry.Register(sources.NewCongressAdapter(adapterCfg, client, g, logger))
	}
	if adapterCfg, g, ok := gate(models.SourceOpenStates); ok {
		registry.Register(sources.NewOpenStatesAdapter(adapterCfg, client, g, logger))
	}
	if adapterCfg, g, ok := gate(models.SourceFEC); ok {
		registry.Register(sources.NewFECAdapter(adapterCfg, client, g, logger))
	}

	var lookup representative.DivisionLookup
	if adapterCfg, g, ok := gate(models.SourceCivic); ok {
		civic := sources.NewCivicAdapter(adapterCfg, client, g, logger)
		registry.Register(civic)
		lookup = civic
	}
	if adapterCfg, g, ok := gate(models.SourceWikipedia); ok {
		registry.RegisterEnricher(sources.NewWikipediaEnricher(adapterCfg, client, g, logger))
	}

	return registry, lookup
}

func newServer(cfg *config.Config, logger ectologger.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(logger)

	e.Use(echomiddleware.Recover())
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
	}))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	return e
}
