package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/callscreen/internal/automation"
	"github.com/kursadbilgin/callscreen/internal/automation/appium"
	"github.com/kursadbilgin/callscreen/internal/classifier"
	"github.com/kursadbilgin/callscreen/internal/config"
	"github.com/kursadbilgin/callscreen/internal/device"
	"github.com/kursadbilgin/callscreen/internal/handler"
	infraredis "github.com/kursadbilgin/callscreen/internal/infra/redis"
	"github.com/kursadbilgin/callscreen/internal/observability"
	"github.com/kursadbilgin/callscreen/internal/provider"
	"github.com/kursadbilgin/callscreen/internal/ratelimit"
	"github.com/kursadbilgin/callscreen/internal/service"
	"github.com/kursadbilgin/callscreen/internal/transport"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("callscreen stopped with error", zap.Error(err))
	}
	logger.Info("callscreen stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	metrics := observability.NewMetrics()

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		client, err := infraredis.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis initialization failed: %w", err)
		}
		rdb = client
		defer rdb.Close()
	}

	limiter, err := newCallLimiter(cfg, rdb)
	if err != nil {
		return err
	}

	pool, err := newDevicePool(cfg, logger)
	if err != nil {
		return err
	}
	pool.SetMetrics(metrics)

	registry, err := newRegistry(cfg, pool, limiter, logger)
	if err != nil {
		return err
	}
	if err := registry.InitializeAll(ctx); err != nil {
		logger.Warn("some providers failed to initialize", zap.Error(err))
	}

	orchestrator, err := service.NewOrchestrator(registry, service.OrchestratorOptions{
		DefaultTimeout: cfg.DefaultTimeout,
	}, logger)
	if err != nil {
		return err
	}
	orchestrator.SetMetrics(metrics)

	tracker, err := service.NewBatchTracker(orchestrator, service.TrackerOptions{
		MaxBatchSize: cfg.MaxBatchSize,
		Concurrency:  cfg.BatchConcurrency,
		Retention:    cfg.JobRetention,
	}, logger)
	if err != nil {
		return err
	}
	tracker.SetMetrics(metrics)

	svc, err := service.NewService(orchestrator, tracker, registry, pool, logger)
	if err != nil {
		return err
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          transport.ErrorHandler(logger),
		DisableStartupMessage: true,
	})
	app.Use(metrics.HTTPMiddleware())
	handler.RegisterHealthRoutes(app, svc, rdb)
	handler.RegisterDeviceStatsRoute(app, pool)
	handler.RegisterMetricsRoute(app, metrics)

	logger.Info("callscreen started",
		zap.Int("port", cfg.OpsPort),
		zap.Strings("providers", registry.Names()),
		zap.Int("devices", pool.Capacity()),
	)

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Start(groupCtx) })
	g.Go(func() error { return tracker.RunJanitor(groupCtx) })
	g.Go(func() error {
		if err := app.Listen(":" + strconv.Itoa(cfg.OpsPort)); err != nil {
			return fmt.Errorf("ops server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-groupCtx.Done()
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	closeErr := errors.Join(svc.Close(shutdownCtx), pool.Close(shutdownCtx))
	if closeErr != nil {
		logger.Error("shutdown cleanup failed", zap.Error(closeErr))
	}
	return runErr
}

// newCallLimiter shares the call budget through Redis when configured and
// falls back to an in-process limiter otherwise.
func newCallLimiter(cfg *config.Config, rdb *redis.Client) (ratelimit.RateLimiter, error) {
	if rdb == nil {
		return ratelimit.NewLocalRateLimiter(float64(cfg.CallRateLimitPerSec), 1), nil
	}
	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.CallRateLimitPerSec)
	if err != nil {
		return nil, fmt.Errorf("redis rate limiter initialization failed: %w", err)
	}
	return limiter, nil
}

func newDevicePool(cfg *config.Config, logger *zap.Logger) (*device.Pool, error) {
	factory, err := appium.NewFactory(appium.FactoryConfig{
		ServerURL:       cfg.AppiumServerURL,
		APKDir:          cfg.APKDir,
		PlatformVersion: cfg.PlatformVersion,
		DeviceUDIDs:     cfg.DeviceUDIDList(),
		Headless:        cfg.HeadlessDevices,
	}, resty.New(), logger)
	if err != nil {
		return nil, fmt.Errorf("appium factory initialization failed: %w", err)
	}

	pool, err := device.NewPool(factory, device.Options{
		Capacity:            cfg.MaxDevices,
		QuarantineThreshold: cfg.QuarantineThreshold,
		IdleThreshold:       cfg.IdleThreshold,
		ReclaimInterval:     cfg.ReclaimInterval,
		AcquireTimeout:      cfg.AcquireTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("device pool initialization failed: %w", err)
	}
	return pool, nil
}

func newRegistry(
	cfg *config.Config,
	pool *device.Pool,
	limiter ratelimit.RateLimiter,
	logger *zap.Logger,
) (*provider.Registry, error) {
	sink, err := automation.NewFileSink(cfg.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("artifact sink initialization failed: %w", err)
	}

	registry := provider.NewRegistry(logger)
	automated := 0
	for _, name := range cfg.ProviderNames() {
		p, err := newProvider(cfg, name, pool, limiter, sink, logger)
		if err != nil {
			return nil, err
		}
		if _, ok := p.(*provider.AutomationProvider); ok {
			automated++
		}
		if err := registry.Register(p); err != nil {
			return nil, err
		}
	}

	if automated > pool.Capacity() {
		logger.Warn("more device-backed providers than devices, some will wait for a lease",
			zap.Int("providers", automated),
			zap.Int("devices", pool.Capacity()),
		)
	}
	return registry, nil
}

func newProvider(
	cfg *config.Config,
	name string,
	pool *device.Pool,
	limiter ratelimit.RateLimiter,
	sink automation.ArtifactSink,
	logger *zap.Logger,
) (provider.Provider, error) {
	if name == provider.SimulatedName {
		return provider.NewSimulatedProvider(provider.SimulatedOptions{
			MinWait: cfg.SimulatedMinWait,
			MaxWait: cfg.SimulatedMaxWait,
		}, logger), nil
	}

	app, err := provider.LookupApp(name)
	if err != nil {
		return nil, err
	}

	classifierCfg := classifier.Config{
		Mode:        classifier.ModeVisual,
		Threshold:   cfg.AccuracyThreshold,
		SettleDelay: cfg.CallSettleDelay,
	}
	if !app.TerminatesBlockedCalls {
		refs, err := classifier.LoadReferences(filepath.Clean(cfg.ReferenceImagesDir), app.Package)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", app.Name, err)
		}
		classifierCfg.References = refs
	}

	return provider.NewAutomationProvider(provider.AutomationConfig{
		App:            app,
		AcquireTimeout: cfg.AcquireTimeout,
		Classifier:     classifierCfg,
		Sink:           sink,
	}, pool, limiter, logger)
}
