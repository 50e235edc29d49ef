package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/callscreen/internal/device"
	"github.com/kursadbilgin/callscreen/internal/observability"
	"github.com/kursadbilgin/callscreen/internal/service"
	"github.com/redis/go-redis/v9"
)

const readinessTimeout = 2 * time.Second

// HealthReporter supplies the service health shown on /readyz.
type HealthReporter interface {
	HealthSnapshot(ctx context.Context) service.Health
}

// RegisterHealthRoutes mounts /livez and /readyz. rdb may be nil when no
// shared limiter is configured.
func RegisterHealthRoutes(app fiber.Router, health HealthReporter, rdb *redis.Client) {
	app.Get("/livez", LivezHandler())
	app.Get("/readyz", ReadyzHandler(health, rdb))
}

// DeviceStats supplies the per-device bookkeeping shown on /devicez.
type DeviceStats interface {
	Stats() device.Stats
}

func RegisterDeviceStatsRoute(app fiber.Router, devices DeviceStats) {
	app.Get("/devicez", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(devices.Stats())
	})
}

func RegisterMetricsRoute(app fiber.Router, metrics *observability.Metrics) {
	if metrics == nil {
		return
	}
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
}

func LivezHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ok",
		})
	}
}

func ReadyzHandler(health HealthReporter, rdb *redis.Client) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), readinessTimeout)
		defer cancel()

		snapshot := health.HealthSnapshot(ctx)

		redisStatus := "disabled"
		redisUp := true
		if rdb != nil {
			redisStatus = "ok"
			if err := rdb.Ping(ctx).Err(); err != nil {
				redisStatus = "down"
				redisUp = false
			}
		}

		serviceStatus := "ok"
		if !snapshot.Healthy {
			serviceStatus = "down"
		}

		status := "ready"
		statusCode := fiber.StatusOK
		if !snapshot.Healthy || !redisUp {
			status = "not_ready"
			statusCode = fiber.StatusServiceUnavailable
		}

		return c.Status(statusCode).JSON(fiber.Map{
			"status": status,
			"checks": fiber.Map{
				"service": serviceStatus,
				"redis":   redisStatus,
			},
			"providers": snapshot.Providers,
			"devices":   snapshot.Devices,
			"uptime":    snapshot.Uptime.Seconds(),
			"version":   snapshot.Version,
		})
	}
}
