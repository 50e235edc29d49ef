package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	MaxDevices          int           `env:"MAX_DEVICES,default=1"`
	DeviceUDIDs         string        `env:"DEVICE_UDIDS"`
	PlatformVersion     string        `env:"ANDROID_PLATFORM_VERSION"`
	HeadlessDevices     bool          `env:"HEADLESS_DEVICES,default=true"`
	DefaultTimeout      time.Duration `env:"DEFAULT_TIMEOUT,default=30s"`
	EnabledProviders    string        `env:"ENABLED_PROVIDERS,default=mock"`
	AppiumServerURL     string        `env:"APPIUM_SERVER_URL,default=http://localhost:4723"`
	APKDir              string        `env:"APK_DIRECTORY,default=apks"`
	ReferenceImagesDir  string        `env:"REFERENCE_IMAGES_DIR,default=reference_images"`
	OutputDir           string        `env:"OUTPUT_DIR,default=out"`
	AccuracyThreshold   float64       `env:"ACCURACY_THRESHOLD,default=0.95"`
	CallSettleDelay     time.Duration `env:"CALL_SETTLE_DELAY,default=1s"`
	AcquireTimeout      time.Duration `env:"DEVICE_ACQUIRE_TIMEOUT,default=60s"`
	IdleThreshold       time.Duration `env:"IDLE_THRESHOLD,default=5m"`
	ReclaimInterval     time.Duration `env:"RECLAIM_INTERVAL,default=60s"`
	QuarantineThreshold int           `env:"QUARANTINE_THRESHOLD,default=3"`
	MaxBatchSize        int           `env:"MAX_BATCH_SIZE,default=100"`
	BatchConcurrency    int           `env:"BATCH_CONCURRENCY,default=1"`
	JobRetention        time.Duration `env:"JOB_RETENTION,default=1h"`
	CallRateLimitPerSec int           `env:"CALL_RATE_LIMIT_PER_SEC,default=1"`
	RedisURL            string        `env:"REDIS_URL"`
	SimulatedMinWait    time.Duration `env:"SIMULATED_MIN_WAIT,default=1s"`
	SimulatedMaxWait    time.Duration `env:"SIMULATED_MAX_WAIT,default=3s"`
	OpsPort             int           `env:"OPS_PORT,default=8000"`
	LogLevel            string        `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate reports every out-of-range setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.MaxDevices < 1 {
		errs = append(errs, fmt.Errorf("MAX_DEVICES must be at least 1, got %d", c.MaxDevices))
	}
	if c.DefaultTimeout < 5*time.Second || c.DefaultTimeout > 300*time.Second {
		errs = append(errs, fmt.Errorf("DEFAULT_TIMEOUT must be within [5s, 300s], got %s", c.DefaultTimeout))
	}
	if len(c.ProviderNames()) == 0 {
		errs = append(errs, errors.New("ENABLED_PROVIDERS must name at least one provider"))
	}
	if c.AccuracyThreshold <= 0 || c.AccuracyThreshold > 1 {
		errs = append(errs, fmt.Errorf("ACCURACY_THRESHOLD must be within (0, 1], got %v", c.AccuracyThreshold))
	}
	if c.QuarantineThreshold < 1 {
		errs = append(errs, fmt.Errorf("QUARANTINE_THRESHOLD must be at least 1, got %d", c.QuarantineThreshold))
	}
	if c.MaxBatchSize < 1 || c.MaxBatchSize > 100 {
		errs = append(errs, fmt.Errorf("MAX_BATCH_SIZE must be within [1, 100], got %d", c.MaxBatchSize))
	}
	if c.BatchConcurrency < 1 {
		errs = append(errs, fmt.Errorf("BATCH_CONCURRENCY must be at least 1, got %d", c.BatchConcurrency))
	}
	if c.SimulatedMaxWait < c.SimulatedMinWait {
		errs = append(errs, fmt.Errorf("SIMULATED_MAX_WAIT %s is below SIMULATED_MIN_WAIT %s", c.SimulatedMaxWait, c.SimulatedMinWait))
	}
	return errors.Join(errs...)
}

// ProviderNames returns the enabled providers, lowercased and deduplicated.
func (c *Config) ProviderNames() []string {
	return splitList(c.EnabledProviders, strings.ToLower)
}

// DeviceUDIDList returns the device serials pinned to pool slots, in slot order.
func (c *Config) DeviceUDIDList() []string {
	return splitList(c.DeviceUDIDs, nil)
}

func splitList(raw string, normalize func(string) string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		item := strings.TrimSpace(part)
		if normalize != nil {
			item = normalize(item)
		}
		if item == "" {
			continue
		}
		if _, dup := seen[item]; dup {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
