package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kursadbilgin/callscreen/internal/automation"
	"github.com/kursadbilgin/callscreen/internal/classifier"
	"github.com/kursadbilgin/callscreen/internal/device"
	"github.com/kursadbilgin/callscreen/internal/domain"
	"github.com/kursadbilgin/callscreen/internal/ratelimit"
	"go.uber.org/zap"
)

const (
	defaultAcquireTimeout = 60 * time.Second
	cleanupTimeout        = 30 * time.Second
)

var _ Provider = (*AutomationProvider)(nil)

// DevicePool is the slice of device.Pool a provider needs.
type DevicePool interface {
	Acquire(ctx context.Context, timeout time.Duration) (*device.Lease, error)
	Release(lease *device.Lease) error
	ReportError(lease *device.Lease, reason error) error
	HealthSnapshot() map[string]bool
}

// SetupFunc prepares an app on a freshly leased device.
type SetupFunc func(ctx context.Context, session automation.Session, app App) error

// InstallAndActivate installs the app's apk and brings it to the foreground once.
func InstallAndActivate(ctx context.Context, session automation.Session, app App) error {
	if err := session.InstallApp(ctx, app.Package); err != nil {
		return fmt.Errorf("install %s: %w", app.Package, err)
	}
	if err := session.ActivateApp(ctx, app.Package); err != nil {
		return fmt.Errorf("activate %s: %w", app.Package, err)
	}
	return nil
}

// AutomationConfig configures an AutomationProvider. Matcher overrides the
// session's own image matching when set.
type AutomationConfig struct {
	App            App
	AcquireTimeout time.Duration
	Classifier     classifier.Config
	Matcher        automation.ImageMatcher
	Sink           automation.ArtifactSink
	Setup          SetupFunc
}

// AutomationProvider checks numbers by driving one app on one leased device.
// Checks are serialized because the provider owns a single device.
type AutomationProvider struct {
	app     App
	pool    DevicePool
	limiter ratelimit.RateLimiter
	cfg     AutomationConfig
	logger  *zap.Logger
	now     func() time.Time

	checkMu    sync.Mutex
	lease      *device.Lease
	classifier *classifier.Classifier
	setupDone  bool

	stateMu  sync.RWMutex
	deviceID string
	closed   bool
}

func NewAutomationProvider(cfg AutomationConfig, pool DevicePool, limiter ratelimit.RateLimiter, logger *zap.Logger) (*AutomationProvider, error) {
	if pool == nil {
		return nil, fmt.Errorf("device pool is required")
	}
	if cfg.App.Name == "" || cfg.App.Package == "" {
		return nil, fmt.Errorf("%w: app name and package are required", domain.ErrValidation)
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = defaultAcquireTimeout
	}
	if cfg.Setup == nil {
		cfg.Setup = InstallAndActivate
	}
	if cfg.App.TerminatesBlockedCalls {
		cfg.Classifier.Mode = classifier.ModeCallState
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AutomationProvider{
		app:     cfg.App,
		pool:    pool,
		limiter: limiter,
		cfg:     cfg,
		logger:  logger.With(zap.String("provider", cfg.App.Name)),
		now:     time.Now,
	}, nil
}

func (p *AutomationProvider) Name() string { return p.app.Name }

// Initialize leases the provider's device. App setup is deferred to the first check.
func (p *AutomationProvider) Initialize(ctx context.Context) error {
	p.checkMu.Lock()
	defer p.checkMu.Unlock()

	return p.ensureLeaseLocked(ctx)
}

func (p *AutomationProvider) ensureLeaseLocked(ctx context.Context) error {
	if p.lease != nil {
		return nil
	}
	if p.isClosed() {
		return fmt.Errorf("%w: provider %s is cleaned up", domain.ErrConflict, p.app.Name)
	}

	lease, err := p.pool.Acquire(ctx, p.cfg.AcquireTimeout)
	if err != nil {
		return err
	}

	cls, err := p.newClassifier(lease.Session())
	if err != nil {
		_ = p.pool.Release(lease)
		return err
	}

	p.lease = lease
	p.classifier = cls
	p.setupDone = false
	p.setDeviceID(lease.DeviceID())

	p.logger.Info("provider device leased", zap.String("deviceId", lease.DeviceID()))
	return nil
}

func (p *AutomationProvider) newClassifier(session automation.Session) (*classifier.Classifier, error) {
	matcher := p.cfg.Matcher
	if matcher == nil {
		if m, ok := session.(automation.ImageMatcher); ok {
			matcher = m
		}
	}
	return classifier.New(p.cfg.Classifier, matcher, p.cfg.Sink, p.logger)
}

// CheckNumber classifies one call. A device fault ends the lease and the
// next check leases a device again.
func (p *AutomationProvider) CheckNumber(ctx context.Context, phoneNumber string) (domain.ProviderVerdict, error) {
	p.checkMu.Lock()
	defer p.checkMu.Unlock()

	start := p.now()
	if err := p.ensureLeaseLocked(ctx); err != nil {
		return domain.ProviderVerdict{}, p.wrap("device lease failed", err)
	}

	session := p.lease.Session()
	if !p.setupDone {
		if err := p.cfg.Setup(ctx, session, p.app); err != nil {
			p.logger.Warn("app setup failed, continuing", zap.Error(err))
		}
		// A canceled check retries setup on the next call.
		if ctx.Err() == nil {
			p.setupDone = true
		}
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx, p.app.Name); err != nil {
			return domain.ProviderVerdict{}, p.wrap("call rate limit wait failed", err)
		}
	}

	outcome, err := p.classifier.Classify(ctx, session, p.app.Package, phoneNumber)
	if err != nil {
		if IsDeviceFault(err) {
			p.dropLeaseLocked(err)
		}
		return domain.ProviderVerdict{}, p.wrap("classification failed", err)
	}

	return domain.ProviderVerdict{
		Provider:     p.app.Name,
		Status:       outcome.Status,
		Confidence:   outcome.Confidence,
		ResponseTime: p.now().Sub(start).Seconds(),
		RawData: map[string]any{
			"app_package":    p.app.Package,
			"device_id":      p.lease.DeviceID(),
			"mode":           p.cfg.Classifier.Mode.String(),
			"observed_state": string(outcome.State),
			"observe_time":   outcome.Elapsed.Seconds(),
		},
	}, nil
}

func (p *AutomationProvider) dropLeaseLocked(reason error) {
	if p.lease == nil {
		return
	}
	deviceID := p.lease.DeviceID()
	if err := p.pool.ReportError(p.lease, reason); err != nil {
		p.logger.Warn("failed to report device error", zap.String("deviceId", deviceID), zap.Error(err))
	}
	p.lease = nil
	p.classifier = nil
	p.setupDone = false
	p.setDeviceID("")
	p.logger.Warn("provider dropped faulted device", zap.String("deviceId", deviceID), zap.Error(reason))
}

// IsHealthy is true only while the pool still reports the leased device healthy.
// Without a lease the provider is healthy if any device could serve it.
func (p *AutomationProvider) IsHealthy(ctx context.Context) bool {
	if ctx != nil && ctx.Err() != nil {
		return false
	}

	p.stateMu.RLock()
	deviceID, closed := p.deviceID, p.closed
	p.stateMu.RUnlock()
	if closed {
		return false
	}

	snapshot := p.pool.HealthSnapshot()
	if deviceID != "" {
		return snapshot[deviceID]
	}
	for _, healthy := range snapshot {
		if healthy {
			return true
		}
	}
	return false
}

// Cleanup uninstalls the app and returns the device. Later calls are no-ops.
func (p *AutomationProvider) Cleanup(ctx context.Context) error {
	p.stateMu.Lock()
	if p.closed {
		p.stateMu.Unlock()
		return nil
	}
	p.closed = true
	p.stateMu.Unlock()

	p.checkMu.Lock()
	defer p.checkMu.Unlock()

	if p.lease == nil {
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	var errs []error
	if p.setupDone {
		if err := p.lease.Session().UninstallApp(ctx, p.app.Package); err != nil {
			p.logger.Warn("failed to uninstall app", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if err := p.pool.Release(p.lease); err != nil {
		errs = append(errs, err)
	}

	p.lease = nil
	p.classifier = nil
	p.setupDone = false
	p.setDeviceID("")

	return errors.Join(errs...)
}

func (p *AutomationProvider) isClosed() bool {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	return p.closed
}

func (p *AutomationProvider) setDeviceID(id string) {
	p.stateMu.Lock()
	p.deviceID = id
	p.stateMu.Unlock()
}

func (p *AutomationProvider) wrap(message string, err error) error {
	return &ProviderError{
		Provider:    p.app.Name,
		Message:     message,
		DeviceFault: IsDeviceFault(err),
		Cause:       err,
	}
}
