package provider

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kursadbilgin/callscreen/internal/domain"
	"go.uber.org/zap"
)

const (
	SimulatedName           = "mock"
	defaultSimulatedMinWait = time.Second
	defaultSimulatedMaxWait = 3 * time.Second
)

var _ Provider = (*SimulatedProvider)(nil)

type SimulatedOptions struct {
	Name    string
	MinWait time.Duration
	MaxWait time.Duration
	Seed    int64
}

// SimulatedProvider answers from fixed number patterns without touching a device.
type SimulatedProvider struct {
	name        string
	minWait     time.Duration
	maxWait     time.Duration
	logger      *zap.Logger
	initialized atomic.Bool

	mu    sync.Mutex
	rng   *rand.Rand
	sleep func(ctx context.Context, d time.Duration) error
}

func NewSimulatedProvider(opts SimulatedOptions, logger *zap.Logger) *SimulatedProvider {
	name := strings.ToLower(strings.TrimSpace(opts.Name))
	if name == "" {
		name = SimulatedName
	}
	if opts.MinWait < 0 {
		opts.MinWait = 0
	}
	if opts.MaxWait < opts.MinWait {
		opts.MaxWait = opts.MinWait
	}
	if opts.MinWait == 0 && opts.MaxWait == 0 {
		opts.MinWait, opts.MaxWait = defaultSimulatedMinWait, defaultSimulatedMaxWait
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SimulatedProvider{
		name:    name,
		minWait: opts.MinWait,
		maxWait: opts.MaxWait,
		logger:  logger.With(zap.String("provider", name)),
		rng:     rand.New(rand.NewSource(seed)),
		sleep:   sleepWithContext,
	}
}

func (p *SimulatedProvider) Name() string { return p.name }

func (p *SimulatedProvider) Initialize(ctx context.Context) error {
	p.initialized.Store(true)
	p.logger.Info("simulated provider initialized")
	return nil
}

func (p *SimulatedProvider) CheckNumber(ctx context.Context, phoneNumber string) (domain.ProviderVerdict, error) {
	if !p.initialized.Load() {
		return domain.ProviderVerdict{}, &ProviderError{Provider: p.name, Message: "provider not initialized"}
	}

	wait, randomStatus, randomConfidence := p.draw()
	if err := p.sleep(ctx, wait); err != nil {
		return domain.ProviderVerdict{}, &ProviderError{Provider: p.name, Message: "check interrupted", Cause: err}
	}

	status, confidence := classifyPattern(phoneNumber)
	if status == "" {
		status, confidence = randomStatus, randomConfidence
	}

	pattern := phoneNumber
	if len(pattern) > 4 {
		pattern = pattern[len(pattern)-4:]
	}

	return domain.ProviderVerdict{
		Provider:     p.name,
		Status:       status,
		Confidence:   confidence,
		ResponseTime: wait.Seconds(),
		RawData: map[string]any{
			"mock_result":   true,
			"phone_pattern": pattern,
			"simulated":     true,
		},
	}, nil
}

// draw takes every random value a check needs under one lock.
func (p *SimulatedProvider) draw() (time.Duration, domain.Status, float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	wait := p.minWait
	if span := p.maxWait - p.minWait; span > 0 {
		wait += time.Duration(p.rng.Int63n(int64(span)))
	}
	statuses := []domain.Status{domain.StatusAllowed, domain.StatusBlocked, domain.StatusCaution}
	status := statuses[p.rng.Intn(len(statuses))]
	confidence := 0.6 + p.rng.Float64()*0.35

	return wait, status, confidence
}

// classifyPattern applies the fixed rules. An empty status means no rule matched.
func classifyPattern(phoneNumber string) (domain.Status, float64) {
	switch {
	case strings.HasSuffix(phoneNumber, "0000"):
		return domain.StatusBlocked, 0.95
	case strings.HasSuffix(phoneNumber, "1111"):
		return domain.StatusCaution, 0.75
	case strings.HasPrefix(phoneNumber, "+1"):
		return domain.StatusAllowed, 0.85
	}
	return "", 0
}

func (p *SimulatedProvider) IsHealthy(ctx context.Context) bool {
	return p.initialized.Load()
}

func (p *SimulatedProvider) Cleanup(ctx context.Context) error {
	p.initialized.Store(false)
	p.logger.Info("simulated provider cleaned up")
	return nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
