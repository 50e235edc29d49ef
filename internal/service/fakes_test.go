package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kursadbilgin/callscreen/internal/domain"
	"github.com/kursadbilgin/callscreen/internal/provider"
)

type fakeProvider struct {
	name      string
	checkFn   func(ctx context.Context, phoneNumber string) (domain.ProviderVerdict, error)
	healthy   atomic.Bool
	calls     atomic.Int32
	cleanedUp atomic.Int32
}

func newFakeProvider(name string, checkFn func(ctx context.Context, phoneNumber string) (domain.ProviderVerdict, error)) *fakeProvider {
	p := &fakeProvider{name: name, checkFn: checkFn}
	p.healthy.Store(true)
	return p
}

func fixedVerdict(name string, status domain.Status, confidence float64) *fakeProvider {
	return newFakeProvider(name, func(ctx context.Context, phoneNumber string) (domain.ProviderVerdict, error) {
		return domain.ProviderVerdict{Provider: name, Status: status, Confidence: confidence, ResponseTime: 0.01}, nil
	})
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Initialize(ctx context.Context) error { return nil }

func (p *fakeProvider) CheckNumber(ctx context.Context, phoneNumber string) (domain.ProviderVerdict, error) {
	p.calls.Add(1)
	return p.checkFn(ctx, phoneNumber)
}

func (p *fakeProvider) IsHealthy(ctx context.Context) bool { return p.healthy.Load() }

func (p *fakeProvider) Cleanup(ctx context.Context) error {
	p.cleanedUp.Add(1)
	return nil
}

func newTestRegistry(t *testing.T, providers ...provider.Provider) *provider.Registry {
	t.Helper()

	registry := provider.NewRegistry(nil)
	for _, p := range providers {
		if err := registry.Register(p); err != nil {
			t.Fatalf("Register(%s) error = %v", p.Name(), err)
		}
	}
	return registry
}

func newTestOrchestrator(t *testing.T, providers ...provider.Provider) *Orchestrator {
	t.Helper()

	o, err := NewOrchestrator(newTestRegistry(t, providers...), OrchestratorOptions{
		DefaultTimeout: time.Second,
		MinTimeout:     time.Millisecond,
		MaxTimeout:     10 * time.Second,
	}, nil)
	if err != nil {
		t.Fatalf("NewOrchestrator() error = %v", err)
	}
	return o
}

type fakeChecker struct {
	validateFn func(req domain.CheckRequest) (domain.CheckRequest, error)
	checkFn    func(ctx context.Context, req domain.CheckRequest) (*domain.CheckResult, error)

	mu      sync.Mutex
	checked []string
}

func (c *fakeChecker) Validate(req domain.CheckRequest) (domain.CheckRequest, error) {
	if c.validateFn != nil {
		return c.validateFn(req)
	}
	phone, err := domain.NormalizePhoneNumber(req.PhoneNumber)
	if err != nil {
		return domain.CheckRequest{}, err
	}
	req.PhoneNumber = phone
	return req, nil
}

func (c *fakeChecker) Check(ctx context.Context, req domain.CheckRequest) (*domain.CheckResult, error) {
	c.mu.Lock()
	c.checked = append(c.checked, req.PhoneNumber)
	c.mu.Unlock()

	if c.checkFn != nil {
		return c.checkFn(ctx, req)
	}
	return &domain.CheckResult{
		PhoneNumber:       req.PhoneNumber,
		OverallStatus:     domain.StatusAllowed,
		OverallConfidence: 0.9,
	}, nil
}

type fakeDevices map[string]bool

func (d fakeDevices) HealthSnapshot() map[string]bool { return d }

func checkRequests(n int) []domain.CheckRequest {
	requests := make([]domain.CheckRequest, n)
	for i := range requests {
		requests[i] = domain.CheckRequest{PhoneNumber: "+1415555" + pad4(i)}
	}
	return requests
}

func pad4(i int) string {
	digits := []byte{'0', '0', '0', '0'}
	for pos := 3; pos >= 0 && i > 0; pos-- {
		digits[pos] = byte('0' + i%10)
		i /= 10
	}
	return string(digits)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
