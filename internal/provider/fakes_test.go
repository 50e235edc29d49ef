package provider

import (
	"context"
	"sync"

	"github.com/kursadbilgin/callscreen/internal/automation"
	"github.com/kursadbilgin/callscreen/internal/domain"
)

type stubProvider struct {
	name   string
	initFn func(ctx context.Context) error
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Initialize(ctx context.Context) error {
	if p.initFn != nil {
		return p.initFn(ctx)
	}
	return nil
}

func (p *stubProvider) CheckNumber(context.Context, string) (domain.ProviderVerdict, error) {
	return domain.ProviderVerdict{Provider: p.name, Status: domain.StatusAllowed, Confidence: 1}, nil
}

func (p *stubProvider) IsHealthy(context.Context) bool { return true }

func (p *stubProvider) Cleanup(context.Context) error { return nil }

type fakeSession struct {
	mu          sync.Mutex
	id          string
	installs    int
	uninstalls  int
	installErr  error
	captureErr  error
	activeCalls string
	score       float64
}

func (s *fakeSession) ID() string { return s.id }

func (s *fakeSession) LockScreen(context.Context) error { return nil }

func (s *fakeSession) PlaceCall(context.Context, string) error { return nil }

func (s *fakeSession) CancelCall(context.Context, string) error { return nil }

func (s *fakeSession) CaptureScreen(context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.captureErr != nil {
		return nil, s.captureErr
	}
	return []byte("screen"), nil
}

func (s *fakeSession) ActiveCalls(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeCalls, nil
}

func (s *fakeSession) InstallApp(context.Context, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.installs++
	return s.installErr
}

func (s *fakeSession) ActivateApp(context.Context, string) error { return nil }

func (s *fakeSession) UninstallApp(context.Context, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uninstalls++
	return nil
}

func (s *fakeSession) Close(context.Context) error { return nil }

// Match lets the fake session double as the image matcher, like the Appium session.
func (s *fakeSession) Match(_ context.Context, _ []byte, ref []byte) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if string(ref) == "blocked" {
		return s.score, nil
	}
	return 0, nil
}

type fakeFactory struct {
	mu       sync.Mutex
	sessions []*fakeSession
	template fakeSession
}

func (f *fakeFactory) NewSession(ctx context.Context, slot int) (automation.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &fakeSession{
		id:          "session",
		installErr:  f.template.installErr,
		captureErr:  f.template.captureErr,
		activeCalls: f.template.activeCalls,
		score:       f.template.score,
	}
	f.sessions = append(f.sessions, s)
	return s, nil
}

func (f *fakeFactory) last() *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[len(f.sessions)-1]
}

type fakeRateLimiter struct {
	mu     sync.Mutex
	keys   []string
	waitFn func(ctx context.Context, key string) error
}

func (l *fakeRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return true, nil
}

func (l *fakeRateLimiter) Wait(ctx context.Context, key string) error {
	l.mu.Lock()
	l.keys = append(l.keys, key)
	l.mu.Unlock()
	if l.waitFn != nil {
		return l.waitFn(ctx, key)
	}
	return nil
}
