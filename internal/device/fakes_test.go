package device

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kursadbilgin/callscreen/internal/automation"
)

type fakeSession struct {
	id     string
	closed atomic.Int32
}

func (s *fakeSession) ID() string { return s.id }
func (s *fakeSession) LockScreen(context.Context) error { return nil }
func (s *fakeSession) PlaceCall(context.Context, string) error { return nil }
func (s *fakeSession) CancelCall(context.Context, string) error { return nil }
func (s *fakeSession) CaptureScreen(context.Context) ([]byte, error) { return nil, nil }
func (s *fakeSession) ActiveCalls(context.Context) (string, error) { return "", nil }
func (s *fakeSession) InstallApp(context.Context, string) error { return nil }
func (s *fakeSession) ActivateApp(context.Context, string) error { return nil }
func (s *fakeSession) UninstallApp(context.Context, string) error { return nil }
func (s *fakeSession) Close(context.Context) error {
	s.closed.Add(1)
	return nil
}

type fakeFactory struct {
	mu      sync.Mutex
	created []*fakeSession
	newFn   func(ctx context.Context, slot int) (automation.Session, error)
}

func (f *fakeFactory) NewSession(ctx context.Context, slot int) (automation.Session, error) {
	if f.newFn != nil {
		return f.newFn(ctx, slot)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &fakeSession{id: fmt.Sprintf("session-%d-%d", slot, len(f.created))}
	f.created = append(f.created, s)
	return s, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}
