package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kursadbilgin/callscreen/internal/domain"
	"go.uber.org/zap"
)

const Version = "1.0.0"

// ProviderSet is the registry view the service needs.
type ProviderSet interface {
	Names() []string
	Health(ctx context.Context) map[string]bool
	CleanupAll(ctx context.Context) error
}

// DeviceHealth reports per-device health. A nil DeviceHealth means no
// device pool is configured.
type DeviceHealth interface {
	HealthSnapshot() map[string]bool
}

// Health is the service-wide health report.
type Health struct {
	Healthy   bool            `json:"healthy"`
	Providers map[string]bool `json:"providers"`
	Devices   map[string]bool `json:"devices"`
	Uptime    time.Duration   `json:"uptime"`
	Version   string          `json:"version"`
}

// Service is the facade exposed to the request layer.
type Service struct {
	orchestrator *Orchestrator
	tracker      *BatchTracker
	providers    ProviderSet
	devices      DeviceHealth
	logger       *zap.Logger
	now          func() time.Time
	startedAt    time.Time

	runCtx    context.Context
	cancelRun context.CancelFunc
	runs      sync.WaitGroup
	closeOnce sync.Once
}

func NewService(
	orchestrator *Orchestrator,
	tracker *BatchTracker,
	providers ProviderSet,
	devices DeviceHealth,
	logger *zap.Logger,
) (*Service, error) {
	if orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if tracker == nil {
		return nil, fmt.Errorf("batch tracker is required")
	}
	if providers == nil {
		return nil, fmt.Errorf("provider set is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	runCtx, cancel := context.WithCancel(context.Background())
	return &Service{
		orchestrator: orchestrator,
		tracker:      tracker,
		providers:    providers,
		devices:      devices,
		logger:       logger,
		now:          time.Now,
		startedAt:    time.Now(),
		runCtx:       runCtx,
		cancelRun:    cancel,
	}, nil
}

func (s *Service) CheckNumber(ctx context.Context, req domain.CheckRequest) (*domain.CheckResult, error) {
	return s.orchestrator.Check(ctx, req)
}

// SubmitBatch registers a batch and processes it in the background. The
// background run outlives ctx and stops only on Close.
func (s *Service) SubmitBatch(ctx context.Context, requests []domain.CheckRequest) (string, error) {
	if err := s.runCtx.Err(); err != nil {
		return "", fmt.Errorf("%w: service is closed", domain.ErrConflict)
	}

	taskID, err := s.tracker.Submit(requests)
	if err != nil {
		return "", err
	}

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		if err := s.tracker.Run(s.runCtx, taskID); err != nil {
			s.logger.Error("batch run failed", zap.String("taskId", taskID), zap.Error(err))
		}
	}()

	return taskID, nil
}

func (s *Service) BatchStatus(taskID string) (domain.BatchJob, error) {
	return s.tracker.Status(taskID)
}

func (s *Service) BatchResults(taskID string) ([]domain.CheckResult, error) {
	return s.tracker.Results(taskID)
}

// BatchSummary counts a completed batch's results by overall status.
func (s *Service) BatchSummary(taskID string) (domain.BatchSummary, error) {
	results, err := s.tracker.Results(taskID)
	if err != nil {
		return domain.BatchSummary{}, err
	}
	return domain.Summarize(results), nil
}

func (s *Service) ListProviders() []string {
	return s.providers.Names()
}

// HealthSnapshot is healthy when every provider is healthy and every device
// is available or busy. A deployment without devices is judged on providers alone.
func (s *Service) HealthSnapshot(ctx context.Context) Health {
	providers := s.providers.Health(ctx)
	devices := map[string]bool{}
	if s.devices != nil {
		devices = s.devices.HealthSnapshot()
	}

	healthy := len(providers) > 0
	for _, ok := range providers {
		healthy = healthy && ok
	}
	for _, ok := range devices {
		healthy = healthy && ok
	}

	return Health{
		Healthy:   healthy,
		Providers: providers,
		Devices:   devices,
		Uptime:    s.now().Sub(s.startedAt),
		Version:   Version,
	}
}

// Close stops background batch runs, waits for them, then cleans up providers.
func (s *Service) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.cancelRun()

		waited := make(chan struct{})
		go func() {
			s.runs.Wait()
			close(waited)
		}()
		select {
		case <-waited:
		case <-ctx.Done():
			s.logger.Warn("batch runs still active at shutdown")
		}

		err = s.providers.CleanupAll(ctx)
	})
	return err
}
