package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/callscreen/internal/domain"
	"github.com/kursadbilgin/callscreen/internal/observability"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultBatchConcurrency = 1
	defaultJobRetention     = time.Hour
	defaultJanitorInterval  = time.Minute
)

// Checker validates and runs single-number checks for the tracker.
type Checker interface {
	Validate(req domain.CheckRequest) (domain.CheckRequest, error)
	Check(ctx context.Context, req domain.CheckRequest) (*domain.CheckResult, error)
}

type TrackerOptions struct {
	MaxBatchSize    int
	Concurrency     int
	Retention       time.Duration
	JanitorInterval time.Duration
}

// BatchTracker owns batch jobs in memory, keyed by task id.
type BatchTracker struct {
	mu      sync.RWMutex
	jobs    map[string]*trackedJob
	checker Checker
	opts    TrackerOptions
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

type trackedJob struct {
	job      domain.BatchJob
	requests []domain.CheckRequest
}

func NewBatchTracker(checker Checker, opts TrackerOptions, logger *zap.Logger) (*BatchTracker, error) {
	if checker == nil {
		return nil, fmt.Errorf("checker is required")
	}
	if opts.MaxBatchSize <= 0 || opts.MaxBatchSize > domain.MaxBatchSize {
		opts.MaxBatchSize = domain.MaxBatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultBatchConcurrency
	}
	if opts.Retention <= 0 {
		opts.Retention = defaultJobRetention
	}
	if opts.JanitorInterval <= 0 {
		opts.JanitorInterval = defaultJanitorInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BatchTracker{
		jobs:    make(map[string]*trackedJob),
		checker: checker,
		opts:    opts,
		logger:  logger,
		now:     time.Now,
	}, nil
}

func (t *BatchTracker) SetMetrics(metrics *observability.Metrics) {
	if t == nil {
		return
	}
	t.metrics = metrics
}

// Submit validates every request and registers a pending job. Nothing is
// stored when any request is invalid.
func (t *BatchTracker) Submit(requests []domain.CheckRequest) (string, error) {
	if len(requests) == 0 {
		return "", fmt.Errorf("%w: batch must contain at least one request", domain.ErrValidation)
	}
	if len(requests) > t.opts.MaxBatchSize {
		return "", fmt.Errorf("%w: batch size %d exceeds limit %d", domain.ErrValidation, len(requests), t.opts.MaxBatchSize)
	}

	validated := make([]domain.CheckRequest, 0, len(requests))
	for i, req := range requests {
		normalized, err := t.checker.Validate(req)
		if err != nil {
			return "", fmt.Errorf("request %d: %w", i, err)
		}
		validated = append(validated, normalized)
	}

	taskID := uuid.NewString()
	t.mu.Lock()
	t.jobs[taskID] = &trackedJob{
		job: domain.BatchJob{
			TaskID:       taskID,
			Status:       domain.JobPending,
			TotalNumbers: len(validated),
			CreatedAt:    t.now().UTC(),
		},
		requests: validated,
	}
	t.mu.Unlock()

	t.logger.Info("batch submitted", zap.String("taskId", taskID), zap.Int("totalNumbers", len(validated)))
	return taskID, nil
}

// Run processes a pending job to a terminal state. Per-number check failures
// are counted; a panic or cancellation fails the whole job.
func (t *BatchTracker) Run(ctx context.Context, taskID string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	requests, err := t.start(taskID)
	if err != nil {
		return err
	}

	ctx = observability.WithTaskID(ctx, taskID)
	logger := observability.WithContextLogger(t.logger, ctx)
	logger.Info("batch processing started", zap.Int("totalNumbers", len(requests)))

	results := make([]domain.CheckResult, len(requests))
	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(t.opts.Concurrency)

	for i, req := range requests {
		g.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}

			result, err := t.checkOne(groupCtx, req)
			if err != nil {
				return err
			}
			results[i] = result
			t.recordProgress(taskID, result.Succeeded())
			return nil
		})
	}

	runErr := g.Wait()
	if runErr == nil {
		runErr = ctx.Err()
	}
	if runErr != nil {
		t.finish(taskID, domain.JobFailed, nil, runErr)
		logger.Error("batch processing failed", zap.Error(runErr))
		return fmt.Errorf("%w: %w", domain.ErrAggregateFailure, runErr)
	}

	t.finish(taskID, domain.JobCompleted, results, nil)
	logger.Info("batch processing completed")
	return nil
}

// checkOne converts a check error into an error result so that one bad
// number never fails the batch. Panics are returned as errors.
func (t *BatchTracker) checkOne(ctx context.Context, req domain.CheckRequest) (result domain.CheckResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("check for %s panicked: %v", req.PhoneNumber, r)
		}
	}()

	res, checkErr := t.checker.Check(ctx, req)
	if checkErr != nil {
		if errors.Is(checkErr, context.Canceled) || errors.Is(checkErr, context.DeadlineExceeded) {
			return domain.CheckResult{}, checkErr
		}
		t.logger.Warn("batch check failed",
			zap.String("phoneNumber", req.PhoneNumber),
			zap.Error(checkErr),
		)
		return domain.CheckResult{
			PhoneNumber:   req.PhoneNumber,
			OverallStatus: domain.StatusError,
			Timestamp:     t.now().UTC(),
		}, nil
	}
	if res == nil {
		return domain.CheckResult{}, fmt.Errorf("check for %s returned no result", req.PhoneNumber)
	}
	return *res, nil
}

func (t *BatchTracker) start(taskID string) ([]domain.CheckRequest, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tracked, ok := t.jobs[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: batch %s", domain.ErrNotFound, taskID)
	}
	if tracked.job.Status != domain.JobPending {
		return nil, fmt.Errorf("%w: batch %s is %s", domain.ErrConflict, taskID, tracked.job.Status)
	}

	startedAt := t.now().UTC()
	tracked.job.Status = domain.JobProcessing
	tracked.job.StartedAt = &startedAt
	return tracked.requests, nil
}

func (t *BatchTracker) recordProgress(taskID string, succeeded bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tracked, ok := t.jobs[taskID]
	if !ok {
		return
	}
	tracked.job.ProcessedNumbers++
	if succeeded {
		tracked.job.SuccessfulChecks++
	} else {
		tracked.job.FailedChecks++
	}
}

func (t *BatchTracker) finish(taskID string, status domain.JobStatus, results []domain.CheckResult, cause error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tracked, ok := t.jobs[taskID]
	if !ok {
		return
	}

	completedAt := t.now().UTC()
	tracked.job.Status = status
	tracked.job.CompletedAt = &completedAt
	tracked.job.Results = results
	if cause != nil {
		tracked.job.ErrorMessage = cause.Error()
	}
	tracked.requests = nil
	t.metrics.IncBatchJob(status.String())
}

// Status returns a point-in-time copy of the job without its results.
func (t *BatchTracker) Status(taskID string) (domain.BatchJob, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	tracked, ok := t.jobs[taskID]
	if !ok {
		return domain.BatchJob{}, fmt.Errorf("%w: batch %s", domain.ErrNotFound, taskID)
	}

	snapshot := tracked.job
	snapshot.Results = nil
	snapshot.StartedAt = copyTime(tracked.job.StartedAt)
	snapshot.CompletedAt = copyTime(tracked.job.CompletedAt)
	return snapshot, nil
}

// Results returns ordered check results. Only completed jobs have results.
func (t *BatchTracker) Results(taskID string) ([]domain.CheckResult, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	tracked, ok := t.jobs[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: batch %s", domain.ErrNotFound, taskID)
	}
	if tracked.job.Status != domain.JobCompleted {
		return nil, fmt.Errorf("%w: batch %s is %s", domain.ErrConflict, taskID, tracked.job.Status)
	}
	return append([]domain.CheckResult(nil), tracked.job.Results...), nil
}

// RunJanitor evicts terminal jobs older than the retention window until ctx is done.
func (t *BatchTracker) RunJanitor(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	ticker := time.NewTicker(t.opts.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if evicted := t.evictExpired(); evicted > 0 {
				t.logger.Info("evicted expired batch jobs", zap.Int("count", evicted))
			}
		}
	}
}

func (t *BatchTracker) evictExpired() int {
	cutoff := t.now().UTC().Add(-t.opts.Retention)

	t.mu.Lock()
	defer t.mu.Unlock()

	evicted := 0
	for id, tracked := range t.jobs {
		job := tracked.job
		if !job.Status.IsTerminal() || job.CompletedAt == nil {
			continue
		}
		if job.CompletedAt.Before(cutoff) {
			delete(t.jobs, id)
			evicted++
		}
	}
	return evicted
}

func copyTime(ts *time.Time) *time.Time {
	if ts == nil {
		return nil
	}
	v := *ts
	return &v
}
