package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/callscreen/internal/domain"
	"github.com/kursadbilgin/callscreen/internal/observability"
	"github.com/kursadbilgin/callscreen/internal/provider"
	"go.uber.org/zap"
)

const (
	DefaultCheckTimeout = 30 * time.Second
	MinCheckTimeout     = 5 * time.Second
	MaxCheckTimeout     = 300 * time.Second
)

// ProviderResolver maps requested provider names to providers. An empty list
// selects every registered provider.
type ProviderResolver interface {
	Resolve(names []string) ([]provider.Provider, error)
}

type OrchestratorOptions struct {
	DefaultTimeout time.Duration
	MinTimeout     time.Duration
	MaxTimeout     time.Duration
}

// Orchestrator fans one phone number out to providers and reduces their verdicts.
type Orchestrator struct {
	resolver ProviderResolver
	opts     OrchestratorOptions
	logger   *zap.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

type indexedVerdict struct {
	index   int
	verdict domain.ProviderVerdict
}

func NewOrchestrator(resolver ProviderResolver, opts OrchestratorOptions, logger *zap.Logger) (*Orchestrator, error) {
	if resolver == nil {
		return nil, fmt.Errorf("provider resolver is required")
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultCheckTimeout
	}
	if opts.MinTimeout <= 0 {
		opts.MinTimeout = MinCheckTimeout
	}
	if opts.MaxTimeout <= 0 {
		opts.MaxTimeout = MaxCheckTimeout
	}
	if opts.MinTimeout > opts.MaxTimeout {
		return nil, fmt.Errorf("min timeout %s exceeds max timeout %s", opts.MinTimeout, opts.MaxTimeout)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Orchestrator{
		resolver: resolver,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}, nil
}

func (o *Orchestrator) SetMetrics(metrics *observability.Metrics) {
	if o == nil {
		return
	}
	o.metrics = metrics
}

// Validate normalizes a request and rejects it before any provider runs.
func (o *Orchestrator) Validate(req domain.CheckRequest) (domain.CheckRequest, error) {
	phone, err := domain.NormalizePhoneNumber(req.PhoneNumber)
	if err != nil {
		return domain.CheckRequest{}, err
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = o.opts.DefaultTimeout
	}
	if timeout < o.opts.MinTimeout || timeout > o.opts.MaxTimeout {
		return domain.CheckRequest{}, fmt.Errorf("%w: timeout %s outside [%s, %s]",
			domain.ErrValidation, timeout, o.opts.MinTimeout, o.opts.MaxTimeout)
	}

	providers, err := o.resolver.Resolve(req.Providers)
	if err != nil {
		return domain.CheckRequest{}, err
	}
	if len(providers) == 0 {
		return domain.CheckRequest{}, fmt.Errorf("%w: no providers registered", domain.ErrValidation)
	}

	names := make([]string, 0, len(providers))
	for _, p := range providers {
		names = append(names, p.Name())
	}

	return domain.CheckRequest{
		PhoneNumber: phone,
		Providers:   names,
		Timeout:     timeout,
	}, nil
}

// Check runs every requested provider concurrently, each under its own
// timeout. Only validation fails the call; provider failures become verdicts.
func (o *Orchestrator) Check(ctx context.Context, req domain.CheckRequest) (*domain.CheckResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := o.Validate(req)
	if err != nil {
		return nil, err
	}
	providers, err := o.resolver.Resolve(req.Providers)
	if err != nil {
		return nil, err
	}

	if _, ok := observability.CorrelationIDFromContext(ctx); !ok {
		ctx = observability.WithCorrelationID(ctx, observability.NewCorrelationID())
	}
	logger := observability.WithContextLogger(o.logger, ctx).With(zap.String("phoneNumber", req.PhoneNumber))
	logger.Info("check started", zap.Strings("providers", req.Providers), zap.Duration("timeout", req.Timeout))

	started := o.now()
	results := make(chan indexedVerdict, len(providers))
	for i, p := range providers {
		go o.runProvider(ctx, logger, i, p, req.PhoneNumber, req.Timeout, results)
	}

	verdicts := make([]domain.ProviderVerdict, len(providers))
	for range providers {
		r := <-results
		verdicts[r.index] = r.verdict
	}

	status, confidence := Reduce(verdicts)
	elapsed := o.now().Sub(started)
	o.metrics.IncCheck(status.String())

	logger.Info("check completed",
		zap.String("status", status.String()),
		zap.Float64("confidence", confidence),
		zap.Duration("elapsed", elapsed),
	)

	return &domain.CheckResult{
		PhoneNumber:       req.PhoneNumber,
		OverallStatus:     status,
		OverallConfidence: confidence,
		Verdicts:          verdicts,
		TotalResponseTime: elapsed.Seconds(),
		Timestamp:         o.now().UTC(),
	}, nil
}

// runProvider always sends exactly one verdict. A provider that outlives its
// timeout keeps running in the background with a cancelled context and still
// releases its own device.
func (o *Orchestrator) runProvider(
	ctx context.Context,
	logger *zap.Logger,
	index int,
	p provider.Provider,
	phoneNumber string,
	timeout time.Duration,
	out chan<- indexedVerdict,
) {
	name := p.Name()
	providerCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type checkOutcome struct {
		verdict domain.ProviderVerdict
		err     error
	}
	done := make(chan checkOutcome, 1)
	started := o.now()

	go func() {
		o.metrics.IncProviderInFlight(name)
		defer o.metrics.DecProviderInFlight(name)
		defer func() {
			if r := recover(); r != nil {
				done <- checkOutcome{err: fmt.Errorf("provider panicked: %v", r)}
			}
		}()

		verdict, err := p.CheckNumber(providerCtx, phoneNumber)
		done <- checkOutcome{verdict: verdict, err: err}
	}()

	var verdict domain.ProviderVerdict
	select {
	case outcome := <-done:
		timedOut := errors.Is(providerCtx.Err(), context.DeadlineExceeded)
		verdict = verdictFor(name, outcome.verdict, outcome.err, timedOut, o.now().Sub(started), timeout)
	case <-providerCtx.Done():
		timedOut := errors.Is(providerCtx.Err(), context.DeadlineExceeded)
		verdict = verdictFor(name, domain.ProviderVerdict{}, providerCtx.Err(), timedOut, o.now().Sub(started), timeout)
	}

	o.metrics.ObserveProviderCheck(name, verdict.Status.String(), o.now().Sub(started))
	switch verdict.Status {
	case domain.StatusError, domain.StatusTimeout:
		logger.Warn("provider check failed",
			zap.String("provider", name),
			zap.String("status", verdict.Status.String()),
			zap.String("error", verdict.ErrorMessage),
		)
	default:
		logger.Info("provider check completed",
			zap.String("provider", name),
			zap.String("status", verdict.Status.String()),
			zap.Float64("confidence", verdict.Confidence),
		)
	}

	out <- indexedVerdict{index: index, verdict: verdict}
}

// verdictFor turns a provider outcome into the verdict recorded for it.
func verdictFor(
	name string,
	verdict domain.ProviderVerdict,
	err error,
	timedOut bool,
	elapsed time.Duration,
	timeout time.Duration,
) domain.ProviderVerdict {
	if err != nil {
		if timedOut {
			return domain.NewTimeoutVerdict(name, timeout)
		}
		return domain.NewErrorVerdict(name, elapsed, err)
	}

	if !verdict.Status.IsValid() {
		return domain.NewErrorVerdict(name, elapsed, fmt.Errorf("provider returned invalid status %q", verdict.Status))
	}
	verdict.Provider = name
	if verdict.Confidence < 0 {
		verdict.Confidence = 0
	}
	if verdict.Confidence > 1 {
		verdict.Confidence = 1
	}
	if verdict.ResponseTime <= 0 {
		verdict.ResponseTime = elapsed.Seconds()
	}
	return verdict
}
