package classifier

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/callscreen/internal/automation"
	"github.com/kursadbilgin/callscreen/internal/domain"
	"go.uber.org/zap"
)

const (
	DefaultThreshold       = 0.95
	DefaultPollInterval    = 10 * time.Millisecond
	DefaultVisualBudget    = 10 * time.Second
	DefaultCallStateBudget = 2 * time.Second
	teardownTimeout        = 10 * time.Second
)

// Mode selects how the classifier observes an app's reaction to a call.
type Mode int

const (
	// ModeVisual matches screenshots against labeled reference fragments.
	ModeVisual Mode = iota
	// ModeCallState watches the call list, for apps that hang up blocked calls.
	ModeCallState
)

func (m Mode) String() string {
	if m == ModeCallState {
		return "call_state"
	}
	return "visual"
}

// State is a step of one classification run.
type State string

const (
	StateIdle       State = "idle"
	StateCallPlaced State = "call_placed"
	StateObserving  State = "observing"
	StateClassified State = "classified"
	StateTimedOut   State = "timed_out"
)

// Config tunes a Classifier. References are tried in order on every sample
// and earlier entries win.
type Config struct {
	Mode            Mode
	References      []Reference
	Threshold       float64
	PollInterval    time.Duration
	VisualBudget    time.Duration
	CallStateBudget time.Duration
	SettleDelay     time.Duration
}

// Outcome is the classifier's answer for one call.
type Outcome struct {
	Status     domain.Status
	Confidence float64
	Elapsed    time.Duration
	State      State
}

// Classifier places a call on a session and watches how the app reacts.
type Classifier struct {
	cfg     Config
	matcher automation.ImageMatcher
	sink    automation.ArtifactSink
	logger  *zap.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, matcher automation.ImageMatcher, sink automation.ArtifactSink, logger *zap.Logger) (*Classifier, error) {
	if cfg.Mode == ModeVisual {
		if matcher == nil {
			return nil, fmt.Errorf("image matcher is required for visual classification")
		}
		if len(cfg.References) == 0 {
			return nil, fmt.Errorf("%w: visual classification needs at least one reference", domain.ErrValidation)
		}
	}
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.VisualBudget <= 0 {
		cfg.VisualBudget = DefaultVisualBudget
	}
	if cfg.CallStateBudget <= 0 {
		cfg.CallStateBudget = DefaultCallStateBudget
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	if sink == nil {
		sink = automation.DiscardSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Classifier{
		cfg:     cfg,
		matcher: matcher,
		sink:    sink,
		logger:  logger,
		now:     time.Now,
		sleep:   sleepWithContext,
	}, nil
}

func (c *Classifier) budget() time.Duration {
	if c.cfg.Mode == ModeCallState {
		return c.cfg.CallStateBudget
	}
	return c.cfg.VisualBudget
}

// Classify runs one call through Idle, CallPlaced and Observing until it is
// classified or the budget runs out. A placed call is always canceled, even
// when ctx is done. Automation failures are returned wrapped in
// domain.ErrDeviceFault.
func (c *Classifier) Classify(ctx context.Context, session automation.Session, appPackage string, phoneNumber string) (Outcome, error) {
	if session == nil {
		return Outcome{State: StateIdle}, fmt.Errorf("%w: no automation session", domain.ErrDeviceFault)
	}

	logger := c.logger.With(
		zap.String("app", appPackage),
		zap.String("phoneNumber", phoneNumber),
		zap.String("mode", c.cfg.Mode.String()),
	)

	if err := session.LockScreen(ctx); err != nil {
		return Outcome{State: StateIdle}, fmt.Errorf("%w: lock screen: %w", domain.ErrDeviceFault, err)
	}
	if err := c.sleep(ctx, c.cfg.SettleDelay); err != nil {
		return Outcome{State: StateIdle}, err
	}
	if err := session.PlaceCall(ctx, phoneNumber); err != nil {
		return Outcome{State: StateIdle}, fmt.Errorf("%w: place call: %w", domain.ErrDeviceFault, err)
	}

	defer c.teardown(ctx, session, appPackage, phoneNumber, logger)

	start := c.now()
	budget := c.budget()

	for {
		status, confidence, matched, sampleErr := c.sample(ctx, session, logger)
		elapsed := c.now().Sub(start)
		if sampleErr != nil {
			return Outcome{Elapsed: elapsed, State: StateObserving}, sampleErr
		}
		if matched {
			return Outcome{Status: status, Confidence: confidence, Elapsed: elapsed, State: StateClassified}, nil
		}
		if elapsed >= budget {
			return c.budgetExhausted(elapsed), nil
		}

		if err := c.sleep(ctx, c.cfg.PollInterval); err != nil {
			return Outcome{Elapsed: c.now().Sub(start), State: StateObserving}, err
		}
	}
}

// budgetExhausted maps a run that never matched to its outcome. In call-state
// mode a call that survives the window was let through.
func (c *Classifier) budgetExhausted(elapsed time.Duration) Outcome {
	if c.cfg.Mode == ModeCallState {
		return Outcome{Status: domain.StatusAllowed, Confidence: 1.0, Elapsed: elapsed, State: StateClassified}
	}
	return Outcome{Status: domain.StatusTimeout, Confidence: 1.0, Elapsed: elapsed, State: StateTimedOut}
}

// sample takes one observation. matched is false when nothing is conclusive yet.
func (c *Classifier) sample(ctx context.Context, session automation.Session, logger *zap.Logger) (domain.Status, float64, bool, error) {
	if c.cfg.Mode == ModeCallState {
		calls, err := session.ActiveCalls(ctx)
		if err != nil {
			return "", 0, false, fmt.Errorf("%w: query call state: %w", domain.ErrDeviceFault, err)
		}
		if calls == "" {
			return domain.StatusBlocked, 1.0, true, nil
		}
		return "", 0, false, nil
	}

	screen, err := session.CaptureScreen(ctx)
	if err != nil {
		return "", 0, false, fmt.Errorf("%w: capture screen: %w", domain.ErrDeviceFault, err)
	}

	for _, ref := range c.cfg.References {
		score, err := c.matcher.Match(ctx, screen, ref.Image)
		if err != nil {
			logger.Debug("reference match failed", zap.String("reference", ref.Status.String()), zap.Error(err))
			continue
		}
		if score > c.cfg.Threshold {
			return ref.Status, score, true, nil
		}
	}
	return "", 0, false, nil
}

func (c *Classifier) teardown(ctx context.Context, session automation.Session, appPackage string, phoneNumber string, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()

	if err := session.CancelCall(ctx, phoneNumber); err != nil {
		logger.Warn("failed to cancel call", zap.Error(err))
	}

	screen, err := session.CaptureScreen(ctx)
	if err != nil {
		logger.Warn("failed to capture diagnostic screenshot", zap.Error(err))
		return
	}
	if err := c.sink.SaveScreenshot(ctx, appPackage, phoneNumber, screen); err != nil {
		logger.Warn("failed to save diagnostic screenshot", zap.Error(err))
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
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
