package appium

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/callscreen/internal/automation"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	baseSystemPort        = 8200
	defaultCreateAttempts = 3
	breakerTripFailures   = 5
	breakerOpenTimeout    = 30 * time.Second
)

var _ automation.SessionFactory = (*Factory)(nil)

type FactoryConfig struct {
	ServerURL       string
	APKDir          string
	PlatformVersion string
	DeviceUDIDs     []string
	Headless        bool
	CreateAttempts  uint
}

// Factory opens UiAutomator2 sessions, one per pool slot.
type Factory struct {
	client  *client
	cfg     FactoryConfig
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

type newSessionRequest struct {
	Capabilities struct {
		AlwaysMatch map[string]any `json:"alwaysMatch"`
	} `json:"capabilities"`
}

type newSessionResult struct {
	SessionID string `json:"sessionId"`
}

func NewFactory(cfg FactoryConfig, httpClient *resty.Client, logger *zap.Logger) (*Factory, error) {
	c, err := newClient(cfg.ServerURL, httpClient)
	if err != nil {
		return nil, err
	}
	if cfg.CreateAttempts == 0 {
		cfg.CreateAttempts = defaultCreateAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "appium-session-create",
		Timeout: breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerTripFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("appium breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Factory{
		client:  c,
		cfg:     cfg,
		breaker: breaker,
		logger:  logger,
	}, nil
}

func (f *Factory) capabilities(slot int) map[string]any {
	caps := map[string]any{
		"platformName":                  "Android",
		"appium:automationName":         "UiAutomator2",
		"appium:systemPort":             baseSystemPort + slot,
		"appium:disableWindowAnimation": true,
		"appium:isHeadless":             f.cfg.Headless,
		"appium:noReset":                true,
	}
	if v := strings.TrimSpace(f.cfg.PlatformVersion); v != "" {
		caps["appium:platformVersion"] = v
	}
	if slot < len(f.cfg.DeviceUDIDs) {
		if udid := strings.TrimSpace(f.cfg.DeviceUDIDs[slot]); udid != "" {
			caps["appium:udid"] = udid
		}
	}
	return caps
}

// NewSession creates a session for slot, retrying transient failures.
// Repeated failures open a breaker so a down server fails fast.
func (f *Factory) NewSession(ctx context.Context, slot int) (automation.Session, error) {
	if slot < 0 {
		return nil, fmt.Errorf("invalid slot %d", slot)
	}

	var req newSessionRequest
	req.Capabilities.AlwaysMatch = f.capabilities(slot)

	out, err := f.breaker.Execute(func() (interface{}, error) {
		var created newSessionResult
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(f.cfg.CreateAttempts),
			retry.RetryIf(IsTransient),
			retry.DelayType(retry.BackOffDelay),
			retry.LastErrorOnly(true),
		)
		retryErr := r.Do(func() error {
			var callErr error
			created, callErr = call[newSessionResult](ctx, f.client, "new session", http.MethodPost, "/session", req)
			return callErr
		})
		return created, retryErr
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &CommandError{Command: "new session", Message: "appium server unavailable", Cause: err}
		}
		return nil, err
	}

	created := out.(newSessionResult)
	if strings.TrimSpace(created.SessionID) == "" {
		return nil, &CommandError{Command: "new session", Message: "empty session id"}
	}

	f.logger.Info("appium session created",
		zap.Int("slot", slot),
		zap.String("sessionId", created.SessionID),
	)

	return &Session{
		client: f.client,
		id:     created.SessionID,
		apkDir: f.cfg.APKDir,
	}, nil
}
