package service

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/kursadbilgin/callscreen/internal/domain"
)

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestReduce(t *testing.T) {
	t.Parallel()

	v := func(status domain.Status, confidence float64) domain.ProviderVerdict {
		return domain.ProviderVerdict{Status: status, Confidence: confidence}
	}

	tests := []struct {
		name       string
		verdicts   []domain.ProviderVerdict
		status     domain.Status
		confidence float64
	}{
		{
			name:       "blocked beats allowed and timeout is discarded",
			verdicts:   []domain.ProviderVerdict{v(domain.StatusAllowed, 0.9), v(domain.StatusBlocked, 0.8), v(domain.StatusTimeout, 0)},
			status:     domain.StatusBlocked,
			confidence: 0.85,
		},
		{
			name:       "caution beats allowed",
			verdicts:   []domain.ProviderVerdict{v(domain.StatusAllowed, 0.7), v(domain.StatusCaution, 0.6)},
			status:     domain.StatusCaution,
			confidence: 0.65,
		},
		{
			name:       "all failures",
			verdicts:   []domain.ProviderVerdict{v(domain.StatusError, 0), v(domain.StatusTimeout, 0)},
			status:     domain.StatusError,
			confidence: 0,
		},
		{
			name:       "empty",
			verdicts:   nil,
			status:     domain.StatusError,
			confidence: 0,
		},
		{
			name:       "single blocked among many allowed",
			verdicts:   []domain.ProviderVerdict{v(domain.StatusAllowed, 1), v(domain.StatusAllowed, 1), v(domain.StatusBlocked, 0.4)},
			status:     domain.StatusBlocked,
			confidence: 0.8,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			status, confidence := Reduce(tt.verdicts)
			if status != tt.status || !approxEqual(confidence, tt.confidence) {
				t.Fatalf("Reduce() = (%s, %v), want (%s, %v)", status, confidence, tt.status, tt.confidence)
			}
		})
	}
}

func TestReduceIsOrderIndependent(t *testing.T) {
	t.Parallel()

	verdicts := []domain.ProviderVerdict{
		{Status: domain.StatusCaution, Confidence: 0.5},
		{Status: domain.StatusError},
		{Status: domain.StatusAllowed, Confidence: 0.9},
	}
	reversed := []domain.ProviderVerdict{verdicts[2], verdicts[1], verdicts[0]}

	s1, c1 := Reduce(verdicts)
	s2, c2 := Reduce(reversed)
	if s1 != s2 || !approxEqual(c1, c2) {
		t.Fatalf("Reduce() differs by order: (%s, %v) vs (%s, %v)", s1, c1, s2, c2)
	}
}

func TestOrchestratorCheckPreservesRequestOrder(t *testing.T) {
	t.Parallel()

	delayed := func(name string, d time.Duration, status domain.Status) *fakeProvider {
		return newFakeProvider(name, func(ctx context.Context, phoneNumber string) (domain.ProviderVerdict, error) {
			time.Sleep(d)
			return domain.ProviderVerdict{Status: status, Confidence: 0.9}, nil
		})
	}

	o := newTestOrchestrator(t,
		delayed("slow", 40*time.Millisecond, domain.StatusAllowed),
		delayed("medium", 20*time.Millisecond, domain.StatusCaution),
		delayed("fast", 0, domain.StatusAllowed),
	)

	result, err := o.Check(context.Background(), domain.CheckRequest{
		PhoneNumber: "+1 (415) 555-2323",
		Providers:   []string{"fast", "slow", "medium"},
	})
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}

	if result.PhoneNumber != "+14155552323" {
		t.Fatalf("phone number = %q, want normalized", result.PhoneNumber)
	}
	want := []string{"fast", "slow", "medium"}
	if len(result.Verdicts) != len(want) {
		t.Fatalf("verdicts = %d, want %d", len(result.Verdicts), len(want))
	}
	for i, name := range want {
		if result.Verdicts[i].Provider != name {
			t.Fatalf("verdict %d provider = %s, want %s", i, result.Verdicts[i].Provider, name)
		}
	}
	if result.OverallStatus != domain.StatusCaution {
		t.Fatalf("overall = %s, want caution", result.OverallStatus)
	}
	if result.Timestamp.IsZero() {
		t.Fatal("timestamp should be set")
	}
}

func TestOrchestratorTimeoutDoesNotAffectOthers(t *testing.T) {
	t.Parallel()

	released := make(chan struct{})
	stuck := newFakeProvider("stuck", func(ctx context.Context, phoneNumber string) (domain.ProviderVerdict, error) {
		<-released
		return domain.ProviderVerdict{Status: domain.StatusAllowed, Confidence: 1}, nil
	})
	t.Cleanup(func() { close(released) })

	o := newTestOrchestrator(t, stuck, fixedVerdict("fast", domain.StatusBlocked, 0.9))

	started := time.Now()
	result, err := o.Check(context.Background(), domain.CheckRequest{
		PhoneNumber: "+14155552323",
		Timeout:     50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if elapsed := time.Since(started); elapsed > time.Second {
		t.Fatalf("Check() took %s, a stuck provider must not block the check", elapsed)
	}

	timedOut := result.Verdicts[0]
	if timedOut.Status != domain.StatusTimeout || timedOut.Confidence != 0 {
		t.Fatalf("stuck verdict = %s %v, want timeout 0", timedOut.Status, timedOut.Confidence)
	}
	fast := result.Verdicts[1]
	if fast.Status != domain.StatusBlocked || fast.Confidence != 0.9 {
		t.Fatalf("fast verdict = %s %v, want blocked 0.9", fast.Status, fast.Confidence)
	}
	if result.OverallStatus != domain.StatusBlocked || !approxEqual(result.OverallConfidence, 0.9) {
		t.Fatalf("overall = %s %v, want blocked 0.9", result.OverallStatus, result.OverallConfidence)
	}
}

func TestOrchestratorContextAwareProviderTimesOut(t *testing.T) {
	t.Parallel()

	waiting := newFakeProvider("waiting", func(ctx context.Context, phoneNumber string) (domain.ProviderVerdict, error) {
		<-ctx.Done()
		return domain.ProviderVerdict{}, ctx.Err()
	})
	o := newTestOrchestrator(t, waiting)

	result, err := o.Check(context.Background(), domain.CheckRequest{
		PhoneNumber: "+14155552323",
		Timeout:     20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if result.Verdicts[0].Status != domain.StatusTimeout {
		t.Fatalf("verdict = %s, want timeout", result.Verdicts[0].Status)
	}
	if result.OverallStatus != domain.StatusError || result.OverallConfidence != 0 {
		t.Fatalf("overall = %s %v, want error 0", result.OverallStatus, result.OverallConfidence)
	}
}

func TestOrchestratorFaultsBecomeErrorVerdicts(t *testing.T) {
	t.Parallel()

	failing := newFakeProvider("failing", func(ctx context.Context, phoneNumber string) (domain.ProviderVerdict, error) {
		return domain.ProviderVerdict{}, errors.New("adb went away")
	})
	panicking := newFakeProvider("panicking", func(ctx context.Context, phoneNumber string) (domain.ProviderVerdict, error) {
		panic("boom")
	})
	garbage := newFakeProvider("garbage", func(ctx context.Context, phoneNumber string) (domain.ProviderVerdict, error) {
		return domain.ProviderVerdict{Status: "maybe"}, nil
	})

	o := newTestOrchestrator(t, failing, panicking, garbage, fixedVerdict("ok", domain.StatusAllowed, 0.7))

	result, err := o.Check(context.Background(), domain.CheckRequest{PhoneNumber: "+14155552323"})
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		v := result.Verdicts[i]
		if v.Status != domain.StatusError || v.Confidence != 0 || v.ErrorMessage == "" {
			t.Fatalf("verdict %s = %+v, want error with message", v.Provider, v)
		}
	}
	if result.OverallStatus != domain.StatusAllowed || !approxEqual(result.OverallConfidence, 0.7) {
		t.Fatalf("overall = %s %v, want allowed 0.7", result.OverallStatus, result.OverallConfidence)
	}
}

func TestOrchestratorValidatesBeforeWork(t *testing.T) {
	t.Parallel()

	p := fixedVerdict("mock", domain.StatusAllowed, 0.85)
	o := newTestOrchestrator(t, p)

	tests := []struct {
		name string
		req  domain.CheckRequest
	}{
		{name: "bad phone", req: domain.CheckRequest{PhoneNumber: "12345"}},
		{name: "unknown provider", req: domain.CheckRequest{PhoneNumber: "+14155552323", Providers: []string{"mock", "nope"}}},
		{name: "duplicate provider", req: domain.CheckRequest{PhoneNumber: "+14155552323", Providers: []string{"mock", "MOCK"}}},
		{name: "timeout too large", req: domain.CheckRequest{PhoneNumber: "+14155552323", Timeout: time.Hour}},
		{name: "negative timeout", req: domain.CheckRequest{PhoneNumber: "+14155552323", Timeout: -time.Second}},
	}

	for _, tt := range tests {
		if _, err := o.Check(context.Background(), tt.req); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("%s: Check() error = %v, want ErrValidation", tt.name, err)
		}
	}
	if calls := p.calls.Load(); calls != 0 {
		t.Fatalf("provider calls = %d, want 0 after validation failures", calls)
	}
}

func TestOrchestratorRejectsEmptyRegistry(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(t)
	_, err := o.Check(context.Background(), domain.CheckRequest{PhoneNumber: "+14155552323"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Check() error = %v, want ErrValidation", err)
	}
}

func TestOrchestratorValidateDefaultsTimeout(t *testing.T) {
	t.Parallel()

	o, err := NewOrchestrator(newTestRegistry(t, fixedVerdict("mock", domain.StatusAllowed, 1)), OrchestratorOptions{}, nil)
	if err != nil {
		t.Fatalf("NewOrchestrator() error = %v", err)
	}

	req, err := o.Validate(domain.CheckRequest{PhoneNumber: "+14155552323"})
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if req.Timeout != DefaultCheckTimeout {
		t.Fatalf("timeout = %s, want %s", req.Timeout, DefaultCheckTimeout)
	}
	if len(req.Providers) != 1 || req.Providers[0] != "mock" {
		t.Fatalf("providers = %v, want [mock]", req.Providers)
	}

	if _, err := o.Validate(domain.CheckRequest{PhoneNumber: "+14155552323", Timeout: time.Second}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Validate() error = %v, want ErrValidation below the 5s minimum", err)
	}
}
