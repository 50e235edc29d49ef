package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status is the spam classification reported by a provider or a check.
type Status string

const (
	StatusAllowed Status = "allowed"
	StatusBlocked Status = "blocked"
	StatusCaution Status = "caution"
	StatusTimeout Status = "timeout"
	StatusError   Status = "error"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusAllowed, StatusBlocked, StatusCaution, StatusTimeout, StatusError:
		return true
	}
	return false
}

// IsConclusive reports whether the status is a classification rather than a failure.
func (s Status) IsConclusive() bool {
	switch s {
	case StatusAllowed, StatusBlocked, StatusCaution:
		return true
	}
	return false
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// ProviderVerdict is one provider's answer for one phone number.
type ProviderVerdict struct {
	Provider     string         `json:"provider"`
	Status       Status         `json:"status"`
	Confidence   float64        `json:"confidence"`
	ResponseTime float64        `json:"response_time"`
	ErrorMessage string         `json:"error_message,omitempty"`
	RawData      map[string]any `json:"raw_data,omitempty"`
}

// NewErrorVerdict builds an error verdict with zero confidence.
func NewErrorVerdict(provider string, elapsed time.Duration, err error) ProviderVerdict {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return ProviderVerdict{
		Provider:     provider,
		Status:       StatusError,
		Confidence:   0,
		ResponseTime: seconds(elapsed),
		ErrorMessage: msg,
	}
}

// NewTimeoutVerdict builds the verdict recorded when a provider exceeds its deadline.
func NewTimeoutVerdict(provider string, timeout time.Duration) ProviderVerdict {
	return ProviderVerdict{
		Provider:     provider,
		Status:       StatusTimeout,
		Confidence:   0,
		ResponseTime: seconds(timeout),
		ErrorMessage: fmt.Sprintf("provider timed out after %s", timeout),
	}
}

// CheckRequest asks for one phone number to be checked against a set of providers.
type CheckRequest struct {
	PhoneNumber string        `json:"phone_number"`
	Providers   []string      `json:"providers"`
	Timeout     time.Duration `json:"timeout"`
}

// CheckResult is the reduced outcome of a CheckRequest.
type CheckResult struct {
	PhoneNumber       string            `json:"phone_number"`
	OverallStatus     Status            `json:"overall_status"`
	OverallConfidence float64           `json:"overall_confidence"`
	Verdicts          []ProviderVerdict `json:"provider_results"`
	TotalResponseTime float64           `json:"total_response_time"`
	Timestamp         time.Time         `json:"timestamp"`
}

// Succeeded reports whether at least one provider produced a usable verdict.
func (r CheckResult) Succeeded() bool {
	return r.OverallStatus != StatusError
}

func seconds(d time.Duration) float64 {
	if d < 0 {
		return 0
	}
	return d.Seconds()
}
