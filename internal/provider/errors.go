package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/kursadbilgin/callscreen/internal/domain"
)

// ProviderError reports a failed check. DeviceFault marks failures of the
// device under the provider rather than of the check input.
type ProviderError struct {
	Provider    string
	Message     string
	DeviceFault bool
	Cause       error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 3)
	parts = append(parts, "provider "+e.Provider)

	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func (e *ProviderError) Is(target error) bool {
	return e != nil && e.DeviceFault && target == domain.ErrDeviceFault
}

// IsDeviceFault reports whether err should count against the device.
// Cancellation and pool exhaustion never do.
func IsDeviceFault(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, domain.ErrResourceExhausted) {
		return false
	}
	return errors.Is(err, domain.ErrDeviceFault)
}
