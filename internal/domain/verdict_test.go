package domain

import (
	"errors"
	"testing"
	"time"
)

func TestParseStatusFromString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    Status
		wantErr bool
	}{
		{name: "valid lowercase", input: "blocked", want: StatusBlocked},
		{name: "valid uppercase with spaces", input: " CAUTION ", want: StatusCaution},
		{name: "invalid", input: "spam", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseStatusFromString(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("ParseStatusFromString() error = %v, want ErrValidation", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("ParseStatusFromString() unexpected error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("ParseStatusFromString() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestStatusIsConclusive(t *testing.T) {
	t.Parallel()

	for _, s := range []Status{StatusAllowed, StatusBlocked, StatusCaution} {
		if !s.IsConclusive() {
			t.Fatalf("%s.IsConclusive() = false, want true", s)
		}
	}
	for _, s := range []Status{StatusTimeout, StatusError} {
		if s.IsConclusive() {
			t.Fatalf("%s.IsConclusive() = true, want false", s)
		}
	}
}

func TestNewTimeoutVerdict(t *testing.T) {
	t.Parallel()

	v := NewTimeoutVerdict("hiya", 30*time.Second)
	if v.Status != StatusTimeout {
		t.Fatalf("status = %s, want timeout", v.Status)
	}
	if v.Confidence != 0 {
		t.Fatalf("confidence = %v, want 0", v.Confidence)
	}
	if v.ResponseTime != 30 {
		t.Fatalf("response time = %v, want 30", v.ResponseTime)
	}
}

func TestNewErrorVerdictNilError(t *testing.T) {
	t.Parallel()

	v := NewErrorVerdict("hiya", -time.Second, nil)
	if v.Status != StatusError || v.ErrorMessage == "" {
		t.Fatalf("verdict = %+v, want error status with message", v)
	}
	if v.ResponseTime != 0 {
		t.Fatalf("response time = %v, want 0 for negative elapsed", v.ResponseTime)
	}
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	summary := Summarize([]CheckResult{
		{OverallStatus: StatusBlocked},
		{OverallStatus: StatusAllowed},
		{OverallStatus: StatusBlocked},
		{OverallStatus: StatusError},
	})

	if summary.Total != 4 {
		t.Fatalf("total = %d, want 4", summary.Total)
	}
	if summary.ByStatus[StatusBlocked] != 2 {
		t.Fatalf("blocked = %d, want 2", summary.ByStatus[StatusBlocked])
	}
	if summary.BlockRate != 0.5 {
		t.Fatalf("block rate = %v, want 0.5", summary.BlockRate)
	}
}
