package domain

import "errors"

var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrDeviceFault       = errors.New("device fault")
	ErrAggregateFailure  = errors.New("aggregate failure")
)
