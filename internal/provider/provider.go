package provider

import (
	"context"

	"github.com/kursadbilgin/callscreen/internal/domain"
)

// Provider answers whether one call-blocking app treats a number as spam.
type Provider interface {
	Name() string
	Initialize(ctx context.Context) error
	CheckNumber(ctx context.Context, phoneNumber string) (domain.ProviderVerdict, error)
	IsHealthy(ctx context.Context) bool
	Cleanup(ctx context.Context) error
}
