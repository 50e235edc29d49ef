package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/kursadbilgin/callscreen/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Registry holds providers by name in registration order.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	order     []string
	logger    *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		providers: make(map[string]Provider),
		logger:    logger,
	}
}

func (r *Registry) Register(p Provider) error {
	if p == nil {
		return fmt.Errorf("%w: provider is required", domain.ErrValidation)
	}
	name := normalizeName(p.Name())
	if name == "" {
		return fmt.Errorf("%w: provider name is required", domain.ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("%w: provider %q already registered", domain.ErrConflict, name)
	}
	r.providers[name] = p
	r.order = append(r.order, name)
	return nil
}

// Resolve returns providers for names in the given order, or every provider when
// names is empty. Unknown names fail the whole call.
func (r *Registry) Resolve(names []string) ([]Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(names) == 0 {
		return r.allLocked(), nil
	}

	out := make([]Provider, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	var unknown, duplicate []string
	for _, raw := range names {
		name := normalizeName(raw)
		if _, dup := seen[name]; dup {
			duplicate = append(duplicate, raw)
			continue
		}
		seen[name] = struct{}{}

		p, ok := r.providers[name]
		if !ok {
			unknown = append(unknown, raw)
			continue
		}
		out = append(out, p)
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("%w: unknown providers %s", domain.ErrValidation, strings.Join(unknown, ", "))
	}
	if len(duplicate) > 0 {
		return nil, fmt.Errorf("%w: duplicate providers %s", domain.ErrValidation, strings.Join(duplicate, ", "))
	}
	return out, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]string(nil), r.order...)
}

// InitializeAll initializes every provider concurrently. A provider that fails
// stays registered and reports unhealthy.
func (r *Registry) InitializeAll(ctx context.Context) error {
	providers := r.all()
	errs := make([]error, len(providers))

	var g errgroup.Group
	for i, p := range providers {
		g.Go(func() error {
			if err := p.Initialize(ctx); err != nil {
				r.logger.Error("provider initialization failed", zap.String("provider", p.Name()), zap.Error(err))
				errs[i] = fmt.Errorf("%s: %w", p.Name(), err)
				return nil
			}
			r.logger.Info("provider initialized", zap.String("provider", p.Name()))
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

// Health reports IsHealthy for every provider.
func (r *Registry) Health(ctx context.Context) map[string]bool {
	providers := r.all()
	out := make(map[string]bool, len(providers))
	for _, p := range providers {
		out[p.Name()] = p.IsHealthy(ctx)
	}
	return out
}

// CleanupAll cleans up every provider in reverse registration order.
func (r *Registry) CleanupAll(ctx context.Context) error {
	providers := r.all()
	var errs []error
	for i := len(providers) - 1; i >= 0; i-- {
		if err := providers[i].Cleanup(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", providers[i].Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) all() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.allLocked()
}

func (r *Registry) allLocked() []Provider {
	out := make([]Provider, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.providers[name])
	}
	return out
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
