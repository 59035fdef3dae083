package provider

import (
	"context"
	"sort"
	"sync"

	"ubipay/internal/domain"
	"ubipay/pkg/errors"

	"github.com/shopspring/decimal"
)

// Registry resolves adapters by provider code.
type Registry struct {
	mu       sync.RWMutex
	adapters map[domain.Provider]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[domain.Provider]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces the adapter for a.Provider().
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Provider()] = a
}

func (r *Registry) Get(p domain.Provider) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[p]
	if !ok {
		return nil, errors.Wrap(errors.ErrProviderNotRegistered, string(p))
	}
	return a, nil
}

func (r *Registry) Providers() []domain.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Provider, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// GetProviderBalance reports the float balance the provider holds for us.
func (r *Registry) GetProviderBalance(ctx context.Context, p domain.Provider, currency domain.Currency) (decimal.Decimal, error) {
	a, err := r.Get(p)
	if err != nil {
		return decimal.Zero, err
	}
	return a.GetBalance(ctx, currency), nil
}
