package gateway

import (
	"fmt"
	"net/http"

	"github.com/imrishuroy/storefront-reconciler/internal/config"
	"github.com/imrishuroy/storefront-reconciler/internal/orders"
)

// Registry selects the adapter by the order's payment gateway.
type Registry struct {
	adapters map[orders.Gateway]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: map[orders.Gateway]Adapter{}}
	for _, a := range adapters {
		if a != nil {
			r.adapters[a.Name()] = a
		}
	}
	return r
}

// Get returns ErrNotConfigured when the gateway has no credentials loaded.
func (r *Registry) Get(name orders.Gateway) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, name)
	}
	return a, nil
}

// Configured lists the gateways that can open sessions.
func (r *Registry) Configured() []orders.Gateway {
	out := make([]orders.Gateway, 0, len(r.adapters))
	for _, g := range []orders.Gateway{orders.GatewayA, orders.GatewayB, orders.GatewayC} {
		if _, ok := r.adapters[g]; ok {
			out = append(out, g)
		}
	}
	return out
}

// NewRegistryFromConfig builds an adapter for every gateway whose credentials are present.
// Unconfigured gateways are reported through skipped so the caller can log them.
func NewRegistryFromConfig(cfg *config.Config, client *http.Client) (reg *Registry, skipped []orders.Gateway) {
	timeout := cfg.Payments.GatewayTimeout
	var adapters []Adapter
	if a, err := NewChecksumGateway(cfg.GatewayA, client, timeout); err == nil {
		adapters = append(adapters, a)
	} else {
		skipped = append(skipped, orders.GatewayA)
	}
	if b, err := NewHostedGateway(cfg.GatewayB, client, timeout); err == nil {
		adapters = append(adapters, b)
	} else {
		skipped = append(skipped, orders.GatewayB)
	}
	if c, err := NewCardNetGateway(cfg.GatewayC, client, timeout); err == nil {
		adapters = append(adapters, c)
	} else {
		skipped = append(skipped, orders.GatewayC)
	}
	return NewRegistry(adapters...), skipped
}
