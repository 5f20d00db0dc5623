package gateway

import (
	"fmt"
	"sort"
	"sync"

	"recurrent-billing/internal/domain"
	"recurrent-billing/internal/domain/ports/adapter"
)

var _ adapter.GatewayRegistry = (*Registry)(nil)

// Registry resolves drivers by code. Capability checks go through the set a
// driver declares; Register refuses drivers whose declaration is not backed by
// the matching interface.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]adapter.Gateway
}

func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]adapter.Gateway)}
}

func (r *Registry) Register(gw adapter.Gateway) error {
	if gw == nil || gw.Code() == "" {
		return fmt.Errorf("%w: gateway without code", domain.ErrInvalidArgument)
	}
	caps := gw.Capabilities()
	for _, c := range adapter.AllCapabilities {
		if caps.Has(c) && !implements(gw, c) {
			return fmt.Errorf("gateway %q declares %s but does not implement it", gw.Code(), c)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.drivers[gw.Code()]; ok {
		return fmt.Errorf("%w: gateway %q", domain.ErrAlreadyExists, gw.Code())
	}
	r.drivers[gw.Code()] = gw
	return nil
}

func implements(gw adapter.Gateway, c adapter.Capability) bool {
	var ok bool
	switch c {
	case adapter.CapRecurrent:
		_, ok = gw.(adapter.RecurrentCharger)
	case adapter.CapRefund:
		_, ok = gw.(adapter.Refunder)
	case adapter.CapCancelToken:
		_, ok = gw.(adapter.TokenCanceller)
	case adapter.CapAuthorization:
		_, ok = gw.(adapter.Authorizer)
	case adapter.CapTokenValidation:
		_, ok = gw.(adapter.TokenValidator)
	case adapter.CapTokenExpiry:
		_, ok = gw.(adapter.ExpiryChecker)
	case adapter.CapChargeLookup:
		_, ok = gw.(adapter.ChargeLookup)
	}
	return ok
}

func (r *Registry) Get(code string) (adapter.Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	gw, ok := r.drivers[code]
	if !ok {
		return nil, fmt.Errorf("%w: gateway %q", domain.ErrNotFound, code)
	}
	return gw, nil
}

// Has never fails: unknown gateways have no capabilities.
func (r *Registry) Has(code string, c adapter.Capability) bool {
	gw, err := r.Get(code)
	if err != nil {
		return false
	}
	return gw.Capabilities().Has(c)
}

func (r *Registry) capable(code string, c adapter.Capability) (adapter.Gateway, error) {
	gw, err := r.Get(code)
	if err != nil {
		return nil, err
	}
	if !gw.Capabilities().Has(c) {
		return nil, &domain.CapabilityError{Gateway: code, Capability: c.String()}
	}
	return gw, nil
}

func (r *Registry) Recurrent(code string) (adapter.RecurrentCharger, error) {
	gw, err := r.capable(code, adapter.CapRecurrent)
	if err != nil {
		return nil, err
	}
	return gw.(adapter.RecurrentCharger), nil
}

func (r *Registry) Refunder(code string) (adapter.Refunder, error) {
	gw, err := r.capable(code, adapter.CapRefund)
	if err != nil {
		return nil, err
	}
	return gw.(adapter.Refunder), nil
}

func (r *Registry) TokenCanceller(code string) (adapter.TokenCanceller, error) {
	gw, err := r.capable(code, adapter.CapCancelToken)
	if err != nil {
		return nil, err
	}
	return gw.(adapter.TokenCanceller), nil
}

func (r *Registry) TokenValidator(code string) (adapter.TokenValidator, error) {
	gw, err := r.capable(code, adapter.CapTokenValidation)
	if err != nil {
		return nil, err
	}
	return gw.(adapter.TokenValidator), nil
}

func (r *Registry) ExpiryChecker(code string) (adapter.ExpiryChecker, error) {
	gw, err := r.capable(code, adapter.CapTokenExpiry)
	if err != nil {
		return nil, err
	}
	return gw.(adapter.ExpiryChecker), nil
}

func (r *Registry) ChargeLookup(code string) (adapter.ChargeLookup, error) {
	gw, err := r.capable(code, adapter.CapChargeLookup)
	if err != nil {
		return nil, err
	}
	return gw.(adapter.ChargeLookup), nil
}

func (r *Registry) Authorizer(code string) (adapter.Authorizer, error) {
	gw, err := r.capable(code, adapter.CapAuthorization)
	if err != nil {
		return nil, err
	}
	return gw.(adapter.Authorizer), nil
}

// Codes returns the registered gateway codes in sorted order.
func (r *Registry) Codes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.drivers))
	for code := range r.drivers {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}
