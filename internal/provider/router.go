package provider

import "errors"

// ErrNoDefaultProvider indicates a deployment misconfiguration: the router
// cannot be built without at least one integration.
var ErrNoDefaultProvider = errors.New("no default provider configured")

// Router resolves a session's configured provider code to a concrete
// adapter. An unrecognized or absent code falls back to the platform
// default; today there is a single bank integration, but the contract
// supports N.
type Router struct {
	adapters map[string]Adapter
	fallback Adapter
}

// NewRouter builds a router with the given default adapter plus any
// additional integrations, keyed by their Code().
func NewRouter(fallback Adapter, others ...Adapter) (*Router, error) {
	if fallback == nil {
		return nil, ErrNoDefaultProvider
	}

	adapters := map[string]Adapter{fallback.Code(): fallback}
	for _, a := range others {
		adapters[a.Code()] = a
	}

	return &Router{adapters: adapters, fallback: fallback}, nil
}

// Resolve returns the adapter for the given provider code, or the default
// adapter when the code is empty or unknown.
func (r *Router) Resolve(code string) Adapter {
	if a, ok := r.adapters[code]; ok {
		return a
	}
	return r.fallback
}
