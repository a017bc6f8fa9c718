package relay

import (
	"context"
	"fmt"

	"github.com/hazyhaar/lastused/internal/store"
)

// Request is a query addressed to the relay.
type Request struct {
	Type   Kind   `json:"type"`
	Domain string `json:"domain"`
}

// Handle answers a request. GET_DOMAIN_DATA returns the domain's record as
// {storage key: provider}, empty when none exists. CLEAR_DOMAIN_DATA removes
// it and returns {"success": true}.
func (r *Relay) Handle(ctx context.Context, req Request) (map[string]any, error) {
	switch req.Type {
	case GetDomainData:
		p, ok, err := r.cfg.Store.Lookup(ctx, req.Domain)
		if err != nil {
			return nil, fmt.Errorf("relay: %s: %w", req.Type, err)
		}
		out := map[string]any{}
		if ok {
			out[store.Key(req.Domain)] = p
		}
		return out, nil

	case ClearDomainData:
		if err := r.cfg.Store.Forget(ctx, req.Domain); err != nil {
			return nil, fmt.Errorf("relay: %s: %w", req.Type, err)
		}
		return map[string]any{"success": true}, nil

	default:
		return nil, fmt.Errorf("relay: unknown request type %q", req.Type)
	}
}
