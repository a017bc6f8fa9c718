package relay

import (
	"context"
	"fmt"
)

// Sweep trims site records beyond the ceiling, keeping the first MaxRecords
// in enumeration order. It returns how many were removed.
func (r *Relay) Sweep(ctx context.Context) (int, error) {
	keys, err := r.cfg.Store.SiteKeys(ctx)
	if err != nil {
		return 0, fmt.Errorf("relay: sweep: %w", err)
	}
	if len(keys) <= r.cfg.MaxRecords {
		return 0, nil
	}
	excess := keys[r.cfg.MaxRecords:]
	if err := r.cfg.Store.Remove(ctx, excess...); err != nil {
		return 0, fmt.Errorf("relay: sweep: %w", err)
	}
	r.logger.Info("relay: trimmed site records", "removed", len(excess), "kept", r.cfg.MaxRecords)
	return len(excess), nil
}
