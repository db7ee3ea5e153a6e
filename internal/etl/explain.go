package etl

import (
	"context"
	"fmt"

	"github.com/leapstack-labs/agrisim/internal/resolve"
)

// Explain dry-runs resolution of raw against the districts and aliases
// currently in the store. Nothing is registered or written.
func (r *Rebuilder) Explain(ctx context.Context, raw string, origin resolve.Origin) (resolve.Resolution, error) {
	res, err := resolve.New(r.resolver, r.logger)
	if err != nil {
		return resolve.Resolution{}, err
	}
	snap, err := r.store.Snapshot(ctx)
	if err != nil {
		return resolve.Resolution{}, err
	}
	if err := res.Init(snap); err != nil {
		return resolve.Resolution{}, fmt.Errorf("failed to initialize resolver: %w", err)
	}
	return res.Explain(raw, origin), nil
}
