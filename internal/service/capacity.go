package service

import (
	"context"

	"stall-service/internal/models"
	"stall-service/internal/store"
)

// DefaultMaxStallsPerVendor is the number of stalls one vendor may hold at once
const DefaultMaxStallsPerVendor = 3

// CapacityGuard limits the number of stalls a vendor holds through active
// reservations. The count is always recomputed from the link table.
type CapacityGuard struct {
	max int
}

// NewCapacityGuard creates a guard; a non-positive max falls back to the default
func NewCapacityGuard(limit int) *CapacityGuard {
	if limit <= 0 {
		limit = DefaultMaxStallsPerVendor
	}
	return &CapacityGuard{max: limit}
}

// Max returns the per-vendor cap
func (g *CapacityGuard) Max() int {
	return g.max
}

// Check rejects the request when current + requested would exceed the cap.
// counter is the repository for the fast-fail check and the open
// transaction for the re-check inside the unit of work.
func (g *CapacityGuard) Check(ctx context.Context, counter store.ActiveStallCounter, vendorID int64, requested int) error {
	current, err := counter.CountActiveStalls(ctx, vendorID)
	if err != nil {
		return err
	}
	if current+requested > g.max {
		return models.NewBusinessError(models.ErrCapacityExceeded,
			"Limit Exceeded: You can only reserve up to %d stalls per business. You currently hold %d.",
			g.max, current)
	}
	return nil
}
