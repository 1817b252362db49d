package health

import (
	"context"

	"github.com/lamemoria/baldosas/internal/assets"
)

// storeProbeKey is an arbitrary key used to probe the asset store. Whether
// the key exists is irrelevant; only transport errors fail the check.
const storeProbeKey = "health/probe"

// StoreChecker implements health checking for the asset store.
type StoreChecker struct {
	store assets.Store
}

// NewStoreChecker creates a new asset store health checker.
func NewStoreChecker(store assets.Store) *StoreChecker {
	return &StoreChecker{store: store}
}

// HealthCheck probes the store with an existence lookup.
func (s *StoreChecker) HealthCheck(ctx context.Context) error {
	_, err := s.store.Exists(ctx, storeProbeKey)
	return err
}
