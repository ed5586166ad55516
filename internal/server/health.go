package server

import "context"

// HealthService defines behaviour for readiness checks.
type HealthService interface {
	Check(ctx context.Context) error
}

// Pinger is anything that can report its backing stores reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreHealthService checks the durable store and the cache through the
// manager.
type StoreHealthService struct {
	Target Pinger
}

// Check implements the HealthService interface.
func (s StoreHealthService) Check(ctx context.Context) error {
	if s.Target == nil {
		return nil
	}
	return s.Target.Ping(ctx)
}
