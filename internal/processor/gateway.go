package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/vanshika/fintrace/txnengine/internal/domain"
)

// ErrDownstreamUnavailable is the transient error a failing gateway returns.
var ErrDownstreamUnavailable = errors.New("downstream unavailable")

// Gateway is the downstream system that authorises money movement. Its
// errors are treated as transient.
type Gateway interface {
	Authorize(ctx context.Context, tx *domain.Transaction) (reference string, err error)
}

// SimulatedGateway sleeps for a fixed latency and can be told to fail every
// call for given transaction types.
type SimulatedGateway struct {
	latency time.Duration

	mu    sync.RWMutex
	fails map[domain.Type]error
}

func NewSimulatedGateway(latency time.Duration) *SimulatedGateway {
	return &SimulatedGateway{latency: latency, fails: make(map[domain.Type]error)}
}

// FailType makes every call for t return err. A nil err clears the rule.
func (g *SimulatedGateway) FailType(t domain.Type, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.fails, t)
		return
	}
	g.fails[t] = err
}

func (g *SimulatedGateway) Authorize(ctx context.Context, tx *domain.Transaction) (string, error) {
	if g.latency > 0 {
		timer := time.NewTimer(g.latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}

	g.mu.RLock()
	err := g.fails[tx.Type]
	g.mu.RUnlock()
	if err != nil {
		return "", err
	}
	return "AUTH-" + uuid.NewString()[:12], nil
}

// BreakerGateway trips after repeated downstream failures and rejects calls
// until the breaker half-opens.
type BreakerGateway struct {
	next    Gateway
	breaker *gobreaker.CircuitBreaker
}

// BreakerSettings tunes the circuit breaker around the gateway.
type BreakerSettings struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

// DefaultBreakerSettings trips after five consecutive failures and lets a
// trial call through after 30s.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{ConsecutiveFailures: 5, OpenTimeout: 30 * time.Second}
}

func NewBreakerGateway(next Gateway, settings BreakerSettings, logger *zap.Logger) *BreakerGateway {
	threshold := settings.ConsecutiveFailures
	if threshold == 0 {
		threshold = 5
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "downstream-gateway",
		Timeout: settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return &BreakerGateway{next: next, breaker: cb}
}

func (g *BreakerGateway) Authorize(ctx context.Context, tx *domain.Transaction) (string, error) {
	out, err := g.breaker.Execute(func() (interface{}, error) {
		return g.next.Authorize(ctx, tx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", fmt.Errorf("%w: %v", ErrDownstreamUnavailable, err)
		}
		return "", err
	}
	return out.(string), nil
}

// State reports the breaker state, for diagnostics.
func (g *BreakerGateway) State() gobreaker.State {
	return g.breaker.State()
}
