package balancer

import (
	"context"
	"fmt"
	"sort"

	"github.com/vanshika/fintrace/txnengine/internal/domain"
)

// Strategy names accepted by NewStrategy.
const (
	RoundRobin         = "round_robin"
	WeightedRoundRobin = "weighted_round_robin"
	LeastConnections   = "least_connections"
	CapabilityBased    = "capability_based"
)

// Strategy picks one node from a non-empty list of available candidates,
// sorted by node id. ok is false when no candidate fits the transaction.
type Strategy interface {
	Name() string
	Pick(ctx context.Context, candidates []domain.Node, tx *domain.Transaction) (node domain.Node, ok bool, err error)
}

// NewStrategy builds the named strategy. counter is used by the round-robin
// variants.
func NewStrategy(name string, counter Counter) (Strategy, error) {
	switch name {
	case RoundRobin:
		return roundRobin{counter: counter}, nil
	case WeightedRoundRobin:
		return weightedRoundRobin{counter: counter}, nil
	case LeastConnections:
		return leastConnections{}, nil
	case CapabilityBased:
		return capabilityBased{}, nil
	default:
		return nil, fmt.Errorf("unknown balancer strategy %q", name)
	}
}

type roundRobin struct{ counter Counter }

func (roundRobin) Name() string { return RoundRobin }

func (s roundRobin) Pick(ctx context.Context, candidates []domain.Node, _ *domain.Transaction) (domain.Node, bool, error) {
	n, err := s.counter.Next(ctx, RoundRobin)
	if err != nil {
		return domain.Node{}, false, err
	}
	return candidates[n%uint64(len(candidates))], true, nil
}

type weightedRoundRobin struct{ counter Counter }

func (weightedRoundRobin) Name() string { return WeightedRoundRobin }

// Pick maps the counter into cumulative spare-capacity weights, so a node
// with twice the spare capacity is chosen twice as often.
func (s weightedRoundRobin) Pick(ctx context.Context, candidates []domain.Node, _ *domain.Transaction) (domain.Node, bool, error) {
	var total uint64
	for _, c := range candidates {
		total += uint64(weight(c))
	}
	n, err := s.counter.Next(ctx, WeightedRoundRobin)
	if err != nil {
		return domain.Node{}, false, err
	}
	slot := n % total
	for _, c := range candidates {
		w := uint64(weight(c))
		if slot < w {
			return c, true, nil
		}
		slot -= w
	}
	return candidates[len(candidates)-1], true, nil
}

func weight(n domain.Node) int {
	if w := n.SpareCapacity(); w > 1 {
		return w
	}
	return 1
}

type leastConnections struct{}

func (leastConnections) Name() string { return LeastConnections }

func (leastConnections) Pick(_ context.Context, candidates []domain.Node, _ *domain.Transaction) (domain.Node, bool, error) {
	return leastLoaded(candidates), true, nil
}

func leastLoaded(candidates []domain.Node) domain.Node {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.CurrentLoad < best.CurrentLoad {
			best = c
		}
	}
	return best
}

type capabilityBased struct{}

func (capabilityBased) Name() string { return CapabilityBased }

func (capabilityBased) Pick(_ context.Context, candidates []domain.Node, tx *domain.Transaction) (domain.Node, bool, error) {
	var required []string
	if tx != nil {
		required = tx.RequiredCapabilities()
	}
	matching := candidates[:0:0]
	for _, c := range candidates {
		if c.Supports(required) {
			matching = append(matching, c)
		}
	}
	if len(matching) == 0 {
		return domain.Node{}, false, nil
	}
	return leastLoaded(matching), true, nil
}

func sortByID(nodes []domain.Node) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
}
