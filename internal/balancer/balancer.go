// Package balancer tracks processing nodes and picks one for each
// transaction using a configurable strategy.
package balancer

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vanshika/fintrace/txnengine/internal/domain"
	"github.com/vanshika/fintrace/txnengine/internal/metrics"
)

var (
	// ErrNoAvailableNode is returned by SelectNode when no healthy node has
	// spare capacity for the transaction.
	ErrNoAvailableNode = errors.New("no available node")
	// ErrUnknownNode is returned when updating a node that was never registered.
	ErrUnknownNode = errors.New("unknown node")
)

// Mirror receives a copy of every registry change. The cache implements it.
type Mirror interface {
	PutNode(ctx context.Context, node domain.Node) error
	DeleteNode(ctx context.Context, id string) error
}

// Balancer owns the node registry. It is safe for concurrent use.
type Balancer struct {
	mu         sync.RWMutex
	nodes      map[string]*domain.Node
	strategy   Strategy
	mirror     Mirror
	staleAfter time.Duration
	log        *zap.Logger
	now        func() time.Time
}

// Option customises a Balancer.
type Option func(*Balancer)

// WithMirror copies registry changes into m on a best-effort basis.
func WithMirror(m Mirror) Option {
	return func(b *Balancer) { b.mirror = m }
}

// WithStaleAfter overrides the heartbeat staleness window.
func WithStaleAfter(d time.Duration) Option {
	return func(b *Balancer) {
		if d > 0 {
			b.staleAfter = d
		}
	}
}

func withClock(now func() time.Time) Option {
	return func(b *Balancer) { b.now = now }
}

func New(strategy Strategy, logger *zap.Logger, opts ...Option) *Balancer {
	b := &Balancer{
		nodes:      make(map[string]*domain.Node),
		strategy:   strategy,
		staleAfter: domain.NodeStaleAfter,
		log:        logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Strategy returns the configured strategy name.
func (b *Balancer) Strategy() string { return b.strategy.Name() }

// RegisterNode upserts a node. Re-registering keeps the current load but
// refreshes capacity, capabilities and the heartbeat.
func (b *Balancer) RegisterNode(ctx context.Context, id string, capacity int, capabilities []string) domain.Node {
	b.mu.Lock()
	n, ok := b.nodes[id]
	if !ok {
		n = &domain.Node{ID: id}
		b.nodes[id] = n
	}
	n.Capacity = capacity
	n.Capabilities = append([]string(nil), capabilities...)
	n.LastHeartbeat = b.now().UTC()
	n.Healthy = true
	snapshot := *n
	b.mu.Unlock()

	b.log.Info("node registered",
		zap.String("node_id", id),
		zap.Int("capacity", capacity),
		zap.Strings("capabilities", capabilities))
	b.mirrorPut(ctx, snapshot)
	return snapshot
}

// UpdateNodeLoad records the node's current load and refreshes its heartbeat.
// It does not clear an unhealthy flag set by SetHealthy; only SetHealthy or
// re-registration does.
func (b *Balancer) UpdateNodeLoad(ctx context.Context, id string, load int) error {
	b.mu.Lock()
	n, ok := b.nodes[id]
	if !ok {
		b.mu.Unlock()
		return ErrUnknownNode
	}
	if load < 0 {
		load = 0
	}
	n.CurrentLoad = load
	n.LastHeartbeat = b.now().UTC()
	snapshot := *n
	b.mu.Unlock()

	b.mirrorPut(ctx, snapshot)
	return nil
}

// SetHealthy flips the health flag without touching the heartbeat.
func (b *Balancer) SetHealthy(ctx context.Context, id string, healthy bool) error {
	b.mu.Lock()
	n, ok := b.nodes[id]
	if !ok {
		b.mu.Unlock()
		return ErrUnknownNode
	}
	n.Healthy = healthy
	snapshot := *n
	b.mu.Unlock()

	b.mirrorPut(ctx, snapshot)
	return nil
}

// Deregister removes a node, typically when its worker exits.
func (b *Balancer) Deregister(ctx context.Context, id string) {
	b.mu.Lock()
	delete(b.nodes, id)
	b.mu.Unlock()

	if b.mirror != nil {
		if err := b.mirror.DeleteNode(ctx, id); err != nil {
			b.log.Warn("node mirror delete failed", zap.String("node_id", id), zap.Error(err))
		}
	}
}

// SelectNode returns the id of the node that should run tx.
func (b *Balancer) SelectNode(ctx context.Context, tx *domain.Transaction) (string, error) {
	candidates := b.available()
	if len(candidates) == 0 {
		metrics.Selections.WithLabelValues(b.strategy.Name(), "none").Inc()
		return "", ErrNoAvailableNode
	}

	node, ok, err := b.strategy.Pick(ctx, candidates, tx)
	if err != nil {
		metrics.Selections.WithLabelValues(b.strategy.Name(), "error").Inc()
		return "", err
	}
	if !ok {
		metrics.Selections.WithLabelValues(b.strategy.Name(), "none").Inc()
		return "", ErrNoAvailableNode
	}
	metrics.Selections.WithLabelValues(b.strategy.Name(), "selected").Inc()
	return node.ID, nil
}

func (b *Balancer) available() []domain.Node {
	now := b.now()
	b.mu.RLock()
	out := make([]domain.Node, 0, len(b.nodes))
	for _, n := range b.nodes {
		if n.Available(now, b.staleAfter) {
			out = append(out, *n)
		}
	}
	b.mu.RUnlock()
	sortByID(out)
	return out
}

// Nodes returns a snapshot of every registered node, sorted by id. Stale
// nodes are reported unhealthy.
func (b *Balancer) Nodes() []domain.Node {
	now := b.now()
	b.mu.RLock()
	out := make([]domain.Node, 0, len(b.nodes))
	for _, n := range b.nodes {
		cp := *n
		if now.Sub(cp.LastHeartbeat) >= b.staleAfter {
			cp.Healthy = false
		}
		out = append(out, cp)
	}
	b.mu.RUnlock()
	sortByID(out)
	return out
}

// HealthSummary counts healthy (fresh heartbeat and flagged healthy) and
// total registered nodes.
func (b *Balancer) HealthSummary() (healthy, total int) {
	for _, n := range b.Nodes() {
		total++
		if n.Healthy {
			healthy++
		}
	}
	return healthy, total
}

func (b *Balancer) mirrorPut(ctx context.Context, n domain.Node) {
	if b.mirror == nil {
		return
	}
	if err := b.mirror.PutNode(ctx, n); err != nil {
		b.log.Warn("node mirror write failed", zap.String("node_id", n.ID), zap.Error(err))
	}
}
