package balancer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vanshika/fintrace/txnengine/internal/cache"
	"github.com/vanshika/fintrace/txnengine/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newBalancer(t *testing.T, strategy string, opts ...Option) (*Balancer, *fakeClock) {
	t.Helper()
	s, err := NewStrategy(strategy, NewLocalCounter())
	require.NoError(t, err)
	clock := &fakeClock{now: time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)}
	opts = append(opts, withClock(clock.Now))
	return New(s, zap.NewNop(), opts...), clock
}

func selectN(t *testing.T, b *Balancer, n int, tx *domain.Transaction) []string {
	t.Helper()
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id, err := b.SelectNode(context.Background(), tx)
		require.NoError(t, err)
		out = append(out, id)
	}
	return out
}

func TestSelectNode_NoNodes(t *testing.T) {
	b, _ := newBalancer(t, RoundRobin)
	_, err := b.SelectNode(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoAvailableNode)
}

func TestRoundRobin_Cycles(t *testing.T) {
	b, _ := newBalancer(t, RoundRobin)
	ctx := context.Background()
	b.RegisterNode(ctx, "node-b", 5, nil)
	b.RegisterNode(ctx, "node-a", 5, nil)
	b.RegisterNode(ctx, "node-c", 5, nil)

	assert.Equal(t, []string{"node-a", "node-b", "node-c", "node-a"}, selectN(t, b, 4, nil))
}

func TestWeightedRoundRobin_ProportionalToSpareCapacity(t *testing.T) {
	b, _ := newBalancer(t, WeightedRoundRobin)
	ctx := context.Background()
	b.RegisterNode(ctx, "big", 10, nil)
	b.RegisterNode(ctx, "small", 10, nil)
	require.NoError(t, b.UpdateNodeLoad(ctx, "big", 4))   // spare 6
	require.NoError(t, b.UpdateNodeLoad(ctx, "small", 7)) // spare 3

	counts := map[string]int{}
	for _, id := range selectN(t, b, 90, nil) {
		counts[id]++
	}
	assert.Equal(t, 60, counts["big"])
	assert.Equal(t, 30, counts["small"])
}

func TestWeightedRoundRobin_MinimumWeightIsOne(t *testing.T) {
	assert.Equal(t, 1, weight(domain.Node{Capacity: 3, CurrentLoad: 3}))
	assert.Equal(t, 1, weight(domain.Node{Capacity: 2, CurrentLoad: 1}))
	assert.Equal(t, 4, weight(domain.Node{Capacity: 5, CurrentLoad: 1}))
}

func TestLeastConnections_PicksMinimumLoad(t *testing.T) {
	b, _ := newBalancer(t, LeastConnections)
	ctx := context.Background()
	b.RegisterNode(ctx, "n1", 10, nil)
	b.RegisterNode(ctx, "n2", 10, nil)
	b.RegisterNode(ctx, "n3", 10, nil)
	require.NoError(t, b.UpdateNodeLoad(ctx, "n1", 5))
	require.NoError(t, b.UpdateNodeLoad(ctx, "n2", 2))
	require.NoError(t, b.UpdateNodeLoad(ctx, "n3", 8))

	id, err := b.SelectNode(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "n2", id)
}

func TestCapabilityBased_FiltersThenLeastLoaded(t *testing.T) {
	b, _ := newBalancer(t, CapabilityBased)
	ctx := context.Background()
	b.RegisterNode(ctx, "fx-busy", 10, []string{"transfer", "fx"})
	b.RegisterNode(ctx, "fx-idle", 10, []string{"transfer", "fx"})
	b.RegisterNode(ctx, "plain", 10, []string{"transfer"})
	require.NoError(t, b.UpdateNodeLoad(ctx, "fx-busy", 6))
	require.NoError(t, b.UpdateNodeLoad(ctx, "fx-idle", 3))

	tx := &domain.Transaction{Metadata: map[string]any{"required_capabilities": []any{"fx"}}}
	id, err := b.SelectNode(ctx, tx)
	require.NoError(t, err)
	assert.Equal(t, "fx-idle", id)

	tx = &domain.Transaction{Metadata: map[string]any{"required_capabilities": []any{"crypto"}}}
	_, err = b.SelectNode(ctx, tx)
	assert.ErrorIs(t, err, ErrNoAvailableNode)

	id, err = b.SelectNode(ctx, &domain.Transaction{})
	require.NoError(t, err)
	assert.Equal(t, "plain", id)
}

func TestSelectNode_ExcludesStaleFullAndUnhealthy(t *testing.T) {
	b, clock := newBalancer(t, LeastConnections)
	ctx := context.Background()
	b.RegisterNode(ctx, "stale", 10, nil)
	clock.Advance(61 * time.Second)
	b.RegisterNode(ctx, "full", 2, nil)
	b.RegisterNode(ctx, "sick", 10, nil)
	b.RegisterNode(ctx, "ok", 10, nil)
	require.NoError(t, b.UpdateNodeLoad(ctx, "full", 2))
	require.NoError(t, b.UpdateNodeLoad(ctx, "ok", 9))
	require.NoError(t, b.SetHealthy(ctx, "sick", false))

	id, err := b.SelectNode(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", id)

	healthy, total := b.HealthSummary()
	assert.Equal(t, 2, healthy, "full and ok are healthy; stale and sick are not")
	assert.Equal(t, 4, total)

	require.NoError(t, b.UpdateNodeLoad(ctx, "stale", 0))
	id, err = b.SelectNode(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "stale", id, "a fresh heartbeat brings the node back")
}

func TestUpdateNodeLoad_KeepsUnhealthyFlag(t *testing.T) {
	b, _ := newBalancer(t, LeastConnections)
	ctx := context.Background()
	b.RegisterNode(ctx, "sick", 10, nil)
	require.NoError(t, b.SetHealthy(ctx, "sick", false))

	require.NoError(t, b.UpdateNodeLoad(ctx, "sick", 1))
	_, err := b.SelectNode(ctx, nil)
	assert.ErrorIs(t, err, ErrNoAvailableNode, "a load report is not a health check")
	healthy, _ := b.HealthSummary()
	assert.Zero(t, healthy)

	require.NoError(t, b.SetHealthy(ctx, "sick", true))
	id, err := b.SelectNode(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "sick", id)

	require.NoError(t, b.SetHealthy(ctx, "sick", false))
	b.RegisterNode(ctx, "sick", 10, nil)
	id, err = b.SelectNode(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "sick", id, "re-registration resets health")
}

func TestUpdateNodeLoad_UnknownNode(t *testing.T) {
	b, _ := newBalancer(t, RoundRobin)
	assert.ErrorIs(t, b.UpdateNodeLoad(context.Background(), "ghost", 1), ErrUnknownNode)
}

func TestRegisterNode_IsIdempotentUpsert(t *testing.T) {
	b, _ := newBalancer(t, RoundRobin)
	ctx := context.Background()
	b.RegisterNode(ctx, "n1", 5, []string{"transfer"})
	require.NoError(t, b.UpdateNodeLoad(ctx, "n1", 3))
	b.RegisterNode(ctx, "n1", 8, []string{"payment"})

	nodes := b.Nodes()
	require.Len(t, nodes, 1)
	assert.Equal(t, 8, nodes[0].Capacity)
	assert.Equal(t, 3, nodes[0].CurrentLoad)
	assert.Equal(t, []string{"payment"}, nodes[0].Capabilities)
}

func TestMirror_WritesToCacheHash(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c := cache.New(client, time.Hour)

	b, _ := newBalancer(t, RoundRobin, WithMirror(c))
	ctx := context.Background()
	b.RegisterNode(ctx, "n1", 4, []string{"deposit"})
	b.RegisterNode(ctx, "n2", 4, nil)
	require.NoError(t, b.UpdateNodeLoad(ctx, "n1", 2))

	nodes, err := c.Nodes(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 2)

	b.Deregister(ctx, "n2")
	nodes, err = c.Nodes(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, 2, nodes[0].CurrentLoad)
}

type failingMirror struct{}

func (failingMirror) PutNode(context.Context, domain.Node) error { return errors.New("down") }
func (failingMirror) DeleteNode(context.Context, string) error   { return errors.New("down") }

func TestMirror_FailuresAreBestEffort(t *testing.T) {
	b, _ := newBalancer(t, RoundRobin, WithMirror(failingMirror{}))
	ctx := context.Background()
	b.RegisterNode(ctx, "n1", 1, nil)

	id, err := b.SelectNode(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "n1", id)
	b.Deregister(ctx, "n1")
	assert.Empty(t, b.Nodes())
}

func TestRedisCounter_SharedAcrossBalancers(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	counter := NewRedisCounter(cache.New(client, time.Hour))

	ctx := context.Background()
	first, err := counter.Next(ctx, RoundRobin)
	require.NoError(t, err)
	second, err := NewRedisCounter(cache.New(client, time.Hour)).Next(ctx, RoundRobin)
	require.NoError(t, err)

	assert.Equal(t, uint64(0), first)
	assert.Equal(t, uint64(1), second)
	v, err := mr.Get("lb_counter:round_robin")
	require.NoError(t, err)
	assert.Equal(t, "2", v)
}

func TestLocalCounter_Concurrent(t *testing.T) {
	c := NewLocalCounter()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Next(context.Background(), "k")
		}()
	}
	wg.Wait()
	n, err := c.Next(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, uint64(50), n)
}

func TestNewStrategy_Unknown(t *testing.T) {
	_, err := NewStrategy("random", NewLocalCounter())
	assert.Error(t, err)
}
