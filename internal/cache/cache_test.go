package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshika/fintrace/txnengine/internal/domain"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, time.Hour), mr
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestStatus_RoundTripWithTTL(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	view := domain.StatusView{
		TransactionID:  "tx-1",
		Status:         domain.StatusCompleted,
		ProcessingNode: "node-1",
		ProcessingTime: 0.25,
		ResultData:     map[string]any{"source_balance": "4000"},
		UpdatedAt:      time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, c.SetStatus(ctx, view))

	got, err := c.GetStatus(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, view.Status, got.Status)
	assert.Equal(t, view.ProcessingNode, got.ProcessingNode)
	assert.Equal(t, "4000", got.ResultData["source_balance"])
	assert.Equal(t, time.Hour, mr.TTL(StatusKey("tx-1")))

	mr.FastForward(2 * time.Hour)
	_, err = c.GetStatus(ctx, "tx-1")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestBalance_DefaultsToZero(t *testing.T) {
	c, _ := newTestCache(t)
	bal, err := c.Balance(context.Background(), "ACC-NEW")
	require.NoError(t, err)
	assert.True(t, bal.IsZero())
}

func TestTransferStyleMutations(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.SetBalance(ctx, "ACC-A", dec("5000")))

	src, err := c.DebitIfSufficient(ctx, "ACC-A", dec("1000"))
	require.NoError(t, err)
	assert.True(t, src.Equal(dec("4000")), src.String())

	dst, err := c.Credit(ctx, "ACC-B", dec("1000"))
	require.NoError(t, err)
	assert.True(t, dst.Equal(dec("1000")), dst.String())

	bal, err := c.Balance(ctx, "ACC-A")
	require.NoError(t, err)
	assert.True(t, bal.Equal(dec("4000")))
}

func TestDebitIfSufficient_RefusesOverdraft(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.SetBalance(ctx, "ACC-A", dec("50.5")))

	bal, err := c.DebitIfSufficient(ctx, "ACC-A", dec("100"))
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.True(t, bal.Equal(dec("50.5")), bal.String())

	after, err := c.Balance(ctx, "ACC-A")
	require.NoError(t, err)
	assert.True(t, after.Equal(dec("50.5")))
}

func TestDebitIfSufficient_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.SetBalance(ctx, "ACC-A", dec("1000")))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.DebitIfSufficient(ctx, "ACC-A", dec("300")); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, success)
	bal, err := c.Balance(ctx, "ACC-A")
	require.NoError(t, err)
	assert.True(t, bal.Equal(dec("100")), bal.String())
}

func TestDailyTotal_AccumulatesAndExpires(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	day := time.Date(2025, 6, 1, 15, 0, 0, 0, time.UTC)

	_, err := c.AddDailyTotal(ctx, "user-1", day, dec("100"))
	require.NoError(t, err)
	total, err := c.AddDailyTotal(ctx, "user-1", day, dec("250.25"))
	require.NoError(t, err)
	assert.True(t, total.Equal(dec("350.25")), total.String())

	got, err := c.DailyTotal(ctx, "user-1", day)
	require.NoError(t, err)
	assert.True(t, got.Equal(dec("350.25")))
	assert.Equal(t, 24*time.Hour, mr.TTL(DailyKey("user-1", day)))

	other, err := c.DailyTotal(ctx, "user-1", day.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.True(t, other.IsZero())
}

func TestDailyKey_UsesUTCDate(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*3600)
	day := time.Date(2025, 6, 2, 5, 0, 0, 0, loc)
	assert.Equal(t, "daily_limit:u:2025-06-01", DailyKey("u", day))
}

func TestNodes_PutListDelete(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.PutNode(ctx, domain.Node{ID: "n1", Capacity: 10, Healthy: true}))
	require.NoError(t, c.PutNode(ctx, domain.Node{ID: "n2", Capacity: 5}))

	nodes, err := c.Nodes(ctx)
	require.NoError(t, err)
	assert.Len(t, nodes, 2)

	require.NoError(t, c.DeleteNode(ctx, "n1"))
	nodes, err = c.Nodes(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "n2", nodes[0].ID)
}

func TestIncrAndPing(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.Ping(ctx))

	n, err := c.Incr(ctx, "lb_counter:round_robin")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = c.Incr(ctx, "lb_counter:round_robin")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
