package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vanshika/fintrace/txnengine/internal/config"
	"github.com/vanshika/fintrace/txnengine/internal/domain"
	"github.com/vanshika/fintrace/txnengine/internal/manager"
)

func TestBuild_RedisBackedEngine(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Default()
	cfg.Redis.Addr = mr.Addr()
	cfg.Queue.Backend = "redis"
	cfg.Queue.PollInterval = 2 * time.Millisecond
	cfg.Balancer.Counter = "redis"
	cfg.Balancer.Strategy = "round_robin"
	cfg.Worker.PollTimeout = 20 * time.Millisecond
	cfg.Worker.IdleSleep = 5 * time.Millisecond
	cfg.Processor.DownstreamLatency = 0

	ctx := context.Background()
	a, err := Build(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	require.NoError(t, a.Cache.SetBalance(ctx, "ACC-A", decimal.NewFromInt(500)))
	require.NoError(t, a.Manager.Start(ctx, 2))
	t.Cleanup(func() { _ = a.Manager.Stop(context.Background()) })

	id, err := a.Manager.Submit(ctx, manager.SubmitRequest{
		UserID:        "user-1",
		SourceAccount: "ACC-A",
		Type:          domain.TypeWithdrawal,
		Amount:        decimal.NewFromInt(200),
		Currency:      "USD",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		v, err := a.Manager.Status(ctx, id)
		return err == nil && v.Status == domain.StatusCompleted
	}, 5*time.Second, 5*time.Millisecond)

	bal, err := a.Cache.Balance(ctx, "ACC-A")
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(300)))
	assert.True(t, mr.Exists("processing_nodes"))
}

func TestBuild_CacheUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Default()
	cfg.Redis.Addr = mr.Addr()
	mr.Close()

	_, err := Build(context.Background(), cfg, zap.NewNop())
	assert.ErrorContains(t, err, "connect cache")
}
