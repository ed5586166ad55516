package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshika/fintrace/txnengine/internal/domain"
	"github.com/vanshika/fintrace/txnengine/internal/graph"
)

func TestGraph_CreateLinksAccounts(t *testing.T) {
	client := graph.NewScriptedClient().
		On("CREATE (t:Transaction", graph.Result{Records: []graph.Record{{"transactionId": "tx-1"}}})
	s := NewGraph(client)

	tx := sampleTransaction("tx-1", time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, s.Create(context.Background(), tx))

	calls := client.Calls()
	require.Len(t, calls, 1)
	call := calls[0]
	assert.True(t, call.Write)
	assert.True(t, strings.Contains(call.Query, "PARTICIPATED_IN"))
	assert.Equal(t, "ACC-A", call.Params["source"])
	assert.Equal(t, "ACC-B", call.Params["destination"])

	props, ok := call.Params["props"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "1000.5", props["amount"])
	assert.Equal(t, "PENDING", props["status"])
	assert.Equal(t, `{"channel":"api"}`, props["metadataJson"])
}

func TestGraph_CreateDuplicate(t *testing.T) {
	s := NewGraph(graph.NewScriptedClient())
	err := s.Create(context.Background(), sampleTransaction("tx-1", time.Now()))
	assert.ErrorIs(t, err, ErrDuplicateTransaction)
}

func TestGraph_GetDecodesRecord(t *testing.T) {
	client := graph.NewScriptedClient().On("t.userId AS userId", graph.Result{Records: []graph.Record{{
		"transactionId":      "tx-9",
		"userId":             "user-9",
		"sourceAccount":      "ACC-A",
		"destinationAccount": "ACC-B",
		"type":               "payment",
		"amount":             "100",
		"currency":           "USD",
		"priority":           int64(1),
		"status":             "COMPLETED",
		"retryCount":         int64(2),
		"maxRetries":         int64(3),
		"processingTime":     0.5,
		"metadataJson":       `{"merchant":"m-1"}`,
		"createdAt":          "2025-03-01T00:00:00Z",
		"completedAt":        "2025-03-01T00:00:01.5Z",
	}}})
	s := NewGraph(client)

	tx, err := s.Get(context.Background(), "tx-9")
	require.NoError(t, err)
	assert.Equal(t, domain.TypePayment, tx.Type)
	assert.Equal(t, domain.PriorityCritical, tx.Priority)
	assert.Equal(t, 2, tx.RetryCount)
	assert.Equal(t, "m-1", tx.Metadata["merchant"])
	require.NotNil(t, tx.CompletedAt)
	assert.Equal(t, 1500*time.Millisecond, tx.CompletedAt.Sub(tx.CreatedAt))
}

func TestGraph_GetMissing(t *testing.T) {
	_, err := NewGraph(graph.NewScriptedClient()).Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGraph_TransitionNotApplied(t *testing.T) {
	client := graph.NewScriptedClient().
		On("t.userId AS userId", graph.Result{Records: []graph.Record{{
			"transactionId": "tx-1", "amount": "1", "status": "PROCESSING",
		}}})
	s := NewGraph(client)

	applied, err := s.Transition(context.Background(), "tx-1", []domain.Status{domain.StatusPending}, domain.StatusCancelled, "")
	require.NoError(t, err)
	assert.False(t, applied)

	calls := client.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, []string{"PENDING"}, calls[0].Params["from"])
	assert.Equal(t, true, calls[0].Params["terminal"])
}

func TestGraph_OutcomesAndCounts(t *testing.T) {
	client := graph.NewScriptedClient().
		On(`coalesce(t.processingNode, "") <> ""`, graph.Result{Records: []graph.Record{
			{"transactionId": "a", "type": "deposit", "status": "COMPLETED", "processingTime": 0.1, "completedAt": "2025-03-01T00:00:00Z"},
			{"transactionId": "b", "type": "payment", "status": "FAILED", "processingTime": int64(1)},
		}}).
		On("count(t) AS total", graph.Result{Records: []graph.Record{
			{"status": "COMPLETED", "total": int64(4)},
			{"status": "PENDING", "total": int64(2)},
		}})
	s := NewGraph(client)
	ctx := context.Background()

	outcomes, err := s.RecentOutcomes(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.Equal(t, domain.StatusFailed, outcomes[1].Status)
	assert.Equal(t, 1.0, outcomes[1].ProcessingTime)

	counts, err := s.CountByStatus(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(4), counts[domain.StatusCompleted])
	assert.Equal(t, int64(2), counts[domain.StatusPending])
}

func TestGraph_PropagatesErrors(t *testing.T) {
	boom := errors.New("bolt down")
	s := NewGraph(graph.NewScriptedClient().FailAll(boom).WithConnectivityError(boom))
	ctx := context.Background()

	assert.ErrorIs(t, s.Create(ctx, sampleTransaction("x", time.Now())), boom)
	_, err := s.Get(ctx, "x")
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, s.Ping(ctx), boom)
}
