package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshika/fintrace/txnengine/internal/domain"
)

func sampleTransaction(id string, created time.Time) *domain.Transaction {
	tx := &domain.Transaction{
		ID:                 id,
		UserID:             "user-1",
		SourceAccount:      "ACC-A",
		DestinationAccount: "ACC-B",
		Type:               domain.TypeTransfer,
		Amount:             decimal.RequireFromString("1000.50"),
		Currency:           "USD",
		Metadata:           map[string]any{"channel": "api"},
		Priority:           domain.PriorityHigh,
		TimeoutSeconds:     domain.DefaultTimeoutSeconds,
		Status:             domain.StatusPending,
		MaxRetries:         domain.DefaultMaxRetries,
		CreatedAt:          created,
		UpdatedAt:          created,
	}
	tx.Checksum = domain.ComputeChecksum(tx)
	return tx
}

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	created := time.Now().UTC().Add(-time.Minute).Truncate(time.Millisecond)

	tx := sampleTransaction("tx-1", created)
	require.NoError(t, s.Create(ctx, tx))
	assert.ErrorIs(t, s.Create(ctx, tx), ErrDuplicateTransaction)

	got, err := s.Get(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.True(t, got.Amount.Equal(tx.Amount))
	assert.Equal(t, "api", got.Metadata["channel"])
	assert.True(t, domain.VerifyChecksum(got))

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	applied, err := s.Transition(ctx, "tx-1", []domain.Status{domain.StatusPending}, domain.StatusProcessing, "node-1")
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = s.Transition(ctx, "tx-1", []domain.Status{domain.StatusPending}, domain.StatusCancelled, "")
	require.NoError(t, err)
	assert.False(t, applied, "already processing")

	_, err = s.Transition(ctx, "missing", []domain.Status{domain.StatusPending}, domain.StatusCancelled, "")
	assert.ErrorIs(t, err, ErrNotFound)

	done := time.Now().UTC()
	require.NoError(t, s.SaveResult(ctx, domain.ProcessingResult{
		TransactionID:  "tx-1",
		Success:        true,
		Status:         domain.StatusCompleted,
		ProcessingTime: 0.42,
		NodeID:         "node-1",
		Attempts:       2,
		CompletedAt:    done,
	}, 1))

	got, err = s.Get(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, "node-1", got.ProcessingNode)
	assert.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.CompletedAt)

	outcomes, err := s.RecentOutcomes(ctx, done.Add(-time.Second))
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, domain.TypeTransfer, outcomes[0].Type)
	assert.InDelta(t, 0.42, outcomes[0].ProcessingTime, 1e-9)

	require.NoError(t, s.Create(ctx, sampleTransaction("tx-2", created)))
	counts, err := s.CountByStatus(ctx, created.Add(-time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[domain.StatusCompleted])
	assert.Equal(t, int64(1), counts[domain.StatusPending])

	// A record that never reached a node is not a processing outcome.
	require.NoError(t, s.SaveResult(ctx, domain.ProcessingResult{
		TransactionID: "tx-2",
		Status:        domain.StatusFailed,
		ErrorMessage:  "enqueue failed: broker unreachable",
		CompletedAt:   time.Now().UTC(),
	}, 0))
	outcomes, err = s.RecentOutcomes(ctx, done.Add(-time.Second))
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, "tx-1", outcomes[0].TransactionID)

	applied, err = s.Transition(ctx, "tx-2", []domain.Status{domain.StatusFailed}, domain.StatusPending, "")
	require.NoError(t, err)
	require.True(t, applied)
	got, err = s.Get(ctx, "tx-2")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Empty(t, got.ErrorMessage, "reopening clears the failure")
	assert.Nil(t, got.CompletedAt)

	assert.ErrorIs(t, s.SaveResult(ctx, domain.ProcessingResult{TransactionID: "missing"}, 0), ErrNotFound)
	require.NoError(t, s.Ping(ctx))
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	tx := sampleTransaction("tx-1", time.Now())
	require.NoError(t, s.Create(ctx, tx))

	tx.Metadata["channel"] = "mutated"
	got, err := s.Get(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, "api", got.Metadata["channel"])

	got.Status = domain.StatusFailed
	again, err := s.Get(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, again.Status)
}

func TestMemoryStore_TerminalTransitionStampsCompletion(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, sampleTransaction("tx-1", time.Now())))

	applied, err := s.Transition(ctx, "tx-1", []domain.Status{domain.StatusPending}, domain.StatusCancelled, "")
	require.NoError(t, err)
	require.True(t, applied)

	got, err := s.Get(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)
	assert.NotNil(t, got.CompletedAt)

	outcomes, err := s.RecentOutcomes(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, outcomes, "cancelled records are not outcomes")
}
