package generator

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshika/fintrace/txnengine/internal/domain"
)

func TestGenerate_ProducesValidRequests(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumTransactions = 500
	cfg.NumAccounts = 20

	dataset, err := New(cfg).Generate(context.Background())
	require.NoError(t, err)
	require.Len(t, dataset.Accounts, 20)
	require.Len(t, dataset.Requests, 500)

	seenTypes := map[domain.Type]bool{}
	for _, req := range dataset.Requests {
		require.NoError(t, req.Validate(), req.TransactionID)
		seenTypes[req.Type] = true
	}
	assert.Len(t, seenTypes, len(domain.Types))
}

func TestGenerate_Deterministic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumTransactions = 50

	a, err := New(cfg).Generate(context.Background())
	require.NoError(t, err)
	b, err := New(cfg).Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestGenerate_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(DefaultConfig()).Generate(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWriteAndReadDataset(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumTransactions = 25
	cfg.NumAccounts = 5
	dataset, err := New(cfg).Generate(context.Background())
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, WriteDataset(dataset, dir))

	reqs, err := ReadRequests(filepath.Join(dir, "requests.json"))
	require.NoError(t, err)
	require.Len(t, reqs, 25)
	assert.Equal(t, dataset.Requests[0].TransactionID, reqs[0].TransactionID)
	assert.True(t, dataset.Requests[0].Amount.Equal(reqs[0].Amount))

	accounts, err := ReadAccounts(filepath.Join(dir, "accounts.json"))
	require.NoError(t, err)
	require.Len(t, accounts, 5)
	assert.True(t, accounts[0].Balance.Equal(dataset.Accounts[0].Balance))
}
