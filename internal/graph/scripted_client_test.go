package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshika/fintrace/txnengine/internal/config"
)

func TestScriptedClient_MatchesFragmentsInOrder(t *testing.T) {
	c := NewScriptedClient().
		On("MATCH (t:Transaction", Result{Records: []Record{{"n": int64(1)}}}).
		On("MATCH (t:Transaction", Result{Records: []Record{{"n": int64(2)}}})

	ctx := context.Background()
	res, err := c.ExecuteRead(ctx, "MATCH (t:Transaction {id: $id}) RETURN 1 AS n", map[string]any{"id": "a"})
	require.NoError(t, err)
	rec, ok := res.Single()
	require.True(t, ok)
	assert.Equal(t, int64(1), rec["n"])

	res, err = c.ExecuteWrite(ctx, "MATCH (t:Transaction) SET t.x = 1", nil)
	require.NoError(t, err)
	rec, _ = res.Single()
	assert.Equal(t, int64(2), rec["n"])

	res, err = c.ExecuteRead(ctx, "MATCH (t:Transaction) RETURN t", nil)
	require.NoError(t, err)
	_, ok = res.Single()
	assert.False(t, ok)

	calls := c.Calls()
	require.Len(t, calls, 3)
	assert.False(t, calls[0].Write)
	assert.True(t, calls[1].Write)
	assert.Equal(t, "a", calls[0].Params["id"])
}

func TestScriptedClient_Failures(t *testing.T) {
	boom := errors.New("boom")
	c := NewScriptedClient().FailOn("CREATE", boom)

	_, err := c.ExecuteWrite(context.Background(), "CREATE (n)", nil)
	assert.ErrorIs(t, err, boom)

	c.FailAll(boom).WithConnectivityError(boom)
	_, err = c.ExecuteRead(context.Background(), "RETURN 1", nil)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, c.VerifyConnectivity(context.Background()), boom)
}

func TestNewNeo4jClient_RequiresURI(t *testing.T) {
	_, err := NewNeo4jClient(context.Background(), OptionsFromConfig(config.GraphConfig{}))
	assert.ErrorIs(t, err, ErrMissingURI)
}
