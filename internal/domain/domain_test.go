package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTransaction() *Transaction {
	return &Transaction{
		ID:                 "TX-1",
		UserID:             "USR-1",
		SourceAccount:      "A",
		DestinationAccount: "B",
		Type:               TypeTransfer,
		Amount:             decimal.RequireFromString("1000"),
		Currency:           "USD",
		Priority:           PriorityNormal,
	}
}

func TestChecksum_StableAcrossAmountScale(t *testing.T) {
	a := sampleTransaction()
	b := sampleTransaction()
	b.Amount = decimal.RequireFromString("1000.00")

	assert.Equal(t, ComputeChecksum(a), ComputeChecksum(b))
}

func TestChecksum_DetectsTampering(t *testing.T) {
	tx := sampleTransaction()
	tx.Checksum = ComputeChecksum(tx)
	require.True(t, VerifyChecksum(tx))

	tx.Amount = decimal.RequireFromString("1000.01")
	assert.False(t, VerifyChecksum(tx))

	tx = sampleTransaction()
	tx.Checksum = ComputeChecksum(tx)
	tx.DestinationAccount = "C"
	assert.False(t, VerifyChecksum(tx))
}

func TestChecksum_EmptyNeverVerifies(t *testing.T) {
	tx := sampleTransaction()
	assert.False(t, VerifyChecksum(tx))
}

func TestParsePriority(t *testing.T) {
	cases := map[string]Priority{
		"":         PriorityNormal,
		"critical": PriorityCritical,
		"1":        PriorityCritical,
		"batch":    PriorityBatch,
		" High ":   PriorityHigh,
	}
	for in, want := range cases {
		got, err := ParsePriority(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParsePriority("urgent")
	assert.Error(t, err)
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	for _, s := range []Status{StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout} {
		assert.True(t, s.Terminal(), s)
	}
}

func TestNodeAvailable(t *testing.T) {
	now := time.Now()
	n := Node{ID: "n1", Capacity: 2, CurrentLoad: 1, LastHeartbeat: now.Add(-10 * time.Second), Healthy: true}
	assert.True(t, n.Available(now, NodeStaleAfter))

	stale := n
	stale.LastHeartbeat = now.Add(-61 * time.Second)
	assert.False(t, stale.Available(now, NodeStaleAfter))

	full := n
	full.CurrentLoad = 2
	assert.False(t, full.Available(now, NodeStaleAfter))

	down := n
	down.Healthy = false
	assert.False(t, down.Available(now, NodeStaleAfter))
}

func TestNodeSupports(t *testing.T) {
	n := Node{Capabilities: []string{"transfer", "fx"}}
	assert.True(t, n.Supports(nil))
	assert.True(t, n.Supports([]string{"fx"}))
	assert.False(t, n.Supports([]string{"fx", "crypto"}))
}

func TestRequiredCapabilities_FromDecodedJSON(t *testing.T) {
	tx := sampleTransaction()
	tx.Metadata = map[string]any{"required_capabilities": []any{"fx", 7, "swift"}}
	assert.Equal(t, []string{"fx", "swift"}, tx.RequiredCapabilities())

	tx.Metadata = map[string]any{"required_capabilities": "fx,swift"}
	assert.Equal(t, []string{"fx", "swift"}, tx.RequiredCapabilities())
}

func TestClone_DoesNotShareMetadata(t *testing.T) {
	tx := sampleTransaction()
	tx.Metadata = map[string]any{"k": "v"}
	cp := tx.Clone()
	cp.Metadata["k"] = "changed"
	assert.Equal(t, "v", tx.Metadata["k"])
}

func TestPriority_UnmarshalJSON(t *testing.T) {
	var req struct {
		Priority Priority `json:"priority"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"priority":1}`), &req))
	assert.Equal(t, PriorityCritical, req.Priority)

	require.NoError(t, json.Unmarshal([]byte(`{"priority":"batch"}`), &req))
	assert.Equal(t, PriorityBatch, req.Priority)

	assert.Error(t, json.Unmarshal([]byte(`{"priority":"urgent"}`), &req))
	assert.Error(t, json.Unmarshal([]byte(`{"priority":true}`), &req))
}
