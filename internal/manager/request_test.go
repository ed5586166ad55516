package manager

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshika/fintrace/txnengine/internal/domain"
)

func TestSubmitRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*SubmitRequest)
		problem string
	}{
		{name: "valid transfer"},
		{name: "upper case type", mutate: func(r *SubmitRequest) { r.Type = "TRANSFER" }},
		{name: "missing user", mutate: func(r *SubmitRequest) { r.UserID = "" }, problem: "user_id is required"},
		{name: "negative amount", mutate: func(r *SubmitRequest) { r.Amount = decimal.NewFromInt(-5) }, problem: "amount must be greater than zero"},
		{name: "unknown type", mutate: func(r *SubmitRequest) { r.Type = "refund" }, problem: "transaction_type must be one of"},
		{name: "transfer without source", mutate: func(r *SubmitRequest) { r.SourceAccount = "" }, problem: "source_account is required"},
		{name: "transfer without destination", mutate: func(r *SubmitRequest) { r.DestinationAccount = "" }, problem: "destination_account is required"},
		{name: "same account", mutate: func(r *SubmitRequest) { r.DestinationAccount = r.SourceAccount }, problem: "must differ"},
		{name: "bad currency", mutate: func(r *SubmitRequest) { r.Currency = "US" }, problem: "currency must be 3 characters"},
		{name: "priority out of range", mutate: func(r *SubmitRequest) { r.Priority = 9 }, problem: "priority failed max=5"},
		{name: "too many retries", mutate: func(r *SubmitRequest) { r.MaxRetries = 11 }, problem: "max_retries failed lte=10"},
		{
			name: "deposit needs no source",
			mutate: func(r *SubmitRequest) {
				r.Type = domain.TypeDeposit
				r.SourceAccount = ""
			},
		},
		{
			name: "withdrawal needs no destination",
			mutate: func(r *SubmitRequest) {
				r.Type = domain.TypeWithdrawal
				r.DestinationAccount = ""
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := transfer("tx-1", "100")
			if tt.mutate != nil {
				tt.mutate(&req)
			}
			err := req.Validate()
			if tt.problem == "" {
				assert.NoError(t, err)
				return
			}
			var verr *SubmitValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Error(), tt.problem)
		})
	}
}

func TestSubmitRequest_DecodesPriorityName(t *testing.T) {
	var req SubmitRequest
	body := `{"user_id":"u","source_account":"A","destination_account":"B","transaction_type":"transfer","amount":"12.50","currency":"EUR","priority":"CRITICAL"}`
	require.NoError(t, json.Unmarshal([]byte(body), &req))

	assert.Equal(t, domain.PriorityCritical, req.Priority)
	assert.True(t, req.Amount.Equal(decimal.RequireFromString("12.5")))
	assert.NoError(t, req.Validate())
}
