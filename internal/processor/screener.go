package processor

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/vanshika/fintrace/txnengine/internal/domain"
)

// Screening is the outcome of a compliance check that did not reject.
type Screening struct {
	// Report marks the transaction for regulatory amount reporting.
	Report bool
}

// Screener runs compliance checks before execution. A returned
// ValidationError fails the transaction.
type Screener interface {
	Screen(ctx context.Context, tx *domain.Transaction) (Screening, error)
}

// ThresholdScreener flags amounts at or above Threshold for reporting and
// rejects transactions whose metadata marks a sanctioned party.
type ThresholdScreener struct {
	Threshold decimal.Decimal
}

func (s ThresholdScreener) Screen(_ context.Context, tx *domain.Transaction) (Screening, error) {
	if sanctioned, _ := tx.Metadata["sanctioned"].(bool); sanctioned {
		return Screening{}, invalid("compliance screening failed: sanctioned party")
	}
	return Screening{Report: !s.Threshold.IsZero() && tx.Amount.GreaterThanOrEqual(s.Threshold)}, nil
}
