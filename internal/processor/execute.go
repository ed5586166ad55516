package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vanshika/fintrace/txnengine/internal/cache"
	"github.com/vanshika/fintrace/txnengine/internal/domain"
)

// Balance-mutating steps, journaled so a retry resumes after the last one
// that succeeded instead of applying it twice.
const (
	stepDebitSource       = "debit_source"
	stepCreditDestination = "credit_destination"
	stepDailyTotal        = "daily_total"
)

// execution is the state of one transaction across attempts.
type execution struct {
	tx        *domain.Transaction
	validated bool
	applied   map[string]decimal.Decimal
	data      map[string]any
}

func newExecution(tx *domain.Transaction) *execution {
	return &execution{
		tx:      tx,
		applied: make(map[string]decimal.Decimal),
		data:    make(map[string]any),
	}
}

// step runs fn once per execution and remembers its result.
func (e *execution) step(name string, fn func() (decimal.Decimal, error)) (decimal.Decimal, error) {
	if v, ok := e.applied[name]; ok {
		return v, nil
	}
	v, err := fn()
	if err != nil {
		return decimal.Zero, err
	}
	e.applied[name] = v
	return v, nil
}

func (p *Processor) execute(ctx context.Context, run *execution) error {
	tx := run.tx

	ref, err := p.gateway.Authorize(ctx, tx)
	if err != nil {
		return fmt.Errorf("authorize: %w", err)
	}
	run.data["authorization_code"] = ref

	switch tx.Type {
	case domain.TypeTransfer:
		src, err := p.debit(ctx, run)
		if err != nil {
			return err
		}
		dst, err := run.step(stepCreditDestination, func() (decimal.Decimal, error) {
			return p.ledger.Credit(ctx, tx.DestinationAccount, tx.Amount)
		})
		if err != nil {
			return fmt.Errorf("credit %s: %w", tx.DestinationAccount, err)
		}
		daily, err := run.step(stepDailyTotal, func() (decimal.Decimal, error) {
			return p.ledger.AddDailyTotal(ctx, tx.UserID, p.now(), tx.Amount)
		})
		if err != nil {
			return fmt.Errorf("daily total %s: %w", tx.UserID, err)
		}
		run.data["source_balance"] = src.InexactFloat64()
		run.data["destination_balance"] = dst.InexactFloat64()
		run.data["daily_total"] = daily.InexactFloat64()

	case domain.TypePayment:
		src, err := p.debit(ctx, run)
		if err != nil {
			return err
		}
		fees := tx.Amount.Mul(p.limits.PaymentFeeRate).Round(2)
		run.data["source_balance"] = src.InexactFloat64()
		run.data["fees"] = fees.InexactFloat64()
		if tx.DestinationAccount != "" {
			run.data["merchant"] = tx.DestinationAccount
		} else if merchant, ok := tx.Metadata["merchant"].(string); ok && merchant != "" {
			run.data["merchant"] = merchant
		}

	case domain.TypeWithdrawal:
		src, err := p.debit(ctx, run)
		if err != nil {
			return err
		}
		run.data["source_balance"] = src.InexactFloat64()
		run.data["dispensation_reference"] = "WD-" + uuid.NewString()[:8]

	case domain.TypeDeposit:
		dst, err := run.step(stepCreditDestination, func() (decimal.Decimal, error) {
			return p.ledger.Credit(ctx, tx.DestinationAccount, tx.Amount)
		})
		if err != nil {
			return fmt.Errorf("credit %s: %w", tx.DestinationAccount, err)
		}
		run.data["destination_balance"] = dst.InexactFloat64()

	default:
		return invalid("unknown transaction type %q", tx.Type)
	}
	return nil
}

// debit takes the amount from the source account only if it is covered. A
// balance that dropped since validation fails the transaction.
func (p *Processor) debit(ctx context.Context, run *execution) (decimal.Decimal, error) {
	tx := run.tx
	var current decimal.Decimal
	bal, err := run.step(stepDebitSource, func() (decimal.Decimal, error) {
		b, err := p.ledger.DebitIfSufficient(ctx, tx.SourceAccount, tx.Amount)
		current = b
		return b, err
	})
	if err != nil {
		if errors.Is(err, cache.ErrInsufficientFunds) {
			return decimal.Zero, invalid("insufficient funds in %s: balance %s, required %s", tx.SourceAccount, current, tx.Amount)
		}
		return decimal.Zero, fmt.Errorf("debit %s: %w", tx.SourceAccount, err)
	}
	return bal, nil
}

// compensate reverses, newest first, the balance steps a failed execution
// already applied.
func (p *Processor) compensate(ctx context.Context, run *execution) error {
	tx := run.tx
	var errs []error
	if _, ok := run.applied[stepDailyTotal]; ok {
		if _, err := p.ledger.AddDailyTotal(ctx, tx.UserID, p.now(), tx.Amount.Neg()); err != nil {
			errs = append(errs, fmt.Errorf("reverse daily total %s: %w", tx.UserID, err))
		}
	}
	if _, ok := run.applied[stepCreditDestination]; ok {
		if _, err := p.ledger.DebitIfSufficient(ctx, tx.DestinationAccount, tx.Amount); err != nil {
			errs = append(errs, fmt.Errorf("reverse credit %s: %w", tx.DestinationAccount, err))
		}
	}
	if _, ok := run.applied[stepDebitSource]; ok {
		if _, err := p.ledger.Credit(ctx, tx.SourceAccount, tx.Amount); err != nil {
			errs = append(errs, fmt.Errorf("reverse debit %s: %w", tx.SourceAccount, err))
		}
	}
	return errors.Join(errs...)
}
