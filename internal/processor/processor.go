// Package processor executes one transaction to a terminal status: it
// validates, applies the type-specific balance mutations, retries transient
// failures and records the outcome.
package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vanshika/fintrace/txnengine/internal/config"
	"github.com/vanshika/fintrace/txnengine/internal/domain"
	"github.com/vanshika/fintrace/txnengine/internal/metrics"
	"github.com/vanshika/fintrace/txnengine/internal/retry"
	"github.com/vanshika/fintrace/txnengine/internal/store"
)

const recordTimeout = 5 * time.Second

// Ledger is the slice of the fast-access cache the processor needs.
type Ledger interface {
	Balance(ctx context.Context, account string) (decimal.Decimal, error)
	Credit(ctx context.Context, account string, amount decimal.Decimal) (decimal.Decimal, error)
	DebitIfSufficient(ctx context.Context, account string, amount decimal.Decimal) (decimal.Decimal, error)
	DailyTotal(ctx context.Context, user string, day time.Time) (decimal.Decimal, error)
	AddDailyTotal(ctx context.Context, user string, day time.Time, amount decimal.Decimal) (decimal.Decimal, error)
	SetStatus(ctx context.Context, view domain.StatusView) error
}

// Limits are the business rules applied during validation and execution.
type Limits struct {
	MaxAmount          decimal.Decimal
	DailyLimit         decimal.Decimal
	PaymentFeeRate     decimal.Decimal
	ReportingThreshold decimal.Decimal
}

// LimitsFromConfig parses the decimal limits of the processor section.
func LimitsFromConfig(cfg config.ProcessorConfig) (Limits, error) {
	var (
		l   Limits
		err error
	)
	if l.MaxAmount, err = decimal.NewFromString(cfg.MaxAmount); err != nil {
		return Limits{}, fmt.Errorf("max amount: %w", err)
	}
	if l.DailyLimit, err = decimal.NewFromString(cfg.DailyLimit); err != nil {
		return Limits{}, fmt.Errorf("daily limit: %w", err)
	}
	if l.PaymentFeeRate, err = decimal.NewFromString(cfg.PaymentFeeRate); err != nil {
		return Limits{}, fmt.Errorf("payment fee rate: %w", err)
	}
	if l.ReportingThreshold, err = decimal.NewFromString(cfg.ReportingThreshold); err != nil {
		return Limits{}, fmt.Errorf("reporting threshold: %w", err)
	}
	return l, nil
}

// Processor runs transactions for a single node. One Processor may be
// shared by the node's goroutines; in-flight bookkeeping is synchronised.
type Processor struct {
	nodeID   string
	store    store.Store
	ledger   Ledger
	gateway  Gateway
	screener Screener
	limits   Limits
	policy   retry.Policy
	log      *zap.Logger
	now      func() time.Time

	onAttempt func(ctx context.Context)

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// Option customises a Processor.
type Option func(*Processor)

// WithScreener replaces the default threshold screener.
func WithScreener(s Screener) Option {
	return func(p *Processor) { p.screener = s }
}

// WithAttemptHook is called after every processing attempt, for load
// reporting.
func WithAttemptHook(fn func(ctx context.Context)) Option {
	return func(p *Processor) { p.onAttempt = fn }
}

func New(nodeID string, st store.Store, ledger Ledger, gateway Gateway, limits Limits, policy retry.Policy, logger *zap.Logger, opts ...Option) *Processor {
	p := &Processor{
		nodeID:   nodeID,
		store:    st,
		ledger:   ledger,
		gateway:  gateway,
		screener: ThresholdScreener{Threshold: limits.ReportingThreshold},
		limits:   limits,
		policy:   policy,
		log:      logger.With(zap.String("node_id", nodeID)),
		now:      time.Now,
		inFlight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NodeID returns the node this processor reports as.
func (p *Processor) NodeID() string { return p.nodeID }

// InFlight returns how many transactions are executing right now.
func (p *Processor) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inFlight)
}

// Process claims tx, executes it with retries and records the terminal
// outcome. Business failures are reported in the returned result, not as an
// error. An error is returned when the transaction could not be claimed
// (ErrNotPending, store.ErrNotFound or an infrastructure failure) and when ctx
// ended the run before any balance step applied; the record is then PENDING
// again and the error wraps ErrInterrupted.
func (p *Processor) Process(ctx context.Context, tx *domain.Transaction) (domain.ProcessingResult, error) {
	applied, err := p.store.Transition(ctx, tx.ID, []domain.Status{domain.StatusPending}, domain.StatusProcessing, p.nodeID)
	if err != nil {
		return domain.ProcessingResult{}, fmt.Errorf("claim %s: %w", tx.ID, err)
	}
	if !applied {
		return domain.ProcessingResult{}, ErrNotPending
	}

	start := p.now()
	p.track(tx.ID)
	defer p.untrack(tx.ID)

	p.cacheStatus(ctx, domain.StatusView{
		TransactionID:  tx.ID,
		Status:         domain.StatusProcessing,
		ProcessingNode: p.nodeID,
		UpdatedAt:      start.UTC(),
	})

	policy := p.policy
	if tx.MaxRetries > 0 {
		policy.MaxAttempts = tx.MaxRetries
	}

	run := newExecution(tx)
	attempts, err := retry.Do(ctx, policy, func(ctx context.Context, _ int) error {
		err := p.attempt(ctx, run)
		if p.onAttempt != nil {
			p.onAttempt(ctx)
		}
		return err
	}, func(err error, attempt int, next time.Duration) {
		metrics.Retries.WithLabelValues(p.nodeID, string(tx.Type)).Inc()
		p.log.Info("retrying transaction",
			zap.String("transaction_id", tx.ID),
			zap.Int("attempt", attempt+2),
			zap.Duration("backoff", next),
			zap.Error(err))
	})

	if err != nil && ctx.Err() != nil && !IsValidation(err) && len(run.applied) == 0 {
		if p.release(ctx, tx) {
			p.log.Info("transaction released for requeue",
				zap.String("transaction_id", tx.ID),
				zap.Int("attempts", attempts))
			return domain.ProcessingResult{}, fmt.Errorf("%w: %v", ErrInterrupted, err)
		}
	}

	wctx, cancel := detached(ctx)
	defer cancel()

	if err != nil && len(run.applied) > 0 {
		if cerr := p.compensate(wctx, run); cerr != nil {
			run.data["compensation_error"] = cerr.Error()
			p.log.Error("failed to reverse applied balance steps",
				zap.String("transaction_id", tx.ID), zap.Error(cerr))
		} else {
			run.data["compensated"] = true
		}
	}

	finished := p.now()
	res := domain.ProcessingResult{
		TransactionID:  tx.ID,
		Success:        err == nil,
		Status:         domain.StatusCompleted,
		ResultData:     run.data,
		ProcessingTime: finished.Sub(start).Seconds(),
		NodeID:         p.nodeID,
		Attempts:       attempts,
		CompletedAt:    finished.UTC(),
	}
	if err != nil {
		res.Status = domain.StatusFailed
		res.ErrorMessage = err.Error()
		p.log.Warn("transaction failed",
			zap.String("transaction_id", tx.ID),
			zap.Int("attempts", attempts),
			zap.Bool("validation", IsValidation(err)),
			zap.Error(err))
	} else {
		p.log.Debug("transaction completed",
			zap.String("transaction_id", tx.ID),
			zap.Float64("processing_time", res.ProcessingTime))
	}

	p.record(wctx, tx, res)
	return res, nil
}

// detached outlives the caller's cancellation so a started transaction can
// still reach a terminal record during shutdown.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
}

// release returns an interrupted transaction to PENDING. It reports false
// when the record could not be moved, in which case the caller records a
// terminal failure instead.
func (p *Processor) release(ctx context.Context, tx *domain.Transaction) bool {
	wctx, cancel := detached(ctx)
	defer cancel()

	applied, err := p.store.Transition(wctx, tx.ID, []domain.Status{domain.StatusProcessing}, domain.StatusPending, "")
	if err != nil || !applied {
		p.log.Warn("failed to release interrupted transaction",
			zap.String("transaction_id", tx.ID), zap.Bool("applied", applied), zap.Error(err))
		return false
	}
	p.cacheStatus(wctx, domain.StatusView{
		TransactionID: tx.ID,
		Status:        domain.StatusPending,
		UpdatedAt:     p.now().UTC(),
	})
	return true
}

func (p *Processor) attempt(ctx context.Context, run *execution) error {
	if !run.validated {
		screening, err := p.validate(ctx, run.tx)
		if err != nil {
			if IsValidation(err) {
				return retry.Permanent(err)
			}
			return err
		}
		run.validated = true
		if screening.Report {
			run.data["compliance_report"] = true
		}
	}

	err := p.execute(ctx, run)
	if IsValidation(err) {
		return retry.Permanent(err)
	}
	return err
}

// record writes the outcome to the durable store and the status cache.
// Failures here are logged; the outcome already happened.
func (p *Processor) record(ctx context.Context, tx *domain.Transaction, res domain.ProcessingResult) {
	retries := res.Attempts - 1
	if retries < 0 {
		retries = 0
	}
	if err := p.store.SaveResult(ctx, res, retries); err != nil {
		p.log.Error("failed to persist result", zap.String("transaction_id", tx.ID), zap.Error(err))
	}
	p.cacheStatus(ctx, domain.ViewFromResult(res))

	metrics.Processed.WithLabelValues(p.nodeID, string(res.Status)).Inc()
	metrics.ProcessingDuration.WithLabelValues(p.nodeID, string(tx.Type)).Observe(res.ProcessingTime)
}

func (p *Processor) cacheStatus(ctx context.Context, view domain.StatusView) {
	if err := p.ledger.SetStatus(ctx, view); err != nil {
		p.log.Warn("failed to cache status", zap.String("transaction_id", view.TransactionID), zap.Error(err))
	}
}

func (p *Processor) track(id string) {
	p.mu.Lock()
	p.inFlight[id] = struct{}{}
	p.mu.Unlock()
	metrics.ActiveTransactions.WithLabelValues(p.nodeID).Inc()
}

func (p *Processor) untrack(id string) {
	p.mu.Lock()
	delete(p.inFlight, id)
	p.mu.Unlock()
	metrics.ActiveTransactions.WithLabelValues(p.nodeID).Dec()
}

// validate applies the business rules in order. Rule violations come back as
// *ValidationError; anything else is an infrastructure error worth retrying.
func (p *Processor) validate(ctx context.Context, tx *domain.Transaction) (Screening, error) {
	if !tx.Amount.IsPositive() {
		return Screening{}, invalid("amount must be greater than zero, got %s", tx.Amount)
	}
	if err := checkIdentifiers(tx); err != nil {
		return Screening{}, err
	}

	rec, err := p.store.Get(ctx, tx.ID)
	if err != nil {
		return Screening{}, fmt.Errorf("load record %s: %w", tx.ID, err)
	}
	if !domain.VerifyChecksum(tx) || tx.Checksum != rec.Checksum {
		return Screening{}, invalid("checksum mismatch")
	}

	if debits(tx.Type) {
		balance, err := p.ledger.Balance(ctx, tx.SourceAccount)
		if err != nil {
			return Screening{}, fmt.Errorf("balance lookup %s: %w", tx.SourceAccount, err)
		}
		if balance.LessThan(tx.Amount) {
			return Screening{}, invalid("insufficient funds in %s: balance %s, required %s", tx.SourceAccount, balance, tx.Amount)
		}
	}

	if p.limits.MaxAmount.IsPositive() && tx.Amount.GreaterThan(p.limits.MaxAmount) {
		return Screening{}, invalid("amount %s exceeds per-transaction limit %s", tx.Amount, p.limits.MaxAmount)
	}

	if debits(tx.Type) && p.limits.DailyLimit.IsPositive() {
		total, err := p.ledger.DailyTotal(ctx, tx.UserID, p.now())
		if err != nil {
			return Screening{}, fmt.Errorf("daily total %s: %w", tx.UserID, err)
		}
		if total.Add(tx.Amount).GreaterThan(p.limits.DailyLimit) {
			return Screening{}, invalid("daily limit %s exceeded for user %s", p.limits.DailyLimit, tx.UserID)
		}
	}

	return p.screener.Screen(ctx, tx)
}

func checkIdentifiers(tx *domain.Transaction) error {
	if tx.ID == "" || tx.UserID == "" {
		return invalid("transaction_id and user_id are required")
	}
	switch tx.Type {
	case domain.TypeTransfer:
		if tx.SourceAccount == "" || tx.DestinationAccount == "" {
			return invalid("transfer requires source_account and destination_account")
		}
		if tx.SourceAccount == tx.DestinationAccount {
			return invalid("transfer source and destination must differ")
		}
	case domain.TypePayment, domain.TypeWithdrawal:
		if tx.SourceAccount == "" {
			return invalid("%s requires source_account", tx.Type)
		}
	case domain.TypeDeposit:
		if tx.DestinationAccount == "" {
			return invalid("deposit requires destination_account")
		}
	default:
		return invalid("unknown transaction type %q", tx.Type)
	}
	return nil
}

func debits(t domain.Type) bool {
	return t == domain.TypeTransfer || t == domain.TypePayment || t == domain.TypeWithdrawal
}

// IsTransient reports whether err should be retried by callers outside the
// processor, for instance when claiming failed.
func IsTransient(err error) bool {
	return err != nil && !IsValidation(err) && !errors.Is(err, ErrNotPending) && !errors.Is(err, store.ErrNotFound)
}
