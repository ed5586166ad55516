// Package manager is the entry and exit point of the engine: it accepts
// submissions, runs the worker nodes and answers status and metrics queries.
package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vanshika/fintrace/txnengine/internal/balancer"
	"github.com/vanshika/fintrace/txnengine/internal/cache"
	"github.com/vanshika/fintrace/txnengine/internal/config"
	"github.com/vanshika/fintrace/txnengine/internal/domain"
	"github.com/vanshika/fintrace/txnengine/internal/metrics"
	"github.com/vanshika/fintrace/txnengine/internal/processor"
	"github.com/vanshika/fintrace/txnengine/internal/queue"
	"github.com/vanshika/fintrace/txnengine/internal/retry"
	"github.com/vanshika/fintrace/txnengine/internal/store"
)

var (
	// ErrNotFound is returned for unknown transaction ids.
	ErrNotFound = store.ErrNotFound
	// ErrIdempotencyConflict is returned when an id is resubmitted with a
	// different payload.
	ErrIdempotencyConflict = errors.New("transaction id already used with a different payload")
	// ErrNotCancellable is returned when cancelling a transaction that is no
	// longer PENDING.
	ErrNotCancellable = errors.New("transaction is no longer pending")
	// ErrAlreadyRunning is returned by Start when workers are running.
	ErrAlreadyRunning = errors.New("processing already started")
	// ErrNotRunning is returned by Stop when nothing was started.
	ErrNotRunning = errors.New("processing not started")
)

// Cache is the slice of the fast-access store the manager and its
// processors use.
type Cache interface {
	processor.Ledger
	GetStatus(ctx context.Context, id string) (domain.StatusView, error)
	Ping(ctx context.Context) error
}

// Deps are the collaborators a Manager coordinates.
type Deps struct {
	Queue    queue.Queue
	Store    store.Store
	Cache    Cache
	Balancer *balancer.Balancer
	Gateway  processor.Gateway
	Logger   *zap.Logger
}

type Manager struct {
	cfg       config.Config
	queue     queue.Queue
	store     store.Store
	cache     Cache
	balancer  *balancer.Balancer
	gateway   processor.Gateway
	limits    processor.Limits
	policy    retry.Policy
	log       *zap.Logger
	now       func() time.Time
	hostStats func(ctx context.Context) map[string]float64

	mu      sync.Mutex
	running *run
}

func New(cfg config.Config, deps Deps) (*Manager, error) {
	limits, err := processor.LimitsFromConfig(cfg.Processor)
	if err != nil {
		return nil, err
	}
	if deps.Queue == nil || deps.Store == nil || deps.Cache == nil || deps.Balancer == nil || deps.Gateway == nil {
		return nil, errors.New("manager: queue, store, cache, balancer and gateway are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:      cfg,
		queue:    deps.Queue,
		store:    deps.Store,
		cache:    deps.Cache,
		balancer: deps.Balancer,
		gateway:  deps.Gateway,
		limits:   limits,
		policy: retry.Policy{
			MaxAttempts: cfg.Processor.MaxRetries,
			Base:        cfg.Processor.RetryBase,
			Max:         cfg.Processor.RetryMax,
		},
		log:       logger,
		now:       time.Now,
		hostStats: hostStats,
	}, nil
}

// Submit validates req, persists it as PENDING and enqueues it. It returns
// the transaction id once both writes succeeded.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	tx := m.newTransaction(req)
	if err := m.store.Create(ctx, tx); err != nil {
		if !errors.Is(err, store.ErrDuplicateTransaction) {
			return "", fmt.Errorf("persist transaction: %w", err)
		}
		existing, getErr := m.store.Get(ctx, tx.ID)
		if getErr != nil {
			return "", fmt.Errorf("load existing transaction: %w", getErr)
		}
		if existing.Checksum != tx.Checksum {
			return "", ErrIdempotencyConflict
		}
		if !neverEnqueued(existing) {
			m.log.Info("duplicate submission ignored", zap.String("transaction_id", tx.ID))
			return tx.ID, nil
		}
		reopened, err := m.store.Transition(ctx, tx.ID, []domain.Status{domain.StatusFailed}, domain.StatusPending, "")
		if err != nil {
			return "", fmt.Errorf("reopen transaction: %w", err)
		}
		if !reopened {
			return tx.ID, nil
		}
		m.log.Info("resubmitting transaction that never reached the queue", zap.String("transaction_id", tx.ID))
		existing.Status = domain.StatusPending
		existing.ErrorMessage = ""
		existing.CompletedAt = nil
		tx = existing
	}

	if err := m.enqueue(ctx, tx); err != nil {
		return "", err
	}
	metrics.Submitted.WithLabelValues(string(tx.Type), tx.Priority.String()).Inc()
	m.log.Debug("transaction submitted",
		zap.String("transaction_id", tx.ID),
		zap.String("type", string(tx.Type)),
		zap.Stringer("priority", tx.Priority))
	return tx.ID, nil
}

func (m *Manager) newTransaction(req SubmitRequest) *domain.Transaction {
	now := m.now().UTC()
	tx := &domain.Transaction{
		ID:                 req.TransactionID,
		UserID:             req.UserID,
		SourceAccount:      req.SourceAccount,
		DestinationAccount: req.DestinationAccount,
		Type:               domain.ParseType(string(req.Type)),
		Amount:             req.Amount,
		Currency:           strings.ToUpper(req.Currency),
		Metadata:           req.Metadata,
		Priority:           req.Priority,
		TimeoutSeconds:     req.TimeoutSeconds,
		MaxRetries:         req.MaxRetries,
		Status:             domain.StatusPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.Priority == 0 {
		tx.Priority = domain.PriorityNormal
	}
	if tx.TimeoutSeconds == 0 {
		tx.TimeoutSeconds = domain.DefaultTimeoutSeconds
	}
	if tx.MaxRetries == 0 {
		tx.MaxRetries = m.cfg.Processor.MaxRetries
	}
	tx.Checksum = domain.ComputeChecksum(tx)
	return tx
}

// enqueue publishes a PENDING record and caches its status. A record that
// cannot be published is marked FAILED.
func (m *Manager) enqueue(ctx context.Context, tx *domain.Transaction) error {
	payload, err := json.Marshal(tx)
	if err != nil {
		m.failUnqueued(tx, err)
		return fmt.Errorf("encode transaction: %w", err)
	}
	if err := m.queue.Publish(ctx, m.cfg.Queue.Name, payload, tx.Priority); err != nil {
		m.failUnqueued(tx, err)
		return fmt.Errorf("enqueue transaction: %w", err)
	}
	if err := m.cache.SetStatus(ctx, domain.ViewFromTransaction(tx)); err != nil {
		m.log.Warn("failed to cache status", zap.String("transaction_id", tx.ID), zap.Error(err))
	}
	return nil
}

// neverEnqueued reports whether tx was marked FAILED by failUnqueued, so a
// resubmission may reopen it.
func neverEnqueued(tx *domain.Transaction) bool {
	return tx.Status == domain.StatusFailed &&
		tx.ProcessingNode == "" &&
		strings.HasPrefix(tx.ErrorMessage, enqueueFailedPrefix)
}

const enqueueFailedPrefix = "enqueue failed: "

// failUnqueued marks a persisted record FAILED when it never reached the
// queue, so it is not mistaken for a submitted transaction.
func (m *Manager) failUnqueued(tx *domain.Transaction, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res := domain.ProcessingResult{
		TransactionID: tx.ID,
		Status:        domain.StatusFailed,
		ErrorMessage:  enqueueFailedPrefix + cause.Error(),
		CompletedAt:   m.now().UTC(),
	}
	if err := m.store.SaveResult(ctx, res, 0); err != nil {
		m.log.Error("failed to mark unqueued transaction",
			zap.String("transaction_id", tx.ID), zap.Error(err))
	}
}

// Status returns the cached status when present, otherwise the durable
// record.
func (m *Manager) Status(ctx context.Context, id string) (domain.StatusView, error) {
	view, err := m.cache.GetStatus(ctx, id)
	if err == nil {
		return view, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		m.log.Warn("status cache lookup failed", zap.String("transaction_id", id), zap.Error(err))
	}

	tx, err := m.store.Get(ctx, id)
	if err != nil {
		return domain.StatusView{}, err
	}
	return domain.ViewFromTransaction(tx), nil
}

// Cancel moves a PENDING transaction to CANCELLED. Workers skip it when it
// is dequeued.
func (m *Manager) Cancel(ctx context.Context, id string) (domain.StatusView, error) {
	applied, err := m.store.Transition(ctx, id, []domain.Status{domain.StatusPending}, domain.StatusCancelled, "")
	if err != nil {
		return domain.StatusView{}, err
	}
	tx, err := m.store.Get(ctx, id)
	if err != nil {
		return domain.StatusView{}, err
	}
	view := domain.ViewFromTransaction(tx)
	if !applied {
		return view, fmt.Errorf("%w: status is %s", ErrNotCancellable, tx.Status)
	}

	if err := m.cache.SetStatus(ctx, view); err != nil {
		m.log.Warn("failed to cache status", zap.String("transaction_id", id), zap.Error(err))
	}
	m.log.Info("transaction cancelled", zap.String("transaction_id", id))
	return view, nil
}

// Nodes returns the registry snapshot.
func (m *Manager) Nodes() []domain.Node {
	return m.balancer.Nodes()
}

// Ping checks the durable store and the cache.
func (m *Manager) Ping(ctx context.Context) error {
	var errs []error
	if err := m.store.Ping(ctx); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}
	if err := m.cache.Ping(ctx); err != nil {
		errs = append(errs, fmt.Errorf("cache: %w", err))
	}
	return errors.Join(errs...)
}
