// Package store persists the durable transaction record.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/vanshika/fintrace/txnengine/internal/domain"
)

var (
	// ErrNotFound is returned when no record exists for an id.
	ErrNotFound = errors.New("transaction not found")
	// ErrDuplicateTransaction is returned by Create when the id is taken.
	ErrDuplicateTransaction = errors.New("transaction already exists")
)

// Store is the durable record of every submitted transaction.
type Store interface {
	Create(ctx context.Context, tx *domain.Transaction) error
	Get(ctx context.Context, id string) (*domain.Transaction, error)
	// Transition moves id to status to when its current status is one of
	// from. It reports whether the change was applied.
	Transition(ctx context.Context, id string, from []domain.Status, to domain.Status, node string) (bool, error)
	// SaveResult records a terminal processing outcome.
	SaveResult(ctx context.Context, res domain.ProcessingResult, retryCount int) error
	// RecentOutcomes lists COMPLETED and FAILED records finished at or after since.
	RecentOutcomes(ctx context.Context, since time.Time) ([]domain.Outcome, error)
	// CountByStatus counts records created at or after since, by status.
	CountByStatus(ctx context.Context, since time.Time) (map[domain.Status]int64, error)
	Ping(ctx context.Context) error
	Close() error
}

func contains(statuses []domain.Status, s domain.Status) bool {
	for _, candidate := range statuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func statusStrings(statuses []domain.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
