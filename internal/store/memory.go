package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vanshika/fintrace/txnengine/internal/domain"
)

// Memory keeps records in a map. It is the default for local runs and tests.
type Memory struct {
	mu      sync.RWMutex
	records map[string]*domain.Transaction
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{records: make(map[string]*domain.Transaction), now: time.Now}
}

func (m *Memory) Create(_ context.Context, tx *domain.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[tx.ID]; ok {
		return ErrDuplicateTransaction
	}
	m.records[tx.ID] = tx.Clone()
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*domain.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return tx.Clone(), nil
}

func (m *Memory) Transition(_ context.Context, id string, from []domain.Status, to domain.Status, node string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.records[id]
	if !ok {
		return false, ErrNotFound
	}
	if !contains(from, tx.Status) {
		return false, nil
	}
	now := m.now().UTC()
	tx.Status = to
	tx.UpdatedAt = now
	if node != "" {
		tx.ProcessingNode = node
	}
	if to.Terminal() {
		tx.CompletedAt = &now
	} else {
		tx.CompletedAt = nil
		tx.ErrorMessage = ""
	}
	return true, nil
}

func (m *Memory) SaveResult(_ context.Context, res domain.ProcessingResult, retryCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.records[res.TransactionID]
	if !ok {
		return ErrNotFound
	}
	completed := res.CompletedAt.UTC()
	tx.Status = res.Status
	tx.ProcessingNode = res.NodeID
	tx.ProcessingTime = res.ProcessingTime
	tx.ErrorMessage = res.ErrorMessage
	tx.RetryCount = retryCount
	tx.UpdatedAt = completed
	tx.CompletedAt = &completed
	return nil
}

func (m *Memory) RecentOutcomes(_ context.Context, since time.Time) ([]domain.Outcome, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Outcome
	for _, tx := range m.records {
		if tx.Status != domain.StatusCompleted && tx.Status != domain.StatusFailed {
			continue
		}
		if tx.ProcessingNode == "" {
			continue
		}
		if tx.CompletedAt == nil || tx.CompletedAt.Before(since) {
			continue
		}
		out = append(out, domain.Outcome{
			TransactionID:  tx.ID,
			Type:           tx.Type,
			Status:         tx.Status,
			ProcessingTime: tx.ProcessingTime,
			CompletedAt:    *tx.CompletedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedAt.Before(out[j].CompletedAt) })
	return out, nil
}

func (m *Memory) CountByStatus(_ context.Context, since time.Time) (map[domain.Status]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[domain.Status]int64)
	for _, tx := range m.records {
		if tx.CreatedAt.Before(since) {
			continue
		}
		counts[tx.Status]++
	}
	return counts, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
