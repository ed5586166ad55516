package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/vanshika/fintrace/txnengine/internal/domain"
)

type memoryItem struct {
	score   float64
	seq     uint64
	payload []byte
}

func lessItem(a, b memoryItem) bool {
	if a.score != b.score {
		return a.score < b.score
	}
	return a.seq < b.seq
}

// Memory is an in-process priority store ordered by score, then by insertion
// sequence for equal scores.
type Memory struct {
	mu           sync.Mutex
	queues       map[string]*btree.BTreeG[memoryItem]
	seq          uint64
	closed       bool
	pollInterval time.Duration
	now          func() time.Time
}

// NewMemory creates an empty in-memory queue.
func NewMemory(pollInterval time.Duration) *Memory {
	return &Memory{
		queues:       make(map[string]*btree.BTreeG[memoryItem]),
		pollInterval: pollInterval,
		now:          time.Now,
	}
}

func (m *Memory) tree(name string) *btree.BTreeG[memoryItem] {
	t, ok := m.queues[name]
	if !ok {
		t = btree.NewG[memoryItem](16, lessItem)
		m.queues[name] = t
	}
	return t
}

func (m *Memory) Publish(_ context.Context, name string, payload []byte, priority domain.Priority) error {
	if !priority.Valid() {
		return ErrInvalidPriority
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	m.seq++
	m.tree(name).ReplaceOrInsert(memoryItem{
		score:   Score(priority, m.now()),
		seq:     m.seq,
		payload: append([]byte(nil), payload...),
	})
	return nil
}

func (m *Memory) Consume(ctx context.Context, name string, timeout time.Duration) ([]byte, error) {
	return poll(ctx, timeout, m.pollInterval, func(context.Context) ([]byte, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.closed {
			return nil, ErrClosed
		}
		item, ok := m.tree(name).DeleteMin()
		if !ok {
			return nil, nil
		}
		return item.payload, nil
	})
}

func (m *Memory) Size(_ context.Context, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(m.tree(name).Len()), nil
}

func (m *Memory) SizeByPriority(_ context.Context, name string) (map[domain.Priority]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sizes := emptySizes()
	m.tree(name).Ascend(func(item memoryItem) bool {
		sizes[PriorityOf(item.score)]++
		return true
	})
	return sizes, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
