// Package queue provides a uniform publish/consume/size contract over
// interchangeable priority-ordered backends.
package queue

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/vanshika/fintrace/txnengine/internal/domain"
)

// Queue is implemented by every backend. Consume returns (nil, nil) when
// nothing arrived before the timeout; callers poll in a loop.
type Queue interface {
	Publish(ctx context.Context, name string, payload []byte, priority domain.Priority) error
	Consume(ctx context.Context, name string, timeout time.Duration) ([]byte, error)
	Size(ctx context.Context, name string) (int64, error)
	SizeByPriority(ctx context.Context, name string) (map[domain.Priority]int64, error)
	Close() error
}

var (
	// ErrClosed is returned by operations on a closed queue.
	ErrClosed = errors.New("queue is closed")
	// ErrInvalidPriority is returned when publishing outside CRITICAL..BATCH.
	ErrInvalidPriority = errors.New("invalid priority")
	// ErrUnknownBackend is returned by New for unsupported backend names.
	ErrUnknownBackend = errors.New("unknown queue backend")
)

// scoreEpoch anchors the time component of a score. Microseconds since the
// epoch divided by 1e15 stay below 1 for roughly 31 years.
var scoreEpoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// Score combines a priority tier and an enqueue time into one sortable value.
// The integer part is the tier; the fraction grows with enqueue time, so a
// rank-ordered structure yields strict priority and approximate FIFO.
func Score(p domain.Priority, enqueuedAt time.Time) float64 {
	us := enqueuedAt.Sub(scoreEpoch).Microseconds()
	if us < 0 {
		us = 0
	}
	frac := float64(us) / 1e15
	if frac >= 1 {
		frac = math.Nextafter(1, 0)
	}
	return float64(p) + frac
}

// PriorityOf recovers the tier from a score.
func PriorityOf(score float64) domain.Priority {
	return domain.Priority(math.Floor(score))
}

func emptySizes() map[domain.Priority]int64 {
	sizes := make(map[domain.Priority]int64, len(domain.Priorities))
	for _, p := range domain.Priorities {
		sizes[p] = 0
	}
	return sizes
}

// poll calls try until it yields a message, fails, the timeout elapses or
// ctx is done. An elapsed timeout is not an error.
func poll(ctx context.Context, timeout, interval time.Duration, try func(context.Context) ([]byte, error)) ([]byte, error) {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)
	for {
		msg, err := try(ctx)
		if err != nil || msg != nil {
			return msg, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		wait := interval
		if remaining < wait {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
