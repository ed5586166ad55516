package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vanshika/fintrace/txnengine/internal/domain"
)

const streamPayloadField = "payload"

// Stream is an append-only log backend: one Redis stream per priority tier,
// read through a consumer group. Tiers are scanned from CRITICAL to BATCH on
// every poll so a higher tier is never skipped.
type Stream struct {
	client       redis.UniversalClient
	group        string
	consumer     string
	pollInterval time.Duration

	mu     sync.Mutex
	groups map[string]struct{}
}

// NewStream creates a stream-backed queue using the given consumer group.
func NewStream(client redis.UniversalClient, group string, pollInterval time.Duration) *Stream {
	host, _ := os.Hostname()
	return &Stream{
		client:       client,
		group:        group,
		consumer:     fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8]),
		pollInterval: pollInterval,
		groups:       make(map[string]struct{}),
	}
}

func streamKey(name string, p domain.Priority) string {
	return fmt.Sprintf("%s:p%d", name, int(p))
}

func (s *Stream) ensureGroup(ctx context.Context, key string) error {
	s.mu.Lock()
	_, ok := s.groups[key]
	s.mu.Unlock()
	if ok {
		return nil
	}

	err := s.client.XGroupCreateMkStream(ctx, key, s.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", s.group, key, err)
	}

	s.mu.Lock()
	s.groups[key] = struct{}{}
	s.mu.Unlock()
	return nil
}

func (s *Stream) Publish(ctx context.Context, name string, payload []byte, priority domain.Priority) error {
	if !priority.Valid() {
		return ErrInvalidPriority
	}
	key := streamKey(name, priority)
	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		Values: map[string]any{streamPayloadField: payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", key, err)
	}
	return nil
}

func (s *Stream) Consume(ctx context.Context, name string, timeout time.Duration) ([]byte, error) {
	return poll(ctx, timeout, s.pollInterval, func(ctx context.Context) ([]byte, error) {
		for _, p := range domain.Priorities {
			msg, err := s.readOne(ctx, streamKey(name, p))
			if err != nil || msg != nil {
				return msg, err
			}
		}
		return nil, nil
	})
}

func (s *Stream) readOne(ctx context.Context, key string) ([]byte, error) {
	if err := s.ensureGroup(ctx, key); err != nil {
		return nil, err
	}

	res, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{key, ">"},
		Count:    1,
		Block:    -1,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup %s: %w", key, err)
	}
	if len(res) == 0 || len(res[0].Messages) == 0 {
		return nil, nil
	}

	msg := res[0].Messages[0]
	pipe := s.client.TxPipeline()
	pipe.XAck(ctx, key, s.group, msg.ID)
	pipe.XDel(ctx, key, msg.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("ack %s on %s: %w", msg.ID, key, err)
	}

	switch v := msg.Values[streamPayloadField].(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return nil, fmt.Errorf("stream entry %s has no payload", msg.ID)
	}
}

func (s *Stream) Size(ctx context.Context, name string) (int64, error) {
	sizes, err := s.SizeByPriority(ctx, name)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, n := range sizes {
		total += n
	}
	return total, nil
}

func (s *Stream) SizeByPriority(ctx context.Context, name string) (map[domain.Priority]int64, error) {
	sizes := emptySizes()
	pipe := s.client.Pipeline()
	cmds := make(map[domain.Priority]*redis.IntCmd, len(domain.Priorities))
	for _, p := range domain.Priorities {
		cmds[p] = pipe.XLen(ctx, streamKey(name, p))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("xlen %s: %w", name, err)
	}
	for p, cmd := range cmds {
		sizes[p] = cmd.Val()
	}
	return sizes, nil
}

// Close is a no-op; the client is owned by the caller.
func (s *Stream) Close() error { return nil }
