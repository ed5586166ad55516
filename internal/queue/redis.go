package queue

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vanshika/fintrace/txnengine/internal/domain"
)

// memberSep separates the uniqueness prefix from the payload in a sorted-set
// member, so identical payloads never collapse into one entry.
const memberSep = '|'

// Redis keeps every queue in a single sorted set scored by Score.
type Redis struct {
	client       redis.UniversalClient
	pollInterval time.Duration
	now          func() time.Time
}

// NewRedis creates a sorted-set backed queue on an existing client.
func NewRedis(client redis.UniversalClient, pollInterval time.Duration) *Redis {
	return &Redis{client: client, pollInterval: pollInterval, now: time.Now}
}

func (q *Redis) Publish(ctx context.Context, name string, payload []byte, priority domain.Priority) error {
	if !priority.Valid() {
		return ErrInvalidPriority
	}
	member := make([]byte, 0, len(payload)+37)
	member = append(member, uuid.NewString()...)
	member = append(member, memberSep)
	member = append(member, payload...)

	err := q.client.ZAdd(ctx, name, redis.Z{
		Score:  Score(priority, q.now()),
		Member: member,
	}).Err()
	if err != nil {
		return fmt.Errorf("zadd %s: %w", name, err)
	}
	return nil
}

func (q *Redis) Consume(ctx context.Context, name string, timeout time.Duration) ([]byte, error) {
	return poll(ctx, timeout, q.pollInterval, func(ctx context.Context) ([]byte, error) {
		res, err := q.client.ZPopMin(ctx, name, 1).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil, nil
			}
			return nil, fmt.Errorf("zpopmin %s: %w", name, err)
		}
		if len(res) == 0 {
			return nil, nil
		}
		return stripMember(res[0].Member)
	})
}

func stripMember(member any) ([]byte, error) {
	var raw []byte
	switch v := member.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return nil, fmt.Errorf("unexpected sorted-set member type %T", member)
	}
	idx := bytes.IndexByte(raw, memberSep)
	if idx < 0 {
		return raw, nil
	}
	return raw[idx+1:], nil
}

func (q *Redis) Size(ctx context.Context, name string) (int64, error) {
	n, err := q.client.ZCard(ctx, name).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard %s: %w", name, err)
	}
	return n, nil
}

func (q *Redis) SizeByPriority(ctx context.Context, name string) (map[domain.Priority]int64, error) {
	sizes := emptySizes()
	pipe := q.client.Pipeline()
	cmds := make(map[domain.Priority]*redis.IntCmd, len(domain.Priorities))
	for _, p := range domain.Priorities {
		minScore := strconv.Itoa(int(p))
		maxScore := "(" + strconv.Itoa(int(p)+1)
		cmds[p] = pipe.ZCount(ctx, name, minScore, maxScore)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("zcount %s: %w", name, err)
	}
	for p, cmd := range cmds {
		sizes[p] = cmd.Val()
	}
	return sizes, nil
}

// Close is a no-op; the client is owned by the caller.
func (q *Redis) Close() error { return nil }
