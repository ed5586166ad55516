// Package cache wraps the shared fast-access store: transaction status
// snapshots, account balances, daily-limit accumulators, strategy counters and
// the processing node registry.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/vanshika/fintrace/txnengine/internal/config"
	"github.com/vanshika/fintrace/txnengine/internal/domain"
)

// NodesKey is the hash holding node_id -> node JSON.
const NodesKey = "processing_nodes"

const dailyLimitTTL = 24 * time.Hour

var (
	// ErrMiss is returned when a key is absent or expired.
	ErrMiss = errors.New("cache miss")
	// ErrInsufficientFunds is returned by DebitIfSufficient when the balance
	// is lower than the requested amount.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// StatusKey names the status snapshot of a transaction.
func StatusKey(id string) string { return "transaction_status:" + id }

// BalanceKey names an account balance.
func BalanceKey(account string) string { return "account_balance:" + account }

// DailyKey names the per-user accumulator for one UTC day.
func DailyKey(user string, day time.Time) string {
	return fmt.Sprintf("daily_limit:%s:%s", user, day.UTC().Format("2006-01-02"))
}

// debitScript decrements KEYS[1] by ARGV[1] only when the balance covers it.
// Returns {1, new_balance} on success and {0, current_balance} otherwise.
var debitScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local amount = tonumber(ARGV[1])
if current < amount then
  return {0, tostring(current)}
end
return {1, redis.call('INCRBYFLOAT', KEYS[1], '-' .. ARGV[1])}
`)

// accumulateScript increments KEYS[1] and sets a TTL on first write.
var accumulateScript = redis.NewScript(`
local total = redis.call('INCRBYFLOAT', KEYS[1], ARGV[1])
if redis.call('TTL', KEYS[1]) < 0 then
  redis.call('EXPIRE', KEYS[1], ARGV[2])
end
return total
`)

// Cache is safe for concurrent use by every worker and the manager.
type Cache struct {
	client    redis.UniversalClient
	statusTTL time.Duration
}

// NewClient builds a go-redis client from configuration.
func NewClient(cfg config.RedisConfig) redis.UniversalClient {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// New wraps an existing client. statusTTL bounds how long status snapshots
// are kept.
func New(client redis.UniversalClient, statusTTL time.Duration) *Cache {
	return &Cache{client: client, statusTTL: statusTTL}
}

// Client exposes the underlying client for components sharing the connection.
func (c *Cache) Client() redis.UniversalClient { return c.client }

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// SetStatus stores a status snapshot with the configured TTL.
func (c *Cache) SetStatus(ctx context.Context, view domain.StatusView) error {
	raw, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("encode status %s: %w", view.TransactionID, err)
	}
	if err := c.client.Set(ctx, StatusKey(view.TransactionID), raw, c.statusTTL).Err(); err != nil {
		return fmt.Errorf("set status %s: %w", view.TransactionID, err)
	}
	return nil
}

func (c *Cache) GetStatus(ctx context.Context, id string) (domain.StatusView, error) {
	raw, err := c.client.Get(ctx, StatusKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.StatusView{}, ErrMiss
		}
		return domain.StatusView{}, fmt.Errorf("get status %s: %w", id, err)
	}
	var view domain.StatusView
	if err := json.Unmarshal(raw, &view); err != nil {
		return domain.StatusView{}, fmt.Errorf("decode status %s: %w", id, err)
	}
	return view, nil
}

// Balance returns the account balance. Accounts never written start at zero.
func (c *Cache) Balance(ctx context.Context, account string) (decimal.Decimal, error) {
	raw, err := c.client.Get(ctx, BalanceKey(account)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("get balance %s: %w", account, err)
	}
	return parseDecimal(raw)
}

// SetBalance overwrites a balance. Used for seeding and administration.
func (c *Cache) SetBalance(ctx context.Context, account string, amount decimal.Decimal) error {
	if err := c.client.Set(ctx, BalanceKey(account), amount.String(), 0).Err(); err != nil {
		return fmt.Errorf("set balance %s: %w", account, err)
	}
	return nil
}

// Credit atomically adds amount and returns the new balance.
func (c *Cache) Credit(ctx context.Context, account string, amount decimal.Decimal) (decimal.Decimal, error) {
	raw, err := c.client.Do(ctx, "INCRBYFLOAT", BalanceKey(account), amount.String()).Text()
	if err != nil {
		return decimal.Zero, fmt.Errorf("credit %s: %w", account, err)
	}
	return parseDecimal(raw)
}

// DebitIfSufficient atomically subtracts amount when the balance covers it.
func (c *Cache) DebitIfSufficient(ctx context.Context, account string, amount decimal.Decimal) (decimal.Decimal, error) {
	res, err := debitScript.Run(ctx, c.client, []string{BalanceKey(account)}, amount.String()).Slice()
	if err != nil {
		return decimal.Zero, fmt.Errorf("debit %s: %w", account, err)
	}
	if len(res) != 2 {
		return decimal.Zero, fmt.Errorf("debit %s: unexpected reply %v", account, res)
	}
	balance, err := parseDecimal(fmt.Sprint(res[1]))
	if err != nil {
		return decimal.Zero, err
	}
	if ok, _ := res[0].(int64); ok != 1 {
		return balance, ErrInsufficientFunds
	}
	return balance, nil
}

// DailyTotal returns how much the user has processed on day.
func (c *Cache) DailyTotal(ctx context.Context, user string, day time.Time) (decimal.Decimal, error) {
	raw, err := c.client.Get(ctx, DailyKey(user, day)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("get daily total %s: %w", user, err)
	}
	return parseDecimal(raw)
}

// AddDailyTotal accumulates amount into the user's day bucket, which expires
// 24h after its first write.
func (c *Cache) AddDailyTotal(ctx context.Context, user string, day time.Time, amount decimal.Decimal) (decimal.Decimal, error) {
	ttl := int64(dailyLimitTTL / time.Second)
	raw, err := accumulateScript.Run(ctx, c.client, []string{DailyKey(user, day)}, amount.String(), ttl).Text()
	if err != nil {
		return decimal.Zero, fmt.Errorf("add daily total %s: %w", user, err)
	}
	return parseDecimal(raw)
}

// Incr bumps an integer counter and returns the new value.
func (c *Cache) Incr(ctx context.Context, key string) (int64, error) {
	n, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	return n, nil
}

// PutNode writes node info into the registry hash.
func (c *Cache) PutNode(ctx context.Context, node domain.Node) error {
	raw, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("encode node %s: %w", node.ID, err)
	}
	if err := c.client.HSet(ctx, NodesKey, node.ID, raw).Err(); err != nil {
		return fmt.Errorf("hset node %s: %w", node.ID, err)
	}
	return nil
}

func (c *Cache) DeleteNode(ctx context.Context, id string) error {
	if err := c.client.HDel(ctx, NodesKey, id).Err(); err != nil {
		return fmt.Errorf("hdel node %s: %w", id, err)
	}
	return nil
}

// Nodes returns every node in the registry hash. Undecodable entries are
// skipped.
func (c *Cache) Nodes(ctx context.Context) ([]domain.Node, error) {
	entries, err := c.client.HGetAll(ctx, NodesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", NodesKey, err)
	}
	nodes := make([]domain.Node, 0, len(entries))
	for _, raw := range entries {
		var n domain.Node
		if err := json.Unmarshal([]byte(raw), &n); err != nil {
			continue
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func parseDecimal(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", raw, err)
	}
	return d, nil
}
