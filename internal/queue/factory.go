package queue

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/vanshika/fintrace/txnengine/internal/config"
)

// New builds the backend named in cfg.Queue.Backend. client may be nil for
// the memory and rabbitmq backends.
func New(cfg config.Config, client redis.UniversalClient) (Queue, error) {
	interval := cfg.Queue.PollInterval
	switch cfg.Queue.Backend {
	case "memory":
		return NewMemory(interval), nil
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("redis queue: redis client is required")
		}
		return NewRedis(client, interval), nil
	case "stream":
		if client == nil {
			return nil, fmt.Errorf("stream queue: redis client is required")
		}
		return NewStream(client, cfg.Queue.StreamGroup, interval), nil
	case "rabbitmq":
		return DialRabbitMQ(cfg.RabbitMQ.URL, cfg.RabbitMQ.ConfirmTimeout, interval)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Queue.Backend)
	}
}
