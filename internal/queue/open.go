package queue

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/kiranshivaraju/cvscreen/internal/config"
)

// New builds the configured queue backend. The Redis backend shares client;
// the returned close func releases whatever the backend owns.
func New(cfg config.QueueConfig, client redis.UniversalClient) (Queue, func() error, error) {
	opts := Options{
		Attempts:     cfg.Attempts,
		BackoffDelay: cfg.BackoffDelay,
		LeaseTimeout: cfg.LeaseTimeout,
	}
	switch cfg.Backend {
	case "", "redis":
		return NewRedisQueue(client, cfg.Name, opts), func() error { return nil }, nil
	case "rabbitmq":
		q, err := NewRabbitQueue(cfg.RabbitMQURL, cfg.Name, cfg.Concurrency, opts)
		if err != nil {
			return nil, nil, err
		}
		return q, q.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown queue backend %q", cfg.Backend)
	}
}
