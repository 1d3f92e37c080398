package conn

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// NewRedis connects a redis client and verifies it with a ping.
func NewRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
