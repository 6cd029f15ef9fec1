package dialect

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/lunaris82/sqlkit/pool"
)

// redisBackend pools dedicated redis clients. Redis holds no transactional
// state between commands, so commit and rollback are no-ops; pools built on
// this backend should use pool.ResetNone.
type redisBackend struct{}

func init() {
	Register("redis", &redisBackend{})
}

func (b *redisBackend) Creator(dsn string) pool.Creator {
	return func(*pool.ConnRecord) (any, error) {
		opt, err := redis.ParseURL(dsn)
		if err != nil {
			return nil, err
		}
		client := redis.NewClient(opt)
		if err := client.Ping(context.Background()).Err(); err != nil {
			client.Close()
			return nil, err
		}
		return client, nil
	}
}

func (b *redisBackend) Close(raw any) error {
	client, err := asRedisClient(raw)
	if err != nil {
		return err
	}
	return client.Close()
}

func (b *redisBackend) Commit(raw any) error { return nil }

func (b *redisBackend) Rollback(raw any) error { return nil }

func (b *redisBackend) Ping(ctx context.Context, raw any) error {
	client, err := asRedisClient(raw)
	if err != nil {
		return err
	}
	return client.Ping(ctx).Err()
}

func asRedisClient(raw any) (*redis.Client, error) {
	client, ok := raw.(*redis.Client)
	if !ok {
		return nil, fmt.Errorf("raw connection is %T, not a *redis.Client", raw)
	}
	return client, nil
}
