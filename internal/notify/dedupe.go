package notify

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper 判断某条消息是否第一次发送
type Deduper interface {
	FirstTime(ctx context.Context, key string) (bool, error)
}

type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisDeduper{client: client, ttl: ttl}
}

// ConnectRedis 解析 redis:// URL 并检查连通性
func ConnectRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func (d *RedisDeduper) FirstTime(ctx context.Context, key string) (bool, error) {
	return d.client.SetNX(ctx, "notified:"+key, 1, d.ttl).Result()
}
