package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTier shares cached results between processes. Keys expire a little
// after the freshness window so stale payloads age out on their own.
type RedisTier struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisTier connects to Redis and verifies the connection.
func NewRedisTier(addr, password string, db int, window time.Duration) (*RedisTier, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisTier{client: client, ttl: window + time.Hour}, nil
}

func (t *RedisTier) Name() string { return "redis" }

func redisKey(accountID int64, kind string) string {
	return fmt.Sprintf("perf:%d:%s", accountID, kind)
}

func (t *RedisTier) Get(ctx context.Context, accountID int64, kind string) (*Entry, error) {
	data, err := t.client.Get(ctx, redisKey(accountID, kind)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode redis entry: %w", err)
	}
	return &e, nil
}

func (t *RedisTier) Put(ctx context.Context, accountID int64, kind string, e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode redis entry: %w", err)
	}
	return t.client.Set(ctx, redisKey(accountID, kind), data, t.ttl).Err()
}

// Close closes the underlying connection.
func (t *RedisTier) Close() error { return t.client.Close() }
