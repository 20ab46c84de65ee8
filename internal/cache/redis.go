package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

// ErrEmptyAddress is returned when the Redis address is not configured.
var ErrEmptyAddress = errors.New("redis address is required")

const connectionTimeout = 5 * time.Second

// NewRedisClient connects and pings Redis.
func NewRedisClient(cfg RedisConfig) (*redis.Client, error) {
	if cfg.Address == "" {
		return nil, ErrEmptyAddress
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return client, nil
}

// RedisBackend shares entries between service instances. Entries carry a
// native Redis TTL in addition to ExpiresAt.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend wraps an existing client. Keys are namespaced by prefix.
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "zeroledger"
	}
	return &RedisBackend{client: client, prefix: prefix}
}

func (b *RedisBackend) key(kind Kind, key string) string {
	return b.prefix + ":" + string(kind) + ":" + key
}

// Load implements Backend.
func (b *RedisBackend) Load(ctx context.Context, kind Kind, key string) (*Entry, error) {
	data, err := b.client.Get(ctx, b.key(kind, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode redis entry: %w", err)
	}
	return &e, nil
}

// Save implements Backend. A zero ttl stores the entry without expiry.
func (b *RedisBackend) Save(ctx context.Context, entry Entry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode redis entry: %w", err)
	}
	if err := b.client.Set(ctx, b.key(entry.Kind, entry.Key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete implements Backend.
func (b *RedisBackend) Delete(ctx context.Context, kind Kind, key string) error {
	if err := b.client.Del(ctx, b.key(kind, key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
