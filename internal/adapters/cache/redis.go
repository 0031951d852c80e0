package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/athebyme/catalog-sync/pkg/interfaces"
	"github.com/go-redis/redis/v8"
)

// RedisCache реализация CachePort поверх Redis.
// Используется как разделяемый кэш ответов удаленных фидов
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(ctx context.Context, host string, port int, password string, db int) (interfaces.CachePort, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Password:     password,
		DB:           db,
		PoolSize:     10,
		MinIdleConns: 5,
		MaxRetries:   3,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// Get возвращает nil, nil при промахе кэша
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	return val, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	return r.client.Set(ctx, key, value, expiration).Err()
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// Lock захватывает распределенную блокировку через SETNX
func (r *RedisCache) Lock(ctx context.Context, key string, expiration time.Duration) (bool, error) {
	return r.client.SetNX(ctx, "lock:"+key, 1, expiration).Result()
}

// Unlock освобождает блокировку
func (r *RedisCache) Unlock(ctx context.Context, key string) error {
	return r.client.Del(ctx, "lock:"+key).Err()
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}
