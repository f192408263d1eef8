package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Dhoini/Billing-reconciliation/internal/gateway"
	"github.com/Dhoini/Billing-reconciliation/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const (
	// resourceKeyPrefix префикс ключей кэша удаленных ресурсов в Redis
	resourceKeyPrefix = "resource:"

	// resourceCacheTTL ресурсы шлюза (цены, налоговые ставки, купоны)
	// практически неизменяемы, но TTL ограничивает жизнь устаревших записей
	resourceCacheTTL = 24 * time.Hour
)

// RedisResourceCache реализует gateway.ResourceCache поверх Redis.
// Кэш хранит соответствие ключа поиска удаленному идентификатору ресурса,
// чтобы не искать ресурс у шлюза при каждом чекауте.
type RedisResourceCache struct {
	client *redis.Client
	log    *logger.Logger
}

var _ gateway.ResourceCache = (*RedisResourceCache)(nil)

// NewRedisResourceCache создает новый кэш удаленных ресурсов
func NewRedisResourceCache(client *redis.Client, log *logger.Logger) *RedisResourceCache {
	return &RedisResourceCache{client: client, log: log}
}

func resourceKey(gatewayID, kind, lookupKey string) string {
	return fmt.Sprintf("%s%s:%s:%s", resourceKeyPrefix, gatewayID, kind, lookupKey)
}

// Get возвращает удаленный идентификатор ресурса по ключу поиска.
// Промах кэша не является ошибкой: возвращается пустая строка.
func (c *RedisResourceCache) Get(ctx context.Context, gatewayID, kind, lookupKey string) (string, error) {
	key := resourceKey(gatewayID, kind, lookupKey)

	remoteID, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil
		}
		c.log.Errorw("Error getting resource from cache", "error", err, "key", key)
		return "", fmt.Errorf("failed to get resource from cache: %w", err)
	}

	c.log.Debugw("Resource resolved from cache", "key", key, "remoteID", remoteID)
	return remoteID, nil
}

// Put сохраняет соответствие ключа поиска удаленному идентификатору
func (c *RedisResourceCache) Put(ctx context.Context, gatewayID, kind, lookupKey, remoteID string) error {
	key := resourceKey(gatewayID, kind, lookupKey)

	if err := c.client.Set(ctx, key, remoteID, resourceCacheTTL).Err(); err != nil {
		c.log.Errorw("Failed to cache resource", "error", err, "key", key)
		return fmt.Errorf("failed to cache resource: %w", err)
	}

	c.log.Debugw("Resource cached", "key", key, "remoteID", remoteID)
	return nil
}
