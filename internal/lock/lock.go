package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/Dhoini/Billing-reconciliation/pkg/logger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// lockKeyPrefix префикс ключей блокировок в Redis
	lockKeyPrefix = "lock:"

	// DefaultTTL должен превышать ожидаемую длительность удаленного вызова,
	// чтобы блокировка не истекла, пока создание подписки еще в полете
	DefaultTTL = 2 * time.Minute
)

// RecurringCreationKey строит ключ блокировки создания подписки для членства
func RecurringCreationKey(membershipID string) string {
	return "recurring-creation:" + membershipID
}

// Locker определяет контракт краткоживущей распределенной блокировки
type Locker interface {
	// TryAcquire пытается захватить блокировку. false означает,
	// что работу уже выполняет другой процесс — это не ошибка.
	TryAcquire(ctx context.Context, scopeKey string, ttl time.Duration) (bool, error)

	// Release снимает блокировку, если она все еще принадлежит этому процессу
	Release(ctx context.Context, scopeKey string) error
}

// RedisLock реализует Locker поверх Redis (SET NX PX).
type RedisLock struct {
	client *redis.Client
	token  string
	log    *logger.Logger
}

// NewRedisLock создает новую распределенную блокировку
func NewRedisLock(client *redis.Client, log *logger.Logger) *RedisLock {
	return &RedisLock{
		client: client,
		token:  uuid.NewString(),
		log:    log,
	}
}

// TryAcquire пытается захватить блокировку на ttl.
// Захват неблокирующий: при занятой блокировке сразу возвращается false.
func (l *RedisLock) TryAcquire(ctx context.Context, scopeKey string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	key := lockKeyPrefix + scopeKey

	ok, err := l.client.SetNX(ctx, key, l.token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", scopeKey, err)
	}

	if !ok {
		l.log.Debugw("Lock is held by another process", "scopeKey", scopeKey)
		return false, nil
	}

	l.log.Debugw("Lock acquired", "scopeKey", scopeKey, "ttl", ttl)
	return true, nil
}

// releaseScript удаляет ключ только если он все еще содержит наш токен:
// нельзя снять блокировку, перехваченную другим процессом после истечения TTL
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// Release снимает блокировку
func (l *RedisLock) Release(ctx context.Context, scopeKey string) error {
	key := lockKeyPrefix + scopeKey

	if err := releaseScript.Run(ctx, l.client, []string{key}, l.token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release lock %s: %w", scopeKey, err)
	}

	l.log.Debugw("Lock released", "scopeKey", scopeKey)
	return nil
}
