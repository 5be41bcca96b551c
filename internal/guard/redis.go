package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Снимаем блокировку, только если она всё ещё наша.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker хранит блокировки в Redis, чтобы они действовали для всех экземпляров сервиса.
type RedisLocker struct {
	client      *redis.Client
	serviceName string
	ttl         time.Duration
}

// NewRedisLocker создаёт блокировку поверх Redis по указанному адресу.
func NewRedisLocker(addr, serviceName string, ttl time.Duration) *RedisLocker {
	return &RedisLocker{
		client:      redis.NewClient(&redis.Options{Addr: addr}),
		serviceName: serviceName,
		ttl:         ttl,
	}
}

// Ping проверяет доступность Redis.
func (r *RedisLocker) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close закрывает соединение с Redis.
func (r *RedisLocker) Close() error {
	return r.client.Close()
}

// GenerateKey формирует ключ блокировки вида "service:operation:key".
func (r *RedisLocker) GenerateKey(operation, key string) string {
	return fmt.Sprintf("%s:%s:%s", r.serviceName, operation, key)
}

// Acquire захватывает блокировку через SET NX с TTL или возвращает ErrHeld.
func (r *RedisLocker) Acquire(ctx context.Context, key string) (Release, error) {
	redisKey := r.GenerateKey("lock", key)
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrHeld
	}

	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, r.client, []string{redisKey}, token).Err(); err != nil && err != redis.Nil {
			return fmt.Errorf("release lock: %w", err)
		}
		return nil
	}, nil
}
