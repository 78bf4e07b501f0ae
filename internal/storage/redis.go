package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/reward-settler/internal/config"
)

// ErrLockHeld is returned when another process holds the settlement lock.
var ErrLockHeld = errors.New("settlement lock held by another process")

// RedisCache wraps the Redis client
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis cache connection
func NewRedisCache(cfg *config.RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.MaxConnections,
		MinIdleConns: 5,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// NewRedisCacheWithClient wraps an existing client, used by tests
func NewRedisCacheWithClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Close closes the Redis connection
func (r *RedisCache) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Client returns the underlying Redis client
func (r *RedisCache) Client() *redis.Client {
	return r.client
}

// Ping checks if Redis is reachable
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

const settlementLockKey = "settlement:cycle:lock"

// releaseLockScript deletes the lock only when the caller still owns it,
// so an expired holder cannot release a lock a newer cycle has taken.
var releaseLockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// AcquireSettlementLock takes the cluster-wide settlement lock. The token
// identifies the holder and must be passed back to ReleaseSettlementLock.
// Returns ErrLockHeld when another cycle is in flight.
func (r *RedisCache) AcquireSettlementLock(ctx context.Context, token string, ttl time.Duration) error {
	ok, err := r.client.SetNX(ctx, settlementLockKey, token, ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to acquire settlement lock: %w", err)
	}
	if !ok {
		return ErrLockHeld
	}
	return nil
}

// ReleaseSettlementLock releases the settlement lock if the token still
// owns it. Releasing a lock that expired or changed hands is not an error.
func (r *RedisCache) ReleaseSettlementLock(ctx context.Context, token string) error {
	if err := releaseLockScript.Run(ctx, r.client, []string{settlementLockKey}, token).Err(); err != nil {
		return fmt.Errorf("failed to release settlement lock: %w", err)
	}
	return nil
}

func balanceCacheKey(address string) string {
	return fmt.Sprintf("balance:onchain:%s", address)
}

// GetCachedBalance returns the cached on-chain balance for an address.
// The second return is false on a cache miss.
func (r *RedisCache) GetCachedBalance(ctx context.Context, address string) (decimal.Decimal, bool, error) {
	val, err := r.client.Get(ctx, balanceCacheKey(address)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, fmt.Errorf("failed to get cached balance: %w", err)
	}

	balance, err := decimal.NewFromString(val)
	if err != nil {
		// Treat a corrupt entry as a miss so it gets overwritten
		return decimal.Zero, false, nil
	}
	return balance, true, nil
}

// SetCachedBalance stores the on-chain balance for an address with a TTL
func (r *RedisCache) SetCachedBalance(ctx context.Context, address string, balance decimal.Decimal, ttl time.Duration) error {
	if err := r.client.Set(ctx, balanceCacheKey(address), balance.String(), ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cached balance: %w", err)
	}
	return nil
}

// InvalidateCachedBalance drops the cached balance for an address, used
// after a settlement or withdrawal changes it on chain.
func (r *RedisCache) InvalidateCachedBalance(ctx context.Context, address string) error {
	if err := r.client.Del(ctx, balanceCacheKey(address)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cached balance: %w", err)
	}
	return nil
}
