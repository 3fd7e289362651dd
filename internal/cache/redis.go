package cache

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/airbooking-payments/config"
	"github.com/Domenick1991/airbooking-payments/internal/gateway"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it still holds our token, so a run
// that outlived its TTL cannot free a lock taken by the next run.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisCache struct {
	client          *redis.Client
	verificationTTL time.Duration
}

func NewRedisCache(cfg config.RedisConfig) *RedisCache {
	return &RedisCache{
		client:          redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}),
		verificationTTL: cfg.VerificationTTL,
	}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) GetVerification(ctx context.Context, reference string) (*gateway.Result, error) {
	data, err := c.client.Get(ctx, verificationKey(reference)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var res gateway.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *RedisCache) SetVerification(ctx context.Context, reference string, result gateway.Result) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, verificationKey(reference), payload, c.verificationTTL).Err()
}

// AcquireSweepLock tries to take the sweep lock. The returned token must be
// passed to ReleaseSweepLock.
func (c *RedisCache) AcquireSweepLock(ctx context.Context, ttl time.Duration) (string, bool, error) {
	token, err := newToken()
	if err != nil {
		return "", false, err
	}
	ok, err := c.client.SetNX(ctx, sweepLockKey(), token, ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

func (c *RedisCache) ReleaseSweepLock(ctx context.Context, token string) error {
	return releaseScript.Run(ctx, c.client, []string{sweepLockKey()}, token).Err()
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func verificationKey(reference string) string {
	return "cache:verification:" + reference
}

func sweepLockKey() string {
	return "lock:reconcile:sweep"
}

var _ gateway.ResultCache = (*RedisCache)(nil)
