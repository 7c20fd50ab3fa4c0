// Package trigger implements the device ingress pipeline: idempotency
// within a 10 second bucket, per-token rate limiting, IP policy, device
// validation and alarm creation.
package trigger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	idempotencyTTL = 30 * time.Second
	rateTTL        = 70 * time.Second
	reserveRetries = 3
)

// IdempotencyBucket is the 10 second window index for a wall time.
func IdempotencyBucket(t time.Time) int64 {
	return t.Unix() / 10
}

// MinuteBucket is the rate-limit window index for a wall time.
func MinuteBucket(t time.Time) int64 {
	return t.Unix() / 60
}

// IdempotencyKey derives the KV key for a (token, bucket) pair. The
// token is hashed so the secret never appears in Redis.
func IdempotencyKey(token string, bucket int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", token, bucket)))
	return "idemp:" + hex.EncodeToString(sum[:])
}

// RateKey derives the KV key for a token's minute-bucket counter.
func RateKey(token string, minuteBucket int64) string {
	sum := sha256.Sum256([]byte(token))
	return fmt.Sprintf("rl:%s:%d", hex.EncodeToString(sum[:]), minuteBucket)
}

// KV wraps the ephemeral Redis operations of the pipeline. A wiped
// Redis only weakens deduplication until the buckets refill.
type KV struct {
	rdb *redis.Client
}

// NewKV creates the pipeline KV adapter.
func NewKV(rdb *redis.Client) *KV {
	return &KV{rdb: rdb}
}

// Lookup returns the reserved value for an idempotency key, or "".
func (k *KV) Lookup(ctx context.Context, key string) (string, error) {
	v, err := k.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading idempotency key: %w", err)
	}
	return v, nil
}

// Reserve atomically claims the idempotency key with value, TTL 30s.
// Returns (true, "") on success, or (false, winner) when a concurrent
// caller won the slot.
func (k *KV) Reserve(ctx context.Context, key, value string) (bool, string, error) {
	ok, err := k.rdb.SetNX(ctx, key, value, idempotencyTTL).Result()
	if err != nil {
		return false, "", fmt.Errorf("reserving idempotency key: %w", err)
	}
	if ok {
		return true, "", nil
	}
	winner, err := k.Lookup(ctx, key)
	if err != nil {
		return false, "", err
	}
	return false, winner, nil
}

// Release clears a reservation so a retry of the failed request can
// succeed within the same bucket.
func (k *KV) Release(ctx context.Context, key string) error {
	if err := k.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("releasing idempotency key: %w", err)
	}
	return nil
}

// incrRateScript bumps the counter and stamps the window TTL in one
// round trip, so a counter can never exist without an expiry.
var incrRateScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return count`)

// IncrRate bumps the minute-bucket counter and returns the new count.
func (k *KV) IncrRate(ctx context.Context, key string) (int64, error) {
	count, err := incrRateScript.Run(ctx, k.rdb, []string{key}, int(rateTTL.Seconds())).Int64()
	if err != nil {
		return 0, fmt.Errorf("incrementing rate counter: %w", err)
	}
	return count, nil
}
