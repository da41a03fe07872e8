package lease

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisManager backs leases with Redis so several orchestrator processes can
// share one resource inventory. The hold value is "owner|token"; release and
// renew compare it server-side to stay atomic.
type RedisManager struct {
	client redis.Cmdable
	prefix string
}

func NewRedisManager(client redis.Cmdable, prefix string) *RedisManager {
	normalized := strings.TrimSpace(prefix)
	if normalized == "" {
		normalized = "orchestrator:borrow"
	}
	return &RedisManager{client: client, prefix: normalized}
}

func (m *RedisManager) Acquire(ctx context.Context, resourceID, owner string, ttl time.Duration) (Lease, bool, error) {
	resourceID, owner, err := validateHolder(resourceID, owner)
	if err != nil {
		return Lease{}, false, err
	}
	ttl = normalizeTTL(ttl)

	token, err := m.client.Incr(ctx, m.tokenKey(resourceID)).Uint64()
	if err != nil {
		return Lease{}, false, fmt.Errorf("borrow token incr: %w", err)
	}

	taken, err := m.client.SetNX(ctx, m.holdKey(resourceID), holdValue(owner, token), ttl).Result()
	if err != nil {
		return Lease{}, false, fmt.Errorf("borrow setnx: %w", err)
	}
	if !taken {
		return Lease{}, false, nil
	}
	return Lease{Token: token, ExpiresAt: time.Now().UTC().Add(ttl)}, true, nil
}

func (m *RedisManager) Renew(ctx context.Context, resourceID, owner string, token uint64, ttl time.Duration) (Lease, bool, error) {
	resourceID, owner, err := validateHolder(resourceID, owner)
	if err != nil {
		return Lease{}, false, err
	}
	if token == 0 {
		return Lease{}, false, errors.New("token is required")
	}
	ttl = normalizeTTL(ttl)

	renewed, err := renewScript.Run(ctx, m.client,
		[]string{m.holdKey(resourceID)},
		holdValue(owner, token),
		int64(ttl/time.Millisecond),
	).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Lease{}, false, fmt.Errorf("borrow renew: %w", err)
	}
	if renewed == 0 {
		return Lease{}, false, nil
	}
	return Lease{Token: token, ExpiresAt: time.Now().UTC().Add(ttl)}, true, nil
}

func (m *RedisManager) Release(ctx context.Context, resourceID, owner string, token uint64) error {
	resourceID, owner, err := validateHolder(resourceID, owner)
	if err != nil {
		return err
	}
	if token == 0 {
		return errors.New("token is required")
	}

	_, err = releaseScript.Run(ctx, m.client,
		[]string{m.holdKey(resourceID)},
		holdValue(owner, token),
	).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("borrow release: %w", err)
	}
	return nil
}

func (m *RedisManager) holdKey(resourceID string) string {
	return m.prefix + ":hold:" + resourceID
}

func (m *RedisManager) tokenKey(resourceID string) string {
	return m.prefix + ":token:" + resourceID
}

func holdValue(owner string, token uint64) string {
	return fmt.Sprintf("%s|%d", owner, token)
}

var releaseScript = redis.NewScript(`
local held = redis.call("GET", KEYS[1])
if not held then
  return 0
end
if held == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

var renewScript = redis.NewScript(`
local held = redis.call("GET", KEYS[1])
if not held then
  return 0
end
if held == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)
