package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisStore struct {
	client redis.Cmdable
	prefix string
}

func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	normalized := strings.TrimSpace(prefix)
	if normalized == "" {
		normalized = "orchestrator:idem"
	}
	return &RedisStore{client: client, prefix: normalized}
}

func (s *RedisStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	hashed, err := hashKey(key)
	if err != nil {
		return Entry{}, false, err
	}

	raw, err := s.client.Get(ctx, s.entryKey(hashed)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("idempotency get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("idempotency decode: %w", err)
	}
	return entry, true, nil
}

func (s *RedisStore) Claim(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	hashed, err := hashKey(key)
	if err != nil {
		return false, err
	}
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return false, errors.New("owner is required")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	claimed, err := s.client.SetNX(ctx, s.claimKey(hashed), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency claim: %w", err)
	}
	return claimed, nil
}

func (s *RedisStore) Save(ctx context.Context, key string, entry Entry, ttl time.Duration) error {
	hashed, err := hashKey(key)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("idempotency encode: %w", err)
	}
	if err := s.client.Set(ctx, s.entryKey(hashed), raw, ttl).Err(); err != nil {
		return fmt.Errorf("idempotency save: %w", err)
	}
	if err := s.client.Del(ctx, s.claimKey(hashed)).Err(); err != nil {
		return fmt.Errorf("idempotency unclaim: %w", err)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, key, owner string) error {
	hashed, err := hashKey(key)
	if err != nil {
		return err
	}

	_, err = releaseClaimScript.Run(ctx, s.client, []string{s.claimKey(hashed)}, strings.TrimSpace(owner)).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("idempotency release: %w", err)
	}
	return nil
}

func (s *RedisStore) entryKey(hashed string) string {
	return s.prefix + ":entry:" + hashed
}

func (s *RedisStore) claimKey(hashed string) string {
	return s.prefix + ":claim:" + hashed
}

var releaseClaimScript = redis.NewScript(`
local held = redis.call("GET", KEYS[1])
if not held then
  return 0
end
if held == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)
