// Package idempotency deduplicates task submissions. A client that retries
// POST /v1/tasks with the same Idempotency-Key gets the stored response back
// instead of a second task.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

type Entry struct {
	StatusCode int    `json:"status_code"`
	Body       []byte `json:"body"`
}

type Store interface {
	// Get returns the stored response for key, if any.
	Get(ctx context.Context, key string) (Entry, bool, error)
	// Claim marks key as in-flight for owner; false means another request
	// with the same key is already being processed.
	Claim(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	// Save stores the response and clears the claim.
	Save(ctx context.Context, key string, entry Entry, ttl time.Duration) error
	// Release drops an unclaimed key after a failed submission so the
	// client can retry.
	Release(ctx context.Context, key, owner string) error
}

func hashKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("idempotency key is required")
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:]), nil
}
