// Package lease guards resource borrows across orchestrator processes.
// A lease is advisory: the in-process pool already serializes borrowers,
// the lease extends that guarantee to other processes sharing the same
// resource inventory. Tokens fence stale releases.
package lease

import (
	"context"
	"errors"
	"strings"
	"time"
)

const DefaultTTL = 60 * time.Second

type Lease struct {
	Token     uint64
	ExpiresAt time.Time
}

type Manager interface {
	// Acquire takes the lease on resourceID for owner. The second return
	// is false when another owner currently holds it.
	Acquire(ctx context.Context, resourceID, owner string, ttl time.Duration) (Lease, bool, error)
	// Renew extends a held lease; false when the lease expired or was
	// taken over.
	Renew(ctx context.Context, resourceID, owner string, token uint64, ttl time.Duration) (Lease, bool, error)
	// Release drops the lease when owner and token still match. Releasing
	// a lease held by someone else is a silent no-op.
	Release(ctx context.Context, resourceID, owner string, token uint64) error
}

func validateHolder(resourceID, owner string) (string, string, error) {
	resourceID = strings.TrimSpace(resourceID)
	owner = strings.TrimSpace(owner)
	if resourceID == "" {
		return "", "", errors.New("resource id is required")
	}
	if owner == "" {
		return "", "", errors.New("owner is required")
	}
	return resourceID, owner, nil
}

func normalizeTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}
