package lease

import (
	"context"
	"errors"
	"sync"
	"time"
)

type memoryLease struct {
	owner     string
	token     uint64
	expiresAt time.Time
}

// InMemoryManager is the single-process implementation, used when no Redis
// address is configured and in tests.
type InMemoryManager struct {
	mu    sync.Mutex
	seq   uint64
	holds map[string]memoryLease
}

func NewInMemoryManager() *InMemoryManager {
	return &InMemoryManager{holds: make(map[string]memoryLease)}
}

func (m *InMemoryManager) Acquire(_ context.Context, resourceID, owner string, ttl time.Duration) (Lease, bool, error) {
	resourceID, owner, err := validateHolder(resourceID, owner)
	if err != nil {
		return Lease{}, false, err
	}
	ttl = normalizeTTL(ttl)

	now := time.Now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()

	if held, ok := m.holds[resourceID]; ok && now.Before(held.expiresAt) {
		return Lease{}, false, nil
	}

	m.seq++
	granted := Lease{Token: m.seq, ExpiresAt: now.Add(ttl)}
	m.holds[resourceID] = memoryLease{
		owner:     owner,
		token:     granted.Token,
		expiresAt: granted.ExpiresAt,
	}
	return granted, true, nil
}

func (m *InMemoryManager) Renew(_ context.Context, resourceID, owner string, token uint64, ttl time.Duration) (Lease, bool, error) {
	resourceID, owner, err := validateHolder(resourceID, owner)
	if err != nil {
		return Lease{}, false, err
	}
	if token == 0 {
		return Lease{}, false, errors.New("token is required")
	}
	ttl = normalizeTTL(ttl)

	now := time.Now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()

	held, ok := m.holds[resourceID]
	if !ok || now.After(held.expiresAt) {
		delete(m.holds, resourceID)
		return Lease{}, false, nil
	}
	if held.owner != owner || held.token != token {
		return Lease{}, false, nil
	}

	held.expiresAt = now.Add(ttl)
	m.holds[resourceID] = held
	return Lease{Token: token, ExpiresAt: held.expiresAt}, true, nil
}

func (m *InMemoryManager) Release(_ context.Context, resourceID, owner string, token uint64) error {
	resourceID, owner, err := validateHolder(resourceID, owner)
	if err != nil {
		return err
	}
	if token == 0 {
		return errors.New("token is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	held, ok := m.holds[resourceID]
	if !ok || held.owner != owner || held.token != token {
		return nil
	}
	delete(m.holds, resourceID)
	return nil
}
