package idempotency

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

type storedEntry struct {
	entry     Entry
	expiresAt time.Time
}

type storedClaim struct {
	owner     string
	expiresAt time.Time
}

type InMemoryStore struct {
	mu      sync.Mutex
	entries map[string]storedEntry
	claims  map[string]storedClaim
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		entries: make(map[string]storedEntry),
		claims:  make(map[string]storedClaim),
	}
}

func (s *InMemoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	hashed, err := hashKey(key)
	if err != nil {
		return Entry{}, false, err
	}

	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.entries[hashed]
	if !ok {
		return Entry{}, false, nil
	}
	if now.After(stored.expiresAt) {
		delete(s.entries, hashed)
		return Entry{}, false, nil
	}

	entry := stored.entry
	entry.Body = append([]byte(nil), entry.Body...)
	return entry, true, nil
}

func (s *InMemoryStore) Claim(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
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

	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.claims[hashed]; ok && now.Before(existing.expiresAt) {
		return false, nil
	}
	s.claims[hashed] = storedClaim{owner: owner, expiresAt: now.Add(ttl)}
	return true, nil
}

func (s *InMemoryStore) Save(_ context.Context, key string, entry Entry, ttl time.Duration) error {
	hashed, err := hashKey(key)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	entry.Body = append([]byte(nil), entry.Body...)
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[hashed] = storedEntry{entry: entry, expiresAt: now.Add(ttl)}
	delete(s.claims, hashed)
	return nil
}

func (s *InMemoryStore) Release(_ context.Context, key, owner string) error {
	hashed, err := hashKey(key)
	if err != nil {
		return err
	}
	owner = strings.TrimSpace(owner)

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.claims[hashed]; ok && existing.owner == owner {
		delete(s.claims, hashed)
	}
	return nil
}
