package resource

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

var ErrNoSpare = errors.New("no spare resource for kind")

// StaticSource hands out replacements from a fixed per-kind backlog of
// addresses, typically loaded from configuration at startup.
type StaticSource struct {
	mu     sync.Mutex
	spares map[Kind][]string
}

func NewStaticSource(spares map[Kind][]string) *StaticSource {
	copied := make(map[Kind][]string, len(spares))
	for kind, addresses := range spares {
		copied[kind] = append([]string(nil), addresses...)
	}
	return &StaticSource{spares: copied}
}

func (s *StaticSource) Provision(_ context.Context, kind Kind) (Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	backlog := s.spares[kind]
	if len(backlog) == 0 {
		return Resource{}, ErrNoSpare
	}

	address := backlog[0]
	s.spares[kind] = backlog[1:]

	return Resource{
		ID:      string(kind) + "-" + uuid.NewString(),
		Kind:    kind,
		Address: address,
	}, nil
}

// Remaining reports how many spares are left for a kind.
func (s *StaticSource) Remaining(kind Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.spares[kind])
}
