package resource

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/taskforge/orchestrator/internal/lease"
)

var (
	// ErrUnavailable means no healthy, unborrowed resource of the requested
	// kind showed up within the bounded wait. Callers retry with their own
	// backoff.
	ErrUnavailable = errors.New("no resource available")

	ErrDuplicateResource = errors.New("resource already registered")
	ErrPoolFull          = errors.New("pool is full for kind")
)

type Config struct {
	AcquireWaitTimeout  time.Duration
	AcquirePollInterval time.Duration
	EvictThreshold      int
	MaxPerKind          int
	LeaseTTL            time.Duration
	Owner               string
}

// Source replenishes evicted resources. A nil Source means evictions shrink
// the pool permanently.
type Source interface {
	Provision(ctx context.Context, kind Kind) (Resource, error)
}

type entry struct {
	res         Resource
	borrowed    bool
	failures    int
	lastFailure time.Time
	leaseToken  uint64
}

// Pool lends each resource to at most one borrower at a time. All borrow
// state lives behind one mutex; the optional lease manager extends the
// single-borrower guarantee across processes sharing a resource set.
type Pool struct {
	cfg    Config
	source Source
	leases lease.Manager
	logger *log.Logger

	mu      sync.Mutex
	entries map[Kind][]*entry
	byID    map[string]*entry
	kinds   map[Kind]struct{}
}

func NewPool(cfg Config, source Source, leases lease.Manager, logger *log.Logger) *Pool {
	if cfg.AcquireWaitTimeout <= 0 {
		cfg.AcquireWaitTimeout = 10 * time.Second
	}
	if cfg.AcquirePollInterval <= 0 {
		cfg.AcquirePollInterval = 100 * time.Millisecond
	}
	if cfg.EvictThreshold <= 0 {
		cfg.EvictThreshold = 3
	}
	if cfg.MaxPerKind <= 0 {
		cfg.MaxPerKind = 64
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 90 * time.Second
	}
	if strings.TrimSpace(cfg.Owner) == "" {
		cfg.Owner = "pool"
	}
	if logger == nil {
		logger = log.Default()
	}

	return &Pool{
		cfg:     cfg,
		source:  source,
		leases:  leases,
		logger:  logger,
		entries: make(map[Kind][]*entry),
		byID:    make(map[string]*entry),
		kinds:   make(map[Kind]struct{}),
	}
}

func (p *Pool) Add(res Resource) error {
	if strings.TrimSpace(res.ID) == "" {
		return errors.New("resource id is required")
	}
	if strings.TrimSpace(string(res.Kind)) == "" {
		return errors.New("resource kind is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.byID[res.ID]; ok {
		return ErrDuplicateResource
	}
	if len(p.entries[res.Kind]) >= p.cfg.MaxPerKind {
		return fmt.Errorf("%w: %s", ErrPoolFull, res.Kind)
	}

	e := &entry{res: res}
	p.entries[res.Kind] = append(p.entries[res.Kind], e)
	p.byID[res.ID] = e
	p.kinds[res.Kind] = struct{}{}
	return nil
}

// Remove evicts a resource by ID, whether or not it is currently borrowed.
// A lease held for a borrowed resource is released immediately rather than
// left to expire; the borrower's eventual Release becomes a no-op.
func (p *Pool) Remove(id string) {
	p.mu.Lock()
	e, ok := p.byID[id]
	if !ok {
		p.mu.Unlock()
		return
	}
	token := e.leaseToken
	e.leaseToken = 0
	p.evictLocked(id)
	p.mu.Unlock()

	if p.leases != nil && token != 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.leases.Release(ctx, id, p.cfg.Owner, token); err != nil {
			p.logger.Printf("pool lease release failed: resource_id=%s err=%v", id, err)
		}
	}
}

// Acquire returns a healthy, unborrowed resource of the requested kind,
// waiting up to AcquireWaitTimeout for one to free up. The parent context
// cancelling surfaces as ctx.Err; exhausting the wait surfaces as
// ErrUnavailable.
func (p *Pool) Acquire(ctx context.Context, kind Kind) (Resource, error) {
	waitCtx, cancel := context.WithTimeout(ctx, p.cfg.AcquireWaitTimeout)
	defer cancel()

	for {
		res, ok, err := p.tryAcquire(waitCtx, kind)
		if err != nil {
			return Resource{}, err
		}
		if ok {
			return res, nil
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return Resource{}, ctx.Err()
			}
			return Resource{}, ErrUnavailable
		case <-time.After(p.cfg.AcquirePollInterval):
		}
	}
}

func (p *Pool) tryAcquire(ctx context.Context, kind Kind) (Resource, bool, error) {
	tried := make(map[string]struct{})
	for {
		candidate, ok := p.claimNext(kind, tried)
		if !ok {
			return Resource{}, false, nil
		}

		if p.leases == nil {
			return candidate.res, true, nil
		}

		granted, ok, err := p.leases.Acquire(ctx, candidate.res.ID, p.cfg.Owner, p.cfg.LeaseTTL)
		if err != nil {
			p.unclaim(candidate)
			return Resource{}, false, fmt.Errorf("lease acquire %s: %w", candidate.res.ID, err)
		}
		if !ok {
			// Held by another process; put it back and keep scanning.
			p.unclaim(candidate)
			tried[candidate.res.ID] = struct{}{}
			continue
		}

		p.mu.Lock()
		candidate.leaseToken = granted.Token
		p.mu.Unlock()
		return candidate.res, true, nil
	}
}

func (p *Pool) claimNext(kind Kind, skip map[string]struct{}) (*entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries[kind] {
		if e.borrowed {
			continue
		}
		if _, tried := skip[e.res.ID]; tried {
			continue
		}
		e.borrowed = true
		return e, true
	}
	return nil, false
}

func (p *Pool) unclaim(e *entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e.borrowed = false
}

// Release returns a borrowed resource to the pool. A failure outcome bumps
// the consecutive-failure counter; hitting EvictThreshold evicts the resource
// and asks the Source, when present, for a replacement. Releasing a resource
// that is not currently borrowed is a no-op.
func (p *Pool) Release(ctx context.Context, res Resource, outcome Outcome) error {
	p.mu.Lock()
	e, ok := p.byID[res.ID]
	if !ok || !e.borrowed {
		p.mu.Unlock()
		return nil
	}

	e.borrowed = false
	token := e.leaseToken
	e.leaseToken = 0

	evicted := false
	switch outcome {
	case OutcomeFailure:
		e.failures++
		e.lastFailure = time.Now().UTC()
		if e.failures >= p.cfg.EvictThreshold {
			p.evictLocked(res.ID)
			evicted = true
		}
	case OutcomeFatal:
		p.evictLocked(res.ID)
		evicted = true
	default:
		e.failures = 0
	}
	p.mu.Unlock()

	if p.leases != nil && token != 0 {
		if err := p.leases.Release(ctx, res.ID, p.cfg.Owner, token); err != nil {
			p.logger.Printf("pool lease release failed: resource_id=%s err=%v", res.ID, err)
		}
	}

	if evicted {
		p.logger.Printf("pool evicted resource: resource_id=%s kind=%s", res.ID, res.Kind)
		p.replenish(ctx, res.Kind)
	}
	return nil
}

func (p *Pool) replenish(ctx context.Context, kind Kind) {
	if p.source == nil {
		return
	}
	replacement, err := p.source.Provision(ctx, kind)
	if err != nil {
		p.logger.Printf("pool replenish failed: kind=%s err=%v", kind, err)
		return
	}
	if err := p.Add(replacement); err != nil {
		p.logger.Printf("pool replenish add failed: resource_id=%s err=%v", replacement.ID, err)
		return
	}
	p.logger.Printf("pool replenished: resource_id=%s kind=%s", replacement.ID, kind)
}

func (p *Pool) evictLocked(id string) {
	e, ok := p.byID[id]
	if !ok {
		return
	}
	delete(p.byID, id)
	kept := p.entries[e.res.Kind][:0]
	for _, candidate := range p.entries[e.res.Kind] {
		if candidate.res.ID != id {
			kept = append(kept, candidate)
		}
	}
	p.entries[e.res.Kind] = kept
}

// HealthCheck reports whether every kind ever registered still has at least
// one resource in the pool. Borrowed resources count as healthy.
func (p *Pool) HealthCheck() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for kind := range p.kinds {
		if len(p.entries[kind]) == 0 {
			return false
		}
	}
	return true
}

func (p *Pool) Snapshot() []Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	kinds := make([]Kind, 0, len(p.entries))
	for kind := range p.entries {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	statuses := make([]Status, 0, len(p.byID))
	for _, kind := range kinds {
		for _, e := range p.entries[kind] {
			statuses = append(statuses, Status{
				ID:          e.res.ID,
				Kind:        e.res.Kind,
				Address:     e.res.Address,
				Borrowed:    e.borrowed,
				Failures:    e.failures,
				LastFailure: e.lastFailure,
			})
		}
	}
	return statuses
}
