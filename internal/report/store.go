package report

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/taskforge/orchestrator/internal/workflow"
)

var ErrNotFound = errors.New("task record not found")

// Record is the durable view of one task: its spec summary, current state,
// and, once terminal, the structured result.
type Record struct {
	TaskID      string             `json:"task_id"`
	State       workflow.State     `json:"state"`
	Kinds       []string           `json:"kinds"`
	Payload     map[string]string  `json:"payload,omitempty"`
	Success     bool               `json:"success"`
	ErrorKind   workflow.ErrorKind `json:"error_kind,omitempty"`
	Error       string             `json:"error,omitempty"`
	Detail      map[string]string  `json:"detail,omitempty"`
	ResourceIDs []string           `json:"resource_ids,omitempty"`
	Attempt     int                `json:"attempt"`
	DurationMS  int64              `json:"duration_ms"`
	CreatedAt   time.Time          `json:"created_at"`
	StartedAt   time.Time          `json:"started_at,omitempty"`
	CompletedAt time.Time          `json:"completed_at,omitempty"`
}

type Store interface {
	Create(ctx context.Context, record Record) (Record, error)
	UpdateState(ctx context.Context, taskID string, state workflow.State) (Record, error)
	// Finish stores the terminal result; it is idempotent so a retry loop
	// can overwrite an intermediate failure with its final attempt.
	Finish(ctx context.Context, taskID string, result workflow.Result, attempt int) (Record, error)
	Get(ctx context.Context, taskID string) (Record, error)
	List(ctx context.Context, limit int) ([]Record, error)
}

type InMemoryStore struct {
	mu    sync.RWMutex
	items map[string]Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{items: make(map[string]Record)}
}

func (s *InMemoryStore) Create(_ context.Context, record Record) (Record, error) {
	if strings.TrimSpace(record.TaskID) == "" {
		return Record{}, errors.New("task id is required")
	}
	if record.State == "" {
		record.State = workflow.StatePending
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[record.TaskID]; ok {
		return Record{}, errors.New("task record already exists")
	}
	s.items[record.TaskID] = record
	return record, nil
}

func (s *InMemoryStore) UpdateState(_ context.Context, taskID string, state workflow.State) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.items[taskID]
	if !ok {
		return Record{}, ErrNotFound
	}
	// A terminal record never regresses to a live state.
	if record.State.Terminal() && !state.Terminal() {
		return record, nil
	}
	record.State = state
	if state == workflow.StateProvisioning && record.StartedAt.IsZero() {
		record.StartedAt = time.Now().UTC()
	}
	s.items[taskID] = record
	return record, nil
}

func (s *InMemoryStore) Finish(_ context.Context, taskID string, result workflow.Result, attempt int) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.items[taskID]
	if !ok {
		return Record{}, ErrNotFound
	}

	if result.Success {
		record.State = workflow.StateCompleted
	} else {
		record.State = workflow.StateFailed
	}
	record.Success = result.Success
	record.ErrorKind = result.ErrorKind
	record.Error = result.Error
	record.Detail = result.Detail
	record.ResourceIDs = result.ResourceIDs
	record.Attempt = attempt
	record.DurationMS = result.Duration.Milliseconds()
	record.StartedAt = result.StartedAt
	record.CompletedAt = result.CompletedAt
	s.items[taskID] = record
	return record, nil
}

func (s *InMemoryStore) Get(_ context.Context, taskID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.items[taskID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return record, nil
}

func (s *InMemoryStore) List(_ context.Context, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]Record, 0, len(s.items))
	for _, record := range s.items {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}
