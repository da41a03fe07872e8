package workflow

import (
	"context"
	"time"

	"github.com/taskforge/orchestrator/internal/resource"
)

type State string

const (
	StatePending              State = "pending"
	StateProvisioning         State = "provisioning"
	StateActing               State = "acting"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateCompleted            State = "completed"
	StateFailed               State = "failed"
)

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

type ErrorKind string

const (
	ErrorNone                ErrorKind = ""
	ErrorResourceUnavailable ErrorKind = "resource_unavailable"
	ErrorAction              ErrorKind = "action_error"
	ErrorConfirmationTimeout ErrorKind = "confirmation_timeout"
	ErrorCancelled           ErrorKind = "cancelled"
	ErrorInternalFault       ErrorKind = "internal_fault"
)

// Spec describes one workflow execution: which resource kinds to borrow and
// the opaque payload handed to the collaborators.
type Spec struct {
	TaskID         string            `json:"task_id"`
	Kinds          []resource.Kind   `json:"kinds"`
	Payload        map[string]string `json:"payload,omitempty"`
	ConfirmMaxWait time.Duration     `json:"-"`
}

// TaskContext is what the injected collaborators see: the task identity, the
// borrowed resources, and the payload. They never touch the pool directly.
type TaskContext struct {
	TaskID    string              `json:"task_id"`
	Resources []resource.Resource `json:"resources"`
	Payload   map[string]string   `json:"payload,omitempty"`
}

type ActionOutcome struct {
	Detail map[string]string `json:"detail,omitempty"`
}

type ActionExecutor interface {
	Perform(ctx context.Context, task TaskContext) (ActionOutcome, error)
}

type PollStatus int

const (
	PollNotYet PollStatus = iota
	PollConfirmed
	PollError
)

type ConfirmationSource interface {
	Poll(ctx context.Context, task TaskContext) (PollStatus, error)
}

// Result is the structured record reported for every task, success or not.
type Result struct {
	TaskID      string            `json:"task_id"`
	Success     bool              `json:"success"`
	ErrorKind   ErrorKind         `json:"error_kind,omitempty"`
	Error       string            `json:"error,omitempty"`
	Detail      map[string]string `json:"detail,omitempty"`
	ResourceIDs []string          `json:"resource_ids"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt time.Time         `json:"completed_at"`
	Duration    time.Duration     `json:"duration"`
}
