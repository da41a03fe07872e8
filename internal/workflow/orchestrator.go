package workflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/taskforge/orchestrator/internal/resource"
)

type Config struct {
	ConfirmPollInterval time.Duration
	ConfirmMaxWait      time.Duration
}

// TransitionFunc observes state changes; wired to the result store and the
// event stream. It must not block.
type TransitionFunc func(taskID string, from, to State)

// Orchestrator drives one task through
// pending -> provisioning -> acting -> awaiting_confirmation and into a
// terminal state. Every borrowed resource is released exactly once on every
// exit path, including cancellation and panics in collaborators.
type Orchestrator struct {
	pool          *resource.Pool
	executor      ActionExecutor
	confirmations ConfirmationSource
	cfg           Config
	logger        *log.Logger
	onTransition  TransitionFunc
}

func NewOrchestrator(pool *resource.Pool, executor ActionExecutor, confirmations ConfirmationSource, cfg Config, logger *log.Logger) *Orchestrator {
	if cfg.ConfirmPollInterval <= 0 {
		cfg.ConfirmPollInterval = 250 * time.Millisecond
	}
	if cfg.ConfirmMaxWait <= 0 {
		cfg.ConfirmMaxWait = 30 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Orchestrator{
		pool:          pool,
		executor:      executor,
		confirmations: confirmations,
		cfg:           cfg,
		logger:        logger,
	}
}

func (o *Orchestrator) OnTransition(fn TransitionFunc) {
	o.onTransition = fn
}

// Run executes the task to a terminal state and returns its result. It never
// returns an error: every failure mode lands in Result.ErrorKind.
func (o *Orchestrator) Run(ctx context.Context, spec Spec) (result Result) {
	startedAt := time.Now().UTC()
	state := StatePending
	result = Result{TaskID: spec.TaskID, StartedAt: startedAt}

	transition := func(next State) {
		if o.onTransition != nil {
			o.onTransition(spec.TaskID, state, next)
		}
		state = next
	}

	var borrowed []resource.Resource

	defer func() {
		if recovered := recover(); recovered != nil {
			result.Success = false
			result.ErrorKind = ErrorInternalFault
			result.Error = fmt.Sprintf("workflow panic: %v", recovered)
			o.logger.Printf("task %s recovered from panic: %v", spec.TaskID, recovered)
			if !state.Terminal() {
				transition(StateFailed)
			}
		}

		// Release runs on a fresh context so a cancelled task still
		// returns what it borrowed.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		outcome := releaseOutcome(result.ErrorKind)
		for _, res := range borrowed {
			if err := o.pool.Release(releaseCtx, res, outcome); err != nil {
				o.logger.Printf("task %s release %s failed: %v", spec.TaskID, res.ID, err)
			}
			result.ResourceIDs = append(result.ResourceIDs, res.ID)
		}

		result.CompletedAt = time.Now().UTC()
		result.Duration = result.CompletedAt.Sub(startedAt)
	}()

	fail := func(kind ErrorKind, err error) Result {
		result.Success = false
		result.ErrorKind = kind
		if err != nil {
			result.Error = err.Error()
		}
		transition(StateFailed)
		return result
	}

	transition(StateProvisioning)
	for _, kind := range spec.Kinds {
		res, err := o.pool.Acquire(ctx, kind)
		if err != nil {
			if ctx.Err() != nil {
				return fail(ErrorCancelled, ctx.Err())
			}
			if errors.Is(err, resource.ErrUnavailable) {
				return fail(ErrorResourceUnavailable, fmt.Errorf("kind %s: %w", kind, err))
			}
			return fail(ErrorInternalFault, err)
		}
		borrowed = append(borrowed, res)
	}

	taskCtx := TaskContext{
		TaskID:    spec.TaskID,
		Resources: borrowed,
		Payload:   spec.Payload,
	}

	transition(StateActing)
	outcome, err := o.executor.Perform(ctx, taskCtx)
	if err != nil {
		if ctx.Err() != nil {
			return fail(ErrorCancelled, ctx.Err())
		}
		return fail(ErrorAction, err)
	}
	result.Detail = outcome.Detail

	transition(StateAwaitingConfirmation)
	if err := o.awaitConfirmation(ctx, spec, taskCtx); err != nil {
		if ctx.Err() != nil {
			return fail(ErrorCancelled, ctx.Err())
		}
		return fail(ErrorConfirmationTimeout, err)
	}

	result.Success = true
	transition(StateCompleted)
	return result
}

// awaitConfirmation polls until confirmed, cancelled, or the max wait
// elapses. Poll errors are swallowed and retried; only the deadline or the
// context ends the loop.
func (o *Orchestrator) awaitConfirmation(ctx context.Context, spec Spec, taskCtx TaskContext) error {
	maxWait := spec.ConfirmMaxWait
	if maxWait <= 0 {
		maxWait = o.cfg.ConfirmMaxWait
	}

	deadline := time.NewTimer(maxWait)
	defer deadline.Stop()

	for {
		status, err := o.confirmations.Poll(ctx, taskCtx)
		if err == nil && status == PollConfirmed {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.logger.Printf("task %s confirmation poll error (will retry): %v", taskCtx.TaskID, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("confirmation not observed within %s", maxWait)
		case <-time.After(o.cfg.ConfirmPollInterval):
		}
	}
}

// Action and confirmation failures count against the borrowed resources;
// cancellation and missing resources do not.
func releaseOutcome(kind ErrorKind) resource.Outcome {
	switch kind {
	case ErrorAction, ErrorConfirmationTimeout:
		return resource.OutcomeFailure
	default:
		return resource.OutcomeSuccess
	}
}
