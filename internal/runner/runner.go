package runner

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/taskforge/orchestrator/internal/report"
	"github.com/taskforge/orchestrator/internal/workflow"
)

var ErrQueueFull = errors.New("task queue is full")

// Driver runs one workflow to a terminal result. *workflow.Orchestrator is
// the production implementation.
type Driver interface {
	Run(ctx context.Context, spec workflow.Spec) workflow.Result
}

type Config struct {
	QueueSize      int
	Workers        int
	LaunchInterval time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// Runner feeds queued task specs to a fixed set of workers. Launches are
// spaced by at least LaunchInterval across all workers, and a task that
// fails only because no resource was free is retried with exponential
// backoff before its failure becomes final.
type Runner struct {
	driver Driver
	store  report.Store
	cfg    Config
	logger *log.Logger
	stats  *Stats

	queue chan workflow.Spec

	launchMu   sync.Mutex
	lastLaunch time.Time
}

func New(driver Driver, store report.Store, cfg Config, logger *log.Logger) *Runner {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 1 * time.Second
	}
	if cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		cfg.RetryMaxDelay = cfg.RetryBaseDelay
	}
	if logger == nil {
		logger = log.Default()
	}

	return &Runner{
		driver: driver,
		store:  store,
		cfg:    cfg,
		logger: logger,
		stats:  NewStats(),
		queue:  make(chan workflow.Spec, cfg.QueueSize),
	}
}

func (r *Runner) Stats() *Stats {
	return r.stats
}

// Start launches the workers and blocks until ctx is cancelled and the
// workers have drained their in-flight tasks.
func (r *Runner) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for workerID := 1; workerID <= r.cfg.Workers; workerID++ {
		wg.Add(1)
		id := workerID
		go func() {
			defer wg.Done()
			r.worker(ctx, id)
		}()
	}
	wg.Wait()
}

func (r *Runner) Enqueue(ctx context.Context, spec workflow.Spec) error {
	if strings.TrimSpace(spec.TaskID) == "" {
		return errors.New("task id is required")
	}
	if len(spec.Kinds) == 0 {
		return errors.New("at least one resource kind is required")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case r.queue <- spec:
		return nil
	default:
		return ErrQueueFull
	}
}

func (r *Runner) worker(ctx context.Context, workerID int) {
	r.logger.Printf("runner worker %d started", workerID)
	for {
		select {
		case <-ctx.Done():
			r.logger.Printf("runner worker %d stopping", workerID)
			return
		case spec := <-r.queue:
			r.process(ctx, spec)
		}
	}
}

func (r *Runner) process(ctx context.Context, spec workflow.Spec) {
	if !r.waitLaunchSlot(ctx) {
		r.finish(spec, workflow.Result{
			TaskID:    spec.TaskID,
			ErrorKind: workflow.ErrorCancelled,
			Error:     context.Cause(ctx).Error(),
		}, 0)
		return
	}

	retryWait := backoff.NewExponentialBackOff()
	retryWait.InitialInterval = r.cfg.RetryBaseDelay
	retryWait.MaxInterval = r.cfg.RetryMaxDelay
	retryWait.MaxElapsedTime = 0

	attempt := 0
	for {
		attempt++
		result := r.driver.Run(ctx, spec)
		r.stats.Observe(result)

		if !r.shouldRetry(result, attempt) {
			r.finish(spec, result, attempt)
			return
		}

		delay := retryWait.NextBackOff()
		r.logger.Printf("task %s attempt %d found no free resource; retrying in %s", spec.TaskID, attempt, delay)
		select {
		case <-ctx.Done():
			r.finish(spec, result, attempt)
			return
		case <-time.After(delay):
		}
	}
}

// Only starvation is retried here: action errors and confirmation timeouts
// already consumed a real attempt against a resource and stay final.
func (r *Runner) shouldRetry(result workflow.Result, attempt int) bool {
	if result.Success {
		return false
	}
	if result.ErrorKind != workflow.ErrorResourceUnavailable {
		return false
	}
	return attempt <= r.cfg.MaxRetries
}

// waitLaunchSlot spaces task launches LaunchInterval apart across all
// workers. Returns false when ctx ended while waiting.
func (r *Runner) waitLaunchSlot(ctx context.Context) bool {
	if r.cfg.LaunchInterval <= 0 {
		return ctx.Err() == nil
	}

	for {
		r.launchMu.Lock()
		now := time.Now()
		next := r.lastLaunch.Add(r.cfg.LaunchInterval)
		if !now.Before(next) {
			r.lastLaunch = now
			r.launchMu.Unlock()
			return true
		}
		wait := next.Sub(now)
		r.launchMu.Unlock()

		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
	}
}

func (r *Runner) finish(spec workflow.Spec, result workflow.Result, attempt int) {
	// The task outcome must be recorded even when the worker context is
	// already gone.
	storeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := r.store.Finish(storeCtx, spec.TaskID, result, attempt); err != nil {
		r.logger.Printf("task %s result store failed: %v", spec.TaskID, err)
	}
	if result.Success {
		r.logger.Printf("task %s completed in %s using %v", spec.TaskID, result.Duration, result.ResourceIDs)
	} else {
		r.logger.Printf("task %s failed: kind=%s err=%s", spec.TaskID, result.ErrorKind, result.Error)
	}
}
