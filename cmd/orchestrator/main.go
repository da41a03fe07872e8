package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/taskforge/orchestrator/internal/api"
	"github.com/taskforge/orchestrator/internal/config"
	"github.com/taskforge/orchestrator/internal/idempotency"
	"github.com/taskforge/orchestrator/internal/lease"
	"github.com/taskforge/orchestrator/internal/remote"
	"github.com/taskforge/orchestrator/internal/report"
	"github.com/taskforge/orchestrator/internal/resource"
	"github.com/taskforge/orchestrator/internal/runner"
	"github.com/taskforge/orchestrator/internal/workflow"
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags|log.LUTC)
	if err := run(logger); err != nil {
		logger.Fatalf("orchestrator failed: %v", err)
	}
}

func run(logger *log.Logger) error {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
	}

	leases, idemStore := sharedStores(redisClient)

	store, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	pool, err := buildPool(cfg, leases, logger)
	if err != nil {
		return err
	}

	executor := remote.NewHTTPExecutor(cfg.ActionEndpoint, cfg.ActionTimeout)
	confirmation := remote.NewHTTPConfirmation(cfg.ConfirmEndpoint, cfg.ConfirmTimeout)

	events := api.NewBroadcaster()
	orchestrator := workflow.NewOrchestrator(pool, executor, confirmation, workflow.Config{
		ConfirmPollInterval: cfg.ConfirmPollInterval,
		ConfirmMaxWait:      cfg.ConfirmMaxWait,
	}, logger)
	orchestrator.OnTransition(func(taskID string, from, to workflow.State) {
		events.Transition(taskID, from, to)
		if _, err := store.UpdateState(context.Background(), taskID, to); err != nil {
			logger.Printf("task %s state update failed: %v", taskID, err)
		}
	})

	taskRunner := runner.New(orchestrator, store, runner.Config{
		QueueSize:      cfg.TaskQueueSize,
		Workers:        cfg.TaskWorkers,
		LaunchInterval: cfg.LaunchInterval,
		MaxRetries:     cfg.TaskMaxRetries,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
	}, logger)

	server := api.NewServer(store, taskRunner, pool, events, idemStore, api.Config{
		IdempotencyTTL:     cfg.IdempotencyTTL,
		IdempotencyLockTTL: cfg.IdempotencyLockTTL,
	}, logger)

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      server.Routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		taskRunner.Start(groupCtx)
		return nil
	})
	group.Go(func() error {
		logger.Printf("orchestrator listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.WriteTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

func sharedStores(redisClient *redis.Client) (lease.Manager, idempotency.Store) {
	if redisClient == nil {
		return nil, idempotency.NewInMemoryStore()
	}
	return lease.NewRedisManager(redisClient, ""), idempotency.NewRedisStore(redisClient, "")
}

func buildStore(ctx context.Context, cfg config.Config) (report.Store, func(), error) {
	if cfg.PostgresDSN == "" {
		return report.NewInMemoryStore(), func() {}, nil
	}
	store, err := report.NewPostgresStore(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres store: %w", err)
	}
	return store, store.Close, nil
}

func buildPool(cfg config.Config, leases lease.Manager, logger *log.Logger) (*resource.Pool, error) {
	pool := resource.NewPool(resource.Config{
		AcquireWaitTimeout:  cfg.AcquireWaitTimeout,
		AcquirePollInterval: cfg.AcquirePollInterval,
		EvictThreshold:      cfg.EvictThreshold,
		MaxPerKind:          cfg.MaxPerKind,
		LeaseTTL:            cfg.LeaseTTL,
		Owner:               "orchestrator-" + uuid.NewString()[:8],
	}, buildSpares(cfg), leases, logger)

	for kind, addresses := range cfg.PoolResources {
		for _, address := range addresses {
			err := pool.Add(resource.Resource{
				ID:      kind + "-" + uuid.NewString()[:8],
				Kind:    resource.Kind(kind),
				Address: address,
			})
			if err != nil {
				return nil, fmt.Errorf("seed pool %s: %w", kind, err)
			}
		}
		logger.Printf("pool seeded: kind=%s resources=%d", kind, len(addresses))
	}
	return pool, nil
}

func buildSpares(cfg config.Config) resource.Source {
	if len(cfg.PoolSpares) == 0 {
		return nil
	}
	spares := make(map[resource.Kind][]string, len(cfg.PoolSpares))
	for kind, addresses := range cfg.PoolSpares {
		spares[resource.Kind(kind)] = addresses
	}
	return resource.NewStaticSource(spares)
}
