package report

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/taskforge/orchestrator/internal/workflow"
)

func TestInMemoryStoreLifecycle(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	created, err := store.Create(ctx, Record{
		TaskID:  "t-1",
		Kinds:   []string{"egress"},
		Payload: map[string]string{"target": "example"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.State != workflow.StatePending {
		t.Fatalf("state %s, want pending", created.State)
	}
	if created.CreatedAt.IsZero() {
		t.Fatal("expected created_at to be stamped")
	}

	updated, err := store.UpdateState(ctx, "t-1", workflow.StateProvisioning)
	if err != nil {
		t.Fatalf("update state: %v", err)
	}
	if updated.StartedAt.IsZero() {
		t.Fatal("expected started_at stamped on provisioning")
	}

	started := time.Now().UTC().Add(-time.Second)
	finished, err := store.Finish(ctx, "t-1", workflow.Result{
		TaskID:      "t-1",
		Success:     true,
		ResourceIDs: []string{"egress-1"},
		StartedAt:   started,
		CompletedAt: started.Add(900 * time.Millisecond),
		Duration:    900 * time.Millisecond,
	}, 1)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if finished.State != workflow.StateCompleted {
		t.Fatalf("state %s, want completed", finished.State)
	}
	if finished.DurationMS != 900 {
		t.Fatalf("duration_ms %d, want 900", finished.DurationMS)
	}

	// Terminal state does not regress when a late transition trickles in.
	regressed, err := store.UpdateState(ctx, "t-1", workflow.StateActing)
	if err != nil {
		t.Fatalf("late update: %v", err)
	}
	if regressed.State != workflow.StateCompleted {
		t.Fatalf("terminal state regressed to %s", regressed.State)
	}
}

func TestInMemoryStoreFailureRecord(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	if _, err := store.Create(ctx, Record{TaskID: "t-2", Kinds: []string{"egress"}}); err != nil {
		t.Fatalf("create: %v", err)
	}

	finished, err := store.Finish(ctx, "t-2", workflow.Result{
		TaskID:    "t-2",
		ErrorKind: workflow.ErrorConfirmationTimeout,
		Error:     "confirmation not observed within 30s",
	}, 3)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if finished.State != workflow.StateFailed {
		t.Fatalf("state %s, want failed", finished.State)
	}
	if finished.ErrorKind != workflow.ErrorConfirmationTimeout {
		t.Fatalf("error kind %s", finished.ErrorKind)
	}
	if finished.Attempt != 3 {
		t.Fatalf("attempt %d, want 3", finished.Attempt)
	}
}

func TestInMemoryStoreGetMissing(t *testing.T) {
	store := NewInMemoryStore()
	if _, err := store.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.Finish(context.Background(), "nope", workflow.Result{}, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInMemoryStoreListNewestFirst(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	base := time.Now().UTC()

	for i, id := range []string{"t-old", "t-mid", "t-new"} {
		_, err := store.Create(ctx, Record{
			TaskID:    id,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	records, err := store.List(ctx, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].TaskID != "t-new" || records[1].TaskID != "t-mid" {
		t.Fatalf("unexpected order: %s, %s", records[0].TaskID, records[1].TaskID)
	}
}
