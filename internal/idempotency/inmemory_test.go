package idempotency

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestInMemoryStoreClaimThenSave(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	ok, err := store.Claim(ctx, "key-1", "req-a", time.Second)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !ok {
		t.Fatal("expected first claim to succeed")
	}

	ok, err = store.Claim(ctx, "key-1", "req-b", time.Second)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if ok {
		t.Fatal("expected concurrent claim to be denied")
	}

	entry := Entry{StatusCode: 202, Body: []byte(`{"task_id":"t-1"}`)}
	if err := store.Save(ctx, "key-1", entry, time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}

	stored, found, err := store.Get(ctx, "key-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !found {
		t.Fatal("expected stored entry")
	}
	if stored.StatusCode != 202 || !bytes.Equal(stored.Body, entry.Body) {
		t.Fatalf("stored %+v", stored)
	}

	// Save clears the claim; a new request may claim again (and will just
	// read the stored entry first).
	ok, err = store.Claim(ctx, "key-1", "req-c", time.Second)
	if err != nil || !ok {
		t.Fatalf("claim after save: ok=%v err=%v", ok, err)
	}
}

func TestInMemoryStoreReleaseRequiresOwner(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	if ok, _ := store.Claim(ctx, "key-2", "req-a", time.Minute); !ok {
		t.Fatal("claim failed")
	}

	// A stranger's release leaves the claim in place.
	if err := store.Release(ctx, "key-2", "req-b"); err != nil {
		t.Fatalf("foreign release: %v", err)
	}
	if ok, _ := store.Claim(ctx, "key-2", "req-c", time.Minute); ok {
		t.Fatal("claim should still be held")
	}

	if err := store.Release(ctx, "key-2", "req-a"); err != nil {
		t.Fatalf("owner release: %v", err)
	}
	if ok, _ := store.Claim(ctx, "key-2", "req-c", time.Minute); !ok {
		t.Fatal("claim should be free after owner release")
	}
}

func TestInMemoryStoreEntryExpires(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	if err := store.Save(ctx, "key-3", Entry{StatusCode: 202}, 20*time.Millisecond); err != nil {
		t.Fatalf("save: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	_, found, err := store.Get(ctx, "key-3")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if found {
		t.Fatal("expected entry to expire")
	}
}

func TestBlankKeyRejected(t *testing.T) {
	store := NewInMemoryStore()
	if _, _, err := store.Get(context.Background(), "  "); err == nil {
		t.Fatal("expected error for blank key")
	}
}
