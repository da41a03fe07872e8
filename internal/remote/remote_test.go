package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/taskforge/orchestrator/internal/resource"
	"github.com/taskforge/orchestrator/internal/workflow"
)

func TestHTTPExecutorPerform(t *testing.T) {
	var received workflow.TaskContext
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method %s, want POST", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"detail":{"outcome":"applied"}}`))
	}))
	defer server.Close()

	executor := NewHTTPExecutor(server.URL, 5*time.Second)
	outcome, err := executor.Perform(context.Background(), workflow.TaskContext{
		TaskID:    "t-1",
		Resources: []resource.Resource{{ID: "egress-1", Kind: "egress", Address: "10.0.0.1:1080"}},
		Payload:   map[string]string{"target": "example"},
	})
	if err != nil {
		t.Fatalf("perform: %v", err)
	}
	if outcome.Detail["outcome"] != "applied" {
		t.Fatalf("detail %v", outcome.Detail)
	}
	if received.TaskID != "t-1" || len(received.Resources) != 1 {
		t.Fatalf("endpoint saw %#v", received)
	}
}

func TestHTTPExecutorNon2xxIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rejected", http.StatusBadGateway)
	}))
	defer server.Close()

	executor := NewHTTPExecutor(server.URL, 5*time.Second)
	if _, err := executor.Perform(context.Background(), workflow.TaskContext{TaskID: "t-2"}); err == nil {
		t.Fatal("expected error on 502")
	}
}

func TestHTTPConfirmationTriState(t *testing.T) {
	mode := "not_yet"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("task_id") != "t-3" {
			t.Errorf("missing task_id query, got %q", r.URL.RawQuery)
		}
		switch mode {
		case "confirmed":
			_, _ = w.Write([]byte(`{"confirmed":true}`))
		case "not_yet":
			_, _ = w.Write([]byte(`{"confirmed":false}`))
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	confirmation := NewHTTPConfirmation(server.URL, 5*time.Second)
	taskCtx := workflow.TaskContext{TaskID: "t-3"}

	status, err := confirmation.Poll(context.Background(), taskCtx)
	if err != nil || status != workflow.PollNotYet {
		t.Fatalf("not_yet leg: status=%v err=%v", status, err)
	}

	mode = "confirmed"
	status, err = confirmation.Poll(context.Background(), taskCtx)
	if err != nil || status != workflow.PollConfirmed {
		t.Fatalf("confirmed leg: status=%v err=%v", status, err)
	}

	mode = "error"
	status, err = confirmation.Poll(context.Background(), taskCtx)
	if err == nil || status != workflow.PollError {
		t.Fatalf("error leg: status=%v err=%v", status, err)
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	if got := normalizeEndpoint("example.internal:9000/act"); got != "http://example.internal:9000/act" {
		t.Fatalf("bare host: %q", got)
	}
	if got := normalizeEndpoint("https://example.internal/act"); got != "https://example.internal/act" {
		t.Fatalf("https kept: %q", got)
	}
	if got := normalizeEndpoint("  "); got != "" {
		t.Fatalf("blank: %q", got)
	}
}
