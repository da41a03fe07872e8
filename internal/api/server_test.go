package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/taskforge/orchestrator/internal/idempotency"
	"github.com/taskforge/orchestrator/internal/report"
	"github.com/taskforge/orchestrator/internal/resource"
	"github.com/taskforge/orchestrator/internal/runner"
	"github.com/taskforge/orchestrator/internal/workflow"
)

type stubDriver struct{}

func (stubDriver) Run(_ context.Context, spec workflow.Spec) workflow.Result {
	return workflow.Result{TaskID: spec.TaskID, Success: true}
}

type testHarness struct {
	server *Server
	store  *report.InMemoryStore
	pool   *resource.Pool
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	store := report.NewInMemoryStore()
	pool := resource.NewPool(resource.Config{
		AcquireWaitTimeout:  50 * time.Millisecond,
		AcquirePollInterval: 5 * time.Millisecond,
	}, nil, nil, nil)
	if err := pool.Add(resource.Resource{ID: "egress-1", Kind: "egress", Address: "10.0.0.1:1080"}); err != nil {
		t.Fatalf("seed pool: %v", err)
	}

	taskRunner := runner.New(stubDriver{}, store, runner.Config{QueueSize: 4, Workers: 1}, nil)
	server := NewServer(store, taskRunner, pool, NewBroadcaster(), idempotency.NewInMemoryStore(), Config{}, nil)
	return &testHarness{server: server, store: store, pool: pool}
}

func (h *testHarness) do(t *testing.T, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	recorder := httptest.NewRecorder()
	h.server.Routes().ServeHTTP(recorder, req)
	return recorder
}

func TestSubmitTaskAccepted(t *testing.T) {
	h := newHarness(t)

	resp := h.do(t, http.MethodPost, "/v1/tasks", `{"kinds":["egress"],"payload":{"target":"example"}}`, nil)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("status %d body %s", resp.Code, resp.Body.String())
	}

	var record report.Record
	if err := json.Unmarshal(resp.Body.Bytes(), &record); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if record.TaskID == "" || record.State != workflow.StatePending {
		t.Fatalf("record %+v", record)
	}

	get := h.do(t, http.MethodGet, "/v1/tasks/"+record.TaskID, "", nil)
	if get.Code != http.StatusOK {
		t.Fatalf("get status %d", get.Code)
	}
}

func TestSubmitTaskValidation(t *testing.T) {
	h := newHarness(t)

	if resp := h.do(t, http.MethodPost, "/v1/tasks", `{"kinds":[]}`, nil); resp.Code != http.StatusBadRequest {
		t.Fatalf("empty kinds: %d", resp.Code)
	}
	if resp := h.do(t, http.MethodPost, "/v1/tasks", `{not json`, nil); resp.Code != http.StatusBadRequest {
		t.Fatalf("bad json: %d", resp.Code)
	}
}

func TestSubmitTaskIdempotentReplay(t *testing.T) {
	h := newHarness(t)
	header := http.Header{"Idempotency-Key": []string{"abc-123"}}

	first := h.do(t, http.MethodPost, "/v1/tasks", `{"kinds":["egress"]}`, header)
	if first.Code != http.StatusAccepted {
		t.Fatalf("first status %d", first.Code)
	}

	second := h.do(t, http.MethodPost, "/v1/tasks", `{"kinds":["egress"]}`, header)
	if second.Code != http.StatusAccepted {
		t.Fatalf("replay status %d", second.Code)
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("replay body differs:\n%s\n%s", first.Body.String(), second.Body.String())
	}

	records, err := h.store.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one task despite two submits, got %d", len(records))
	}
}

func TestSubmitTaskQueueFullFailsRecord(t *testing.T) {
	h := newHarness(t)

	// No worker is draining, so the queue (size 4) fills up.
	for i := 0; i < 4; i++ {
		if resp := h.do(t, http.MethodPost, "/v1/tasks", `{"kinds":["egress"]}`, nil); resp.Code != http.StatusAccepted {
			t.Fatalf("fill %d: status %d", i, resp.Code)
		}
	}

	resp := h.do(t, http.MethodPost, "/v1/tasks", `{"kinds":["egress"]}`, nil)
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("overflow status %d body %s", resp.Code, resp.Body.String())
	}

	// The rejected submission must not leave its record pending.
	records, err := h.store.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 5 {
		t.Fatalf("expected 5 records, got %d", len(records))
	}
	failed := 0
	for _, record := range records {
		if record.State == workflow.StateFailed {
			failed++
			if record.ErrorKind != workflow.ErrorInternalFault {
				t.Fatalf("rejected record error kind %q", record.ErrorKind)
			}
		}
	}
	if failed != 1 {
		t.Fatalf("expected exactly one failed record, got %d", failed)
	}
}

func TestTaskNotFound(t *testing.T) {
	h := newHarness(t)
	if resp := h.do(t, http.MethodGet, "/v1/tasks/task_missing", "", nil); resp.Code != http.StatusNotFound {
		t.Fatalf("status %d", resp.Code)
	}
}

func TestListTasksLimitValidation(t *testing.T) {
	h := newHarness(t)
	if resp := h.do(t, http.MethodGet, "/v1/tasks?limit=0", "", nil); resp.Code != http.StatusBadRequest {
		t.Fatalf("limit=0: %d", resp.Code)
	}
	if resp := h.do(t, http.MethodGet, "/v1/tasks?limit=10", "", nil); resp.Code != http.StatusOK {
		t.Fatalf("limit=10: %d", resp.Code)
	}
}

func TestHealthzReflectsPool(t *testing.T) {
	h := newHarness(t)

	if resp := h.do(t, http.MethodGet, "/healthz", "", nil); resp.Code != http.StatusOK {
		t.Fatalf("healthy pool: %d", resp.Code)
	}

	// Draining the only resource of a kind degrades health.
	h.pool.Remove("egress-1")
	if resp := h.do(t, http.MethodGet, "/healthz", "", nil); resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("degraded pool: %d", resp.Code)
	}
}

func TestPoolAndStatsEndpoints(t *testing.T) {
	h := newHarness(t)

	resp := h.do(t, http.MethodGet, "/v1/pool", "", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("pool status %d", resp.Code)
	}
	var poolBody struct {
		Healthy   bool              `json:"healthy"`
		Resources []resource.Status `json:"resources"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &poolBody); err != nil {
		t.Fatalf("decode pool: %v", err)
	}
	if !poolBody.Healthy || len(poolBody.Resources) != 1 {
		t.Fatalf("pool body %+v", poolBody)
	}

	stats := h.do(t, http.MethodGet, "/v1/stats", "", nil)
	if stats.Code != http.StatusOK {
		t.Fatalf("stats status %d", stats.Code)
	}
}

func TestBroadcasterDropsSlowSubscribers(t *testing.T) {
	events := NewBroadcaster()
	sub, cancel := events.Subscribe()
	defer cancel()

	for i := 0; i < 100; i++ {
		events.Transition("t-1", workflow.StatePending, workflow.StateProvisioning)
	}

	received := 0
	for {
		select {
		case <-sub:
			received++
			continue
		default:
		}
		break
	}
	if received == 0 || received > 64 {
		t.Fatalf("received %d events, want 1..64", received)
	}
	if events.SubscriberCount() != 1 {
		t.Fatalf("subscriber count %d", events.SubscriberCount())
	}
}
