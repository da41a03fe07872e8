package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/taskforge/orchestrator/internal/idempotency"
	"github.com/taskforge/orchestrator/internal/report"
	"github.com/taskforge/orchestrator/internal/resource"
	"github.com/taskforge/orchestrator/internal/runner"
	"github.com/taskforge/orchestrator/internal/workflow"
	"github.com/taskforge/orchestrator/pkg/httpx"
)

type createTaskRequest struct {
	Kinds            []string          `json:"kinds"`
	Payload          map[string]string `json:"payload,omitempty"`
	ConfirmMaxWaitMS int               `json:"confirm_max_wait_ms,omitempty"`
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listTasks(w, r)
	case http.MethodPost:
		s.submitTask(w, r)
	default:
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (s *Server) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	id := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/v1/tasks/"))
	if id == "" || strings.Contains(id, "/") {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_task_id", "task id is required")
		return
	}

	record, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, report.ErrNotFound) {
			httpx.WriteError(w, http.StatusNotFound, "not_found", "unknown task id")
			return
		}
		httpx.WriteError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	httpx.WriteJSON(w, http.StatusOK, record)
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_limit", "limit must be in 1..500")
			return
		}
		limit = parsed
	}

	records, err := s.store.List(r.Context(), limit)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"tasks": records})
}

func (s *Server) submitTask(w http.ResponseWriter, r *http.Request) {
	idemKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	owner := claimOwner(r)
	if idemKey != "" && s.idem != nil {
		if done := s.replayOrClaim(w, r, idemKey, owner); done {
			return
		}
	}

	var req createTaskRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		s.releaseClaim(r.Context(), idemKey, owner)
		httpx.WriteError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}

	kinds := make([]resource.Kind, 0, len(req.Kinds))
	for _, kind := range req.Kinds {
		kind = strings.TrimSpace(kind)
		if kind == "" {
			continue
		}
		kinds = append(kinds, resource.Kind(kind))
	}
	if len(kinds) == 0 {
		s.releaseClaim(r.Context(), idemKey, owner)
		httpx.WriteError(w, http.StatusBadRequest, "invalid_kinds", "at least one resource kind is required")
		return
	}

	spec := workflow.Spec{
		TaskID:  "task_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Kinds:   kinds,
		Payload: req.Payload,
	}
	if req.ConfirmMaxWaitMS > 0 {
		spec.ConfirmMaxWait = time.Duration(req.ConfirmMaxWaitMS) * time.Millisecond
	}

	kindStrings := make([]string, len(kinds))
	for i, kind := range kinds {
		kindStrings[i] = string(kind)
	}
	record, err := s.store.Create(r.Context(), report.Record{
		TaskID:  spec.TaskID,
		Kinds:   kindStrings,
		Payload: req.Payload,
	})
	if err != nil {
		s.releaseClaim(r.Context(), idemKey, owner)
		httpx.WriteError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}

	if err := s.runner.Enqueue(r.Context(), spec); err != nil {
		s.releaseClaim(r.Context(), idemKey, owner)
		s.failUnqueued(r.Context(), spec.TaskID, err)
		if errors.Is(err, runner.ErrQueueFull) {
			httpx.WriteError(w, http.StatusServiceUnavailable, "queue_full", "task queue is full, retry later")
			return
		}
		httpx.WriteError(w, http.StatusInternalServerError, "enqueue_failed", err.Error())
		return
	}

	s.respondAndRemember(w, r.Context(), idemKey, http.StatusAccepted, record)
}

// replayOrClaim serves a stored response for a repeated idempotency key, or
// claims the key for this request. True means the response was written.
func (s *Server) replayOrClaim(w http.ResponseWriter, r *http.Request, idemKey, owner string) bool {
	entry, found, err := s.idem.Get(r.Context(), idemKey)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "idempotency_error", err.Error())
		return true
	}
	if found {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(entry.StatusCode)
		_, _ = w.Write(entry.Body)
		return true
	}

	claimed, err := s.idem.Claim(r.Context(), idemKey, owner, s.idemLockTTL)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "idempotency_error", err.Error())
		return true
	}
	if !claimed {
		httpx.WriteError(w, http.StatusConflict, "request_in_flight", "a request with this idempotency key is already being processed")
		return true
	}
	return false
}

func (s *Server) respondAndRemember(w http.ResponseWriter, ctx context.Context, idemKey string, status int, value any) {
	body, err := json.Marshal(value)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "encode_error", err.Error())
		return
	}
	body = append(bytes.TrimRight(body, "\n"), '\n')

	if idemKey != "" && s.idem != nil {
		if err := s.idem.Save(ctx, idemKey, idempotency.Entry{StatusCode: status, Body: body}, s.idemTTL); err != nil {
			s.logger.Printf("idempotency save failed: %v", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// failUnqueued closes out a record whose task never made it onto the queue,
// so it does not sit pending forever.
func (s *Server) failUnqueued(ctx context.Context, taskID string, cause error) {
	result := workflow.Result{
		TaskID:    taskID,
		ErrorKind: workflow.ErrorInternalFault,
		Error:     cause.Error(),
	}
	if _, err := s.store.Finish(ctx, taskID, result, 0); err != nil {
		s.logger.Printf("task %s enqueue-failure record update failed: %v", taskID, err)
	}
}

func (s *Server) releaseClaim(ctx context.Context, idemKey, owner string) {
	if idemKey == "" || s.idem == nil {
		return
	}
	if err := s.idem.Release(ctx, idemKey, owner); err != nil {
		s.logger.Printf("idempotency release failed: %v", err)
	}
}

func claimOwner(r *http.Request) string {
	if addr := strings.TrimSpace(r.RemoteAddr); addr != "" {
		return addr
	}
	return "unknown"
}
