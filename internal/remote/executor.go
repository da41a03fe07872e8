// Package remote holds the HTTP implementations of the workflow
// collaborators. The orchestrator only sees the interfaces; these adapters
// exist so the binary runs end to end against webhook-style endpoints.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/taskforge/orchestrator/internal/workflow"
)

const maxResponseBytes = 1 << 20

// HTTPExecutor POSTs the task context to a configured action endpoint and
// treats any 2xx as a performed action.
type HTTPExecutor struct {
	httpClient *http.Client
	endpoint   string
}

func NewHTTPExecutor(endpoint string, timeout time.Duration) *HTTPExecutor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPExecutor{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   normalizeEndpoint(endpoint),
	}
}

type actionResponse struct {
	Detail map[string]string `json:"detail,omitempty"`
}

func (e *HTTPExecutor) Perform(ctx context.Context, task workflow.TaskContext) (workflow.ActionOutcome, error) {
	if e.endpoint == "" {
		return workflow.ActionOutcome{}, fmt.Errorf("action endpoint is not configured")
	}

	raw, err := json.Marshal(task)
	if err != nil {
		return workflow.ActionOutcome{}, fmt.Errorf("marshal task context: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(raw))
	if err != nil {
		return workflow.ActionOutcome{}, fmt.Errorf("build action request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return workflow.ActionOutcome{}, fmt.Errorf("action request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return workflow.ActionOutcome{}, fmt.Errorf("action returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed actionResponse
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &parsed); err != nil {
			return workflow.ActionOutcome{}, fmt.Errorf("decode action response: %w", err)
		}
	}
	return workflow.ActionOutcome{Detail: parsed.Detail}, nil
}

func normalizeEndpoint(endpoint string) string {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
		return trimmed
	}
	return "http://" + trimmed
}
