package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/taskforge/orchestrator/internal/workflow"
)

// HTTPConfirmation polls a confirmation endpoint. The endpoint answers
// {"confirmed": bool}; transport failures and non-2xx statuses map to the
// error leg of the tri-state and are retried by the orchestrator.
type HTTPConfirmation struct {
	httpClient *http.Client
	endpoint   string
}

func NewHTTPConfirmation(endpoint string, timeout time.Duration) *HTTPConfirmation {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPConfirmation{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   normalizeEndpoint(endpoint),
	}
}

type confirmationResponse struct {
	Confirmed bool `json:"confirmed"`
}

func (c *HTTPConfirmation) Poll(ctx context.Context, task workflow.TaskContext) (workflow.PollStatus, error) {
	if c.endpoint == "" {
		return workflow.PollError, fmt.Errorf("confirmation endpoint is not configured")
	}

	pollURL := c.endpoint + "?task_id=" + url.QueryEscape(task.TaskID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pollURL, nil)
	if err != nil {
		return workflow.PollError, fmt.Errorf("build confirmation request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return workflow.PollError, fmt.Errorf("confirmation request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return workflow.PollError, fmt.Errorf("confirmation returned %d", resp.StatusCode)
	}

	var parsed confirmationResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return workflow.PollError, fmt.Errorf("decode confirmation response: %w", err)
	}
	if parsed.Confirmed {
		return workflow.PollConfirmed, nil
	}
	return workflow.PollNotYet, nil
}
