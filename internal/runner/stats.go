package runner

import (
	"sync"
	"time"

	"github.com/taskforge/orchestrator/internal/workflow"
)

// Stats aggregates attempt counters across all workers.
type Stats struct {
	mu            sync.Mutex
	startedAt     time.Time
	attempts      int64
	successes     int64
	failures      int64
	byErrorKind   map[workflow.ErrorKind]int64
	totalDuration time.Duration
}

type Summary struct {
	Attempts          int64                        `json:"attempts"`
	Successes         int64                        `json:"successes"`
	Failures          int64                        `json:"failures"`
	SuccessRate       float64                      `json:"success_rate"`
	ByErrorKind       map[workflow.ErrorKind]int64 `json:"by_error_kind,omitempty"`
	AverageDurationMS int64                        `json:"average_duration_ms"`
	UptimeSeconds     float64                      `json:"uptime_seconds"`
	TasksPerHour      float64                      `json:"tasks_per_hour"`
}

func NewStats() *Stats {
	return &Stats{
		startedAt:   time.Now().UTC(),
		byErrorKind: make(map[workflow.ErrorKind]int64),
	}
}

func (s *Stats) Observe(result workflow.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts++
	s.totalDuration += result.Duration
	if result.Success {
		s.successes++
		return
	}
	s.failures++
	s.byErrorKind[result.ErrorKind]++
}

func (s *Stats) Snapshot() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary := Summary{
		Attempts:    s.attempts,
		Successes:   s.successes,
		Failures:    s.failures,
		ByErrorKind: make(map[workflow.ErrorKind]int64, len(s.byErrorKind)),
	}
	for kind, count := range s.byErrorKind {
		summary.ByErrorKind[kind] = count
	}

	if s.attempts > 0 {
		summary.SuccessRate = float64(s.successes) / float64(s.attempts)
		summary.AverageDurationMS = (s.totalDuration / time.Duration(s.attempts)).Milliseconds()
	}

	uptime := time.Since(s.startedAt)
	summary.UptimeSeconds = uptime.Seconds()
	if uptime > 0 {
		summary.TasksPerHour = float64(s.successes) / uptime.Hours()
	}
	return summary
}
