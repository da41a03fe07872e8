package resource

import "time"

// Kind groups interchangeable resources. A task asks the pool for a kind,
// never for a specific resource.
type Kind string

type Resource struct {
	ID      string            `json:"id"`
	Kind    Kind              `json:"kind"`
	Address string            `json:"address"`
	Labels  map[string]string `json:"labels,omitempty"`
}

// Outcome is reported on release and drives the eviction counter.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	// OutcomeFatal evicts the resource immediately regardless of its
	// failure count.
	OutcomeFatal Outcome = "fatal"
)

// Status is a read-only view of one pooled resource, as exposed by Snapshot.
type Status struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	Address     string    `json:"address"`
	Borrowed    bool      `json:"borrowed"`
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"last_failure,omitempty"`
}
