// Package task defines the task request/result types and the outcome
// classification set that drives retry and alerting decisions.
package task

import (
	"encoding/json"
	"time"

	"github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/domain/agent"
)

// TenantStatus is the resolution state of a request's tenant context.
type TenantStatus string

const (
	TenantUnauthenticated TenantStatus = "unauthenticated"
	TenantNoMembership    TenantStatus = "no_membership"
	TenantOK              TenantStatus = "ok"
	TenantError           TenantStatus = "error"
)

// TenantContext carries the resolved organization for a task. Any task
// whose status is not TenantOK must be rejected before it reaches
// billing or the queue.
type TenantContext struct {
	Status   TenantStatus `json:"status"`
	OrgID    string       `json:"org_id,omitempty"`
	UserID   string       `json:"user_id,omitempty"`
	PlanTier string       `json:"plan_tier,omitempty"`
}

// OutputKind is the caller-requested output format.
type OutputKind string

const (
	OutputMarkdown OutputKind = "markdown"
	OutputJSON     OutputKind = "json"
	OutputText     OutputKind = "text"
)

// OutputFormat instructs the runner how the model output should be shaped.
type OutputFormat struct {
	Kind OutputKind `json:"kind"`
	// Schema optionally names the expected structure for json output.
	Schema string `json:"schema,omitempty"`
}

// Request is one unit of agent work. Requests are ephemeral: created per
// invocation and never persisted by this core.
type Request struct {
	Tenant TenantContext `json:"tenant"`
	Input  string        `json:"input,omitempty"`

	// Structured context blobs assembled by the caller.
	Claims    []json.RawMessage `json:"claims,omitempty"`
	Leads     []json.RawMessage `json:"leads,omitempty"`
	Documents []json.RawMessage `json:"documents,omitempty"`
	Memories  []json.RawMessage `json:"memories,omitempty"`

	Format *OutputFormat `json:"format,omitempty"`

	// RequestID doubles as the billing idempotency key: a retried task
	// re-presents the same RequestID and is never charged twice.
	RequestID string `json:"request_id,omitempty"`
}

// Classification is the closed set of task outcomes. Downstream retry
// and alerting logic keys on this, never on raw error text.
type Classification string

const (
	ClassSuccess       Classification = "success"
	ClassUserError     Classification = "user_error"
	ClassTransient     Classification = "transient_error"
	ClassSystemFault   Classification = "system_fault"
	ClassOrgContext    Classification = "org_context_error"
	ClassRateLimit     Classification = "rate_limit_error"
	ClassCostViolation Classification = "cost_violation"
	ClassSchemaDrift   Classification = "schema_drift_detected"
)

// Retryable reports whether the dispatch layer may re-enqueue a task
// with this classification. Everything else is terminal.
func (c Classification) Retryable() bool {
	switch c {
	case ClassTransient, ClassSystemFault, ClassRateLimit:
		return true
	}
	return false
}

// TokenUsage is the model-call token breakdown for one attempt.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// MemoryUpdate is a model-suggested memory write for the caller to apply.
type MemoryUpdate struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Result is the uniform outcome of a task attempt. Success is true iff
// Classification is ClassSuccess.
type Result struct {
	Agent          agent.ID        `json:"agent"`
	Success        bool            `json:"success"`
	Classification Classification  `json:"classification"`
	Error          string          `json:"error,omitempty"`
	Output         string          `json:"output,omitempty"`
	Structured     json.RawMessage `json:"structured,omitempty"`
	Usage          *TokenUsage     `json:"usage,omitempty"`
	Assumptions    []string        `json:"assumptions,omitempty"`
	MemoryUpdates  []MemoryUpdate  `json:"memory_updates,omitempty"`
	CompletedAt    time.Time       `json:"completed_at"`
}

// Failure builds a failed Result with the given classification.
func Failure(id agent.ID, class Classification, msg string) Result {
	return Result{
		Agent:          id,
		Success:        false,
		Classification: class,
		Error:          msg,
		CompletedAt:    time.Now().UTC(),
	}
}
