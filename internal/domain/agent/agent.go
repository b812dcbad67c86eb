// Package agent defines the agent catalog: identifiers, execution
// policies, and the immutable registry resolved at process start.
package agent

import "time"

// ID identifies one of the platform's named agents. The set is closed:
// adding an agent means adding a registry entry (and, for queued agents,
// a queue) at deploy time.
type ID string

const (
	Ingestion            ID = "ingestion"
	ClaimsAnalysis       ID = "claims_analysis"
	RebuttalBuilder      ID = "rebuttal_builder"
	BadFaithDetection    ID = "bad_faith_detection"
	ReportAssembly       ID = "report_assembly"
	ProposalOptimization ID = "proposal_optimization"
	TokenLedger          ID = "token_ledger"
	DataQuality          ID = "data_quality"
	SecurityCompliance   ID = "security_compliance"
	HealthMonitoring     ID = "health_monitoring"
	Notification         ID = "notification"
	CostGovernance       ID = "cost_governance"
)

// Definition is an agent's execution policy. Definitions are created at
// deploy time and never mutated at runtime.
type Definition struct {
	ID          ID     `json:"id"`
	Description string `json:"description"`
	// Queue is the dispatch queue identifier for asynchronous execution.
	Queue string `json:"queue"`
	// MaxAttempts is the total attempt ceiling including the first run.
	MaxAttempts int `json:"max_attempts"`
	// Backoff is the base delay for exponential retry
	// (attempt n waits Backoff * 2^(n-1)).
	Backoff time.Duration `json:"backoff"`
	// AllowSync permits inline execution without queuing.
	AllowSync bool `json:"allow_sync"`
	// PromptRef names the prompt template; opaque to this core.
	PromptRef string `json:"prompt_ref"`
}
