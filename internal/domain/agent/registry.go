package agent

import (
	"fmt"
	"time"
)

// Registry is a read-only map from agent ID to Definition. It is built
// once at process start and injected into callers; there is no mutation
// API for the life of the process.
type Registry struct {
	defs map[ID]Definition
}

// NewRegistry builds a registry from the given definitions. It panics on
// duplicate IDs or invalid policies: a malformed catalog is a deployment
// error and the process must not come up with it.
func NewRegistry(defs []Definition) *Registry {
	m := make(map[ID]Definition, len(defs))
	for _, d := range defs {
		if d.ID == "" {
			panic("agent: definition with empty ID")
		}
		if _, dup := m[d.ID]; dup {
			panic(fmt.Sprintf("agent: duplicate definition for %q", d.ID))
		}
		if d.MaxAttempts < 1 {
			panic(fmt.Sprintf("agent: %q has max_attempts %d, must be >= 1", d.ID, d.MaxAttempts))
		}
		if d.Backoff < 0 {
			panic(fmt.Sprintf("agent: %q has negative backoff", d.ID))
		}
		if d.Queue == "" {
			panic(fmt.Sprintf("agent: %q has no queue", d.ID))
		}
		m[d.ID] = d
	}
	return &Registry{defs: m}
}

// Resolve returns the definition for id. An unknown id is a deployment
// or config mismatch, not a user-facing error, so Resolve panics.
func (r *Registry) Resolve(id ID) Definition {
	d, ok := r.defs[id]
	if !ok {
		panic(fmt.Sprintf("agent: unknown agent %q", id))
	}
	return d
}

// Known reports whether id has a definition. Callers validating
// untrusted input use this instead of Resolve.
func (r *Registry) Known(id ID) bool {
	_, ok := r.defs[id]
	return ok
}

// All returns the definitions in no particular order.
func (r *Registry) All() []Definition {
	out := make([]Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	return out
}

// Builtin returns the platform's agent catalog.
func Builtin() []Definition {
	return []Definition{
		{ID: Ingestion, Description: "Parses carrier documents and claim intake files", Queue: "ingestion", MaxAttempts: 2, Backoff: 3 * time.Second, AllowSync: false, PromptRef: "prompts/ingestion"},
		{ID: ClaimsAnalysis, Description: "Analyzes claim coverage and damage scope", Queue: "claims-analysis", MaxAttempts: 3, Backoff: 2 * time.Second, AllowSync: true, PromptRef: "prompts/claims-analysis"},
		{ID: RebuttalBuilder, Description: "Drafts rebuttals to carrier denials", Queue: "rebuttal-builder", MaxAttempts: 3, Backoff: 2 * time.Second, AllowSync: true, PromptRef: "prompts/rebuttal-builder"},
		{ID: BadFaithDetection, Description: "Flags bad-faith handling patterns", Queue: "bad-faith", MaxAttempts: 2, Backoff: 5 * time.Second, AllowSync: false, PromptRef: "prompts/bad-faith"},
		{ID: ReportAssembly, Description: "Assembles inspection and estimate reports", Queue: "report-assembly", MaxAttempts: 3, Backoff: 4 * time.Second, AllowSync: false, PromptRef: "prompts/report-assembly"},
		{ID: ProposalOptimization, Description: "Optimizes restoration proposals", Queue: "proposal-opt", MaxAttempts: 2, Backoff: 2 * time.Second, AllowSync: true, PromptRef: "prompts/proposal-opt"},
		{ID: TokenLedger, Description: "Summarizes token spend for an organization", Queue: "token-ledger", MaxAttempts: 2, Backoff: time.Second, AllowSync: true, PromptRef: "prompts/token-ledger"},
		{ID: DataQuality, Description: "Audits record completeness and consistency", Queue: "data-quality", MaxAttempts: 2, Backoff: 5 * time.Second, AllowSync: false, PromptRef: "prompts/data-quality"},
		{ID: SecurityCompliance, Description: "Reviews access and retention compliance", Queue: "security", MaxAttempts: 2, Backoff: 5 * time.Second, AllowSync: false, PromptRef: "prompts/security"},
		{ID: HealthMonitoring, Description: "Summarizes pipeline health signals", Queue: "health", MaxAttempts: 1, Backoff: 0, AllowSync: true, PromptRef: "prompts/health"},
		{ID: Notification, Description: "Drafts customer and adjuster notifications", Queue: "notification", MaxAttempts: 3, Backoff: time.Second, AllowSync: true, PromptRef: "prompts/notification"},
		{ID: CostGovernance, Description: "Flags anomalous spend per organization", Queue: "cost-governance", MaxAttempts: 2, Backoff: 3 * time.Second, AllowSync: false, PromptRef: "prompts/cost-governance"},
	}
}
