package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/domain/agent"
	"github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/domain/billing"
	"github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/domain/task"
)

// Submission errors surfaced to producers before any work happens.
var (
	ErrUnknownAgent   = errors.New("unknown agent")
	ErrSyncNotAllowed = errors.New("agent does not allow inline execution")
	ErrTenantContext  = errors.New("tenant context not ok")
)

// Submission is one billable task submission.
type Submission struct {
	Agent   agent.ID
	Request task.Request
	// Cost is the token price of this submission, charged once at
	// clearance. Retries re-present the same request key and are never
	// charged again.
	Cost    int64
	ToolKey string
	Reason  string
}

// SubmitService is the front door for task execution: it validates the
// tenant, charges the wallet once, and then either runs the task inline
// or enqueues it. Sync and queued paths share the same runner, so
// validation and classification never diverge.
type SubmitService struct {
	registry   *agent.Registry
	runner     *Runner
	dispatcher *Dispatcher
	wallet     *WalletService
}

// NewSubmitService creates a submission facade.
func NewSubmitService(registry *agent.Registry, runner *Runner, dispatcher *Dispatcher, wallet *WalletService) *SubmitService {
	return &SubmitService{
		registry:   registry,
		runner:     runner,
		dispatcher: dispatcher,
		wallet:     wallet,
	}
}

// Run executes a task inline for an AllowSync agent. Billing denials and
// validation failures come back as classified results, never as panics
// or raw errors.
func (s *SubmitService) Run(ctx context.Context, sub Submission) task.Result {
	if !s.registry.Known(sub.Agent) {
		return task.Failure(sub.Agent, task.ClassUserError, ErrUnknownAgent.Error())
	}
	if sub.Request.Tenant.Status != task.TenantOK {
		return task.Failure(sub.Agent, task.ClassOrgContext,
			fmt.Sprintf("tenant context is %q", sub.Request.Tenant.Status))
	}
	if !s.registry.Resolve(sub.Agent).AllowSync {
		return task.Failure(sub.Agent, task.ClassUserError, ErrSyncNotAllowed.Error())
	}

	if err := s.clear(ctx, &sub); err != nil {
		return task.Failure(sub.Agent, task.ClassCostViolation, err.Error())
	}

	return s.runner.Execute(ctx, sub.Agent, sub.Request)
}

// Enqueue charges once and publishes the task for asynchronous
// execution. It returns the request ID producers can correlate the
// terminal result with.
func (s *SubmitService) Enqueue(ctx context.Context, sub Submission) (string, error) {
	if !s.registry.Known(sub.Agent) {
		return "", fmt.Errorf("%w: %q", ErrUnknownAgent, sub.Agent)
	}
	if sub.Request.Tenant.Status != task.TenantOK {
		return "", fmt.Errorf("%w: %q", ErrTenantContext, sub.Request.Tenant.Status)
	}

	if err := s.clear(ctx, &sub); err != nil {
		return "", err
	}

	if err := s.dispatcher.Enqueue(ctx, sub.Agent, sub.Request); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", sub.Agent, err)
	}
	return sub.Request.RequestID, nil
}

// clear charges the submission once, keyed by the request ID so a
// replayed submission (or a queue retry path re-entering) is a no-op.
func (s *SubmitService) clear(ctx context.Context, sub *Submission) error {
	if sub.Request.RequestID == "" {
		sub.Request.RequestID = uuid.NewString()
	}

	reason := sub.Reason
	if reason == "" {
		reason = "agent task"
	}

	_, err := s.wallet.Charge(ctx, billing.ChargeRequest{
		OrgID:      sub.Request.Tenant.OrgID,
		Cost:       sub.Cost,
		Route:      "agents/" + string(sub.Agent),
		Reason:     reason,
		ToolKey:    sub.ToolKey,
		UserID:     sub.Request.Tenant.UserID,
		RequestKey: sub.Request.RequestID,
	})
	return err
}
