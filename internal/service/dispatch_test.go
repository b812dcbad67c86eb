package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/domain/agent"
	"github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/domain/task"
	"github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/port/messagequeue"
)

func newTestDispatcher(model *mockModel, queue *mockQueue) *Dispatcher {
	registry := agent.NewRegistry(agent.Builtin())
	runner := NewRunner(registry, model, 5*time.Second)
	return NewDispatcher(registry, runner, queue, 1, nil, 5*time.Minute)
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		base    time.Duration
		attempt int
		max     time.Duration
		want    time.Duration
	}{
		{3 * time.Second, 1, 5 * time.Minute, 3 * time.Second},
		{3 * time.Second, 2, 5 * time.Minute, 6 * time.Second},
		{3 * time.Second, 3, 5 * time.Minute, 12 * time.Second},
		{3 * time.Second, 3, 10 * time.Second, 10 * time.Second},
		{0, 4, 5 * time.Minute, 0},
	}

	for _, tt := range tests {
		if got := retryDelay(tt.base, tt.attempt, tt.max); got != tt.want {
			t.Errorf("retryDelay(%v, %d, %v) = %v, want %v", tt.base, tt.attempt, tt.max, got, tt.want)
		}
	}
}

func TestRetryDelayNeverDecreases(t *testing.T) {
	prev := time.Duration(0)
	for attempt := 1; attempt <= 10; attempt++ {
		d := retryDelay(2*time.Second, attempt, time.Minute)
		if d < prev {
			t.Fatalf("delay decreased at attempt %d: %v < %v", attempt, d, prev)
		}
		prev = d
	}
	if prev != time.Minute {
		t.Errorf("delay not capped: %v", prev)
	}
}

func TestHandleRetriesTransientUpToMaxAttempts(t *testing.T) {
	model := &mockModel{err: errors.New("upstream timeout")}
	queue := &mockQueue{}
	d := newTestDispatcher(model, queue)

	def := agent.NewRegistry(agent.Builtin()).Resolve(agent.Ingestion)
	if def.MaxAttempts != 2 {
		t.Fatalf("test assumes ingestion max attempts 2, got %d", def.MaxAttempts)
	}

	env := Envelope{Agent: agent.Ingestion, Request: task.Request{Tenant: okTenant(), RequestID: "req-1"}}
	subject := messagequeue.TaskSubject(def)

	// Delivery 1: transient failure with attempts left asks the broker
	// to redeliver after the agent's backoff.
	err := d.handle(context.Background(), subject, mustMarshal(t, env), 1)
	var retry *messagequeue.RetryAfterError
	if !errors.As(err, &retry) {
		t.Fatalf("handle returned %v, want redelivery request", err)
	}
	if retry.Delay != def.Backoff {
		t.Errorf("first retry delay = %v, want %v", retry.Delay, def.Backoff)
	}
	if len(queue.messages()) != 0 {
		t.Fatalf("published %d messages before the attempt ceiling", len(queue.messages()))
	}

	// Delivery 2 is the ceiling: the failure becomes terminal.
	if err := d.handle(context.Background(), subject, mustMarshal(t, env), 2); err != nil {
		t.Fatal(err)
	}

	msgs := queue.messages()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1 terminal result", len(msgs))
	}
	if msgs[0].subject != messagequeue.SubjectResults {
		t.Fatalf("terminal result published to %q", msgs[0].subject)
	}
	var term TerminalResult
	if err := json.Unmarshal(msgs[0].data, &term); err != nil {
		t.Fatal(err)
	}
	if term.Attempt != 2 {
		t.Errorf("terminal attempt = %d, want 2", term.Attempt)
	}
	if term.RequestID != "req-1" {
		t.Errorf("request id = %q", term.RequestID)
	}
	if term.Result.Classification != task.ClassSystemFault {
		t.Errorf("classification = %s", term.Result.Classification)
	}

	if model.callCount() != 2 {
		t.Errorf("model called %d times, want exactly 2", model.callCount())
	}
}

func TestHandleRetryDelayGrowsWithDelivery(t *testing.T) {
	model := &mockModel{err: errors.New("upstream timeout")}
	queue := &mockQueue{}
	d := newTestDispatcher(model, queue)

	def := agent.NewRegistry(agent.Builtin()).Resolve(agent.ClaimsAnalysis)
	if def.MaxAttempts != 3 {
		t.Fatalf("test assumes claims analysis max attempts 3, got %d", def.MaxAttempts)
	}

	env := Envelope{Agent: agent.ClaimsAnalysis, Request: task.Request{Tenant: okTenant()}}
	subject := messagequeue.TaskSubject(def)

	tests := []struct {
		delivery int
		want     time.Duration
	}{
		{1, def.Backoff},
		{2, 2 * def.Backoff},
	}
	for _, tt := range tests {
		err := d.handle(context.Background(), subject, mustMarshal(t, env), tt.delivery)
		var retry *messagequeue.RetryAfterError
		if !errors.As(err, &retry) {
			t.Fatalf("delivery %d returned %v, want redelivery request", tt.delivery, err)
		}
		if retry.Delay != tt.want {
			t.Errorf("delivery %d delay = %v, want %v", tt.delivery, retry.Delay, tt.want)
		}
	}
}

func TestHandleTerminalClassificationPublishesOnce(t *testing.T) {
	// org_context_error is terminal; one attempt, straight to results.
	model := &mockModel{}
	queue := &mockQueue{}
	d := newTestDispatcher(model, queue)

	def := agent.NewRegistry(agent.Builtin()).Resolve(agent.ClaimsAnalysis)
	env := Envelope{Agent: agent.ClaimsAnalysis, Request: task.Request{
		Tenant: task.TenantContext{Status: task.TenantNoMembership},
	}}

	if err := d.handle(context.Background(), messagequeue.TaskSubject(def), mustMarshal(t, env), 1); err != nil {
		t.Fatal(err)
	}

	msgs := queue.messages()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	if msgs[0].subject != messagequeue.SubjectResults {
		t.Fatalf("published to %q, want results subject", msgs[0].subject)
	}
	var term TerminalResult
	if err := json.Unmarshal(msgs[0].data, &term); err != nil {
		t.Fatal(err)
	}
	if term.Result.Classification != task.ClassOrgContext {
		t.Errorf("classification = %s", term.Result.Classification)
	}

	if model.callCount() != 0 {
		t.Errorf("model called %d times for invalid tenant", model.callCount())
	}
}

func TestHandleSuccessPublishesResult(t *testing.T) {
	queue := &mockQueue{}
	d := newTestDispatcher(&mockModel{}, queue)

	def := agent.NewRegistry(agent.Builtin()).Resolve(agent.ReportAssembly)
	env := Envelope{Agent: agent.ReportAssembly, Request: task.Request{Tenant: okTenant()}}

	if err := d.handle(context.Background(), messagequeue.TaskSubject(def), mustMarshal(t, env), 1); err != nil {
		t.Fatal(err)
	}

	msgs := queue.messages()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	var term TerminalResult
	if err := json.Unmarshal(msgs[0].data, &term); err != nil {
		t.Fatal(err)
	}
	if !term.Result.Success {
		t.Error("success result lost on the way to the results subject")
	}
}

func TestHandleReturnsErrorWhenResultPublishFails(t *testing.T) {
	queue := &mockQueue{pubErr: errors.New("nats connection closed")}
	d := newTestDispatcher(&mockModel{}, queue)

	def := agent.NewRegistry(agent.Builtin()).Resolve(agent.ReportAssembly)
	env := Envelope{Agent: agent.ReportAssembly, Request: task.Request{Tenant: okTenant()}}

	// The error surfaces to the queue adapter so the message is nacked
	// and the publish retried on redelivery instead of the result being
	// acked away.
	err := d.handle(context.Background(), messagequeue.TaskSubject(def), mustMarshal(t, env), 1)
	if err == nil {
		t.Fatal("handle acked a terminal result that was never published")
	}
	var retry *messagequeue.RetryAfterError
	if errors.As(err, &retry) {
		t.Fatal("publish failure misreported as a backoff retry")
	}
}

func TestHandleDropsPoisonPayload(t *testing.T) {
	model := &mockModel{}
	queue := &mockQueue{}
	d := newTestDispatcher(model, queue)

	if err := d.handle(context.Background(), "agents.tasks.ingestion", []byte("{not json"), 1); err != nil {
		t.Fatalf("poison payload must be dropped, got error %v", err)
	}
	if model.callCount() != 0 {
		t.Error("model called for poison payload")
	}
	if len(queue.messages()) != 0 {
		t.Error("poison payload was republished")
	}
}

func TestHandleDropsUnknownAgent(t *testing.T) {
	model := &mockModel{}
	queue := &mockQueue{}
	d := newTestDispatcher(model, queue)

	env := Envelope{Agent: agent.ID("ghost_agent"), Request: task.Request{Tenant: okTenant(), RequestID: "req-7"}}

	// A well-formed envelope naming an agent the registry does not know
	// is as unprocessable as malformed JSON: drop it, never panic the
	// worker into a redelivery loop.
	if err := d.handle(context.Background(), "agents.tasks.ghost", mustMarshal(t, env), 1); err != nil {
		t.Fatalf("unknown agent envelope must be dropped, got error %v", err)
	}
	if model.callCount() != 0 {
		t.Error("model called for unknown agent")
	}
	if len(queue.messages()) != 0 {
		t.Error("unknown agent envelope was republished")
	}
}

func TestEnqueuePublishesEnvelope(t *testing.T) {
	queue := &mockQueue{}
	d := newTestDispatcher(&mockModel{}, queue)

	req := task.Request{Tenant: okTenant(), RequestID: "req-9"}
	if err := d.Enqueue(context.Background(), agent.Ingestion, req); err != nil {
		t.Fatal(err)
	}

	msgs := queue.messages()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	if msgs[0].subject != "agents.tasks.ingestion" {
		t.Errorf("subject = %q", msgs[0].subject)
	}

	var env Envelope
	if err := json.Unmarshal(msgs[0].data, &env); err != nil {
		t.Fatal(err)
	}
	if env.Agent != agent.Ingestion {
		t.Errorf("agent = %q", env.Agent)
	}
	if env.Request.RequestID != "req-9" {
		t.Errorf("request id = %q", env.Request.RequestID)
	}
}
