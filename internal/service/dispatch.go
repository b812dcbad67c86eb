package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	otelad "github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/adapter/otel"
	"github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/domain/agent"
	"github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/domain/task"
	"github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/port/messagequeue"
)

// Envelope is the queue payload for one task. The attempt count is not
// part of the payload; the broker's delivery count is the attempt
// counter, so a retry survives a worker crash between attempts.
type Envelope struct {
	Agent   agent.ID     `json:"agent"`
	Request task.Request `json:"request"`
}

// TerminalResult is published on the results subject when a task will
// not be attempted again. Attempt records which delivery produced it.
type TerminalResult struct {
	RequestID string      `json:"request_id,omitempty"`
	Attempt   int         `json:"attempt"`
	Result    task.Result `json:"result"`
}

// Dispatcher owns the per-agent queues: it enqueues producer payloads,
// runs the worker pool, and applies each agent's retry/backoff policy to
// retryable classifications. Retries are delegated to the broker via
// delayed negative acknowledgement, so an in-flight backoff is not lost
// when a worker goes down. Terminal classifications are published to
// the results subject exactly once.
type Dispatcher struct {
	registry   *agent.Registry
	runner     *Runner
	queue      messagequeue.Queue
	workers    map[agent.ID]int
	defaultN   int
	maxBackoff time.Duration
	metrics    *otelad.Metrics

	cancels []func()
}

// NewDispatcher creates a dispatcher. workers overrides the default
// per-queue worker count for individual agents.
func NewDispatcher(registry *agent.Registry, runner *Runner, queue messagequeue.Queue, defaultWorkers int, workers map[agent.ID]int, maxBackoff time.Duration) *Dispatcher {
	if defaultWorkers < 1 {
		defaultWorkers = 1
	}
	return &Dispatcher{
		registry:   registry,
		runner:     runner,
		queue:      queue,
		workers:    workers,
		defaultN:   defaultWorkers,
		maxBackoff: maxBackoff,
	}
}

// SetMetrics attaches metric instruments to the dispatcher.
func (d *Dispatcher) SetMetrics(m *otelad.Metrics) {
	d.metrics = m
}

// Enqueue publishes a task for asynchronous execution. The producer gets
// only the enqueue acknowledgement; the result surfaces on the results
// subject.
func (d *Dispatcher) Enqueue(ctx context.Context, id agent.ID, req task.Request) error {
	def := d.registry.Resolve(id)
	return d.publish(ctx, def, Envelope{Agent: id, Request: req})
}

// Start subscribes the worker pool to every agent queue in the registry.
func (d *Dispatcher) Start(ctx context.Context) error {
	for _, def := range d.registry.All() {
		subject := messagequeue.TaskSubject(def)
		durable := "workers-" + def.Queue
		for range d.workerCount(def.ID) {
			cancel, err := d.queue.Subscribe(ctx, subject, durable, d.handle)
			if err != nil {
				d.Stop()
				return fmt.Errorf("subscribe %s: %w", subject, err)
			}
			d.cancels = append(d.cancels, cancel)
		}
		slog.Info("queue workers started", "agent", def.ID, "queue", def.Queue, "workers", d.workerCount(def.ID))
	}
	return nil
}

// Stop cancels all worker subscriptions.
func (d *Dispatcher) Stop() {
	for _, cancel := range d.cancels {
		cancel()
	}
	d.cancels = nil
}

func (d *Dispatcher) workerCount(id agent.ID) int {
	if n, ok := d.workers[id]; ok && n > 0 {
		return n
	}
	return d.defaultN
}

func (d *Dispatcher) handle(ctx context.Context, subject string, data []byte, delivery int) error {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		// Poison payload: nothing to retry, drop it.
		slog.Error("dropping malformed task payload", "subject", subject, "error", err)
		return nil
	}
	if !d.registry.Known(env.Agent) {
		// Same poison handling: no definition means no retry policy and
		// no worker that could ever run it.
		slog.Error("dropping task for unknown agent", "subject", subject, "agent", env.Agent)
		return nil
	}

	def := d.registry.Resolve(env.Agent)
	res := d.runner.Execute(ctx, env.Agent, env.Request)

	if res.Classification.Retryable() && delivery < def.MaxAttempts {
		delay := retryDelay(def.Backoff, delivery, d.maxBackoff)
		if d.metrics != nil {
			d.metrics.TaskRetries.Add(ctx, 1, metric.WithAttributes(
				attribute.String("agent", string(env.Agent))))
		}
		slog.Info("task scheduled for retry",
			"agent", env.Agent, "attempt", delivery+1, "max_attempts", def.MaxAttempts, "delay", delay)
		return messagequeue.RetryAfter(delay)
	}

	// A failed publish naks the message, so a later delivery reruns the
	// attempt. The runner's charges are keyed by request id and replay
	// as no-ops.
	return d.publishResult(ctx, env, delivery, res)
}

func (d *Dispatcher) publish(ctx context.Context, def agent.Definition, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return d.queue.Publish(ctx, messagequeue.TaskSubject(def), data)
}

func (d *Dispatcher) publishResult(ctx context.Context, env Envelope, attempt int, res task.Result) error {
	data, err := json.Marshal(TerminalResult{
		RequestID: env.Request.RequestID,
		Attempt:   attempt,
		Result:    res,
	})
	if err != nil {
		return fmt.Errorf("marshal terminal result: %w", err)
	}
	if err := d.queue.Publish(ctx, messagequeue.SubjectResults, data); err != nil {
		return fmt.Errorf("publish terminal result: %w", err)
	}
	return nil
}

// retryDelay computes Backoff * 2^(attempt-1), capped.
func retryDelay(base time.Duration, attempt int, maxDelay time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if maxDelay > 0 && delay >= maxDelay {
			return maxDelay
		}
	}
	if maxDelay > 0 && delay > maxDelay {
		return maxDelay
	}
	return delay
}
