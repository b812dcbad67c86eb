package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	otelad "github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/adapter/otel"
	"github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/domain/agent"
	"github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/domain/task"
	"github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/port/modelcall"
)

// Runner validates tenant context, invokes the model-call collaborator,
// and classifies the outcome. It holds no retry logic: retries belong to
// the dispatcher. Every failure becomes a classified task.Result; no
// error escapes Execute.
type Runner struct {
	registry *agent.Registry
	model    modelcall.Client
	timeout  time.Duration
	metrics  *otelad.Metrics
}

// NewRunner creates a task runner. timeout bounds a single model call;
// overruns classify as system faults.
func NewRunner(registry *agent.Registry, model modelcall.Client, timeout time.Duration) *Runner {
	return &Runner{registry: registry, model: model, timeout: timeout}
}

// SetMetrics attaches metric instruments to the runner.
func (r *Runner) SetMetrics(m *otelad.Metrics) {
	r.metrics = m
}

// Execute runs one attempt of a task for the given agent.
func (r *Runner) Execute(ctx context.Context, id agent.ID, req task.Request) task.Result {
	start := time.Now()
	ctx, span := otelad.StartTaskSpan(ctx, string(id), req.RequestID)
	defer span.End()

	// Validation short-circuit: no model call, no charge, no queue.
	if req.Tenant.Status != task.TenantOK {
		res := task.Failure(id, task.ClassOrgContext,
			fmt.Sprintf("tenant context is %q", req.Tenant.Status))
		span.SetStatus(codes.Error, res.Error)
		r.observe(res, start)
		return res
	}

	def := r.registry.Resolve(id)

	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	comp, err := r.model.Complete(cctx, buildPrompt(def, req))
	if err != nil {
		class := task.ClassSystemFault
		if errors.Is(err, modelcall.ErrRateLimited) {
			class = task.ClassRateLimit
		}
		res := task.Failure(id, class, err.Error())
		slog.Warn("model call failed", "agent", id, "classification", res.Classification, "error", err)
		span.SetAttributes(attribute.String("classification", string(res.Classification)))
		span.SetStatus(codes.Error, err.Error())
		r.observe(res, start)
		return res
	}

	res := task.Result{
		Agent:          id,
		Success:        true,
		Classification: task.ClassSuccess,
		Output:         comp.Text,
		Usage: &task.TokenUsage{
			Prompt:     comp.PromptTokens,
			Completion: comp.CompletionTokens,
			Total:      comp.TotalTokens,
		},
		CompletedAt: time.Now().UTC(),
	}

	if req.Format != nil && req.Format.Kind == task.OutputJSON {
		// Malformed JSON from the model is expected and non-fatal: the
		// structured field stays empty and the raw text stands.
		if structured, ok := parseStructured(comp.Text); ok {
			res.Structured = structured
			applyEnvelope(&res, structured)
		}
	}

	span.SetAttributes(attribute.String("classification", string(res.Classification)))
	r.observe(res, start)
	return res
}

// buildPrompt assembles the single structured payload from the agent's
// prompt reference and every context blob the caller provided.
func buildPrompt(def agent.Definition, req task.Request) modelcall.Prompt {
	p := modelcall.Prompt{
		System:    def.PromptRef,
		Input:     req.Input,
		Claims:    req.Claims,
		Leads:     req.Leads,
		Documents: req.Documents,
		Memories:  req.Memories,
	}
	if req.Format != nil {
		p.Format = string(req.Format.Kind)
		if req.Format.Schema != "" {
			p.Format += ":" + req.Format.Schema
		}
	}
	return p
}

// parseStructured extracts a JSON document from model output, tolerating
// markdown code fences around it.
func parseStructured(text string) (json.RawMessage, bool) {
	raw := bytes.TrimSpace([]byte(text))
	if bytes.HasPrefix(raw, []byte("```")) {
		if i := bytes.IndexByte(raw, '\n'); i >= 0 {
			raw = raw[i+1:]
		}
		raw = bytes.TrimSuffix(bytes.TrimSpace(raw), []byte("```"))
		raw = bytes.TrimSpace(raw)
	}
	if len(raw) == 0 || !json.Valid(raw) {
		return nil, false
	}
	return json.RawMessage(raw), true
}

// applyEnvelope lifts assumption and memory-update overrides out of a
// structured model response, when present.
func applyEnvelope(res *task.Result, structured json.RawMessage) {
	var env struct {
		Assumptions   []string            `json:"assumptions"`
		MemoryUpdates []task.MemoryUpdate `json:"memory_updates"`
	}
	if err := json.Unmarshal(structured, &env); err != nil {
		return
	}
	res.Assumptions = env.Assumptions
	res.MemoryUpdates = env.MemoryUpdates
}

func (r *Runner) observe(res task.Result, start time.Time) {
	if r.metrics == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("agent", string(res.Agent)),
		attribute.String("classification", string(res.Classification)),
	)
	r.metrics.TasksExecuted.Add(context.Background(), 1, attrs)
	r.metrics.TaskDuration.Record(context.Background(), time.Since(start).Seconds(), attrs)
}
