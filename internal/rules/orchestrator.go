package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/openaudit/kestrel/internal/domain"
	"github.com/openaudit/kestrel/internal/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const maxTaskErrorLen = 200

// Orchestrator runs the registered detection rules over a bounded
// worker pool. One failing rule never aborts the others; the run
// summary carries per-rule outcomes.
type Orchestrator struct {
	rules   []Rule
	deps    *Deps
	workers int
	bus     domain.EventBus
	logger  *slog.Logger
}

// NewOrchestrator builds an orchestrator. workers <= 0 defaults to 6.
// The bus may be nil.
func NewOrchestrator(deps *Deps, ruleSet []Rule, workers int, bus domain.EventBus, logger *slog.Logger) *Orchestrator {
	if workers <= 0 {
		workers = 6
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		rules:   ruleSet,
		deps:    deps,
		workers: workers,
		bus:     bus,
		logger:  logger,
	}
}

// Rules returns the registered rule names in order.
func (o *Orchestrator) Rules() []string {
	names := make([]string, len(o.rules))
	for i, r := range o.rules {
		names[i] = r.Name()
	}
	return names
}

// RunAll runs every registered rule and returns the summary. Context
// cancellation stops dispatching new rules; rules already running
// finish and their alerts stand.
func (o *Orchestrator) RunAll(ctx context.Context) domain.RunSummary {
	summary := domain.RunSummary{
		RunID:     uuid.New().String(),
		StartedAt: time.Now().UTC(),
	}

	o.logger.Info("detection run started",
		"run_id", summary.RunID,
		"rules", len(o.rules),
		"workers", o.workers,
	)

	results := pool.Run(ctx, o.rules, o.workers, func(ctx context.Context, r Rule) (domain.DetectionTask, error) {
		return o.runRule(ctx, r), nil
	})

	for i, res := range results {
		task := res.Value
		if res.Err != nil {
			// Skipped by cancellation or a panic that escaped the
			// per-rule recovery. The task never left pending, so it
			// carries no start time.
			task = newTask(o.rules[i])
			task.Status = domain.TaskFailed
			task.Error = truncateError(res.Err.Error())
		}
		summary.Tasks = append(summary.Tasks, task)
		switch task.Status {
		case domain.TaskSuccess:
			summary.Succeeded++
			summary.TotalAlerts += task.AlertCount
		case domain.TaskFailed:
			summary.Failed++
		}
	}

	summary.FinishedAt = time.Now().UTC()

	o.logger.Info("detection run finished",
		"run_id", summary.RunID,
		"total_alerts", summary.TotalAlerts,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"duration", summary.FinishedAt.Sub(summary.StartedAt),
	)

	o.publishSummary(ctx, summary)
	return summary
}

// RunOne runs a single rule by name.
func (o *Orchestrator) RunOne(ctx context.Context, name string) (domain.RunSummary, error) {
	for _, r := range o.rules {
		if r.Name() == name {
			summary := domain.RunSummary{
				RunID:     uuid.New().String(),
				StartedAt: time.Now().UTC(),
			}
			task := o.runRule(ctx, r)
			summary.Tasks = []domain.DetectionTask{task}
			if task.Status == domain.TaskSuccess {
				summary.Succeeded = 1
				summary.TotalAlerts = task.AlertCount
			} else {
				summary.Failed = 1
			}
			summary.FinishedAt = time.Now().UTC()
			o.publishSummary(ctx, summary)
			return summary, nil
		}
	}
	return domain.RunSummary{}, fmt.Errorf("unknown rule: %s", name)
}

// newTask builds the pending task for a rule. Every task starts here;
// runRule moves it to running when the rule is dispatched.
func newTask(r Rule) domain.DetectionTask {
	return domain.DetectionTask{
		RuleName: r.Name(),
		Title:    r.Title(),
		Status:   domain.TaskPending,
	}
}

// runRule executes one rule with panic recovery, tracing, and timing.
func (o *Orchestrator) runRule(ctx context.Context, r Rule) (task domain.DetectionTask) {
	task = newTask(r)
	task.Status = domain.TaskRunning
	task.StartedAt = time.Now().UTC()

	tracer := otel.Tracer("kestrel-rules")
	ctx, span := tracer.Start(ctx, "rule."+r.Name())
	defer span.End()

	defer func() {
		if rec := recover(); rec != nil {
			task.Status = domain.TaskFailed
			task.Error = truncateError(fmt.Sprintf("panic: %v", rec))
			task.FinishedAt = time.Now().UTC()
			span.SetStatus(codes.Error, task.Error)
			o.logger.Error("rule panicked", "rule", r.Name(), "panic", rec)
		}
	}()

	count, err := r.Detect(ctx, o.deps)
	task.AlertCount = count
	task.FinishedAt = time.Now().UTC()
	span.SetAttributes(attribute.Int("alerts.created", count))

	if err != nil {
		task.Status = domain.TaskFailed
		task.Error = truncateError(err.Error())
		span.SetStatus(codes.Error, task.Error)
		o.logger.Error("rule failed",
			"rule", r.Name(),
			"error", err,
			"duration", task.Duration(),
		)
		return task
	}

	task.Status = domain.TaskSuccess
	o.logger.Info("rule finished",
		"rule", r.Name(),
		"alerts", count,
		"duration", task.Duration(),
	)
	return task
}

func (o *Orchestrator) publishSummary(ctx context.Context, summary domain.RunSummary) {
	if o.bus == nil {
		return
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		o.logger.Error("failed to marshal run summary", "run_id", summary.RunID, "error", err)
		return
	}
	if err := o.bus.Publish(ctx, domain.TopicRunCompleted, payload); err != nil {
		o.logger.Error("failed to publish run summary", "run_id", summary.RunID, "error", err)
	}
}

func truncateError(s string) string {
	if len(s) > maxTaskErrorLen {
		return s[:maxTaskErrorLen]
	}
	return s
}
