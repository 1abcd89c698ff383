package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("fastsolver.engine")
	meter  = otel.Meter("fastsolver.engine")
)

// observer 任务级追踪、指标与日志
type observer struct {
	logger *slog.Logger

	metricsOnce  sync.Once
	taskLatency  metric.Float64Histogram
	taskTotal    metric.Int64Counter
	taskFailures metric.Int64Counter
	activeTasks  metric.Int64UpDownCounter
}

func newObserver(logger *slog.Logger) *observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &observer{logger: logger}
}

// initMetrics 延迟创建指标，失败时只记录日志
func (o *observer) initMetrics() {
	o.metricsOnce.Do(func() {
		var initErrors []string
		var err error
		o.taskLatency, err = meter.Float64Histogram("fastsolver_task_duration_seconds",
			metric.WithDescription("Time spent executing each engine task"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "task_latency: "+err.Error())
		}
		o.taskTotal, err = meter.Int64Counter("fastsolver_task_total",
			metric.WithDescription("Number of executed engine tasks"),
		)
		if err != nil {
			initErrors = append(initErrors, "task_total: "+err.Error())
		}
		o.taskFailures, err = meter.Int64Counter("fastsolver_task_failure_total",
			metric.WithDescription("Number of failed engine tasks"),
		)
		if err != nil {
			initErrors = append(initErrors, "task_failures: "+err.Error())
		}
		o.activeTasks, err = meter.Int64UpDownCounter("fastsolver_active_tasks",
			metric.WithDescription("Number of currently executing engine tasks"),
		)
		if err != nil {
			initErrors = append(initErrors, "active_tasks: "+err.Error())
		}
		if len(initErrors) > 0 {
			o.logger.Error("failed to initialize engine metrics",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
}

// run 执行任务并记录
func (o *observer) run(ctx context.Context, t Task) (any, error) {
	o.initMetrics()
	ctx, span := tracer.Start(ctx, t.Name,
		trace.WithAttributes(
			attribute.String("task.name", t.Name),
			attribute.Int("task.tag.begin", t.Tag.Begin),
			attribute.Int("task.tag.size", t.Tag.Size),
			attribute.Int("task.blocks", len(t.Requirements)),
		),
	)
	defer span.End()

	attrs := metric.WithAttributes(attribute.String("task", t.Name))
	if o.activeTasks != nil {
		o.activeTasks.Add(ctx, 1)
		defer o.activeTasks.Add(ctx, -1)
	}

	start := time.Now()
	v, err := t.Run(ctx)
	duration := time.Since(start)

	if o.taskLatency != nil {
		o.taskLatency.Record(ctx, duration.Seconds(), attrs)
	}
	if o.taskTotal != nil {
		o.taskTotal.Add(ctx, 1, attrs)
	}
	if err != nil {
		if o.taskFailures != nil {
			o.taskFailures.Add(ctx, 1, attrs)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.logger.Error("task failed",
			slog.String("task", t.Name),
			slog.String("tag", t.Tag.String()),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()),
		)
		return v, err
	}
	span.SetStatus(codes.Ok, "")
	return v, nil
}
