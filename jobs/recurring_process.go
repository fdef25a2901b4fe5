package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/facturio/facturio/internal/jobs"
	"github.com/facturio/facturio/internal/shared"
)

// TaskRecurringProcess generates documents from due recurring templates.
const TaskRecurringProcess = "recurring:process"

// recurringBatchSize bounds the templates walked per run.
const recurringBatchSize = 500

// NewRecurringProcessTask builds the cron task.
func NewRecurringProcessTask() *asynq.Task {
	return asynq.NewTask(TaskRecurringProcess, nil, asynq.Queue(QueueDefault))
}

// TemplateProcessor is the slice of the recurring engine the job needs.
type TemplateProcessor interface {
	ProcessDue(ctx context.Context, now time.Time, limit int) (shared.BulkResult, error)
}

// RecurringProcessJob drives the recurring engine on its schedule.
type RecurringProcessJob struct {
	Engine  TemplateProcessor
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewRecurringProcessJob constructs the handler.
func NewRecurringProcessJob(engine TemplateProcessor, logger *slog.Logger, metrics *jobmetrics.Metrics) *RecurringProcessJob {
	return &RecurringProcessJob{
		Engine:  engine,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes one batch of due templates. Per-template failures stay in
// the result; the task itself fails only when the batch cannot be listed.
func (j *RecurringProcessJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Engine == nil {
		return errors.New("recurring process: handler not configured")
	}
	tracker := j.Metrics.Track(TaskRecurringProcess)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	res, err := j.Engine.ProcessDue(ctx, j.clock(), recurringBatchSize)
	if err != nil {
		resultErr = err
		return resultErr
	}

	j.Metrics.AddDocuments(TaskRecurringProcess, "generated", res.Succeeded)
	j.Metrics.AddDocuments(TaskRecurringProcess, "failed", len(res.Errors))
	for _, e := range res.Errors {
		j.logger().Error("template generation failed",
			slog.String("template_id", e.ID),
			slog.String("reason", e.Reason))
	}
	j.logger().Info("recurring templates processed",
		slog.Int("generated", res.Succeeded),
		slog.Int("failed", len(res.Errors)))
	return nil
}

func (j *RecurringProcessJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
