package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/facturio/facturio/internal/jobs"
)

// TaskCleanupArchive purges soft-deleted documents past their company's
// retention period.
const TaskCleanupArchive = "documents:cleanup-archive"

// NewCleanupArchiveTask builds the cron task.
func NewCleanupArchiveTask() *asynq.Task {
	return asynq.NewTask(TaskCleanupArchive, nil, asynq.Queue(QueueDefault))
}

// CleanupArchiveJob hard-deletes documents whose soft-delete timestamp is
// older than the owning company's retention window. Line and event rows
// follow through cascading foreign keys.
type CleanupArchiveJob struct {
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewCleanupArchiveJob constructs the handler.
func NewCleanupArchiveJob(pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *CleanupArchiveJob {
	return &CleanupArchiveJob{
		Pool:    pool,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

var archiveTables = []string{"invoices", "proformas", "delivery_notes", "receipts"}

// Handle purges each document table in turn.
func (j *CleanupArchiveJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Pool == nil {
		return errors.New("cleanup archive: handler not configured")
	}
	tracker := j.Metrics.Track(TaskCleanupArchive)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	now := j.clock()
	purged := 0
	for _, table := range archiveTables {
		tag, err := j.Pool.Exec(ctx, `
			DELETE FROM `+table+` d
			USING companies c
			WHERE d.company_id = c.id
			  AND d.deleted_at IS NOT NULL
			  AND c.archive_retention_days > 0
			  AND d.deleted_at < $1 - make_interval(days => c.archive_retention_days)`, now)
		if err != nil {
			resultErr = err
			j.logger().Error("archive cleanup failed",
				slog.String("table", table),
				slog.Any("error", err))
			return resultErr
		}
		purged += int(tag.RowsAffected())
	}

	j.Metrics.AddDocuments(TaskCleanupArchive, "purged", purged)
	j.logger().Info("archive cleanup done", slog.Int("purged", purged))
	return nil
}

func (j *CleanupArchiveJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
