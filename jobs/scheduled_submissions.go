package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/facturio/facturio/internal/anaf"
	"github.com/facturio/facturio/internal/invoice"
	jobmetrics "github.com/facturio/facturio/internal/jobs"
)

// TaskScheduledSubmissions drains invoices whose deferred submission time
// has passed. Runs inside the nightly upload window.
const TaskScheduledSubmissions = "efactura:submit-scheduled"

// scheduledBatchSize bounds one run; leftovers wait for the next tick.
const scheduledBatchSize = 200

// NewScheduledSubmissionsTask builds the cron task.
func NewScheduledSubmissionsTask() *asynq.Task {
	return asynq.NewTask(TaskScheduledSubmissions, nil, asynq.Queue(QueueDefault))
}

// ScheduledInvoices is the slice of the invoice service the job needs.
type ScheduledInvoices interface {
	ListScheduledForSubmission(ctx context.Context, now time.Time, limit int) ([]invoice.Invoice, error)
	SubmitToANAF(ctx context.Context, companyID, actorID, id uuid.UUID) error
}

// ScheduledSubmissionsJob pushes due invoices into the submission queue.
type ScheduledSubmissionsJob struct {
	Invoices ScheduledInvoices
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	clock    func() time.Time
}

// NewScheduledSubmissionsJob constructs the handler.
func NewScheduledSubmissionsJob(invoices ScheduledInvoices, logger *slog.Logger, metrics *jobmetrics.Metrics) *ScheduledSubmissionsJob {
	return &ScheduledSubmissionsJob{
		Invoices: invoices,
		Logger:   logger,
		Metrics:  metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle submits every due invoice. Best-effort per invoice: a company with
// an expired credential does not block the rest of the batch.
func (j *ScheduledSubmissionsJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Invoices == nil {
		return errors.New("scheduled submissions: handler not configured")
	}
	tracker := j.Metrics.Track(TaskScheduledSubmissions)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	now := j.clock()
	due, err := j.Invoices.ListScheduledForSubmission(ctx, now, scheduledBatchSize)
	if err != nil {
		resultErr = err
		return resultErr
	}

	submitted, skipped := 0, 0
	for i := range due {
		inv := &due[i]
		err := j.Invoices.SubmitToANAF(ctx, inv.CompanyID, uuid.Nil, inv.ID)
		switch {
		case err == nil:
			submitted++
		case errors.Is(err, anaf.ErrNoCredential):
			skipped++
			j.logger().Warn("scheduled submission skipped, no credential",
				slog.String("invoice_id", inv.ID.String()),
				slog.String("company_id", inv.CompanyID.String()))
		default:
			skipped++
			j.logger().Error("scheduled submission failed",
				slog.String("invoice_id", inv.ID.String()),
				slog.Any("error", err))
		}
	}

	j.Metrics.AddDocuments(TaskScheduledSubmissions, "submitted", submitted)
	j.Metrics.AddDocuments(TaskScheduledSubmissions, "skipped", skipped)
	j.logger().Info("scheduled submissions processed",
		slog.Int("due", len(due)),
		slog.Int("submitted", submitted),
		slog.Int("skipped", skipped))
	return nil
}

func (j *ScheduledSubmissionsJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
