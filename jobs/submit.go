package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/facturio/facturio/internal/deliverynote"
	jobmetrics "github.com/facturio/facturio/internal/jobs"
)

// TaskSubmitDocument uploads one document to an external authority.
const TaskSubmitDocument = "einvoice:submit"

// SubmitPayload identifies the document and target provider.
type SubmitPayload struct {
	DocumentID string `json:"document_id"`
	Provider   string `json:"provider"`
}

// NewSubmitTask builds the upload task for a document.
func NewSubmitTask(documentID uuid.UUID, provider string) (*asynq.Task, error) {
	body, err := marshalPayload(SubmitPayload{DocumentID: documentID.String(), Provider: provider})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSubmitDocument, body, asynq.Queue(QueueSubmissions)), nil
}

// Outcome is the authority's answer to an upload.
type Outcome struct {
	CompanyID uuid.UUID
	Accepted  bool
	// UploadID is the authority's reference: the SPV upload index for
	// invoices, the UIT code for transport declarations.
	UploadID string
	Detail   string
}

// Submitter performs the actual wire exchange with the authority. The SPV
// and e-Transport protocols live behind this port.
type Submitter interface {
	Submit(ctx context.Context, documentID uuid.UUID, provider string) (Outcome, error)
}

// InvoiceReconciler records authority answers on invoices.
type InvoiceReconciler interface {
	MarkValidated(ctx context.Context, companyID, id uuid.UUID, uploadID string) error
	MarkRejected(ctx context.Context, companyID, id uuid.UUID, uploadID string) error
}

// TransportReconciler records declaration answers on delivery notes.
type TransportReconciler interface {
	MarkETransport(ctx context.Context, companyID, id uuid.UUID, status deliverynote.ETransportStatus, uitCode string) error
}

// SubmitJob consumes upload tasks and reconciles the answer onto the
// document.
type SubmitJob struct {
	Submitter Submitter
	Invoices  InvoiceReconciler
	Transport TransportReconciler
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewSubmitJob constructs the handler.
func NewSubmitJob(submitter Submitter, invoices InvoiceReconciler, transport TransportReconciler, logger *slog.Logger, metrics *jobmetrics.Metrics) *SubmitJob {
	return &SubmitJob{
		Submitter: submitter,
		Invoices:  invoices,
		Transport: transport,
		Logger:    logger,
		Metrics:   metrics,
	}
}

// Handle executes one upload. Transport failures return an error so asynq
// retries; authority rejections reconcile onto the document and complete the
// task.
func (j *SubmitJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Submitter == nil {
		return errors.New("submit: handler not configured")
	}
	var payload SubmitPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	documentID, err := uuid.Parse(payload.DocumentID)
	if err != nil {
		return asynq.SkipRetry
	}

	tracker := j.Metrics.Track(TaskSubmitDocument)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(
		slog.String("document_id", payload.DocumentID),
		slog.String("provider", payload.Provider),
	)

	outcome, err := j.Submitter.Submit(ctx, documentID, payload.Provider)
	if err != nil {
		resultErr = err
		logger.Error("submission failed", slog.Any("error", err))
		return resultErr
	}

	switch payload.Provider {
	case "etransport":
		resultErr = j.reconcileTransport(ctx, documentID, outcome)
	default:
		resultErr = j.reconcileInvoice(ctx, documentID, outcome)
	}
	if resultErr != nil {
		logger.Error("reconcile failed", slog.Any("error", resultErr))
		return resultErr
	}

	outcomeLabel := "accepted"
	if !outcome.Accepted {
		outcomeLabel = "rejected"
	}
	j.Metrics.AddDocuments(TaskSubmitDocument, outcomeLabel, 1)
	logger.Info("submission reconciled",
		slog.Bool("accepted", outcome.Accepted),
		slog.String("upload_id", outcome.UploadID))
	return nil
}

func (j *SubmitJob) reconcileInvoice(ctx context.Context, id uuid.UUID, o Outcome) error {
	if j.Invoices == nil {
		return errors.New("submit: invoice reconciler not configured")
	}
	if o.Accepted {
		return j.Invoices.MarkValidated(ctx, o.CompanyID, id, o.UploadID)
	}
	return j.Invoices.MarkRejected(ctx, o.CompanyID, id, o.UploadID)
}

func (j *SubmitJob) reconcileTransport(ctx context.Context, id uuid.UUID, o Outcome) error {
	if j.Transport == nil {
		return errors.New("submit: transport reconciler not configured")
	}
	if o.Accepted {
		return j.Transport.MarkETransport(ctx, o.CompanyID, id, deliverynote.ETransportOK, o.UploadID)
	}
	return j.Transport.MarkETransport(ctx, o.CompanyID, id, deliverynote.ETransportNOK, "")
}

func (j *SubmitJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
