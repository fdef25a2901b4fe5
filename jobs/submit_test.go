package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/facturio/facturio/internal/anaf"
	"github.com/facturio/facturio/internal/deliverynote"
	"github.com/facturio/facturio/internal/invoice"
)

type fakeSubmitter struct {
	outcome Outcome
	err     error
	calls   int
}

func (f *fakeSubmitter) Submit(_ context.Context, _ uuid.UUID, _ string) (Outcome, error) {
	f.calls++
	return f.outcome, f.err
}

type fakeInvoiceReconciler struct {
	validated []string
	rejected  []string
}

func (f *fakeInvoiceReconciler) MarkValidated(_ context.Context, _, _ uuid.UUID, uploadID string) error {
	f.validated = append(f.validated, uploadID)
	return nil
}

func (f *fakeInvoiceReconciler) MarkRejected(_ context.Context, _, _ uuid.UUID, uploadID string) error {
	f.rejected = append(f.rejected, uploadID)
	return nil
}

type fakeTransportReconciler struct {
	statuses []deliverynote.ETransportStatus
	uitCodes []string
}

func (f *fakeTransportReconciler) MarkETransport(_ context.Context, _, _ uuid.UUID, status deliverynote.ETransportStatus, uitCode string) error {
	f.statuses = append(f.statuses, status)
	f.uitCodes = append(f.uitCodes, uitCode)
	return nil
}

func submitTask(t *testing.T, documentID uuid.UUID, provider string) *asynq.Task {
	t.Helper()
	task, err := NewSubmitTask(documentID, provider)
	require.NoError(t, err)
	return task
}

func TestSubmitReconcilesAcceptedInvoice(t *testing.T) {
	companyID := uuid.New()
	submitter := &fakeSubmitter{outcome: Outcome{CompanyID: companyID, Accepted: true, UploadID: "spv-42"}}
	invoices := &fakeInvoiceReconciler{}
	job := NewSubmitJob(submitter, invoices, &fakeTransportReconciler{}, nil, nil)

	err := job.Handle(context.Background(), submitTask(t, uuid.New(), "anaf"))
	require.NoError(t, err)
	require.Equal(t, []string{"spv-42"}, invoices.validated)
	require.Empty(t, invoices.rejected)
}

func TestSubmitReconcilesRejectionWithoutRetry(t *testing.T) {
	submitter := &fakeSubmitter{outcome: Outcome{CompanyID: uuid.New(), Accepted: false, UploadID: "spv-43"}}
	invoices := &fakeInvoiceReconciler{}
	job := NewSubmitJob(submitter, invoices, &fakeTransportReconciler{}, nil, nil)

	err := job.Handle(context.Background(), submitTask(t, uuid.New(), "anaf"))
	require.NoError(t, err, "a rejection is an answer, not a transport failure")
	require.Equal(t, []string{"spv-43"}, invoices.rejected)
}

func TestSubmitTransportErrorPropagatesForRetry(t *testing.T) {
	submitter := &fakeSubmitter{err: errors.New("bridge unreachable")}
	invoices := &fakeInvoiceReconciler{}
	job := NewSubmitJob(submitter, invoices, &fakeTransportReconciler{}, nil, nil)

	err := job.Handle(context.Background(), submitTask(t, uuid.New(), "anaf"))
	require.Error(t, err)
	require.Empty(t, invoices.validated)
	require.Empty(t, invoices.rejected)
}

func TestSubmitETransportRecordsUITCode(t *testing.T) {
	submitter := &fakeSubmitter{outcome: Outcome{CompanyID: uuid.New(), Accepted: true, UploadID: "UIT123"}}
	transport := &fakeTransportReconciler{}
	job := NewSubmitJob(submitter, &fakeInvoiceReconciler{}, transport, nil, nil)

	err := job.Handle(context.Background(), submitTask(t, uuid.New(), "etransport"))
	require.NoError(t, err)
	require.Equal(t, []deliverynote.ETransportStatus{deliverynote.ETransportOK}, transport.statuses)
	require.Equal(t, []string{"UIT123"}, transport.uitCodes)
}

func TestSubmitETransportRejectionClearsCode(t *testing.T) {
	submitter := &fakeSubmitter{outcome: Outcome{CompanyID: uuid.New(), Accepted: false}}
	transport := &fakeTransportReconciler{}
	job := NewSubmitJob(submitter, &fakeInvoiceReconciler{}, transport, nil, nil)

	err := job.Handle(context.Background(), submitTask(t, uuid.New(), "etransport"))
	require.NoError(t, err)
	require.Equal(t, []deliverynote.ETransportStatus{deliverynote.ETransportNOK}, transport.statuses)
	require.Equal(t, []string{""}, transport.uitCodes)
}

func TestSubmitMalformedPayloadSkipsRetry(t *testing.T) {
	job := NewSubmitJob(&fakeSubmitter{}, &fakeInvoiceReconciler{}, &fakeTransportReconciler{}, nil, nil)
	task := asynq.NewTask(TaskSubmitDocument, []byte("{broken"))
	err := job.Handle(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)
}

type fakeScheduledInvoices struct {
	due       []invoice.Invoice
	submitted []uuid.UUID
	failWith  map[uuid.UUID]error
}

func (f *fakeScheduledInvoices) ListScheduledForSubmission(_ context.Context, _ time.Time, _ int) ([]invoice.Invoice, error) {
	return f.due, nil
}

func (f *fakeScheduledInvoices) SubmitToANAF(_ context.Context, _, _ uuid.UUID, id uuid.UUID) error {
	if err, ok := f.failWith[id]; ok {
		return err
	}
	f.submitted = append(f.submitted, id)
	return nil
}

func TestScheduledSubmissionsAreBestEffort(t *testing.T) {
	ok := invoice.Invoice{}
	ok.ID = uuid.New()
	ok.CompanyID = uuid.New()
	noCredential := invoice.Invoice{}
	noCredential.ID = uuid.New()
	noCredential.CompanyID = uuid.New()

	invoices := &fakeScheduledInvoices{
		due:      []invoice.Invoice{noCredential, ok},
		failWith: map[uuid.UUID]error{noCredential.ID: anaf.ErrNoCredential},
	}
	job := NewScheduledSubmissionsJob(invoices, nil, nil)

	err := job.Handle(context.Background(), NewScheduledSubmissionsTask())
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{ok.ID}, invoices.submitted)
}
