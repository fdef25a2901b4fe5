package convert

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/facturio/facturio/internal/platform/httpx"
	"github.com/facturio/facturio/internal/shared"
)

// Handler exposes document conversions over HTTP.
type Handler struct {
	pipeline *Pipeline
}

// NewHandler constructs a Handler.
func NewHandler(pipeline *Pipeline) *Handler {
	return &Handler{pipeline: pipeline}
}

// MountRoutes attaches conversion routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/proformas/{id}/invoice", h.proformaToInvoice)
	r.Post("/proformas/{id}/delivery-note", h.proformaToDeliveryNote)
	r.Post("/delivery-notes/{id}/invoice", h.deliveryNoteToInvoice)
	r.Post("/delivery-notes/invoice", h.bulkDeliveryNotesToInvoice)
	r.Post("/receipts/{id}/invoice", h.receiptToInvoice)
}

func requestScope(r *http.Request) (companyID, actorID uuid.UUID) {
	return shared.CompanyFromContext(r.Context()), shared.ActorFromContext(r.Context())
}

func parseID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, shared.NewValidation("id", "malformed uuid")
	}
	return id, nil
}

func (h *Handler) proformaToInvoice(w http.ResponseWriter, r *http.Request) {
	companyID, actorID := requestScope(r)
	id, err := parseID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.pipeline.ProformaToInvoice(r.Context(), companyID, actorID, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) proformaToDeliveryNote(w http.ResponseWriter, r *http.Request) {
	companyID, actorID := requestScope(r)
	id, err := parseID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	note, err := h.pipeline.ProformaToDeliveryNote(r.Context(), companyID, actorID, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, note)
}

func (h *Handler) deliveryNoteToInvoice(w http.ResponseWriter, r *http.Request) {
	companyID, actorID := requestScope(r)
	id, err := parseID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.pipeline.DeliveryNoteToInvoice(r.Context(), companyID, actorID, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

type bulkConvertRequest struct {
	NoteIDs []uuid.UUID `json:"noteIds"`
}

func (h *Handler) bulkDeliveryNotesToInvoice(w http.ResponseWriter, r *http.Request) {
	companyID, actorID := requestScope(r)
	var req bulkConvertRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.NewValidation("body", "malformed json"))
		return
	}
	inv, err := h.pipeline.BulkDeliveryNotesToInvoice(r.Context(), companyID, actorID, req.NoteIDs)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) receiptToInvoice(w http.ResponseWriter, r *http.Request) {
	companyID, actorID := requestScope(r)
	id, err := parseID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.pipeline.ReceiptToInvoice(r.Context(), companyID, actorID, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}
