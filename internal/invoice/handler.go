package invoice

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/facturio/facturio/internal/document"
	"github.com/facturio/facturio/internal/platform/httpx"
	"github.com/facturio/facturio/internal/shared"
)

var validate = validator.New()

// Handler exposes the invoice lifecycle over HTTP.
type Handler struct {
	service *Service
}

// NewHandler constructs a Handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// MountRoutes attaches invoice routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Post("/bulk/cancel", h.bulkCancel)
	r.Post("/bulk/delete", h.bulkDelete)
	r.Post("/bulk/storno", h.bulkStorno)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Put("/", h.update)
		r.Delete("/", h.remove)
		r.Get("/events", h.events)
		r.Post("/issue", h.issue)
		r.Post("/cancel", h.cancel)
		r.Post("/restore", h.restore)
		r.Post("/storno", h.storno)
		r.Post("/submit-anaf", h.submitANAF)
		r.Post("/submit-einvoice", h.submitEInvoice)
	})
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

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, shared.NewValidation("body", "malformed json"))
		return
	}
	in.IdempotencyKey = r.Header.Get("Idempotency-Key")
	companyID, actorID := requestScope(r)
	inv, err := h.service.Create(r.Context(), companyID, actorID, in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	companyID, _ := requestScope(r)
	q := r.URL.Query()
	page, perPage := shared.PageFromQuery(q)
	f := Filter{
		Status:    document.Status(q.Get("status")),
		Direction: Direction(q.Get("direction")),
		Number:    q.Get("number"),
		Page:      page,
		PerPage:   perPage,
	}
	if raw := q.Get("clientId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			httpx.RespondError(w, shared.NewValidation("clientId", "malformed uuid"))
			return
		}
		f.ClientID = id
	}
	items, pagination, err := h.service.List(r.Context(), companyID, f)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items, "pagination": pagination})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	companyID, _ := requestScope(r)
	id, err := parseID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.service.Get(r.Context(), companyID, id)
	if err != nil {
		httpx.RespondError(w, mapNotFound(err))
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	companyID, actorID := requestScope(r)
	id, err := parseID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in UpdateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, shared.NewValidation("body", "malformed json"))
		return
	}
	inv, err := h.service.Update(r.Context(), companyID, actorID, id, in)
	if err != nil {
		httpx.RespondError(w, mapNotFound(err))
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	companyID, actorID := requestScope(r)
	id, err := parseID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Delete(r.Context(), companyID, actorID, id); err != nil {
		httpx.RespondError(w, mapNotFound(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	companyID, _ := requestScope(r)
	id, err := parseID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	events, err := h.service.Events(r.Context(), companyID, id)
	if err != nil {
		httpx.RespondError(w, mapNotFound(err))
		return
	}
	httpx.JSON(w, http.StatusOK, events)
}

func (h *Handler) issue(w http.ResponseWriter, r *http.Request) {
	companyID, actorID := requestScope(r)
	id, err := parseID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.service.Issue(r.Context(), companyID, actorID, id)
	if err != nil {
		httpx.RespondError(w, mapNotFound(err))
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	companyID, actorID := requestScope(r)
	id, err := parseID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req cancelRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.NewValidation("body", "malformed json"))
		return
	}
	if err := validate.Struct(req); err != nil {
		httpx.RespondError(w, shared.NewValidation("reason", "required, at most 500 characters"))
		return
	}
	if err := h.service.Cancel(r.Context(), companyID, actorID, id, req.Reason); err != nil {
		httpx.RespondError(w, mapNotFound(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) restore(w http.ResponseWriter, r *http.Request) {
	companyID, actorID := requestScope(r)
	id, err := parseID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Restore(r.Context(), companyID, actorID, id); err != nil {
		httpx.RespondError(w, mapNotFound(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) storno(w http.ResponseWriter, r *http.Request) {
	companyID, actorID := requestScope(r)
	id, err := parseID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	refund, err := h.service.Storno(r.Context(), companyID, actorID, id)
	if err != nil {
		httpx.RespondError(w, mapNotFound(err))
		return
	}
	httpx.JSON(w, http.StatusCreated, refund)
}

func (h *Handler) submitANAF(w http.ResponseWriter, r *http.Request) {
	companyID, actorID := requestScope(r)
	id, err := parseID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.SubmitToANAF(r.Context(), companyID, actorID, id); err != nil {
		httpx.RespondError(w, mapNotFound(err))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type submitEInvoiceRequest struct {
	Provider string `json:"provider" validate:"omitempty,oneof=peppol anaf"`
}

func (h *Handler) submitEInvoice(w http.ResponseWriter, r *http.Request) {
	companyID, actorID := requestScope(r)
	id, err := parseID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req submitEInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.NewValidation("body", "malformed json"))
		return
	}
	if err := validate.Struct(req); err != nil {
		httpx.RespondError(w, shared.NewValidation("provider", "unknown provider"))
		return
	}
	if err := h.service.SubmitToEInvoice(r.Context(), companyID, actorID, id, req.Provider); err != nil {
		httpx.RespondError(w, mapNotFound(err))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type bulkRequest struct {
	IDs    []uuid.UUID `json:"ids" validate:"required,min=1,max=100"`
	Reason string      `json:"reason" validate:"max=500"`
}

func (h *Handler) bulkCancel(w http.ResponseWriter, r *http.Request) {
	companyID, actorID := requestScope(r)
	req, ok := decodeBulk(w, r)
	if !ok {
		return
	}
	res := h.service.BulkCancel(r.Context(), companyID, actorID, req.IDs, req.Reason)
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) bulkDelete(w http.ResponseWriter, r *http.Request) {
	companyID, actorID := requestScope(r)
	req, ok := decodeBulk(w, r)
	if !ok {
		return
	}
	res := h.service.BulkDelete(r.Context(), companyID, actorID, req.IDs)
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) bulkStorno(w http.ResponseWriter, r *http.Request) {
	companyID, actorID := requestScope(r)
	req, ok := decodeBulk(w, r)
	if !ok {
		return
	}
	res, err := h.service.BulkStorno(r.Context(), companyID, actorID, req.IDs)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func decodeBulk(w http.ResponseWriter, r *http.Request) (bulkRequest, bool) {
	var req bulkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.NewValidation("body", "malformed json"))
		return req, false
	}
	if err := validate.Struct(req); err != nil {
		httpx.RespondError(w, shared.NewValidation("ids", "between 1 and 100 ids per call"))
		return req, false
	}
	return req, true
}

func mapNotFound(err error) error {
	if err == ErrNotFound {
		return shared.ErrNotFound
	}
	return err
}
